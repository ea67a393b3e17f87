package publish

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/chaz8081/irk-enroll/internal/irk"
	"github.com/chaz8081/irk-enroll/internal/irkstore"
)

func sequentialIdentity() irk.Identity {
	var k irk.Key
	for i := range k {
		k[i] = byte(i)
	}
	return irk.Identity{Key: k, Peer: irk.Address{0xF0, 0x99, 0xB6, 0x12, 0x34, 0x56}}
}

// memoryPersister records saves.
type memoryPersister struct {
	saved   []irkstore.Record
	loadRec irkstore.Record
	loadOK  bool
	loadErr error
	saveErr error
}

func (m *memoryPersister) Save(rec irkstore.Record) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, rec)
	return nil
}

func (m *memoryPersister) Load() (irkstore.Record, bool, error) {
	return m.loadRec, m.loadOK, m.loadErr
}

func TestPublishNotifiesObserver(t *testing.T) {
	p := NewPublisher(nil)
	var got []string
	p.SetLatestIRK(ObserverFunc(func(s string) { got = append(got, s) }))

	value := p.Publish(sequentialIdentity(), "session-1")

	want := "000102030405060708090a0b0c0d0e0f"
	if value != want {
		t.Errorf("Publish() = %q, want %q", value, want)
	}
	if len(got) != 1 || got[0] != want {
		t.Errorf("observer received %v, want [%s]", got, want)
	}
}

func TestPublishWithoutObserver(t *testing.T) {
	p := NewPublisher(nil)
	if _, ok := p.Latest(); ok {
		t.Fatal("Latest() should be empty before publishing")
	}

	p.Publish(sequentialIdentity(), "session-1")

	latest, ok := p.Latest()
	if !ok {
		t.Fatal("Latest() should retain the value without an observer")
	}
	if latest.Value != "000102030405060708090a0b0c0d0e0f" || latest.Session != "session-1" {
		t.Errorf("Latest() = %+v", latest)
	}
	if latest.PublishedAt.IsZero() {
		t.Error("PublishedAt should be set")
	}
}

func TestPublishUnchangedDoesNotRenotify(t *testing.T) {
	p := NewPublisher(nil)
	calls := 0
	p.SetLatestIRK(ObserverFunc(func(string) { calls++ }))

	p.Publish(sequentialIdentity(), "session-1")
	p.Publish(sequentialIdentity(), "session-2")
	if calls != 1 {
		t.Errorf("observer called %d times, want 1", calls)
	}

	other := sequentialIdentity()
	other.Key[0] = 0xFF
	p.Publish(other, "session-3")
	if calls != 2 {
		t.Errorf("observer called %d times after a new key, want 2", calls)
	}
	latest, _ := p.Latest()
	if latest.Identity.Key != other.Key {
		t.Errorf("Latest() = %s, want superseded by %s", latest.Identity.Key, other.Key)
	}
}

func TestSetLatestIRKDeliversRetained(t *testing.T) {
	p := NewPublisher(nil)
	p.Publish(sequentialIdentity(), "session-1")

	sensor := NewTextSensor("Latest IRK")
	p.SetLatestIRK(sensor)

	state, ok := sensor.State()
	if !ok || state != "000102030405060708090a0b0c0d0e0f" {
		t.Errorf("sensor state = %q (%v), want retained value", state, ok)
	}

	// Unregistering is allowed
	p.SetLatestIRK(nil)
	other := sequentialIdentity()
	other.Key[15] = 0xAA
	p.Publish(other, "session-2")
	if state, _ := sensor.State(); state != "000102030405060708090a0b0c0d0e0f" {
		t.Errorf("unregistered sensor received %q", state)
	}
}

func TestPublishPersists(t *testing.T) {
	m := &memoryPersister{}
	p := NewPublisher(m)

	p.Publish(sequentialIdentity(), "session-1")
	p.Publish(sequentialIdentity(), "session-2")

	if len(m.saved) != 1 {
		t.Fatalf("saved %d records, want 1", len(m.saved))
	}
	rec := m.saved[0]
	if rec.Value != "000102030405060708090a0b0c0d0e0f" || rec.Peer != "F0:99:B6:12:34:56" {
		t.Errorf("saved %+v", rec)
	}
}

func TestPublishPersistFailureStillPublishes(t *testing.T) {
	m := &memoryPersister{saveErr: errors.New("disk full")}
	p := NewPublisher(m)
	var got string
	p.SetLatestIRK(ObserverFunc(func(s string) { got = s }))

	p.Publish(sequentialIdentity(), "session-1")
	if got == "" {
		t.Error("observer should be notified even when persistence fails")
	}
	if _, ok := p.Latest(); !ok {
		t.Error("Latest() should be retained even when persistence fails")
	}
}

func TestRestoreFromPersister(t *testing.T) {
	id := sequentialIdentity()
	m := &memoryPersister{
		loadOK: true,
		loadRec: irkstore.Record{
			Key:     id.Key[:],
			Peer:    id.Peer.String(),
			Value:   id.Key.String(),
			Session: "old",
		},
	}
	p := NewPublisher(m)

	latest, ok := p.Latest()
	if !ok {
		t.Fatal("Latest() should be restored")
	}
	if latest.Identity != id || latest.Session != "old" {
		t.Errorf("restored %+v", latest)
	}
}

func TestRestoreIgnoresBadRecords(t *testing.T) {
	for name, m := range map[string]*memoryPersister{
		"load error": {loadErr: errors.New("corrupt")},
		"short key":  {loadOK: true, loadRec: irkstore.Record{Key: []byte{1, 2}}},
	} {
		t.Run(name, func(t *testing.T) {
			p := NewPublisher(m)
			if _, ok := p.Latest(); ok {
				t.Error("Latest() should be empty")
			}
		})
	}
}

func TestRestoredValueSeedsSensorWithoutCallbacks(t *testing.T) {
	id := sequentialIdentity()
	id.Key = irk.Key{0xAB}
	m := &memoryPersister{
		loadOK:  true,
		loadRec: irkstore.Record{Key: id.Key[:], Peer: id.Peer.String(), Session: "old"},
	}
	p := NewPublisher(m)

	var outputs []string
	sensor := NewTextSensor("Latest IRK")
	sensor.OnValue(func(v string) { outputs = append(outputs, v) })
	p.SetLatestIRK(sensor)

	if len(outputs) != 0 {
		t.Errorf("restored value reached outputs at registration: %v", outputs)
	}
	if state, ok := sensor.State(); !ok || state != "ab000000000000000000000000000000" {
		t.Errorf("sensor state = %q (%v), want restored value", state, ok)
	}

	p.Publish(sequentialIdentity(), "new")
	if len(outputs) != 1 || outputs[0] != "000102030405060708090a0b0c0d0e0f" {
		t.Errorf("outputs = %v, want only the new publish", outputs)
	}
}

func TestSetLatestIRKSkipsRetainedForPlainObserver(t *testing.T) {
	p := NewPublisher(nil)
	p.Publish(sequentialIdentity(), "session-1")

	var got []string
	p.SetLatestIRK(ObserverFunc(func(s string) { got = append(got, s) }))
	if len(got) != 0 {
		t.Errorf("plain observer received retained value %v", got)
	}
}

func TestPublisherWithSealedStore(t *testing.T) {
	dir := t.TempDir()
	store, err := irkstore.New(filepath.Join(dir, "latest_irk.bin"), []byte("secret"))
	if err != nil {
		t.Fatalf("irkstore.New() error = %v", err)
	}

	NewPublisher(store).Publish(sequentialIdentity(), "session-1")

	restarted := NewPublisher(store)
	latest, ok := restarted.Latest()
	if !ok {
		t.Fatal("Latest() should survive a restart")
	}
	if latest.Identity != sequentialIdentity() {
		t.Errorf("restored %v, want %v", latest.Identity, sequentialIdentity())
	}
}

func TestTextSensorCallbacks(t *testing.T) {
	s := NewTextSensor("Latest IRK")
	if _, ok := s.State(); ok {
		t.Fatal("new sensor should have no state")
	}

	var a, b []string
	s.OnValue(func(v string) { a = append(a, v) })
	s.OnValue(func(v string) { b = append(b, v) })

	s.PublishState("one")
	s.PublishState("two")

	if len(a) != 2 || len(b) != 2 || a[1] != "two" {
		t.Errorf("callbacks got a=%v b=%v", a, b)
	}
	if state, _ := s.State(); state != "two" {
		t.Errorf("State() = %q, want %q", state, "two")
	}
	if s.Name() != "Latest IRK" {
		t.Errorf("Name() = %q", s.Name())
	}
}
