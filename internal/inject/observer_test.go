package inject

import (
	"errors"
	"testing"
	"time"

	"github.com/chaz8081/irk-enroll/internal/publish"
)

// mockInjector records Inject calls.
type mockInjector struct {
	injected []string
	err      error
}

func (m *mockInjector) Inject(text string) error {
	m.injected = append(m.injected, text)
	return m.err
}

func TestObserverInjectsPublishedValue(t *testing.T) {
	mock := &mockInjector{}
	obs := NewObserver(mock)

	obs.PublishState("000102030405060708090a0b0c0d0e0f")
	obs.Close()
	if len(mock.injected) != 1 || mock.injected[0] != "000102030405060708090a0b0c0d0e0f" {
		t.Errorf("injected = %v, want the IRK", mock.injected)
	}
}

func TestObserverSwallowsInjectError(t *testing.T) {
	mock := &mockInjector{err: errors.New("no display")}
	obs := NewObserver(mock)

	// Must not panic
	obs.PublishState("00")
	obs.Close()
	if len(mock.injected) != 1 {
		t.Errorf("injected = %v, want one attempt", mock.injected)
	}
}

func TestObserverOnTextSensor(t *testing.T) {
	mock := &mockInjector{}
	sensor := publish.NewTextSensor("Latest IRK")
	obs := NewObserver(mock)
	sensor.OnValue(obs.PublishState)

	sensor.PublishState("ec0234a357c8ad05341010a60a397d9b")
	obs.Close()
	if len(mock.injected) != 1 || mock.injected[0] != "ec0234a357c8ad05341010a60a397d9b" {
		t.Errorf("injected = %v", mock.injected)
	}
}

// blockingInjector holds Inject until release is closed.
type blockingInjector struct {
	started chan struct{}
	release chan struct{}
	mockInjector
}

func (b *blockingInjector) Inject(text string) error {
	b.started <- struct{}{}
	<-b.release
	return b.mockInjector.Inject(text)
}

func TestObserverDoesNotBlockPublisher(t *testing.T) {
	inj := &blockingInjector{started: make(chan struct{}, 1), release: make(chan struct{})}
	obs := NewObserver(inj)

	returned := make(chan struct{})
	go func() {
		obs.PublishState("first")
		<-inj.started
		obs.PublishState("second")
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("PublishState blocked while injection was in progress")
	}

	close(inj.release)
	obs.Close()
	if len(inj.injected) != 2 || inj.injected[1] != "second" {
		t.Errorf("injected = %v, want both values in order", inj.injected)
	}
}

func TestObserverAfterCloseDrops(t *testing.T) {
	mock := &mockInjector{}
	obs := NewObserver(mock)
	obs.Close()
	obs.Close()

	obs.PublishState("late")
	if len(mock.injected) != 0 {
		t.Errorf("injected after Close: %v", mock.injected)
	}
}

func TestNewObserverNilPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewObserver(nil) should panic")
		}
	}()
	NewObserver(nil)
}

func TestInjectEmptyIsNoop(t *testing.T) {
	inj := NewInjector("type")
	if err := inj.Inject(""); err != nil {
		t.Errorf("Inject(\"\") error = %v", err)
	}
}

func TestPasteModifier(t *testing.T) {
	if got := pasteModifier("darwin"); got != "cmd" {
		t.Errorf("pasteModifier(darwin) = %q, want cmd", got)
	}
	if got := pasteModifier("linux"); got != "ctrl" {
		t.Errorf("pasteModifier(linux) = %q, want ctrl", got)
	}
}
