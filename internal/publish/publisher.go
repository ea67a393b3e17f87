// Package publish exposes the most recently enrolled IRK: it formats the
// key, retains it for later queries, persists it and notifies the registered
// observer.
package publish

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/irk-enroll/internal/irk"
	"github.com/chaz8081/irk-enroll/internal/irkstore"
)

// Observer receives the latest IRK as a canonical hex string.
type Observer interface {
	PublishState(state string)
}

// Restorer is implemented by observers that keep state. SetLatestIRK seeds
// them with the retained value through RestoreState instead of
// PublishState, so a value restored at startup never reaches outputs.
type Restorer interface {
	RestoreState(state string)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(state string)

// PublishState calls f(state).
func (f ObserverFunc) PublishState(state string) { f(state) }

// Persister stores the latest value across restarts. *irkstore.Store
// implements it.
type Persister interface {
	Save(rec irkstore.Record) error
	Load() (irkstore.Record, bool, error)
}

// Latest is the retained published value.
type Latest struct {
	Identity    irk.Identity
	Value       string
	Session     string
	PublishedAt time.Time
}

// Publisher holds the latest published IRK. It is safe for concurrent use:
// the engine publishes from its event loop while observers and the CLI read
// Latest from other goroutines.
type Publisher struct {
	persister Persister
	now       func() time.Time

	mu       sync.Mutex
	observer Observer
	latest   *Latest
}

// NewPublisher creates a Publisher. persister may be nil; when set, the
// previously persisted value is restored and becomes Latest.
func NewPublisher(persister Persister) *Publisher {
	p := &Publisher{persister: persister, now: time.Now}
	p.restore()
	return p
}

// SetLatestIRK registers the observer that receives published values,
// replacing any previous one. A retained value is handed to observers that
// implement Restorer; other observers only see later publishes. The
// publisher never closes or otherwise manages the observer. Passing nil
// unregisters it.
func (p *Publisher) SetLatestIRK(o Observer) {
	p.mu.Lock()
	p.observer = o
	var value string
	if p.latest != nil {
		value = p.latest.Value
	}
	p.mu.Unlock()

	if r, ok := o.(Restorer); ok && value != "" {
		r.RestoreState(value)
	}
}

// Publish formats id as lowercase hex, retains it as the latest value,
// persists it and notifies the observer. Publishing without an observer is
// not an error. Publishing the value that is already latest does not notify
// the observer again. It returns the formatted value.
func (p *Publisher) Publish(id irk.Identity, session string) string {
	value := id.Key.String()

	p.mu.Lock()
	unchanged := p.latest != nil && p.latest.Value == value
	latest := Latest{
		Identity:    id,
		Value:       value,
		Session:     session,
		PublishedAt: p.now(),
	}
	p.latest = &latest
	o := p.observer
	p.mu.Unlock()

	if p.persister != nil && !unchanged {
		rec := irkstore.Record{
			Key:         id.Key[:],
			Peer:        id.Peer.String(),
			Value:       value,
			Session:     session,
			PublishedAt: latest.PublishedAt,
		}
		if err := p.persister.Save(rec); err != nil {
			slog.Warn("[PUBLISH] failed to persist latest IRK", "error", err)
		}
	}

	if unchanged {
		slog.Info("[PUBLISH] latest IRK unchanged", "peer", id.Peer)
		return value
	}

	slog.Info("[PUBLISH] latest IRK", "peer", id.Peer, "session", session)
	if o != nil {
		o.PublishState(value)
	}
	return value
}

// Latest returns the retained value. ok is false until something has been
// published or restored.
func (p *Publisher) Latest() (latest Latest, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return Latest{}, false
	}
	return *p.latest, true
}

func (p *Publisher) restore() {
	if p.persister == nil {
		return
	}
	rec, ok, err := p.persister.Load()
	if err != nil {
		slog.Warn("[PUBLISH] could not restore latest IRK", "error", err)
		return
	}
	if !ok {
		return
	}

	key, err := irk.KeyFromBytes(rec.Key)
	if err != nil {
		slog.Warn("[PUBLISH] ignoring stored IRK", "error", err)
		return
	}
	peer, _ := irk.ParseAddress(rec.Peer)
	p.latest = &Latest{
		Identity:    irk.Identity{Key: key, Peer: peer},
		Value:       key.String(),
		Session:     rec.Session,
		PublishedAt: rec.PublishedAt,
	}
	slog.Info("[PUBLISH] restored latest IRK", "peer", rec.Peer, "published_at", rec.PublishedAt)
}
