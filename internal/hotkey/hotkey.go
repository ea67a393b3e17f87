// Package hotkey provides a global hotkey listener using gohook.
// It supports "trigger" mode (each press requests a new enrollment) and
// "toggle" mode (a press starts enrollment, or cancels the running one).
package hotkey

import (
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType is the action requested by a hotkey press.
type EventType int

const (
	// EventEnroll requests a new enrollment session.
	EventEnroll EventType = iota
	// EventToggle starts a session when idle and cancels the active one
	// otherwise. Only the engine knows which applies.
	EventToggle
)

func (t EventType) String() string {
	switch t {
	case EventEnroll:
		return "enroll"
	case EventToggle:
		return "toggle"
	default:
		return "unknown"
	}
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Listener manages a global hotkey and emits enrollment events.
type Listener struct {
	keys []string
	mode string // "toggle" or "trigger"
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewListener creates a Listener for the given key combo and mode.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "i"]).
// mode must be "toggle" or "trigger".
func NewListener(keys []string, mode string) *Listener {
	return &Listener{
		keys: keys,
		mode: mode,
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when Stop is called.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// eventType maps the configured mode to the event each press emits.
func (l *Listener) eventType() EventType {
	if l.mode == "trigger" {
		return EventEnroll
	}
	return EventToggle
}

// emit delivers ev without blocking the hook goroutine.
func (l *Listener) emit(ev Event) {
	select {
	case l.ch <- ev:
	default: // don't block if channel is full
	}
}

// Start begins listening for the global hotkey.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	typ := l.eventType()
	hook.Register(hook.KeyDown, l.keys, func(e hook.Event) {
		l.emit(Event{Type: typ})
	})

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
