package publish

import "sync"

// TextSensor is an Observer that keeps the last state it was given and
// forwards every new state to its on-value callbacks.
type TextSensor struct {
	name string

	mu        sync.Mutex
	state     string
	has       bool
	callbacks []func(string)
}

// Compile-time interface satisfaction check.
var (
	_ Observer = (*TextSensor)(nil)
	_ Restorer = (*TextSensor)(nil)
)

// NewTextSensor creates a sensor with a display name.
func NewTextSensor(name string) *TextSensor {
	return &TextSensor{name: name}
}

// Name returns the display name.
func (s *TextSensor) Name() string {
	return s.name
}

// OnValue adds a callback invoked with each new state.
func (s *TextSensor) OnValue(cb func(state string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// PublishState records state and runs the callbacks.
func (s *TextSensor) PublishState(state string) {
	s.mu.Lock()
	s.state = state
	s.has = true
	callbacks := make([]func(string), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(state)
	}
}

// RestoreState records state without running the callbacks.
func (s *TextSensor) RestoreState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.has = true
}

// State returns the last published state.
func (s *TextSensor) State() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.has
}
