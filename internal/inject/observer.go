package inject

import (
	"log/slog"
	"sync"

	"github.com/chaz8081/irk-enroll/internal/publish"
)

const observerQueueSize = 4

// Observer delivers each published IRK to a TextInjector. Injection runs on
// a worker goroutine so PublishState returns immediately.
type Observer struct {
	injector TextInjector
	queue    chan string
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

// Compile-time interface satisfaction check.
var _ publish.Observer = (*Observer)(nil)

// NewObserver creates an Observer backed by the given injector and starts
// its worker. Call Close to stop it.
// Panics if injector is nil (programmer error).
func NewObserver(injector TextInjector) *Observer {
	if injector == nil {
		panic("inject: NewObserver called with nil injector")
	}
	o := &Observer{
		injector: injector,
		queue:    make(chan string, observerQueueSize),
		done:     make(chan struct{}),
	}
	go o.run()
	return o
}

// PublishState queues state for injection. A full queue or a closed
// observer drops the value with a warning.
func (o *Observer) PublishState(state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		slog.Warn("[PUBLISH] injector closed, dropping latest IRK")
		return
	}
	select {
	case o.queue <- state:
	default:
		slog.Warn("[PUBLISH] injector busy, dropping latest IRK")
	}
}

// Close stops accepting values and waits for queued ones to be injected.
func (o *Observer) Close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()
	<-o.done
}

func (o *Observer) run() {
	defer close(o.done)
	for state := range o.queue {
		if err := o.injector.Inject(state); err != nil {
			slog.Warn("[PUBLISH] failed to inject latest IRK", "error", err)
		}
	}
}
