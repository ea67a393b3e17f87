// Package enroll runs the enrollment state machine. A session advertises
// the peripheral, waits for a central to connect and pair, captures the IRK
// from the new bond and hands it to the publisher.
//
// All state is owned by a single event loop. BLE callbacks and user
// requests are posted as events and applied by Loop, so the engine needs no
// locks around its session.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/chaz8081/irk-enroll/internal/ble"
	"github.com/chaz8081/irk-enroll/internal/bond"
	"github.com/chaz8081/irk-enroll/internal/irk"
	"github.com/chaz8081/irk-enroll/internal/publish"
)

const (
	DefaultTimeout      = 60 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultBackoffMax   = 30 // seconds

	eventQueueSize = 64
)

// Radio is the peripheral side of a session. *ble.Advertiser implements it.
// StartAdvertising wraps ble.ErrRadioUnavailable when the radio refuses.
type Radio interface {
	Setup() error
	StartAdvertising() error
	StopAdvertising() error
	Disconnect(peer string) error
	OnConnected(cb func(peer string))
	OnDisconnected(cb func(peer string))
	OnPairing(cb func(peer string, ok bool))
}

// BondWatcher detects the bond created during a session. *bond.Watcher
// implements it.
type BondWatcher interface {
	Begin() error
	SetPeer(peer irk.Address)
	Poll() iter.Seq2[irk.Identity, error]
	Reset()
	Remove(addr irk.Address) error
}

// Options tunes the engine.
type Options struct {
	// Timeout bounds the time spent advertising or pairing.
	Timeout time.Duration
	// PollInterval is how often Run drives Loop.
	PollInterval time.Duration
	// RemoveBond deletes the session's bond once it ends so the same
	// central can enroll again.
	RemoveBond bool
	// AutoRestart starts a new session after each one ends.
	AutoRestart bool
	// BackoffMax caps the restart delay after consecutive failures, in
	// seconds.
	BackoffMax int
	// OnChange is called from the event loop after every state change.
	OnChange func(Session)
}

type eventKind int

const (
	evConnected eventKind = iota
	evDisconnected
	evPairing
	evStart
	evCancel
	evToggle
)

type event struct {
	kind eventKind
	peer string
	ok   bool
}

// Engine coordinates one enrollment session at a time.
type Engine struct {
	radio     Radio
	watcher   BondWatcher
	publisher *publish.Publisher
	opts      Options
	now       func() time.Time

	events chan event

	session     *Session
	peerConn    string // peer as reported by the radio, used to disconnect
	deadline    time.Time
	failures    int
	restartAt   time.Time
	autoRestart bool
}

// New creates an Engine. Zero option fields take their defaults.
func New(radio Radio, watcher BondWatcher, publisher *publish.Publisher, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = DefaultBackoffMax
	}
	return &Engine{
		radio:       radio,
		watcher:     watcher,
		publisher:   publisher,
		opts:        opts,
		now:         time.Now,
		events:      make(chan event, eventQueueSize),
		autoRestart: opts.AutoRestart,
	}
}

// Setup registers the radio callbacks and prepares the peripheral.
func (e *Engine) Setup() error {
	e.radio.OnConnected(func(peer string) { e.post(event{kind: evConnected, peer: peer}) })
	e.radio.OnDisconnected(func(peer string) { e.post(event{kind: evDisconnected, peer: peer}) })
	e.radio.OnPairing(func(peer string, ok bool) { e.post(event{kind: evPairing, peer: peer, ok: ok}) })

	if err := e.radio.Setup(); err != nil {
		return fmt.Errorf("enroll: setup: %w", err)
	}
	return nil
}

// RequestStart asks the loop to start a session. Safe from any goroutine.
func (e *Engine) RequestStart() { e.post(event{kind: evStart}) }

// RequestCancel asks the loop to cancel the active session. Safe from any
// goroutine.
func (e *Engine) RequestCancel() { e.post(event{kind: evCancel}) }

// RequestToggle cancels the active session, or starts one when none is
// active. Safe from any goroutine.
func (e *Engine) RequestToggle() { e.post(event{kind: evToggle}) }

func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	default:
		slog.Warn("[ENROLL] event queue full, dropping event", "kind", ev.kind, "peer", ev.peer)
	}
}

// Session returns a copy of the current session. ok is false when idle.
// Call it from the loop goroutine.
func (e *Engine) Session() (s Session, ok bool) {
	if e.session == nil {
		return Session{State: Idle}, false
	}
	return e.session.snapshot(), true
}

// State returns the current state.
func (e *Engine) State() State {
	if e.session == nil {
		return Idle
	}
	return e.session.State
}

// StartEnrollment begins a new session: it snapshots the bond store and
// starts advertising. It fails with ErrSessionActive while a session is in
// progress, and with ble.ErrRadioUnavailable when the radio refuses; in that
// case no session remains.
func (e *Engine) StartEnrollment() (Session, error) {
	if e.session != nil && e.session.State.Active() {
		return e.session.snapshot(), ErrSessionActive
	}

	s := newSession(e.now())
	if err := e.watcher.Begin(); err != nil {
		return Session{}, fmt.Errorf("enroll: start: %w", err)
	}
	if err := e.radio.StartAdvertising(); err != nil {
		e.watcher.Reset()
		return Session{}, fmt.Errorf("enroll: start: %w", err)
	}
	if err := s.transition(Advertising); err != nil {
		return Session{}, err
	}
	e.session = s
	e.deadline = e.now().Add(e.opts.Timeout)

	slog.Info("[ENROLL] session started", "session", s.ID, "timeout", e.opts.Timeout)
	e.changed()
	return s.snapshot(), nil
}

// Cancel ends the active session as Cancelled. Cancelling with no active
// session is a no-op.
func (e *Engine) Cancel() {
	if e.session == nil || !e.session.State.Active() {
		return
	}
	slog.Info("[ENROLL] session cancelled", "session", e.session.ID, "state", e.session.State)
	e.finish(Cancelled, nil)
}

// Reset clears a finished session and returns the engine to Idle. It fails
// with ErrSessionActive while a session is in progress.
func (e *Engine) Reset() error {
	if e.session != nil && e.session.State.Active() {
		return ErrSessionActive
	}
	e.session = nil
	e.watcher.Reset()
	return nil
}

// Loop applies pending events, enforces the timeout, polls for the bond and
// restarts finished sessions when configured to. It never blocks. An error
// is returned only when a requested or automatic start finds the radio
// unavailable; the automatic case also disables further restarts.
func (e *Engine) Loop() error {
	var startErr error
drain:
	for {
		select {
		case ev := <-e.events:
			if err := e.handle(ev); err != nil && startErr == nil {
				startErr = err
			}
		default:
			break drain
		}
	}
	if startErr != nil {
		return startErr
	}

	if e.session != nil && e.session.State.Active() && !e.deadline.IsZero() && !e.now().Before(e.deadline) {
		slog.Warn("[ENROLL] session timed out", "session", e.session.ID, "state", e.session.State)
		e.finish(Cancelled, nil)
	}

	if e.State() == Pairing {
		e.poll()
	}

	return e.maybeRestart()
}

// Run drives Loop until ctx is done. An active session is cancelled on the
// way out.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	if err := e.Loop(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			e.Cancel()
			return nil
		case ev := <-e.events:
			if err := e.handle(ev); err != nil {
				e.Cancel()
				return err
			}
		case <-ticker.C:
		}
		if err := e.Loop(); err != nil {
			e.Cancel()
			return err
		}
	}
}

// handle applies one event. It returns an error only for a requested start
// that found the radio unavailable.
func (e *Engine) handle(ev event) error {
	switch ev.kind {
	case evStart:
		return e.requestedStart()
	case evCancel:
		e.Cancel()
	case evToggle:
		if e.State().Active() {
			e.Cancel()
			return nil
		}
		return e.requestedStart()
	case evConnected:
		e.handleConnected(ev.peer)
	case evDisconnected:
		e.handleDisconnected(ev.peer)
	case evPairing:
		e.handlePairing(ev.peer, ev.ok)
	}
	return nil
}

func (e *Engine) requestedStart() error {
	_, err := e.StartEnrollment()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSessionActive):
		slog.Info("[ENROLL] session already in progress", "session", e.session.ID)
		return nil
	case errors.Is(err, ble.ErrRadioUnavailable):
		slog.Error("[ENROLL] cannot start session, radio unavailable", "error", err)
		return err
	default:
		slog.Error("[ENROLL] cannot start session", "error", err)
		return nil
	}
}

func (e *Engine) handleConnected(peer string) {
	if e.State() != Advertising {
		slog.Debug("[ENROLL] ignoring connection outside advertising", "peer", peer, "state", e.State())
		return
	}
	addr, err := irk.ParseAddress(peer)
	if err != nil {
		slog.Warn("[ENROLL] ignoring connection from unparseable address", "peer", peer, "error", err)
		return
	}

	e.session.Peer = addr
	e.peerConn = peer
	e.mustTransition(Pairing)
	e.watcher.SetPeer(addr)
	e.deadline = e.now().Add(e.opts.Timeout)

	slog.Info("[ENROLL] central connected, waiting for bond", "session", e.session.ID, "peer", addr)
	e.changed()
}

func (e *Engine) handleDisconnected(peer string) {
	if e.State() != Pairing || !e.isPeer(peer) {
		return
	}

	// The bond may have landed just before the link dropped.
	e.poll()
	if e.State() != Pairing {
		return
	}

	slog.Info("[ENROLL] central disconnected before bonding, advertising again", "session", e.session.ID, "peer", peer)
	e.session.Peer = irk.Address{}
	e.peerConn = ""
	e.watcher.SetPeer(irk.Address{})
	e.mustTransition(Advertising)
	if err := e.radio.StartAdvertising(); err != nil {
		e.finish(Failed, fmt.Errorf("enroll: resume advertising: %w", err))
		return
	}
	e.deadline = e.now().Add(e.opts.Timeout)
	e.changed()
}

func (e *Engine) handlePairing(peer string, ok bool) {
	if ok || e.State() != Pairing || !e.isPeer(peer) {
		return
	}
	slog.Warn("[ENROLL] pairing rejected", "session", e.session.ID, "peer", peer)
	e.finish(Failed, ErrPairingRejected)
}

func (e *Engine) isPeer(peer string) bool {
	addr, err := irk.ParseAddress(peer)
	return err == nil && addr == e.session.Peer
}

func (e *Engine) poll() {
	for id, err := range e.watcher.Poll() {
		if err != nil {
			if errors.Is(err, bond.ErrIrkUnresolvable) {
				e.finish(Failed, err)
				return
			}
			slog.Warn("[ENROLL] bond store read failed", "error", err)
			continue
		}
		e.capture(id)
		return
	}
}

func (e *Engine) capture(id irk.Identity) {
	e.session.Identity = &id
	e.mustTransition(Captured)
	e.deadline = time.Time{}
	slog.Info("[ENROLL] IRK captured", "session", e.session.ID, "peer", id.Peer)
	e.changed()

	e.publisher.Publish(id, e.session.ID)
	e.finish(Published, nil)
}

// finish moves the session to a terminal state and releases the radio.
func (e *Engine) finish(to State, cause error) {
	s := e.session
	s.Err = cause
	e.mustTransition(to)
	s.EndedAt = e.now()
	e.deadline = time.Time{}

	if err := e.radio.StopAdvertising(); err != nil {
		slog.Warn("[ENROLL] stop advertising failed", "error", err)
	}
	if e.peerConn != "" {
		if err := e.radio.Disconnect(e.peerConn); err != nil {
			slog.Warn("[ENROLL] disconnect failed", "peer", e.peerConn, "error", err)
		}
		e.peerConn = ""
	}
	if e.opts.RemoveBond {
		e.removeBond(s)
	}
	e.watcher.Reset()

	now := e.now()
	switch to {
	case Failed:
		e.restartAt = now.Add(backoffDelay(e.failures, e.opts.BackoffMax))
		e.failures++
		slog.Error("[ENROLL] session failed", "session", s.ID, "error", cause)
	case Published:
		e.failures = 0
		e.restartAt = now
		slog.Info("[ENROLL] session published", "session", s.ID, "duration", s.EndedAt.Sub(s.StartedAt))
	default:
		e.restartAt = now
	}
	e.changed()
}

func (e *Engine) removeBond(s *Session) {
	addr := s.Peer
	if s.Identity != nil {
		addr = s.Identity.Peer
	}
	if addr.IsZero() {
		return
	}
	err := e.watcher.Remove(addr)
	switch {
	case err == nil:
		slog.Info("[ENROLL] removed bond", "address", addr)
	case errors.Is(err, bond.ErrNotFound):
	default:
		slog.Warn("[ENROLL] could not remove bond", "address", addr, "error", err)
	}
}

func (e *Engine) maybeRestart() error {
	if !e.autoRestart {
		return nil
	}
	if e.session != nil && !e.session.State.Terminal() {
		return nil
	}
	if e.now().Before(e.restartAt) {
		return nil
	}

	_, err := e.StartEnrollment()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ble.ErrRadioUnavailable):
		e.autoRestart = false
		slog.Error("[ENROLL] radio unavailable, automatic restart disabled", "error", err)
		return err
	default:
		e.restartAt = e.now().Add(backoffDelay(e.failures, e.opts.BackoffMax))
		e.failures++
		slog.Warn("[ENROLL] automatic restart failed", "error", err, "retry_at", e.restartAt)
		return nil
	}
}

func (e *Engine) mustTransition(to State) {
	if err := e.session.transition(to); err != nil {
		slog.Error("[ENROLL] state machine bug", "session", e.session.ID, "error", err)
	}
}

func (e *Engine) changed() {
	if e.opts.OnChange != nil && e.session != nil {
		e.opts.OnChange(e.session.snapshot())
	}
}

var (
	_ Radio       = (*ble.Advertiser)(nil)
	_ BondWatcher = (*bond.Watcher)(nil)
)
