package bond

import (
	"fmt"
	"iter"
	"log/slog"

	"github.com/chaz8081/irk-enroll/internal/irk"
)

// Watcher detects the bond created by one enrollment session. Begin
// snapshots the bonds that already exist; Poll then reports the first new
// or changed bond that belongs to the session's peer. After that capture the
// watcher stays quiet until the next Begin, so repeated observations of the
// same bond are ignored.
//
// A Watcher is not safe for concurrent use; the enrollment engine drives it
// from its event loop.
type Watcher struct {
	store Store

	baseline map[irk.Address]string // fingerprint per address
	ignored  map[string]bool        // fingerprints already logged as unrelated
	peer     irk.Address
	active   bool
	done     bool
	warned   bool
}

// NewWatcher creates a Watcher over store.
func NewWatcher(store Store) *Watcher {
	return &Watcher{store: store}
}

// Begin starts a new watch by snapshotting the bonds present now.
func (w *Watcher) Begin() error {
	w.Reset()
	records, err := w.store.Bonds()
	if err != nil {
		return fmt.Errorf("bond: snapshot: %w", err)
	}
	for _, r := range records {
		w.baseline[r.Address] = r.fingerprint()
	}
	w.active = true
	slog.Debug("[BOND] watching bond store", "existing", len(records))
	return nil
}

// SetPeer sets the address of the connected central whose bond is awaited.
func (w *Watcher) SetPeer(peer irk.Address) {
	w.peer = peer
	w.ignored = make(map[string]bool)
}

// Reset stops the watch and forgets the snapshot.
func (w *Watcher) Reset() {
	w.baseline = make(map[irk.Address]string)
	w.ignored = make(map[string]bool)
	w.peer = irk.Address{}
	w.active = false
	w.done = false
	w.warned = false
}

// Done reports whether the current watch already captured or failed.
func (w *Watcher) Done() bool {
	return w.done
}

// Remove deletes a bond from the underlying store.
func (w *Watcher) Remove(addr irk.Address) error {
	return w.store.Remove(addr)
}

// Poll returns a lazy sequence over the bond store. It yields at most one
// result per watch: the captured identity, or ErrIrkUnresolvable when the
// peer's bond has no IRK. Store read errors are yielded as well and do not
// end the watch. The store is read only when the sequence is ranged over.
func (w *Watcher) Poll() iter.Seq2[irk.Identity, error] {
	return func(yield func(irk.Identity, error) bool) {
		if !w.active || w.done || w.peer.IsZero() {
			return
		}

		records, err := w.store.Bonds()
		if err != nil {
			yield(irk.Identity{}, fmt.Errorf("bond: read store: %w", err))
			return
		}
		if len(records) > 1 && !w.warned {
			slog.Warn("[BOND] more than one bond present, expected at most one", "count", len(records))
			w.warned = true
		}

		for _, r := range records {
			fp := r.fingerprint()
			if w.baseline[r.Address] == fp {
				continue
			}
			if !r.Matches(w.peer) {
				if !w.ignored[fp] {
					slog.Debug("[BOND] ignoring unrelated bond", "address", r.Address, "peer", w.peer)
					w.ignored[fp] = true
				}
				continue
			}

			w.done = true
			if !r.HasKey() {
				slog.Warn("[BOND] peer bonded without an identity resolving key", "address", r.Address)
				yield(irk.Identity{}, fmt.Errorf("%w: bond %s has no IRK", ErrIrkUnresolvable, r.Address))
				return
			}
			slog.Info("[BOND] captured identity resolving key", "address", r.Address, "name", r.Name)
			yield(irk.Identity{Key: *r.Key, Peer: r.Address}, nil)
			return
		}
	}
}
