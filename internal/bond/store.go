// Package bond reads the platform's Bluetooth bond records and watches them
// for the bond created by an enrollment, extracting the peer's Identity
// Resolving Key.
package bond

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chaz8081/irk-enroll/internal/irk"
)

// ErrIrkUnresolvable is returned when the bond for the enrolling peer exists
// but the platform supplied no resolvable private address data for it.
var ErrIrkUnresolvable = errors.New("bond: irk unresolvable")

// ErrNotFound is returned when removing a bond that does not exist.
var ErrNotFound = errors.New("bond: not found")

// Record is a platform bond record. Key is nil when the peer did not
// distribute an IRK.
type Record struct {
	Address     irk.Address
	AddressType string
	Name        string
	Key         *irk.Key
}

// HasKey reports whether the record carries a usable IRK.
func (r Record) HasKey() bool {
	return r.Key != nil && !r.Key.IsZero()
}

// Matches reports whether the record belongs to peer: either peer is the
// bond's identity address, or peer is a resolvable private address
// generated from the bond's IRK.
func (r Record) Matches(peer irk.Address) bool {
	if r.Address == peer {
		return true
	}
	return r.HasKey() && r.Key.Resolves(peer)
}

// fingerprint changes whenever the bond is replaced or its key changes.
func (r Record) fingerprint() string {
	if r.Key == nil {
		return r.Address.String() + "/-"
	}
	return r.Address.String() + "/" + r.Key.String()
}

// Store is the platform bond store. Implementations only read bonds, except
// for explicit removal after a capture.
type Store interface {
	// Bonds returns every bond currently known to the platform.
	Bonds() ([]Record, error)
	// Remove deletes the bond with the given identity address.
	Remove(addr irk.Address) error
}

// MemoryStore is an in-memory Store for tests and dry runs.
type MemoryStore struct {
	mu    sync.Mutex
	bonds map[irk.Address]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bonds: make(map[irk.Address]Record)}
}

// Add inserts or replaces a bond.
func (s *MemoryStore) Add(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bonds[r.Address] = r
}

func (s *MemoryStore) Bonds() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.bonds))
	for _, r := range s.bonds {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out, nil
}

func (s *MemoryStore) Remove(addr irk.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bonds[addr]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	delete(s.bonds, addr)
	return nil
}

// Compile-time interface satisfaction check.
var _ Store = (*MemoryStore)(nil)
