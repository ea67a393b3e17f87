package irk

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 48-bit BLE device address in the order it is printed,
// most significant octet first ("AA:BB:CC:DD:EE:FF" has a[0] == 0xAA).
type Address [6]byte

// ParseAddress parses "AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff" or
// "aabbccddeeff". BlueZ D-Bus object names ("dev_AA_BB_...") are accepted
// as well.
func ParseAddress(s string) (Address, error) {
	var a Address
	clean := strings.TrimPrefix(strings.TrimSpace(s), "dev_")
	clean = strings.NewReplacer(":", "", "-", "", "_", "").Replace(clean)
	if len(clean) != 12 {
		return a, fmt.Errorf("irk: invalid address %q", s)
	}
	if _, err := hex.Decode(a[:], []byte(clean)); err != nil {
		return a, fmt.Errorf("irk: invalid address %q: %w", s, err)
	}
	return a, nil
}

// String formats the address as upper-case colon-separated octets.
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Kind classifies a random address by its two most significant bits.
type Kind int

const (
	KindNonResolvable Kind = iota
	KindResolvable
	KindReserved
	KindStatic
)

func (k Kind) String() string {
	switch k {
	case KindNonResolvable:
		return "non_resolvable_private"
	case KindResolvable:
		return "resolvable_private"
	case KindStatic:
		return "static_random"
	default:
		return "reserved"
	}
}

// Kind returns the random address subtype. It is only meaningful when the
// stack reported the address as random.
func (a Address) Kind() Kind {
	return Kind(a[0] >> 6)
}

// IsResolvablePrivate reports whether the address has the 0b01 prefix of a
// resolvable private address.
func (a Address) IsResolvablePrivate() bool {
	return a.Kind() == KindResolvable
}

// prand is the upper 24 bits of an RPA.
func (a Address) prand() [3]byte {
	return [3]byte{a[0], a[1], a[2]}
}

// hash is the lower 24 bits of an RPA.
func (a Address) hash() [3]byte {
	return [3]byte{a[3], a[4], a[5]}
}
