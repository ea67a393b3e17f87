// Package irk defines the Identity Resolving Key and BLE device address
// value types shared by the enrollment engine, the bond store and the
// publisher.
package irk

import (
	"encoding/hex"
	"fmt"
	"strings"

	blecrypto "github.com/chaz8081/irk-enroll/internal/ble/crypto"
)

// KeySize is the length of an Identity Resolving Key in bytes.
const KeySize = 16

// Key is a 16-byte Identity Resolving Key in most-significant-octet-first
// order, the order in which it is displayed and fed to the ah function.
type Key [KeySize]byte

// ParseKey parses 32 hex digits. A leading "0x" and ':' or '-' separators
// are accepted; case is ignored.
func ParseKey(s string) (Key, error) {
	var k Key
	clean := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	clean = strings.NewReplacer(":", "", "-", "", " ", "").Replace(clean)
	if len(clean) != 2*KeySize {
		return k, fmt.Errorf("irk: key must be %d hex digits, got %d", 2*KeySize, len(clean))
	}
	if _, err := hex.Decode(k[:], []byte(clean)); err != nil {
		return k, fmt.Errorf("irk: parse key: %w", err)
	}
	return k, nil
}

// KeyFromBytes copies a 16-byte slice that is already in display order.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, fmt.Errorf("irk: key must be %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// KeyFromLittleEndian converts a key stored least-significant-octet first,
// as Bluetooth stacks such as ESP-IDF keep it in their bond records.
func KeyFromLittleEndian(b []byte) (Key, error) {
	k, err := KeyFromBytes(b)
	if err != nil {
		return k, err
	}
	for i, j := 0, KeySize-1; i < j; i, j = i+1, j-1 {
		k[i], k[j] = k[j], k[i]
	}
	return k, nil
}

// String returns the canonical lowercase hex form, e.g.
// "000102030405060708090a0b0c0d0e0f".
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether every byte of the key is zero. Some stacks hand
// out an all-zero key when the peer never distributed one.
func (k Key) IsZero() bool {
	return k == Key{}
}

// Resolves reports whether addr is a resolvable private address generated
// from this key.
func (k Key) Resolves(addr Address) bool {
	if !addr.IsResolvablePrivate() {
		return false
	}
	hash, err := blecrypto.AH(k, addr.prand())
	if err != nil {
		return false
	}
	return hash == addr.hash()
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Identity is a captured IRK together with the identity address of the peer
// that distributed it.
type Identity struct {
	Key  Key
	Peer Address
}

func (id Identity) String() string {
	return fmt.Sprintf("%s (%s)", id.Key, id.Peer)
}
