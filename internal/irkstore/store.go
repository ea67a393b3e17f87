// Package irkstore persists the latest published IRK so that it survives
// restarts. The record is CBOR encoded and sealed with XChaCha20-Poly1305
// under a key derived from a local key file.
package irkstore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"

	blecrypto "github.com/chaz8081/irk-enroll/internal/ble/crypto"
)

// hkdfInfo separates this derivation from any other use of the key file.
// Changing it invalidates every stored record.
const hkdfInfo = "irk-enroll.latest-irk.v1"

var aad = []byte("irk-enroll/latest")

// Record is the persisted form of a published IRK.
type Record struct {
	Key         []byte    `cbor:"1,keyasint"`
	Peer        string    `cbor:"2,keyasint"`
	Value       string    `cbor:"3,keyasint"`
	Session     string    `cbor:"4,keyasint,omitempty"`
	PublishedAt time.Time `cbor:"5,keyasint"`
}

var encMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("irkstore: CBOR encoder initialization failed: " + err.Error())
	}
}

// Store reads and writes a single sealed record at path.
type Store struct {
	path string
	key  []byte
}

// New creates a Store at path whose sealing key is derived from secret.
func New(path string, secret []byte) (*Store, error) {
	key, err := blecrypto.DeriveStoreKey(secret, hkdfInfo)
	if err != nil {
		return nil, fmt.Errorf("irkstore: derive key: %w", err)
	}
	return &Store{path: path, key: key}, nil
}

// Open creates a Store at path using the secret in keyPath, generating a
// new random key file if none exists.
func Open(path, keyPath string) (*Store, error) {
	secret, err := LoadOrCreateSecret(keyPath)
	if err != nil {
		return nil, err
	}
	return New(path, secret)
}

// Path returns the record location.
func (s *Store) Path() string {
	return s.path
}

// Save seals rec and atomically replaces the stored record.
func (s *Store) Save(rec Record) error {
	plain, err := encMode.Marshal(rec)
	if err != nil {
		return fmt.Errorf("irkstore: encode: %w", err)
	}
	sealed, err := blecrypto.Seal(s.key, plain, aad)
	if err != nil {
		return fmt.Errorf("irkstore: seal: %w", err)
	}
	if err := writeFileAtomic(s.path, sealed, 0600); err != nil {
		return fmt.Errorf("irkstore: write %s: %w", s.path, err)
	}
	return nil
}

// Load returns the stored record. ok is false when nothing has been saved.
func (s *Store) Load() (rec Record, ok bool, err error) {
	sealed, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("irkstore: read %s: %w", s.path, err)
	}

	plain, err := blecrypto.Open(s.key, sealed, aad)
	if err != nil {
		return Record{}, false, fmt.Errorf("irkstore: %s: %w", s.path, err)
	}
	if err := cbor.Unmarshal(plain, &rec); err != nil {
		return Record{}, false, fmt.Errorf("irkstore: decode: %w", err)
	}
	return rec, true, nil
}

// LoadOrCreateSecret reads the key file at path, creating it with 32 random
// bytes (mode 0600) when it does not exist.
func LoadOrCreateSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err == nil {
		if len(secret) == 0 {
			return nil, fmt.Errorf("irkstore: key file %s is empty", path)
		}
		return secret, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("irkstore: read key file: %w", err)
	}

	secret = make([]byte, blecrypto.KeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("irkstore: generate key: %w", err)
	}
	if err := writeFileAtomic(path, secret, 0600); err != nil {
		return nil, fmt.Errorf("irkstore: write key file: %w", err)
	}
	return secret, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
