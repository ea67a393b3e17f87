// Package crypto provides the cryptographic primitives used by irk-enroll:
// the Bluetooth random address hash function ah (AES-128) used to resolve
// resolvable private addresses, HKDF-SHA256 key derivation, and
// XChaCha20-Poly1305 sealing of the persisted IRK.
package crypto

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of the symmetric key accepted by Seal and Open.
const KeySize = chacha20poly1305.KeySize

// SealedVersion is prepended to every sealed blob and authenticated as AAD.
const SealedVersion byte = 0x01

// SealedOverhead is version + nonce + Poly1305 tag.
const SealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// AH computes the random address hash function ah(k, r) from the Bluetooth
// Core Specification, Vol 3 Part H, 2.2.2. Both irk and prand are in
// most-significant-octet-first order, as printed in an address string.
//
//	r' = padding(13 zero octets) || prand
//	ah = e(k, r') mod 2^24
func AH(irk [16]byte, prand [3]byte) ([3]byte, error) {
	var out [3]byte
	block, err := aes.NewCipher(irk[:])
	if err != nil {
		return out, fmt.Errorf("ble/crypto: new cipher: %w", err)
	}

	var in, enc [aes.BlockSize]byte
	copy(in[13:], prand[:])
	block.Encrypt(enc[:], in[:])

	copy(out[:], enc[13:])
	return out, nil
}

// DeriveStoreKey uses HKDF-SHA256 to derive a 32-byte sealing key from
// arbitrary secret material (the contents of the configured key file).
// info separates derivations for different purposes.
func DeriveStoreKey(secret []byte, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("ble/crypto: empty key material")
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("ble/crypto: HKDF: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext with XChaCha20-Poly1305 and returns
//
//	[version: 1] [nonce: 24] [ciphertext+tag: N+16]
//
// The version byte and aad are authenticated.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: new XChaCha20-Poly1305: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("ble/crypto: random nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), 1+len(nonce)+len(plaintext)+aead.Overhead())
	out[0] = SealedVersion
	copy(out[1:], nonce[:])
	return aead.Seal(out, nonce[:], plaintext, buildAAD(SealedVersion, aad)), nil
}

// Open reverses Seal. It fails if the blob is truncated, carries an unknown
// version, or does not authenticate under key and aad.
func Open(key, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < SealedOverhead {
		return nil, fmt.Errorf("ble/crypto: sealed blob is %d bytes, minimum is %d", len(sealed), SealedOverhead)
	}
	if sealed[0] != SealedVersion {
		return nil, fmt.Errorf("ble/crypto: unsupported sealed version %d", sealed[0])
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: new XChaCha20-Poly1305: %w", err)
	}

	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, sealed[1+chacha20poly1305.NonceSizeX:], buildAAD(sealed[0], aad))
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: open: %w", err)
	}
	return plaintext, nil
}

func buildAAD(version byte, aad []byte) []byte {
	out := make([]byte, 1+len(aad))
	out[0] = version
	copy(out[1:], aad)
	return out
}
