// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/keywarden/keywarden/lib/secret"
)

// keySize is the size in bytes of the master key and every derived
// subkey: the record sealing key and the fingerprint key.
const keySize = 32

// recordVersion is the version byte prepended to every sealed record.
// Included as additional authenticated data, so tampering with it
// causes authentication failure.
const recordVersion byte = 0x01

// recordOverhead is the total byte overhead per sealed record:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const recordOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// HKDF info strings, the "info" parameter to HKDF-SHA256. They
// separate the record sealing key from the fingerprint key, so a
// leaked fingerprint key never decrypts records. Changing either
// invalidates all existing rows.
var (
	hkdfInfoRecord = []byte("keywarden.history.record.v1")
	hkdfInfoIndex  = []byte("keywarden.history.index.v1")
)

// Fingerprint domain tags, the data prefix for BLAKE3 keyed hashing.
// Entry fingerprints address rows; the database fingerprint binds the
// store to one password database. The tags keep the two namespaces
// from ever colliding.
var (
	fingerprintDomainEntry    = []byte("keywarden.history.entry.v1")
	fingerprintDomainDatabase = []byte("keywarden.history.database.v1")
)

// loadOrCreateKey reads the master key from path, generating a fresh
// random key (file mode 0600, parent directory 0700) when the file
// does not exist. The key is returned in a wipeable buffer owned by
// the caller.
func loadOrCreateKey(path string) (*secret.Buffer, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return generateKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("history: reading key file: %w", err)
	}
	if len(raw) != keySize {
		secret.Zero(raw)
		return nil, fmt.Errorf("history: key file %s is %d bytes, want %d", path, len(raw), keySize)
	}
	return secret.New(secret.KindKey, raw)
}

// generateKey creates a new random master key and writes it to path.
func generateKey(path string) (*secret.Buffer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("history: creating key directory: %w", err)
	}

	raw := make([]byte, keySize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("history: generating key: %w", err)
	}

	if err := os.WriteFile(path, raw, 0o600); err != nil {
		secret.Zero(raw)
		return nil, fmt.Errorf("history: writing key file: %w", err)
	}
	return secret.New(secret.KindKey, raw)
}

// deriveKey derives a 32-byte subkey from the master key for the given
// info string. The salt is nil: the master key comes straight from
// crypto/rand, so it is already uniform and the extract phase with a
// zero salt is appropriate per RFC 5869.
func deriveKey(master *secret.Buffer, info []byte) (*secret.Buffer, error) {
	inputKeyMaterial, err := master.Bytes()
	if err != nil {
		return nil, fmt.Errorf("history: master key: %w", err)
	}

	reader := hkdf.New(sha256.New, inputKeyMaterial, nil, info)
	derived := make([]byte, keySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("history: key derivation: %w", err)
	}
	return secret.New(secret.KindKey, derived)
}

// fingerprint computes the hex-encoded BLAKE3 keyed hash of value
// under the given domain tag. Deterministic, so it can address rows,
// and opaque without the key file.
func (s *Store) fingerprint(domain []byte, value string) (string, error) {
	key, err := deriveKey(s.masterKey, hkdfInfoIndex)
	if err != nil {
		return "", err
	}
	defer key.Wipe()

	keyBytes, err := key.Bytes()
	if err != nil {
		return "", fmt.Errorf("history: fingerprint key: %w", err)
	}
	hasher, err := blake3.NewKeyed(keyBytes)
	if err != nil {
		return "", fmt.Errorf("history: fingerprint hasher: %w", err)
	}
	hasher.Write(domain)
	hasher.Write([]byte(value))
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// sealRecord encrypts a plaintext record with XChaCha20-Poly1305 and
// returns the stored blob format:
//
//	[version: 1 byte] [nonce: 24 bytes] [ciphertext+tag]
//
// The version byte and the row's fingerprint are authenticated as AAD,
// binding each blob to its row. Swapping blobs between rows fails
// authentication on read.
func (s *Store) sealRecord(plaintext []byte, rowFingerprint string) ([]byte, error) {
	key, err := deriveKey(s.masterKey, hkdfInfoRecord)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()

	keyBytes, err := key.Bytes()
	if err != nil {
		return nil, fmt.Errorf("history: record key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("history: creating cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("history: generating nonce: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, recordOverhead+len(plaintext))
	output[0] = recordVersion
	copy(output[1:], nonce[:])

	return aead.Seal(output, nonce[:], plaintext, buildAAD(recordVersion, rowFingerprint)), nil
}

// openRecord decrypts a blob produced by sealRecord, authenticating it
// against the row fingerprint it was sealed under.
func (s *Store) openRecord(blob []byte, rowFingerprint string) ([]byte, error) {
	if len(blob) < recordOverhead {
		return nil, fmt.Errorf("history: sealed record is %d bytes, minimum is %d", len(blob), recordOverhead)
	}
	if blob[0] != recordVersion {
		return nil, fmt.Errorf("history: sealed record version %d is not supported", blob[0])
	}

	key, err := deriveKey(s.masterKey, hkdfInfoRecord)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()

	keyBytes, err := key.Bytes()
	if err != nil {
		return nil, fmt.Errorf("history: record key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("history: creating cipher: %w", err)
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]

	plaintext, err := aead.Open(nil, nonce, ciphertext, buildAAD(blob[0], rowFingerprint))
	if err != nil {
		return nil, fmt.Errorf("history: record authentication failed: %w", err)
	}
	return plaintext, nil
}

// buildAAD constructs the additional authenticated data for a sealed
// record: the version byte followed by the row fingerprint.
func buildAAD(version byte, rowFingerprint string) []byte {
	aad := make([]byte, 1+len(rowFingerprint))
	aad[0] = version
	copy(aad[1:], rowFingerprint)
	return aad
}
