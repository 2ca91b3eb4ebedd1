// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/keywarden/keywarden/lib/secret"
)

// Identity is an ephemeral age x25519 identity. The private key lives
// in a secret.Buffer; the recipient side is derived from it on demand.
// Once Close wipes the key, every ciphertext sealed to the identity is
// permanently unopenable.
type Identity struct {
	privateKey *secret.Buffer
}

// NewIdentity generates a fresh identity. The caller must Close it;
// the session manager does so on every lock.
func NewIdentity() (*Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating identity: %w", err)
	}

	// Move the private key into mmap-backed memory immediately. The
	// transient heap string from the age API is request-scoped and
	// unavoidable; the buffer holds the durable copy.
	keyBytes := []byte(identity.String())
	privateKey, err := secret.New(secret.KindPassword, keyBytes)
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting private key: %w", err)
	}

	return &Identity{privateKey: privateKey}, nil
}

// Seal encrypts the buffer's plaintext to the identity and returns the
// ciphertext. Ciphertext is safe to hold on the ordinary heap; it is
// useless without the private key. The source buffer stays alive and
// owned by the caller.
func (i *Identity) Seal(plaintext *secret.Buffer) ([]byte, error) {
	recipient, err := i.recipient()
	if err != nil {
		return nil, err
	}

	var ciphertext bytes.Buffer
	err = plaintext.WithBytes(func(data []byte) error {
		writer, err := age.Encrypt(&ciphertext, recipient)
		if err != nil {
			return fmt.Errorf("creating encryptor: %w", err)
		}
		if _, err := writer.Write(data); err != nil {
			return fmt.Errorf("writing plaintext: %w", err)
		}
		return writer.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("sealed: seal: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Open decrypts ciphertext into a fresh secret buffer of the given
// kind. The caller owns the buffer and must wipe it as soon as the
// plaintext has served its purpose. Fails with secret.ErrWiped after
// Close.
func (i *Identity) Open(ciphertext []byte, kind secret.Kind) (*secret.Buffer, error) {
	identity, err := i.parse()
	if err != nil {
		return nil, err
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("sealed: open: %w", err)
	}

	// Read the plaintext through a scrubbed chunk, zeroing any
	// outgrown backing array so no stale heap copy survives the move
	// into the buffer.
	plaintext := make([]byte, 0, 1024)
	chunk := make([]byte, 512)
	defer secret.Zero(chunk)
	for {
		n, readErr := reader.Read(chunk)
		if n > 0 {
			if len(plaintext)+n > cap(plaintext) {
				grown := make([]byte, len(plaintext), 2*cap(plaintext)+n)
				copy(grown, plaintext)
				secret.Zero(plaintext)
				plaintext = grown
			}
			plaintext = append(plaintext, chunk[:n]...)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			secret.Zero(plaintext)
			return nil, fmt.Errorf("sealed: reading plaintext: %w", readErr)
		}
	}

	buffer, err := secret.New(kind, plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("sealed: protecting plaintext: %w", err)
	}
	return buffer, nil
}

// Close wipes the private key. Idempotent. Every ciphertext sealed to
// this identity becomes permanently unopenable.
func (i *Identity) Close() error {
	return i.privateKey.Wipe()
}

// parse reconstructs the age identity from the protected key. The
// string conversion makes a transient heap copy for the age API; it is
// request-scoped, the same trade the generation path makes.
func (i *Identity) parse() (*age.X25519Identity, error) {
	var identity *age.X25519Identity
	err := i.privateKey.WithBytes(func(key []byte) error {
		parsed, err := age.ParseX25519Identity(string(key))
		if err != nil {
			return fmt.Errorf("parsing private key: %w", err)
		}
		identity = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	return identity, nil
}

// recipient derives the public half for sealing.
func (i *Identity) recipient() (*age.X25519Recipient, error) {
	identity, err := i.parse()
	if err != nil {
		return nil, err
	}
	return identity.Recipient(), nil
}
