// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package binpin pins the external tool binaries a session trusts.
//
// At unlock the session records a BLAKE3 digest of each tool it will
// later hand secrets to (the store CLI, the keystroke injector). Every
// injection re-verifies the digest first: a tool binary that changed
// on disk mid-session never receives secret material. Pins last for
// one unlocked session and are cleared on lock.
package binpin

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/zeebo/blake3"
)

// ErrChanged reports that a pinned tool's on-disk binary no longer
// matches the digest recorded at unlock.
var ErrChanged = errors.New("binpin: tool binary changed since unlock")

// ErrNotPinned reports a verification of a tool that was never pinned.
var ErrNotPinned = errors.New("binpin: tool not pinned")

// Digest computes the BLAKE3 digest of the file at path, streamed in
// chunks so memory use is constant regardless of file size.
func Digest(path string) ([32]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("binpin: opening %s: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return [32]byte{}, fmt.Errorf("binpin: hashing %s: %w", path, err)
	}

	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// Set holds the pinned tools of one unlocked session. Safe for
// concurrent use.
type Set struct {
	mu   sync.Mutex
	pins map[string]pin
}

type pin struct {
	path   string
	digest [32]byte
}

// NewSet returns an empty pin set.
func NewSet() *Set {
	return &Set{pins: make(map[string]pin)}
}

// Pin records the digest of the binary at path under the tool's name,
// replacing any previous pin for that tool.
func (s *Set) Pin(tool, path string) error {
	digest, err := Digest(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[tool] = pin{path: path, digest: digest}
	return nil
}

// Verify re-digests the pinned binary and compares it to the digest
// recorded by Pin. ErrChanged means the binary was modified or
// replaced; a missing file reports the underlying error.
func (s *Set) Verify(tool string) error {
	s.mu.Lock()
	pinned, ok := s.pins[tool]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPinned, tool)
	}

	current, err := Digest(pinned.path)
	if err != nil {
		return err
	}
	if current != pinned.digest {
		return fmt.Errorf("%w: %s (%s)", ErrChanged, tool, pinned.path)
	}
	return nil
}

// Path returns the path recorded for a pinned tool.
func (s *Set) Path(tool string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pinned, ok := s.pins[tool]
	return pinned.path, ok
}

// Clear drops every pin. Called on lock; the next unlock re-pins.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins = make(map[string]pin)
}
