// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides the wipeable in-memory container for decrypted
// credential material: passwords, usernames, URLs, and TOTP codes.
//
// Buffer allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). Wipe zeroes the
// region, unlocks it, and unmaps it immediately, with no dependence on
// the garbage collector.
//
// Buffers follow a strict ownership contract: a buffer is created inside
// a fetch operation, handed to exactly one consumer (the autotype driver
// or the clipboard coordinator), and wiped the moment that consumer
// finishes. The session manager may wipe earlier, on inactivity timeout
// or explicit lock. After Wipe every view fails with ErrWiped; the
// plaintext is unrecoverable.
package secret

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Kind tags the semantic content of a buffer. The tag travels with the
// buffer so consumers can build keystroke payloads and user messages
// without ever inspecting the plaintext.
type Kind int

const (
	// KindPassword is an entry password or the database passphrase.
	KindPassword Kind = iota
	// KindUsername is an entry username.
	KindUsername
	// KindURL is an entry URL.
	KindURL
	// KindTOTP is a current time-based one-time code. TOTP buffers are
	// fetched just before use and are valid only for the remainder of
	// the current time step.
	KindTOTP
	// KindKey is locally generated key material, such as the history
	// store's master key and its derived subkeys. Not an entry
	// attribute; ParseKind does not accept it.
	KindKey
)

// String returns the lowercase attribute name for the kind, matching the
// names used in configuration, IPC requests, and log fields.
func (k Kind) String() string {
	switch k {
	case KindPassword:
		return "password"
	case KindUsername:
		return "username"
	case KindURL:
		return "url"
	case KindTOTP:
		return "totp"
	case KindKey:
		return "key"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts an attribute name from configuration or an IPC
// request into a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "password":
		return KindPassword, nil
	case "username", "user":
		return KindUsername, nil
	case "url":
		return KindURL, nil
	case "totp", "otp":
		return KindTOTP, nil
	default:
		return 0, fmt.Errorf("secret: unknown kind %q", name)
	}
}

// ErrAllocation reports that the protected memory region could not be
// allocated or locked. Wrapped errors carry the failing syscall.
var ErrAllocation = errors.New("secret: buffer allocation failed")

// ErrWiped reports a view of a buffer after its wipe. A wiped buffer
// never returns stale data; it is permanently dead.
var ErrWiped = errors.New("secret: buffer already wiped")

// Buffer holds one piece of sensitive data in memory that is locked
// against swapping, excluded from core dumps, and zeroed on wipe. The
// backing memory is allocated via mmap outside the Go heap, so the
// garbage collector never copies or relocates it.
//
// A Buffer must not be copied after creation. Wipe and the view methods
// are mutually exclusive on the buffer's mutex: a view either completes
// before a wipe starts or fails with ErrWiped, never observes a
// half-zeroed region.
type Buffer struct {
	mu        sync.Mutex
	data      []byte
	size      int
	kind      Kind
	createdAt time.Time
	consumed  bool
	wiped     bool
}

// New creates a buffer of the given kind holding content. The content is
// copied into the protected region and the caller's slice is zeroed in
// place, so the source no longer holds the secret. Allocation failures
// wrap ErrAllocation.
//
// The caller owns the buffer and must ensure Wipe runs on every exit
// path, typically via defer.
func New(kind Kind, content []byte) (*Buffer, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("secret: cannot create %s buffer from empty content", kind)
	}

	region, err := allocate(len(content))
	if err != nil {
		return nil, err
	}

	copy(region, content)
	Zero(content)

	return &Buffer{
		data:      region,
		size:      len(content),
		kind:      kind,
		createdAt: time.Now(),
	}, nil
}

// allocate maps an anonymous region of the given size, locks it into
// RAM, and excludes it from core dumps.
func allocate(size int) ([]byte, error) {
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap: %w", ErrAllocation, err)
	}

	// Prevent the plaintext from ever reaching swap.
	if err := unix.Mlock(region); err != nil {
		unix.Munmap(region)
		return nil, fmt.Errorf("%w: mlock: %w", ErrAllocation, err)
	}

	// Exclude from core dumps. Refusing to proceed is deliberate: a
	// kernel that cannot honor MADV_DONTDUMP would write the plaintext
	// into any crash dump.
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(region)
		unix.Munmap(region)
		return nil, fmt.Errorf("%w: madvise(MADV_DONTDUMP): %w", ErrAllocation, err)
	}

	return region, nil
}

// Bytes returns the plaintext. The returned slice points directly into
// the protected region: do not retain it beyond the immediate use, and
// never copy it into heap-allocated storage. Returns ErrWiped after
// Wipe.
//
// For reads that span a blocking operation (writing to a subprocess
// pipe), use WithBytes so the wipe/view exclusion covers the whole read.
func (b *Buffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wiped {
		return nil, ErrWiped
	}

	return b.data[:b.size], nil
}

// WithBytes runs view with the plaintext while holding the buffer's
// mutex, so a concurrent wipe is ordered strictly before or strictly
// after the whole view. view must not retain the slice or call back into
// the buffer. Returns ErrWiped if the buffer was wiped first.
func (b *Buffer) WithBytes(view func(data []byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wiped {
		return ErrWiped
	}

	return view(b.data[:b.size])
}

// Len returns the plaintext length. Valid even after Wipe.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.size
}

// Kind returns the buffer's kind tag.
func (b *Buffer) Kind() Kind {
	return b.kind
}

// CreatedAt returns the buffer's creation time.
func (b *Buffer) CreatedAt() time.Time {
	return b.createdAt
}

// MarkConsumed records that the buffer's single authorized consumer has
// used it. Consumption does not wipe; the consumer's wipe-on-return
// still applies.
func (b *Buffer) MarkConsumed() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consumed = true
}

// Consumed reports whether MarkConsumed was called.
func (b *Buffer) Consumed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.consumed
}

// Wiped reports whether the buffer has been wiped.
func (b *Buffer) Wiped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.wiped
}

// Wipe zeroes the plaintext, unlocks and unmaps the region, and marks
// the buffer dead. Idempotent: second and later calls are no-ops. After
// Wipe, Bytes and WithBytes fail with ErrWiped.
func (b *Buffer) Wipe() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wiped {
		return nil
	}
	b.wiped = true

	// Zero before releasing so the plaintext never survives the
	// mapping.
	Zero(b.data)

	// Unlock and unmap errors are reported but do not resurrect the
	// buffer; the region is already zeroed and the kernel reclaims it
	// at process exit regardless.
	var firstError error
	if err := unix.Munlock(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munlock: %w", err)
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap: %w", err)
	}

	b.data = nil
	return firstError
}
