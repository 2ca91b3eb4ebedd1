// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed keeps the cached database passphrase encrypted at
// rest in process memory. It wraps filippo.io/age: the session manager
// generates an ephemeral x25519 identity at unlock, seals the verified
// passphrase to it, and retains only the ciphertext. Each store call
// opens the ciphertext into a fresh [secret.Buffer] for the duration
// of that call; locking closes the identity, after which the
// ciphertext is undecryptable garbage.
//
// The identity never leaves the process: it is not written to disk,
// not exportable, and its private key lives in mmap memory outside the
// Go heap (locked against swap, excluded from core dumps).
//
// Key exports:
//
//   - [NewIdentity] -- ephemeral age x25519 identity in a secret.Buffer
//   - [Identity.Seal] -- encrypt a secret buffer, keep only ciphertext
//   - [Identity.Open] -- decrypt into a fresh secret.Buffer
//   - [Identity.Close] -- wipe the private key, orphaning all ciphertext
//
// Used by lib/session for the unlocked-state passphrase cache.
//
// Depends on lib/secret for secure memory allocation.
package sealed
