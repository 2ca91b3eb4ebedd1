// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Keywarden's standard CBOR encoding
// configuration.
//
// Keywarden uses two serialization formats with a clear boundary:
//
//   - JSON for what people and other programs read: keywardenctl
//     --json output.
//   - CBOR for internal protocols: the daemon socket and the
//     encrypted recent-entry history records.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC
// 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations (history records):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the daemon socket):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is only ever serialized as CBOR and never
//     surfaces in CLI output. Example: history records.
//   - `json` tag: this type may be serialized as both JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor` tags
//     are absent, so a single `json` tag controls field naming and
//     omitempty for both formats. Example: the daemon socket protocol
//     types, which keywardenctl re-emits as --json output.
//
// Never use both `cbor` and `json` tags on the same field.
package codec
