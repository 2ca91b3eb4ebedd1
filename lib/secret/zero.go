// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package secret

// Zero overwrites every byte of b. Use it to scrub intermediate heap
// slices (subprocess output, decoded IPC fields) after their contents
// have been moved into a Buffer.
//
// The range loop compiles to a memclr and writes through to memory; b is
// reachable until the call returns, so the write cannot be elided.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
