// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
)

// ReadFromPath reads a secret of the given kind from a file path, or
// from the first line of stdin if path is "-". The returned buffer is
// mmap-backed (locked into RAM, excluded from core dumps) and must be
// wiped by the caller. Leading and trailing whitespace is trimmed before
// storing, and every intermediate heap copy is zeroed. Returns an error
// if the source is empty after trimming.
func ReadFromPath(kind Kind, path string) (*Buffer, error) {
	var data []byte

	if path == "-" {
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("reading stdin: %w", err)
			}
			return nil, fmt.Errorf("stdin is empty")
		}
		data = scanner.Bytes()
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret source %s is empty", path)
	}

	// New copies trimmed into the protected region and zeroes it. The
	// second Zero catches whitespace bytes outside the trimmed
	// sub-slice.
	buffer, err := New(kind, trimmed)
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}
