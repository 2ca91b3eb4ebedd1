// Copyright 2026 The Keywarden Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError signals a non-zero exit code without an extra error line.
// A command returning an ExitError has already written its own output;
// main exits with the code instead of printing the error string.
//
// JSON mode uses this: the failure response was already printed as
// JSON, so the process just needs the non-zero exit.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code. main checks for this interface on
// returned errors to tell a handled non-zero exit from an unexpected
// error to display.
func (e *ExitError) ExitCode() int {
	return e.Code
}
