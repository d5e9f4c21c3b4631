// Copyright 2026 The OpenPresenter Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitCodeError carries a specific exit status out of run().
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string { return e.Err.Error() }

func (e *ExitCodeError) Unwrap() error { return e.Err }

// Fatal writes "error: err" to stderr and exits. The status is 1 unless
// err wraps an *ExitCodeError. Use it in main() for errors from run()
// where the structured logger may not be initialized.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

func report(writer io.Writer, err error) int {
	fmt.Fprintf(writer, "error: %v\n", err)
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) && exitErr.Code != 0 {
		return exitErr.Code
	}
	return 1
}
