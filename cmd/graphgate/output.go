package main

import (
	"encoding/json"
	"fmt"
	"io"
)

// Exit codes shared by every subcommand.
const (
	exitOK       = 0 // completed, nothing to report
	exitFindings = 1 // completed with a rejection or a broken chain
	exitFailed   = 2 // failed to run
)

// exitError carries a process exit code out of a RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func findings() error { return &exitError{code: exitFindings} }

func outputJSON(w io.Writer, v any, compact bool) error {
	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
