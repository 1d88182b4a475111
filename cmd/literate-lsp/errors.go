package main

import "fmt"

// cliError pairs an error with the exit code spec.md §6 assigns it (1
// configuration error, 2 health-check failure), so main's Execute error
// path can recover the right os.Exit code without re-inspecting the error.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }
func (e *cliError) ExitCode() int { return e.code }

func configError(err error) error {
	return &cliError{code: 1, err: fmt.Errorf("configuration error: %w", err)}
}

func healthError(err error) error {
	return &cliError{code: 2, err: err}
}
