/*
 *
 * k6 - a next-generation load testing tool
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package errext contains extensions for normal Go errors that are used by
// testrender to carry exit codes and user hints up to the command line.
package errext

import (
	"errors"
	"fmt"

	"github.com/liuxd6825/testrender/errext/exitcodes"
)

// HasExitCode is an error that decides the exit code of the process.
type HasExitCode interface {
	error
	ExitCode() exitcodes.ExitCode
}

// HasHint is an error carrying a suggestion on how the user can fix it.
type HasHint interface {
	error
	Hint() string
}

// WithExitCodeIfNone attaches exitCode to err unless an error in its chain
// already carries one. A nil err stays nil.
func WithExitCodeIfNone(err error, exitCode exitcodes.ExitCode) error {
	if err == nil {
		return nil
	}
	if _, ok := ExitCode(err); ok {
		return err
	}
	return &exitCodeError{err: err, code: exitCode}
}

// ExitCode returns the exit code carried by err, the first one found in its
// chain, and whether there was one.
func ExitCode(err error) (exitcodes.ExitCode, bool) {
	var ecerr HasExitCode
	if !errors.As(err, &ecerr) {
		return 0, false
	}
	return ecerr.ExitCode(), true
}

// WithHint attaches hint to err. A hint already in the chain of err is kept
// behind the new one as "hint (previous hint)". A nil err stays nil.
func WithHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	var prev HasHint
	if errors.As(err, &prev) {
		hint = fmt.Sprintf("%s (%s)", hint, prev.Hint())
	}
	return &hintError{err: err, hint: hint}
}

type exitCodeError struct {
	err  error
	code exitcodes.ExitCode
}

func (e *exitCodeError) Error() string                { return e.err.Error() }
func (e *exitCodeError) Unwrap() error                { return e.err }
func (e *exitCodeError) ExitCode() exitcodes.ExitCode { return e.code }

type hintError struct {
	err  error
	hint string
}

func (e *hintError) Error() string { return e.err.Error() }
func (e *hintError) Unwrap() error { return e.err }
func (e *hintError) Hint() string  { return e.hint }

var (
	_ HasExitCode = &exitCodeError{}
	_ HasHint     = &hintError{}
)
