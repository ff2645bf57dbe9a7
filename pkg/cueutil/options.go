// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxFileSize caps the size of user CUE files read by ParseAndDecode.
const DefaultMaxFileSize int64 = 5 * 1024 * 1024

// ErrInvalidCUEPath is the sentinel error wrapped by InvalidCUEPathError.
var ErrInvalidCUEPath = errors.New("invalid CUE path")

type (
	// Option configures ParseAndDecode.
	Option func(*options)

	options struct {
		filename    string
		maxFileSize int64
		concrete    bool
	}

	// CUEPath is a JSON-style path into a CUE value (e.g. "distros.alma9.init").
	CUEPath string

	// InvalidCUEPathError is returned when a CUEPath is empty or whitespace.
	InvalidCUEPathError struct {
		Value CUEPath
	}
)

func defaultOptions() options {
	return options{maxFileSize: DefaultMaxFileSize}
}

// WithFilename sets the filename reported in error messages.
func WithFilename(name string) Option {
	return func(o *options) { o.filename = name }
}

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(n int64) Option {
	return func(o *options) { o.maxFileSize = n }
}

// WithConcrete requires every field of the unified value to be concrete.
func WithConcrete(concrete bool) Option {
	return func(o *options) { o.concrete = concrete }
}

// String returns the path as a string.
func (p CUEPath) String() string { return string(p) }

// Validate returns an error if the path is empty or whitespace.
func (p CUEPath) Validate() error {
	if strings.TrimSpace(string(p)) == "" {
		return &InvalidCUEPathError{Value: p}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidCUEPathError) Error() string {
	return fmt.Sprintf("invalid CUE path %q: must not be empty", e.Value)
}

// Unwrap returns ErrInvalidCUEPath so callers can use errors.Is for programmatic detection.
func (e *InvalidCUEPathError) Unwrap() error { return ErrInvalidCUEPath }
