// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ErrFileTooLarge is returned by CheckFileSize.
var ErrFileTooLarge = errors.New("file too large")

type (
	// Violation is one CUE error located at a path of the document.
	Violation struct {
		// Path is empty for errors not tied to a field, such as syntax errors.
		Path    CUEPath
		Message string
	}

	// ValidationError lists every violation CUE reported for one file.
	ValidationError struct {
		FilePath   string
		Violations []Violation
	}
)

// Error renders "<file>: <path>: <message>" for a single violation and an
// indented list for several.
func (e *ValidationError) Error() string {
	lines := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		if v.Path != "" {
			lines[i] = string(v.Path) + ": " + v.Message
		} else {
			lines[i] = v.Message
		}
	}
	if len(lines) == 1 {
		return e.FilePath + ": " + lines[0]
	}
	return fmt.Sprintf("%s: validation failed:\n  %s", e.FilePath, strings.Join(lines, "\n  "))
}

// FirstPath returns the first non-empty violation path, or "".
func (e *ValidationError) FirstPath() CUEPath {
	for _, v := range e.Violations {
		if v.Path != "" {
			return v.Path
		}
	}
	return ""
}

// FormatError turns a CUE error into a *ValidationError whose paths use JSON
// notation (distros.alma9.init, roles[0].src). Other errors are prefixed with filePath.
func FormatError(err error, filePath string) error {
	if err == nil {
		return nil
	}

	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return fmt.Errorf("%s: %w", filePath, err)
	}

	verr := &ValidationError{FilePath: filePath}
	for _, e := range list {
		path := formatPath(cueerrors.Path(e))
		msg := e.Error()
		// CUE sometimes repeats the path at the start of the message.
		if path != "" {
			if rest, ok := strings.CutPrefix(msg, path); ok {
				msg = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
			}
		}
		verr.Violations = append(verr.Violations, Violation{Path: CUEPath(path), Message: msg})
	}
	return verr
}

// formatPath joins a CUE error path, rendering numeric elements as indices.
func formatPath(path []string) string {
	var sb strings.Builder
	for i, part := range path {
		switch {
		case i > 0 && part != "" && strings.Trim(part, "0123456789") == "":
			sb.WriteString("[" + part + "]")
		case i > 0:
			sb.WriteString("." + part)
		default:
			sb.WriteString(part)
		}
	}
	return sb.String()
}

// CheckFileSize returns ErrFileTooLarge when data is longer than maxSize bytes.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%s: %w: %d bytes exceeds maximum %d bytes", filename, ErrFileTooLarge, len(data), maxSize)
	}
	return nil
}
