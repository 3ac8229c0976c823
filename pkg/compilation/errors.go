package compilation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a virtual path does not resolve to a known unit kind
	ErrNotFound = errors.New("build unit not found")

	// ErrOutputLocked is returned when the compiler could not write its output file
	ErrOutputLocked = errors.New("compiler output is locked")

	// ErrStaleCacheRace signals that a result went stale while being cached
	ErrStaleCacheRace = errors.New("dependencies changed while caching result")
)

// ParseError is raised when a unit's source cannot be turned into a compilable form
type ParseError struct {
	VirtualPath string
	Line        int
	Message     string
	Err         error
}

func (e *ParseError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s(%d): %s", e.VirtualPath, e.Line, msg)
	}
	return fmt.Sprintf("parse error in %s: %s", e.VirtualPath, msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// CompileError is raised when the compiler rejected generated source. The first
// error diagnostic is the primary message; the full list is kept for tooling.
type CompileError struct {
	VirtualPath string
	Diagnostics []Diagnostic
}

// NewCompileError creates a compile error for a unit
func NewCompileError(vpath string, diags []Diagnostic) *CompileError {
	return &CompileError{VirtualPath: vpath, Diagnostics: diags}
}

// First returns the first error diagnostic, or the first diagnostic when
// none has error severity
func (e *CompileError) First() (Diagnostic, bool) {
	for _, d := range e.Diagnostics {
		if d.Severity == SeverityError {
			return d, true
		}
	}
	if len(e.Diagnostics) > 0 {
		return e.Diagnostics[0], true
	}
	return Diagnostic{}, false
}

func (e *CompileError) Error() string {
	d, ok := e.First()
	if !ok {
		return fmt.Sprintf("compilation of %s failed", e.VirtualPath)
	}
	return fmt.Sprintf("compilation of %s failed: %s", e.VirtualPath, d.String())
}

// CircularReferenceError is raised when a unit is requested again while it is
// still being built higher up in the same call chain
type CircularReferenceError struct {
	VirtualPath string
}

func (e *CircularReferenceError) Error() string {
	return fmt.Sprintf("circular reference detected for %s", e.VirtualPath)
}

// ErrorList aggregates errors collected during batch or precompilation
type ErrorList struct {
	errs []error
}

// Add appends a non-nil error. Nested lists are flattened.
func (l *ErrorList) Add(err error) {
	if err == nil {
		return
	}
	var nested *ErrorList
	if errors.As(err, &nested) && nested != l {
		l.errs = append(l.errs, nested.errs...)
		return
	}
	l.errs = append(l.errs, err)
}

// Len returns the number of collected errors
func (l *ErrorList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.errs)
}

// Errors returns the collected errors
func (l *ErrorList) Errors() []error {
	if l == nil {
		return nil
	}
	return l.errs
}

// Err returns nil when empty, the single error when only one was collected,
// and the list otherwise
func (l *ErrorList) Err() error {
	switch l.Len() {
	case 0:
		return nil
	case 1:
		return l.errs[0]
	default:
		return l
	}
}

func (l *ErrorList) Error() string {
	if l.Len() == 0 {
		return "no errors"
	}
	if len(l.errs) == 1 {
		return l.errs[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(l.errs[0].Error())
	fmt.Fprintf(&sb, " (and %d more errors)", len(l.errs)-1)
	return sb.String()
}

// Unwrap supports errors.Is and errors.As over every collected error
func (l *ErrorList) Unwrap() []error {
	return l.errs
}
