package host

import "errors"

var (
	// ErrNotADirectory is returned when the site root is a file
	ErrNotADirectory = errors.New("site root is not a directory")

	// ErrUnknownLanguage is returned for a directive naming an unregistered language
	ErrUnknownLanguage = errors.New("unknown language")

	// ErrMissingDirective is returned for markup without a main directive
	ErrMissingDirective = errors.New("missing main directive")
)
