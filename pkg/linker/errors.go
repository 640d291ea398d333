package linker

import "errors"

var (
	// ErrSymbolConflict reports a second strong definition of an already
	// defined symbol.
	ErrSymbolConflict = errors.New("multiple definition")

	// ErrUndefinedSymbols reports that resolution finished with undefined
	// entries while the policy disallows them.
	ErrUndefinedSymbols = errors.New("undefined symbols")

	// ErrSymbolNotFound reports a failed table lookup.
	ErrSymbolNotFound = errors.New("symbol not found")

	// ErrInvalidInput reports a configuration error detected before any
	// mutation took place.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotConfigured reports use of a linker that has not been set up.
	ErrNotConfigured = errors.New("linker not configured")

	// ErrBadObjectFile reports an unparseable or truncated object file.
	ErrBadObjectFile = errors.New("bad object file")
)
