package pathacl

import "errors"

var (
	// ErrMalformedRules reports a rule document that cannot be parsed or
	// structured as a path-to-patterns mapping.
	ErrMalformedRules = errors.New("pathacl: malformed rule data")

	// ErrInvalidInput reports a query that violates the caller contract
	// (empty path or empty identity email).
	ErrInvalidInput = errors.New("pathacl: invalid input")

	// ErrMissingSource reports a rule source that cannot be read at
	// construction time. There is no previous generation to fall back to,
	// so this is fatal.
	ErrMissingSource = errors.New("pathacl: rule source missing")

	// ErrBadSignature reports a rule bundle whose signature does not verify.
	ErrBadSignature = errors.New("pathacl: bad bundle signature")
)
