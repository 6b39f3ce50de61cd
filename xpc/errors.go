package xpc

import "errors"

// Decode and conversion failures wrap one of these sentinels so callers can
// tell payload-level corruption apart from transport failures with errors.Is.
var (
	// ErrTruncated means a read would have run past the end of the buffer,
	// either because the input is short or because a length or count field
	// claims more bytes than are there.
	ErrTruncated = errors.New("xpc: truncated input")
	// ErrBadMagic means a magic number or format version did not match.
	ErrBadMagic = errors.New("xpc: wrong magic or version")
	// ErrUnknownType means a type tag matches no known object type.
	ErrUnknownType = errors.New("xpc: unknown type tag")
	// ErrMalformedString means a string payload is not valid UTF-8 or is not
	// NUL terminated.
	ErrMalformedString = errors.New("xpc: malformed string")
	// ErrUnsupportedValue means a property list value has no representation
	// as an Object (dates, reals and UIDs).
	ErrUnsupportedValue = errors.New("xpc: unsupported property list value")
	// ErrConvert means a Go value could not be serialized for conversion.
	// This indicates a programmer error, not corrupt input.
	ErrConvert = errors.New("xpc: cannot convert value")
)
