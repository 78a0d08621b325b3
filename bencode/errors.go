package bencode

import "errors"

// Decode errors. Each represents a distinct way canonically-encoded
// bencode can be malformed, per spec.md §4.1's canonicalization contract.
var (
	ErrUnexpectedEOF  = errors.New("bencode: unexpected end of input")
	ErrUnknownPrefix  = errors.New("bencode: unknown value prefix")
	ErrMalformedInt   = errors.New("bencode: malformed integer (leading zero or invalid -0)")
	ErrMalformedLen   = errors.New("bencode: malformed string length descriptor")
	ErrLengthOverrun  = errors.New("bencode: declared string length overruns input")
	ErrUnterminated   = errors.New("bencode: unterminated list or dict")
	ErrTrailingData   = errors.New("bencode: trailing bytes after complete value")
	ErrDuplicateKey   = errors.New("bencode: duplicate dict key")

	// ErrUnsupportedType is returned by Marshal when a Go value has no
	// bencode representation (e.g. a float or a channel).
	ErrUnsupportedType = errors.New("bencode: unsupported type for encoding")
	// ErrTypeMismatch is returned by Unmarshal when the wire value's kind
	// cannot populate the destination's Go type.
	ErrTypeMismatch = errors.New("bencode: wire value kind does not match destination type")
)
