// Package b64 provides the unpadded base64url and hex codecs the wire
// format builds on (spec.md §4.1, RFC 4648 §5).
package b64

import (
	"encoding/base64"
	"encoding/hex"
)

// Encode returns the unpadded base64url encoding of b.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode reverses Encode. It rejects padded input the same way
// base64.RawURLEncoding always has.
func Decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// EncodeHex returns the lowercase hex encoding of b.
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeHex reverses EncodeHex.
func DecodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
