// Package envelope implements the JWT-style framing and tree-of-proofs
// serialization discipline of spec.md §3/§4.5: headers, signed tokens, and
// the envelope (main token + proofs) that a chain is validated from.
package envelope

import (
	"crypto/sha256"
	"encoding/json"
	"strings"

	"github.com/nucproto/nuc/b64"
	"github.com/nucproto/nuc/nucerr"
	"github.com/nucproto/nuc/payload"
)

// HeaderKind discriminates the three header shapes of spec.md §3.
type HeaderKind int

const (
	// HeaderLegacy: typ absent, alg ES256K, ver absent — raw secp256k1,
	// issuer method nil.
	HeaderLegacy HeaderKind = iota
	// HeaderNative: typ "nuc", alg ES256K, ver "1.0.0" — raw secp256k1,
	// issuer method key.
	HeaderNative
	// HeaderEIP712: typ "nuc+eip712", alg ES256K, ver "1.0.0", meta
	// {domain, primaryType} — EIP-712 typed-data, issuer method ethr.
	HeaderEIP712
)

// EIP712Meta carries the EIP-712 domain metadata a HeaderEIP712 header
// requires.
type EIP712Meta struct {
	Domain      EIP712Domain `json:"domain"`
	PrimaryType string       `json:"primaryType"`
}

// EIP712Domain is the subset of an EIP-712 domain separator NUC headers
// carry on the wire.
type EIP712Domain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// Header is a parsed NUC header.
type Header struct {
	Kind HeaderKind
	Meta *EIP712Meta // only set for HeaderEIP712
}

type wireHeader struct {
	Typ  string      `json:"typ,omitempty"`
	Alg  string      `json:"alg"`
	Ver  string      `json:"ver,omitempty"`
	Meta *EIP712Meta `json:"meta,omitempty"`
}

// LegacyHeader returns the absent-typ, ES256K header.
func LegacyHeader() Header { return Header{Kind: HeaderLegacy} }

// NativeHeader returns the typ:"nuc", ver:"1.0.0" header.
func NativeHeader() Header { return Header{Kind: HeaderNative} }

// EIP712Header returns the typ:"nuc+eip712" header carrying domain/primaryType
// metadata.
func EIP712Header(meta EIP712Meta) Header { return Header{Kind: HeaderEIP712, Meta: &meta} }

// MarshalJSON renders h per the three shapes in spec.md §3.
func (h Header) MarshalJSON() ([]byte, error) {
	w := wireHeader{Alg: "ES256K"}
	switch h.Kind {
	case HeaderLegacy:
		// typ/ver absent
	case HeaderNative:
		w.Typ = "nuc"
		w.Ver = "1.0.0"
	case HeaderEIP712:
		w.Typ = "nuc+eip712"
		w.Ver = "1.0.0"
		w.Meta = h.Meta
	default:
		return nil, nucerr.New(nucerr.KindInvalidNucHeader, "unknown header kind")
	}
	return json.Marshal(w)
}

// UnmarshalJSON matches data against the three header shapes in spec.md §3,
// failing with InvalidNucHeader on no match.
func (h *Header) UnmarshalJSON(data []byte) error {
	var w wireHeader
	if err := json.Unmarshal(data, &w); err != nil {
		return nucerr.Wrap(nucerr.KindInvalidNucHeader, "malformed header JSON", err)
	}
	if w.Alg != "ES256K" {
		return nucerr.Newf(nucerr.KindInvalidNucHeader, "unsupported alg %q", w.Alg)
	}
	switch {
	case w.Typ == "" && w.Ver == "" && w.Meta == nil:
		*h = Header{Kind: HeaderLegacy}
	case w.Typ == "nuc" && w.Ver == "1.0.0" && w.Meta == nil:
		*h = Header{Kind: HeaderNative}
	case w.Typ == "nuc+eip712" && w.Ver == "1.0.0" && w.Meta != nil:
		meta := *w.Meta
		*h = Header{Kind: HeaderEIP712, Meta: &meta}
	default:
		return nucerr.Newf(nucerr.KindInvalidNucHeader, "header matches no known shape: typ=%q ver=%q meta-present=%v", w.Typ, w.Ver, w.Meta != nil)
	}
	return nil
}

// SignedToken is a single header.payload.signature triple, keeping both the
// raw base64url segments it was built from (or parsed from) and the
// decoded payload, per spec.md §3: "Signed Token = (raw_header_b64,
// raw_payload_b64, signature_bytes, parsed_payload)".
type SignedToken struct {
	RawHeader  string // base64url, unpadded
	RawPayload string // base64url, unpadded
	Signature  []byte
	Header     Header
	Payload    payload.Payload
}

// SigningInput returns the exact ASCII bytes the signature covers:
// raw_header_b64 + "." + raw_payload_b64.
func (t SignedToken) SigningInput() []byte {
	return []byte(t.RawHeader + "." + t.RawPayload)
}

// Serialize renders the token as "header.payload.signature".
func (t SignedToken) Serialize() string {
	return t.RawHeader + "." + t.RawPayload + "." + b64.Encode(t.Signature)
}

// Hash returns SHA256(serialize_token(t)) as raw bytes (spec.md §4.5).
func (t SignedToken) Hash() [32]byte {
	return sha256.Sum256([]byte(t.Serialize()))
}

// Body decodes the token's raw payload segment into a generic JSON document
// for selector resolution, using the exact bytes the token carries rather
// than re-marshalling t.Payload.
func (t SignedToken) Body() (map[string]interface{}, error) {
	raw, err := b64.Decode(t.RawPayload)
	if err != nil {
		return nil, nucerr.Wrap(nucerr.KindInvalidNucStructure, "decoding payload segment", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nucerr.Wrap(nucerr.KindInvalidPayload, "decoding payload body", err)
	}
	return doc, nil
}

// NewSignedToken builds a SignedToken from an in-memory header and payload,
// computing fresh base64url segments. Used by the builder before signing.
func NewSignedToken(h Header, p payload.Payload) (SignedToken, error) {
	headerJSON, err := json.Marshal(h)
	if err != nil {
		return SignedToken{}, nucerr.Wrap(nucerr.KindInvalidNucHeader, "marshalling header", err)
	}
	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return SignedToken{}, nucerr.Wrap(nucerr.KindInvalidPayload, "marshalling payload", err)
	}
	return SignedToken{
		RawHeader:  b64.Encode(headerJSON),
		RawPayload: b64.Encode(payloadJSON),
		Header:     h,
		Payload:    p,
	}, nil
}

// parseToken parses a single "header.payload.signature" segment.
func parseToken(segment string) (SignedToken, error) {
	parts := strings.Split(segment, ".")
	if len(parts) != 3 {
		return SignedToken{}, nucerr.Newf(nucerr.KindInvalidNucStructure, "token must have 3 dot-separated parts, got %d", len(parts))
	}
	rawHeader, rawPayload, rawSig := parts[0], parts[1], parts[2]

	headerBytes, err := b64.Decode(rawHeader)
	if err != nil {
		return SignedToken{}, nucerr.Wrap(nucerr.KindInvalidNucStructure, "decoding header segment", err)
	}
	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return SignedToken{}, err
	}

	payloadBytes, err := b64.Decode(rawPayload)
	if err != nil {
		return SignedToken{}, nucerr.Wrap(nucerr.KindInvalidNucStructure, "decoding payload segment", err)
	}
	var p payload.Payload
	if err := json.Unmarshal(payloadBytes, &p); err != nil {
		return SignedToken{}, err
	}

	sig, err := b64.Decode(rawSig)
	if err != nil {
		return SignedToken{}, nucerr.Wrap(nucerr.KindInvalidNucStructure, "decoding signature segment", err)
	}

	return SignedToken{
		RawHeader:  rawHeader,
		RawPayload: rawPayload,
		Signature:  sig,
		Header:     header,
		Payload:    p,
	}, nil
}

// Envelope is a main token plus its ordered proofs (spec.md §3). Proofs are
// listed in no canonical order; the validator reconstructs the chain by
// hash lookup.
type Envelope struct {
	Main   SignedToken
	Proofs []SignedToken
}

// Serialize renders the envelope per spec.md §4.5:
// join([main, ...proofs].map(serialize_token), "/").
func (e Envelope) Serialize() string {
	parts := make([]string, 0, 1+len(e.Proofs))
	parts = append(parts, e.Main.Serialize())
	for _, p := range e.Proofs {
		parts = append(parts, p.Serialize())
	}
	return strings.Join(parts, "/")
}

// Parse parses a serialized envelope per spec.md §4.5.
func Parse(s string) (Envelope, error) {
	segments := strings.Split(s, "/")
	tokens := make([]SignedToken, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			return Envelope{}, nucerr.New(nucerr.KindEmptyToken, "empty token segment in envelope")
		}
		t, err := parseToken(seg)
		if err != nil {
			return Envelope{}, err
		}
		tokens = append(tokens, t)
	}
	if len(tokens) == 0 {
		return Envelope{}, nucerr.New(nucerr.KindEmptyToken, "envelope has no tokens")
	}
	return Envelope{Main: tokens[0], Proofs: tokens[1:]}, nil
}
