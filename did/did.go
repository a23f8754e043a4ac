// Package did implements the DID model of spec.md §3/§4.2: an opaque
// identifier tagged with a method (nil, key, ethr), backed by either a
// compressed secp256k1 public key or a 20-byte Ethereum address.
package did

import (
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"github.com/nucproto/nuc/b64"
	"github.com/nucproto/nuc/nucerr"
)

// Method identifies which of the three supported DID forms a DID carries.
type Method string

const (
	MethodNil  Method = "nil"
	MethodKey  Method = "key"
	MethodEthr Method = "ethr"
)

// secp256k1PubMulticodec is the multicodec varint prefix for a compressed
// secp256k1 public key (code 0xe7, varint-encoded as two bytes).
var secp256k1PubMulticodec = []byte{0xe7, 0x01}

// DID is a tagged identifier. The zero value is not valid; construct via
// FromHex, FromPublicKey, FromAddress, or Parse.
type DID struct {
	method Method
	// pubKey holds the 33-byte compressed secp256k1 public key for
	// MethodNil and MethodKey.
	pubKey []byte
	// addr holds the 20-byte Ethereum address for MethodEthr.
	addr [20]byte
}

// Method reports the DID's method.
func (d DID) Method() Method { return d.method }

// PublicKey returns the 33-byte compressed secp256k1 public key for
// nil/key DIDs, or nil for ethr DIDs.
func (d DID) PublicKey() []byte {
	if d.method == MethodEthr {
		return nil
	}
	cp := make([]byte, len(d.pubKey))
	copy(cp, d.pubKey)
	return cp
}

// Address returns the 20-byte Ethereum address for ethr DIDs, or the zero
// address otherwise.
func (d DID) Address() [20]byte { return d.addr }

// FromHex builds a MethodNil DID from a 33-byte compressed secp256k1 public
// key.
func FromHex(pubKey33 []byte) (DID, error) {
	return fromCompressedKey(MethodNil, pubKey33)
}

// FromPublicKey builds a MethodKey DID from a 33-byte compressed secp256k1
// public key.
func FromPublicKey(pubKey33 []byte) (DID, error) {
	return fromCompressedKey(MethodKey, pubKey33)
}

func fromCompressedKey(method Method, pubKey33 []byte) (DID, error) {
	if len(pubKey33) != 33 {
		return DID{}, nucerr.Newf(nucerr.KindInvalidDid, "public key must be 33 bytes, got %d", len(pubKey33))
	}
	if _, err := secp256k1.ParsePubKey(pubKey33); err != nil {
		return DID{}, nucerr.Wrap(nucerr.KindInvalidDid, "invalid compressed secp256k1 public key", err)
	}
	cp := make([]byte, 33)
	copy(cp, pubKey33)
	return DID{method: method, pubKey: cp}, nil
}

// FromAddress builds a MethodEthr DID from a 20-byte Ethereum address.
func FromAddress(addr20 []byte) (DID, error) {
	if len(addr20) != 20 {
		return DID{}, nucerr.Newf(nucerr.KindInvalidDid, "address must be 20 bytes, got %d", len(addr20))
	}
	var d DID
	d.method = MethodEthr
	copy(d.addr[:], addr20)
	return d, nil
}

// String renders the canonical serialized form: did:nil:<hex33>,
// did:key:<multibase>, or did:ethr:<0x-address>.
func (d DID) String() string {
	switch d.method {
	case MethodNil:
		return "did:nil:" + b64.EncodeHex(d.pubKey)
	case MethodKey:
		return "did:key:" + "z" + base58.Encode(append(append([]byte{}, secp256k1PubMulticodec...), d.pubKey...))
	case MethodEthr:
		return "did:ethr:" + common.BytesToAddress(d.addr[:]).Hex()
	default:
		return ""
	}
}

// Equal reports byte-exact equality over the canonical serialization.
func (d DID) Equal(other DID) bool {
	return d.String() == other.String()
}

// Parse parses a serialized DID string of any of the three supported forms.
func Parse(s string) (DID, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != "did" {
		return DID{}, nucerr.Newf(nucerr.KindInvalidDid, "not a did: URI: %q", s)
	}
	method, value := parts[1], parts[2]
	switch Method(method) {
	case MethodNil:
		pub, err := b64.DecodeHex(value)
		if err != nil {
			return DID{}, nucerr.Wrap(nucerr.KindInvalidDid, "did:nil hex decode", err)
		}
		return fromCompressedKey(MethodNil, pub)
	case MethodKey:
		if !strings.HasPrefix(value, "z") {
			return DID{}, nucerr.Newf(nucerr.KindInvalidDid, "did:key multibase must start with z: %q", value)
		}
		raw, err := base58.Decode(value[1:])
		if err != nil {
			return DID{}, nucerr.Wrap(nucerr.KindInvalidDid, "did:key base58 decode", err)
		}
		if len(raw) != len(secp256k1PubMulticodec)+33 || raw[0] != secp256k1PubMulticodec[0] || raw[1] != secp256k1PubMulticodec[1] {
			return DID{}, nucerr.Newf(nucerr.KindInvalidDid, "did:key unexpected multicodec prefix")
		}
		return fromCompressedKey(MethodKey, raw[len(secp256k1PubMulticodec):])
	case MethodEthr:
		if !common.IsHexAddress(value) {
			return DID{}, nucerr.Newf(nucerr.KindInvalidDid, "did:ethr invalid address: %q", value)
		}
		addr := common.HexToAddress(value)
		return FromAddress(addr.Bytes())
	default:
		return DID{}, nucerr.Newf(nucerr.KindInvalidDid, "unsupported did method: %q", method)
	}
}
