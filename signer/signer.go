// Package signer implements the pluggable Signer abstraction of spec.md
// §4.6: raw secp256k1 for the nil/key header variants, and EIP-712
// typed-data for the ethr variant.
//
// Sign is modeled as a context-cancellable operation per spec.md §5: local
// signers resolve synchronously, but the interface is uniform so a
// wallet-RPC-backed EIP-712 signer can suspend on an external round trip
// without the builder assuming synchronous completion.
package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/nucproto/nuc/did"
	"github.com/nucproto/nuc/envelope"
	"github.com/nucproto/nuc/nucerr"
	"github.com/nucproto/nuc/payload"
)

// Signer is the abstraction every token-signing strategy implements
// (spec.md §4.6). p is the decoded payload being signed and signingInput is
// the exact header_b64+"."+payload_b64 bytes a raw-signature scheme covers;
// a typed-data scheme instead derives its own digest from p, since it
// cannot sign an opaque byte string.
type Signer interface {
	// Header returns the header this signer produces tokens under.
	Header() envelope.Header
	// DID returns the signer's own identity, used as a new token's iss.
	DID() did.DID
	// Sign returns the raw signature bytes for p/signingInput.
	Sign(ctx context.Context, p payload.Payload, signingInput []byte) ([]byte, error)
}

// --- raw secp256k1 (legacy / native) ---

// LocalSigner implements the legacy (nil) and native (key) header variants:
// a 64-byte compact secp256k1 signature (r||s) over SHA256(signingInput).
type LocalSigner struct {
	key    *secp256k1.PrivateKey
	header envelope.Header
	id     did.DID
}

// NewLegacySigner builds a LocalSigner producing HeaderLegacy tokens with
// issuer method nil.
func NewLegacySigner(key *secp256k1.PrivateKey) (*LocalSigner, error) {
	return newLocalSigner(key, envelope.LegacyHeader(), did.FromHex)
}

// NewNativeSigner builds a LocalSigner producing HeaderNative tokens with
// issuer method key.
func NewNativeSigner(key *secp256k1.PrivateKey) (*LocalSigner, error) {
	return newLocalSigner(key, envelope.NativeHeader(), did.FromPublicKey)
}

func newLocalSigner(key *secp256k1.PrivateKey, header envelope.Header, mkDID func([]byte) (did.DID, error)) (*LocalSigner, error) {
	if key == nil {
		return nil, nucerr.New(nucerr.KindInvalidDid, "nil signing key")
	}
	pub := key.PubKey().SerializeCompressed()
	id, err := mkDID(pub)
	if err != nil {
		return nil, err
	}
	return &LocalSigner{key: key, header: header, id: id}, nil
}

func (s *LocalSigner) Header() envelope.Header { return s.header }
func (s *LocalSigner) DID() did.DID            { return s.id }

// Sign computes a 64-byte compact (r||s) secp256k1 signature over
// SHA256(signingInput), per spec.md §4.6.
func (s *LocalSigner) Sign(_ context.Context, _ payload.Payload, signingInput []byte) ([]byte, error) {
	digest := sha256.Sum256(signingInput)
	ecdsaKey := s.key.ToECDSA()
	r, sVal, err := ecdsa.Sign(rand.Reader, ecdsaKey, digest[:])
	if err != nil {
		return nil, nucerr.Wrap(nucerr.KindSignatureVerificationFailed, "secp256k1 sign", err)
	}
	return compact64(r, sVal), nil
}

func compact64(r, s *big.Int) []byte {
	out := make([]byte, 64)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out
}

// --- EIP-712 (ethr) ---

// EIP712Signer signs NucPayload typed-data over an Ethereum secp256k1 key,
// for the ethr header variant.
type EIP712Signer struct {
	key    *ecdsa.PrivateKey
	domain envelope.EIP712Domain
	id     did.DID
}

// NewEIP712Signer builds an EIP712Signer. domain is embedded verbatim into
// every token's header meta so a verifier can reconstruct the same digest.
func NewEIP712Signer(key *ecdsa.PrivateKey, domain envelope.EIP712Domain) (*EIP712Signer, error) {
	if key == nil {
		return nil, nucerr.New(nucerr.KindInvalidDid, "nil signing key")
	}
	addr := gethcrypto.PubkeyToAddress(key.PublicKey)
	id, err := did.FromAddress(addr.Bytes())
	if err != nil {
		return nil, err
	}
	return &EIP712Signer{key: key, domain: domain, id: id}, nil
}

func (s *EIP712Signer) Header() envelope.Header {
	return envelope.EIP712Header(envelope.EIP712Meta{Domain: s.domain, PrimaryType: TypedDataPrimaryType})
}

func (s *EIP712Signer) DID() did.DID { return s.id }

// Sign builds the NucPayload typed-data digest for p under s.domain and
// signs it, returning a 65-byte (r||s||v) Ethereum signature. signingInput
// is unused: the EIP-712 scheme signs a structured digest of p, not the
// raw header.payload bytes.
func (s *EIP712Signer) Sign(_ context.Context, p payload.Payload, _ []byte) ([]byte, error) {
	td, err := TypedData(p, s.domain)
	if err != nil {
		return nil, err
	}
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, nucerr.Wrap(nucerr.KindSignatureVerificationFailed, "hashing typed data", err)
	}
	return gethcrypto.Sign(digest, s.key)
}

// TypedDataPrimaryType is the fixed EIP-712 primary type name NUC payloads
// sign under.
const TypedDataPrimaryType = "NucPayload"

// TypedData builds the EIP-712 typed-data document for p under domain, per
// spec.md §4.6/§4.8: "a fixed NucPayload schema derived from the payload
// JSON". Because EIP-712 requires statically typed fields but args/pol are
// open-ended JSON, the variable body is collapsed into a single bytes32
// content hash field ("body") — see the signer section of DESIGN.md.
func TypedData(p payload.Payload, domain envelope.EIP712Domain) (apitypes.TypedData, error) {
	bodyHash, err := BodyHash(p)
	if err != nil {
		return apitypes.TypedData{}, err
	}

	nonce32 := pad32(p.Nonce)
	prf := make([]interface{}, len(p.Proof))
	for i, h := range p.Proof {
		prf[i] = pad32(h)
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			TypedDataPrimaryType: {
				{Name: "iss", Type: "string"},
				{Name: "aud", Type: "string"},
				{Name: "sub", Type: "string"},
				{Name: "cmd", Type: "string"},
				{Name: "nbf", Type: "uint256"},
				{Name: "exp", Type: "uint256"},
				{Name: "body", Type: "bytes32"},
				{Name: "nonce", Type: "bytes32"},
				{Name: "prf", Type: "bytes32[]"},
			},
		},
		PrimaryType: TypedDataPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           bigFromInt64(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"iss":   p.Issuer.String(),
			"aud":   p.Audience.String(),
			"sub":   p.Subject.String(),
			"cmd":   p.Command.String(),
			"nbf":   optionalToBig(p.NotBefore),
			"exp":   optionalToBig(p.Expiry),
			"body":  bodyHash,
			"nonce": nonce32,
			"prf":   prf,
		},
	}, nil
}

// BodyHash hashes the variable body (args for an invocation, the policy
// list for a delegation) into a single fixed-width digest for the typed
// data schema.
func BodyHash(p payload.Payload) ([32]byte, error) {
	var raw []byte
	var err error
	if p.IsInvocation() {
		raw, err = json.Marshal(p.Args)
	} else {
		raw, err = json.Marshal(p.Pol)
	}
	if err != nil {
		return [32]byte{}, nucerr.Wrap(nucerr.KindInvalidPayload, "hashing payload body for typed data", err)
	}
	return sha256.Sum256(raw), nil
}

func pad32(b []byte) [32]byte {
	var out [32]byte
	if len(b) > 32 {
		copy(out[:], b[len(b)-32:])
		return out
	}
	copy(out[32-len(b):], b)
	return out
}

func optionalToBig(v *int64) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return big.NewInt(*v)
}

func bigFromInt64(v int64) *math.HexOrDecimal256 {
	return (*math.HexOrDecimal256)(big.NewInt(v))
}
