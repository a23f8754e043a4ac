// Package sigverify implements the header-dispatched signature validation
// of spec.md §4.6: raw secp256k1 for the legacy/native headers, EIP-712
// typed-data recovery for the ethr header.
package sigverify

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/nucproto/nuc/did"
	"github.com/nucproto/nuc/envelope"
	"github.com/nucproto/nuc/nucerr"
	"github.com/nucproto/nuc/signer"
)

// Verify checks t's signature against its claimed issuer, dispatching on
// t.Header.Kind per spec.md §4.6. It also enforces the method the header
// kind requires of the issuer DID (legacy -> nil, native -> key, eip712 ->
// ethr), failing with KindIssuerMethodMismatch otherwise.
func Verify(t envelope.SignedToken) error {
	issuer := t.Payload.Issuer
	switch t.Header.Kind {
	case envelope.HeaderLegacy:
		if issuer.Method() != did.MethodNil {
			return nucerr.Newf(nucerr.KindIssuerMethodMismatch, "legacy header requires did:nil issuer, got %s", issuer.Method())
		}
		return verifyCompact(t, issuer)
	case envelope.HeaderNative:
		if issuer.Method() != did.MethodKey {
			return nucerr.Newf(nucerr.KindIssuerMethodMismatch, "native header requires did:key issuer, got %s", issuer.Method())
		}
		return verifyCompact(t, issuer)
	case envelope.HeaderEIP712:
		if issuer.Method() != did.MethodEthr {
			return nucerr.Newf(nucerr.KindIssuerMethodMismatch, "eip712 header requires did:ethr issuer, got %s", issuer.Method())
		}
		return verifyEIP712(t, issuer)
	default:
		return nucerr.New(nucerr.KindInvalidNucHeader, "unknown header kind")
	}
}

// verifyCompact checks a 64-byte compact (r||s) secp256k1 signature over
// SHA256(t.SigningInput()) against issuer's public key.
func verifyCompact(t envelope.SignedToken, issuer did.DID) error {
	if len(t.Signature) != 64 {
		return nucerr.Newf(nucerr.KindSignatureVerificationFailed, "compact signature must be 64 bytes, got %d", len(t.Signature))
	}
	pub, err := secp256k1.ParsePubKey(issuer.PublicKey())
	if err != nil {
		return nucerr.Wrap(nucerr.KindInvalidDid, "parsing issuer public key", err)
	}

	r := new(big.Int).SetBytes(t.Signature[:32])
	s := new(big.Int).SetBytes(t.Signature[32:])

	digest := sha256.Sum256(t.SigningInput())
	if !ecdsa.Verify(pub.ToECDSA(), digest[:], r, s) {
		return nucerr.New(nucerr.KindSignatureVerificationFailed, "secp256k1 signature verification failed")
	}
	return nil
}

// verifyEIP712 rebuilds the NucPayload typed-data digest from the token's
// own header metadata and payload, recovers the signer, and checks it
// against issuer's address.
func verifyEIP712(t envelope.SignedToken, issuer did.DID) error {
	if t.Header.Meta == nil {
		return nucerr.New(nucerr.KindInvalidNucHeader, "eip712 header missing domain metadata")
	}
	if len(t.Signature) != 65 {
		return nucerr.Newf(nucerr.KindSignatureVerificationFailed, "eip712 signature must be 65 bytes, got %d", len(t.Signature))
	}

	td, err := signer.TypedData(t.Payload, t.Header.Meta.Domain)
	if err != nil {
		return err
	}
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nucerr.Wrap(nucerr.KindSignatureVerificationFailed, "hashing typed data", err)
	}

	pub, err := gethcrypto.SigToPub(digest, t.Signature)
	if err != nil {
		return nucerr.Wrap(nucerr.KindSignatureVerificationFailed, "recovering public key", err)
	}
	recovered := gethcrypto.PubkeyToAddress(*pub)
	want := common.Address(issuer.Address())
	if recovered != want {
		return nucerr.Newf(nucerr.KindSignatureVerificationFailed, "recovered address %s does not match issuer %s", recovered.Hex(), issuer.String())
	}
	return nil
}
