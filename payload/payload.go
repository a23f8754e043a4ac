// Package payload implements the NUC token payload of spec.md §3/§6: the
// delegation/invocation discriminant, DID/command/temporal fields, and the
// wire JSON schema.
package payload

import (
	"encoding/json"

	"github.com/nucproto/nuc/b64"
	"github.com/nucproto/nuc/command"
	"github.com/nucproto/nuc/did"
	"github.com/nucproto/nuc/nucerr"
	"github.com/nucproto/nuc/policy"
)

// Payload is a token's signed body. Exactly one of Args (invocation) or Pol
// (delegation) is set; Kind reports which.
type Payload struct {
	Issuer   did.DID
	Audience did.DID
	Subject  did.DID
	Command  command.Command

	NotBefore *int64 // Unix seconds, optional
	Expiry    *int64 // Unix seconds, optional

	Args map[string]interface{} // invocation body; nil for delegations
	Pol  policy.List             // delegation policy; nil for invocations

	Nonce []byte   // arbitrary bytes
	Proof [][]byte // ordered proof-token hashes
	Meta  map[string]interface{}

	// isInvocation disambiguates an empty-but-present Args/Pol from an
	// absent one (both Args and Pol can legitimately be empty/nil-length).
	isInvocation bool
}

// Kind discriminates delegation vs invocation payloads.
type Kind int

const (
	KindDelegation Kind = iota
	KindInvocation
)

// Kind reports whether p is a delegation or an invocation.
func (p Payload) Kind() Kind {
	if p.isInvocation {
		return KindInvocation
	}
	return KindDelegation
}

// IsInvocation reports whether p carries args (invocation) rather than a
// policy (delegation).
func (p Payload) IsInvocation() bool { return p.isInvocation }

// NewDelegation constructs a delegation payload with policy pol (possibly
// empty).
func NewDelegation(iss, aud, sub did.DID, cmd command.Command, pol policy.List) Payload {
	if pol == nil {
		pol = policy.List{}
	}
	return Payload{Issuer: iss, Audience: aud, Subject: sub, Command: cmd, Pol: pol}
}

// NewInvocation constructs an invocation payload with args (possibly
// empty).
func NewInvocation(iss, aud, sub did.DID, cmd command.Command, args map[string]interface{}) Payload {
	if args == nil {
		args = map[string]interface{}{}
	}
	return Payload{Issuer: iss, Audience: aud, Subject: sub, Command: cmd, Args: args, isInvocation: true}
}

// wireForm mirrors the on-the-wire JSON schema of spec.md §6.
type wireForm struct {
	Iss   string                 `json:"iss"`
	Aud   string                 `json:"aud"`
	Sub   string                 `json:"sub"`
	Cmd   string                 `json:"cmd"`
	Nbf   *int64                 `json:"nbf,omitempty"`
	Exp   *int64                 `json:"exp,omitempty"`
	Args  json.RawMessage        `json:"args,omitempty"`
	Pol   json.RawMessage        `json:"pol,omitempty"`
	Nonce string                 `json:"nonce"`
	Prf   []string               `json:"prf"`
	Meta  map[string]interface{} `json:"meta,omitempty"`
}

// MarshalJSON serializes p per the wire schema. Used when the producer
// (builder) constructs a fresh token locally; a token already on the wire
// is never re-marshalled for hashing or raw-secp256k1 verification — those
// always work over the exact received bytes per spec.md §4.1/§4.5. EIP-712
// verification instead rebuilds its typed-data digest from the decoded
// payload fields.
func (p Payload) MarshalJSON() ([]byte, error) {
	w := wireForm{
		Iss:   p.Issuer.String(),
		Aud:   p.Audience.String(),
		Sub:   p.Subject.String(),
		Cmd:   p.Command.String(),
		Nbf:   p.NotBefore,
		Exp:   p.Expiry,
		Nonce: b64.EncodeHex(p.Nonce),
		Meta:  p.Meta,
	}
	w.Prf = make([]string, len(p.Proof))
	for i, h := range p.Proof {
		w.Prf[i] = b64.EncodeHex(h)
	}
	if p.isInvocation {
		args := p.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		argsJSON, err := json.Marshal(args)
		if err != nil {
			return nil, nucerr.Wrap(nucerr.KindInvalidPayload, "marshalling args", err)
		}
		w.Args = argsJSON
	} else {
		polJSON, err := json.Marshal(p.Pol)
		if err != nil {
			return nil, nucerr.Wrap(nucerr.KindInvalidPolicy, "marshalling policy list", err)
		}
		w.Pol = polJSON
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire schema into p, enforcing the exactly-one-of
// args/pol invariant (spec.md §3).
func (p *Payload) UnmarshalJSON(data []byte) error {
	var w struct {
		Iss   string                 `json:"iss"`
		Aud   string                 `json:"aud"`
		Sub   string                 `json:"sub"`
		Cmd   string                 `json:"cmd"`
		Nbf   *int64                 `json:"nbf"`
		Exp   *int64                 `json:"exp"`
		Args  json.RawMessage        `json:"args"`
		Pol   json.RawMessage        `json:"pol"`
		Nonce string                 `json:"nonce"`
		Prf   []string               `json:"prf"`
		Meta  map[string]interface{} `json:"meta"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return nucerr.Wrap(nucerr.KindInvalidPayload, "malformed payload JSON", err)
	}

	hasArgs := len(w.Args) > 0 && string(w.Args) != "null"
	hasPol := len(w.Pol) > 0 && string(w.Pol) != "null"
	if hasArgs == hasPol {
		return nucerr.New(nucerr.KindInvalidPayload, "exactly one of args or pol must be present")
	}

	iss, err := did.Parse(w.Iss)
	if err != nil {
		return err
	}
	aud, err := did.Parse(w.Aud)
	if err != nil {
		return err
	}
	sub, err := did.Parse(w.Sub)
	if err != nil {
		return err
	}

	nonce, err := b64.DecodeHex(w.Nonce)
	if err != nil {
		return nucerr.Wrap(nucerr.KindInvalidPayload, "invalid nonce hex", err)
	}

	prf := make([][]byte, len(w.Prf))
	for i, h := range w.Prf {
		hb, err := b64.DecodeHex(h)
		if err != nil {
			return nucerr.Wrap(nucerr.KindInvalidPayload, "invalid proof hash hex", err)
		}
		prf[i] = hb
	}

	out := Payload{
		Issuer:    iss,
		Audience:  aud,
		Subject:   sub,
		Command:   command.Parse(w.Cmd),
		NotBefore: w.Nbf,
		Expiry:    w.Exp,
		Nonce:     nonce,
		Proof:     prf,
		Meta:      w.Meta,
	}

	if hasArgs {
		var args map[string]interface{}
		if err := json.Unmarshal(w.Args, &args); err != nil {
			return nucerr.Wrap(nucerr.KindInvalidPayload, "args must be a JSON object", err)
		}
		out.Args = args
		out.isInvocation = true
	} else {
		pol, err := policy.ParseList(w.Pol)
		if err != nil {
			return err
		}
		out.Pol = pol
	}

	*p = out
	return nil
}
