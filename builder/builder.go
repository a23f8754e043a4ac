// Package builder implements the fluent token construction of spec.md
// §4.7: root and chained delegations/invocations, auto-filled bookkeeping
// fields, and final signing into a wire-ready Envelope.
package builder

import (
	"context"

	"github.com/google/uuid"

	"github.com/nucproto/nuc/command"
	"github.com/nucproto/nuc/did"
	"github.com/nucproto/nuc/envelope"
	"github.com/nucproto/nuc/nucerr"
	"github.com/nucproto/nuc/payload"
	"github.com/nucproto/nuc/policy"
	"github.com/nucproto/nuc/signer"
)

// Builder accumulates a payload's fields before signing. Zero value is not
// usable; start from Delegation, Invocation, DelegationFrom, or
// InvocationFrom.
type Builder struct {
	audience  did.DID
	subject   did.DID
	cmd       command.Command
	pol       policy.List
	args      map[string]interface{}
	isInvoke  bool
	notBefore *int64
	expiry    *int64
	meta      map[string]interface{}
	proofs    []envelope.SignedToken
	parent    *payload.Payload

	hasAudience bool
	hasSubject  bool
	hasCommand  bool

	err error
}

// Delegation starts a root delegation token.
func Delegation() *Builder { return &Builder{pol: policy.List{}} }

// Invocation starts a root invocation token.
func Invocation() *Builder {
	return &Builder{isInvoke: true, args: map[string]interface{}{}}
}

// DelegationFrom extends env into a child delegation: env's main token
// becomes this token's first proof, and its own proofs chain along
// transitively. The subject is inherited from the parent (child.sub =
// parent.sub); the issuer comes from the signer, and Sign checks that it
// equals the parent's audience. Callers still set Audience/Command/Policy
// explicitly.
func DelegationFrom(env envelope.Envelope) *Builder {
	b := &Builder{pol: policy.List{}}
	b.inheritFrom(env)
	return b
}

// InvocationFrom extends env into a child invocation.
func InvocationFrom(env envelope.Envelope) *Builder {
	b := &Builder{isInvoke: true, args: map[string]interface{}{}}
	b.inheritFrom(env)
	return b
}

func (b *Builder) inheritFrom(env envelope.Envelope) {
	parent := env.Main.Payload
	b.parent = &parent
	b.subject = parent.Subject
	b.hasSubject = true
	b.proofs = append([]envelope.SignedToken{env.Main}, env.Proofs...)
}

// Audience sets the token's audience DID.
func (b *Builder) Audience(aud did.DID) *Builder {
	b.audience = aud
	b.hasAudience = true
	return b
}

// Subject sets the token's subject DID, overriding any inherited one.
func (b *Builder) Subject(sub did.DID) *Builder {
	b.subject = sub
	b.hasSubject = true
	return b
}

// Command sets the token's command path.
func (b *Builder) Command(cmd command.Command) *Builder {
	b.cmd = cmd
	b.hasCommand = true
	return b
}

// Policy sets a delegation's policy list. No-op on an invocation builder.
func (b *Builder) Policy(pol policy.List) *Builder {
	if !b.isInvoke {
		b.pol = pol
	}
	return b
}

// Arguments sets an invocation's argument map. No-op on a delegation
// builder.
func (b *Builder) Arguments(args map[string]interface{}) *Builder {
	if b.isInvoke {
		b.args = args
	}
	return b
}

// NotBefore sets an explicit nbf (Unix seconds).
func (b *Builder) NotBefore(unixSeconds int64) *Builder {
	v := unixSeconds
	b.notBefore = &v
	return b
}

// ExpiresIn sets exp = now + seconds.
func (b *Builder) ExpiresIn(now int64, seconds int64) *Builder {
	v := now + seconds
	b.expiry = &v
	return b
}

// Meta attaches free-form metadata to the payload.
func (b *Builder) Meta(meta map[string]interface{}) *Builder {
	b.meta = meta
	return b
}

// Sign finalizes the builder: fills iss/nonce from signer, validates the
// chain-from-parent constraints of spec.md §4.7 when extending a parent
// envelope, signs, and returns the resulting Envelope.
func (b *Builder) Sign(ctx context.Context, s signer.Signer) (envelope.Envelope, error) {
	if !b.hasAudience {
		return envelope.Envelope{}, nucerr.New(nucerr.KindInvalidPayload, "builder: audience is required")
	}
	if !b.hasSubject {
		return envelope.Envelope{}, nucerr.New(nucerr.KindInvalidPayload, "builder: subject is required")
	}
	if !b.hasCommand {
		return envelope.Envelope{}, nucerr.New(nucerr.KindInvalidPayload, "builder: command is required")
	}

	id := uuid.New()
	nonce := id[:]

	var proof [][]byte
	for _, p := range b.proofs {
		h := p.Hash()
		proof = append(proof, h[:])
	}

	var p payload.Payload
	if b.isInvoke {
		p = payload.NewInvocation(s.DID(), b.audience, b.subject, b.cmd, b.args)
	} else {
		p = payload.NewDelegation(s.DID(), b.audience, b.subject, b.cmd, b.pol)
	}
	p.NotBefore, p.Expiry, p.Nonce, p.Proof, p.Meta = b.notBefore, b.expiry, nonce, proof, b.meta

	if b.parent != nil {
		if err := checkChainFromParent(p, *b.parent); err != nil {
			return envelope.Envelope{}, err
		}
	}

	token, err := envelope.NewSignedToken(s.Header(), p)
	if err != nil {
		return envelope.Envelope{}, err
	}
	sig, err := s.Sign(ctx, p, token.SigningInput())
	if err != nil {
		return envelope.Envelope{}, err
	}
	token.Signature = sig

	return envelope.Envelope{Main: token, Proofs: b.proofs}, nil
}

// checkChainFromParent enforces spec.md §4.7's build-time constraints; the
// same checks are re-run by the chain validator on receipt.
func checkChainFromParent(child, parent payload.Payload) error {
	if !child.Subject.Equal(parent.Subject) {
		return nucerr.New(nucerr.KindDifferentSubjects, "child subject must equal parent subject")
	}
	if !child.Issuer.Equal(parent.Audience) {
		return nucerr.New(nucerr.KindIssuerAudienceMismatch, "child issuer must equal parent audience")
	}
	if !child.Command.IsRevoke() && !child.Command.Attenuates(parent.Command) {
		return nucerr.New(nucerr.KindCommandNotAttenuated, "child command must attenuate parent command")
	}
	if child.NotBefore != nil && parent.NotBefore != nil && *child.NotBefore < *parent.NotBefore {
		return nucerr.New(nucerr.KindInvalidTemporalWindow, "child nbf must be >= parent nbf")
	}
	if child.Expiry != nil && parent.Expiry != nil && *child.Expiry > *parent.Expiry {
		return nucerr.New(nucerr.KindInvalidTemporalWindow, "child exp must be <= parent exp")
	}
	return nil
}
