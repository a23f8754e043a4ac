// Package validator implements the chain validator of spec.md §4.9/§4.10:
// the state machine that assembles a proof chain from an envelope and
// checks root trust, signatures, linkage, temporal validity, structural
// policy limits, and policy satisfaction.
package validator

import (
	"bytes"
	"time"

	"github.com/nucproto/nuc/did"
	"github.com/nucproto/nuc/envelope"
	"github.com/nucproto/nuc/nucerr"
	"github.com/nucproto/nuc/payload"
	"github.com/nucproto/nuc/sigverify"
)

// Default structural limits (spec.md §4.9).
const (
	DefaultMaxChainLength = 5
	DefaultMaxPolicyWidth = 10
	DefaultMaxPolicyDepth = 5
)

// RequirementKind discriminates the main-token type/audience requirement a
// validation run enforces.
type RequirementKind int

const (
	// RequireNone imposes no constraint on the main token's type/audience.
	RequireNone RequirementKind = iota
	// RequireInvocation requires the main token be an invocation addressed
	// to Audience.
	RequireInvocation
	// RequireDelegation requires the main token be a delegation addressed
	// to Audience.
	RequireDelegation
)

// TokenRequirements is the tokenRequirements parameter of spec.md §4.9.
type TokenRequirements struct {
	Kind     RequirementKind
	Audience did.DID
}

// Params bundles the chain validator's configuration (spec.md §4.9).
type Params struct {
	// RootIssuers is the set of DID strings permitted as the chain's
	// terminal issuer.
	RootIssuers map[string]bool
	// MaxChainLength, MaxPolicyWidth, MaxPolicyDepth bound chain/policy
	// structure.
	MaxChainLength int
	MaxPolicyWidth int
	MaxPolicyDepth int
	// Requirements constrains the main token's type/audience.
	Requirements TokenRequirements
	// Context is the external document $-selectors resolve against.
	Context map[string]interface{}
	// Now returns the current Unix time; defaults to wall clock.
	Now func() int64
}

// DefaultParams returns Params with spec.md's default structural limits,
// RequireNone token requirements, an empty context, and the wall clock as
// time source. RootIssuers holds the string form of each DID in rootIssuers.
func DefaultParams(rootIssuers ...did.DID) Params {
	roots := make(map[string]bool, len(rootIssuers))
	for _, d := range rootIssuers {
		roots[d.String()] = true
	}
	return Params{
		RootIssuers:    roots,
		MaxChainLength: DefaultMaxChainLength,
		MaxPolicyWidth: DefaultMaxPolicyWidth,
		MaxPolicyDepth: DefaultMaxPolicyDepth,
		Context:        map[string]interface{}{},
		Now:            func() int64 { return time.Now().Unix() },
	}
}

func (p Params) now() int64 {
	if p.Now == nil {
		return time.Now().Unix()
	}
	return p.Now()
}

// Validate runs the full chain validation algorithm of spec.md §4.10 over
// env and returns the validated main payload on success.
func Validate(env envelope.Envelope, params Params) (payload.Payload, error) {
	chain, err := assembleChain(env)
	if err != nil {
		return payload.Payload{}, err
	}

	if len(chain) > params.MaxChainLength {
		return payload.Payload{}, nucerr.Newf(nucerr.KindChainTooLong, "chain has %d tokens, limit %d", len(chain), params.MaxChainLength)
	}

	root := chain[len(chain)-1].Payload
	if !params.RootIssuers[root.Issuer.String()] {
		return payload.Payload{}, nucerr.Newf(nucerr.KindRootKeySignatureMissing, "root issuer %s is not trusted", root.Issuer.String())
	}

	for _, t := range chain {
		if err := sigverify.Verify(t); err != nil {
			return payload.Payload{}, err
		}
	}

	if err := checkTokenRequirements(chain[0].Payload, params.Requirements); err != nil {
		return payload.Payload{}, err
	}
	for _, t := range chain[1:] {
		if t.Payload.IsInvocation() {
			return payload.Payload{}, nucerr.New(nucerr.KindNotADelegation, "non-main token in chain must be a delegation")
		}
	}

	for i := 0; i < len(chain)-1; i++ {
		if err := checkLinkage(chain[i].Payload, chain[i+1].Payload); err != nil {
			return payload.Payload{}, err
		}
	}

	now := params.now()
	for _, t := range chain {
		if err := checkTemporal(t.Payload, now); err != nil {
			return payload.Payload{}, err
		}
	}

	for _, t := range chain {
		if t.Payload.IsInvocation() {
			continue
		}
		if d := t.Payload.Pol.Depth(); d > params.MaxPolicyDepth {
			return payload.Payload{}, nucerr.Newf(nucerr.KindPolicyTooDeep, "policy depth %d exceeds limit %d", d, params.MaxPolicyDepth)
		}
		if w := t.Payload.Pol.Width(); w > params.MaxPolicyWidth {
			return payload.Payload{}, nucerr.Newf(nucerr.KindPolicyTooWide, "policy width %d exceeds limit %d", w, params.MaxPolicyWidth)
		}
	}

	main := chain[0].Payload
	if main.IsInvocation() {
		body, err := chain[0].Body()
		if err != nil {
			return payload.Payload{}, err
		}
		for _, t := range chain[1:] {
			if !t.Payload.Pol.Eval(body, params.Context) {
				return payload.Payload{}, nucerr.New(nucerr.KindPolicyNotMet, "policy not satisfied by invocation arguments")
			}
		}
	}

	return main, nil
}

// assembleChain reconstructs [main, p1, p2, ..., root] by following each
// token's prf[0] hash through env.Proofs (spec.md §4.10 step 1).
func assembleChain(env envelope.Envelope) ([]envelope.SignedToken, error) {
	pool := make([]envelope.SignedToken, len(env.Proofs))
	copy(pool, env.Proofs)
	reached := make([]bool, len(pool))

	chain := []envelope.SignedToken{env.Main}
	cur := env.Main
	for len(cur.Payload.Proof) > 0 {
		wantHash := cur.Payload.Proof[0]
		idx := -1
		for i, cand := range pool {
			h := cand.Hash()
			if bytes.Equal(h[:], wantHash) {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil, nucerr.New(nucerr.KindMissingProof, "no pool token matches the next proof hash")
		}
		reached[idx] = true
		cur = pool[idx]
		chain = append(chain, cur)
	}

	for _, ok := range reached {
		if !ok {
			return nil, nucerr.New(nucerr.KindUnchainedProofs, "envelope contains proofs not reachable from the main token")
		}
	}

	return chain, nil
}

func checkTokenRequirements(main payload.Payload, req TokenRequirements) error {
	switch req.Kind {
	case RequireNone:
		return nil
	case RequireInvocation:
		if !main.IsInvocation() {
			return nucerr.New(nucerr.KindNeedInvocation, "main token must be an invocation")
		}
	case RequireDelegation:
		if main.IsInvocation() {
			return nucerr.New(nucerr.KindNeedDelegation, "main token must be a delegation")
		}
	}
	if !main.Audience.Equal(req.Audience) {
		return nucerr.New(nucerr.KindInvalidAudience, "main token audience does not match the required audience")
	}
	return nil
}

func checkLinkage(child, parent payload.Payload) error {
	if !child.Issuer.Equal(parent.Audience) {
		return nucerr.New(nucerr.KindIssuerAudienceMismatch, "child issuer must equal parent audience")
	}
	if !child.Subject.Equal(parent.Subject) {
		return nucerr.New(nucerr.KindDifferentSubjects, "child subject must equal parent subject")
	}
	if !child.Command.IsRevoke() && !child.Command.Attenuates(parent.Command) {
		return nucerr.New(nucerr.KindCommandNotAttenuated, "child command must attenuate parent command")
	}
	if err := checkTemporalNesting(child, parent); err != nil {
		return err
	}
	return nil
}

func checkTemporalNesting(child, parent payload.Payload) error {
	if child.NotBefore != nil && parent.NotBefore != nil && *child.NotBefore < *parent.NotBefore {
		return nucerr.New(nucerr.KindInvalidTemporalWindow, "child nbf falls outside parent window")
	}
	if child.Expiry != nil && parent.Expiry != nil && *child.Expiry > *parent.Expiry {
		return nucerr.New(nucerr.KindInvalidTemporalWindow, "child exp falls outside parent window")
	}
	return nil
}

func checkTemporal(p payload.Payload, now int64) error {
	if p.NotBefore != nil && now < *p.NotBefore {
		return nucerr.New(nucerr.KindNotYetValid, "token is not yet valid")
	}
	if p.Expiry != nil && now >= *p.Expiry {
		return nucerr.New(nucerr.KindExpired, "token has expired")
	}
	return nil
}
