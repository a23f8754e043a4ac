// Package gateway is the library's worked example: an HTTP middleware that
// authorizes a request by validating a bearer-presented NUC envelope
// before forwarding to an upstream handler. It is built the same way the
// teacher gates its reverse proxy behind a payment check: a single
// ServeHTTP that inspects credentials, then either rejects or delegates to
// Next.
package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"log/slog"

	"github.com/nucproto/nuc/envelope"
	"github.com/nucproto/nuc/nucerr"
	"github.com/nucproto/nuc/validator"
)

// authHeader is the request header carrying the serialized NUC envelope.
const authHeader = "Authorization"

// MiddlewareConfig groups the dependencies of the gateway middleware.
type MiddlewareConfig struct {
	// Params configures the chain validator run against every presented
	// envelope.
	Params validator.Params
	// Next is the handler invoked once a presented envelope validates.
	Next http.Handler
}

// Middleware gates Next behind NUC invocation validation.
type Middleware struct {
	cfg MiddlewareConfig
}

// NewMiddleware builds a Middleware from cfg.
func NewMiddleware(cfg MiddlewareConfig) *Middleware {
	return &Middleware{cfg: cfg}
}

// ServeHTTP implements http.Handler.
func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	authValue := r.Header.Get(authHeader)
	if !strings.HasPrefix(authValue, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "missing bearer NUC envelope", "")
		return
	}
	serialized := strings.TrimPrefix(authValue, "Bearer ")

	env, err := envelope.Parse(serialized)
	if err != nil {
		kind, _ := nucerr.KindOf(err)
		slog.Warn("rejecting malformed envelope", "err", err)
		writeError(w, http.StatusBadRequest, "malformed NUC envelope", string(kind))
		return
	}

	main, err := validator.Validate(env, m.cfg.Params)
	if err != nil {
		kind, _ := nucerr.KindOf(err)
		slog.Warn("rejecting invalid envelope", "err", err, "kind", kind)
		writeError(w, statusForKind(kind), "NUC validation failed", string(kind))
		return
	}

	slog.Info("authorized request", "issuer", main.Issuer.String(), "cmd", main.Command.String())
	m.cfg.Next.ServeHTTP(w, r)
}

func statusForKind(kind nucerr.Kind) int {
	switch kind {
	case nucerr.KindNotYetValid, nucerr.KindExpired, nucerr.KindPolicyNotMet,
		nucerr.KindRootKeySignatureMissing, nucerr.KindSignatureVerificationFailed,
		nucerr.KindIssuerMethodMismatch:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Message   string `json:"message"`
		ErrorCode string `json:"error_code,omitempty"`
	}{Message: message, ErrorCode: code})
}
