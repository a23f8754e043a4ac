// Package authclient implements the authorization-server HTTP client of
// spec.md §6: a thin REST client for the `about`/`health`/token-mint/
// payment/subscription/revocation endpoints. This is glue, not core logic
// — it exists so the library's worked example (package gateway) has
// something real to call.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nucproto/nuc/nucerr"
)

// ServerErrorCode enumerates the error_code values an authorization server
// can return (spec.md §6).
type ServerErrorCode string

const (
	CannotRenewYet          ServerErrorCode = "CANNOT_RENEW_YET"
	HashMismatch            ServerErrorCode = "HASH_MISMATCH"
	InsufficientPayment     ServerErrorCode = "INSUFFICIENT_PAYMENT"
	Internal                ServerErrorCode = "INTERNAL"
	InvalidPublicKey        ServerErrorCode = "INVALID_PUBLIC_KEY"
	MalformedPayload        ServerErrorCode = "MALFORMED_PAYLOAD"
	MalformedTransaction    ServerErrorCode = "MALFORMED_TRANSACTION"
	NotSubscribed           ServerErrorCode = "NOT_SUBSCRIBED"
	PaymentAlreadyProcessed ServerErrorCode = "PAYMENT_ALREADY_PROCESSED"
	TransactionLookup       ServerErrorCode = "TRANSACTION_LOOKUP"
	TransactionNotCommitted ServerErrorCode = "TRANSACTION_NOT_COMMITTED"
	UnknownPublicKey        ServerErrorCode = "UNKNOWN_PUBLIC_KEY"
)

// ServerError is the {message, error_code} shape an authorization server
// returns on failure.
type ServerError struct {
	Message   string          `json:"message"`
	ErrorCode ServerErrorCode `json:"error_code"`
	Status    int             `json:"-"`
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("authclient: %s (%s, status %d)", e.Message, e.ErrorCode, e.Status)
}

// Client talks to an authorization server over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client targeting baseURL, using httpClient if non-nil or
// http.DefaultClient otherwise.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// BuildInfo is the {commit, timestamp} sub-object of /about.
type BuildInfo struct {
	Commit    string `json:"commit"`
	Timestamp string `json:"timestamp"`
}

// AboutResponse is the /about response body.
type AboutResponse struct {
	Started   string    `json:"started"`
	PublicKey string    `json:"public_key"`
	Build     BuildInfo `json:"build"`
}

// About calls GET /about.
func (c *Client) About(ctx context.Context) (AboutResponse, error) {
	var out AboutResponse
	err := c.do(ctx, http.MethodGet, "/about", nil, &out)
	return out, err
}

// Health calls GET /health, returning nil if the body is "OK".
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nucerr.Wrap(nucerr.KindUnreachable, "building health request", err)
	}
	slog.Debug("authclient request", "method", req.Method, "url", req.URL.String())
	resp, err := c.http.Do(req)
	if err != nil {
		return nucerr.Wrap(nucerr.KindUnreachable, "health request failed", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	slog.Debug("authclient response", "url", req.URL.String(), "status", resp.StatusCode, "body", string(body))
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		return nucerr.Newf(nucerr.KindServerError, "unexpected health response: status=%d body=%q", resp.StatusCode, body)
	}
	return nil
}

// CreateNucRequest is the body of POST /api/v1/nucs/create.
type CreateNucRequest struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
	Payload   string `json:"payload"` // hex-encoded JSON {nonce, target_public_key, expires_at}
}

// CreateNucResponse is the response of POST /api/v1/nucs/create.
type CreateNucResponse struct {
	Token string `json:"token"`
}

// CreateNuc mints a new token via the authorization server.
func (c *Client) CreateNuc(ctx context.Context, req CreateNucRequest) (CreateNucResponse, error) {
	var out CreateNucResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/nucs/create", req, &out)
	return out, err
}

// PaymentCostResponse is the response of /api/v1/payments/cost.
type PaymentCostResponse struct {
	CostUnils int64 `json:"cost_unils"`
}

// PaymentCost calls GET /api/v1/payments/cost.
func (c *Client) PaymentCost(ctx context.Context) (PaymentCostResponse, error) {
	var out PaymentCostResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/payments/cost", nil, &out)
	return out, err
}

// ValidatePaymentRequest is the body of POST /api/v1/payments/validate.
type ValidatePaymentRequest struct {
	TxHash    string `json:"tx_hash"`
	Payload   string `json:"payload"`
	PublicKey string `json:"public_key"`
}

// ValidatePayment calls POST /api/v1/payments/validate.
func (c *Client) ValidatePayment(ctx context.Context, req ValidatePaymentRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/payments/validate", req, nil)
}

// SubscriptionStatusResponse is the response of /api/v1/subscriptions/status.
type SubscriptionStatusResponse struct {
	Subscribed bool            `json:"subscribed"`
	Details    json.RawMessage `json:"details,omitempty"`
}

// SubscriptionStatus calls GET /api/v1/subscriptions/status.
func (c *Client) SubscriptionStatus(ctx context.Context) (SubscriptionStatusResponse, error) {
	var out SubscriptionStatusResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/subscriptions/status", nil, &out)
	return out, err
}

// Revoke calls POST /api/v1/revocations/revoke, presenting a serialized
// invocation envelope as a bearer token.
func (c *Client) Revoke(ctx context.Context, serializedInvocation string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/revocations/revoke", nil)
	if err != nil {
		return nucerr.Wrap(nucerr.KindUnreachable, "building revoke request", err)
	}
	req.Header.Set("Authorization", "Bearer "+serializedInvocation)
	return c.send(req, nil, nil)
}

// RevocationEntry is one element of /api/v1/revocations/lookup's response.
type RevocationEntry struct {
	TokenHash string `json:"token_hash"`
	RevokedAt string `json:"revoked_at"`
}

// LookupRevocationsResponse is the response of /api/v1/revocations/lookup.
type LookupRevocationsResponse struct {
	Revoked []RevocationEntry `json:"revoked"`
}

// LookupRevocations calls POST /api/v1/revocations/lookup.
func (c *Client) LookupRevocations(ctx context.Context, hashes []string) (LookupRevocationsResponse, error) {
	var out LookupRevocationsResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/revocations/lookup", struct {
		Hashes []string `json:"hashes"`
	}{Hashes: hashes}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	var logBody []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nucerr.Wrap(nucerr.KindInvalidPayload, "marshalling request body", err)
		}
		reader = bytes.NewReader(b)
		logBody = b
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nucerr.Wrap(nucerr.KindUnreachable, "building request", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, logBody, out)
}

// send dispatches req, logging the request and response the way the
// teacher's facilitator.post does (gateway/x402/facilitator.go), and
// decodes the response into out (or a ServerError on a 4xx/5xx status).
func (c *Client) send(req *http.Request, logBody []byte, out interface{}) error {
	slog.Debug("authclient request", "method", req.Method, "url", req.URL.String(), "body", string(logBody))

	resp, err := c.http.Do(req)
	if err != nil {
		return nucerr.Wrap(nucerr.KindUnreachable, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nucerr.Wrap(nucerr.KindUnreachable, "reading response body", err)
	}
	slog.Debug("authclient response", "url", req.URL.String(), "status", resp.StatusCode, "body", string(respBody))

	if resp.StatusCode >= 400 {
		var se ServerError
		ct := resp.Header.Get("Content-Type")
		if ct != "" && !jsonContentType(ct) {
			return nucerr.Newf(nucerr.KindInvalidContentType, "unexpected content type %q", ct)
		}
		if err := json.Unmarshal(respBody, &se); err != nil {
			return nucerr.Newf(nucerr.KindServerError, "server returned status %d with unparseable body", resp.StatusCode)
		}
		se.Status = resp.StatusCode
		return &se
	}

	if out == nil {
		return nil
	}
	ct := resp.Header.Get("Content-Type")
	if ct != "" && !jsonContentType(ct) {
		return nucerr.Newf(nucerr.KindInvalidContentType, "unexpected content type %q", ct)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return nucerr.Wrap(nucerr.KindServerError, "decoding response body", err)
	}
	return nil
}

func jsonContentType(ct string) bool {
	return len(ct) >= 16 && ct[:16] == "application/json"
}
