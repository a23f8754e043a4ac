// Package payer implements the blockchain payer external collaborator of
// spec.md §6: broadcasting a MsgPayFor transaction and returning its hash.
package payer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nucproto/nuc/nucerr"
)

// MsgPayForTypeURL is the transaction type URL spec.md §6 specifies.
const MsgPayForTypeURL = "/nillion.meta.v1.MsgPayFor"

// Coin is a single denom/amount pair.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// MsgPayFor is the broadcast payload for a payment transaction.
type MsgPayFor struct {
	TypeURL     string `json:"@type"`
	Resource    []byte `json:"resource"`
	FromAddress string `json:"from_address"`
	Amount      []Coin `json:"amount"`
}

// Payer broadcasts a payment for resource from an address and reports the
// resulting transaction hash.
type Payer interface {
	PayFor(ctx context.Context, resource []byte, fromAddress string, amountUnils int64) (txHash string, err error)
}

// HTTPPayer is a thin REST-broadcast Payer implementation, posting a
// MsgPayFor to a chain node's broadcast endpoint.
type HTTPPayer struct {
	broadcastURL string
	http         *http.Client
}

// NewHTTPPayer builds an HTTPPayer posting to broadcastURL.
func NewHTTPPayer(broadcastURL string, httpClient *http.Client) *HTTPPayer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPPayer{broadcastURL: broadcastURL, http: httpClient}
}

type broadcastResponse struct {
	TxHash string `json:"tx_hash"`
}

// PayFor broadcasts a MsgPayFor{resource, fromAddress, amount:[{unil,
// amountUnils}]} and returns the 64-char hex transaction hash.
func (p *HTTPPayer) PayFor(ctx context.Context, resource []byte, fromAddress string, amountUnils int64) (string, error) {
	msg := MsgPayFor{
		TypeURL:     MsgPayForTypeURL,
		Resource:    resource,
		FromAddress: fromAddress,
		Amount:      []Coin{{Denom: "unil", Amount: fmt.Sprintf("%d", amountUnils)}},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", nucerr.Wrap(nucerr.KindInvalidPayload, "marshalling MsgPayFor", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.broadcastURL, bytes.NewReader(body))
	if err != nil {
		return "", nucerr.Wrap(nucerr.KindUnreachable, "building broadcast request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", nucerr.Wrap(nucerr.KindUnreachable, "broadcast request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", nucerr.Newf(nucerr.KindPaymentTxFailed, "broadcast failed with status %d", resp.StatusCode)
	}

	var out broadcastResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", nucerr.Wrap(nucerr.KindPaymentTxFailed, "decoding broadcast response", err)
	}
	if len(out.TxHash) != 64 {
		return "", nucerr.Newf(nucerr.KindPaymentTxFailed, "tx hash must be 64 hex chars, got %d", len(out.TxHash))
	}
	return out.TxHash, nil
}
