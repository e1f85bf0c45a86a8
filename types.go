package lifeline

import (
	"encoding/hex"
	"strings"

	"github.com/spacesvm/lifeline/types"
)

// ResourceID names the space whose lifeline is being extended.
// It is immutable for the life of a workflow.
type ResourceID string

// Step sizes offered by the amount controls, in hours
const (
	HourStep = 1
	DayStep  = 24
)

// Quote is a live price for extending a resource by Amount hours.
// Only the latest quote is kept; there is no durable cache.
type Quote struct {
	Resource  ResourceID      `json:"resource"`
	Amount    uint64          `json:"amount"`
	Message   types.TypedData `json:"typedData"`
	TotalCost uint64          `json:"totalCost"`
}

// Matches reports whether the quote was produced for the given amount
func (q *Quote) Matches(amount uint64) bool {
	return q != nil && q.Amount == amount
}

// Signature is a 65-byte wallet signature over exactly one signable message
type Signature []byte

// Hex returns the 0x-prefixed hex encoding used on the wire
func (s Signature) Hex() string {
	return "0x" + hex.EncodeToString(s)
}

// ParseSignature decodes a 0x-prefixed (or bare) hex signature
func ParseSignature(s string) (Signature, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, err
	}
	return Signature(raw), nil
}

// SubmissionResult is the settlement backend's answer for a signed message
type SubmissionResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	TxID     string `json:"txId,omitempty"`
}

// Accepted builds an accepted result
func Accepted(txID string) SubmissionResult {
	return SubmissionResult{Accepted: true, TxID: txID}
}

// Rejected builds a rejected result carrying the backend's reason verbatim
func Rejected(reason string) SubmissionResult {
	return SubmissionResult{Accepted: false, Reason: reason}
}

// FeeRequest asks the pricing backend for a suggested fee
type FeeRequest struct {
	Type  string     `json:"type"`
	Space ResourceID `json:"space"`
	Units uint64     `json:"units"`
}

// FeeResponse is the pricing backend's suggested fee
type FeeResponse struct {
	TypedData *types.TypedData `json:"typedData"`
	TotalCost uint64           `json:"totalCost"`
}
