// Package http provides the JSON-RPC client for the spaces chain pricing and
// settlement backend, together with the wire types shared with servers.
package http

import (
	"encoding/json"
	"fmt"

	"github.com/spacesvm/lifeline"
	"github.com/spacesvm/lifeline/types"
)

// RPCPath is where spacesvm nodes serve JSON-RPC
const RPCPath = "/ext/bc/spacesvm/rpc"

// JSON-RPC methods used by the lifeline workflow
const (
	MethodSuggestedFee = "spacesvm.suggestedFee"
	MethodIssueTx      = "spacesvm.issueTx"
	MethodInfo         = "spacesvm.info"
)

// ============================================================================
// JSON-RPC envelope
// ============================================================================

// Request is a JSON-RPC 2.0 request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Protocol reports whether the error comes from the JSON-RPC layer itself
// (parse, invalid request, unknown method, bad params, internal error)
// rather than from the node's handling of the transaction. Codes in
// -32099..-32000 and outside the reserved range are application errors.
func (e *RPCError) Protocol() bool {
	return e.Code >= codeReservedMin && e.Code < codeServerMin
}

// Standard JSON-RPC error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

const (
	codeReservedMin = -32768
	codeServerMin   = -32099
)

// ============================================================================
// Method arguments and replies
// ============================================================================

// SuggestedFeeArgs are the params of spacesvm.suggestedFee
type SuggestedFeeArgs struct {
	Input lifeline.FeeRequest `json:"input"`
}

// SuggestedFeeReply is the result of spacesvm.suggestedFee.
// TypedData is kept raw so it can be schema-validated before use.
type SuggestedFeeReply struct {
	TypedData json.RawMessage `json:"typedData"`
	TotalCost uint64          `json:"totalCost"`
}

// IssueTxArgs are the params of spacesvm.issueTx
type IssueTxArgs struct {
	TypedData *types.TypedData `json:"typedData"`
	Signature string           `json:"signature"`
}

// IssueTxReply is the result of spacesvm.issueTx
type IssueTxReply struct {
	TxID string `json:"txId"`
}

// InfoArgs are the params of spacesvm.info
type InfoArgs struct {
	Space string `json:"space"`
}

// SpaceInfo describes a space as stored on chain
type SpaceInfo struct {
	Owner   string `json:"owner"`
	Created int64  `json:"created"`
	Updated int64  `json:"updated"`
	Expiry  int64  `json:"expiry"`
	Units   uint64 `json:"units"`
}

// InfoReply is the result of spacesvm.info
type InfoReply struct {
	Info SpaceInfo `json:"info"`
}
