package mcp

import (
	"time"

	"github.com/spacesvm/lifeline"
)

// Tool names
const (
	ToolQuote  = "lifeline_quote"
	ToolExtend = "lifeline_extend"
)

// ToolArgs are the arguments of both tools
type ToolArgs struct {
	Space string `json:"space"`
	Hours uint64 `json:"hours"`
}

// ToolResult is the JSON text returned by both tools
type ToolResult struct {
	Space     string            `json:"space"`
	Hours     uint64            `json:"hours"`
	State     string            `json:"state"`
	TotalCost uint64            `json:"totalCost"`
	ExtendTo  *time.Time        `json:"extendTo,omitempty"`
	TxID      string            `json:"txId,omitempty"`
	Failure   *lifeline.Failure `json:"failure,omitempty"`
	Error     string            `json:"error,omitempty"`
}

const toolInputSchema = `{
	"type": "object",
	"properties": {
		"space": {"type": "string", "description": "Name of the space"},
		"hours": {"type": "integer", "minimum": 1, "description": "Hours of lifetime to add"}
	},
	"required": ["space", "hours"]
}`

func resultFromSnapshot(args ToolArgs, s lifeline.Snapshot) ToolResult {
	r := ToolResult{
		Space:     args.Space,
		Hours:     args.Hours,
		State:     s.State.String(),
		TotalCost: s.TotalCost,
		TxID:      s.TxID,
		Failure:   s.Failure,
	}
	if !s.ExtendTo.IsZero() {
		extendTo := s.ExtendTo
		r.ExtendTo = &extendTo
	}
	return r
}
