// Package mcp exposes lifeline extensions as MCP (Model Context Protocol)
// tools, so an agent can price and extend a space's lifetime.
//
// # Tools
//
//   - lifeline_quote {space, hours}: fetches a quote and reports the total
//     cost and resulting expiry.
//   - lifeline_extend {space, hours}: quotes, signs with the configured
//     signer, submits and reports the outcome.
//
// Each call runs its own workflow, which is closed when the call returns.
//
// # Usage
//
//	server := mcp.NewServer(quotes, submitter, signer,
//	    mcp.WithExpiryLookup(backend),
//	)
//	err := server.Run(ctx, &mcpsdk.StdioTransport{})
package mcp
