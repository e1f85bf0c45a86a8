package main

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	lhttp "github.com/spacesvm/lifeline/http"
	"github.com/spacesvm/lifeline/internal/devnet"
	"github.com/spacesvm/lifeline/signers/evm"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newApp() *cli.App {
	return &cli.App{
		Name:     "lifeline",
		Commands: []*cli.Command{&quoteCommand, &extendCommand, &serveCommand, &mcpCommand, &devnetCommand},
	}
}

func startDevnet(t *testing.T) (*devnet.Chain, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	signer, err := evm.NewLocalSignerFromPrivateKey(testKey)
	require.NoError(t, err)
	owner := common.HexToAddress(signer.Address())

	chain := devnet.New()
	chain.Claim("kevin", owner, time.Now().Add(time.Hour))
	chain.Fund(owner, 10)

	node := httptest.NewServer(chain.Handler())
	t.Cleanup(node.Close)
	return chain, node.URL + lhttp.RPCPath
}

func TestQuoteAndExtendCommands(t *testing.T) {
	chain, url := startDevnet(t)
	args := []string{"--backend-url", url, "--space", "kevin", "--hours", "3", "--debounce", "10ms"}

	require.NoError(t, newApp().Run(append([]string{"lifeline", "quote"}, args...)))

	err := newApp().Run(append([]string{"lifeline", "extend"}, args...))
	assert.ErrorContains(t, err, "--private-key")

	require.NoError(t, newApp().Run(append([]string{"lifeline", "extend", "--private-key", testKey}, args...)))

	info, ok := chain.Info("kevin")
	require.True(t, ok)
	assert.Equal(t, uint64(3), info.Units)
}

func TestExtendCommandReportsRejection(t *testing.T) {
	_, url := startDevnet(t)

	err := newApp().Run([]string{"lifeline", "extend",
		"--backend-url", url, "--space", "kevin", "--hours", "50", "--debounce", "10ms",
		"--private-key", testKey,
	})
	assert.ErrorContains(t, err, devnet.ReasonInsufficientBalance)
}

func TestCommandFlagsAreUnique(t *testing.T) {
	for _, cmd := range newApp().Commands {
		seen := make(map[string]bool)
		for _, f := range cmd.Flags {
			for _, name := range f.Names() {
				assert.False(t, seen[name], "%s defines --%s twice", cmd.Name, name)
				seen[name] = true
			}
		}
	}
}
