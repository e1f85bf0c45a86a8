package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spacesvm/lifeline"
	"github.com/spacesvm/lifeline/internal/config"
	"github.com/spacesvm/lifeline/internal/devnet"
	"github.com/spacesvm/lifeline/mcp"
	"github.com/spacesvm/lifeline/metrics"
	"github.com/spacesvm/lifeline/server"
	"github.com/spacesvm/lifeline/signers/evm"
)

const shutdownTimeout = 10 * time.Second

var (
	spaceFlag = &cli.StringFlag{
		Name:     "space",
		Usage:    "name of the space to extend",
		Required: true,
	}
	hoursFlag = &cli.Uint64Flag{
		Name:     "hours",
		Usage:    "hours of lifetime to add",
		Required: true,
	}
)

func flags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, group := range groups {
		out = append(out, group...)
	}
	return out
}

var (
	quoteCommand = cli.Command{
		Name:   "quote",
		Usage:  "Price a lifetime extension",
		Flags:  flags([]cli.Flag{spaceFlag, hoursFlag}, config.BackendFlags, config.WorkflowFlags),
		Action: quoteAction,
	}
	extendCommand = cli.Command{
		Name:   "extend",
		Usage:  "Sign and submit a lifetime extension with a local key",
		Flags:  flags([]cli.Flag{spaceFlag, hoursFlag}, config.BackendFlags, config.WorkflowFlags),
		Action: extendAction,
	}
	serveCommand = cli.Command{
		Name:   "serve",
		Usage:  "Run the dialog session API for a host UI",
		Flags:  flags(config.BackendFlags, config.WorkflowFlags, config.ServeFlags),
		Action: serveAction,
	}
	mcpCommand = cli.Command{
		Name:   "mcp",
		Usage:  "Serve the lifeline tools over MCP on stdio",
		Flags:  flags(config.BackendFlags, config.WorkflowFlags),
		Action: mcpAction,
	}
	devnetCommand = cli.Command{
		Name:   "devnet",
		Usage:  "Run an in-memory spaces chain for local development",
		Flags:  config.DevnetFlags,
		Action: devnetAction,
	}
)

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func setup(c *cli.Context) (*deps, error) {
	cfg, err := config.LoadConfig(c)
	if err != nil {
		return nil, err
	}
	return newDeps(c.Context, cfg)
}

func runOnce(c *cli.Context, run func(context.Context, *lifeline.Workflow, uint64) (lifeline.Snapshot, error)) error {
	d, err := setup(c)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, cancel := signalContext(c.Context)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, d.cfg.WorkflowTimeout)
	defer cancelTimeout()

	space := lifeline.ResourceID(c.String(spaceFlag.Name))
	opts := d.workflowOptions()
	if info, err := d.backend.Info(ctx, space); err == nil {
		opts = append(opts, lifeline.WithExistingExpiry(lifeline.ExpiryFromUnix(info.Expiry)))
	} else {
		d.logger.Warn("could not read space info", zap.String("space", string(space)), zap.Error(err))
	}

	w := lifeline.NewWorkflow(space, d.quotes, d.signer, d.submitter, opts...)
	defer w.Close()

	snapshot, err := run(ctx, w, c.Uint64(hoursFlag.Name))
	if printErr := printJSON(snapshot); printErr != nil {
		return printErr
	}
	return err
}

func quoteAction(c *cli.Context) error {
	return runOnce(c, lifeline.QuoteFor)
}

func extendAction(c *cli.Context) error {
	if c.String(config.PrivateKey.Name) == "" {
		return errors.New("extend needs --private-key")
	}
	return runOnce(c, lifeline.Extend)
}

func serveAction(c *cli.Context) error {
	d, err := setup(c)
	if err != nil {
		return err
	}
	defer d.close()

	recorder := metrics.NewRecorder(d.cfg.MetricsPrefix)
	srv := server.New(d.quotes, d.submitter,
		server.WithExpiryLookup(d.backend),
		server.WithRecorder(recorder),
		server.WithWorkflowOptions(d.workflowOptions()...),
		server.WithLogger(d.logger),
	)

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.logger.Info("session api listening", zap.String("addr", d.cfg.ListenAddr))
		return srv.Start(d.cfg.ListenAddr)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func mcpAction(c *cli.Context) error {
	d, err := setup(c)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	srv := mcp.NewServer(d.quotes, d.submitter, d.signer,
		mcp.WithExpiryLookup(d.backend),
		mcp.WithWorkflowOptions(d.workflowOptions()...),
		mcp.WithTimeout(d.cfg.WorkflowTimeout),
		mcp.WithVersion(Version),
		mcp.WithLogger(d.logger),
	)
	return srv.Run(ctx, &mcpsdk.StdioTransport{})
}

func devnetAction(c *cli.Context) error {
	cfg, err := config.LoadConfig(c)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var signer *evm.LocalSigner
	if cfg.PrivateKey != "" {
		signer, err = evm.NewLocalSignerFromPrivateKey(cfg.PrivateKey)
	} else {
		signer, err = evm.GenerateLocalSigner()
	}
	if err != nil {
		return err
	}
	owner := common.HexToAddress(signer.Address())

	gin.SetMode(gin.ReleaseMode)
	chain := devnet.New(devnet.WithFeePerUnit(cfg.DevnetFee), devnet.WithLogger(logger))
	chain.Fund(owner, cfg.DevnetBalance)
	for _, space := range cfg.DevnetSpaces {
		chain.Claim(space, owner, time.Now().Add(cfg.DevnetLifetime))
	}

	if cfg.PrivateKey == "" {
		fmt.Printf("generated owner key %s\n", signer.PrivateKeyHex())
	}
	logger.Info("devnet ready",
		zap.String("addr", cfg.DevnetAddr),
		zap.String("owner", owner.Hex()),
		zap.Strings("spaces", cfg.DevnetSpaces),
	)

	httpServer := &http.Server{
		Addr:              cfg.DevnetAddr,
		Handler:           chain.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
