package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spacesvm/lifeline"
	"github.com/spacesvm/lifeline/extensions/idempotency"
	lhttp "github.com/spacesvm/lifeline/http"
	"github.com/spacesvm/lifeline/internal/config"
	"github.com/spacesvm/lifeline/signers/evm"
)

// deps are the collaborators shared by the workflow commands
type deps struct {
	cfg       *config.Config
	logger    *zap.Logger
	backend   *lhttp.BackendClient
	quotes    lifeline.QuoteService
	submitter lifeline.SubmissionService
	signer    lifeline.WalletSigner
	close     func()
}

func newDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	undo := zap.ReplaceGlobals(logger)

	backend := lhttp.NewBackendClient(&lhttp.BackendConfig{
		URL:     cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
		Logger:  logger,
	})

	d := &deps{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		quotes:  lifeline.NewFeeQuoteService(backend, lifeline.WithQuoteLogger(logger)),
	}
	d.close = func() {
		_ = logger.Sync()
		undo()
	}

	submitOpts := []lifeline.SubmissionOption{
		lifeline.WithSubmissionLogger(logger),
		lifeline.WithTransportRetries(uint64(cfg.TransportRetry), 0),
	}
	if cfg.StoreType == config.StoreRedis {
		client, err := idempotency.Connect(ctx, cfg.RedisURL)
		if err != nil {
			d.close()
			return nil, err
		}
		store := idempotency.NewRedisStore(client, idempotency.WithLogger(logger))
		submitOpts = append(submitOpts, lifeline.WithSubmissionStore(store))
		closeLogger := d.close
		d.close = func() {
			_ = client.Close()
			closeLogger()
		}
	}
	d.submitter = lifeline.NewSubmissionService(backend, submitOpts...)

	if cfg.PrivateKey != "" {
		local, err := evm.NewLocalSignerFromPrivateKey(cfg.PrivateKey)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		d.signer = lifeline.NewWalletSigner(local, lifeline.WithSignerLogger(logger))
		logger.Debug("signing with local key", zap.String("address", local.Address()))
	}

	return d, nil
}

// workflowOptions are the options every command applies to its workflows
func (d *deps) workflowOptions() []lifeline.WorkflowOption {
	return []lifeline.WorkflowOption{
		lifeline.WithLogger(d.logger),
		lifeline.WithDebounceWindow(d.cfg.DebounceWindow),
	}
}
