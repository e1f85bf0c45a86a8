// Package config defines the command line flags of the lifeline binary and
// turns them into a Config.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	lhttp "github.com/spacesvm/lifeline/http"
)

// Submission store types
const (
	StoreInMemory = "inmemory"
	StoreRedis    = "redis"
)

const (
	defaultListenAddr      = ":8080"
	defaultDevnetAddr      = ":9650"
	defaultLogLevel        = "info"
	defaultTimeout         = 30 * time.Second
	defaultDebounceWindow  = 2 * time.Second
	defaultTransportRetry  = 2
	defaultDevnetFee       = 1
	defaultDevnetBalance   = 1_000_000
	defaultDevnetLifetime  = 24 * time.Hour
	defaultStoreType       = StoreInMemory
	defaultMetricsPrefix   = "lifeline"
	defaultWorkflowTimeout = 2 * time.Minute
)

// Config is the resolved configuration of a lifeline command
type Config struct {
	BackendURL      string
	BackendTimeout  time.Duration
	LogLevel        zapcore.Level
	DebounceWindow  time.Duration
	TransportRetry  int
	WorkflowTimeout time.Duration
	PrivateKey      string

	StoreType string
	RedisURL  string

	ListenAddr    string
	MetricsPrefix string

	DevnetAddr     string
	DevnetFee      uint64
	DevnetBalance  uint64
	DevnetSpaces   []string
	DevnetLifetime time.Duration
}

func env(values ...string) []string {
	envs := make([]string, len(values))
	for i, value := range values {
		envs[i] = fmt.Sprintf("LIFELINE_%s", value)
	}
	return envs
}

var (
	BackendURL = &cli.StringFlag{
		Usage: "JSON-RPC endpoint of the spaces chain",
		Name:  "backend-url", EnvVars: env("BACKEND_URL"),
		Value: lhttp.DefaultBackendURL,
	}

	BackendTimeout = &cli.DurationFlag{
		Usage: "Timeout of a single backend request",
		Name:  "backend-timeout", EnvVars: env("BACKEND_TIMEOUT"),
		Value: defaultTimeout,
	}

	LogLevel = &cli.StringFlag{
		Usage: "Logging level (debug, info, warn, error)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}

	DebounceWindow = &cli.DurationFlag{
		Usage: "Quiet period after the last amount edit before a quote is fetched",
		Name:  "debounce", EnvVars: env("DEBOUNCE"),
		Value: defaultDebounceWindow,
	}

	TransportRetry = &cli.IntFlag{
		Usage: "Extra attempts when submitting fails on the network",
		Name:  "transport-retries", EnvVars: env("TRANSPORT_RETRIES"),
		Value: defaultTransportRetry,
	}

	WorkflowTimeout = &cli.DurationFlag{
		Usage: "How long a headless extension may run before it is abandoned",
		Name:  "workflow-timeout", EnvVars: env("WORKFLOW_TIMEOUT"),
		Value: defaultWorkflowTimeout,
	}

	PrivateKey = &cli.StringFlag{
		Usage: "Hex private key used to sign lifeline messages",
		Name:  "private-key", EnvVars: env("PRIVATE_KEY"),
	}

	StoreType = &cli.StringFlag{
		Usage: "Submission store type (inmemory, redis)",
		Name:  "store-type", EnvVars: env("STORE_TYPE"),
		Value: defaultStoreType,
	}

	RedisURL = &cli.StringFlag{
		Usage: "Redis connection url if LIFELINE_STORE_TYPE is set to redis",
		Name:  "redis-url", EnvVars: env("REDIS_URL"),
	}

	ListenAddr = &cli.StringFlag{
		Usage: "Address the session API listens on",
		Name:  "listen", EnvVars: env("LISTEN"),
		Value: defaultListenAddr,
	}

	MetricsPrefix = &cli.StringFlag{
		Usage: "Namespace of exported Prometheus metrics",
		Name:  "metrics-prefix", EnvVars: env("METRICS_PREFIX"),
		Value: defaultMetricsPrefix,
	}

	DevnetAddr = &cli.StringFlag{
		Usage: "Address the local chain listens on",
		Name:  "devnet-listen", EnvVars: env("DEVNET_LISTEN"),
		Value: defaultDevnetAddr,
	}

	DevnetFee = &cli.Uint64Flag{
		Usage: "Fee per lifeline hour on the local chain",
		Name:  "devnet-fee", EnvVars: env("DEVNET_FEE"),
		Value: defaultDevnetFee,
	}

	DevnetBalance = &cli.Uint64Flag{
		Usage: "Starting balance of the signer on the local chain",
		Name:  "devnet-balance", EnvVars: env("DEVNET_BALANCE"),
		Value: defaultDevnetBalance,
	}

	DevnetSpaces = &cli.StringSliceFlag{
		Usage: "Spaces claimed by the signer at startup",
		Name:  "devnet-space", EnvVars: env("DEVNET_SPACES"),
	}

	DevnetLifetime = &cli.DurationFlag{
		Usage: "Remaining lifetime of the spaces claimed at startup",
		Name:  "devnet-lifetime", EnvVars: env("DEVNET_LIFETIME"),
		Value: defaultDevnetLifetime,
	}
)

// BackendFlags are shared by every command that talks to a chain
var BackendFlags = []cli.Flag{BackendURL, BackendTimeout, LogLevel}

// WorkflowFlags configure the workflows run by quote, extend, serve and mcp
var WorkflowFlags = []cli.Flag{DebounceWindow, TransportRetry, WorkflowTimeout, PrivateKey, StoreType, RedisURL}

// ServeFlags configure the session API
var ServeFlags = []cli.Flag{ListenAddr, MetricsPrefix}

// DevnetFlags configure the local chain
var DevnetFlags = []cli.Flag{LogLevel, PrivateKey, DevnetAddr, DevnetFee, DevnetBalance, DevnetSpaces, DevnetLifetime}

// LoadConfig reads every flag of the current command. Flags a command does
// not define keep their zero value.
func LoadConfig(c *cli.Context) (*Config, error) {
	level, err := zapcore.ParseLevel(c.String(LogLevel.Name))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	storeType := c.String(StoreType.Name)
	if storeType == "" {
		storeType = defaultStoreType
	}

	var redisURL string
	switch storeType {
	case StoreInMemory:
	case StoreRedis:
		redisURL = c.String(RedisURL.Name)
		if redisURL == "" {
			return nil, errors.New("store type set to 'redis' but redis url is missing")
		}
	default:
		return nil, fmt.Errorf("unknown store type %q", storeType)
	}

	if c.IsSet(DebounceWindow.Name) && c.Duration(DebounceWindow.Name) <= 0 {
		return nil, errors.New("debounce window must be positive")
	}
	if c.Int(TransportRetry.Name) < 0 {
		return nil, errors.New("transport retries must not be negative")
	}

	return &Config{
		BackendURL:      c.String(BackendURL.Name),
		BackendTimeout:  c.Duration(BackendTimeout.Name),
		LogLevel:        level,
		DebounceWindow:  c.Duration(DebounceWindow.Name),
		TransportRetry:  c.Int(TransportRetry.Name),
		WorkflowTimeout: c.Duration(WorkflowTimeout.Name),
		PrivateKey:      c.String(PrivateKey.Name),
		StoreType:       storeType,
		RedisURL:        redisURL,
		ListenAddr:      c.String(ListenAddr.Name),
		MetricsPrefix:   c.String(MetricsPrefix.Name),
		DevnetAddr:      c.String(DevnetAddr.Name),
		DevnetFee:       c.Uint64(DevnetFee.Name),
		DevnetBalance:   c.Uint64(DevnetBalance.Name),
		DevnetSpaces:    c.StringSlice(DevnetSpaces.Name),
		DevnetLifetime:  c.Duration(DevnetLifetime.Name),
	}, nil
}

// NewLogger builds the production zap logger at the configured level
func (c *Config) NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(c.LogLevel)
	return cfg.Build()
}
