// Package devnet runs an in-memory spaces chain that answers the lifeline
// JSON-RPC methods. It backs local development and the end-to-end tests.
package devnet

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"math/bits"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spacesvm/lifeline"
	lhttp "github.com/spacesvm/lifeline/http"
	"github.com/spacesvm/lifeline/signers/evm"
	"github.com/spacesvm/lifeline/types"
)

// Rejection reasons returned by issueTx
const (
	ReasonSpaceNotFound       = "space not found"
	ReasonUnauthorized        = "unauthorized"
	ReasonInsufficientBalance = "insufficient balance"
	ReasonPriceChanged        = "price changed"
	ReasonUnknownBlock        = "unknown block"
	ReasonInvalidSignature    = "invalid signature"
	ReasonCostOverflow        = "cost overflows"
)

// DefaultFeePerUnit is the price of one hour of lifeline
const DefaultFeePerUnit = 1

type space struct {
	owner   common.Address
	created time.Time
	updated time.Time
	expiry  time.Time
	units   uint64
}

// Chain is the in-memory chain state
type Chain struct {
	mu         sync.Mutex
	domain     types.TypedDataDomain
	feePerUnit uint64
	height     uint64
	spaces     map[string]*space
	balances   map[common.Address]uint64
	issued     map[string]string
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures a Chain
type Option func(*Chain)

// WithChainID sets the chain id in the signing domain.
//
// Default: 1337
func WithChainID(id int64) Option {
	return func(c *Chain) {
		c.domain.ChainID = big.NewInt(id)
	}
}

// WithFeePerUnit sets the starting fee per lifeline hour
func WithFeePerUnit(fee uint64) Option {
	return func(c *Chain) {
		c.feePerUnit = fee
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Chain) {
		c.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Chain) {
		c.logger = logger
	}
}

// New creates an empty chain
func New(opts ...Option) *Chain {
	c := &Chain{
		domain: types.TypedDataDomain{
			Name:    "SpacesVM",
			Version: "1",
			ChainID: big.NewInt(1337),
		},
		feePerUnit: DefaultFeePerUnit,
		height:     1,
		spaces:     make(map[string]*space),
		balances:   make(map[common.Address]uint64),
		issued:     make(map[string]string),
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Domain returns the signing domain of the chain
func (c *Chain) Domain() types.TypedDataDomain {
	return c.domain
}

// Claim registers a space for owner, replacing any previous claim
func (c *Chain) Claim(name string, owner common.Address, expiry time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.spaces[name] = &space{owner: owner, created: now, updated: now, expiry: expiry}
}

// Fund credits addr
func (c *Chain) Fund(addr common.Address, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] += amount
}

// Balance returns the balance of addr
func (c *Chain) Balance(addr common.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[addr]
}

// SetFeePerUnit changes the fee. Messages quoted at the old fee are rejected.
func (c *Chain) SetFeePerUnit(fee uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feePerUnit = fee
}

// Info returns the stored state of a space
func (c *Chain) Info(name string) (lhttp.SpaceInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.spaces[name]
	if !ok {
		return lhttp.SpaceInfo{}, false
	}
	return lhttp.SpaceInfo{
		Owner:   s.owner.Hex(),
		Created: s.created.Unix(),
		Updated: s.updated.Unix(),
		Expiry:  s.expiry.Unix(),
		Units:   s.units,
	}, true
}

// SuggestedFee builds the signable lifeline message and its total cost
func (c *Chain) SuggestedFee(req lifeline.FeeRequest) (types.TypedData, uint64, error) {
	if req.Type != types.TxTypeLifeline {
		return types.TypedData{}, 0, fmt.Errorf("unsupported tx type %q", req.Type)
	}
	if req.Units == 0 {
		return types.TypedData{}, 0, errors.New("units must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.spaces[string(req.Space)]; !ok {
		return types.TypedData{}, 0, errors.New(ReasonSpaceNotFound)
	}
	total, ok := totalCost(req.Units, c.feePerUnit)
	if !ok {
		return types.TypedData{}, 0, errors.New(ReasonCostOverflow)
	}

	msg := types.NewLifelineTypedData(c.domain, types.LifelineMessage{
		BlockID: c.blockID(c.height),
		Space:   string(req.Space),
		Units:   req.Units,
		Price:   c.feePerUnit,
	})
	return msg, total, nil
}

// IssueTx verifies and applies a signed lifeline message. Rejections are
// returned as *lhttp.RPCError with the reason as message. The same message
// issued twice returns the original tx id without charging again.
func (c *Chain) IssueTx(message types.TypedData, signature []byte) (string, error) {
	digest, err := message.Hash()
	if err != nil {
		return "", reject(fmt.Sprintf("invalid message: %v", err))
	}
	msg, err := types.ParseLifelineMessage(message)
	if err != nil {
		return "", reject(fmt.Sprintf("invalid message: %v", err))
	}
	signer, err := evm.RecoverAddress(message, signature)
	if err != nil {
		return "", reject(ReasonInvalidSignature)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := hex.EncodeToString(digest)
	if txID, ok := c.issued[key]; ok {
		return txID, nil
	}

	s, ok := c.spaces[msg.Space]
	switch {
	case !ok:
		return "", reject(ReasonSpaceNotFound)
	case s.owner != signer:
		return "", reject(ReasonUnauthorized)
	case !c.knownBlock(msg.BlockID):
		return "", reject(ReasonUnknownBlock)
	case msg.Price != c.feePerUnit:
		return "", reject(ReasonPriceChanged)
	}

	cost, ok := totalCost(msg.Units, msg.Price)
	if !ok {
		return "", reject(ReasonCostOverflow)
	}
	if c.balances[signer] < cost {
		return "", reject(ReasonInsufficientBalance)
	}

	c.balances[signer] -= cost
	s.expiry = lifeline.ExtendTo(s.expiry, msg.Units)
	s.updated = c.now()
	s.units += msg.Units
	c.height++

	txID := "0x" + hex.EncodeToString(digest)
	c.issued[key] = txID

	c.logger.Info("lifeline applied",
		zap.String("space", msg.Space),
		zap.Uint64("hours", msg.Units),
		zap.Uint64("cost", cost),
		zap.Time("expiry", s.expiry),
		zap.String("tx_id", txID),
	)
	return txID, nil
}

// totalCost multiplies units by price, reporting false on overflow
func totalCost(units, price uint64) (uint64, bool) {
	hi, lo := bits.Mul64(units, price)
	return lo, hi == 0
}

const blockPrefix = "blk-"

func (c *Chain) blockID(height uint64) string {
	return blockPrefix + strconv.FormatUint(height, 10)
}

// knownBlock accepts messages built on any block this chain has produced
func (c *Chain) knownBlock(id string) bool {
	digits, ok := strings.CutPrefix(id, blockPrefix)
	if !ok {
		return false
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	return err == nil && n >= 1 && n <= c.height && id == c.blockID(n)
}

func reject(reason string) *lhttp.RPCError {
	return &lhttp.RPCError{Code: lhttp.CodeServerError, Message: reason}
}

// ============================================================================
// JSON-RPC over gin
// ============================================================================

// Handler serves the chain's JSON-RPC methods at lhttp.RPCPath
func (c *Chain) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), c.requestLogger())
	r.POST(lhttp.RPCPath, c.serveRPC)
	return r
}

func (c *Chain) requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		c.logger.Debug("rpc request",
			zap.String("path", ctx.Request.URL.Path),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (c *Chain) serveRPC(ctx *gin.Context) {
	var req lhttp.Request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusOK, lhttp.Response{
			JSONRPC: "2.0",
			Error:   &lhttp.RPCError{Code: lhttp.CodeParseError, Message: err.Error()},
		})
		return
	}

	result, rpcErr := c.dispatch(req)
	resp := lhttp.Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	if rpcErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &lhttp.RPCError{Code: lhttp.CodeServerError, Message: err.Error()}
		} else {
			resp.Result = raw
		}
	}
	ctx.JSON(http.StatusOK, resp)
}

func (c *Chain) dispatch(req lhttp.Request) (interface{}, *lhttp.RPCError) {
	switch req.Method {
	case lhttp.MethodSuggestedFee:
		var args lhttp.SuggestedFeeArgs
		if err := json.Unmarshal(req.Params, &args); err != nil {
			return nil, invalidParams(err)
		}
		msg, total, err := c.SuggestedFee(args.Input)
		if err != nil {
			return nil, &lhttp.RPCError{Code: lhttp.CodeServerError, Message: err.Error()}
		}
		raw, err := json.Marshal(msg)
		if err != nil {
			return nil, &lhttp.RPCError{Code: lhttp.CodeServerError, Message: err.Error()}
		}
		return lhttp.SuggestedFeeReply{TypedData: raw, TotalCost: total}, nil

	case lhttp.MethodIssueTx:
		var args lhttp.IssueTxArgs
		if err := json.Unmarshal(req.Params, &args); err != nil {
			return nil, invalidParams(err)
		}
		if args.TypedData == nil {
			return nil, invalidParams(errors.New("missing typedData"))
		}
		sig, err := lifeline.ParseSignature(args.Signature)
		if err != nil {
			return nil, invalidParams(err)
		}
		txID, err := c.IssueTx(*args.TypedData, sig)
		if err != nil {
			var rpcErr *lhttp.RPCError
			if errors.As(err, &rpcErr) {
				return nil, rpcErr
			}
			return nil, &lhttp.RPCError{Code: lhttp.CodeServerError, Message: err.Error()}
		}
		return lhttp.IssueTxReply{TxID: txID}, nil

	case lhttp.MethodInfo:
		var args lhttp.InfoArgs
		if err := json.Unmarshal(req.Params, &args); err != nil {
			return nil, invalidParams(err)
		}
		info, ok := c.Info(args.Space)
		if !ok {
			return nil, &lhttp.RPCError{Code: lhttp.CodeServerError, Message: ReasonSpaceNotFound}
		}
		return lhttp.InfoReply{Info: info}, nil

	default:
		return nil, &lhttp.RPCError{Code: lhttp.CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func invalidParams(err error) *lhttp.RPCError {
	return &lhttp.RPCError{Code: lhttp.CodeInvalidParams, Message: err.Error()}
}
