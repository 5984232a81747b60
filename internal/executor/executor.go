// Package executor turns copy orders into signed CLOB limit orders and
// submits them. It sits downstream of the ledger: placement failures are
// reported but never unwind ledger state, and the ledger never waits on
// the exchange.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/kordes/polymirror/internal/crypto"
	"github.com/kordes/polymirror/internal/domain"
)

// scale is the CLOB's fixed-point factor for amounts (USDC and shares).
const scale = 1_000_000

// OrderSigner signs EIP-712 order payloads.
type OrderSigner interface {
	SignOrder(payload crypto.OrderPayload) (string, error)
	Address() common.Address
}

// OrderPoster submits signed orders to the exchange.
type OrderPoster interface {
	PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error)
}

// BookReader reads the current orderbook for the slippage guard.
type BookReader interface {
	GetBook(ctx context.Context, tokenID string) (domain.OrderbookSnapshot, error)
}

// Alerter pushes placement failures to the operator.
type Alerter interface {
	CopyError(ctx context.Context, scope string, err error)
}

// Config holds the executor's tunables.
type Config struct {
	// Funder is the address that owns the CLOB balances (the proxy
	// wallet). Empty falls back to the signer address.
	Funder string

	// SignatureType matches the wallet setup on the exchange.
	SignatureType int

	// DryRun logs would-be orders instead of submitting them.
	DryRun bool

	// MaxSlippageBps bounds how far the mirror's limit price may sit from
	// the observed fill, and skips the copy when the book has already
	// moved beyond it. Zero disables the guard.
	MaxSlippageBps int
}

// Executor consumes copy orders from a channel, prices them against the
// observed fill, signs them, and posts them. Each order is attempted once;
// a missed copy surfaces as a notification, not a retry storm.
type Executor struct {
	orders <-chan domain.CopyOrder
	signer OrderSigner
	clob   OrderPoster
	books  BookReader
	alerts Alerter
	cfg    Config
	dedup  *Dedup
	logger *slog.Logger

	cleanupInterval time.Duration
	now             func() time.Time
}

// New creates an Executor reading from orders. books and alerts may be nil.
func New(
	orders <-chan domain.CopyOrder,
	signer OrderSigner,
	clob OrderPoster,
	books BookReader,
	alerts Alerter,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	if cfg.Funder == "" {
		cfg.Funder = signer.Address().Hex()
	}
	return &Executor{
		orders:          orders,
		signer:          signer,
		clob:            clob,
		books:           books,
		alerts:          alerts,
		cfg:             cfg,
		dedup:           NewDedup(2 * time.Minute),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
		now:             time.Now,
	}
}

// Run processes copy orders until the context is cancelled, then drains
// whatever the channel still holds so accepted copies are not dropped.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started", slog.Bool("dry_run", e.cfg.DryRun))
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()

		case co, ok := <-e.orders:
			if !ok {
				return nil
			}
			e.process(ctx, co)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// process runs one copy order through dedup, the slippage guard, signing,
// and submission.
func (e *Executor) process(ctx context.Context, co domain.CopyOrder) {
	log := e.logger.With(
		slog.String("account", co.AccountKey),
		slog.String("tx", co.Trade.TransactionHash),
		slog.String("token", co.Trade.TokenID),
		slog.String("side", string(co.Trade.Side)),
	)

	if e.dedup.IsDuplicate(co.AccountKey + ":" + co.Trade.TransactionHash) {
		log.Debug("copy order deduplicated, skipping")
		return
	}

	limitPrice, ok := e.guardPrice(ctx, co, log)
	if !ok {
		return
	}

	order, err := e.buildOrder(co, limitPrice)
	if err != nil {
		log.Error("order build failed", slog.String("error", err.Error()))
		e.alert(ctx, "build "+co.Trade.TokenID, err)
		return
	}

	if e.cfg.DryRun {
		log.Info("dry run: order not submitted",
			slog.Float64("price", order.Price()),
			slog.Float64("size", order.Size()),
			slog.String("maker_amount", order.MakerAmount.String()),
			slog.String("taker_amount", order.TakerAmount.String()),
		)
		return
	}

	result, err := e.clob.PostOrder(ctx, order)
	if err != nil {
		log.Error("order placement failed", slog.String("error", err.Error()))
		e.alert(ctx, "place "+co.Trade.TokenID, err)
		return
	}

	log.Info("order placed",
		slog.String("order_id", result.OrderID),
		slog.String("status", string(result.Status)),
		slog.Float64("price", order.Price()),
		slog.Float64("size", order.Size()),
	)
}

// guardPrice returns the limit price for the mirror order: the observed
// fill price pushed out by the allowed slippage, so the order can cross a
// slightly moved book. When the book has already moved beyond the
// allowance the copy is skipped.
func (e *Executor) guardPrice(ctx context.Context, co domain.CopyOrder, log *slog.Logger) (float64, bool) {
	fill := co.Trade.Price
	if e.cfg.MaxSlippageBps <= 0 {
		return fill, true
	}

	allowance := fill * float64(e.cfg.MaxSlippageBps) / 10000
	limit := fill + allowance
	if co.Trade.Side == domain.SideSell {
		limit = fill - allowance
	}
	limit = clampPrice(limit)

	if e.books == nil {
		return limit, true
	}
	book, err := e.books.GetBook(ctx, co.Trade.TokenID)
	if err != nil {
		// The limit price still bounds the damage without the book.
		log.Warn("book unavailable, relying on limit price",
			slog.String("error", err.Error()),
		)
		return limit, true
	}

	if co.Trade.Side == domain.SideBuy && book.BestAsk > 0 && book.BestAsk > limit {
		log.Warn("price moved beyond slippage allowance, skipping copy",
			slog.Float64("fill_price", fill),
			slog.Float64("best_ask", book.BestAsk),
			slog.Int("max_slippage_bps", e.cfg.MaxSlippageBps),
		)
		return 0, false
	}
	if co.Trade.Side == domain.SideSell && book.BestBid > 0 && book.BestBid < limit {
		log.Warn("price moved beyond slippage allowance, skipping copy",
			slog.Float64("fill_price", fill),
			slog.Float64("best_bid", book.BestBid),
			slog.Int("max_slippage_bps", e.cfg.MaxSlippageBps),
		)
		return 0, false
	}
	return limit, true
}

// buildOrder converts a copy order into a signed fill-and-kill order.
//
// Amounts follow the CLOB convention: a buyer makes USDC and takes shares,
// a seller makes shares and takes USDC, both in 1e6 fixed point.
func (e *Executor) buildOrder(co domain.CopyOrder, limitPrice float64) (domain.Order, error) {
	priceTicks := roundToTick(limitPrice)
	sizeUnits := int64(math.Round(co.CopySize * scale))
	if priceTicks <= 0 || sizeUnits <= 0 {
		return domain.Order{}, fmt.Errorf("executor: price %.4f size %.4f: %w",
			limitPrice, co.CopySize, domain.ErrInvalidOrder)
	}

	shares := big.NewInt(sizeUnits)
	// notional = priceTicks * sizeUnits / scale, in USDC micro-units.
	notional := new(big.Int).Mul(big.NewInt(priceTicks), big.NewInt(sizeUnits))
	notional.Div(notional, big.NewInt(scale))

	makerAmount, takerAmount := notional, shares
	sideInt := 0
	if co.Trade.Side == domain.SideSell {
		makerAmount, takerAmount = shares, notional
		sideInt = 1
	}

	salt := strconv.FormatInt(e.now().UnixNano(), 10)
	payload := crypto.OrderPayload{
		Salt:          salt,
		Maker:         e.cfg.Funder,
		Signer:        e.signer.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       co.Trade.TokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          sideInt,
		SignatureType: e.cfg.SignatureType,
	}

	signature, err := e.signer.SignOrder(payload)
	if err != nil {
		return domain.Order{}, fmt.Errorf("executor: %w: %v", domain.ErrSigningFailed, err)
	}

	return domain.Order{
		ID:          uuid.New().String(),
		MarketID:    co.Trade.MarketID,
		TokenID:     co.Trade.TokenID,
		Wallet:      e.cfg.Funder,
		Side:        co.Trade.Side,
		Type:        domain.OrderTypeFAK,
		PriceTicks:  priceTicks,
		SizeUnits:   sizeUnits,
		MakerAmount: makerAmount,
		TakerAmount: takerAmount,
		Salt:        salt,
		Status:      domain.OrderStatusPending,
		Signature:   signature,
		SourceTx:    co.Trade.TransactionHash,
		CreatedAt:   e.now().UTC(),
	}, nil
}

// drain processes copy orders already buffered after cancellation, each
// under a short deadline so shutdown cannot hang on the exchange.
func (e *Executor) drain() {
	for {
		select {
		case co, ok := <-e.orders:
			if !ok {
				return
			}
			e.logger.Warn("draining copy order after shutdown",
				slog.String("tx", co.Trade.TransactionHash),
			)
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(drainCtx, co)
			cancel()
		default:
			return
		}
	}
}

func (e *Executor) alert(ctx context.Context, scope string, err error) {
	if e.alerts == nil {
		return
	}
	e.alerts.CopyError(ctx, scope, err)
}

// SetDedupTTL replaces the dedup window, mainly for tests.
func (e *Executor) SetDedupTTL(ttl time.Duration) {
	e.dedup = NewDedup(ttl)
}

// roundToTick rounds a price to the CLOB's 0.001 tick in 1e6 fixed point.
func roundToTick(price float64) int64 {
	const tick = 1000 // 0.001 * scale
	ticks := int64(math.Round(price * scale / tick))
	return ticks * tick
}

// clampPrice keeps a price inside the market's (0, 1) band, on-tick.
func clampPrice(p float64) float64 {
	if p < 0.001 {
		return 0.001
	}
	if p > 0.999 {
		return 0.999
	}
	return p
}
