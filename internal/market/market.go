package market

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"braibit-api/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	HistorySize  = 60
	PriceStep    = 0.025
	requestLimit = 10 * time.Second
)

var (
	DefaultBTCUSD  = decimal.NewFromInt(90000)
	InitialBBPrice = decimal.RequireFromString("0.93")
	MinBBPrice     = decimal.RequireFromString("0.8")
	MaxBBPrice     = decimal.RequireFromString("1.2")
	USDToEUR       = decimal.RequireFromString("0.92")
)

type quoteResponse struct {
	Bitcoin struct {
		USD float64 `json:"usd"`
	} `json:"bitcoin"`
}

// Quoter keeps the last known BTC/USD quote. A failed refresh leaves it unchanged.
type Quoter struct {
	url    string
	logger *zap.Logger

	mu        sync.RWMutex
	btcUSD    decimal.Decimal
	updatedAt time.Time
}

func NewQuoter(url string, logger *zap.Logger) *Quoter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Quoter{url: url, logger: logger, btcUSD: DefaultBTCUSD}
}

// Refresh fetches the current quote once.
func (q *Quoter) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := requestLimit
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	var resp quoteResponse
	code, _, errs := fiber.Get(q.url).Timeout(timeout).Struct(&resp)
	if len(errs) > 0 {
		q.logger.Debug("Quote fetch failed", zap.String("url", q.url), zap.Errors("errors", errs))
		return fmt.Errorf("fetch quote: %w", errs[0])
	}
	if code != http.StatusOK {
		q.logger.Debug("Quote fetch failed", zap.String("url", q.url), zap.Int("status", code))
		return fmt.Errorf("fetch quote: unexpected status %d", code)
	}
	if resp.Bitcoin.USD <= 0 {
		return fmt.Errorf("fetch quote: missing bitcoin.usd")
	}

	q.mu.Lock()
	q.btcUSD = decimal.NewFromFloat(resp.Bitcoin.USD)
	q.updatedAt = time.Now().UTC()
	q.mu.Unlock()
	return nil
}

func (q *Quoter) BTCUSD() (decimal.Decimal, time.Time) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.btcUSD, q.updatedAt
}

type PricePoint struct {
	At    time.Time       `json:"at"`
	Price decimal.Decimal `json:"price"`
}

// TokenPrice is the simulated USD price of one BB token.
type TokenPrice struct {
	gen *utils.Generator

	mu      sync.RWMutex
	current decimal.Decimal
	history []PricePoint
}

func NewTokenPrice(gen *utils.Generator) *TokenPrice {
	if gen == nil {
		gen = utils.NewGenerator()
	}
	return &TokenPrice{gen: gen, current: InitialBBPrice}
}

// Step moves the price by at most PriceStep in either direction, clamped to
// [MinBBPrice, MaxBBPrice], and records the new point.
func (p *TokenPrice) Step(now time.Time) decimal.Decimal {
	delta := decimal.NewFromFloat((p.gen.Float64()*2 - 1) * PriceStep).Round(4)

	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.current.Add(delta)
	if next.LessThan(MinBBPrice) {
		next = MinBBPrice
	}
	if next.GreaterThan(MaxBBPrice) {
		next = MaxBBPrice
	}
	p.current = next

	p.history = append(p.history, PricePoint{At: now.UTC(), Price: next})
	if len(p.history) > HistorySize {
		p.history = p.history[len(p.history)-HistorySize:]
	}
	return next
}

func (p *TokenPrice) Current() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// History returns up to HistorySize points, oldest first.
func (p *TokenPrice) History() []PricePoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PricePoint(nil), p.history...)
}

// Valuation is a balance expressed in other currencies at the current quotes.
type Valuation struct {
	Balance decimal.Decimal `json:"balance"`
	BBPrice decimal.Decimal `json:"bb_price_usd"`
	BTCUSD  decimal.Decimal `json:"btc_usd"`
	InBTC   decimal.Decimal `json:"in_btc"`
	InEUR   decimal.Decimal `json:"in_eur"`
}

func Value(balance, bbPrice, btcUSD decimal.Decimal) Valuation {
	v := Valuation{
		Balance: balance,
		BBPrice: bbPrice,
		BTCUSD:  btcUSD,
		InBTC:   decimal.Zero,
		InEUR:   balance.Mul(bbPrice).Mul(USDToEUR).Round(2),
	}
	if btcUSD.IsPositive() {
		v.InBTC = balance.Mul(bbPrice).DivRound(btcUSD, 8)
	}
	return v
}

// Snapshot is the market state served to clients.
type Snapshot struct {
	BTCUSD   decimal.Decimal `json:"btc_usd"`
	QuotedAt time.Time       `json:"quoted_at"`
	BBPrice  decimal.Decimal `json:"bb_price_usd"`
	History  []PricePoint    `json:"history"`
	USDToEUR decimal.Decimal `json:"usd_to_eur"`
}

// Market combines the external BTC quote and the simulated token price.
type Market struct {
	Quoter *Quoter
	Price  *TokenPrice
}

func New(quoter *Quoter, price *TokenPrice) *Market {
	return &Market{Quoter: quoter, Price: price}
}

func (m *Market) Snapshot() Snapshot {
	btc, at := m.Quoter.BTCUSD()
	return Snapshot{
		BTCUSD:   btc,
		QuotedAt: at,
		BBPrice:  m.Price.Current(),
		History:  m.Price.History(),
		USDToEUR: USDToEUR,
	}
}

func (m *Market) Value(balance decimal.Decimal) Valuation {
	btc, _ := m.Quoter.BTCUSD()
	return Value(balance, m.Price.Current(), btc)
}
