package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteSource tells where a quote came from.
type QuoteSource string

const (
	SourceRest QuoteSource = "rest"
	SourcePush QuoteSource = "push"
)

// PriceLevel is one side of the book: best price and its size.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// IsZero reports whether the level carries no usable price.
func (l PriceLevel) IsZero() bool {
	return l.Price.IsZero()
}

// Quote is a best bid/offer snapshot for one instrument, with an optional
// book window beyond the top level. Prices are already in display scale
// (bond prices divided by 100).
type Quote struct {
	Symbol     string
	Settlement Settlement
	Bid        PriceLevel
	Ask        PriceLevel
	BidDepth   []PriceLevel
	AskDepth   []PriceLevel
	Last       decimal.Decimal
	Volume     decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Source     QuoteSource
	ReceivedAt time.Time
}

// Complete reports whether both sides of the book are present.
func (q Quote) Complete() bool {
	return !q.Bid.IsZero() && !q.Ask.IsZero()
}

// Stale reports whether the quote is older than maxAge at the given instant.
func (q Quote) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(q.ReceivedAt) > maxAge
}

// MepRate is the implied peso/dollar exchange rate derived from one bond
// pair, both directions plus the spread between them.
type MepRate struct {
	PesoSymbol   string
	DollarSymbol string
	Settlement   Settlement
	BuyRate      decimal.Decimal
	SellRate     decimal.Decimal
	Spread       decimal.Decimal
	SpreadPct    decimal.Decimal
	Pair         BondPair
	CalculatedAt time.Time
}

// QuoteUpdate is a push-feed delivery routed to a tenant's bounded queue.
type QuoteUpdate struct {
	Tenant string
	Quote  Quote
}

// BondPair holds both legs of a MEP calculation.
type BondPair struct {
	Peso   Quote
	Dollar Quote
}

// Complete reports whether both legs have a two-sided book.
func (p BondPair) Complete() bool {
	return p.Peso.Complete() && p.Dollar.Complete()
}
