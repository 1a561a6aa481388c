package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mep_go/internal/domain"
)

// fallbackBondRoots is used when the instrument catalog cannot be fetched.
var fallbackBondRoots = []string{"AL30", "AL35", "GD30", "GD35", "AE38", "AL41", "GD41"}

const (
	defaultBondTTL      = 12 * time.Hour
	defaultThrottle     = 60 * time.Second
	priceScalePrecision = 6
)

var bondScale = decimal.NewFromInt(100)

// SymbolService classifies bonds and converts prices between the broker's
// raw scale and display scale. The classification cache is process-wide,
// refreshed from the instrument catalog on a TTL, and degrades to a static
// root list when the catalog is unreachable.
type SymbolService struct {
	mu     sync.RWMutex
	broker domain.BrokerChannel
	clock  domain.Clock
	logger *slog.Logger

	ttl      time.Duration
	throttle time.Duration

	roots       map[string]struct{}
	fullTickers map[string]struct{}
	loadedAt    time.Time
	lastAttempt time.Time
}

// NewSymbolService creates the service with the wall clock and default TTLs.
func NewSymbolService(broker domain.BrokerChannel) *SymbolService {
	return NewSymbolServiceWithClock(broker, domain.SystemClock, defaultBondTTL, defaultThrottle)
}

// NewSymbolServiceWithClock injects the clock and TTLs, used by tests to
// drive expiry deterministically.
func NewSymbolServiceWithClock(broker domain.BrokerChannel, clock domain.Clock, ttl, throttle time.Duration) *SymbolService {
	s := &SymbolService{
		broker:      broker,
		clock:       clock,
		ttl:         ttl,
		throttle:    throttle,
		roots:       make(map[string]struct{}),
		fullTickers: make(map[string]struct{}),
		logger:      slog.Default().With("module", "symbols"),
	}
	s.applyFallback()
	s.loadedAt = time.Time{} // force a catalog attempt on first use
	return s
}

func (s *SymbolService) applyFallback() {
	roots := make(map[string]struct{}, len(fallbackBondRoots)*(len(domain.CurrencySuffixes)+1))
	for _, root := range fallbackBondRoots {
		roots[root] = struct{}{}
		for _, suffix := range domain.CurrencySuffixes {
			roots[root+suffix] = struct{}{}
		}
	}
	s.roots = roots
	s.fullTickers = make(map[string]struct{})
}

// Refresh reloads the classification cache from the catalog when stale.
// Failures degrade to the fallback list; attempts are throttled so a dead
// catalog endpoint is not hammered on every call. Never returns an error.
func (s *SymbolService) Refresh(ctx context.Context, token domain.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !s.loadedAt.IsZero() && now.Sub(s.loadedAt) < s.ttl {
		return
	}
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.throttle {
		return
	}
	s.lastAttempt = now

	instruments, err := s.broker.Instruments(ctx, token)
	if err != nil || len(instruments) == 0 {
		s.logger.Warn("bond catalog refresh failed, using fallback list", "error", err)
		if len(s.roots) == 0 {
			s.applyFallback()
		}
		return
	}

	roots := make(map[string]struct{})
	fullTickers := make(map[string]struct{})
	for _, in := range instruments {
		if !isBondInstrument(in) {
			continue
		}
		fullTickers[strings.ToUpper(in.Ticker)] = struct{}{}
		roots[domain.RootSymbol(in.Ticker)] = struct{}{}
	}
	if len(roots) == 0 {
		s.logger.Warn("catalog returned no bonds, keeping previous cache")
		return
	}

	s.roots = roots
	s.fullTickers = fullTickers
	s.loadedAt = now
	s.logger.Info("bond catalog refreshed", "roots", len(roots))
}

// isBondInstrument classifies using the CFI code (D = debt instrument).
func isBondInstrument(in domain.Instrument) bool {
	return strings.HasPrefix(strings.ToUpper(in.CFICode), "D")
}

// IsBond reports whether a symbol (root, currency-suffixed variant, or full
// ticker) denotes a bond. Never fails; unknown symbols are not bonds.
func (s *SymbolService) IsBond(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	upper := strings.ToUpper(strings.TrimSpace(symbol))
	if _, ok := s.fullTickers[upper]; ok {
		return true
	}

	root := domain.RootSymbol(upper)
	candidates := []string{root}
	// A currency-suffixed bond classifies identically to its base root.
	for _, suffix := range domain.CurrencySuffixes {
		if strings.HasSuffix(root, suffix) && len(root) > 1 {
			candidates = append(candidates, root[:len(root)-1])
		}
	}
	for _, c := range candidates {
		if _, ok := s.roots[c]; ok {
			return true
		}
	}
	return false
}

// ToDisplayPrice converts a broker-scale price to display scale: bonds are
// divided by 100, everything else passes through. Rounded to 6 decimals.
func (s *SymbolService) ToDisplayPrice(symbol string, price decimal.Decimal) decimal.Decimal {
	if !s.IsBond(symbol) {
		return price
	}
	return price.Div(bondScale).Round(priceScalePrecision)
}

// ToBrokerPrice is the exact inverse of ToDisplayPrice within 6 decimals.
func (s *SymbolService) ToBrokerPrice(symbol string, price decimal.Decimal) decimal.Decimal {
	if !s.IsBond(symbol) {
		return price
	}
	return price.Mul(bondScale).Round(priceScalePrecision)
}

// DisplayQuote rescales both sides of a raw broker quote.
func (s *SymbolService) DisplayQuote(q domain.Quote) domain.Quote {
	if !s.IsBond(q.Symbol) {
		return q
	}
	q.Bid.Price = q.Bid.Price.Div(bondScale).Round(priceScalePrecision)
	q.Ask.Price = q.Ask.Price.Div(bondScale).Round(priceScalePrecision)
	for i := range q.BidDepth {
		q.BidDepth[i].Price = q.BidDepth[i].Price.Div(bondScale).Round(priceScalePrecision)
	}
	for i := range q.AskDepth {
		q.AskDepth[i].Price = q.AskDepth[i].Price.Div(bondScale).Round(priceScalePrecision)
	}
	if !q.Last.IsZero() {
		q.Last = q.Last.Div(bondScale).Round(priceScalePrecision)
	}
	if !q.High.IsZero() {
		q.High = q.High.Div(bondScale).Round(priceScalePrecision)
	}
	if !q.Low.IsZero() {
		q.Low = q.Low.Div(bondScale).Round(priceScalePrecision)
	}
	return q
}
