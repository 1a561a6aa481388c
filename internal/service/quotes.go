package service

import (
	"context"
	"log/slog"
	"time"

	"mep_go/internal/domain"
	"mep_go/internal/infra"
)

const (
	defaultPrimaryAttempts = 3
	defaultPrimaryDelay    = 400 * time.Millisecond
	defaultFallbackWait    = 2 * time.Second
	defaultFallbackStep    = 200 * time.Millisecond
	defaultQuoteMaxAge     = 30 * time.Second
)

// QuoteService resolves quotes through a bounded-retry REST path with a
// deadline-bound push-feed fallback. Both paths block the caller for a
// deterministic worst-case duration.
type QuoteService struct {
	broker   domain.BrokerChannel
	dialer   domain.PushDialer
	sessions *SessionStore
	symbols  *SymbolService
	registry *Registry
	clock    domain.Clock
	logger   *slog.Logger

	primaryAttempts int
	primaryDelay    time.Duration
	fallbackWait    time.Duration
	fallbackStep    time.Duration
	quoteMaxAge     time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewQuoteService wires the orchestrator with default timing.
func NewQuoteService(broker domain.BrokerChannel, dialer domain.PushDialer, sessions *SessionStore, symbols *SymbolService, registry *Registry) *QuoteService {
	return &QuoteService{
		broker:          broker,
		dialer:          dialer,
		sessions:        sessions,
		symbols:         symbols,
		registry:        registry,
		clock:           domain.SystemClock,
		logger:          slog.Default().With("module", "quotes"),
		primaryAttempts: defaultPrimaryAttempts,
		primaryDelay:    defaultPrimaryDelay,
		fallbackWait:    defaultFallbackWait,
		fallbackStep:    defaultFallbackStep,
		quoteMaxAge:     defaultQuoteMaxAge,
		sleep:           sleepCtx,
	}
}

// SetTiming overrides retry and fallback timing, used by config wiring and
// tests. Zero values keep the current setting.
func (q *QuoteService) SetTiming(attempts int, delay, wait, step time.Duration) {
	if attempts > 0 {
		q.primaryAttempts = attempts
	}
	if delay > 0 {
		q.primaryDelay = delay
	}
	if wait > 0 {
		q.fallbackWait = wait
	}
	if step > 0 {
		q.fallbackStep = step
	}
}

// SetMaxAge overrides how long a cached quote stays servable. Zero keeps
// the current setting.
func (q *QuoteService) SetMaxAge(maxAge time.Duration) {
	if maxAge > 0 {
		q.quoteMaxAge = maxAge
	}
}

// GetQuote fetches one instrument through the primary path only, caching
// the display-scaled result under the tenant.
func (q *QuoteService) GetQuote(ctx context.Context, tenant, symbol string, settlement domain.Settlement, depth int) (domain.Quote, error) {
	session, err := q.sessions.Get(tenant)
	if err != nil {
		return domain.Quote{}, err
	}
	q.symbols.Refresh(ctx, session.Token)

	ticker := domain.InstrumentTicker(symbol, settlement)
	started := q.clock.Now()

	quote, err := q.fetchPrimary(ctx, session.Token, ticker, settlement, depth)
	if err != nil {
		return domain.Quote{}, err
	}

	conn := q.registry.Ensure(tenant)
	conn.CacheQuote(quote)
	infra.GlobalMetrics.RecordQuote(q.clock.Now().Sub(started).Nanoseconds())
	return quote, nil
}

// fetchPrimary runs the bounded-retry REST path for one ticker and returns
// the quote already in display scale.
func (q *QuoteService) fetchPrimary(ctx context.Context, token domain.Token, ticker string, settlement domain.Settlement, depth int) (domain.Quote, error) {
	var lastErr error
	for attempt := 1; attempt <= q.primaryAttempts; attempt++ {
		quote, err := q.broker.Snapshot(ctx, token, ticker, depth)
		if err == nil {
			quote.Settlement = settlement
			quote.Source = domain.SourceRest
			if quote.ReceivedAt.IsZero() {
				quote.ReceivedAt = q.clock.Now()
			}
			return q.symbols.DisplayQuote(quote), nil
		}
		lastErr = err

		kind := domain.KindOf(err)
		if kind != domain.KindConnectivity && kind != domain.KindDataUnavailable {
			return domain.Quote{}, err
		}
		q.logger.Warn("primary quote attempt failed",
			"ticker", ticker, "attempt", attempt, "error", err)

		if attempt < q.primaryAttempts {
			if err := q.sleep(ctx, q.primaryDelay); err != nil {
				return domain.Quote{}, err
			}
		}
	}
	infra.GlobalMetrics.RecordError()
	return domain.Quote{}, domain.Ef(domain.KindDataUnavailable, "get_quote",
		"no quote for %s@%s after %d attempts: %v", ticker, settlement.Suffix(), q.primaryAttempts, lastErr)
}

// FetchBondPair resolves both legs of a MEP pair. Legs missed by the
// primary path are back-filled from the push feed before a fixed deadline;
// a one-REST/one-push partial result is valid and preserved as-is.
func (q *QuoteService) FetchBondPair(ctx context.Context, tenant, pesoSymbol, dollarSymbol string, settlement domain.Settlement) (domain.BondPair, error) {
	session, err := q.sessions.Get(tenant)
	if err != nil {
		return domain.BondPair{}, err
	}
	q.symbols.Refresh(ctx, session.Token)

	pesoTicker := domain.InstrumentTicker(pesoSymbol, settlement)
	dollarTicker := domain.InstrumentTicker(dollarSymbol, settlement)
	conn := q.registry.Ensure(tenant)

	quotes := make(map[string]domain.Quote, 2)
	missing := make([]string, 0, 2)
	for _, ticker := range []string{pesoTicker, dollarTicker} {
		quote, err := q.fetchPrimary(ctx, session.Token, ticker, settlement, 1)
		if err != nil {
			q.logger.Warn("primary path failed for leg", "ticker", ticker, "error", err)
			missing = append(missing, ticker)
			continue
		}
		conn.CacheQuote(quote)
		quotes[ticker] = quote
	}

	if len(missing) > 0 {
		if err := q.fallbackFill(ctx, session, conn, []string{pesoTicker, dollarTicker}, missing, settlement, quotes); err != nil {
			return domain.BondPair{}, err
		}
		infra.GlobalMetrics.RecordFallback()
	}

	return domain.BondPair{Peso: quotes[pesoTicker], Dollar: quotes[dollarTicker]}, nil
}

// fallbackFill subscribes both legs on the push feed and polls the tenant
// cache until all missing legs appear or the deadline passes. The channel
// is re-initialized at most once if it drops mid-poll.
func (q *QuoteService) fallbackFill(ctx context.Context, session *Session, conn *TenantConn, allTickers, missing []string, settlement domain.Settlement, quotes map[string]domain.Quote) error {
	if err := q.ensurePush(ctx, session, conn, allTickers); err != nil {
		return err
	}

	deadline := q.clock.Now().Add(q.fallbackWait)
	reinitialized := false

	for {
		conn.Drain()

		remaining := missing[:0:len(missing)]
		for _, ticker := range missing {
			if quote, ok := conn.CachedQuote(ticker); ok && quote.Complete() {
				quote.Settlement = settlement
				quotes[ticker] = quote
				continue
			}
			remaining = append(remaining, ticker)
		}
		missing = remaining
		if len(missing) == 0 {
			return nil
		}

		if q.clock.Now().After(deadline) {
			break
		}

		if conn.Dropped() && !reinitialized {
			q.logger.Warn("push channel dropped mid-poll, re-initializing")
			if old, _ := conn.Push(); old != nil {
				old.Close()
			}
			conn.SetPush(nil)
			if err := q.ensurePush(ctx, session, conn, allTickers); err != nil {
				return err
			}
			reinitialized = true
		}

		if err := q.sleep(ctx, q.fallbackStep); err != nil {
			return err
		}
	}

	infra.GlobalMetrics.RecordError()
	return domain.Ef(domain.KindDataUnavailable, "fetch_pair",
		"no quote for %v@%s after primary and fallback paths", missing, settlement.Suffix())
}

// ensurePush lazily opens the tenant's push channel and subscribes the
// given tickers. Already-subscribed tickers are not re-sent.
func (q *QuoteService) ensurePush(ctx context.Context, session *Session, conn *TenantConn, tickers []string) error {
	push, initialized := conn.Push()
	if !initialized || push == nil {
		push = q.dialer.DialPush(session.Creds.Env)
		handlers := domain.PushHandlers{
			OnQuote: func(quote domain.Quote) {
				quote.Settlement = domain.NormalizeSettlement(domain.SettlementOf(quote.Symbol))
				quote.Source = domain.SourcePush
				if quote.ReceivedAt.IsZero() {
					quote.ReceivedAt = q.clock.Now()
				}
				conn.Enqueue(domain.QuoteUpdate{Tenant: session.Tenant, Quote: q.symbols.DisplayQuote(quote)})
			},
			OnOrder: func(update domain.OrderUpdate) {
				conn.RecordOrderUpdate(update)
			},
			OnError: func(err error) {
				q.logger.Warn("push feed error", "tenant", session.Tenant, "error", err)
				conn.MarkDropped()
			},
		}
		if err := push.Start(ctx, session.Token, handlers); err != nil {
			return err
		}
		conn.SetPush(push)
		if session.Creds.Account != "" && conn.AddAccount(session.Creds.Account) {
			if err := push.SubscribeOrders(session.Creds.Account); err != nil {
				q.logger.Warn("order subscription failed", "error", err)
			}
		}
		// Fresh channel: re-subscribe everything previously subscribed.
		if prior := conn.Subs(); len(prior) > 0 {
			if err := push.Subscribe(prior); err != nil {
				return err
			}
		}
	}

	if fresh := conn.AddSubs(tickers); len(fresh) > 0 {
		if err := push.Subscribe(fresh); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe adds push-feed market data subscriptions without fetching.
func (q *QuoteService) Subscribe(ctx context.Context, tenant string, symbols []string, settlement domain.Settlement) error {
	session, err := q.sessions.Get(tenant)
	if err != nil {
		return err
	}
	tickers := make([]string, len(symbols))
	for i, s := range symbols {
		tickers[i] = domain.InstrumentTicker(s, settlement)
	}
	conn := q.registry.Ensure(tenant)
	return q.ensurePush(ctx, session, conn, tickers)
}

// CachedQuotes returns the tenant's current quote cache snapshot after
// draining any pending push deliveries. Entries older than the configured
// max age are withheld.
func (q *QuoteService) CachedQuotes(tenant string) map[string]domain.Quote {
	conn, ok := q.registry.Lookup(tenant)
	if !ok {
		return map[string]domain.Quote{}
	}
	conn.Drain()
	now := q.clock.Now()
	out := conn.CachedQuotes()
	for symbol, quote := range out {
		if quote.Stale(now, q.quoteMaxAge) {
			delete(out, symbol)
		}
	}
	return out
}

// UnsubscribeAll closes the tenant's push channel and clears its
// subscriptions and quote cache. The session stays authenticated.
func (q *QuoteService) UnsubscribeAll(tenant string) {
	conn, ok := q.registry.Lookup(tenant)
	if !ok {
		return
	}
	conn.Reset()
	q.logger.Info("subscriptions cleared", "tenant", tenant)
}

// SubscriptionStatus describes a tenant's push-feed state.
type SubscriptionStatus struct {
	Connected bool
	Tickers   []string
	Accounts  []string
	Cached    int
}

// Status reports the tenant's current push subscriptions.
func (q *QuoteService) Status(tenant string) SubscriptionStatus {
	conn, ok := q.registry.Lookup(tenant)
	if !ok {
		return SubscriptionStatus{}
	}
	_, connected := conn.Push()
	return SubscriptionStatus{
		Connected: connected,
		Tickers:   conn.Subs(),
		Accounts:  conn.Accounts(),
		Cached:    len(conn.CachedQuotes()),
	}
}
