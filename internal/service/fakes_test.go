package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mep_go/internal/domain"
)

// fakeClock is a settable clock for TTL and deadline tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeBroker implements domain.BrokerChannel with per-test hooks.
type fakeBroker struct {
	mu         sync.Mutex
	authFn     func(domain.Credentials) (domain.Token, error)
	snapFn     func(ticker string) (domain.Quote, error)
	instrFn    func() ([]domain.Instrument, error)
	orderFn    func(domain.OrderRequest) (domain.OrderAck, error)
	authCalls  int
	snapCalls  map[string]int
	instrCalls int
	orders     []domain.OrderRequest
	cancels    []string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{snapCalls: make(map[string]int)}
}

func (b *fakeBroker) Authenticate(ctx context.Context, creds domain.Credentials) (domain.Token, error) {
	b.mu.Lock()
	b.authCalls++
	fn := b.authFn
	b.mu.Unlock()
	if fn != nil {
		return fn(creds)
	}
	return domain.Token{Value: "tok", IssuedAt: time.Now(), ExpiresAt: time.Now().Add(8 * time.Hour)}, nil
}

func (b *fakeBroker) Instruments(ctx context.Context, token domain.Token) ([]domain.Instrument, error) {
	b.mu.Lock()
	b.instrCalls++
	fn := b.instrFn
	b.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil, domain.E(domain.KindConnectivity, "instruments", "unreachable", nil)
}

func (b *fakeBroker) Snapshot(ctx context.Context, token domain.Token, ticker string, depth int) (domain.Quote, error) {
	b.mu.Lock()
	b.snapCalls[ticker]++
	fn := b.snapFn
	b.mu.Unlock()
	if fn != nil {
		return fn(ticker)
	}
	return domain.Quote{}, domain.Ef(domain.KindDataUnavailable, "snapshot", "no data for %s", ticker)
}

func (b *fakeBroker) SendOrder(ctx context.Context, token domain.Token, req domain.OrderRequest) (domain.OrderAck, error) {
	b.mu.Lock()
	b.orders = append(b.orders, req)
	n := len(b.orders)
	fn := b.orderFn
	b.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return domain.OrderAck{ClientOrderID: fmt.Sprintf("ord-%d", n), Status: domain.StatusPendingNew}, nil
}

func (b *fakeBroker) CancelOrder(ctx context.Context, token domain.Token, id string) error {
	b.mu.Lock()
	b.cancels = append(b.cancels, id)
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) OrderStatus(ctx context.Context, token domain.Token, id string) (domain.OrderUpdate, error) {
	return domain.OrderUpdate{ClientOrderID: id, Status: domain.StatusFilled}, nil
}

// fakePush records subscriptions and hands the test direct access to the
// handlers so it can simulate push deliveries.
type fakePush struct {
	mu        sync.Mutex
	handlers  domain.PushHandlers
	subs      [][]string
	accounts  []string
	started   bool
	closed    bool
	startErr  error
	subscribe func(tickers []string)
}

func (p *fakePush) Start(ctx context.Context, token domain.Token, handlers domain.PushHandlers) error {
	if p.startErr != nil {
		return p.startErr
	}
	p.mu.Lock()
	p.handlers = handlers
	p.started = true
	p.mu.Unlock()
	return nil
}

func (p *fakePush) Subscribe(tickers []string) error {
	p.mu.Lock()
	p.subs = append(p.subs, tickers)
	cb := p.subscribe
	p.mu.Unlock()
	if cb != nil {
		cb(tickers)
	}
	return nil
}

func (p *fakePush) SubscribeOrders(account string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = append(p.accounts, account)
	return nil
}

func (p *fakePush) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePush) deliver(q domain.Quote) {
	p.mu.Lock()
	fn := p.handlers.OnQuote
	p.mu.Unlock()
	if fn != nil {
		fn(q)
	}
}

// fakeDialer hands out a prepared sequence of push channels.
type fakeDialer struct {
	mu    sync.Mutex
	feeds []*fakePush
	dials int
}

func (d *fakeDialer) DialPush(env domain.Environment) domain.PushChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	feed := &fakePush{}
	if d.dials < len(d.feeds) {
		feed = d.feeds[d.dials]
	}
	d.dials++
	return feed
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func level(price, size float64) domain.PriceLevel {
	return domain.PriceLevel{Price: dec(price), Size: dec(size)}
}

func bondCatalog() []domain.Instrument {
	tickers := []string{
		"MERV - XMEV - AL30 - CI", "MERV - XMEV - AL30 - 24hs",
		"MERV - XMEV - AL30D - CI", "MERV - XMEV - AL30D - 24hs",
		"MERV - XMEV - GD30 - 24hs", "MERV - XMEV - GD30D - 24hs",
	}
	out := make([]domain.Instrument, len(tickers))
	for i, t := range tickers {
		out[i] = domain.Instrument{Ticker: t, Market: "ROFX", CFICode: "DBXXXX"}
	}
	return out
}
