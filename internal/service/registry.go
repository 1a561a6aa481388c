package service

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"mep_go/internal/domain"
	"mep_go/internal/infra"
)

const (
	orderHistoryCap = 100
	quoteQueueCap   = 256
)

// TenantConn holds one tenant's push-feed state: the channel itself, its
// init flag, the subscribed instruments, the cached quotes and a bounded
// history of order updates.
type TenantConn struct {
	mu sync.Mutex

	push        domain.PushChannel
	initialized bool
	dropped     bool
	subs        map[string]struct{}
	accounts    map[string]struct{}

	quotes map[string]domain.Quote

	// Ring of the most recent order updates, oldest evicted first.
	orderUpdates []domain.OrderUpdate

	// Push deliveries land here and are drained by the fallback poll.
	// Full queue drops the incoming event, never blocks the feed.
	queue chan domain.QuoteUpdate
}

// Registry partitions connection and cache state per tenant.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*TenantConn
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*TenantConn),
		logger: slog.Default().With("module", "registry"),
	}
}

// Ensure returns the tenant's connection state, creating it if absent.
func (r *Registry) Ensure(tenant string) *TenantConn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[tenant]
	if !ok {
		conn = &TenantConn{
			subs:     make(map[string]struct{}),
			accounts: make(map[string]struct{}),
			quotes:   make(map[string]domain.Quote),
			queue:    make(chan domain.QuoteUpdate, quoteQueueCap),
		}
		r.conns[tenant] = conn
	}
	return conn
}

// Lookup returns the tenant's connection state without creating it.
func (r *Registry) Lookup(tenant string) (*TenantConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[tenant]
	return conn, ok
}

// Remove tears down a tenant: closes the push channel, clears
// subscriptions and purges the quote cache as one unit, so a late push
// update cannot resurrect state for a removed tenant.
func (r *Registry) Remove(tenant string) {
	r.mu.Lock()
	conn, ok := r.conns[tenant]
	if ok {
		delete(r.conns, tenant)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	conn.mu.Lock()
	push := conn.push
	conn.push = nil
	conn.initialized = false
	conn.subs = make(map[string]struct{})
	conn.accounts = make(map[string]struct{})
	conn.quotes = make(map[string]domain.Quote)
	conn.mu.Unlock()

	if push != nil {
		push.Close()
	}
	r.logger.Info("tenant removed", "tenant", tenant)
}

// Tenants returns all known tenant ids, sorted.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for t := range r.conns {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Push returns the tenant's push channel and whether it is initialized.
func (c *TenantConn) Push() (domain.PushChannel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.push, c.initialized
}

// SetPush installs a started push channel and marks the tenant initialized.
func (c *TenantConn) SetPush(push domain.PushChannel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.push = push
	c.initialized = push != nil
	c.dropped = false
}

// MarkDropped flags the push channel as lost; the next fallback poll may
// re-initialize it.
func (c *TenantConn) MarkDropped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped = true
	c.initialized = false
}

// Dropped reports whether the channel was flagged as lost.
func (c *TenantConn) Dropped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// AddSubs records subscribed instrument tickers, returning only the ones
// that were not already subscribed.
func (c *TenantConn) AddSubs(tickers []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	fresh := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if _, ok := c.subs[t]; !ok {
			c.subs[t] = struct{}{}
			fresh = append(fresh, t)
		}
	}
	return fresh
}

// Subs returns the subscribed tickers, sorted.
func (c *TenantConn) Subs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// AddAccount records an order-report subscription for an account,
// reporting whether it was new.
func (c *TenantConn) AddAccount(account string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.accounts[account]; ok {
		return false
	}
	c.accounts[account] = struct{}{}
	return true
}

// Accounts returns the accounts with an order-report subscription, sorted.
func (c *TenantConn) Accounts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.accounts))
	for a := range c.accounts {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Reset tears the tenant's feed state down: closes the push channel,
// forgets subscriptions and accounts, empties the quote cache and queue.
// The session itself is untouched.
func (c *TenantConn) Reset() {
	c.mu.Lock()
	push := c.push
	c.push = nil
	c.initialized = false
	c.dropped = false
	c.subs = make(map[string]struct{})
	c.accounts = make(map[string]struct{})
	c.quotes = make(map[string]domain.Quote)
	c.mu.Unlock()

	for {
		select {
		case <-c.queue:
		default:
			if push != nil {
				push.Close()
			}
			return
		}
	}
}

// CacheQuote stores a quote under its upper-cased symbol, last write wins.
func (c *TenantConn) CacheQuote(q domain.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[strings.ToUpper(q.Symbol)] = q
}

// CachedQuote looks a quote up by symbol.
func (c *TenantConn) CachedQuote(symbol string) (domain.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quotes[strings.ToUpper(symbol)]
	return q, ok
}

// CachedQuotes returns a snapshot of the whole quote cache.
func (c *TenantConn) CachedQuotes() map[string]domain.Quote {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.Quote, len(c.quotes))
	for k, v := range c.quotes {
		out[k] = v
	}
	return out
}

// Enqueue offers a push delivery to the tenant queue, dropping the event
// when the queue is full.
func (c *TenantConn) Enqueue(update domain.QuoteUpdate) {
	select {
	case c.queue <- update:
	default: // DROP
		infra.GlobalMetrics.RecordDroppedPush()
	}
}

// Drain moves every queued push delivery into the quote cache and returns
// the number applied. Non-blocking.
func (c *TenantConn) Drain() int {
	applied := 0
	for {
		select {
		case update := <-c.queue:
			c.CacheQuote(update.Quote)
			applied++
		default:
			return applied
		}
	}
}

// RecordOrderUpdate appends to the bounded order-update history.
func (c *TenantConn) RecordOrderUpdate(update domain.OrderUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderUpdates = append(c.orderUpdates, update)
	if len(c.orderUpdates) > orderHistoryCap {
		c.orderUpdates = c.orderUpdates[len(c.orderUpdates)-orderHistoryCap:]
	}
}

// OrderUpdates returns a copy of the history, oldest first.
func (c *TenantConn) OrderUpdates() []domain.OrderUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.OrderUpdate, len(c.orderUpdates))
	copy(out, c.orderUpdates)
	return out
}
