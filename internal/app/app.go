package app

import (
	"context"

	"github.com/shopspring/decimal"

	"mep_go/internal/domain"
	"mep_go/internal/infra"
	"mep_go/internal/service"
)

// App is the outward surface: tenant-scoped session lifecycle, quote
// lookups and rate/preview/execute calls. Methods take and return plain
// structured records; encoding them for a transport lives elsewhere.
type App struct {
	boot *Bootstrap
}

// New wraps an initialized Bootstrap.
func New(boot *Bootstrap) *App {
	return &App{boot: boot}
}

// Login authenticates a tenant with retry on connectivity failures. Empty
// credentials fall back to the tenant's configured account, then to the
// process-level credentials.
func (a *App) Login(ctx context.Context, tenant string, creds domain.Credentials) (*service.Session, error) {
	if creds.User == "" {
		creds = a.boot.Config.TenantCredentials(tenant)
	}
	return a.boot.Sessions.AuthenticateWithRetry(ctx, tenant, creds)
}

// Logout closes the tenant's session, push channel and caches.
func (a *App) Logout(tenant string) {
	a.boot.Sessions.Logout(tenant)
}

// SessionStatus reports the tenant's session state.
func (a *App) SessionStatus(tenant string) service.SessionState {
	return a.boot.Sessions.Status(tenant)
}

// RefreshSession re-authenticates the tenant with its stored credentials,
// restarting the expiry window.
func (a *App) RefreshSession(ctx context.Context, tenant string) (*service.Session, error) {
	return a.boot.Sessions.RefreshToken(ctx, tenant)
}

// GetQuote fetches one instrument through the primary path. depth bounds
// the order-book window; values below 1 are treated as 1.
func (a *App) GetQuote(ctx context.Context, tenant, symbol, settlement string, depth int) (domain.Quote, error) {
	return a.boot.Quotes.GetQuote(ctx, tenant, symbol, domain.NormalizeSettlement(settlement), depth)
}

// Subscribe adds push-feed subscriptions for the given symbols.
func (a *App) Subscribe(ctx context.Context, tenant string, symbols []string, settlement string) error {
	return a.boot.Quotes.Subscribe(ctx, tenant, symbols, domain.NormalizeSettlement(settlement))
}

// CachedQuotes snapshots the tenant's quote cache.
func (a *App) CachedQuotes(tenant string) map[string]domain.Quote {
	return a.boot.Quotes.CachedQuotes(tenant)
}

// UnsubscribeAll drops the tenant's push subscriptions and quote cache
// without touching the session.
func (a *App) UnsubscribeAll(tenant string) {
	a.boot.Quotes.UnsubscribeAll(tenant)
}

// SubscriptionStatus reports the tenant's push-feed state.
func (a *App) SubscriptionStatus(tenant string) service.SubscriptionStatus {
	return a.boot.Quotes.Status(tenant)
}

// SupportedPairs lists the tradable peso/dollar bond pairs.
func (a *App) SupportedPairs() map[string]string {
	return a.boot.Mep.SupportedPairs()
}

// CalculateRate derives the implied peso/dollar rate for a bond pair.
func (a *App) CalculateRate(ctx context.Context, tenant, symbol, settlement string) (domain.MepRate, error) {
	return a.boot.Mep.CalculateRate(ctx, tenant, symbol, domain.NormalizeSettlement(settlement))
}

// PreviewBuy sizes a dollar-to-peso operation for a USD notional.
func (a *App) PreviewBuy(ctx context.Context, tenant string, usd decimal.Decimal, symbol, settlement string) (domain.MepPreview, error) {
	return a.boot.Mep.PreviewBuy(ctx, tenant, usd, symbol, domain.NormalizeSettlement(settlement))
}

// PreviewSell sizes a peso-to-dollar operation for a USD notional.
func (a *App) PreviewSell(ctx context.Context, tenant string, usd decimal.Decimal, symbol, settlement string) (domain.MepPreview, error) {
	return a.boot.Mep.PreviewSell(ctx, tenant, usd, symbol, domain.NormalizeSettlement(settlement))
}

// Execute submits both legs of a previewed pair as market orders.
func (a *App) Execute(ctx context.Context, tenant string, preview domain.MepPreview) (domain.MepExecution, error) {
	return a.boot.Mep.Execute(ctx, tenant, preview)
}

// CancelOrder requests cancellation of a working order.
func (a *App) CancelOrder(ctx context.Context, tenant, clientOrderID string) error {
	return a.boot.Mep.CancelOrder(ctx, tenant, clientOrderID)
}

// OrderUpdates returns the tenant's recent execution reports.
func (a *App) OrderUpdates(tenant string) []domain.OrderUpdate {
	return a.boot.Mep.OrderUpdates(tenant)
}

// History returns the tenant's persisted executions, newest first.
func (a *App) History(tenant string, limit int) ([]domain.ExecutionRecord, error) {
	return a.boot.Mep.History(tenant, limit)
}

// Health reports process-level counters.
func (a *App) Health() infra.MetricsSnapshot {
	return infra.GlobalMetrics.Snapshot()
}
