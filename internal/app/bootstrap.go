package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"mep_go/internal/domain"
	"mep_go/internal/infra"
	"mep_go/internal/infra/primary"
	"mep_go/internal/infra/storage"
	"mep_go/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Journal  *storage.Journal
	Sessions *service.SessionStore
	Symbols  *service.SymbolService
	Registry *service.Registry
	Quotes   *service.QuoteService
	Mep      *service.MepService
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads config, sets up logging, opens the journal and wires
// the service graph.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping MEP Go...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Execution journal
	journal, err := storage.NewJournal(cfg.Journal.Path)
	if err != nil {
		return err
	}
	b.Journal = journal
	slog.Info("✅ Execution journal ready", "path", cfg.Journal.Path)

	// 4. Broker channel + service graph
	broker := primary.NewClient(cfg.Broker.RestURL)
	dialer := primary.Dialer{WSURL: cfg.Broker.WSURL}

	b.Registry = service.NewRegistry()
	b.Symbols = service.NewSymbolServiceWithClock(
		broker, domain.SystemClock,
		time.Duration(cfg.Quotes.BondCacheTTLMin)*time.Minute,
		time.Duration(cfg.Quotes.RefreshThrottleS)*time.Second,
	)
	b.Sessions = service.NewSessionStoreWithClock(
		broker, b.Registry, domain.SystemClock,
		time.Duration(cfg.Sessions.TTLHours)*time.Hour,
	)
	b.Quotes = service.NewQuoteService(broker, dialer, b.Sessions, b.Symbols, b.Registry)
	b.Quotes.SetTiming(
		cfg.Quotes.PrimaryAttempts,
		time.Duration(cfg.Quotes.PrimaryDelayMS)*time.Millisecond,
		time.Duration(cfg.Quotes.FallbackWaitMS)*time.Millisecond,
		time.Duration(cfg.Quotes.FallbackStepMS)*time.Millisecond,
	)
	b.Quotes.SetMaxAge(time.Duration(cfg.Quotes.QuoteMaxAgeSec) * time.Second)
	b.Mep = service.NewMepService(b.Quotes, b.Sessions, broker, b.Registry, journal)
	b.Mep.SetFees(
		decimal.NewFromFloat(cfg.Trading.CommissionPct),
		decimal.NewFromFloat(cfg.Trading.DeviationPct),
	)

	slog.Info("✅ Service graph wired", "env", cfg.Broker.Env)
	return nil
}

// Run starts background maintenance until ctx is done.
func (b *Bootstrap) Run(ctx context.Context) {
	go b.Sessions.Cleanup(ctx, time.Duration(b.Config.Sessions.CleanupEveryMin)*time.Minute)
}
