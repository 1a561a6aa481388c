package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"mep_go/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Background maintenance (session eviction)
	bootstrap.Run(ctx)

	a := app.New(bootstrap)

	// 5. Warm the default tenant when credentials are configured
	if bootstrap.Config.Broker.User != "" {
		if _, err := a.Login(ctx, "default", bootstrap.Config.DefaultCredentials()); err != nil {
			slog.Error("Default tenant login failed", slog.Any("error", err))
		} else if rate, err := a.CalculateRate(ctx, "default", "AL30", "CI"); err != nil {
			slog.Warn("Initial rate calculation failed", slog.Any("error", err))
		} else {
			slog.Info("💵 MEP rate",
				slog.String("pair", rate.PesoSymbol+"/"+rate.DollarSymbol),
				slog.String("buy", rate.BuyRate.String()),
				slog.String("sell", rate.SellRate.String()))
		}
	}

	slog.InfoContext(ctx, "✨ MEP Go fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}
