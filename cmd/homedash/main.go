package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"

	"github.com/raterudder/homedash/pkg/log"
	"github.com/raterudder/homedash/pkg/server"
	"github.com/raterudder/homedash/pkg/storage"
	"github.com/raterudder/homedash/pkg/telemetry"
	"github.com/raterudder/homedash/pkg/upstream"
)

func main() {
	// init packages
	db := storage.Configured()
	src := upstream.Configured(db)
	provider := telemetry.Configured(src)

	// init server
	srv := server.Configured(provider, db)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	log.SetDefault(logger)
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	// the provider and the server stop together, when either fails or a
	// signal arrives
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := provider.Run(ctx); err != nil {
			return fmt.Errorf("telemetry provider failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})

	if err := g.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "homedash failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "homedash exited cleanly")
}
