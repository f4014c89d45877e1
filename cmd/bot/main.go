package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"img2img-lab/internal/app"
	"img2img-lab/internal/config"
	"img2img-lab/internal/handlers"
	"img2img-lab/internal/mediagroup"
	"img2img-lab/internal/session"
	"img2img-lab/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bot stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: a.HTTPClient,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		return err
	}

	h := handlers.New(handlers.Options{
		Telegram: tg,
		Studio:   a.Studio,
		Presets:  a.Presets,
		Sessions: session.NewStore(session.Options{Defaults: handlers.DefaultSettings(a.Presets)}),
		Exporter: a.Exporter,
		Logger:   logger,
	})

	workers := newPool(cfg.MaxConcurrent)

	albums := mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupDebounce,
		OnFlush: func(batch mediagroup.Batch) {
			// Each photo of an album is its own generation.
			timeout := cfg.RequestTimeout * time.Duration(len(batch.FileIDs))
			workers.Go(ctx, timeout, func(reqCtx context.Context) {
				h.HandleMediaGroup(reqCtx, batch)
			})
		},
	})
	defer albums.Close()
	h.SetMediaGroupAggregator(albums)

	updates := tg.Updates(0)
	defer tg.Stop()
	logger.Info("bot started", "username", tg.Username(), "backend", a.Pipeline.Name(), "workers", cfg.MaxConcurrent)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			workers.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("updates channel closed")
			}
			workers.Go(ctx, cfg.RequestTimeout, func(reqCtx context.Context) {
				if err := h.HandleUpdate(reqCtx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "update_id", update.UpdateID, "err", err)
				}
			})
		}
	}
}
