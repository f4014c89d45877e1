// Package app wires the components every front-end shares from a Config.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"img2img-lab/internal/assets"
	"img2img-lab/internal/config"
	"img2img-lab/internal/export"
	"img2img-lab/internal/grid"
	"img2img-lab/internal/httpclient"
	"img2img-lab/internal/pipeline"
	"img2img-lab/internal/presets"
	"img2img-lab/internal/studio"
)

type App struct {
	Config     config.Config
	Logger     *slog.Logger
	HTTPClient *http.Client
	Presets    *presets.Catalog
	Pipeline   pipeline.Pipeline
	Studio     *studio.Orchestrator
	Assets     *assets.Library
	Exporter   *export.Exporter
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	cat, err := presets.Load(cfg.PresetsFile)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.FromConfig(cfg, httpClient, logger)
	if err != nil {
		return nil, err
	}

	var uploader export.Uploader
	if cfg.S3.Enabled() {
		s3u, err := export.NewS3Uploader(ctx, cfg.S3, logger)
		if err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
		uploader = s3u
	}

	return &App{
		Config:     cfg,
		Logger:     logger,
		HTTPClient: httpClient,
		Presets:    cat,
		Pipeline:   p,
		Studio: studio.New(studio.Options{
			Pipeline:  p,
			Layout:    grid.ParseLayout(cfg.GridLayout),
			MaxPixels: cfg.MaxPixels,
			Logger:    logger,
		}),
		Assets:   assets.New(assets.Options{Dir: cfg.AssetsDir, Logger: logger}),
		Exporter: export.New(export.Options{Dir: cfg.OutputDir, Uploader: uploader, Logger: logger}),
	}, nil
}

// NewLogger returns the JSON logger the servers write to stdout.
func NewLogger(cfg config.Config) *slog.Logger {
	return NewLoggerTo(os.Stdout, cfg)
}

// NewLoggerTo is NewLogger with a chosen destination. The CLI logs to stderr
// so stdout carries only results.
func NewLoggerTo(w io.Writer, cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
