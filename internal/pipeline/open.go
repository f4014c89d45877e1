package pipeline

import (
	"fmt"
	"log/slog"
	"net/http"

	"img2img-lab/internal/config"
	"img2img-lab/internal/gemini"
)

// FromConfig builds the backend selected by cfg.Backend.
func FromConfig(cfg config.Config, httpClient *http.Client, logger *slog.Logger) (Pipeline, error) {
	switch cfg.Backend {
	case config.BackendComfy:
		return NewComfy(ComfyOptions{
			Host:       cfg.ComfyHost,
			Port:       cfg.ComfyPort,
			Workflow:   cfg.ComfyWorkflow,
			HTTPClient: httpClient,
			Logger:     logger,
		})
	case config.BackendGemini:
		return NewGemini(gemini.New(gemini.Options{
			APIKey:     cfg.GeminiAPIKey,
			BaseURL:    cfg.GeminiBaseURL,
			APIVersion: cfg.GeminiAPIVersion,
			HTTPClient: httpClient,
			Logger:     logger,
		})), nil
	default:
		return nil, fmt.Errorf("unknown pipeline backend %q", cfg.Backend)
	}
}
