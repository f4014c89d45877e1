package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"img2img-lab/internal/config"
)

func TestNewWiresGeminiBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		Backend:      config.BackendGemini,
		GeminiAPIKey: "key",
		AssetsDir:    filepath.Join(dir, "assets"),
		OutputDir:    filepath.Join(dir, "out"),
		GridLayout:   "pair",
		MaxPixels:    1024,
	}

	a, err := New(context.Background(), cfg, NewLogger(cfg))
	require.NoError(t, err)

	assert.Equal(t, "gemini", a.Pipeline.Name())
	assert.Equal(t, filepath.Join(dir, "out"), a.Exporter.Dir())
	assert.Equal(t, filepath.Join(dir, "assets"), a.Assets.Dir())
	assert.NotEmpty(t, a.Presets.Names())
}

func TestNewFailsOnBadPresets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(path, []byte("presets: ["), 0o644))

	_, err := New(context.Background(), config.Config{Backend: config.BackendGemini, PresetsFile: path}, nil)
	assert.Error(t, err)
}

func TestNewFailsOnMissingWorkflow(t *testing.T) {
	_, err := New(context.Background(), config.Config{
		Backend:       config.BackendComfy,
		ComfyWorkflow: filepath.Join(t.TempDir(), "none.json"),
	}, nil)
	assert.Error(t, err)
}

func TestNewLoggerToHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, config.Config{LogLevel: "warn"})

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
