// Package export writes composed images to the output directory and, when a
// bucket is configured, mirrors them to object storage.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("export not found")

// Uploader mirrors a saved file somewhere else.
type Uploader interface {
	Upload(ctx context.Context, name, path string) error
}

type Options struct {
	Dir      string
	Uploader Uploader
	Logger   *slog.Logger
}

type Exporter struct {
	dir      string
	uploader Uploader
	logger   *slog.Logger
	now      func() time.Time
}

func New(opts Options) *Exporter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	return &Exporter{
		dir:      dir,
		uploader: opts.Uploader,
		logger:   logger,
		now:      time.Now,
	}
}

func (e *Exporter) Dir() string {
	return e.dir
}

// SaveDownload stores img as download_<8 hex>.png and returns the file name.
func (e *Exporter) SaveDownload(ctx context.Context, img image.Image) (string, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return e.save(ctx, img, "download_"+id+".png")
}

// SaveTimestamped stores img as <prefix>_YYYYmmdd_HHMMSS.png.
func (e *Exporter) SaveTimestamped(ctx context.Context, img image.Image, prefix string) (string, error) {
	if prefix == "" {
		prefix = "output"
	}
	return e.save(ctx, img, fmt.Sprintf("%s_%s.png", prefix, e.now().Format("20060102_150405")))
}

// Path resolves a previously saved file name, refusing anything outside the
// output directory.
func (e *Exporter) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrNotFound
	}
	path := filepath.Join(e.dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return path, nil
}

func (e *Exporter) save(ctx context.Context, img image.Image, name string) (string, error) {
	if img == nil {
		return "", errors.New("nothing to save")
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(e.dir, name)
	if err := imaging.Save(img, path); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	e.logger.Info("image exported", "file", name)

	if e.uploader != nil {
		if err := e.uploader.Upload(ctx, name, path); err != nil {
			// Mirroring is best effort.
			e.logger.Warn("mirror upload failed", "file", name, "error", err)
		}
	}
	return name, nil
}
