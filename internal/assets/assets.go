// Package assets lists and loads images previously uploaded (flagged) into a
// local directory so they can be reused as generation inputs.
package assets

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	// webp is accepted for inputs but never written.
	_ "golang.org/x/image/webp"
)

// None is the dropdown value meaning "no local image selected".
const None = "None"

var extensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".webp": {},
}

type Options struct {
	Dir    string
	Logger *slog.Logger
}

type Library struct {
	dir    string
	logger *slog.Logger
}

func New(opts Options) *Library {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Library{dir: opts.Dir, logger: logger}
}

func (l *Library) Dir() string {
	return l.dir
}

// IsImageName reports whether name has one of the recognized image extensions.
func IsImageName(name string) bool {
	_, ok := extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// List returns the image files found directly in the directory, sorted by name.
// Listing problems degrade to an empty list.
func (l *Library) List() []string {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		l.logger.Debug("asset listing failed", "dir", l.dir, "err", err)
		return []string{}
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !IsImageName(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

// Load decodes the named asset. It returns nil for None, unknown or unreadable
// files instead of an error.
func (l *Library) Load(name string) image.Image {
	path, ok := l.path(name)
	if !ok {
		return nil
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		l.logger.Warn("asset load failed", "name", name, "err", err)
		return nil
	}
	return imaging.Clone(img)
}

// Save flags img into the library as a new PNG and returns its file name.
func (l *Library) Save(img image.Image) (string, error) {
	if img == nil {
		return "", errors.New("save asset: nil image")
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", fmt.Errorf("create asset dir: %w", err)
	}

	name := uuid.NewString() + ".png"
	if err := imaging.Save(img, filepath.Join(l.dir, name)); err != nil {
		return "", fmt.Errorf("save asset: %w", err)
	}
	return name, nil
}

func (l *Library) path(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || name == None {
		return "", false
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || !IsImageName(name) {
		return "", false
	}
	return filepath.Join(l.dir, name), true
}
