// Package web serves the browser form and its JSON API.
package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"img2img-lab/internal/assets"
	"img2img-lab/internal/export"
	"img2img-lab/internal/history"
	"img2img-lab/internal/presets"
	"img2img-lab/internal/session"
	"img2img-lab/internal/studio"
)

//go:embed static/*
var staticFS embed.FS

const (
	sessionCookie  = "img2img_session"
	maxUploadBytes = 25 << 20
)

type Options struct {
	Studio         *studio.Orchestrator
	Presets        *presets.Catalog
	Assets         *assets.Library
	Exporter       *export.Exporter
	Sessions       *session.Store
	RequestTimeout time.Duration
	Backend        string
	Logger         *slog.Logger
}

type Server struct {
	studio   *studio.Orchestrator
	presets  *presets.Catalog
	assets   *assets.Library
	exporter *export.Exporter
	sessions *session.Store
	timeout  time.Duration
	backend  string
	logger   *slog.Logger
}

type apiError struct {
	Error string `json:"error"`
}

type optionsResponse struct {
	Presets     []string         `json:"presets"`
	Styles      []string         `json:"styles"`
	Resolutions []string         `json:"resolutions"`
	Samples     []int            `json:"samples"`
	Schedulers  []string         `json:"schedulers"`
	Defaults    presets.Resolved `json:"defaults"`
	Steps       int              `json:"steps"`
}

type generateResponse struct {
	Status       studio.Status `json:"status"`
	Image        string        `json:"image,omitempty"`
	Logs         string        `json:"logs"`
	HistoryCount int           `json:"history_count"`
	Error        string        `json:"error,omitempty"`
}

type historyEntry struct {
	Index     int       `json:"index"`
	Prompt    string    `json:"prompt"`
	Samples   int       `json:"samples"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"created_at"`
}

type historyResponse struct {
	Count   int            `json:"count"`
	Entries []historyEntry `json:"entries"`
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cat := opts.Presets
	if cat == nil {
		cat = presets.Default()
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewStore(session.Options{})
	}
	return &Server{
		studio:   opts.Studio,
		presets:  cat,
		assets:   opts.Assets,
		exporter: opts.Exporter,
		sessions: sessions,
		timeout:  opts.RequestTimeout,
		backend:  opts.Backend,
		logger:   logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/options", s.handleOptions)
	mux.HandleFunc("GET /api/presets/{name}", s.handlePreset)
	mux.HandleFunc("GET /api/assets", s.handleAssets)
	mux.HandleFunc("GET /api/assets/{name}", s.handleAsset)
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/history/{index}", s.handleHistoryImage)
	mux.HandleFunc("POST /api/download", s.handleDownload)
	mux.HandleFunc("GET /api/downloads/{name}", s.handleDownloadFile)
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": s.backend})
	})

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("GET /", http.FileServer(http.FS(staticSub)))

	return withLogging(mux, s.logger)
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, optionsResponse{
		Presets:     s.presets.Names(),
		Styles:      s.presets.Styles(),
		Resolutions: s.presets.Resolutions(),
		Samples:     s.presets.SampleCounts(),
		Schedulers:  s.presets.Schedulers(),
		Defaults:    s.presets.Defaults(),
		Steps:       presets.DefaultSteps,
	})
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.presets.Resolve(r.PathValue("name")))
}

func (s *Server) handleAssets(w http.ResponseWriter, _ *http.Request) {
	names := []string{}
	if s.assets != nil {
		names = s.assets.List()
	}
	writeJSON(w, http.StatusOK, map[string][]string{"assets": names})
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	if s.assets == nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "asset not found"})
		return
	}
	img := s.assets.Load(r.PathValue("name"))
	if img == nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "asset not found"})
		return
	}
	writePNG(w, img)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid multipart form"})
		return
	}

	src, err := s.sourceImage(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	req := s.requestFromForm(r)
	req.Image = src

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	id := s.sessionID(w, r)
	hist := s.sessions.History(id)
	res := s.studio.Generate(ctx, hist, req)

	out := generateResponse{
		Status:       res.Status,
		Logs:         res.Log(),
		HistoryCount: hist.Len(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}

	status := http.StatusOK
	switch res.Status {
	case studio.StatusOK:
		dataURL, err := encodeDataURL(res.Image)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, apiError{Error: "failed to encode image"})
			return
		}
		out.Image = dataURL
	case studio.StatusFailed:
		s.logger.Error("generation failed", "session", id, "err", res.Err)
		status = http.StatusBadGateway
	}
	writeJSON(w, status, out)
}

// sourceImage returns the uploaded image, or the selected local asset when no
// file was sent. Missing or undecodable input yields a nil image, which the
// orchestrator rejects.
func (s *Server) sourceImage(r *http.Request) (image.Image, error) {
	file, _, err := r.FormFile("image")
	if err == nil {
		defer file.Close()
		img, err := imaging.Decode(file, imaging.AutoOrientation(true))
		if err != nil {
			return nil, errors.New("unsupported image")
		}
		if s.assets != nil {
			if name, err := s.assets.Save(img); err != nil {
				s.logger.Warn("flag upload failed", "err", err)
			} else {
				s.logger.Debug("upload flagged", "file", name)
			}
		}
		return img, nil
	}
	if !errors.Is(err, http.ErrMissingFile) {
		return nil, errors.New("failed to read image")
	}

	if s.assets == nil {
		return nil, nil
	}
	return s.assets.Load(strings.TrimSpace(r.FormValue("asset"))), nil
}

// requestFromForm fills unset fields from the selected preset.
func (s *Server) requestFromForm(r *http.Request) studio.Request {
	resolved := s.presets.Resolve(r.FormValue("preset"))

	req := studio.Request{
		Prompt:         r.FormValue("prompt"),
		NegativePrompt: strings.TrimSpace(r.FormValue("negative_prompt")),
		Style:          strings.TrimSpace(r.FormValue("style")),
		Resolution:     strings.TrimSpace(r.FormValue("resolution")),
		Samples:        parseInt(r.FormValue("samples"), 1),
		Strength:       parseFloat(r.FormValue("strength"), resolved.Strength),
		Guidance:       parseFloat(r.FormValue("guidance"), resolved.Guidance),
		Scheduler:      strings.TrimSpace(r.FormValue("scheduler")),
		Steps:          parseInt(r.FormValue("steps"), presets.DefaultSteps),
		Seed:           int64(parseInt(r.FormValue("seed"), 0)),
	}
	if !r.Form.Has("prompt") {
		req.Prompt = resolved.Prompt
	}
	if req.Style == "" {
		req.Style = resolved.Style
	}
	if req.Scheduler == "" {
		req.Scheduler = s.presets.Schedulers()[0]
	}
	return req
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var entries []history.Entry
	if h, ok := s.existingHistory(r); ok {
		entries = h.Snapshot()
	}

	out := historyResponse{Count: len(entries), Entries: make([]historyEntry, 0, len(entries))}
	for i, e := range entries {
		b := e.Image.Bounds()
		out.Entries = append(out.Entries, historyEntry{
			Index:     i,
			Prompt:    e.Prompt,
			Samples:   e.Samples,
			Width:     b.Dx(),
			Height:    b.Dy(),
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistoryImage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid index"})
		return
	}
	h, ok := s.existingHistory(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no such history entry"})
		return
	}
	entry, ok := h.At(index)
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no such history entry"})
		return
	}
	writePNG(w, entry.Image)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "downloads disabled"})
		return
	}
	h, ok := s.existingHistory(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "nothing generated yet"})
		return
	}
	entry, ok := h.Latest()
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "nothing generated yet"})
		return
	}
	name, err := s.exporter.SaveDownload(r.Context(), entry.Image)
	if err != nil {
		s.logger.Error("download failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "failed to save image"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file": name})
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "not found"})
		return
	}
	path, err := s.exporter.Path(r.PathValue("name"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "not found"})
		return
	}
	w.Header().Set("content-disposition", `attachment; filename="`+r.PathValue("name")+`"`)
	http.ServeFile(w, r, path)
}

// existingHistory resolves the session cookie without creating a session, so
// read-only routes never grow the store.
func (s *Server) existingHistory(r *http.Request) (*history.History, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	return s.sessions.Lookup(c.Value)
}

// sessionID returns the caller's session, issuing a new cookie when needed.
// Only generation calls it.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func encodeDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func writePNG(w http.ResponseWriter, img image.Image) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "failed to encode image"})
		return
	}
	w.Header().Set("content-type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http", "method", r.Method, "path", r.URL.Path, "status", rec.status, "dur_ms", time.Since(start).Milliseconds())
	})
}
