package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendComfy  = "comfy"
	BackendGemini = "gemini"
)

type Config struct {
	LogLevel string
	Debug    bool

	PreferIPv4     bool
	WebAddr        string
	RequestTimeout time.Duration
	HTTPTimeout    time.Duration
	SessionIdle    time.Duration

	Backend       string
	ComfyHost     string
	ComfyPort     int
	ComfyWorkflow string

	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiAPIVersion string

	PresetsFile string
	AssetsDir   string
	OutputDir   string
	MaxPixels   int
	GridLayout  string

	TelegramToken      string
	MaxConcurrent      int
	MediaGroupDebounce time.Duration

	S3 S3Config
}

type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// Enabled reports whether generated downloads should be mirrored to a bucket.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

func Load() (Config, error) {
	cfg := Config{
		LogLevel:           strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", "info"))),
		Debug:              getEnvBool("DEBUG", false),
		PreferIPv4:         getEnvBool("PREFER_IPV4", true),
		WebAddr:            getEnv("WEB_ADDR", ":8080"),
		RequestTimeout:     time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 600)) * time.Second,
		HTTPTimeout:        time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		SessionIdle:        time.Duration(getEnvInt("SESSION_IDLE_MINUTES", 120)) * time.Minute,
		Backend:            strings.ToLower(getEnv("PIPELINE_BACKEND", BackendComfy)),
		ComfyHost:          getEnv("COMFY_HOST", "localhost"),
		ComfyPort:          getEnvInt("COMFY_PORT", 8188),
		ComfyWorkflow:      getEnv("COMFY_WORKFLOW", "workflows/img2img.json"),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiAPIVersion:   getEnv("GEMINI_API_VERSION", "v1beta"),
		PresetsFile:        getEnv("PRESETS_FILE", ""),
		AssetsDir:          getEnv("ASSETS_DIR", ".gradio/flagged/Input Image"),
		OutputDir:          getEnv("OUTPUT_DIR", "outputs"),
		MaxPixels:          getEnvInt("MAX_PIXELS", 2048*2048),
		GridLayout:         strings.ToLower(getEnv("GRID_LAYOUT", "square")),
		MaxConcurrent:      getEnvInt("MAX_CONCURRENT", 4),
		MediaGroupDebounce: time.Duration(getEnvInt("MEDIA_GROUP_DEBOUNCE_MS", 1200)) * time.Millisecond,
		S3: S3Config{
			Endpoint: getEnv("S3_ENDPOINT", ""),
			Region:   getEnv("S3_REGION", "us-east-1"),
			Bucket:   getEnv("S3_BUCKET", ""),
			Prefix:   getEnv("S3_PREFIX", "img2img"),
		},
	}

	cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	cfg.S3.AccessKey = strings.TrimSpace(os.Getenv("S3_ACCESS_KEY"))
	cfg.S3.SecretKey = strings.TrimSpace(os.Getenv("S3_SECRET_KEY"))

	switch cfg.Backend {
	case BackendComfy:
		if cfg.ComfyWorkflow == "" {
			return Config{}, errors.New("COMFY_WORKFLOW is required for the comfy backend")
		}
	case BackendGemini:
		if cfg.GeminiAPIKey == "" {
			return Config{}, errors.New("GEMINI_API_KEY is required for the gemini backend")
		}
	default:
		return Config{}, errors.New("PIPELINE_BACKEND must be comfy or gemini")
	}

	if cfg.ComfyPort <= 0 {
		cfg.ComfyPort = 8188
	}
	if cfg.MaxPixels < 0 {
		cfg.MaxPixels = 0
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 600 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.SessionIdle <= 0 {
		cfg.SessionIdle = 120 * time.Minute
	}
	if cfg.MediaGroupDebounce <= 0 {
		cfg.MediaGroupDebounce = 1200 * time.Millisecond
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
