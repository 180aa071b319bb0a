package config

import (
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port string

	TelegramBotToken string
	WebhookURL       string
	Locale           string
	Workers          int
	SendRPS          float64

	TessdataDir   string
	OCREngine     string
	OCRPreprocess bool
	OCRMinWidth   int
	OCRContrast   float64

	GeminiAPIKey string
	GeminiModel  string

	DatabaseURL        string
	CacheTTL           time.Duration
	CachePurgeSchedule string

	LogLevel  string
	LogPretty bool
}

func mustEnv(k string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		log.Fatal().Msgf("missing required env %s", k)
	}
	return v
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	n, err := strconv.Atoi(getEnv(k, ""))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// getFloatFrom falls back to def when k is unset, malformed or below lo.
func getFloatFrom(k string, def, lo float64) float64 {
	f, err := strconv.ParseFloat(getEnv(k, ""), 64)
	if err != nil || f < lo {
		return def
	}
	return f
}

func getBool(k string, def bool) bool {
	b, err := strconv.ParseBool(getEnv(k, ""))
	if err != nil {
		return def
	}
	return b
}

func getDuration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(k, ""))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// DefaultTessdataDir is the tessdata directory next to the running binary.
func DefaultTessdataDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "tessdata"
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), "tessdata")
}

// databaseURL prefers DATABASE_URL and otherwise builds a URL from PGHOST,
// PGPORT and the POSTGRES_* credentials. Empty means no cache.
func databaseURL() string {
	if v := getEnv("DATABASE_URL", ""); v != "" {
		return v
	}
	host := getEnv("PGHOST", "")
	if host == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getEnv("POSTGRES_USER", "ocrbot"), os.Getenv("POSTGRES_PASSWORD")),
		Host:     net.JoinHostPort(host, getEnv("PGPORT", "5432")),
		Path:     "/" + getEnv("POSTGRES_DB", "ocrbot"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Load reads a local .env when present and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, using system environment variables")
	}

	return &Config{
		Port: getEnv("PORT", "8080"),

		TelegramBotToken: mustEnv("TELEGRAM_BOT_TOKEN"),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		Locale:           getEnv("BOT_LOCALE", "en"),
		Workers:          getInt("WORKERS", 4),
		SendRPS:          getFloatFrom("SEND_RPS", 25, 0),

		TessdataDir:   getEnv("TESSDATA_DIR", DefaultTessdataDir()),
		OCREngine:     strings.ToLower(getEnv("OCR_ENGINE", "tesseract")),
		OCRPreprocess: getBool("OCR_PREPROCESS", false),
		OCRMinWidth:   getInt("OCR_MIN_WIDTH", 1200),
		OCRContrast:   getFloatFrom("OCR_CONTRAST", 0.2, -1),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		DatabaseURL:        databaseURL(),
		CacheTTL:           getDuration("CACHE_TTL", 30*24*time.Hour),
		CachePurgeSchedule: getEnv("CACHE_PURGE_SCHEDULE", "@daily"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getBool("LOG_PRETTY", true),
	}
}
