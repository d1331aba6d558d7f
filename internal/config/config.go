// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lizhenmiao/shopify-translation/internal/platform"
)

// Framing strategy names accepted in DELIMITER_TYPE.
const (
	DelimiterSingle = "single"
	DelimiterPair   = "pair"
	DelimiterJSON   = "json"
)

// Config holds all runtime configuration for shoptrans.
type Config struct {
	Port          string
	WorkDir       string
	DBPath        string
	ProvidersFile string
	GuidanceDir   string

	ShopifyShop        string
	ShopifyAccessToken string
	ShopifyAPIVersion  string

	DelimiterType   string
	SingleDelimiter string
	PairStart       string
	PairEnd         string

	MaxTokensPerRequest int
	MaxAttempts         int
	RequestTimeout      time.Duration
	MinRequestInterval  time.Duration
	RescheduleDelay     time.Duration

	TelegramToken  string
	TelegramChatID int64
	WebhookURLs    []string

	APIKey   string
	SyncCron string
}

// Load reads environment variables and returns a Config.
// Panics if DB_PATH resolves to an empty string.
func Load() *Config {
	workDir := getEnv("WORK_DIR", platform.DefaultWorkDir())

	dbPath := getEnv("DB_PATH", filepath.Join(workDir, "shoptrans.db"))
	if dbPath == "" {
		panic("config: DB_PATH is required")
	}

	chatID, _ := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64)

	return &Config{
		Port:          getEnv("PORT", "8080"),
		WorkDir:       workDir,
		DBPath:        dbPath,
		ProvidersFile: getEnv("PROVIDERS_FILE", filepath.Join(workDir, "providers.yaml")),
		GuidanceDir:   getEnv("GUIDANCE_DIR", filepath.Join(workDir, "guidance")),

		ShopifyShop:        os.Getenv("SHOPIFY_SHOP"),
		ShopifyAccessToken: os.Getenv("SHOPIFY_ACCESS_TOKEN"),
		ShopifyAPIVersion:  getEnv("SHOPIFY_API_VERSION", "2025-01"),

		DelimiterType:   normalizeDelimiterType(getEnv("DELIMITER_TYPE", DelimiterJSON)),
		SingleDelimiter: unescape(getEnv("SINGLE_DELIMITER_CHAR", `\n<<<SEP>>>\n`)),
		PairStart:       unescape(getEnv("PAIR_DELIMITER_START_CHAR", "<seg>")),
		PairEnd:         unescape(getEnv("PAIR_DELIMITER_END_CHAR", "</seg>")),

		MaxTokensPerRequest: getEnvInt("MAX_TOKENS_PER_REQUEST", 8192),
		MaxAttempts:         getEnvInt("MAX_ATTEMPTS", 3),
		RequestTimeout:      time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 120)) * time.Second,
		MinRequestInterval:  time.Duration(getEnvInt("MIN_REQUEST_INTERVAL_MS", 1000)) * time.Millisecond,
		RescheduleDelay:     time.Duration(getEnvInt("RESCHEDULE_DELAY_MS", 100)) * time.Millisecond,

		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID: chatID,
		WebhookURLs:    splitList(os.Getenv("WEBHOOK_URLS")),

		APIKey:   os.Getenv("API_KEY"),
		SyncCron: os.Getenv("SYNC_CRON"),
	}
}

func normalizeDelimiterType(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case DelimiterSingle:
		return DelimiterSingle
	case DelimiterPair:
		return DelimiterPair
	default:
		return DelimiterJSON
	}
}

// unescape turns the literal two-character sequences \n and \t found in env
// values into real control characters.
func unescape(v string) string {
	return strings.NewReplacer(`\n`, "\n", `\t`, "\t").Replace(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
