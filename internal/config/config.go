package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Telegram
	TelegramToken  string
	AllowedUserIDs []int64
	// Vault
	VaultPath      string
	AttachmentsDir string
	StructureFile  string
	// Git sync
	GitRemote       string
	GitBranch       string
	CommitQuiet     time.Duration
	PullInterval    time.Duration
	ConflictWindow  time.Duration
	ConflictDefault string // "remote" or "local"
	// LLM
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	ClassifierModel   string
	EmbeddingModel    string
	// Dedup - disabled when RedisURL is empty
	RedisURL       string
	DedupThreshold float64
	// Ops
	StatusAddr string
	LogFile    string
}

func Load() Config {
	return Config{
		TelegramToken:  getenv("TELEGRAM_BOT_TOKEN", ""),
		AllowedUserIDs: getenvInt64List("TELEGRAM_ALLOWED_USER_IDS", nil),

		VaultPath:      getenv("VAULTBOT_REPO_PATH", "./vault"),
		AttachmentsDir: getenv("VAULTBOT_ATTACHMENTS_DIR", "images"),
		StructureFile:  getenv("VAULTBOT_STRUCTURE_FILE", "./config/vault_structure.yaml"),

		GitRemote:       getenv("VAULTBOT_GIT_REMOTE", "origin"),
		GitBranch:       getenv("VAULTBOT_GIT_BRANCH", "main"),
		CommitQuiet:     time.Duration(getenvInt("VAULTBOT_COMMIT_DEBOUNCE_SECONDS", 30)) * time.Second,
		PullInterval:    time.Duration(getenvInt("VAULTBOT_PULL_INTERVAL_SECONDS", 60)) * time.Second,
		ConflictWindow:  time.Duration(getenvInt("VAULTBOT_CONFLICT_WINDOW_MINUTES", 30)) * time.Minute,
		ConflictDefault: getenv("VAULTBOT_CONFLICT_DEFAULT", "remote"),

		OpenRouterAPIKey:  getenv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL: getenv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		ClassifierModel:   getenv("VAULTBOT_CLASSIFIER_MODEL", "anthropic/claude-sonnet-4"),
		EmbeddingModel:    getenv("VAULTBOT_EMBEDDING_MODEL", "text-embedding-3-small"),

		RedisURL:       getenv("REDIS_URL", ""),
		DedupThreshold: getenvFloat("VAULTBOT_DEDUP_THRESHOLD", 0.90),

		StatusAddr: getenv("VAULTBOT_STATUS_ADDR", ":8790"),
		LogFile:    getenv("VAULTBOT_LOG_FILE", ""),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt64List(key string, fallback []int64) []int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []int64
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parsed, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, parsed)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
