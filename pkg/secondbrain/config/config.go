// Package config loads bot configuration from environment variables,
// optionally seeded from a .env file via godotenv. Missing required
// settings are fatal: the process reports them and exits before the bot
// starts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for optional settings.
const (
	DefaultModel       = "sonnet"
	DefaultMaxBudget   = 1.00
	DefaultDownloadDir = "/tmp/secondbrain-files"
	DefaultRunTimeout  = 300 * time.Second
)

// Config holds every setting the bot needs.
type Config struct {
	// DiscordToken authenticates the bot with the Discord gateway.
	DiscordToken string

	// OwnerID is the only Discord user the bot responds to.
	OwnerID string

	// VaultPath is the markdown vault directory. Claude runs with this
	// as its working directory.
	VaultPath string

	// ClaudeBin overrides the CLI executable name ("claude" by default).
	ClaudeBin string

	// Model is the default Claude model for new sessions.
	Model string

	// MaxBudgetUSD is the default per-turn spend ceiling.
	MaxBudgetUSD float64

	// AllowedTools restricts which tools Claude may use. Empty means the
	// CLI default.
	AllowedTools []string

	// DownloadDir receives inbound attachments.
	DownloadDir string

	// RunTimeout bounds one Claude invocation.
	RunTimeout time.Duration

	// LogLevel is "debug", "info", "warn", or "error".
	LogLevel string

	// LogFormat is "json" or "text".
	LogFormat string
}

// FromEnv builds a Config from the environment. envPath, when non-empty,
// names a .env file to load first; existing environment variables win.
func FromEnv(envPath string) (*Config, error) {
	if envPath != "" {
		// godotenv does not overwrite variables already set.
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envPath, err)
		}
	} else {
		_ = godotenv.Load()
	}

	token := os.Getenv("DISCORD_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}

	ownerID := os.Getenv("OWNER_ID")
	if ownerID == "" {
		return nil, fmt.Errorf("OWNER_ID is required")
	}

	vaultPath := os.Getenv("VAULT_PATH")
	if vaultPath == "" {
		return nil, fmt.Errorf("VAULT_PATH is required")
	}
	vaultPath = expandHome(vaultPath)
	abs, err := filepath.Abs(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("resolving VAULT_PATH: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("VAULT_PATH does not exist: %s", abs)
	}

	cfg := &Config{
		DiscordToken: token,
		OwnerID:      ownerID,
		VaultPath:    abs,
		ClaudeBin:    getEnv("CLAUDE_BIN", "claude"),
		Model:        getEnv("CLAUDE_MODEL", DefaultModel),
		MaxBudgetUSD: DefaultMaxBudget,
		DownloadDir:  getEnv("DOWNLOAD_DIR", DefaultDownloadDir),
		RunTimeout:   DefaultRunTimeout,
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
	}

	if raw := os.Getenv("MAX_BUDGET_USD"); raw != "" {
		budget, err := strconv.ParseFloat(raw, 64)
		if err != nil || budget <= 0 {
			return nil, fmt.Errorf("MAX_BUDGET_USD must be a positive number, got %q", raw)
		}
		cfg.MaxBudgetUSD = budget
	}

	if raw := os.Getenv("RUN_TIMEOUT_SECS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("RUN_TIMEOUT_SECS must be a positive integer, got %q", raw)
		}
		cfg.RunTimeout = time.Duration(secs) * time.Second
	}

	for _, tool := range strings.Split(os.Getenv("ALLOWED_TOOLS"), ",") {
		if tool = strings.TrimSpace(tool); tool != "" {
			cfg.AllowedTools = append(cfg.AllowedTools, tool)
		}
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating DOWNLOAD_DIR: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// expandHome resolves a leading ~/ against the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
