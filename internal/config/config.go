package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for linkgate.
type Config struct {
	// CDP connection settings
	CDPAddress   string
	CDPPort      int
	CDPTimeoutMS int

	// Prompt protocol server
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool
	PromptWidth      int
	PromptHeight     int
	PlaceholderURL   string
	NtfyEndpoint     string

	// Classifier timing
	CandidateTTLMS   int
	ClassifyWindowMS int

	// Logging
	LogLevel string
	LogFile  string

	// Rules file with extra internal pages and startup containers
	RulesFile string

	// Daily JSONL history of lifecycle events; empty disables it
	EventLogDir string

	// Optional dedicated browser
	LaunchBrowser     bool
	BrowserProfileDir string
	StartURL          string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		CDPTimeoutMS:      getEnvIntOrDefault("LINKGATE_CDP_TIMEOUT_MS", 5000),
		BindAddr:          getEnvOrDefault("LINKGATE_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:    getEnvListOrDefault("LINKGATE_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"}),
		PortAutoFallback:  getEnvBoolOrDefault("LINKGATE_PORT_AUTO_FALLBACK", true),
		PromptWidth:       getEnvIntOrDefault("LINKGATE_PROMPT_WIDTH", 360),
		PromptHeight:      getEnvIntOrDefault("LINKGATE_PROMPT_HEIGHT", 400),
		PlaceholderURL:    getEnvOrDefault("LINKGATE_PLACEHOLDER_URL", "about:blank"),
		NtfyEndpoint:      getEnvOrDefault("LINKGATE_NTFY_ENDPOINT", ""),
		CandidateTTLMS:    getEnvIntOrDefault("LINKGATE_CANDIDATE_TTL_MS", 5000),
		ClassifyWindowMS:  getEnvIntOrDefault("LINKGATE_CLASSIFY_WINDOW_MS", 3000),
		LogLevel:          strings.ToLower(getEnvOrDefault("LINKGATE_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("LINKGATE_LOG_FILE", "logs/linkgate.log"),
		RulesFile:         getEnvOrDefault("LINKGATE_RULES_FILE", "./config/linkgate.yaml"),
		EventLogDir:       getEnvOrDefault("LINKGATE_EVENT_LOG_DIR", ""),
		LaunchBrowser:     getEnvBoolOrDefault("LINKGATE_LAUNCH_BROWSER", false),
		BrowserProfileDir: getEnvOrDefault("LINKGATE_BROWSER_PROFILE_DIR", ""),
		StartURL:          getEnvOrDefault("LINKGATE_START_URL", ""),
	}
	if cfg.CDPTimeoutMS < 1000 {
		cfg.CDPTimeoutMS = 1000
	}
	if cfg.CandidateTTLMS <= 0 {
		return nil, fmt.Errorf("LINKGATE_CANDIDATE_TTL_MS must be positive, got %d", cfg.CandidateTTLMS)
	}
	if cfg.ClassifyWindowMS <= 0 {
		return nil, fmt.Errorf("LINKGATE_CLASSIFY_WINDOW_MS must be positive, got %d", cfg.ClassifyWindowMS)
	}
	if cfg.PromptWidth <= 0 || cfg.PromptHeight <= 0 {
		return nil, fmt.Errorf("prompt size must be positive, got %dx%d", cfg.PromptWidth, cfg.PromptHeight)
	}

	return cfg, nil
}

// GetCDPURL returns the full CDP HTTP endpoint.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// CDPTimeout is the per-command CDP timeout.
func (c *Config) CDPTimeout() time.Duration {
	return time.Duration(c.CDPTimeoutMS) * time.Millisecond
}

// CandidateTTL is how long a new tab stays a candidate.
func (c *Config) CandidateTTL() time.Duration {
	return time.Duration(c.CandidateTTLMS) * time.Millisecond
}

// ClassifyWindow is the maximum candidate age accepted at commit time.
func (c *Config) ClassifyWindow() time.Duration {
	return time.Duration(c.ClassifyWindowMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvListOrDefault splits a comma-separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
