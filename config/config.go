package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port    int
	Host    string
	DevMode bool

	// AgentBin is the name of the CLI agent binary this server drives.
	AgentBin string

	// AgentPathOverride is an explicit path to the agent binary,
	// taken from <AGENT>_PATH (e.g. CLAUDE_PATH).
	AgentPathOverride string

	// Token is the shared bearer token from <AGENT>_REMOTE_TOKEN.
	// Empty means the server generates one at startup.
	Token string

	// DataDir is the per-install dot-directory (schedules, run logs,
	// preferences, uploads).
	DataDir string

	// AgentStateDir is the agent CLI's own dot-directory, used for
	// activity detection (e.g. ~/.claude).
	AgentStateDir string

	// WebDir holds the static frontend assets.
	WebDir string

	// TunnelCmd is an optional shell command that exposes the server
	// publicly (e.g. a cloudflared invocation). Empty disables it.
	TunnelCmd string
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton)
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

// load reads configuration from environment variables
func load() *Config {
	agent := getEnv("AGENTDECK_AGENT", "claude")
	prefix := strings.ToUpper(strings.ReplaceAll(agent, "-", "_"))

	home, _ := os.UserHomeDir()
	dataDir := getEnv("AGENTDECK_HOME", filepath.Join(home, ".agentdeck"))

	return &Config{
		Port:    getEnvInt("PORT", 3456),
		Host:    getEnv("HOST", "0.0.0.0"),
		DevMode: getEnv("DEV_MODE", "") == "1" || getEnv("DEV_MODE", "") == "true",

		AgentBin:          agent,
		AgentPathOverride: getEnv(prefix+"_PATH", ""),
		Token:             getEnv(prefix+"_REMOTE_TOKEN", ""),

		DataDir:       dataDir,
		AgentStateDir: filepath.Join(home, "."+agent),
		WebDir:        getEnv("AGENTDECK_WEB_DIR", "web"),
		TunnelCmd:     getEnv("AGENTDECK_TUNNEL_CMD", ""),
	}
}

// IsDevelopment returns true if running with hot-reloaded assets
func (c *Config) IsDevelopment() bool {
	return c.DevMode
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
