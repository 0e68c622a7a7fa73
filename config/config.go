// Package config loads the grace application configuration from YAML with
// environment overrides, and watches the file for allow-list changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/grace/memory"
)

// Environment variables that override file values.
const (
	EnvAuthorizedUsers = "GRACE_AUTHORIZED_USERS"
	EnvAnthropicKey    = "ANTHROPIC_API_KEY"
	EnvEventLog        = "GRACE_EVENT_LOG"
	EnvDataDir         = "GRACE_DATA_DIR"
)

// MemoryConfig holds tier TTLs and retrieval limits.
type MemoryConfig struct {
	ShortTermTTL   time.Duration `yaml:"short_term_ttl"`
	MediumTermTTL  time.Duration `yaml:"medium_term_ttl"`
	MergeThreshold float64       `yaml:"merge_threshold"`
	DefaultLimit   int           `yaml:"default_limit"`
	ContextItems   int           `yaml:"context_items"`
}

// StoreConfig configures the chromem vector store.
type StoreConfig struct {
	// PersistPath enables the persistent vector DB. Empty keeps memory in RAM.
	PersistPath string `yaml:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress"`
}

// EmbedderConfig sizes the embedder and its cache.
type EmbedderConfig struct {
	Dimensions   int   `yaml:"dimensions"`
	CacheEntries int64 `yaml:"cache_entries"`
}

// EventLogConfig selects the audit sinks.
type EventLogConfig struct {
	// Path is the JSON lines audit file.
	Path string `yaml:"path,omitempty"`
	// SQLitePath additionally records events in a queryable database.
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

// LLMConfig configures the Claude client and chat sessions.
type LLMConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	Model        string `yaml:"model"`
	MaxTokens    int64  `yaml:"max_tokens"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`
	MaxHistory   int    `yaml:"max_history"` // messages kept per chat session, 0 keeps all
}

// ServerConfig holds the listen addresses.
type ServerConfig struct {
	Addr     string `yaml:"addr"`
	GRPCAddr string `yaml:"grpc_addr,omitempty"`
}

// MaintenanceConfig schedules pruning and merging.
type MaintenanceConfig struct {
	Interval time.Duration `yaml:"interval"`
	Merge    bool          `yaml:"merge"`
}

// Config is the grace configuration file.
type Config struct {
	// AuthorizedUsers may write global knowledge. Reloaded on file change.
	AuthorizedUsers []string `yaml:"authorized_users"`

	// DataDir roots the default store and event-log paths.
	DataDir string `yaml:"data_dir,omitempty"`

	Memory      MemoryConfig      `yaml:"memory"`
	Store       StoreConfig       `yaml:"store"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	EventLog    EventLogConfig    `yaml:"event_log"`
	LLM         LLMConfig         `yaml:"llm"`
	Server      ServerConfig      `yaml:"server"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	mc := memory.DefaultConfig()
	return &Config{
		AuthorizedUsers: []string{},
		Memory: MemoryConfig{
			ShortTermTTL:   mc.ShortTermTTL,
			MediumTermTTL:  mc.MediumTermTTL,
			MergeThreshold: mc.MergeThreshold,
			DefaultLimit:   mc.DefaultLimit,
			ContextItems:   memory.DefaultContextItems,
		},
		Embedder: EmbedderConfig{
			Dimensions:   512,
			CacheEntries: 10000,
		},
		LLM: LLMConfig{
			Model:      "claude-sonnet-4-20250514",
			MaxTokens:  1024,
			MaxHistory: 40,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Maintenance: MaintenanceConfig{
			Interval: time.Hour,
			Merge:    true,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv(os.Getenv)
	cfg.resolvePaths()
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.AuthorizedUsers == nil {
		cfg.AuthorizedUsers = []string{}
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvAuthorizedUsers); v != "" {
		c.AuthorizedUsers = SplitUsers(v)
	}
	if v := getenv(EnvAnthropicKey); v != "" {
		c.LLM.APIKey = v
	}
	if v := getenv(EnvEventLog); v != "" {
		c.EventLog.Path = v
	}
	if v := getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
}

// resolvePaths fills unset storage paths from DataDir.
func (c *Config) resolvePaths() {
	if c.DataDir == "" {
		return
	}
	if c.Store.PersistPath == "" {
		c.Store.PersistPath = filepath.Join(c.DataDir, "vectors")
	}
	if c.EventLog.Path == "" {
		c.EventLog.Path = filepath.Join(c.DataDir, "events.jsonl")
	}
	if c.EventLog.SQLitePath == "" {
		c.EventLog.SQLitePath = filepath.Join(c.DataDir, "events.db")
	}
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// MemoryConfig converts the memory section into a memory.Config. Zero
// values fall back to the memory package defaults.
func (c *Config) MemoryConfig() *memory.Config {
	return &memory.Config{
		ShortTermTTL:   c.Memory.ShortTermTTL,
		MediumTermTTL:  c.Memory.MediumTermTTL,
		MergeThreshold: c.Memory.MergeThreshold,
		DefaultLimit:   c.Memory.DefaultLimit,
	}
}

// SplitUsers parses a comma-separated allow-list, dropping blanks.
func SplitUsers(s string) []string {
	parts := strings.Split(s, ",")
	users := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			users = append(users, p)
		}
	}
	return users
}
