package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvAuthorizedUsers, "")
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvEventLog, "")
	t.Setenv(EnvAnthropicKey, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, 24*time.Hour, cfg.Memory.ShortTermTTL)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv(EnvAuthorizedUsers, "")
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvEventLog, "")
	t.Setenv(EnvAnthropicKey, "")

	path := filepath.Join(t.TempDir(), "grace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
authorized_users: [admin@example.com, ops]
memory:
  short_term_ttl: 12h
  merge_threshold: 0.9
llm:
  model: claude-test
  max_history: 12
maintenance:
  interval: 10m
  merge: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin@example.com", "ops"}, cfg.AuthorizedUsers)
	assert.Equal(t, 12*time.Hour, cfg.Memory.ShortTermTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Memory.MediumTermTTL)
	assert.Equal(t, 0.9, cfg.Memory.MergeThreshold)
	assert.Equal(t, "claude-test", cfg.LLM.Model)
	assert.Equal(t, int64(1024), cfg.LLM.MaxTokens)
	assert.Equal(t, 12, cfg.LLM.MaxHistory)
	assert.Equal(t, 10*time.Minute, cfg.Maintenance.Interval)
	assert.False(t, cfg.Maintenance.Merge)

	mc := cfg.MemoryConfig()
	assert.Equal(t, 12*time.Hour, mc.ShortTermTTL)
	assert.Equal(t, 0.9, mc.MergeThreshold)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grace.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory: [not, a, map"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAuthorizedUsers: " a@example.com, ,b@example.com ",
		EnvAnthropicKey:    "sk-test",
		EnvEventLog:        "/tmp/audit.jsonl",
	}
	cfg := DefaultConfig()
	cfg.AuthorizedUsers = []string{"from-file"}
	cfg.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.AuthorizedUsers)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "/tmp/audit.jsonl", cfg.EventLog.Path)
}

func TestResolvePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/grace"
	cfg.EventLog.Path = "/custom/audit.jsonl"
	cfg.resolvePaths()

	assert.Equal(t, "/var/lib/grace/vectors", cfg.Store.PersistPath)
	assert.Equal(t, "/custom/audit.jsonl", cfg.EventLog.Path)
	assert.Equal(t, "/var/lib/grace/events.db", cfg.EventLog.SQLitePath)

	bare := DefaultConfig()
	bare.resolvePaths()
	assert.Empty(t, bare.Store.PersistPath)
	assert.Empty(t, bare.EventLog.SQLitePath)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv(EnvAuthorizedUsers, "")
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvEventLog, "")
	t.Setenv(EnvAnthropicKey, "")

	path := filepath.Join(t.TempDir(), "grace.yaml")
	cfg := DefaultConfig()
	cfg.AuthorizedUsers = []string{"admin@example.com"}
	cfg.Memory.MediumTermTTL = 7 * 24 * time.Hour
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	t.Setenv(EnvAuthorizedUsers, "")
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvEventLog, "")
	t.Setenv(EnvAnthropicKey, "")

	dir := t.TempDir()
	path := filepath.Join(dir, "grace.yaml")
	require.NoError(t, os.WriteFile(path, []byte("authorized_users: [first]\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("authorized_users: [second, third]\n"), 0o644))

	select {
	case cfg := <-changes:
		assert.Equal(t, []string{"second", "third"}, cfg.AuthorizedUsers)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestSplitUsers(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitUsers("a,,b, "))
	assert.Empty(t, SplitUsers(""))
}
