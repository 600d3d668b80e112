package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("rosewood")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "rosewood", cfg.Home.ID)
	assert.Equal(t, 15*time.Minute, cfg.SweepInterval())
	assert.Equal(t, 5*time.Second, cfg.NotifyPoll())
	assert.Equal(t, 72, cfg.Rules.StaleCommunicationHours)
	assert.Equal(t, 48, cfg.Rules.StageStallHours["NEW"])
	assert.Len(t, cfg.Rules.RequiredDocuments, 4)
	assert.Empty(t, cfg.Notify.Webhooks)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"empty home":         func(c *Config) { c.Home.ID = " " },
		"zero interval":      func(c *Config) { c.Sweep.IntervalMinutes = 0 },
		"zero workers":       func(c *Config) { c.Sweep.Workers = 0 },
		"redis without ttl":  func(c *Config) { c.Sweep.Lock.RedisAddr = "localhost:6379"; c.Sweep.Lock.TTLSeconds = 0 },
		"unknown stall":      func(c *Config) { c.Rules.StageStallHours["ARCHIVED"] = 4 },
		"negative stock":     func(c *Config) { n := -1; c.Rules.LowStockThreshold = &n },
		"bad sla":            func(c *Config) { c.Rules.SLAHours = map[string]int{"STALE_COMMUNICATION": 0} },
		"duplicate document": func(c *Config) { c.Rules.RequiredDocuments = append(c.Rules.RequiredDocuments, c.Rules.RequiredDocuments[0]) },
		"duplicate by case":  func(c *Config) { d := c.Rules.RequiredDocuments[0]; d.Type = strings.ToUpper(d.Type); c.Rules.RequiredDocuments = append(c.Rules.RequiredDocuments, d) },
		"reserved type":      func(c *Config) { c.Rules.RequiredDocuments[0].Type = " Documents" },
		"document stage":     func(c *Config) { c.Rules.RequiredDocuments[0].Stage = "LATER" },
		"document severity":  func(c *Config) { c.Rules.RequiredDocuments[0].Severity = "urgent" },
		"webhook url":        func(c *Config) { c.Notify.Webhooks = []WebhookConfig{{URL: ""}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default("x")
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = Load(dir)
	assert.ErrorContains(t, err, "not found")

	yml := GenerateDefault("elm") + `  webhooks:
    - url: http://127.0.0.1:9000/hook
      events: [alert.opened]
      secret: s3cret
`
	require.NoError(t, os.WriteFile(Path(dir), []byte(yml), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Notify.Webhooks, 1)
	assert.Equal(t, "s3cret", cfg.Notify.Webhooks[0].Secret)
	assert.Equal(t, []string{"alert.opened"}, cfg.Notify.Webhooks[0].Events)
}

func TestFromFileRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("home: [\n"), 0o644))
	_, err := FromFile(path)
	assert.ErrorContains(t, err, "invalid config yaml")
}

func TestLowStockFallsBackWhenUnset(t *testing.T) {
	yml := strings.Replace(GenerateDefault("elm"), "  low_stock_threshold: 2\n", "", 1)
	require.NotContains(t, yml, "low_stock_threshold")
	cfg, err := FromYAML([]byte(yml))
	require.NoError(t, err)
	assert.Nil(t, cfg.Rules.LowStockThreshold)
	assert.Equal(t, DefaultLowStockThreshold, cfg.LowStock())

	cfg, err = FromYAML([]byte(strings.Replace(GenerateDefault("elm"), "low_stock_threshold: 2", "low_stock_threshold: 0", 1)))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.LowStock())
}
