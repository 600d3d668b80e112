package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"caseline/internal/domain"
	"caseline/internal/stage"
)

// Config models caseline.yml.
type Config struct {
	Home struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"home" json:"home"`
	Sweep  SweepConfig  `yaml:"sweep" json:"sweep"`
	Rules  RulesConfig  `yaml:"rules" json:"rules"`
	Notify NotifyConfig `yaml:"notify" json:"notify"`
}

type SweepConfig struct {
	IntervalMinutes int        `yaml:"interval_minutes" json:"interval_minutes"`
	Workers         int        `yaml:"workers" json:"workers"`
	Lock            LockConfig `yaml:"lock" json:"lock"`
}

type LockConfig struct {
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr,omitempty"`
	RedisPassword string `yaml:"redis_password" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db,omitempty"`
	Key           string `yaml:"key" json:"key,omitempty"`
	TTLSeconds    int    `yaml:"ttl_seconds" json:"ttl_seconds,omitempty"`
}

type RulesConfig struct {
	StaleCommunicationHours int                `yaml:"stale_communication_hours" json:"stale_communication_hours"`
	StageStallHours         map[string]int     `yaml:"stage_stall_hours" json:"stage_stall_hours"`
	DefaultStallHours       int                `yaml:"default_stall_hours" json:"default_stall_hours"`
	TransportKeyword        string             `yaml:"transport_keyword" json:"transport_keyword"`
	LowStockThreshold       *int               `yaml:"low_stock_threshold" json:"low_stock_threshold,omitempty"`
	MortuaryOverstayHours   int                `yaml:"mortuary_overstay_hours" json:"mortuary_overstay_hours"`
	SLAHours                map[string]int     `yaml:"sla_hours" json:"sla_hours,omitempty"`
	RequiredDocuments       []RequiredDocument `yaml:"required_documents" json:"required_documents"`
}

// RequiredDocument names a document type that must be verified (or waived)
// once a case reaches Stage.
type RequiredDocument struct {
	Type     string `yaml:"type" json:"type"`
	Label    string `yaml:"label" json:"label,omitempty"`
	Stage    string `yaml:"stage" json:"stage"`
	Severity string `yaml:"severity" json:"severity"`
}

type NotifyConfig struct {
	PollSeconds   int             `yaml:"poll_seconds" json:"poll_seconds"`
	RatePerSecond float64         `yaml:"rate_per_second" json:"rate_per_second"`
	Burst         int             `yaml:"burst" json:"burst"`
	Webhooks      []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with cl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Home.ID) == "" {
		return fmt.Errorf("config.home.id is required")
	}
	if c.Sweep.IntervalMinutes <= 0 {
		return fmt.Errorf("config.sweep.interval_minutes must be positive")
	}
	if c.Sweep.Workers <= 0 {
		return fmt.Errorf("config.sweep.workers must be positive")
	}
	if c.Sweep.Lock.RedisAddr != "" && c.Sweep.Lock.TTLSeconds <= 0 {
		return fmt.Errorf("config.sweep.lock.ttl_seconds must be positive when redis_addr is set")
	}
	if c.Rules.StaleCommunicationHours <= 0 {
		return fmt.Errorf("config.rules.stale_communication_hours must be positive")
	}
	if c.Rules.DefaultStallHours <= 0 {
		return fmt.Errorf("config.rules.default_stall_hours must be positive")
	}
	for name, hours := range c.Rules.StageStallHours {
		if _, ok := stage.Lookup(name); !ok {
			return fmt.Errorf("stage_stall_hours references unknown stage %s", name)
		}
		if hours <= 0 {
			return fmt.Errorf("stage_stall_hours for %s must be positive", name)
		}
	}
	if c.Rules.MortuaryOverstayHours <= 0 {
		return fmt.Errorf("config.rules.mortuary_overstay_hours must be positive")
	}
	if c.Rules.LowStockThreshold != nil && *c.Rules.LowStockThreshold < 0 {
		return fmt.Errorf("config.rules.low_stock_threshold must not be negative")
	}
	for kind, hours := range c.Rules.SLAHours {
		if kind == "" {
			return fmt.Errorf("config.rules.sla_hours has empty alert type")
		}
		if hours <= 0 {
			return fmt.Errorf("sla_hours for %s must be positive", kind)
		}
	}
	seen := map[string]bool{}
	for _, doc := range c.Rules.RequiredDocuments {
		if doc.Type == "" {
			return fmt.Errorf("required_documents entry has empty type")
		}
		// alerts for a missing type are keyed MISSING_<TYPE> in the case scope
		key := "MISSING_" + strings.ToUpper(strings.TrimSpace(doc.Type))
		if seen[key] {
			return fmt.Errorf("required document %s listed twice", doc.Type)
		}
		seen[key] = true
		if key == string(domain.KindMissingDocuments) {
			return fmt.Errorf("required document type %s is reserved", doc.Type)
		}
		if _, ok := stage.Lookup(doc.Stage); !ok {
			return fmt.Errorf("required document %s references unknown stage %s", doc.Type, doc.Stage)
		}
		switch doc.Severity {
		case "low", "medium", "high":
		default:
			return fmt.Errorf("required document %s has invalid severity %q", doc.Type, doc.Severity)
		}
	}
	if c.Notify.RatePerSecond < 0 {
		return fmt.Errorf("config.notify.rate_per_second must not be negative")
	}
	for i, hook := range c.Notify.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// DefaultLowStockThreshold applies when low_stock_threshold is not set.
const DefaultLowStockThreshold = 2

// LowStock is the inventory level at or below which an item alerts. An
// explicit 0 is honoured.
func (c *Config) LowStock() int {
	if c.Rules.LowStockThreshold == nil {
		return DefaultLowStockThreshold
	}
	return *c.Rules.LowStockThreshold
}

// SweepInterval is the period between scheduled sweeps.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweep.IntervalMinutes) * time.Minute
}

// NotifyPoll is the period between notification dispatch passes.
func (c *Config) NotifyPoll() time.Duration {
	if c.Notify.PollSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Notify.PollSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(homeID string) string {
	return fmt.Sprintf(defaultTemplate, homeID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default(homeID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(homeID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `home:
  id: %s
  name: ""

sweep:
  interval_minutes: 15
  workers: 4
  lock:
    redis_addr: ""
    key: caseline:sweep
    ttl_seconds: 600

rules:
  stale_communication_hours: 72
  stage_stall_hours:
    NEW: 48
    INTAKE: 72
    DOCUMENTS: 96
    QUOTE: 72
    SCHEDULED: 48
  default_stall_hours: 96
  transport_keyword: transport
  low_stock_threshold: 2
  mortuary_overstay_hours: 72
  required_documents:
    - type: removal_authorization
      label: Removal authorization
      stage: INTAKE
      severity: high
    - type: death_certificate
      label: Death certificate
      stage: DOCUMENTS
      severity: high
    - type: burial_permit
      label: Burial or cremation permit
      stage: SCHEDULED
      severity: high
    - type: signed_quote
      label: Signed quote
      stage: SCHEDULED
      severity: medium

notify:
  poll_seconds: 5
  rate_per_second: 5
  burst: 10
`
