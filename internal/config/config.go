// Package config loads and validates the vulnsync configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openctemio/vulnsync/pkg/crypto"
	"github.com/openctemio/vulnsync/pkg/domain/rule"
	"github.com/openctemio/vulnsync/pkg/domain/shared"
	"github.com/openctemio/vulnsync/pkg/validator"
)

// Environment variables that override values from the config file.
const (
	EnvDynatraceURL   = "VULNSYNC_DT_URL"
	EnvDynatraceToken = "VULNSYNC_DT_TOKEN"
	EnvJiraURL        = "VULNSYNC_JIRA_URL"
	EnvJiraUsername   = "VULNSYNC_JIRA_USERNAME"
	EnvJiraPassword   = "VULNSYNC_JIRA_PASSWORD"
	EnvEncryptionKey  = "VULNSYNC_ENCRYPTION_KEY"
	EnvRedisAddr      = "VULNSYNC_REDIS_ADDR"
	EnvRedisPassword  = "VULNSYNC_REDIS_PASSWORD"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogFormat      = "LOG_FORMAT"
)

// dynatraceAPIPath is appended to the Dynatrace URL when missing.
const dynatraceAPIPath = "api/v2/"

// Config holds all configuration for a reconciliation run.
type Config struct {
	DTConn       DynatraceConnConfig `yaml:"dt_conn" json:"dt_conn"`
	JiraConn     JiraConnConfig      `yaml:"jira_conn" json:"jira_conn"`
	JiraDefaults JiraDefaults        `yaml:"jira_defaults" json:"jira_defaults"`
	Rules        []RuleConfig        `yaml:"rules" json:"rules" validate:"dive"`
	IgnoreRest   bool                `yaml:"ignore_rest" json:"ignore_rest"`

	Log       LogConfig       `yaml:"log" json:"log"`
	Dynatrace DynatraceConfig `yaml:"dynatrace" json:"dynatrace"`
	Schedule  ScheduleConfig  `yaml:"schedule" json:"schedule"`
	Redis     RedisConfig     `yaml:"redis" json:"redis"`
	Notify    NotifyConfig    `yaml:"notify" json:"notify"`

	// EncryptionKey is a hex-encoded AES-256 key used to open "enc:" secrets.
	// Only read from the environment.
	EncryptionKey string `yaml:"-" json:"-"`
}

// DynatraceConnConfig holds the Dynatrace API connection.
type DynatraceConnConfig struct {
	URL   string `yaml:"url" json:"url" validate:"required,http_url"`
	Token string `yaml:"token" json:"token" validate:"required"`
}

// JiraConnConfig holds the Jira connection.
type JiraConnConfig struct {
	URL      string `yaml:"url" json:"url" validate:"required,http_url"`
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"password" validate:"required"`
}

// JiraDefaults are the issue parameters used when a rule does not override
// them, and for the remainder of a vulnerability no rule matched.
type JiraDefaults struct {
	Project   string `yaml:"project" json:"project" validate:"required"`
	IssueType string `yaml:"issuetype" json:"issuetype" validate:"required"`
	Priority  string `yaml:"priority" json:"priority" validate:"required"`
	Assignee  string `yaml:"assignee,omitempty" json:"assignee,omitempty"`
	Label     string `yaml:"label,omitempty" json:"label,omitempty"`
}

// Map returns the defaults as issue parameters.
func (d JiraDefaults) Map() map[string]string {
	m := map[string]string{
		"project":   d.Project,
		"issuetype": d.IssueType,
		"priority":  d.Priority,
	}
	if d.Assignee != "" {
		m["assignee"] = d.Assignee
	}
	if d.Label != "" {
		m["label"] = d.Label
	}
	return m
}

// RuleConfig is one entry of the rules list.
type RuleConfig struct {
	Type           string            `yaml:"type" json:"type" validate:"required,rule_type"`
	Value          *string           `yaml:"value" json:"value" validate:"required"`
	Operator       string            `yaml:"operator" json:"operator" validate:"required,rule_operator"`
	MinimumScore   *float64          `yaml:"minimumScore,omitempty" json:"minimumScore,omitempty" validate:"omitempty,gte=0,lte=10"`
	StopAfterMatch bool              `yaml:"stopAfterMatch,omitempty" json:"stopAfterMatch,omitempty"`
	Params         map[string]string `yaml:"params" json:"params" validate:"required,min=1"`

	// MinimumScoreText keeps minimumScore as written; rule IDs depend on
	// whether it was an integer or a float literal.
	MinimumScoreText string `yaml:"-" json:"-"`
}

// UnmarshalJSON decodes a rule entry and records the minimumScore literal.
func (rc *RuleConfig) UnmarshalJSON(data []byte) error {
	type plain RuleConfig
	aux := struct {
		*plain
		MinimumScore *json.Number `json:"minimumScore,omitempty"`
	}{plain: (*plain)(rc)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	rc.MinimumScore, rc.MinimumScoreText = nil, ""
	if aux.MinimumScore != nil {
		score, err := aux.MinimumScore.Float64()
		if err != nil {
			return fmt.Errorf("minimumScore: %w", err)
		}
		rc.MinimumScore = &score
		rc.MinimumScoreText = aux.MinimumScore.String()
	}
	return nil
}

// UnmarshalYAML decodes a rule entry and records the minimumScore literal.
func (rc *RuleConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain RuleConfig
	if err := node.Decode((*plain)(rc)); err != nil {
		return err
	}

	rc.MinimumScoreText = ""
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if key.Value == "minimumScore" && value.Kind == yaml.ScalarNode && rc.MinimumScore != nil {
			rc.MinimumScoreText = value.Value
		}
	}
	return nil
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `yaml:"level" json:"level" validate:"log_level"`
	Format     string `yaml:"format" json:"format" validate:"omitempty,oneof=json text"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days" validate:"gte=0"`
}

// DynatraceConfig tunes the Dynatrace client.
type DynatraceConfig struct {
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second" validate:"gte=0"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries" validate:"gte=0,lte=10"`
	Concurrency       int           `yaml:"concurrency" json:"concurrency" validate:"gte=1,lte=64"`
	PageSize          int           `yaml:"page_size" json:"page_size" validate:"gte=0,lte=500"`
}

// ScheduleConfig configures the serve command.
type ScheduleConfig struct {
	Cron       string `yaml:"cron" json:"cron" validate:"omitempty,cron_spec"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"omitempty,hostname_port"`
	// WatchConfig reloads rules when the config file changes.
	WatchConfig bool `yaml:"watch_config" json:"watch_config"`
}

// RedisConfig enables the distributed run lock and the entity cache.
type RedisConfig struct {
	Addr          string        `yaml:"addr" json:"addr" validate:"omitempty,hostname_port"`
	Password      string        `yaml:"password" json:"password"`
	DB            int           `yaml:"db" json:"db" validate:"gte=0"`
	DialTimeout   time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	MaxRetries    int           `yaml:"max_retries" json:"max_retries" validate:"gte=0"`
	MinRetryDelay time.Duration `yaml:"min_retry_delay" json:"min_retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	LockTTL       time.Duration `yaml:"lock_ttl" json:"lock_ttl"`
	CacheTTL      time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// Enabled reports whether Redis is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// NotifyConfig configures the run summary notification.
type NotifyConfig struct {
	Provider   string `yaml:"provider" json:"provider" validate:"omitempty,oneof=slack webhook"`
	WebhookURL string `yaml:"webhook_url" json:"webhook_url" validate:"omitempty,http_url"`
	// OnlyOnChange skips the notification when a run neither created nor
	// commented on any issue.
	OnlyOnChange bool `yaml:"only_on_change" json:"only_on_change"`
}

// Enabled reports whether notifications are configured.
func (c *NotifyConfig) Enabled() bool {
	return c.Provider != ""
}

// Load reads the config file at path, applies defaults and environment
// overrides, opens encrypted secrets and validates the result.
// Files ending in .json are parsed as JSON, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: configuration file not found: %s", shared.ErrConfig, path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", shared.ErrConfig, path, err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, err
	}

	cfg.applyEnv()
	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	cfg.DTConn.URL = NormalizeDynatraceURL(cfg.DTConn.URL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration and applies defaults. It does not read
// the environment or validate.
func Parse(data []byte, isJSON bool) (*Config, error) {
	cfg := &Config{}
	var err error
	if isJSON {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", shared.ErrConfig, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Dynatrace.Timeout == 0 {
		c.Dynatrace.Timeout = 30 * time.Second
	}
	if c.Dynatrace.RequestsPerSecond == 0 {
		c.Dynatrace.RequestsPerSecond = 10
	}
	if c.Dynatrace.MaxRetries == 0 {
		c.Dynatrace.MaxRetries = 3
	}
	if c.Dynatrace.Concurrency == 0 {
		c.Dynatrace.Concurrency = 4
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = "@hourly"
	}
	if c.Schedule.ListenAddr == "" {
		c.Schedule.ListenAddr = ":9090"
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.MinRetryDelay == 0 {
		c.Redis.MinRetryDelay = 100 * time.Millisecond
	}
	if c.Redis.MaxRetryDelay == 0 {
		c.Redis.MaxRetryDelay = 3 * time.Second
	}
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 30 * time.Minute
	}
	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = 6 * time.Hour
	}
}

func (c *Config) applyEnv() {
	c.DTConn.URL = getEnv(EnvDynatraceURL, c.DTConn.URL)
	c.DTConn.Token = getEnv(EnvDynatraceToken, c.DTConn.Token)
	c.JiraConn.URL = getEnv(EnvJiraURL, c.JiraConn.URL)
	c.JiraConn.Username = getEnv(EnvJiraUsername, c.JiraConn.Username)
	c.JiraConn.Password = getEnv(EnvJiraPassword, c.JiraConn.Password)
	c.Redis.Addr = getEnv(EnvRedisAddr, c.Redis.Addr)
	c.Redis.Password = getEnv(EnvRedisPassword, c.Redis.Password)
	c.Log.Level = getEnv(EnvLogLevel, c.Log.Level)
	c.Log.Format = getEnv(EnvLogFormat, c.Log.Format)
	c.Redis.DB = getEnvInt("VULNSYNC_REDIS_DB", c.Redis.DB)
	c.IgnoreRest = getEnvBool("VULNSYNC_IGNORE_REST", c.IgnoreRest)
	c.EncryptionKey = getEnv(EnvEncryptionKey, c.EncryptionKey)
}

// resolveSecrets opens every "enc:" value among the connection secrets.
func (c *Config) resolveSecrets() error {
	var enc crypto.Encryptor
	if c.EncryptionKey != "" {
		cipher, err := crypto.NewCipherFromHex(c.EncryptionKey)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", shared.ErrConfig, EnvEncryptionKey, err)
		}
		enc = cipher
	}

	secrets := []struct {
		name  string
		value *string
	}{
		{"dt_conn.token", &c.DTConn.Token},
		{"jira_conn.password", &c.JiraConn.Password},
		{"redis.password", &c.Redis.Password},
		{"notify.webhook_url", &c.Notify.WebhookURL},
	}
	for _, s := range secrets {
		plain, err := crypto.Open(enc, *s.value)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", shared.ErrConfig, s.name, err)
		}
		*s.value = plain
	}
	return nil
}

// NormalizeDynatraceURL appends /api/v2/ to url unless it already ends in
// /api/v2 or /api/v2/. The result always ends with a slash.
func NormalizeDynatraceURL(url string) string {
	if url == "" {
		return url
	}
	switch {
	case strings.HasSuffix(url, "/api/v2/"):
		return url
	case strings.HasSuffix(url, "/api/v2"):
		return url + "/"
	case strings.HasSuffix(url, "/"):
		return url + dynatraceAPIPath
	default:
		return url + "/" + dynatraceAPIPath
	}
}

// Validate checks the configuration. Errors wrap shared.ErrConfig.
func (c *Config) Validate() error {
	if err := validator.New().Validate(c); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrConfig, err)
	}
	if c.IgnoreRest && len(c.Rules) == 0 {
		return fmt.Errorf("%w: ignore_rest is set but no rules are configured", shared.ErrConfig)
	}
	if c.Notify.Enabled() && c.Notify.WebhookURL == "" {
		return fmt.Errorf("%w: notify.webhook_url is required when notify.provider is set", shared.ErrConfig)
	}
	if _, err := c.BuildRules(); err != nil {
		return err
	}
	return nil
}

// BuildRules constructs the configured rules in order.
func (c *Config) BuildRules() ([]*rule.Rule, error) {
	rules := make([]*rule.Rule, 0, len(c.Rules))
	for i, rc := range c.Rules {
		r, err := rule.New(rc.ToRuleConfig())
		if err != nil {
			return nil, fmt.Errorf("%w: rules[%d]: %w", shared.ErrConfig, i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// ToRuleConfig converts the entry to the domain rule configuration.
func (rc RuleConfig) ToRuleConfig() rule.Config {
	return rule.Config{
		Type:             rc.Type,
		Value:            rc.Value,
		Operator:         rc.Operator,
		MinimumScore:     rc.MinimumScore,
		MinimumScoreText: rc.MinimumScoreText,
		StopAfterMatch:   rc.StopAfterMatch,
		Params:           rc.Params,
	}
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
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
