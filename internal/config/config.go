package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/guestid/internal/domain"
	"github.com/kailas-cloud/guestid/internal/domain/doctype"
)

// Config holds the guestid service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Vision     VisionConfig     `yaml:"vision"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Queue      QueueConfig      `yaml:"queue"`
	Auth       AuthConfig       `yaml:"auth"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds admin API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds ops HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds store settings. The memory driver keeps everything in-process.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // memory, redis (default: memory)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`

	// DocumentRetentionHours expires stored guest documents; 0 keeps them until deleted.
	DocumentRetentionHours int `yaml:"document_retention_hours"`
}

// VisionConfig holds the vision model provider settings.
// An empty APIKey disables extraction; requests then fail with a configuration error.
type VisionConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	Detail   string `yaml:"detail"` // low, high, auto
}

// ThresholdConfig overrides verification thresholds for one document type.
type ThresholdConfig struct {
	ConfidenceThreshold     int `yaml:"confidence_threshold"`
	CriticalFieldsThreshold int `yaml:"critical_fields_threshold"`
}

// ExtractionConfig holds pipeline tuning.
type ExtractionConfig struct {
	MaxAttempts                int     `yaml:"max_attempts"`
	InitialDelayMs             int     `yaml:"initial_delay_ms"`
	MaxDelayMs                 int     `yaml:"max_delay_ms"`
	BackoffMultiplier          float64 `yaml:"backoff_multiplier"`
	RateLimitPerOrgPerMinute   int     `yaml:"rate_limit_per_org_per_minute"`
	ConfidenceThreshold        int     `yaml:"confidence_threshold"`
	CriticalFieldsThreshold    int     `yaml:"critical_fields_threshold"`
	RefinementTargetConfidence int     `yaml:"refinement_target_confidence"`
	RequestTimeoutMs           int     `yaml:"request_timeout_ms"`
	MaxOutputTokens            int     `yaml:"max_output_tokens"`
	Temperature                float32 `yaml:"temperature"`
	DetectionTimeoutMs         int     `yaml:"detection_timeout_ms"`
	// ParallelEnrichment runs refinement and handwriting passes concurrently.
	ParallelEnrichment    bool                       `yaml:"parallel_enrichment"`
	DocumentTypeOverrides map[string]ThresholdConfig `yaml:"document_type_overrides"`
}

// QueueConfig holds background processing settings.
type QueueConfig struct {
	Workers           int `yaml:"workers"`
	Size              int `yaml:"size"`
	ProcessTimeoutSec int `yaml:"process_timeout_sec"`
}

// Load reads configuration from a YAML file by environment name (local, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = domain.DefaultKeyPrefix
	}
	c.Vision.applyDefaults()
	c.Extraction.applyDefaults()
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 256
	}
	if c.Queue.ProcessTimeoutSec <= 0 {
		c.Queue.ProcessTimeoutSec = int(math.Ceil(c.Extraction.WorstCaseRun().Seconds()))
	}
}

func (v *VisionConfig) applyDefaults() {
	if v.Provider == "" {
		v.Provider = "openai"
	}
	if v.BaseURL == "" {
		v.BaseURL = "https://api.openai.com/v1"
	}
	if v.Model == "" {
		v.Model = "gpt-4o"
	}
	if v.Detail == "" {
		v.Detail = "high"
	}
}

func (e *ExtractionConfig) applyDefaults() {
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = 3
	}
	if e.InitialDelayMs <= 0 {
		e.InitialDelayMs = 1000
	}
	if e.MaxDelayMs <= 0 {
		e.MaxDelayMs = 10000
	}
	if e.BackoffMultiplier <= 0 {
		e.BackoffMultiplier = 2
	}
	if e.RateLimitPerOrgPerMinute <= 0 {
		e.RateLimitPerOrgPerMinute = 10
	}
	if e.ConfidenceThreshold <= 0 {
		e.ConfidenceThreshold = 70
	}
	if e.CriticalFieldsThreshold <= 0 {
		e.CriticalFieldsThreshold = 85
	}
	if e.RefinementTargetConfidence <= 0 {
		e.RefinementTargetConfidence = 95
	}
	if e.RequestTimeoutMs <= 0 {
		e.RequestTimeoutMs = 30000
	}
	if e.MaxOutputTokens <= 0 {
		e.MaxOutputTokens = 2000
	}
	if e.Temperature <= 0 {
		e.Temperature = 0.1
	}
	if e.DetectionTimeoutMs <= 0 {
		e.DetectionTimeoutMs = 30000
	}
}

// WorstCaseRun is the longest one extraction can take: detection plus three
// passes, each exhausting its attempts with the maximum wait in between.
func (e ExtractionConfig) WorstCaseRun() time.Duration {
	attempt := time.Duration(e.RequestTimeoutMs) * time.Millisecond
	wait := time.Duration(e.MaxDelayMs) * time.Millisecond
	pass := time.Duration(e.MaxAttempts)*attempt + time.Duration(e.MaxAttempts-1)*wait
	return time.Duration(e.DetectionTimeoutMs)*time.Millisecond + 3*pass
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "redis":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for driver redis")
		}
	default:
		return fmt.Errorf("database.driver must be \"memory\" or \"redis\", got %q", c.Database.Driver)
	}
	switch c.Vision.Detail {
	case "low", "high", "auto":
	default:
		return fmt.Errorf("vision.detail must be \"low\", \"high\" or \"auto\", got %q", c.Vision.Detail)
	}

	if c.Storage.DocumentRetentionHours < 0 {
		return fmt.Errorf("storage.document_retention_hours must be >= 0, got %d", c.Storage.DocumentRetentionHours)
	}

	e := c.Extraction
	if e.InitialDelayMs > e.MaxDelayMs {
		return fmt.Errorf("extraction.initial_delay_ms (%d) must not exceed max_delay_ms (%d)",
			e.InitialDelayMs, e.MaxDelayMs)
	}
	if e.BackoffMultiplier < 1 {
		return fmt.Errorf("extraction.backoff_multiplier must be >= 1, got %g", e.BackoffMultiplier)
	}
	if err := validatePercent("extraction.confidence_threshold", e.ConfidenceThreshold); err != nil {
		return err
	}
	if err := validatePercent("extraction.critical_fields_threshold", e.CriticalFieldsThreshold); err != nil {
		return err
	}
	if err := validatePercent("extraction.refinement_target_confidence", e.RefinementTargetConfidence); err != nil {
		return err
	}
	if worst := e.WorstCaseRun(); time.Duration(c.Queue.ProcessTimeoutSec)*time.Second < worst {
		return fmt.Errorf("queue.process_timeout_sec (%d) is shorter than the worst-case extraction (%s)",
			c.Queue.ProcessTimeoutSec, worst)
	}
	for name, o := range e.DocumentTypeOverrides {
		if !doctype.Type(name).IsValid() {
			return fmt.Errorf("extraction.document_type_overrides: unknown document type %q", name)
		}
		if o.ConfidenceThreshold != 0 {
			if err := validatePercent("extraction.document_type_overrides."+name+".confidence_threshold",
				o.ConfidenceThreshold); err != nil {
				return err
			}
		}
		if o.CriticalFieldsThreshold != 0 {
			if err := validatePercent("extraction.document_type_overrides."+name+".critical_fields_threshold",
				o.CriticalFieldsThreshold); err != nil {
				return err
			}
		}
	}
	return nil
}

func validatePercent(name string, v int) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%s must be between 0 and 100, got %d", name, v)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
