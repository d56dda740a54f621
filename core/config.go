package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the orchestrator's external
// interface. It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Example usage:
//
//	cfg, err := NewConfig(
//	    WithRedisURL("redis://localhost:6379/0"),
//	    WithMaxConcurrentIncidents(200),
//	    WithAutoApprove(true, 0.9, 0.3),
//	)
type Config struct {
	Namespace string `json:"namespace" env:"SENTINELOPS_NAMESPACE" default:"default"`
	RedisURL  string `json:"redis_url" env:"SENTINELOPS_REDIS_URL"`

	Admission  AdmissionConfig  `json:"admission"`
	Timeouts   TimeoutConfig    `json:"timeouts"`
	Approval   ApprovalConfig   `json:"approval"`
	Recovery   RecoveryConfig   `json:"recovery"`
	Circuit    CircuitConfig    `json:"circuit"`
	Cache      CacheConfig      `json:"cache"`
	Batcher    BatcherConfig    `json:"batcher"`
	Audit      AuditConfig      `json:"audit"`
	Logging    LoggingConfig    `json:"logging"`
	Development DevelopmentConfig `json:"development"`

	logger Logger `json:"-"`
}

// AdmissionConfig bounds concurrent and queued incidents.
type AdmissionConfig struct {
	MaxConcurrentIncidents int `json:"max_concurrent_incidents" env:"SENTINELOPS_MAX_CONCURRENT_INCIDENTS" default:"100"`
	MaxQueueSize           int `json:"max_queue_size" env:"SENTINELOPS_MAX_QUEUE_SIZE" default:"1000"`
}

// TimeoutConfig bounds the duration of each workflow phase.
type TimeoutConfig struct {
	WorkflowTimeout    time.Duration `json:"workflow_timeout" env:"SENTINELOPS_WORKFLOW_TIMEOUT" default:"30m"`
	AnalysisTimeout    time.Duration `json:"analysis_timeout" env:"SENTINELOPS_ANALYSIS_TIMEOUT" default:"5m"`
	RemediationTimeout time.Duration `json:"remediation_timeout" env:"SENTINELOPS_REMEDIATION_TIMEOUT" default:"10m"`
	ApprovalTimeout    time.Duration `json:"approval_timeout" env:"SENTINELOPS_APPROVAL_TIMEOUT" default:"60m"`
}

// ApprovalConfig governs the auto-approval thresholds of the approval engine.
type ApprovalConfig struct {
	AutoApproveEnabled    bool    `json:"auto_approve_enabled" env:"SENTINELOPS_AUTO_APPROVE_ENABLED" default:"false"`
	MinConfidence         float64 `json:"min_confidence" default:"0.9"`
	MaxRisk               float64 `json:"max_risk" default:"0.3"`
	EscalateOnLowConfidence bool  `json:"escalate_on_low_confidence" default:"true"`

	// AllowPartialResolution lets a remediation with some, but not all,
	// actions succeed resolve the incident with reason "partial" instead
	// of being treated as a full remediation failure.
	AllowPartialResolution bool `json:"allow_partial_resolution" default:"true"`
}

// RecoveryConfig governs the default retry budget used by the recovery policy.
type RecoveryConfig struct {
	MaxAttempts   int           `json:"max_attempts" default:"3"`
	InitialDelay  time.Duration `json:"initial_delay" default:"100ms"`
	MaxDelay      time.Duration `json:"max_delay" default:"5s"`
	BackoffFactor float64       `json:"backoff_factor" default:"2.0"`
}

// CircuitConfig governs the default circuit breaker thresholds.
type CircuitConfig struct {
	ErrorRateThreshold float64       `json:"error_rate_threshold" default:"0.5"`
	MinSamples         int           `json:"min_samples" default:"10"`
	OpenCooldown       time.Duration `json:"open_cooldown" default:"30s"`
	HalfOpenProbes     int           `json:"half_open_probes" default:"1"`
}

// CacheConfig governs the result cache's sizing.
type CacheConfig struct {
	MaxEntries int           `json:"max_entries" default:"10000"`
	TTL        time.Duration `json:"ttl" default:"10m"`
}

// BatcherConfig governs write coalescing.
type BatcherConfig struct {
	MaxBatchSize int           `json:"max_batch_size" default:"50"`
	FlushInterval time.Duration `json:"flush_interval" default:"250ms"`
}

// AuditConfig governs the audit log's hash chain and optional signing.
type AuditConfig struct {
	SigningEnabled bool   `json:"signing_enabled" env:"SENTINELOPS_AUDIT_SIGNING_ENABLED" default:"false"`
	SigningKey     string `json:"-" env:"SENTINELOPS_AUDIT_SIGNING_KEY"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `json:"level" env:"SENTINELOPS_LOG_LEVEL" default:"info"`
	Format string `json:"format" default:"json"`
}

// DevelopmentConfig enables conveniences not meant for production.
type DevelopmentConfig struct {
	Enabled bool `json:"enabled" env:"SENTINELOPS_DEV_MODE" default:"false"`
}

// DefaultConfig returns a Config populated with the defaults documented
// on each field above.
func DefaultConfig() *Config {
	return &Config{
		Namespace: "default",
		Admission: AdmissionConfig{
			MaxConcurrentIncidents: 100,
			MaxQueueSize:           1000,
		},
		Timeouts: TimeoutConfig{
			WorkflowTimeout:    30 * time.Minute,
			AnalysisTimeout:    5 * time.Minute,
			RemediationTimeout: 10 * time.Minute,
			ApprovalTimeout:    60 * time.Minute,
		},
		Approval: ApprovalConfig{
			AutoApproveEnabled:      false,
			MinConfidence:           0.9,
			MaxRisk:                 0.3,
			EscalateOnLowConfidence: true,
			AllowPartialResolution:  true,
		},
		Recovery: RecoveryConfig{
			MaxAttempts:   3,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
		},
		Circuit: CircuitConfig{
			ErrorRateThreshold: 0.5,
			MinSamples:         10,
			OpenCooldown:       30 * time.Second,
			HalfOpenProbes:     1,
		},
		Cache: CacheConfig{
			MaxEntries: 10000,
			TTL:        DefaultCacheTTL,
		},
		Batcher: BatcherConfig{
			MaxBatchSize:  50,
			FlushInterval: 250 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromEnv overlays environment variables onto the config, leaving
// any field whose variable is unset untouched.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(EnvNamespace); v != "" {
		c.Namespace = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv(EnvMaxConcurrentIncidents); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Admission.MaxConcurrentIncidents = n
		} else if c.logger != nil {
			c.logger.Warn("invalid integer in environment variable", map[string]interface{}{
				"var": EnvMaxConcurrentIncidents, "value": v,
			})
		}
	}
	if v := os.Getenv(EnvMaxQueueSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Admission.MaxQueueSize = n
		}
	}
	if v := os.Getenv(EnvWorkflowTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeouts.WorkflowTimeout = d
		}
	}
	if v := os.Getenv(EnvAnalysisTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeouts.AnalysisTimeout = d
		}
	}
	if v := os.Getenv(EnvRemediationTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeouts.RemediationTimeout = d
		}
	}
	if v := os.Getenv(EnvApprovalTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeouts.ApprovalTimeout = d
		}
	}
	if v := os.Getenv(EnvAutoApproveEnabled); v != "" {
		c.Approval.AutoApproveEnabled = parseBool(v)
	}
	if v := os.Getenv(EnvAuditSigningEnabled); v != "" {
		c.Audit.SigningEnabled = parseBool(v)
	}
	if v := os.Getenv(EnvAuditSigningKey); v != "" {
		c.Audit.SigningKey = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvDevMode); v != "" {
		c.Development.Enabled = parseBool(v)
	}
	return nil
}

// fileOverlay mirrors the subset of Config a deployment typically pins in
// a checked-in YAML file rather than an environment variable: names and
// structural settings, not secrets.
type fileOverlay struct {
	Namespace string `yaml:"namespace"`
	Admission struct {
		MaxConcurrentIncidents int `yaml:"max_concurrent_incidents"`
		MaxQueueSize           int `yaml:"max_queue_size"`
	} `yaml:"admission"`
	Timeouts struct {
		Workflow    time.Duration `yaml:"workflow"`
		Analysis    time.Duration `yaml:"analysis"`
		Remediation time.Duration `yaml:"remediation"`
		Approval    time.Duration `yaml:"approval"`
	} `yaml:"timeouts"`
	Approval struct {
		AutoApproveEnabled     bool    `yaml:"auto_approve_enabled"`
		MaxRisk                float64 `yaml:"max_risk"`
		AllowPartialResolution *bool   `yaml:"allow_partial_resolution"`
	} `yaml:"approval"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadFromYAMLFile overlays settings from a YAML deployment file onto c.
// Only the fields the file sets are applied, on top of whatever c already
// holds, so when it runs after LoadFromEnv (as cmd/orchestrator does) a
// field set in the file wins over the environment variable for it. A key
// the file schema does not recognise is rejected with an error.
func (c *Config) LoadFromYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	var overlay fileOverlay
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&overlay); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if overlay.Namespace != "" {
		c.Namespace = overlay.Namespace
	}
	if overlay.Admission.MaxConcurrentIncidents != 0 {
		c.Admission.MaxConcurrentIncidents = overlay.Admission.MaxConcurrentIncidents
	}
	if overlay.Admission.MaxQueueSize != 0 {
		c.Admission.MaxQueueSize = overlay.Admission.MaxQueueSize
	}
	if overlay.Timeouts.Workflow != 0 {
		c.Timeouts.WorkflowTimeout = overlay.Timeouts.Workflow
	}
	if overlay.Timeouts.Analysis != 0 {
		c.Timeouts.AnalysisTimeout = overlay.Timeouts.Analysis
	}
	if overlay.Timeouts.Remediation != 0 {
		c.Timeouts.RemediationTimeout = overlay.Timeouts.Remediation
	}
	if overlay.Timeouts.Approval != 0 {
		c.Timeouts.ApprovalTimeout = overlay.Timeouts.Approval
	}
	if overlay.Approval.AutoApproveEnabled {
		c.Approval.AutoApproveEnabled = true
	}
	if overlay.Approval.MaxRisk != 0 {
		c.Approval.MaxRisk = overlay.Approval.MaxRisk
	}
	if overlay.Approval.AllowPartialResolution != nil {
		c.Approval.AllowPartialResolution = *overlay.Approval.AllowPartialResolution
	}
	if overlay.Logging.Level != "" {
		c.Logging.Level = overlay.Logging.Level
	}
	if overlay.Logging.Format != "" {
		c.Logging.Format = overlay.Logging.Format
	}
	return nil
}

// parseBool accepts "true", "1", "yes", "on" (case-insensitive) as true.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Validate rejects a configuration that would make the orchestrator
// unsafe or nonsensical to run.
func (c *Config) Validate() error {
	if c.Admission.MaxConcurrentIncidents <= 0 {
		return &FrameworkError{Op: "Config.Validate", Kind: "config",
			Message: "max concurrent incidents must be positive", Err: ErrInvalidConfiguration}
	}
	if c.Admission.MaxQueueSize < 0 {
		return &FrameworkError{Op: "Config.Validate", Kind: "config",
			Message: "max queue size cannot be negative", Err: ErrInvalidConfiguration}
	}
	if c.Approval.MinConfidence < 0 || c.Approval.MinConfidence > 1 {
		return &FrameworkError{Op: "Config.Validate", Kind: "config",
			Message: "approval min confidence must be in [0,1]", Err: ErrInvalidConfiguration}
	}
	if c.Approval.MaxRisk < 0 || c.Approval.MaxRisk > 1 {
		return &FrameworkError{Op: "Config.Validate", Kind: "config",
			Message: "approval max risk must be in [0,1]", Err: ErrInvalidConfiguration}
	}
	if c.Audit.SigningEnabled && c.Audit.SigningKey == "" {
		return &FrameworkError{Op: "Config.Validate", Kind: "config",
			Message: "audit signing key is required when signing is enabled", Err: ErrMissingConfiguration}
	}
	if c.RedisURL == "" && !c.Development.Enabled {
		return &FrameworkError{Op: "Config.Validate", Kind: "config",
			Message: "redis URL is required outside development mode", Err: ErrMissingConfiguration}
	}
	return nil
}

// Option mutates a Config during construction and may reject an invalid
// value.
type Option func(*Config) error

// WithRedisURL sets the Redis connection string backing the store and
// bus components.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.RedisURL = url
		return nil
	}
}

// WithNamespace sets the logical namespace used to prefix every Redis
// key this process owns.
func WithNamespace(ns string) Option {
	return func(c *Config) error {
		c.Namespace = ns
		return nil
	}
}

// WithMaxConcurrentIncidents bounds how many incidents may be in active
// workflow execution at once.
func WithMaxConcurrentIncidents(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return &FrameworkError{Op: "WithMaxConcurrentIncidents", Kind: "config",
				Message: fmt.Sprintf("invalid max concurrent incidents: %d", n), Err: ErrInvalidConfiguration}
		}
		c.Admission.MaxConcurrentIncidents = n
		return nil
	}
}

// WithMaxQueueSize bounds the backlog of admitted-but-not-yet-running incidents.
func WithMaxQueueSize(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return &FrameworkError{Op: "WithMaxQueueSize", Kind: "config",
				Message: fmt.Sprintf("invalid max queue size: %d", n), Err: ErrInvalidConfiguration}
		}
		c.Admission.MaxQueueSize = n
		return nil
	}
}

// WithWorkflowTimeout sets the hard ceiling on an incident's total lifetime.
func WithWorkflowTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.Timeouts.WorkflowTimeout = d
		return nil
	}
}

// WithAutoApprove enables auto-approval and sets its confidence/risk gates.
func WithAutoApprove(enabled bool, minConfidence, maxRisk float64) Option {
	return func(c *Config) error {
		c.Approval.AutoApproveEnabled = enabled
		c.Approval.MinConfidence = minConfidence
		c.Approval.MaxRisk = maxRisk
		return nil
	}
}

// WithAuditSigning enables detached HMAC signing of audit entries.
func WithAuditSigning(key string) Option {
	return func(c *Config) error {
		c.Audit.SigningEnabled = true
		c.Audit.SigningKey = key
		return nil
	}
}

// WithDevelopmentMode relaxes validation for local/offline runs (e.g. no
// Redis URL required).
func WithDevelopmentMode() Option {
	return func(c *Config) error {
		c.Development.Enabled = true
		return nil
	}
}

// WithLogger injects the logger Config itself uses while loading, and
// that NewConfig will hand back if the caller doesn't already have one.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// NewConfig builds a Config from defaults, then environment variables,
// then the supplied options, validating the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		cfg.logger = NoOpLogger{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
