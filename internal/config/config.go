package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Conclave configuration
type Config struct {
	Worker       WorkerConfig       `mapstructure:"worker"`
	Validation   ValidationConfig   `mapstructure:"validation"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Scoring      ScoringConfig      `mapstructure:"scoring"`
	Consensus    ConsensusConfig    `mapstructure:"consensus"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Agents       []AgentConfig      `mapstructure:"agents"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// WorkerConfig controls worker lifecycle behavior
type WorkerConfig struct {
	// PollIntervalMs is how often to poll the worker's output side-channel (in milliseconds)
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	// StabilityWindowSeconds is how long the output file size must be unchanged
	// before the output is considered safe to read
	StabilityWindowSeconds int `mapstructure:"stability_window_seconds"`
	// MinOutputBytes is the minimum output size required for completion
	MinOutputBytes int `mapstructure:"min_output_bytes"`
	// TimeoutSeconds is the maximum worker runtime before force-termination (default: 1200)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// GraceSeconds is how long to wait after a graceful interrupt before killing
	GraceSeconds int `mapstructure:"grace_seconds"`
	// PlausibilityFloorSeconds: completions faster than this with small output
	// trigger a suspicious-completion diagnostic (default: 30)
	PlausibilityFloorSeconds int `mapstructure:"plausibility_floor_seconds"`
	// PlausibilitySizeBytes: the small-output threshold for the diagnostic (default: 1024)
	PlausibilitySizeBytes int `mapstructure:"plausibility_size_bytes"`
	// ChannelDir is the directory holding worker output side-channel files.
	// Empty means a per-run temporary directory.
	ChannelDir string `mapstructure:"channel_dir"`
}

// ValidationConfig controls output validation
type ValidationConfig struct {
	// MinBytes is the size floor below which output is rejected (default: 500)
	MinBytes int `mapstructure:"min_bytes"`
	// MaxRetries is the per-worker validation retry budget before the worker
	// is marked failed for the run (default: 2)
	MaxRetries int `mapstructure:"max_retries"`
}

// RetryPolicyConfig holds backoff parameters for one operation class
type RetryPolicyConfig struct {
	// MaxAttempts is the total attempt cap, including the first try
	MaxAttempts int `mapstructure:"max_attempts"`
	// InitialBackoffMs is the first retry delay (in milliseconds)
	InitialBackoffMs int `mapstructure:"initial_backoff_ms"`
	// Multiplier grows the delay exponentially per attempt
	Multiplier float64 `mapstructure:"multiplier"`
	// MaxBackoffMs caps the delay (in milliseconds)
	MaxBackoffMs int `mapstructure:"max_backoff_ms"`
	// JitterFactor randomizes each delay by ±factor (default: 0.5)
	JitterFactor float64 `mapstructure:"jitter_factor"`
}

// InitialBackoff returns the initial backoff as a time.Duration
func (r *RetryPolicyConfig) InitialBackoff() time.Duration {
	return time.Duration(r.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the backoff cap as a time.Duration
func (r *RetryPolicyConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMs) * time.Millisecond
}

// RetryConfig holds retry policies keyed by operation class
type RetryConfig struct {
	// Default is used for operation classes without an explicit policy
	Default RetryPolicyConfig `mapstructure:"default"`
	// Classes maps operation class names ("spawn", "store", "stage",
	// "validation")
	// to dedicated policies
	Classes map[string]RetryPolicyConfig `mapstructure:"classes"`
}

// ForClass returns the policy for the given operation class, falling back
// to the default policy.
func (r *RetryConfig) ForClass(class string) RetryPolicyConfig {
	if p, ok := r.Classes[class]; ok {
		return p
	}
	return r.Default
}

// ScoringConfig controls interaction scoring bonuses and penalties
type ScoringConfig struct {
	// ProactivityBonus applies when no questions were asked or all were low-effort
	ProactivityBonus float64 `mapstructure:"proactivity_bonus"`
	// MediumQuestionPenalty applies per medium-effort question
	MediumQuestionPenalty float64 `mapstructure:"medium_question_penalty"`
	// HighQuestionPenalty applies per high-effort/blocking question
	HighQuestionPenalty float64 `mapstructure:"high_question_penalty"`
	// PersonalizationBonus applies on full preference compliance
	PersonalizationBonus float64 `mapstructure:"personalization_bonus"`
	// FormatViolationPenalty applies per format or content violation
	FormatViolationPenalty float64 `mapstructure:"format_violation_penalty"`
	// LanguageViolationPenalty applies per language violation
	LanguageViolationPenalty float64 `mapstructure:"language_violation_penalty"`
}

// WeightsConfig is one technical/interaction weight pair.
// The pair must sum to 1.0; Validate enforces this at load.
type WeightsConfig struct {
	Technical   float64 `mapstructure:"technical"`
	Interaction float64 `mapstructure:"interaction"`
}

// ConsensusConfig controls weighted consensus selection
type ConsensusConfig struct {
	// Weights is the global technical/interaction weight pair
	Weights WeightsConfig `mapstructure:"weights"`
	// PerStage overrides the weights for specific stages
	PerStage map[string]WeightsConfig `mapstructure:"per_stage"`
	// Quorum is the minimum successful-worker count to accept a degraded
	// consensus (default: 2)
	Quorum int `mapstructure:"quorum"`
}

// WeightsForStage returns the weight pair for the given stage, falling back
// to the global weights.
func (c *ConsensusConfig) WeightsForStage(stage string) WeightsConfig {
	if w, ok := c.PerStage[stage]; ok {
		return w
	}
	return c.Weights
}

// OrchestratorConfig controls stage-run scheduling
type OrchestratorConfig struct {
	// MaxStageRetries bounds redispatch attempts per stage (default: 2)
	MaxStageRetries int `mapstructure:"max_stage_retries"`
	// MaxConcurrentRuns bounds concurrently active stage runs across work items
	MaxConcurrentRuns int `mapstructure:"max_concurrent_runs"`
}

// AgentConfig describes one external reasoning agent in the roster
type AgentConfig struct {
	// Name is the unique agent identifier
	Name string `mapstructure:"name"`
	// Command is the executable used to invoke the agent
	Command string `mapstructure:"command"`
	// Args are fixed arguments passed before the prompt
	Args []string `mapstructure:"args"`
	// Instructions are prepended to every prompt sent to this agent
	Instructions string `mapstructure:"instructions"`
}

// StorageConfig controls the persistent store
type StorageConfig struct {
	// Path is the SQLite database file path. Empty uses the default under
	// the config directory.
	Path string `mapstructure:"path"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled turns on debug logging to a file
	Enabled bool `mapstructure:"enabled"`
	// Level sets the log level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Dir is the log directory. Empty logs to stderr.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size before rotation
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep
	MaxBackups int `mapstructure:"max_backups"`
}

// TelemetryConfig controls the OTLP exporter
type TelemetryConfig struct {
	// Enabled turns on telemetry export
	Enabled bool `mapstructure:"enabled"`
	// Endpoint is the OTLP HTTP endpoint (host:port)
	Endpoint string `mapstructure:"endpoint"`
	// ServiceName identifies this deployment in exported records
	ServiceName string `mapstructure:"service_name"`
}

// PollInterval returns the poll interval as a time.Duration
func (c *WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// StabilityWindow returns the stability window as a time.Duration
func (c *WorkerConfig) StabilityWindow() time.Duration {
	return time.Duration(c.StabilityWindowSeconds) * time.Second
}

// Timeout returns the worker timeout as a time.Duration
func (c *WorkerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Grace returns the interrupt grace period as a time.Duration
func (c *WorkerConfig) Grace() time.Duration {
	return time.Duration(c.GraceSeconds) * time.Second
}

// PlausibilityFloor returns the suspicious-completion floor as a time.Duration
func (c *WorkerConfig) PlausibilityFloor() time.Duration {
	return time.Duration(c.PlausibilityFloorSeconds) * time.Second
}

// Default returns a Config populated with default values
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			PollIntervalMs:           500,
			StabilityWindowSeconds:   2,
			MinOutputBytes:           1000,
			TimeoutSeconds:           1200,
			GraceSeconds:             2,
			PlausibilityFloorSeconds: 30,
			PlausibilitySizeBytes:    1024,
		},
		Validation: ValidationConfig{
			MinBytes:   500,
			MaxRetries: 2,
		},
		Retry: RetryConfig{
			Default: RetryPolicyConfig{
				MaxAttempts:      3,
				InitialBackoffMs: 100,
				Multiplier:       2.0,
				MaxBackoffMs:     10000,
				JitterFactor:     0.5,
			},
			Classes: map[string]RetryPolicyConfig{},
		},
		Scoring: ScoringConfig{
			ProactivityBonus:         0.05,
			MediumQuestionPenalty:    0.1,
			HighQuestionPenalty:      0.5,
			PersonalizationBonus:     0.05,
			FormatViolationPenalty:   0.05,
			LanguageViolationPenalty: 0.10,
		},
		Consensus: ConsensusConfig{
			Weights: WeightsConfig{
				Technical:   0.7,
				Interaction: 0.3,
			},
			PerStage: map[string]WeightsConfig{},
			Quorum:   2,
		},
		Orchestrator: OrchestratorConfig{
			MaxStageRetries:   2,
			MaxConcurrentRuns: 4,
		},
		Agents: nil,
		Storage: StorageConfig{
			Path: "",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "conclave",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Worker defaults
	viper.SetDefault("worker.poll_interval_ms", defaults.Worker.PollIntervalMs)
	viper.SetDefault("worker.stability_window_seconds", defaults.Worker.StabilityWindowSeconds)
	viper.SetDefault("worker.min_output_bytes", defaults.Worker.MinOutputBytes)
	viper.SetDefault("worker.timeout_seconds", defaults.Worker.TimeoutSeconds)
	viper.SetDefault("worker.grace_seconds", defaults.Worker.GraceSeconds)
	viper.SetDefault("worker.plausibility_floor_seconds", defaults.Worker.PlausibilityFloorSeconds)
	viper.SetDefault("worker.plausibility_size_bytes", defaults.Worker.PlausibilitySizeBytes)
	viper.SetDefault("worker.channel_dir", defaults.Worker.ChannelDir)

	// Validation defaults
	viper.SetDefault("validation.min_bytes", defaults.Validation.MinBytes)
	viper.SetDefault("validation.max_retries", defaults.Validation.MaxRetries)

	// Retry defaults
	viper.SetDefault("retry.default.max_attempts", defaults.Retry.Default.MaxAttempts)
	viper.SetDefault("retry.default.initial_backoff_ms", defaults.Retry.Default.InitialBackoffMs)
	viper.SetDefault("retry.default.multiplier", defaults.Retry.Default.Multiplier)
	viper.SetDefault("retry.default.max_backoff_ms", defaults.Retry.Default.MaxBackoffMs)
	viper.SetDefault("retry.default.jitter_factor", defaults.Retry.Default.JitterFactor)

	// Scoring defaults
	viper.SetDefault("scoring.proactivity_bonus", defaults.Scoring.ProactivityBonus)
	viper.SetDefault("scoring.medium_question_penalty", defaults.Scoring.MediumQuestionPenalty)
	viper.SetDefault("scoring.high_question_penalty", defaults.Scoring.HighQuestionPenalty)
	viper.SetDefault("scoring.personalization_bonus", defaults.Scoring.PersonalizationBonus)
	viper.SetDefault("scoring.format_violation_penalty", defaults.Scoring.FormatViolationPenalty)
	viper.SetDefault("scoring.language_violation_penalty", defaults.Scoring.LanguageViolationPenalty)

	// Consensus defaults
	viper.SetDefault("consensus.weights.technical", defaults.Consensus.Weights.Technical)
	viper.SetDefault("consensus.weights.interaction", defaults.Consensus.Weights.Interaction)
	viper.SetDefault("consensus.quorum", defaults.Consensus.Quorum)

	// Orchestrator defaults
	viper.SetDefault("orchestrator.max_stage_retries", defaults.Orchestrator.MaxStageRetries)
	viper.SetDefault("orchestrator.max_concurrent_runs", defaults.Orchestrator.MaxConcurrentRuns)

	// Storage defaults
	viper.SetDefault("storage.path", defaults.Storage.Path)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", defaults.Telemetry.Enabled)
	viper.SetDefault("telemetry.endpoint", defaults.Telemetry.Endpoint)
	viper.SetDefault("telemetry.service_name", defaults.Telemetry.ServiceName)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "conclave")
	}
	// Fall back to ~/.config/conclave
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conclave"
	}
	return filepath.Join(home, ".config", "conclave")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StoragePath returns the configured SQLite path, or the default under the
// config directory.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(ConfigDir(), "conclave.db")
}
