package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Verify default worker config
	if cfg.Worker.PollIntervalMs != 500 {
		t.Errorf("Worker.PollIntervalMs = %d, want 500", cfg.Worker.PollIntervalMs)
	}
	if cfg.Worker.StabilityWindowSeconds != 2 {
		t.Errorf("Worker.StabilityWindowSeconds = %d, want 2", cfg.Worker.StabilityWindowSeconds)
	}
	if cfg.Worker.MinOutputBytes != 1000 {
		t.Errorf("Worker.MinOutputBytes = %d, want 1000", cfg.Worker.MinOutputBytes)
	}
	if cfg.Worker.TimeoutSeconds != 1200 {
		t.Errorf("Worker.TimeoutSeconds = %d, want 1200", cfg.Worker.TimeoutSeconds)
	}
	if cfg.Worker.GraceSeconds != 2 {
		t.Errorf("Worker.GraceSeconds = %d, want 2", cfg.Worker.GraceSeconds)
	}
	if cfg.Worker.PlausibilityFloorSeconds != 30 {
		t.Errorf("Worker.PlausibilityFloorSeconds = %d, want 30", cfg.Worker.PlausibilityFloorSeconds)
	}
	if cfg.Worker.PlausibilitySizeBytes != 1024 {
		t.Errorf("Worker.PlausibilitySizeBytes = %d, want 1024", cfg.Worker.PlausibilitySizeBytes)
	}

	// Verify default validation config
	if cfg.Validation.MinBytes != 500 {
		t.Errorf("Validation.MinBytes = %d, want 500", cfg.Validation.MinBytes)
	}
	if cfg.Validation.MaxRetries != 2 {
		t.Errorf("Validation.MaxRetries = %d, want 2", cfg.Validation.MaxRetries)
	}

	// Verify default retry policy
	if cfg.Retry.Default.MaxAttempts != 3 {
		t.Errorf("Retry.Default.MaxAttempts = %d, want 3", cfg.Retry.Default.MaxAttempts)
	}
	if cfg.Retry.Default.InitialBackoffMs != 100 {
		t.Errorf("Retry.Default.InitialBackoffMs = %d, want 100", cfg.Retry.Default.InitialBackoffMs)
	}
	if cfg.Retry.Default.Multiplier != 2.0 {
		t.Errorf("Retry.Default.Multiplier = %f, want 2.0", cfg.Retry.Default.Multiplier)
	}
	if cfg.Retry.Default.MaxBackoffMs != 10000 {
		t.Errorf("Retry.Default.MaxBackoffMs = %d, want 10000", cfg.Retry.Default.MaxBackoffMs)
	}
	if cfg.Retry.Default.JitterFactor != 0.5 {
		t.Errorf("Retry.Default.JitterFactor = %f, want 0.5", cfg.Retry.Default.JitterFactor)
	}

	// Verify default consensus config
	if cfg.Consensus.Weights.Technical != 0.7 {
		t.Errorf("Consensus.Weights.Technical = %f, want 0.7", cfg.Consensus.Weights.Technical)
	}
	if cfg.Consensus.Weights.Interaction != 0.3 {
		t.Errorf("Consensus.Weights.Interaction = %f, want 0.3", cfg.Consensus.Weights.Interaction)
	}
	if cfg.Consensus.Quorum != 2 {
		t.Errorf("Consensus.Quorum = %d, want 2", cfg.Consensus.Quorum)
	}

	// Verify default orchestrator config
	if cfg.Orchestrator.MaxStageRetries != 2 {
		t.Errorf("Orchestrator.MaxStageRetries = %d, want 2", cfg.Orchestrator.MaxStageRetries)
	}
	if cfg.Orchestrator.MaxConcurrentRuns != 4 {
		t.Errorf("Orchestrator.MaxConcurrentRuns = %d, want 4", cfg.Orchestrator.MaxConcurrentRuns)
	}

	// Verify default logging config
	if !cfg.Logging.Enabled {
		t.Error("Logging.Enabled should be true by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.MaxSizeMB != 10 {
		t.Errorf("Logging.MaxSizeMB = %d, want 10", cfg.Logging.MaxSizeMB)
	}

	// Telemetry should be off by default
	if cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled should be false by default")
	}
	if cfg.Telemetry.ServiceName != "conclave" {
		t.Errorf("Telemetry.ServiceName = %q, want %q", cfg.Telemetry.ServiceName, "conclave")
	}
}

func TestWorkerConfig_Durations(t *testing.T) {
	cfg := WorkerConfig{
		PollIntervalMs:           500,
		StabilityWindowSeconds:   2,
		TimeoutSeconds:           1200,
		GraceSeconds:             2,
		PlausibilityFloorSeconds: 30,
	}

	if cfg.PollInterval() != 500*time.Millisecond {
		t.Errorf("PollInterval() = %v, want 500ms", cfg.PollInterval())
	}
	if cfg.StabilityWindow() != 2*time.Second {
		t.Errorf("StabilityWindow() = %v, want 2s", cfg.StabilityWindow())
	}
	if cfg.Timeout() != 1200*time.Second {
		t.Errorf("Timeout() = %v, want 1200s", cfg.Timeout())
	}
	if cfg.Grace() != 2*time.Second {
		t.Errorf("Grace() = %v, want 2s", cfg.Grace())
	}
	if cfg.PlausibilityFloor() != 30*time.Second {
		t.Errorf("PlausibilityFloor() = %v, want 30s", cfg.PlausibilityFloor())
	}
}

func TestRetryPolicyConfig_Durations(t *testing.T) {
	tests := []struct {
		ms       int
		expected time.Duration
	}{
		{100, 100 * time.Millisecond},
		{1000, 1 * time.Second},
		{10000, 10 * time.Second},
		{0, 0},
	}

	for _, tt := range tests {
		p := RetryPolicyConfig{InitialBackoffMs: tt.ms, MaxBackoffMs: tt.ms}
		if p.InitialBackoff() != tt.expected {
			t.Errorf("InitialBackoff() with %dms = %v, want %v", tt.ms, p.InitialBackoff(), tt.expected)
		}
		if p.MaxBackoff() != tt.expected {
			t.Errorf("MaxBackoff() with %dms = %v, want %v", tt.ms, p.MaxBackoff(), tt.expected)
		}
	}
}

func TestRetryConfig_ForClass(t *testing.T) {
	cfg := RetryConfig{
		Default: RetryPolicyConfig{MaxAttempts: 3},
		Classes: map[string]RetryPolicyConfig{
			"spawn": {MaxAttempts: 5},
		},
	}

	if got := cfg.ForClass("spawn"); got.MaxAttempts != 5 {
		t.Errorf("ForClass(spawn).MaxAttempts = %d, want 5", got.MaxAttempts)
	}
	if got := cfg.ForClass("store"); got.MaxAttempts != 3 {
		t.Errorf("ForClass(store) should fall back to default, got MaxAttempts=%d", got.MaxAttempts)
	}
}

func TestConsensusConfig_WeightsForStage(t *testing.T) {
	cfg := ConsensusConfig{
		Weights: WeightsConfig{Technical: 0.7, Interaction: 0.3},
		PerStage: map[string]WeightsConfig{
			"plan": {Technical: 0.5, Interaction: 0.5},
		},
	}

	if got := cfg.WeightsForStage("plan"); got.Technical != 0.5 {
		t.Errorf("WeightsForStage(plan).Technical = %f, want 0.5", got.Technical)
	}
	if got := cfg.WeightsForStage("implement"); got.Technical != 0.7 {
		t.Errorf("WeightsForStage(implement) should fall back to global, got Technical=%f", got.Technical)
	}
}

func TestConfigDir(t *testing.T) {
	// Test with XDG_CONFIG_HOME set
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		original := os.Getenv("XDG_CONFIG_HOME")
		defer func() { _ = os.Setenv("XDG_CONFIG_HOME", original) }()

		_ = os.Setenv("XDG_CONFIG_HOME", "/custom/config")
		result := ConfigDir()
		expected := "/custom/config/conclave"
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})

	// Test without XDG_CONFIG_HOME
	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		original := os.Getenv("XDG_CONFIG_HOME")
		defer func() { _ = os.Setenv("XDG_CONFIG_HOME", original) }()

		_ = os.Setenv("XDG_CONFIG_HOME", "")
		result := ConfigDir()

		// Should be based on home directory
		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "conclave")
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	original := os.Getenv("XDG_CONFIG_HOME")
	defer func() { _ = os.Setenv("XDG_CONFIG_HOME", original) }()

	_ = os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	result := ConfigFile()
	expected := "/custom/config/conclave/config.yaml"
	if result != expected {
		t.Errorf("ConfigFile() = %q, want %q", result, expected)
	}
}

func TestStoragePath(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.Path = "/tmp/runs.db"
		if got := cfg.StoragePath(); got != "/tmp/runs.db" {
			t.Errorf("StoragePath() = %q, want /tmp/runs.db", got)
		}
	})

	t.Run("default path under config dir", func(t *testing.T) {
		original := os.Getenv("XDG_CONFIG_HOME")
		defer func() { _ = os.Setenv("XDG_CONFIG_HOME", original) }()
		_ = os.Setenv("XDG_CONFIG_HOME", "/custom/config")

		cfg := Default()
		expected := "/custom/config/conclave/conclave.db"
		if got := cfg.StoragePath(); got != expected {
			t.Errorf("StoragePath() = %q, want %q", got, expected)
		}
	})
}

func TestGet(t *testing.T) {
	// Set defaults in viper first (normally done by cmd init)
	SetDefaults()

	// Get() should return defaults when no config file exists
	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}

	// Should have default values
	if cfg.Consensus.Weights.Technical != 0.7 {
		t.Errorf("Get().Consensus.Weights.Technical = %f, want 0.7", cfg.Consensus.Weights.Technical)
	}
	if cfg.Worker.PollIntervalMs != 500 {
		t.Errorf("Get().Worker.PollIntervalMs = %d, want 500", cfg.Worker.PollIntervalMs)
	}
}

func TestConfig_WorkerConfig_Values(t *testing.T) {
	cfg := Default()

	// Completion detection thresholds have to be meaningful
	if cfg.Worker.MinOutputBytes < 500 {
		t.Errorf("MinOutputBytes should be at least 500 bytes, got %d", cfg.Worker.MinOutputBytes)
	}

	if cfg.Worker.PollIntervalMs < 10 {
		t.Errorf("PollIntervalMs should be at least 10ms, got %d", cfg.Worker.PollIntervalMs)
	}

	// Grace has to be shorter than the timeout
	if cfg.Worker.GraceSeconds >= cfg.Worker.TimeoutSeconds {
		t.Errorf("GraceSeconds (%d) should be less than TimeoutSeconds (%d)",
			cfg.Worker.GraceSeconds, cfg.Worker.TimeoutSeconds)
	}
}
