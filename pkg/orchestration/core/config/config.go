// Package config provides structures and utilities for managing the
// orchestration layer's configuration.
package config

// EmbeddedConfig holds the content of the configuration file, typically passed
// from main.go when the YAML is compiled into the binary.
type EmbeddedConfig []byte

// RetryConfig holds configuration for the durable runtime's step retry
// mechanism and the circuit breaker guarding fragile steps.
type RetryConfig struct {
	MaxAttempts                 int     `yaml:"max_attempts"`                   // MaxAttempts is the maximum number of step attempts.
	InitialInterval             int     `yaml:"initial_interval"`               // InitialInterval is the initial backoff interval in milliseconds.
	MaxInterval                 int     `yaml:"max_interval"`                   // MaxInterval is the maximum backoff interval in milliseconds.
	Factor                      float64 `yaml:"factor"`                         // Factor is the backoff multiplier (e.g., 2.0 for exponential backoff).
	CircuitBreakerThreshold     int     `yaml:"circuit_breaker_threshold"`      // CircuitBreakerThreshold is the number of consecutive failures to open the circuit.
	CircuitBreakerResetInterval int     `yaml:"circuit_breaker_reset_interval"` // CircuitBreakerResetInterval is the time in milliseconds before allowing a trial call.
}

// PoolConfig describes one admission pool: a fixed weight capacity shared by
// all workflows admitted through it.
type PoolConfig struct {
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
}

// AdmissionConfig holds the admission gate pools and per-workflow-type weights.
type AdmissionConfig struct {
	Pools []PoolConfig `yaml:"pools"`
	// BatchJobWeight is the admission weight of a checkpointed batch job.
	BatchJobWeight int `yaml:"batch_job_weight"`
	// PopulationWeight is the admission weight of a population orchestration run.
	PopulationWeight int `yaml:"population_weight"`
	// ScanWeight is the admission weight of a content scan coordinator.
	ScanWeight int `yaml:"scan_weight"`
}

// BatchEngineConfig holds configuration for the checkpointed batch processor.
type BatchEngineConfig struct {
	// BatchSize is the number of rows claimed per checkpointed batch.
	BatchSize int `yaml:"batch_size"`
	// ProgressEvery persists job progress every N scanned rows.
	ProgressEvery int `yaml:"progress_every"`
	// Retry is the step retry / circuit breaker configuration for batch steps.
	Retry RetryConfig `yaml:"retry"`
}

// ScanConfig holds configuration for the content scan fan-in coordinator.
type ScanConfig struct {
	// SignalTimeoutSeconds bounds each wait for a batch_complete signal.
	SignalTimeoutSeconds int `yaml:"signal_timeout_seconds"`
	// MaxIdleWaits is the number of consecutive timed-out waits with no
	// progress before the coordinator gives up with a timeout warning.
	MaxIdleWaits int `yaml:"max_idle_waits"`
}

// PopulationConfig holds configuration for the population orchestrator loop.
type PopulationConfig struct {
	// MaxIterations bounds the control loop regardless of run state.
	MaxIterations int `yaml:"max_iterations"`
	// MaxConsecutiveEmpty is the empty content-availability streak that pauses the run.
	MaxConsecutiveEmpty int `yaml:"max_consecutive_empty"`
	// SpawnBatchSize is the maximum number of agents spawned per iteration.
	SpawnBatchSize int `yaml:"spawn_batch_size"`
	// MaxTurnRetries evicts an agent once its retry count reaches this value.
	MaxTurnRetries int `yaml:"max_turn_retries"`
	// ScoringInterval triggers the external scoring pipeline every N iterations.
	ScoringInterval int `yaml:"scoring_interval"`
	// Retry is the step retry / circuit breaker configuration for turn scheduling.
	Retry RetryConfig `yaml:"retry"`
}

// SimulationDefaults seeds the configuration snapshot of runs created by the
// orchestrator process. Once a run is created the snapshot is immutable.
type SimulationDefaults struct {
	MaxAgents          int      `yaml:"max_agents"`
	TurnCadenceSeconds int      `yaml:"turn_cadence_seconds"`
	RemovalRate        float64  `yaml:"removal_rate"`
	MaxTurnsPerAgent   int      `yaml:"max_turns_per_agent"`
	AgentProfileIDs    []string `yaml:"agent_profile_ids"`
	CommunityID        string   `yaml:"community_id"`
}

// DatabaseConfig holds connection settings for the metadata database.
type DatabaseConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys lists workflow argument keys whose values are masked in logs.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// FactweaveConfig holds all configuration under the "factweave" top-level key.
type FactweaveConfig struct {
	Admission  AdmissionConfig    `yaml:"admission"`
	Batch      BatchEngineConfig  `yaml:"batch"`
	Scan       ScanConfig         `yaml:"scan"`
	Population PopulationConfig   `yaml:"population"`
	Simulation SimulationDefaults `yaml:"simulation"`
	System     SystemConfig       `yaml:"system"`
	Security   SecurityConfig     `yaml:"security"`
	// AdaptorConfigs holds raw per-adaptor settings, typically database connections.
	AdaptorConfigs map[string]interface{} `yaml:"database"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Factweave FactweaveConfig `yaml:"factweave"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// GlobalConfig is a pointer to the configuration instance shared across the
// application. It is set by NewConfigProvider during startup.
var GlobalConfig *Config

// GetMaskedParameterKeys retrieves the list of workflow argument keys whose
// values should be masked in logs.
func GetMaskedParameterKeys() []string {
	if GlobalConfig == nil {
		return []string{}
	}
	return GlobalConfig.Factweave.Security.MaskedParameterKeys
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	cfg := &Config{
		Factweave: FactweaveConfig{
			System: SystemConfig{
				Logging: LoggingConfig{Level: "INFO"},
			},
			Admission: AdmissionConfig{
				Pools:            []PoolConfig{{Name: "default", Capacity: 8}},
				BatchJobWeight:   1,
				PopulationWeight: 2,
				ScanWeight:       1,
			},
			Batch: BatchEngineConfig{
				BatchSize:     100,
				ProgressEvery: 500,
				Retry: RetryConfig{
					MaxAttempts:                 3,
					InitialInterval:             1000,
					MaxInterval:                 30000,
					Factor:                      2.0,
					CircuitBreakerThreshold:     5,
					CircuitBreakerResetInterval: 60000,
				},
			},
			Scan: ScanConfig{
				SignalTimeoutSeconds: 60,
				MaxIdleWaits:         5,
			},
			Population: PopulationConfig{
				MaxIterations:       1000,
				MaxConsecutiveEmpty: 5,
				SpawnBatchSize:      5,
				MaxTurnRetries:      3,
				ScoringInterval:     10,
				Retry: RetryConfig{
					MaxAttempts:                 3,
					InitialInterval:             1000,
					MaxInterval:                 30000,
					Factor:                      2.0,
					CircuitBreakerThreshold:     5,
					CircuitBreakerResetInterval: 60000,
				},
			},
			Simulation: SimulationDefaults{
				MaxAgents:          15,
				TurnCadenceSeconds: 30,
				RemovalRate:        0.1,
				MaxTurnsPerAgent:   20,
				AgentProfileIDs:    []string{"default"},
				CommunityID:        "default",
			},
			Security: SecurityConfig{
				MaskedParameterKeys: []string{"password", "api_key", "secret"},
			},
		},
	}
	cfg.Factweave.AdaptorConfigs = map[string]interface{}{}
	return cfg
}
