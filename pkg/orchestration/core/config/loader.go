package config

import (
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"go.uber.org/fx"

	"github.com/factweave/factweave/pkg/orchestration/support/util/exception"
	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig // EmbeddedConfig contains the raw bytes of the configuration file.
	EnvFilePath    string         `name:"envFilePath" optional:"true"` // EnvFilePath is the path to the .env file, if any.
}

// loadConfig loads configuration from embedded YAML and environment variables.
// It is intended to be called once during application startup.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	if len(embeddedConfig) == 0 {
		return cfg, nil
	}

	// Expand ${VAR} placeholders before parsing so secrets can stay out of the YAML.
	expanded, err := expander.Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewOrchestrationError(moduleName, "failed to expand environment placeholders in config", err, false)
	}

	var yamlConfig Config
	if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
		return nil, exception.NewOrchestrationError(moduleName, "failed to unmarshal embedded config", err, false)
	}

	mergeConfig(cfg, &yamlConfig)
	return cfg, nil
}

// mergeConfig overlays non-zero values from src onto dst.
func mergeConfig(dst, src *Config) {
	if src.Factweave.System.Logging.Level != "" {
		dst.Factweave.System.Logging.Level = src.Factweave.System.Logging.Level
	}
	if len(src.Factweave.Admission.Pools) > 0 {
		dst.Factweave.Admission.Pools = src.Factweave.Admission.Pools
	}
	if src.Factweave.Admission.BatchJobWeight > 0 {
		dst.Factweave.Admission.BatchJobWeight = src.Factweave.Admission.BatchJobWeight
	}
	if src.Factweave.Admission.PopulationWeight > 0 {
		dst.Factweave.Admission.PopulationWeight = src.Factweave.Admission.PopulationWeight
	}
	if src.Factweave.Admission.ScanWeight > 0 {
		dst.Factweave.Admission.ScanWeight = src.Factweave.Admission.ScanWeight
	}
	if src.Factweave.Batch.BatchSize > 0 {
		dst.Factweave.Batch.BatchSize = src.Factweave.Batch.BatchSize
	}
	if src.Factweave.Batch.ProgressEvery > 0 {
		dst.Factweave.Batch.ProgressEvery = src.Factweave.Batch.ProgressEvery
	}
	mergeRetry(&dst.Factweave.Batch.Retry, &src.Factweave.Batch.Retry)
	if src.Factweave.Scan.SignalTimeoutSeconds > 0 {
		dst.Factweave.Scan.SignalTimeoutSeconds = src.Factweave.Scan.SignalTimeoutSeconds
	}
	if src.Factweave.Scan.MaxIdleWaits > 0 {
		dst.Factweave.Scan.MaxIdleWaits = src.Factweave.Scan.MaxIdleWaits
	}
	if src.Factweave.Population.MaxIterations > 0 {
		dst.Factweave.Population.MaxIterations = src.Factweave.Population.MaxIterations
	}
	if src.Factweave.Population.MaxConsecutiveEmpty > 0 {
		dst.Factweave.Population.MaxConsecutiveEmpty = src.Factweave.Population.MaxConsecutiveEmpty
	}
	if src.Factweave.Population.SpawnBatchSize > 0 {
		dst.Factweave.Population.SpawnBatchSize = src.Factweave.Population.SpawnBatchSize
	}
	if src.Factweave.Population.MaxTurnRetries > 0 {
		dst.Factweave.Population.MaxTurnRetries = src.Factweave.Population.MaxTurnRetries
	}
	if src.Factweave.Population.ScoringInterval > 0 {
		dst.Factweave.Population.ScoringInterval = src.Factweave.Population.ScoringInterval
	}
	mergeRetry(&dst.Factweave.Population.Retry, &src.Factweave.Population.Retry)
	if src.Factweave.Simulation.MaxAgents > 0 {
		dst.Factweave.Simulation.MaxAgents = src.Factweave.Simulation.MaxAgents
	}
	if src.Factweave.Simulation.TurnCadenceSeconds > 0 {
		dst.Factweave.Simulation.TurnCadenceSeconds = src.Factweave.Simulation.TurnCadenceSeconds
	}
	if src.Factweave.Simulation.RemovalRate > 0 {
		dst.Factweave.Simulation.RemovalRate = src.Factweave.Simulation.RemovalRate
	}
	if src.Factweave.Simulation.MaxTurnsPerAgent > 0 {
		dst.Factweave.Simulation.MaxTurnsPerAgent = src.Factweave.Simulation.MaxTurnsPerAgent
	}
	if len(src.Factweave.Simulation.AgentProfileIDs) > 0 {
		dst.Factweave.Simulation.AgentProfileIDs = src.Factweave.Simulation.AgentProfileIDs
	}
	if src.Factweave.Simulation.CommunityID != "" {
		dst.Factweave.Simulation.CommunityID = src.Factweave.Simulation.CommunityID
	}
	if len(src.Factweave.Security.MaskedParameterKeys) > 0 {
		dst.Factweave.Security.MaskedParameterKeys = src.Factweave.Security.MaskedParameterKeys
	}
	if len(src.Factweave.AdaptorConfigs) > 0 {
		dst.Factweave.AdaptorConfigs = src.Factweave.AdaptorConfigs
	}
}

func mergeRetry(dst, src *RetryConfig) {
	if src.MaxAttempts > 0 {
		dst.MaxAttempts = src.MaxAttempts
	}
	if src.InitialInterval > 0 {
		dst.InitialInterval = src.InitialInterval
	}
	if src.MaxInterval > 0 {
		dst.MaxInterval = src.MaxInterval
	}
	if src.Factor > 0 {
		dst.Factor = src.Factor
	}
	if src.CircuitBreakerThreshold > 0 {
		dst.CircuitBreakerThreshold = src.CircuitBreakerThreshold
	}
	if src.CircuitBreakerResetInterval > 0 {
		dst.CircuitBreakerResetInterval = src.CircuitBreakerResetInterval
	}
}

// DatabaseConfigFor decodes the adaptor configuration block with the given
// name into a typed DatabaseConfig.
func (c *Config) DatabaseConfigFor(name string) (*DatabaseConfig, error) {
	raw, ok := c.Factweave.AdaptorConfigs[name]
	if !ok {
		return nil, exception.NewOrchestrationErrorf(moduleName, "database adaptor config '%s' not found", name)
	}
	var dbCfg DatabaseConfig
	if err := mapstructure.Decode(raw, &dbCfg); err != nil {
		return nil, exception.NewOrchestrationError(moduleName, "failed to decode database adaptor config", err, false)
	}
	return &dbCfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It initializes the configuration by loading defaults, merging from embedded
// YAML, and applying environment expansion, then sets the global log level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig, NewOsEnvironmentExpander())
	if err != nil {
		return nil, err
	}
	logger.SetLogLevel(cfg.Factweave.System.Logging.Level)
	GlobalConfig = cfg
	return cfg, nil
}

// Module provides the configuration loader to the Fx dependency graph.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
)
