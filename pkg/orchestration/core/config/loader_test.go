package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factweave/factweave/pkg/orchestration/core/config"
)

func TestNewConfigProvider_DefaultsWhenNoEmbeddedConfig(t *testing.T) {
	cfg, err := config.NewConfigProvider(config.ConfigParams{})
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Factweave.Batch.BatchSize)
	assert.Equal(t, 1000, cfg.Factweave.Population.MaxIterations)
	assert.Equal(t, 15, cfg.Factweave.Simulation.MaxAgents)
	assert.NotEmpty(t, cfg.Factweave.Admission.Pools)
}

func TestNewConfigProvider_EmbeddedYamlOverridesDefaults(t *testing.T) {
	yaml := []byte(`
factweave:
  system:
    logging:
      level: DEBUG
  batch:
    batch_size: 25
    retry:
      max_attempts: 7
  simulation:
    max_agents: 40
    agent_profile_ids:
      - skeptic
      - moderator
`)
	cfg, err := config.NewConfigProvider(config.ConfigParams{EmbeddedConfig: yaml})
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Factweave.System.Logging.Level)
	assert.Equal(t, 25, cfg.Factweave.Batch.BatchSize)
	assert.Equal(t, 7, cfg.Factweave.Batch.Retry.MaxAttempts)
	assert.Equal(t, 40, cfg.Factweave.Simulation.MaxAgents)
	assert.Equal(t, []string{"skeptic", "moderator"}, cfg.Factweave.Simulation.AgentProfileIDs)

	// Untouched sections keep their defaults.
	assert.Equal(t, 1000, cfg.Factweave.Population.MaxIterations)
}

func TestNewConfigProvider_ExpandsEnvironmentPlaceholders(t *testing.T) {
	t.Setenv("FACTWEAVE_TEST_DSN", "file:expanded.db")

	yaml := []byte(`
factweave:
  database:
    metadata:
      driver: sqlite
      dsn: ${FACTWEAVE_TEST_DSN}
`)
	cfg, err := config.NewConfigProvider(config.ConfigParams{EmbeddedConfig: yaml})
	require.NoError(t, err)

	dbCfg, err := cfg.DatabaseConfigFor("metadata")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", dbCfg.Driver)
	assert.Equal(t, "file:expanded.db", dbCfg.DSN)
}

func TestDatabaseConfigFor_UnknownAdaptor(t *testing.T) {
	cfg := config.NewConfig()
	_, err := cfg.DatabaseConfigFor("metadata")
	assert.Error(t, err)
}

func TestNewConfigProvider_RejectsMalformedYaml(t *testing.T) {
	_, err := config.NewConfigProvider(config.ConfigParams{EmbeddedConfig: []byte("factweave: [")})
	assert.Error(t, err)
}
