package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	_ "embed"

	"go.uber.org/fx"

	"github.com/factweave/factweave/pkg/orchestration/admission"
	config "github.com/factweave/factweave/pkg/orchestration/core/config"
	model "github.com/factweave/factweave/pkg/orchestration/core/model"
	runtimepkg "github.com/factweave/factweave/pkg/orchestration/core/runtime"
	"github.com/factweave/factweave/pkg/orchestration/core/service"
	"github.com/factweave/factweave/pkg/orchestration/engine/batch"
	"github.com/factweave/factweave/pkg/orchestration/engine/population"
	"github.com/factweave/factweave/pkg/orchestration/engine/scan"
	inframetrics "github.com/factweave/factweave/pkg/orchestration/infrastructure/metrics"
	gormrepo "github.com/factweave/factweave/pkg/orchestration/infrastructure/repository/gorm"
	"github.com/factweave/factweave/pkg/orchestration/support/util/logger"
)

// embeddedConfig holds the application YAML compiled into the binary.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

// registerTurnHandler wires the agent-turn workflow into the local runtime.
// The local handler stands in for the real agent pipeline: it acknowledges
// the turn so the population loop can advance turn counters.
func registerTurnHandler(rt *runtimepkg.LocalRuntime) {
	rt.Register(population.TurnWorkflowName, func(ctx context.Context, workflowID string, args json.RawMessage) error {
		logger.Debugf("Agent turn workflow '%s' executed.", workflowID)
		return nil
	})
}

// startSimulation creates a run from the configured simulation defaults and
// drives it to completion, then requests process shutdown.
func startSimulation(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	operator *population.Operator,
	orchestrator *population.Orchestrator,
	cfg *config.Config,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			appCtx, cancel := context.WithCancel(context.Background())
			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				<-sigCh
				logger.Warnf("Shutdown signal received, cancelling simulation.")
				cancel()
			}()

			go func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered in simulation: %v", r)
					}
					if err := shutdowner.Shutdown(); err != nil {
						logger.Errorf("Failed to shutdown application: %v", err)
					}
				}()

				sim := cfg.Factweave.Simulation
				run, err := operator.Start(appCtx, model.SimulationConfig{
					MaxAgents:          sim.MaxAgents,
					TurnCadenceSeconds: sim.TurnCadenceSeconds,
					RemovalRate:        sim.RemovalRate,
					MaxTurnsPerAgent:   sim.MaxTurnsPerAgent,
					AgentProfileIDs:    sim.AgentProfileIDs,
					CommunityID:        sim.CommunityID,
				})
				if err != nil {
					logger.Errorf("Failed to create simulation run: %v", err)
					return
				}

				result, err := orchestrator.Run(appCtx, run.ID)
				if err != nil {
					logger.Errorf("Simulation run '%s' could not be admitted: %v", run.ID, err)
					return
				}
				logger.Infof("Simulation run '%s' finished: status=%s iterations=%d terminalized=%d synthesized=%t",
					result.RunID, result.Status, result.Iterations, result.AgentsTerminalized, result.Synthesized)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Orchestrator shutting down.")
			return nil
		},
	})
}

func main() {
	app := fx.New(
		fx.Supply(config.EmbeddedConfig(embeddedConfig)),

		logger.Module,
		config.Module,
		admission.Module,
		runtimepkg.Module,
		gormrepo.Module,
		inframetrics.Module,
		service.NoopModule,
		batch.Module,
		scan.Module,
		population.Module,

		fx.Invoke(registerTurnHandler),
		fx.Invoke(startSimulation),
	)

	app.Run()
}
