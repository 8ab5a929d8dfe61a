package service

import (
	"go.uber.org/fx"
)

// NoopModule provides the no-op collaborator implementations. Deployments
// with real scoring, promotion, or eventing backends replace these providers
// with their own adaptors.
var NoopModule = fx.Options(
	fx.Provide(
		fx.Annotate(
			func() NoopScoringTrigger { return NoopScoringTrigger{} },
			fx.As(new(ScoringTrigger)),
		),
		fx.Annotate(
			func() NoopPromotionService { return NoopPromotionService{} },
			fx.As(new(PromotionService)),
		),
		fx.Annotate(
			func() StaticContentAvailability { return StaticContentAvailability{Available: true} },
			fx.As(new(ContentAvailability)),
		),
		fx.Annotate(
			func() LocalAgentProvisioner { return LocalAgentProvisioner{} },
			fx.As(new(AgentProvisioner)),
		),
		fx.Annotate(
			func() PassthroughMessageScanner { return PassthroughMessageScanner{} },
			fx.As(new(MessageScanner)),
		),
		fx.Annotate(
			func() NoopEventEmitter { return NoopEventEmitter{} },
			fx.As(new(EventEmitter)),
		),
	),
)
