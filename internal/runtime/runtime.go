// Package runtime is the composition root: it takes a frozen
// internal/config.Config and wires every component (C2-C11) into a running
// Orchestrator, following spec.md §9's rule that no package holds
// module-level mutable state — everything flows through an explicit
// Runtime value built once at startup.
package runtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/opsmail/emailpipeline/internal/config"
	"github.com/opsmail/emailpipeline/pkg/ai/llm"
	"github.com/opsmail/emailpipeline/pkg/analyst"
	"github.com/opsmail/emailpipeline/pkg/chain"
	"github.com/opsmail/emailpipeline/pkg/eventbus"
	"github.com/opsmail/emailpipeline/pkg/health"
	"github.com/opsmail/emailpipeline/pkg/orchestrator"
	"github.com/opsmail/emailpipeline/pkg/router"
	"github.com/opsmail/emailpipeline/pkg/shared/clock"
	"github.com/opsmail/emailpipeline/pkg/sla"
	"github.com/opsmail/emailpipeline/pkg/storage"
	"github.com/opsmail/emailpipeline/pkg/storage/memory"
	"github.com/opsmail/emailpipeline/pkg/storage/postgres"
	"github.com/opsmail/emailpipeline/pkg/strategist"
	"github.com/opsmail/emailpipeline/pkg/triage"
	"github.com/opsmail/emailpipeline/pkg/types"
)

// Runtime bundles every long-lived component the pipeline needs, built
// once from Config and passed around explicitly rather than reached for
// through package-level globals.
type Runtime struct {
	cfg *config.Config

	Logger       *logrus.Logger
	Store        storage.Store
	Bus          *eventbus.Bus
	SLATracker   *sla.Tracker
	HealthServer *health.Server
	Orchestrator *orchestrator.Orchestrator

	closers []func() error
}

// New wires every component named in cfg and returns a Runtime ready to
// Start. It does not start goroutines or listeners itself.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	logger := newLogger(cfg.Logging)

	store, closeStore, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	bus := newEventBus(cfg.EventBus, logger)

	primaryClient, err := newModelClient(ctx, cfg.Model, cfg.Model.PrimaryID, logger)
	if err != nil {
		return nil, fmt.Errorf("build primary model client: %w", err)
	}
	criticalClient, err := newModelClient(ctx, cfg.Model, cfg.Model.CriticalID, logger)
	if err != nil {
		return nil, fmt.Errorf("build critical model client: %w", err)
	}

	slaPolicy := toSLAPolicy(cfg.SLA)

	triager := triage.NewTriager(logger)
	chainAnalyzer := chain.NewAnalyzer()
	rt, err := router.NewRouter(logger)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	phase2Analyst := analyst.NewAnalyst(primaryClient, cfg.Model.TimeoutPrimary(), 1024, slaPolicy.PolicyHours, logger)
	phase3Strategist := strategist.NewStrategist(criticalClient, cfg.Model.TimeoutCritical(), 1536, logger)

	slaTracker := sla.NewTracker(store, bus, slaPolicy, clock.NewReal(), 0, logger)

	orchCfg := orchestrator.Config{
		Phase2Concurrency: cfg.Pipeline.Phase2Concurrency,
		Phase3Concurrency: cfg.Pipeline.Phase3Concurrency,
		QueueCaps: orchestrator.QueueCaps{
			P1:     cfg.Pipeline.QueueCaps.P1,
			Chain:  cfg.Pipeline.QueueCaps.Chain,
			Router: cfg.Pipeline.QueueCaps.Router,
			P2:     cfg.Pipeline.QueueCaps.P2,
			P3:     cfg.Pipeline.QueueCaps.P3,
		},
		Phase2Timeout: cfg.Model.TimeoutPrimary(),
		Phase3Timeout: cfg.Model.TimeoutCritical(),
		Retry: orchestrator.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay(),
			Factor:      cfg.Retry.Factor,
			JitterFrac:  cfg.Retry.JitterFrac,
		},
		SLAPolicy: slaPolicy,
		RoutingThresholds: orchestrator.RoutingThresholds{
			HighValueThresholdMinor: cfg.Money.HighValueThresholdMinor,
			HighValueKeywords:       cfg.Router.HighValueKeywords,
			ChainCompleteThreshold:  cfg.Chain.CompleteThreshold,
		},
	}

	orch := orchestrator.New(orchCfg, orchestrator.Deps{
		Triager:    triager,
		Chains:     chainAnalyzer,
		Router:     newRouterAdapter(rt),
		Analyst:    phase2Analyst,
		Strategist: phase3Strategist,
		Store:      store,
		Bus:        bus,
		Clock:      clock.NewReal(),
		Logger:     logger,
	})

	rtm := &Runtime{
		cfg:          cfg,
		Logger:       logger,
		Store:        store,
		Bus:          bus,
		SLATracker:   slaTracker,
		HealthServer: health.NewServer(":"+cfg.Server.HealthPort, logger),
		Orchestrator: orch,
	}
	if closeStore != nil {
		rtm.closers = append(rtm.closers, closeStore)
	}
	return rtm, nil
}

// Start runs recovery, then launches the health server, SLA tracker, and
// orchestrator. It blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.Orchestrator.Recover(ctx); err != nil {
		return fmt.Errorf("recovery scan: %w", err)
	}

	r.HealthServer.StartAsync()

	errCh := make(chan error, 2)
	go func() { errCh <- r.SLATracker.Run(ctx) }()
	go func() { errCh <- r.Orchestrator.Run(ctx) }()

	<-ctx.Done()
	_ = r.HealthServer.Stop(context.Background())

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases any resources opened by New (e.g. a Postgres pool).
func (r *Runtime) Close() error {
	var firstErr error
	for _, closer := range r.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, func() error, error) {
	switch cfg.Backend {
	case "postgres":
		store, err := postgres.Open(ctx, postgres.Config{DSN: cfg.DSN})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, store.Close, nil
	default:
		return memory.New(), nil, nil
	}
}

func newEventBus(cfg config.EventBusConfig, logger *logrus.Logger) *eventbus.Bus {
	if cfg.RedisAddr == "" {
		return eventbus.NewBus(nil, logger)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return eventbus.NewBus(eventbus.NewRedisCursorStore(client), logger)
}

// newModelClient builds the LLM client for modelID, selecting Anthropic or
// Bedrock by a simple naming convention (Bedrock model IDs are ARNs/
// provider-prefixed, e.g. "anthropic.claude-3-opus-..."), and always wraps
// it with a circuit breaker per spec.md §6's provider-restart tolerance.
func newModelClient(ctx context.Context, cfg config.ModelConfig, modelID string, logger *logrus.Logger) (llm.Client, error) {
	if cfg.BedrockRegion != "" && looksLikeBedrockModel(modelID) {
		bedrock, err := llm.NewBedrockClient(ctx, cfg.BedrockRegion, modelID, logger)
		if err != nil {
			return nil, err
		}
		return llm.NewCircuitBreakingClient(bedrock), nil
	}
	anthropicClient := llm.NewAnthropicClient(cfg.AnthropicAPIKey, modelID, logger)
	return llm.NewCircuitBreakingClient(anthropicClient), nil
}

func looksLikeBedrockModel(modelID string) bool {
	return len(modelID) > 10 && modelID[:10] == "anthropic." || len(modelID) > 7 && modelID[:7] == "amazon."
}

// toSLAPolicy converts the YAML-facing string-keyed policy_hours map into
// the types.Priority-keyed map the rest of the pipeline uses.
func toSLAPolicy(cfg config.SLAConfig) types.SLAPolicy {
	hours := make(map[types.Priority]int, len(cfg.PolicyHours))
	for k, v := range cfg.PolicyHours {
		hours[types.Priority(k)] = v
	}
	return types.SLAPolicy{PolicyHours: hours, AtRiskFraction: cfg.AtRiskFraction}
}
