// Package orchestrator implements the Pipeline Orchestrator (component
// C7): bounded-queue worker pools wiring ingest -> Phase-1 -> chain ->
// router -> Phase-2 -> Phase-3 -> task materialization, per spec.md §4.7.
// Stages are connected entirely by small interfaces (Triager, Router,
// Analyst, Strategist) per spec.md §9's composition-over-inheritance note;
// the orchestrator itself never reaches into model or persistence
// internals beyond these contracts.
package orchestrator

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/opsmail/emailpipeline/pkg/eventbus"
	"github.com/opsmail/emailpipeline/pkg/ingest"
	"github.com/opsmail/emailpipeline/pkg/shared/clock"
	pipelineerrors "github.com/opsmail/emailpipeline/pkg/shared/errors"
	"github.com/opsmail/emailpipeline/pkg/shared/logging"
	"github.com/opsmail/emailpipeline/pkg/storage"
	"github.com/opsmail/emailpipeline/pkg/types"
)

// Triager is the Phase-1 contract (component C2): pure, deterministic,
// run for every email.
type Triager interface {
	Triage(email types.Email) types.Phase1Result
}

// ChainUpdater is the Chain Analyzer contract (component C3): an
// incremental, per-conversation aggregate update.
type ChainUpdater interface {
	UpdateChain(email types.Email, phase1 types.Phase1Result) types.Chain
}

// RoutingDecision mirrors pkg/router.Decision field-for-field, without
// importing the OPA dependency into this package's public surface.
// internal/runtime adapts a *router.Router onto the Router interface below
// by converting between the two.
type RoutingDecision struct {
	RunPhase2 bool
	RunPhase3 bool
	Priority  types.Priority
}

// RoutingThresholds mirrors pkg/router.Thresholds.
type RoutingThresholds struct {
	HighValueThresholdMinor int64
	HighValueKeywords       []string
	ChainCompleteThreshold  int
}

// Router is the Adaptive Router contract (component C6).
type Router interface {
	Decide(ctx context.Context, phase1 types.Phase1Result, ch types.Chain, th RoutingThresholds) (RoutingDecision, error)
}

// Analyst is the Phase-2 contract (component C4).
type Analyst interface {
	Analyze(ctx context.Context, email types.Email, phase1 types.Phase1Result, ch types.Chain) (types.Phase2Result, error)
	ModelID() string
}

// Strategist is the Phase-3 contract (component C5).
type Strategist interface {
	Strategize(ctx context.Context, email types.Email, phase1 types.Phase1Result, phase2 types.Phase2Result, ch types.Chain) (types.Phase3Result, error)
	ModelID() string
}

// EventPublisher is the narrow Event Bus write contract the orchestrator
// needs to emit task.created/task.updated events (component C10).
type EventPublisher interface {
	Publish(ctx context.Context, eventType types.EventType, correlationID string, payload interface{}) error
}

var _ EventPublisher = (*eventbus.Bus)(nil)

// QueueCaps sets the bounded channel capacity between each stage, per
// spec.md §4.7's default capacities.
type QueueCaps struct {
	P1     int
	Chain  int
	Router int
	P2     int
	P3     int
}

// RetryPolicy configures the exponential-backoff retry applied to
// transient Phase-2/Phase-3 failures, per spec.md §4.7/§7 ("base 500ms,
// factor 2, jitter +-20%, max 5 attempts").
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	JitterFrac  float64
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.BaseDelay)
	if p.Factor <= 0 {
		p.Factor = 2.0
	}
	b = retry.WithMaxRetries(uint64(maxInt(p.MaxAttempts-1, 0)), b)
	if p.JitterFrac > 0 {
		b = retry.WithJitterPercent(uint64(p.JitterFrac*100), b)
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Config bundles every tunable the orchestrator reads from
// internal/config, per spec.md §6's configuration table.
type Config struct {
	Phase2Concurrency int
	Phase3Concurrency int
	QueueCaps         QueueCaps
	Phase2Timeout     time.Duration
	Phase3Timeout     time.Duration
	Retry             RetryPolicy
	SendTimeout       time.Duration // queue-send deadline; defaults to 2x Phase2Timeout per spec.md §5
	SLAPolicy         types.SLAPolicy
	RoutingThresholds RoutingThresholds
	Phase3RateLimit   rate.Limit // tokens/sec admitted into the Phase-3 pool
}

func (c Config) withDefaults() Config {
	if c.Phase2Concurrency <= 0 {
		c.Phase2Concurrency = 3
	}
	if c.Phase3Concurrency <= 0 {
		c.Phase3Concurrency = 1
	}
	if c.QueueCaps.P1 <= 0 {
		c.QueueCaps.P1 = 1024
	}
	if c.QueueCaps.Chain <= 0 {
		c.QueueCaps.Chain = 512
	}
	if c.QueueCaps.Router <= 0 {
		c.QueueCaps.Router = 256
	}
	if c.QueueCaps.P2 <= 0 {
		c.QueueCaps.P2 = 256
	}
	if c.QueueCaps.P3 <= 0 {
		c.QueueCaps.P3 = 64
	}
	if c.Phase2Timeout <= 0 {
		c.Phase2Timeout = 45 * time.Second
	}
	if c.Phase3Timeout <= 0 {
		c.Phase3Timeout = 180 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 2 * c.Phase2Timeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 500 * time.Millisecond
	}
	if c.Retry.Factor <= 0 {
		c.Retry.Factor = 2.0
	}
	if c.Retry.JitterFrac <= 0 {
		c.Retry.JitterFrac = 0.2
	}
	if c.Phase3RateLimit <= 0 {
		c.Phase3RateLimit = rate.Limit(2)
	}
	return c
}

// item carries one email through the pipeline, accumulating each stage's
// output; only non-nil fields for completed stages are populated.
type item struct {
	email    types.Email
	phase1   types.Phase1Result
	chain    types.Chain
	decision RoutingDecision
	phase2   *types.Phase2Result
}

// Orchestrator wires the bounded worker pools described in spec.md §4.7.
// Zero value is not usable; construct with New.
type Orchestrator struct {
	cfg Config

	triager    Triager
	chains     ChainUpdater
	router     Router
	analyst    Analyst
	strategist Strategist
	store      storage.Store
	bus        EventPublisher
	clk        clock.Clock
	logger     *logrus.Logger

	p1Queue     chan types.Email
	chainQueue  chan item
	routerQueue chan item
	p2Queue     chan item
	p3Queue     chan item

	p2Sem     *semaphore.Weighted
	p3Sem     *semaphore.Weighted
	p3Limiter *rate.Limiter
	p3Paused  atomic.Bool

	inFlight sync.Map // email_id -> struct{}, enforces §5's per-email single-phase-at-a-time rule

	validator *ingest.Validator // ingestion-boundary check, spec.md §7 ValidationReject
}

// New builds an Orchestrator. Triager, Chains, Router, Analyst and Store
// must be non-nil. Strategist may be nil only if the router is configured
// to never set RunPhase3 (callers wiring Phase-3 routing must supply one).
// A nil Bus means no task events are published, a nil Clock defaults to
// the real clock, and a nil Logger to one that discards everything below
// fatal.
type Deps struct {
	Triager    Triager
	Chains     ChainUpdater
	Router     Router
	Analyst    Analyst
	Strategist Strategist
	Store      storage.Store
	Bus        EventPublisher
	Clock      clock.Clock
	Logger     *logrus.Logger
}

func New(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.NewReal()
	}
	return &Orchestrator{
		cfg:         cfg,
		triager:     deps.Triager,
		chains:      deps.Chains,
		router:      deps.Router,
		analyst:     deps.Analyst,
		strategist:  deps.Strategist,
		store:       deps.Store,
		bus:         deps.Bus,
		clk:         clk,
		logger:      logger,
		p1Queue:     make(chan types.Email, cfg.QueueCaps.P1),
		chainQueue:  make(chan item, cfg.QueueCaps.Chain),
		routerQueue: make(chan item, cfg.QueueCaps.Router),
		p2Queue:     make(chan item, cfg.QueueCaps.P2),
		p3Queue:     make(chan item, cfg.QueueCaps.P3),
		p2Sem:       semaphore.NewWeighted(int64(cfg.Phase2Concurrency)),
		p3Sem:       semaphore.NewWeighted(int64(cfg.Phase3Concurrency)),
		p3Limiter:   rate.NewLimiter(cfg.Phase3RateLimit, 1),
		validator:   ingest.NewValidator(),
	}
}

// Ingest accepts one raw email from the external ingest adapter's
// Next/OnEmail contract (spec.md §6), validates it at the ingestion
// boundary, persists it, and enqueues it for Phase-1. It blocks
// (observing ctx) if the Phase-1 queue is full beyond cfg.SendTimeout,
// surfacing a ResourceExhaustion-class error rather than ever dropping
// the email silently (spec.md §4.7/§7/§8 backpressure property).
//
// An email failing validation (missing id/message_id/sender_email, a
// malformed sender address, or a zero received_at) is rejected outright:
// per spec.md §7's ValidationReject kind, it is never retried, never
// persisted, and never reaches Phase-1.
func (o *Orchestrator) Ingest(ctx context.Context, email types.Email) error {
	if err := o.validator.Validate(email); err != nil {
		o.logger.WithFields(logging.WorkflowFields("ingest_validation", email.ID).Error(err).ToLogrus()).
			Warn("rejecting email at ingestion boundary, no downstream work")
		return err
	}

	if err := o.store.PutEmail(ctx, email); err != nil {
		return pipelineerrors.FailedToWithDetails("ingest email", "orchestrator", email.ID, err)
	}

	timer := time.NewTimer(o.cfg.SendTimeout)
	defer timer.Stop()
	select {
	case o.p1Queue <- email:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return pipelineerrors.FailedToWithDetails("enqueue for phase-1", "orchestrator", email.ID,
			pipelineerrors.TimeoutError("sending to phase-1 queue", o.cfg.SendTimeout.String()))
	}
}

// Run launches every stage's worker pool and blocks until ctx is
// cancelled, then drains Phase-1/chain/router synchronously, lets
// in-flight Phase-2/3 calls finish up to their hard timeout, and returns.
// Matches the graceful-shutdown contract in spec.md §5.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Each queue is closed once every stage sending into it has exited, so
	// the downstream workers' range loops end and g.Wait can return.
	var p1Workers, p2Workers sync.WaitGroup
	for i := 0; i < phase1Workers(); i++ {
		p1Workers.Add(1)
		g.Go(func() error { defer p1Workers.Done(); return o.runPhase1(gctx) })
	}
	g.Go(func() error { p1Workers.Wait(); close(o.chainQueue); return nil })
	g.Go(func() error { defer close(o.routerQueue); return o.runChain(gctx) })
	g.Go(func() error { defer close(o.p2Queue); return o.runRouter(gctx) })
	g.Go(func() error { return o.runThrottleMonitor(gctx) })
	for i := 0; i < o.cfg.Phase2Concurrency; i++ {
		p2Workers.Add(1)
		g.Go(func() error { defer p2Workers.Done(); return o.runPhase2(gctx) })
	}
	g.Go(func() error { p2Workers.Wait(); close(o.p3Queue); return nil })
	for i := 0; i < o.cfg.Phase3Concurrency; i++ {
		g.Go(func() error { return o.runPhase3(gctx) })
	}

	<-gctx.Done()
	o.logger.WithFields(logging.NewFields().Component("orchestrator").Operation("shutdown").ToLogrus()).
		Info("shutdown signal received, draining in-flight work")

	close(o.p1Queue)
	return g.Wait()
}

// clock returns the orchestrator's time source (real by default; tests
// inject clock.Fake via Deps.Clock for deterministic SLA stamping).
func (o *Orchestrator) clock() clock.Clock {
	return o.clk
}

// phase1Workers sizes the cheap, CPU-bound Phase-1 pool to the host's
// core count, per spec.md §5 ("Phase-1 workers are CPU-bound ... and
// scale with cores").
func phase1Workers() int {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return n
}
