// Package router implements the Adaptive Router (component C6): an
// ordered-rule decision over (Phase1Result, Chain) that selects which of
// Phase-2/Phase-3 run and assigns a priority class, evaluated as a Rego
// policy so operators can retune routing without a redeploy.
package router

import (
	"context"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/sirupsen/logrus"

	"github.com/opsmail/emailpipeline/pkg/shared/errors"
	"github.com/opsmail/emailpipeline/pkg/types"
)

// Decision is the router's output: which phases to run and the assigned
// priority class.
type Decision struct {
	RunPhase2 bool
	RunPhase3 bool
	Priority  types.Priority
}

// Thresholds carries the tunable inputs the default policy (and any
// operator-supplied replacement) reads from input, sourced from
// internal/config rather than hardcoded, per spec.md §9 Open Questions.
type Thresholds struct {
	HighValueThresholdMinor int64
	HighValueKeywords       []string
	ChainCompleteThreshold  int
}

// Router evaluates the adaptive routing policy against Phase-1 and chain
// state. The policy itself is a hot-swappable Rego module.
type Router struct {
	logger  *logrus.Logger
	prepped rego.PreparedEvalQuery
}

// NewRouter builds a Router with the built-in default policy
// (defaultPolicy) loaded.
func NewRouter(logger *logrus.Logger) (*Router, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
	}
	r := &Router{logger: logger}
	if err := r.LoadPolicy(defaultPolicy); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadPolicy compiles a new Rego module and swaps it in, validating
// syntax before replacing the prepared query so a bad operator edit never
// takes down in-flight routing. The swap is a plain field assignment and
// is not synchronized with concurrent Decide calls.
func (r *Router) LoadPolicy(policySource string) error {
	ctx := context.Background()
	prepped, err := rego.New(
		rego.Query("data.emailpipeline.router"),
		rego.Module("policy.rego", policySource),
	).PrepareForEval(ctx)
	if err != nil {
		return errors.FailedToWithDetails("load routing policy", "router", "policy.rego", err)
	}
	r.prepped = prepped
	return nil
}

// Decide evaluates the current policy against phase1 and chain, returning
// which phases to run and the assigned priority.
func (r *Router) Decide(ctx context.Context, phase1 types.Phase1Result, ch types.Chain, th Thresholds) (Decision, error) {
	input := map[string]interface{}{
		"urgency_score":              phase1.UrgencyScore,
		"highest_money_minor":        phase1.Entities.HighestMoneyMinor(),
		"high_value_threshold_minor": th.HighValueThresholdMinor,
		"high_value_keywords":        th.HighValueKeywords,
		"lower_text":                 lowerText(phase1),
		"chain_completeness":         ch.Completeness,
		"chain_complete_threshold":   th.ChainCompleteThreshold,
	}

	results, err := r.prepped.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, errors.FailedToWithDetails("evaluate routing policy", "router", "", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, errors.FailedTo("evaluate routing policy", nil)
	}

	decision, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, errors.FailedTo("parse routing policy result", nil)
	}

	return Decision{
		RunPhase2: boolField(decision, "run_phase2"),
		RunPhase3: boolField(decision, "run_phase3"),
		Priority:  types.Priority(stringField(decision, "priority", string(types.PriorityLow))),
	}, nil
}

// lowerText returns the lowercased subject+body text phase1 was triaged
// from, so the policy's keyword rules can match any operator-configured
// keyword (router.high_value_keywords) rather than only the fixed
// urgency-phrase list KeyPhrases is drawn from. Falls back to KeyPhrases
// for Phase1Results persisted before NormalizedText existed.
func lowerText(phase1 types.Phase1Result) string {
	if phase1.NormalizedText != "" {
		return phase1.NormalizedText
	}
	return strings.ToLower(strings.Join(phase1.KeyPhrases, " "))
}

func boolField(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func stringField(m map[string]interface{}, key, fallback string) string {
	v, ok := m[key].(string)
	if !ok || v == "" {
		return fallback
	}
	return v
}
