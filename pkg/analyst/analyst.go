// Package analyst implements the Phase-2 Analyst (component C4): the
// primary model-backed phase that refines entities, assigns workflow type
// and priority, and drafts action items. Runs only for emails the
// Adaptive Router escalates.
package analyst

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/opsmail/emailpipeline/pkg/ai/llm"
	"github.com/opsmail/emailpipeline/pkg/parsing"
	pipelineerrors "github.com/opsmail/emailpipeline/pkg/shared/errors"
	"github.com/opsmail/emailpipeline/pkg/shared/logging"
	"github.com/opsmail/emailpipeline/pkg/types"
)

const promptTemplate = `<|system|>
You are an email analyst for a B2B operations team. Review the triage
output and the email, then respond with a single JSON object and nothing
else. Preserve every entity listed below unless you have a specific reason
to reject it.
<|user|>
Email subject: %s
Email body: %s
Phase-1 workflow hint: %s
Phase-1 urgency score (0-3): %d
Phase-1 key phrases: %v
Phase-1 entities (value, confidence): %v
Chain lifecycle: %s
Chain completeness: %d

Respond with exactly this JSON shape:
{
  "workflow_type": one of order_management|quote_processing|customer_support|shipping_logistics|deal_registration|approval|renewal|vendor_management|general,
  "priority": one of critical|high|medium|low,
  "action_items": [{"task": "...", "owner": "...", "deadline": "...", "priority": "critical|high|medium|low"}],
  "risk_flags": ["..."],
  "rejected_entities": [{"value": "...", "reason": "..."}],
  "summary": "one paragraph, at most 600 characters"
}
<|assistant|>
`

// maxRetries bounds parse-failure recovery per spec.md §4.5/§7: "max 3
// retries; on final failure, record status=failed and proceed with
// Phase-1 result."
const maxRetries = 3

// analystResponse is the wire shape the model is asked to produce; struct
// tags double as validator rules so a malformed response is rejected at
// the boundary rather than silently propagated.
type analystResponse struct {
	WorkflowType     string           `json:"workflow_type" validate:"required"`
	Priority         string           `json:"priority" validate:"required,oneof=critical high medium low"`
	ActionItems      []types.ActionItem `json:"action_items"`
	RiskFlags        []string         `json:"risk_flags"`
	RejectedEntities []types.RejectedEntity `json:"rejected_entities"`
	Summary          string           `json:"summary"`
}

// Analyst runs Phase-2 against an LLM backend.
type Analyst struct {
	client      llm.Client
	validate    *validator.Validate
	logger      *logrus.Logger
	timeout     time.Duration
	maxTokens   int
	policyHours map[types.Priority]int
}

// NewAnalyst builds an Analyst calling client with the given hard timeout
// and max_tokens budget (spec.md §4.5: p50 <= 10s, hard timeout 45s).
// policyHours supplies the SLAPolicy hours table used to populate
// Phase2Result.SLAHours from the model's priority pick.
func NewAnalyst(client llm.Client, timeout time.Duration, maxTokens int, policyHours map[types.Priority]int, logger *logrus.Logger) *Analyst {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
	}
	return &Analyst{client: client, validate: validator.New(), logger: logger, timeout: timeout, maxTokens: maxTokens, policyHours: policyHours}
}

// ModelID returns the identifier of the backing LLM client, recorded on
// PhaseResult.ModelID by the orchestrator.
func (a *Analyst) ModelID() string { return a.client.ModelID() }

// Analyze runs Phase-2 over email given its Phase-1 result and current
// chain state. Must not re-do entity extraction from scratch: it refines
// phase1's entities rather than re-deriving them independently, and must
// preserve every Phase-1 entity with confidence >= types.MinConfidence
// unless the model explicitly rejects it with a reason.
func (a *Analyst) Analyze(ctx context.Context, email types.Email, phase1 types.Phase1Result, ch types.Chain) (types.Phase2Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	prompt := fmt.Sprintf(promptTemplate,
		email.Subject, email.BodyText, phase1.WorkflowHint, phase1.UrgencyScore,
		phase1.KeyPhrases, describeEntities(phase1.Entities), ch.Lifecycle, ch.Completeness,
	)

	var (
		resp       analystResponse
		lastErr    error
		temperature = 0.2
	)
	for attempt := 0; attempt < maxRetries; attempt++ {
		start := time.Now()
		raw, err := a.client.Generate(ctx, prompt, llm.Options{MaxTokens: a.maxTokens, Temperature: temperature, Timeout: a.timeout})
		duration := time.Since(start)
		fields := logging.AIFields("analyze", a.client.ModelID()).Duration(duration).Custom("attempt", attempt+1)

		if err != nil {
			a.logger.WithFields(fields.Error(err).ToLogrus()).Warn("phase-2 generate failed")
			return types.Phase2Result{}, pipelineerrors.FailedToWithDetails("run phase-2 analysis", "analyst", email.ID, err)
		}

		resp, lastErr = a.parseResponse(raw)
		if lastErr == nil {
			break
		}
		a.logger.WithFields(fields.Error(lastErr).ToLogrus()).Warn("phase-2 response parse failed, retrying at lower temperature")
		// Each retry lowers temperature, per spec.md §4.5 "retry generation
		// at lower temperature if parse still fails."
		temperature = temperature / 2
	}
	if lastErr != nil {
		return types.Phase2Result{}, lastErr
	}

	validated, rejected := applyRejections(phase1.Entities, resp.RejectedEntities)
	priority := types.Priority(resp.Priority)

	return types.Phase2Result{
		ValidatedEntities: validated,
		RejectedEntities:  rejected,
		WorkflowType:      types.WorkflowType(resp.WorkflowType),
		Priority:          priority,
		ActionItems:       resp.ActionItems,
		SLAHours:          a.policyHours[priority],
		RiskFlags:         resp.RiskFlags,
		Summary:           truncateSummary(resp.Summary),
	}, nil
}

func (a *Analyst) parseResponse(raw string) (analystResponse, error) {
	obj, err := parsing.ExtractJSONObject(raw)
	if err != nil {
		return analystResponse{}, pipelineerrors.ParseError("phase-2 model output", "JSON", err)
	}

	var resp analystResponse
	if err := json.Unmarshal([]byte(obj), &resp); err != nil {
		return analystResponse{}, pipelineerrors.ParseError("phase-2 model output", "JSON", err)
	}

	if err := a.validate.Struct(resp); err != nil {
		return analystResponse{}, pipelineerrors.ValidationError("phase-2 response", err.Error())
	}
	return resp, nil
}

// describeEntities renders Phase-1 entities as a compact value/confidence
// list for the prompt, so the model has something concrete to preserve or
// reject rather than re-deriving entities from raw text.
func describeEntities(e types.Entities) []string {
	var out []string
	add := func(items []types.EntityItem) {
		for _, it := range items {
			out = append(out, fmt.Sprintf("%s (%.2f)", it.Value, it.Confidence))
		}
	}
	add(e.PONumbers)
	add(e.QuoteNumbers)
	add(e.CaseNumbers)
	add(e.PartNumbers)
	add(e.Dates)
	add(e.Contacts)
	for _, m := range e.MoneyValues {
		out = append(out, fmt.Sprintf("%s (%.2f)", m.Value, m.Confidence))
	}
	return out
}

// applyRejections implements spec.md §4.5's determinism contract: every
// Phase-1 entity with confidence >= types.MinConfidence survives into
// validated unless its value appears in rejected, in which case it is
// dropped from validated and carried into the returned rejection list.
func applyRejections(entities types.Entities, rejected []types.RejectedEntity) (types.Entities, []types.RejectedEntity) {
	reasons := make(map[string]string, len(rejected))
	for _, r := range rejected {
		reasons[r.Value] = r.Reason
	}

	keep := func(items []types.EntityItem) []types.EntityItem {
		var out []types.EntityItem
		for _, it := range items {
			if it.Confidence < types.MinConfidence {
				continue
			}
			if _, isRejected := reasons[it.Value]; isRejected {
				continue
			}
			out = append(out, it)
		}
		return out
	}

	validated := types.Entities{
		PONumbers:    keep(entities.PONumbers),
		QuoteNumbers: keep(entities.QuoteNumbers),
		CaseNumbers:  keep(entities.CaseNumbers),
		PartNumbers:  keep(entities.PartNumbers),
		Dates:        keep(entities.Dates),
		Contacts:     keep(entities.Contacts),
	}
	for _, m := range entities.MoneyValues {
		if m.Confidence < types.MinConfidence {
			continue
		}
		if _, isRejected := reasons[m.Value]; isRejected {
			continue
		}
		validated.MoneyValues = append(validated.MoneyValues, m)
	}

	var effectiveRejections []types.RejectedEntity
	for _, r := range rejected {
		if wasEligible(entities, r.Value) {
			effectiveRejections = append(effectiveRejections, r)
		}
	}

	return validated, effectiveRejections
}

func wasEligible(entities types.Entities, value string) bool {
	check := func(items []types.EntityItem) bool {
		for _, it := range items {
			if it.Value == value && it.Confidence >= types.MinConfidence {
				return true
			}
		}
		return false
	}
	if check(entities.PONumbers) || check(entities.QuoteNumbers) || check(entities.CaseNumbers) ||
		check(entities.PartNumbers) || check(entities.Dates) || check(entities.Contacts) {
		return true
	}
	for _, m := range entities.MoneyValues {
		if m.Value == value && m.Confidence >= types.MinConfidence {
			return true
		}
	}
	return false
}

// truncateSummary enforces spec.md §4.5's "summary (<= 600 chars)" cap.
func truncateSummary(s string) string {
	const maxLen = 600
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
