// Package strategist implements the Phase-3 Strategist (component C5):
// the critical, selectively-invoked model-backed phase that adds
// executive framing, revenue impact, competitive strategy, and
// cross-email pattern signals on top of Phase-1/Phase-2 output. Must not
// redo entity extraction or workflow typing.
package strategist

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
You are a strategic account advisor for a B2B operations team. The
workflow type and entities have already been decided; do not re-derive
them. Respond with a single JSON object and nothing else.
<|user|>
Email subject: %s
Email body: %s
Workflow type: %s
Priority: %s
Phase-2 summary: %s
Phase-2 action items: %v
Chain lifecycle: %s
Chain completeness: %d
Recognized PO/quote/case entities: %v

Respond with exactly this JSON shape:
{
  "executive_summary": "2-3 sentences",
  "revenue_impact": {"immediate_minor": integer, "potential_minor": integer},
  "competitive_strategy": ["..."],
  "cross_email_patterns": ["..."],
  "escalation_needed": true or false
}
<|assistant|>
`

const maxRetries = 3

type strategistResponse struct {
	ExecutiveSummary    string        `json:"executive_summary" validate:"required"`
	RevenueImpact       types.Revenue `json:"revenue_impact"`
	CompetitiveStrategy []string      `json:"competitive_strategy"`
	CrossEmailPatterns  []string      `json:"cross_email_patterns"`
	EscalationNeeded    bool          `json:"escalation_needed"`
}

// Strategist runs Phase-3 against the configured critical LLM backend.
type Strategist struct {
	client    llm.Client
	validate  *validator.Validate
	logger    *logrus.Logger
	timeout   time.Duration
	maxTokens int
}

// NewStrategist builds a Strategist calling client with the given hard
// timeout and max_tokens budget (spec.md §4.6: p50 <= 80s, hard timeout 180s).
func NewStrategist(client llm.Client, timeout time.Duration, maxTokens int, logger *logrus.Logger) *Strategist {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
	}
	return &Strategist{client: client, validate: validator.New(), logger: logger, timeout: timeout, maxTokens: maxTokens}
}

// ModelID returns the identifier of the backing LLM client, recorded on
// PhaseResult.ModelID by the orchestrator.
func (s *Strategist) ModelID() string { return s.client.ModelID() }

// Strategize runs Phase-3 over email given Phase-1/Phase-2 results and
// chain state. Invoked only for emails the Adaptive Router escalates.
func (s *Strategist) Strategize(ctx context.Context, email types.Email, phase1 types.Phase1Result, phase2 types.Phase2Result, ch types.Chain) (types.Phase3Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := fmt.Sprintf(promptTemplate,
		email.Subject, email.BodyText, phase2.WorkflowType, phase2.Priority,
		phase2.Summary, phase2.ActionItems, ch.Lifecycle, ch.Completeness,
		describeKeyEntities(phase2.ValidatedEntities),
	)

	var (
		resp        strategistResponse
		lastErr     error
		temperature = 0.3
	)
	for attempt := 0; attempt < maxRetries; attempt++ {
		start := time.Now()
		raw, err := s.client.Generate(ctx, prompt, llm.Options{MaxTokens: s.maxTokens, Temperature: temperature, Timeout: s.timeout})
		duration := time.Since(start)
		fields := logging.AIFields("strategize", s.client.ModelID()).Duration(duration).Custom("attempt", attempt+1)

		if err != nil {
			s.logger.WithFields(fields.Error(err).ToLogrus()).Warn("phase-3 generate failed")
			return types.Phase3Result{}, pipelineerrors.FailedToWithDetails("run phase-3 strategy", "strategist", email.ID, err)
		}

		resp, lastErr = s.parseResponse(raw)
		if lastErr == nil {
			break
		}
		s.logger.WithFields(fields.Error(lastErr).ToLogrus()).Warn("phase-3 response parse failed, retrying at lower temperature")
		temperature = temperature / 2
	}
	if lastErr != nil {
		return types.Phase3Result{}, lastErr
	}

	return types.Phase3Result{
		ExecutiveSummary:    resp.ExecutiveSummary,
		RevenueImpact:       resp.RevenueImpact,
		CompetitiveStrategy: resp.CompetitiveStrategy,
		CrossEmailPatterns:  resp.CrossEmailPatterns,
		EscalationNeeded:    resp.EscalationNeeded,
	}, nil
}

func (s *Strategist) parseResponse(raw string) (strategistResponse, error) {
	obj, err := parsing.ExtractJSONObject(raw)
	if err != nil {
		return strategistResponse{}, pipelineerrors.ParseError("phase-3 model output", "JSON", err)
	}

	var resp strategistResponse
	if err := json.Unmarshal([]byte(obj), &resp); err != nil {
		return strategistResponse{}, pipelineerrors.ParseError("phase-3 model output", "JSON", err)
	}

	if err := s.validate.Struct(resp); err != nil {
		return strategistResponse{}, pipelineerrors.ValidationError("phase-3 response", err.Error())
	}
	return resp, nil
}

// describeKeyEntities renders the already-validated PO/quote/case values
// for prompt context; Phase-3 reads entities, it never re-extracts them.
func describeKeyEntities(e types.Entities) []string {
	var out []string
	for _, it := range e.PONumbers {
		out = append(out, it.Value)
	}
	for _, it := range e.QuoteNumbers {
		out = append(out, it.Value)
	}
	for _, it := range e.CaseNumbers {
		out = append(out, it.Value)
	}
	return out
}
