// Package triage implements Phase-1 Triage (component C2): a pure,
// deterministic function run for every email that scores a workflow hint,
// urgency, key phrases, and a lifecycle marker, targeting p99 <= 20ms.
package triage

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opsmail/emailpipeline/pkg/patterns"
	"github.com/opsmail/emailpipeline/pkg/types"
)

// workflowKeywords scores the fixed taxonomy from spec.md §4.2. Order in
// this slice is the tie-break priority: earlier entries win ties.
var workflowKeywords = []struct {
	workflow types.WorkflowType
	phrases  []string
}{
	{types.WorkflowOrderManagement, []string{"purchase order", "new order", "order confirmation", "po#"}},
	{types.WorkflowQuoteProcessing, []string{"quote", "rfq", "pricing request", "need a quote"}},
	{types.WorkflowDealRegistration, []string{"deal registration", "register this deal", "partner deal"}},
	{types.WorkflowApproval, []string{"approval needed", "please approve", "sign off", "awaiting approval"}},
	{types.WorkflowRenewal, []string{"renewal", "contract renewal", "subscription renewal", "expiring"}},
	{types.WorkflowShippingLogistics, []string{"shipment", "tracking #", "logistics", "delivery date", "carrier"}},
	{types.WorkflowVendorManagement, []string{"vendor", "supplier", "procurement"}},
	{types.WorkflowCustomerSupport, []string{"support", "issue", "case#", "cas-", "trouble", "not working"}},
}

var (
	startPhrases      = []string{"need quote", "new order", "inquiry", "rfq", "please provide"}
	progressPhrases   = []string{"working on", "pending", "waiting for", "following up"}
	completionPhrases = []string{"resolved", "shipped", "tracking #", "thank you for your business"}
)

// Triager runs Phase-1 triage over incoming emails.
type Triager struct {
	extractor *patterns.Extractor
	logger    *logrus.Logger
}

// NewTriager builds a Triager. logger may be nil.
func NewTriager(logger *logrus.Logger) *Triager {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
	}
	return &Triager{extractor: patterns.NewExtractor(logger), logger: logger}
}

// Triage runs the deterministic Phase-1 scoring pass over one email.
func (t *Triager) Triage(email types.Email) types.Phase1Result {
	entities := t.extractor.Extract(email)
	text := strings.ToLower(email.Subject + "\n" + email.BodyText)

	urgencyPhrases := patterns.UrgencyPhrasesFound(email.Subject + "\n" + email.BodyText)
	urgencyScore := scoreUrgency(len(urgencyPhrases), entities)

	return types.Phase1Result{
		Entities:        entities,
		WorkflowHint:    classifyWorkflow(text),
		UrgencyScore:    urgencyScore,
		KeyPhrases:      urgencyPhrases,
		LifecycleMarker: classifyLifecycleMarker(text),
		NormalizedText:  text,
	}
}

// classifyWorkflow scores the fixed taxonomy by counting keyword hits,
// breaking ties by declaration order in workflowKeywords.
func classifyWorkflow(lowerText string) types.WorkflowType {
	best := types.WorkflowGeneral
	bestScore := 0
	for _, wk := range workflowKeywords {
		score := 0
		for _, phrase := range wk.phrases {
			if strings.Contains(lowerText, phrase) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = wk.workflow
		}
	}
	return best
}

// classifyLifecycleMarker derives the coarse conversation-position marker
// from fixed phrase lists. Completion takes precedence over progress,
// which takes precedence over start, since later-stage evidence is a
// stronger signal than the presence of an opening phrase.
func classifyLifecycleMarker(lowerText string) types.LifecycleMarker {
	if containsAny(lowerText, completionPhrases) {
		return types.LifecycleMarkerCompletion
	}
	if containsAny(lowerText, progressPhrases) {
		return types.LifecycleMarkerProgress
	}
	if containsAny(lowerText, startPhrases) {
		return types.LifecycleMarkerStart
	}
	return types.LifecycleMarkerNone
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// scoreUrgency produces a 0..3 urgency score from urgency-phrase hits plus
// one if any money value was recognized, capped at 3 per spec.md §4.2.
func scoreUrgency(phraseHits int, entities types.Entities) int {
	score := phraseHits
	if entities.HighestMoneyMinor() > 0 {
		score++
	}
	if score > 3 {
		score = 3
	}
	return score
}
