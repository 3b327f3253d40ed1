// Package patterns implements the deterministic entity and pattern library
// (component C1): regex/heuristic recognition of PO numbers, quote numbers,
// case numbers, part numbers, money, dates, and urgency phrases.
package patterns

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opsmail/emailpipeline/pkg/types"
)

// Extractor recognizes structured business entities in email text. It is
// deterministic and side-effect-free, per spec.md §4.1.
type Extractor struct {
	logger *logrus.Logger
}

// NewExtractor builds an Extractor. logger may be nil, in which case a
// logger with output discarded is used.
func NewExtractor(logger *logrus.Logger) *Extractor {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
	}
	return &Extractor{logger: logger}
}

var (
	poNumberRe = regexp.MustCompile(`(?i)\b(?:PO#|P\.O\.|SO#|BO#|LYPO#)\s*([A-Z0-9-]{4,})\b|\b(\d{6,})\b`)
	quoteRe    = regexp.MustCompile(`(?i)\b(?:Q-(\d{4,})|FTQ-(\d{6,})|Quote\s*#\s*([A-Z0-9-]{3,}))\b`)
	caseRe     = regexp.MustCompile(`(?i)\b(?:CAS-([A-Z0-9-]{4,})|case\s*#\s*([A-Z0-9-]{3,}))\b`)
	partRe     = regexp.MustCompile(`(?i)\b([A-Z]{2,6}[-#][A-Z0-9]{3,})\b`)
	moneyRe    = regexp.MustCompile(`(?i)(?:\$|USD\s?)\s?([0-9][0-9,]*(?:\.[0-9]{2})?)\s?(?:USD)?|([0-9][0-9,]*(?:\.[0-9]{2})?)\s?(?:USD|EUR|GBP)\b`)
	isoDateRe  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	usDateRe   = regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{2,4})\b`)
	euDateRe   = regexp.MustCompile(`\b(\d{1,2}\.\d{1,2}\.\d{2,4})\b`)

	relativeDatePhrases = []string{"by friday", "eod", "end of day", "by monday", "by tomorrow", "by end of week"}

	urgencyPhrases = []string{"urgent", "asap", "by eod", "competitor"}
	emailRe        = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
)

// Extract recognizes every entity kind in an email's subject and body,
// dropping anything below types.MinConfidence.
func (x *Extractor) Extract(email types.Email) types.Entities {
	text := email.Subject + "\n" + email.BodyText

	ent := types.Entities{
		PONumbers:    x.matchWithGroups(poNumberRe, text),
		QuoteNumbers: x.matchWithGroups(quoteRe, text),
		CaseNumbers:  x.matchWithGroups(caseRe, text),
		PartNumbers:  x.matchLoose(partRe, text),
		MoneyValues:  x.extractMoney(text),
		Dates:        x.extractDates(text),
		Contacts:     x.extractContacts(text),
	}
	return x.dropLowConfidence(ent)
}

// matchWithGroups treats any non-empty capture group as an exact-format
// match (confidence 0.95); a bare digit-run fallback (e.g. PO numbers with
// no prefix) is scored as heuristic (0.7).
func (x *Extractor) matchWithGroups(re *regexp.Regexp, text string) []types.EntityItem {
	var out []types.EntityItem
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		value, confidence := firstNonEmptyGroup(m)
		if value == "" {
			continue
		}
		out = append(out, types.EntityItem{Value: value, Confidence: confidence, SourcePhase: types.SourcePhase1})
	}
	return out
}

func firstNonEmptyGroup(m []string) (string, float64) {
	// m[0] is the whole match; m[1] is the prefixed/exact group, subsequent
	// groups are alternate exact forms, and a trailing bare digit-run group
	// (PO numbers), whose capture is the whole match with no prefix, is
	// heuristic rather than exact.
	for i := 1; i < len(m); i++ {
		if m[i] == "" {
			continue
		}
		confidence := types.ConfidenceExact
		if i == len(m)-1 && len(m) > 2 && m[i] == m[0] {
			confidence = types.ConfidenceHeuristic
		}
		return strings.TrimSpace(m[i]), confidence
	}
	if m[0] != "" {
		return strings.TrimSpace(m[0]), types.ConfidenceHeuristic
	}
	return "", 0
}

// matchLoose scores every match as a loose match (part-number SKUs have no
// canonical format, so they are never treated as exact).
func (x *Extractor) matchLoose(re *regexp.Regexp, text string) []types.EntityItem {
	var out []types.EntityItem
	for _, m := range re.FindAllString(text, -1) {
		out = append(out, types.EntityItem{Value: m, Confidence: types.ConfidenceLoose, SourcePhase: types.SourcePhase1})
	}
	return out
}

func (x *Extractor) extractMoney(text string) []types.MoneyValue {
	var out []types.MoneyValue
	for _, m := range moneyRe.FindAllStringSubmatch(text, -1) {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if raw == "" {
			continue
		}
		normalized := strings.ReplaceAll(raw, ",", "")
		dollars, err := strconv.ParseFloat(normalized, 64)
		if err != nil {
			continue
		}
		out = append(out, types.MoneyValue{
			EntityItem: types.EntityItem{Value: raw, Confidence: types.ConfidenceExact, SourcePhase: types.SourcePhase1},
			MinorUnits: int64(dollars * 100),
			Currency:   "USD",
		})
	}
	return out
}

func (x *Extractor) extractDates(text string) []types.EntityItem {
	var out []types.EntityItem
	for _, re := range []*regexp.Regexp{isoDateRe, usDateRe, euDateRe} {
		for _, m := range re.FindAllString(text, -1) {
			out = append(out, types.EntityItem{Value: m, Confidence: types.ConfidenceExact, SourcePhase: types.SourcePhase1})
		}
	}
	lower := strings.ToLower(text)
	for _, phrase := range relativeDatePhrases {
		if strings.Contains(lower, phrase) {
			out = append(out, types.EntityItem{Value: phrase, Confidence: types.ConfidenceHeuristic, SourcePhase: types.SourcePhase1})
		}
	}
	return out
}

func (x *Extractor) extractContacts(text string) []types.EntityItem {
	var out []types.EntityItem
	for _, m := range emailRe.FindAllString(text, -1) {
		out = append(out, types.EntityItem{Value: m, Confidence: types.ConfidenceExact, SourcePhase: types.SourcePhase1})
	}
	return out
}

func (x *Extractor) dropLowConfidence(e types.Entities) types.Entities {
	e.PONumbers = filterConfident(e.PONumbers)
	e.QuoteNumbers = filterConfident(e.QuoteNumbers)
	e.CaseNumbers = filterConfident(e.CaseNumbers)
	e.PartNumbers = filterConfident(e.PartNumbers)
	e.Dates = filterConfident(e.Dates)
	e.Contacts = filterConfident(e.Contacts)

	var money []types.MoneyValue
	for _, m := range e.MoneyValues {
		if m.Confidence >= types.MinConfidence {
			money = append(money, m)
		}
	}
	e.MoneyValues = money
	return e
}

func filterConfident(items []types.EntityItem) []types.EntityItem {
	var out []types.EntityItem
	for _, it := range items {
		if it.Confidence >= types.MinConfidence {
			out = append(out, it)
		}
	}
	return out
}

// UrgencyPhrasesFound returns the urgency-indicating phrases present in
// text, used by pkg/triage to compute urgency_score.
func UrgencyPhrasesFound(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, p := range urgencyPhrases {
		if strings.Contains(lower, p) {
			found = append(found, p)
		}
	}
	return found
}
