// Package chain implements the Conversation-Chain Completeness Engine
// (component C3): an incrementally-updated aggregate keyed by
// conversation_id, scoring completeness 0-100 and deriving a lifecycle
// state, per spec.md §4.3.
package chain

import (
	"sort"
	"sync"
	"time"

	"github.com/opsmail/emailpipeline/pkg/types"
)

const shardCount = 32

// shard guards one slice of the conversation keyspace so unrelated chains
// never contend on the same mutex, while updates to the same chain_id are
// still fully serialized.
type shard struct {
	mu     sync.Mutex
	chains map[string]*chainState
}

type chainState struct {
	chain              types.Chain
	emails             []types.Email
	markers            []types.LifecycleMarker
	entityValuesSeen   map[string]int
}

// Analyzer maintains chains across concurrent updates from multiple
// triage workers, keyed by conversation (or synthetic fallback).
type Analyzer struct {
	shards [shardCount]*shard
}

// NewAnalyzer builds an empty Analyzer.
func NewAnalyzer() *Analyzer {
	a := &Analyzer{}
	for i := range a.shards {
		a.shards[i] = &shard{chains: make(map[string]*chainState)}
	}
	return a
}

func (a *Analyzer) shardFor(key string) *shard {
	h := fnv32(key)
	return a.shards[h%shardCount]
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// UpdateChain folds one email and its Phase-1 result into the chain keyed
// by email.ConversationKey(), recomputing completeness and lifecycle.
func (a *Analyzer) UpdateChain(email types.Email, phase1 types.Phase1Result) types.Chain {
	key := email.ConversationKey()
	sh := a.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, exists := sh.chains[key]
	if !exists {
		st = &chainState{
			chain:            types.Chain{ChainID: key},
			entityValuesSeen: make(map[string]int),
		}
		sh.chains[key] = st
	}

	st.emails = append(st.emails, email)
	st.markers = append(st.markers, phase1.LifecycleMarker)
	recordEntityContinuity(st.entityValuesSeen, phase1.Entities)

	sort.SliceStable(st.emails, func(i, j int) bool {
		return st.emails[i].ReceivedAt.Before(st.emails[j].ReceivedAt)
	})

	emailIDs := make([]string, len(st.emails))
	for i, e := range st.emails {
		emailIDs[i] = e.ID
	}

	score := completenessScore(st)
	lifecycle := types.LifecycleForCompleteness(score)
	if len(st.emails) == 1 && !hasAnyMarker(st.markers) {
		lifecycle = types.LifecycleOrphan
	}

	st.chain = types.Chain{
		ChainID:      key,
		EmailIDs:     emailIDs,
		Completeness: score,
		Lifecycle:    lifecycle,
		LastUpdated:  time.Now().UTC(),
	}
	return st.chain
}

// Get returns the current chain state for key, if any has been recorded.
func (a *Analyzer) Get(key string) (types.Chain, bool) {
	sh := a.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.chains[key]
	if !ok {
		return types.Chain{}, false
	}
	return st.chain, true
}

func hasAnyMarker(markers []types.LifecycleMarker) bool {
	for _, m := range markers {
		if m != types.LifecycleMarkerNone {
			return true
		}
	}
	return false
}

func recordEntityContinuity(seen map[string]int, e types.Entities) {
	for _, item := range e.PONumbers {
		seen[item.Value]++
	}
	for _, item := range e.QuoteNumbers {
		seen[item.Value]++
	}
	for _, item := range e.CaseNumbers {
		seen[item.Value]++
	}
}

// completenessScore implements the four weighted buckets from spec.md
// §4.3: progression (30), entity continuity (20), resolution indicators
// (40), chain characteristics (10).
func completenessScore(st *chainState) int {
	score := 0
	score += progressionScore(st.markers)
	score += entityContinuityScore(st.entityValuesSeen)
	score += resolutionScore(st.markers)
	score += chainCharacteristicsScore(st.emails)
	if score > 100 {
		score = 100
	}
	return score
}

func progressionScore(markers []types.LifecycleMarker) int {
	var sawStart, sawProgress, sawCompletion bool
	for _, m := range markers {
		switch m {
		case types.LifecycleMarkerStart:
			sawStart = true
		case types.LifecycleMarkerProgress:
			sawProgress = true
		case types.LifecycleMarkerCompletion:
			sawCompletion = true
		}
	}
	score := 0
	if sawStart {
		score += 10
	}
	if sawProgress {
		score += 10
	}
	if sawCompletion {
		score += 10
	}
	return score
}

// entityContinuityScore awards 20 when at least one PO/quote/case value
// recurs across 2 or more messages in the chain.
func entityContinuityScore(seen map[string]int) int {
	for _, count := range seen {
		if count >= 2 {
			return 20
		}
	}
	return 0
}

// resolutionScore awards up to 40 for explicit resolution evidence: the
// completion marker is the strongest signal (40); absent that, a partial
// credit of 20 is given once progress evidence is also present, reflecting
// that resolution is imminent but not yet confirmed.
func resolutionScore(markers []types.LifecycleMarker) int {
	var sawCompletion, sawProgress bool
	for _, m := range markers {
		if m == types.LifecycleMarkerCompletion {
			sawCompletion = true
		}
		if m == types.LifecycleMarkerProgress {
			sawProgress = true
		}
	}
	if sawCompletion {
		return 40
	}
	if sawProgress {
		return 20
	}
	return 0
}

// chainCharacteristicsScore awards 10 when the chain has >=3 messages with
// monotonically increasing timestamps (st.emails is kept sorted, so the
// length check alone suffices once duplicate-timestamp chains are excluded).
func chainCharacteristicsScore(emails []types.Email) int {
	if len(emails) < 3 {
		return 0
	}
	for i := 1; i < len(emails); i++ {
		if !emails[i].ReceivedAt.After(emails[i-1].ReceivedAt) {
			return 0
		}
	}
	return 10
}
