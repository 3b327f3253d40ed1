package chain

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/opsmail/emailpipeline/pkg/types"
)

func email(id, conv string, at time.Time) types.Email {
	return types.Email{ID: id, ConversationID: conv, ReceivedAt: at}
}

func TestAnalyzer_UpdateChain_SingleEmailNoMarkersIsOrphan(t *testing.T) {
	a := NewAnalyzer()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got := a.UpdateChain(email("e1", "conv-1", base), types.Phase1Result{LifecycleMarker: types.LifecycleMarkerNone})
	if got.Lifecycle != types.LifecycleOrphan {
		t.Errorf("Lifecycle = %q, want orphan", got.Lifecycle)
	}
}

func TestAnalyzer_UpdateChain_AccumulatesAcrossCalls(t *testing.T) {
	a := NewAnalyzer()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a.UpdateChain(email("e1", "conv-2", base), types.Phase1Result{LifecycleMarker: types.LifecycleMarkerStart})
	a.UpdateChain(email("e2", "conv-2", base.Add(time.Hour)), types.Phase1Result{LifecycleMarker: types.LifecycleMarkerProgress})
	got := a.UpdateChain(email("e3", "conv-2", base.Add(2*time.Hour)), types.Phase1Result{LifecycleMarker: types.LifecycleMarkerCompletion})

	if len(got.EmailIDs) != 3 {
		t.Fatalf("EmailIDs = %v, want 3 entries", got.EmailIDs)
	}
	if got.EmailIDs[0] != "e1" || got.EmailIDs[2] != "e3" {
		t.Errorf("EmailIDs not time-ordered: %v", got.EmailIDs)
	}
	if got.Lifecycle != types.LifecycleCompleted {
		t.Errorf("Lifecycle = %q, want completed once start+progress+completion+3 msgs all present", got.Lifecycle)
	}
	if got.Completeness < 70 {
		t.Errorf("Completeness = %d, want >=70 for a fully progressed chain", got.Completeness)
	}
}

func TestAnalyzer_UpdateChain_EntityContinuityRequiresRecurrence(t *testing.T) {
	a := NewAnalyzer()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	poEntities := types.Entities{PONumbers: []types.EntityItem{{Value: "PO#1", Confidence: 0.95}}}

	a.UpdateChain(email("e1", "conv-3", base), types.Phase1Result{Entities: poEntities, LifecycleMarker: types.LifecycleMarkerStart})
	got := a.UpdateChain(email("e2", "conv-3", base.Add(time.Hour)), types.Phase1Result{Entities: poEntities, LifecycleMarker: types.LifecycleMarkerProgress})

	// Both emails reference PO#1, so continuity credit (20) should apply.
	noContinuity := a.UpdateChain(email("e0", "conv-4", base), types.Phase1Result{LifecycleMarker: types.LifecycleMarkerStart})
	if got.Completeness <= noContinuity.Completeness {
		t.Errorf("expected entity-continuity chain to score higher: with=%d without=%d", got.Completeness, noContinuity.Completeness)
	}
}

func TestAnalyzer_Get_ReturnsRecordedChain(t *testing.T) {
	a := NewAnalyzer()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.UpdateChain(email("e1", "conv-5", base), types.Phase1Result{LifecycleMarker: types.LifecycleMarkerStart})

	got, ok := a.Get("conv-5")
	if !ok {
		t.Fatal("expected chain conv-5 to be recorded")
	}
	if len(got.EmailIDs) != 1 {
		t.Errorf("EmailIDs = %v, want 1 entry", got.EmailIDs)
	}
}

func TestAnalyzer_Get_UnknownKey(t *testing.T) {
	a := NewAnalyzer()
	if _, ok := a.Get("nonexistent"); ok {
		t.Error("expected unknown key to return ok=false")
	}
}

// TestCompletenessDistribution is the statistical property test required by
// spec.md §8: regression if more than 40% of synthetic chains land on
// exactly 0 or exactly 100 completeness.
func TestCompletenessDistribution(t *testing.T) {
	const sampleSize = 1000
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	extremeCount := 0
	for i := 0; i < sampleSize; i++ {
		a := NewAnalyzer()
		convID := fmt.Sprintf("synthetic-%d", i)
		numMessages := rng.Intn(6) + 1 // 1..6 messages

		markers := []types.LifecycleMarker{
			types.LifecycleMarkerNone, types.LifecycleMarkerStart,
			types.LifecycleMarkerProgress, types.LifecycleMarkerCompletion,
		}

		var last types.Chain
		for m := 0; m < numMessages; m++ {
			marker := markers[rng.Intn(len(markers))]
			var ents types.Entities
			if rng.Float64() < 0.4 {
				ents = types.Entities{PONumbers: []types.EntityItem{{Value: "PO#SHARED", Confidence: 0.95}}}
			}
			last = a.UpdateChain(
				email(fmt.Sprintf("e-%d-%d", i, m), convID, base.Add(time.Duration(m)*time.Hour)),
				types.Phase1Result{LifecycleMarker: marker, Entities: ents},
			)
		}

		if last.Completeness == 0 || last.Completeness == 100 {
			extremeCount++
		}
	}

	fraction := float64(extremeCount) / float64(sampleSize)
	if fraction > 0.40 {
		t.Errorf("completeness distribution too concentrated at extremes: %.1f%% of %d chains scored exactly 0 or 100, want <=40%%", fraction*100, sampleSize)
	}
}

func TestChainCharacteristicsScore_RequiresMonotonicTimestamps(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	emails := []types.Email{
		email("e1", "c", base),
		email("e2", "c", base.Add(time.Hour)),
		email("e3", "c", base), // out of order / duplicate timestamp
	}
	if got := chainCharacteristicsScore(emails); got != 0 {
		t.Errorf("chainCharacteristicsScore with non-monotonic timestamps = %d, want 0", got)
	}
}
