package strategist

import (
	"context"
	"testing"
	"time"

	"github.com/opsmail/emailpipeline/pkg/ai/llm"
	"github.com/opsmail/emailpipeline/pkg/types"
)

func TestStrategize_ParsesEscalation(t *testing.T) {
	resp := `{"executive_summary":"customer at risk of churn","revenue_impact":{"immediate_minor":1000000,"potential_minor":5000000},"competitive_strategy":["offer 5% discount"],"cross_email_patterns":["third follow-up this week"],"escalation_needed":true}`
	client := llm.NewFakeClient("critical-model", resp)
	s := NewStrategist(client, time.Second, 1024, nil)

	out, err := s.Strategize(context.Background(), types.Email{ID: "e1"}, types.Phase1Result{}, types.Phase2Result{}, types.Chain{})
	if err != nil {
		t.Fatalf("Strategize() error = %v", err)
	}
	if !out.EscalationNeeded {
		t.Error("expected EscalationNeeded = true")
	}
	if out.RevenueImpact.PotentialMinor != 5000000 {
		t.Errorf("PotentialMinor = %d, want 5000000", out.RevenueImpact.PotentialMinor)
	}
}

func TestStrategize_StripsMarkdownFence(t *testing.T) {
	fenced := "```json\n{\"executive_summary\":\"ok\",\"revenue_impact\":{\"immediate_minor\":0,\"potential_minor\":0},\"competitive_strategy\":[],\"cross_email_patterns\":[],\"escalation_needed\":false}\n```"
	client := llm.NewFakeClient("critical-model", fenced)
	s := NewStrategist(client, time.Second, 1024, nil)

	out, err := s.Strategize(context.Background(), types.Email{}, types.Phase1Result{}, types.Phase2Result{}, types.Chain{})
	if err != nil {
		t.Fatalf("Strategize() error = %v", err)
	}
	if out.ExecutiveSummary != "ok" {
		t.Errorf("ExecutiveSummary = %q, want ok", out.ExecutiveSummary)
	}
}

func TestStrategize_GenerateErrorSurfaces(t *testing.T) {
	client := llm.NewFakeClient("critical-model")
	client.SetError(context.DeadlineExceeded)
	s := NewStrategist(client, time.Second, 1024, nil)

	_, err := s.Strategize(context.Background(), types.Email{ID: "e1"}, types.Phase1Result{}, types.Phase2Result{}, types.Chain{})
	if err == nil {
		t.Fatal("expected an error when the model call fails")
	}
}
