package parsing

import (
	"strings"
	"testing"
)

func TestExtractJSONObject_PlainJSON(t *testing.T) {
	got, err := ExtractJSONObject(`{"priority":"high","action_items":["call back"]}`)
	if err != nil {
		t.Fatalf("ExtractJSONObject() error = %v", err)
	}
	if !strings.Contains(got, `"priority":"high"`) {
		t.Errorf("got %q, missing expected field", got)
	}
}

func TestExtractJSONObject_FencedMarkdownBlock(t *testing.T) {
	raw := "Here is my analysis:\n```json\n{\"priority\": \"critical\"}\n```\nLet me know if you need more."
	got, err := ExtractJSONObject(raw)
	if err != nil {
		t.Fatalf("ExtractJSONObject() error = %v", err)
	}
	if !strings.Contains(got, `"priority"`) {
		t.Errorf("got %q, missing expected field", got)
	}
}

func TestExtractJSONObject_FencedWithoutLanguageTag(t *testing.T) {
	raw := "```\n{\"priority\": \"low\"}\n```"
	got, err := ExtractJSONObject(raw)
	if err != nil {
		t.Fatalf("ExtractJSONObject() error = %v", err)
	}
	if !strings.Contains(got, `"priority"`) {
		t.Errorf("got %q, missing expected field", got)
	}
}

func TestExtractJSONObject_TrailingProseAfterObject(t *testing.T) {
	raw := `{"priority": "medium", "notes": "see attached"} Thanks for reading!`
	got, err := ExtractJSONObject(raw)
	if err != nil {
		t.Fatalf("ExtractJSONObject() error = %v", err)
	}
	if !strings.HasSuffix(got, "}") {
		t.Errorf("got %q, want trailing prose stripped", got)
	}
}

func TestExtractJSONObject_BracesInsideStringLiteral(t *testing.T) {
	raw := `{"summary": "use the {token} placeholder", "priority": "high"}`
	got, err := ExtractJSONObject(raw)
	if err != nil {
		t.Fatalf("ExtractJSONObject() error = %v", err)
	}
	if !strings.Contains(got, "{token}") {
		t.Errorf("got %q, expected embedded braces preserved", got)
	}
}

func TestExtractJSONObject_NoObjectPresent(t *testing.T) {
	_, err := ExtractJSONObject("I could not find any structured data here.")
	if err == nil {
		t.Fatal("expected an error when no JSON object is present")
	}
}

func TestGet_ReadsNestedField(t *testing.T) {
	json := `{"revenue_impact": {"immediate_minor": 5000}}`
	if got := Get(json, "revenue_impact.immediate_minor").Int(); got != 5000 {
		t.Errorf("Get() = %d, want 5000", got)
	}
}
