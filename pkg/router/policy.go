package router

// defaultPolicy is the built-in Rego routing policy. An email escalates
// (Phase-2 and Phase-3) when urgency_score >= 2, its highest money value
// reaches the high-value threshold, or a configured keyword appears in its
// text. A chain at or above the completeness threshold runs Phase-2 only.
// Any other email runs neither phase and ends at Phase-1. The workflow
// hint and lifecycle marker are not inputs. Only priority is an "else"
// chain (critical, high, medium, low); run_phase2 and run_phase3 are
// independent rules.
const defaultPolicy = `
package emailpipeline.router

default run_phase2 := false
default run_phase3 := false
default priority := "low"

high_value_money if {
	input.highest_money_minor >= input.high_value_threshold_minor
}

competitive_signal if {
	some kw in input.high_value_keywords
	contains(input.lower_text, kw)
}

escalate if {
	input.urgency_score >= 2
}

escalate if {
	high_value_money
}

escalate if {
	competitive_signal
}

run_phase2 if {
	escalate
}

run_phase2 if {
	input.chain_completeness >= input.chain_complete_threshold
}

run_phase3 if {
	escalate
}

priority := "critical" if {
	high_value_money
	input.urgency_score >= 2
} else := "high" if {
	escalate
} else := "medium" if {
	input.chain_completeness >= input.chain_complete_threshold
} else := "low" if {
	true
}
`
