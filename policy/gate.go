package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Gate is the rego action gate. The job runner consults it before every
// driver action; operators can swap the policy content to restrict action
// kinds or tighten caps without a rebuild.
type Gate struct {
	query rego.PreparedEvalQuery
}

// GateInput is the evaluation input for one prospective action.
type GateInput struct {
	Action       string `json:"action"`
	ActionsTaken int    `json:"actions_taken"`
	DailyLimit   int    `json:"daily_limit"`
	Industry     string `json:"industry"`
}

// NewGate compiles a gate from rego policy content.
func NewGate(ctx context.Context, policyContent string) (*Gate, error) {
	r := rego.New(
		rego.Query("data.outreach_policy.decision"),
		rego.Module("outreach_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Gate{query: query}, nil
}

// Evaluate returns "allow" or "block" for the prospective action.
func (g *Gate) Evaluate(ctx context.Context, input GateInput) (string, error) {
	results, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "allow", nil
	}
	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return "allow", nil
}

// DefaultGatePolicy blocks actions past the daily cap and restricts the
// action kinds to the known outreach set.
const DefaultGatePolicy = `
package outreach_policy

import rego.v1

default decision := "allow"

decision := "block" if {
	input.actions_taken >= input.daily_limit
}

decision := "block" if {
	not allowed_action
}

allowed_action if input.action == "connection_note"
allowed_action if input.action == "first_message"
allowed_action if input.action == "follow_up"
allowed_action if input.action == "observe"
allowed_action if input.action == "scrape"
`
