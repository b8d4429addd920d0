package remediation

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/specdesk/specdesk/internal/domain"
)

// Decision is the gate's verdict on dispatching a resolved action.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionRequireApproval Decision = "require_approval"
	DecisionBlock           Decision = "block"
)

// Gate evaluates dispatch policy for resolved remediation actions.
type Gate struct {
	query rego.PreparedEvalQuery
}

// NewGate compiles the given rego policy into a dispatch gate.
func NewGate(ctx context.Context, policyContent string) (*Gate, error) {
	r := rego.New(
		rego.Query("data.remediation_policy.decision"),
		rego.Module("remediation_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare remediation policy: %w", err)
	}

	return &Gate{query: query}, nil
}

// Evaluate decides whether a resolved action may be dispatched without
// human sign-off. Input covers the issue severity, the effective action,
// and whether the resolver substituted it for the requested one.
func (g *Gate) Evaluate(ctx context.Context, issue domain.Issue, result domain.RemediationResult) (Decision, error) {
	input := map[string]interface{}{
		"severity":         string(issue.Severity),
		"effective_action": string(result.EffectiveAction),
		"original_action":  string(result.OriginalAction),
		"upgraded":         result.Upgraded,
	}

	results, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("evaluate remediation policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}

	val, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("remediation policy returned non-string decision %T", results[0].Expressions[0].Value)
	}

	switch Decision(val) {
	case DecisionAllow, DecisionRequireApproval, DecisionBlock:
		return Decision(val), nil
	default:
		return "", fmt.Errorf("remediation policy returned unknown decision %q", val)
	}
}

// DefaultPolicy is the default dispatch policy. An auto-upgrade quietly
// turns a cheap targeted action into a full rerun; for minor issues that
// cost is not obviously justified, so those dispatches require approval
// instead of running silently.
const DefaultPolicy = `
package remediation_policy

default decision = "allow"

decision = "require_approval" {
	input.upgraded == true
	input.severity == "minor"
}
`
