package remediation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specdesk/specdesk/internal/domain"
)

func TestGate_DefaultPolicy(t *testing.T) {
	gate, err := NewGate(t.Context(), DefaultPolicy)
	require.NoError(t, err)

	tests := []struct {
		name     string
		severity domain.Severity
		result   domain.RemediationResult
		want     Decision
	}{
		{
			name:     "direct action on minor issue allowed",
			severity: domain.SeverityMinor,
			result: domain.RemediationResult{
				EffectiveAction: domain.ActionFullRerun,
				OriginalAction:  domain.ActionFullRerun,
				Upgraded:        false,
			},
			want: DecisionAllow,
		},
		{
			name:     "upgrade on minor issue needs approval",
			severity: domain.SeverityMinor,
			result: domain.RemediationResult{
				EffectiveAction: domain.ActionFullRerun,
				OriginalAction:  domain.ActionPatchAndRescore,
				Upgraded:        true,
			},
			want: DecisionRequireApproval,
		},
		{
			name:     "upgrade on important issue allowed",
			severity: domain.SeverityImportant,
			result: domain.RemediationResult{
				EffectiveAction: domain.ActionFullRerun,
				OriginalAction:  domain.ActionPartialRerun,
				Upgraded:        true,
			},
			want: DecisionAllow,
		},
		{
			name:     "upgrade on catastrophic issue allowed",
			severity: domain.SeverityCatastrophic,
			result: domain.RemediationResult{
				EffectiveAction: domain.ActionFullRerun,
				OriginalAction:  domain.ActionPartialRerun,
				Upgraded:        true,
			},
			want: DecisionAllow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := domain.Issue{ID: "i1", Severity: tt.severity}
			decision, err := gate.Evaluate(t.Context(), issue, tt.result)
			require.NoError(t, err)
			assert.Equal(t, tt.want, decision)
		})
	}
}

func TestGate_CustomPolicy(t *testing.T) {
	const policy = `
package remediation_policy

default decision = "allow"

decision = "block" {
	input.severity == "catastrophic"
	input.effective_action == "invalidate_candidates"
}
`
	gate, err := NewGate(t.Context(), policy)
	require.NoError(t, err)

	issue := domain.Issue{ID: "i1", Severity: domain.SeverityCatastrophic}
	decision, err := gate.Evaluate(t.Context(), issue, domain.RemediationResult{
		EffectiveAction: domain.ActionInvalidateCandidates,
		OriginalAction:  domain.ActionInvalidateCandidates,
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, decision)
}

func TestGate_UnknownDecisionRejected(t *testing.T) {
	const policy = `
package remediation_policy

decision = "maybe"
`
	gate, err := NewGate(t.Context(), policy)
	require.NoError(t, err)

	_, err = gate.Evaluate(t.Context(), domain.Issue{ID: "i1"}, domain.RemediationResult{})
	assert.Error(t, err)
}

func TestGate_InvalidPolicyFailsToCompile(t *testing.T) {
	_, err := NewGate(t.Context(), "this is not rego")
	assert.Error(t, err)
}
