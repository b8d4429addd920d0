// Package remediation selects and dispatches corrective actions for
// flagged issues.
package remediation

import (
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/specdesk/specdesk/internal/domain"
)

// RequiresRun reports whether an action depends on an originating run.
// full_rerun is the only action with no run dependency, which is what
// makes it the safe substitution target.
func RequiresRun(action domain.RemediationAction) bool {
	switch action {
	case domain.ActionPatchAndRescore, domain.ActionPartialRerun, domain.ActionInvalidateCandidates:
		return true
	default:
		return false
	}
}

// Resolve maps a requested action onto the action that will actually run.
//
// When the requested action needs a run the issue does not carry,
// full_rerun is substituted and the result records the substitution
// transparently. invalidate_candidates is never auto-upgraded: without a
// run and candidate set there is no safe target to guess, so the request
// is rejected as invalid.
//
// Resolve is pure and total over its inputs; it consults nothing beyond
// the issue itself.
func Resolve(issue domain.Issue, requested domain.RemediationAction) (domain.RemediationResult, error) {
	if !domain.ValidAction(requested) {
		return domain.RemediationResult{}, fmt.Errorf("unknown remediation action %q: %w", requested, errdefs.ErrInvalidArgument)
	}

	if requested == domain.ActionInvalidateCandidates {
		if !issue.HasRun() || len(issue.CandidateIDs) == 0 {
			return domain.RemediationResult{}, fmt.Errorf(
				"invalidate_candidates requires an originating run and a non-empty candidate set: %w",
				errdefs.ErrInvalidArgument)
		}
		return domain.RemediationResult{
			EffectiveAction: requested,
			OriginalAction:  requested,
			Upgraded:        false,
		}, nil
	}

	if RequiresRun(requested) && !issue.HasRun() {
		return domain.RemediationResult{
			EffectiveAction: domain.ActionFullRerun,
			OriginalAction:  requested,
			Upgraded:        true,
			Message: fmt.Sprintf(
				"requested action %s requires an originating run, which this issue does not have; upgraded to %s",
				requested, domain.ActionFullRerun),
		}, nil
	}

	return domain.RemediationResult{
		EffectiveAction: requested,
		OriginalAction:  requested,
		Upgraded:        false,
	}, nil
}
