package domain

import "time"

// Severity grades how serious a flagged issue is.
type Severity string

const (
	SeverityMinor        Severity = "minor"
	SeverityImportant    Severity = "important"
	SeverityCatastrophic Severity = "catastrophic"
)

// ResolutionStatus tracks the lifecycle of an issue.
type ResolutionStatus string

const (
	ResolutionOpen        ResolutionStatus = "open"
	ResolutionResolved    ResolutionStatus = "resolved"
	ResolutionInvalidated ResolutionStatus = "invalidated"
)

// Issue is a user-flagged problem with an evaluation run or its candidates.
// RunID and CandidateIDs are optional context; their absence drives the
// resolver's auto-upgrade behavior.
type Issue struct {
	ID               string
	ProjectID        string
	RunID            string
	CandidateIDs     []string
	Type             string
	Severity         Severity
	Description      string
	ResolutionStatus ResolutionStatus
	CreatedAt        time.Time
}

// HasRun reports whether the issue carries an originating run.
func (i Issue) HasRun() bool { return i.RunID != "" }

// RemediationAction names a corrective action the executor can perform.
type RemediationAction string

const (
	ActionPatchAndRescore      RemediationAction = "patch_and_rescore"
	ActionPartialRerun         RemediationAction = "partial_rerun"
	ActionFullRerun            RemediationAction = "full_rerun"
	ActionInvalidateCandidates RemediationAction = "invalidate_candidates"
)

// ValidAction reports whether a is a known remediation action.
func ValidAction(a RemediationAction) bool {
	switch a {
	case ActionPatchAndRescore, ActionPartialRerun, ActionFullRerun, ActionInvalidateCandidates:
		return true
	}
	return false
}

// RemediationProposal is a corrective action suggested by the external
// feedback agent.
type RemediationProposal struct {
	ActionType      RemediationAction `json:"action_type"`
	Description     string            `json:"description"`
	EstimatedImpact string            `json:"estimated_impact"`
	Rationale       string            `json:"rationale"`
}

// RemediationResult records which action will actually run and whether it
// was substituted for the one originally requested.
type RemediationResult struct {
	EffectiveAction RemediationAction `json:"effective_action"`
	OriginalAction  RemediationAction `json:"original_action"`
	Upgraded        bool              `json:"upgraded"`
	Message         string            `json:"message,omitempty"`
}
