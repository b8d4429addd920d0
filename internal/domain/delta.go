package domain

// DeltaMetadata describes what an agent message changed in the problem
// specification and the world model. Both halves are optional; a nil
// pointer means that half was untouched. Treating absence as nil (rather
// than a zero struct) keeps empty-delta suppression a type-level case.
type DeltaMetadata struct {
	SpecDelta       *SpecDelta       `json:"spec_delta,omitempty"`
	WorldModelDelta *WorldModelDelta `json:"world_model_delta,omitempty"`
}

// SpecDelta records changes to the problem specification.
type SpecDelta struct {
	Constraints       ConstraintChanges `json:"constraints"`
	Goals             GoalChanges       `json:"goals"`
	ResolutionChanged bool              `json:"resolution_changed"`
	ModeChanged       bool              `json:"mode_changed"`
}

// ConstraintChanges lists constraints by name.
type ConstraintChanges struct {
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
}

// GoalChanges lists goals by their literal text.
type GoalChanges struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// WorldModelDelta records changes to world-model sections.
type WorldModelDelta struct {
	Sections map[string]SectionChanges `json:"sections"`
}

// SectionChanges lists items changed within one world-model section.
type SectionChanges struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

// IsEmpty reports whether the metadata carries no changes at all.
// An empty delta must never produce highlights.
func (d *DeltaMetadata) IsEmpty() bool {
	if d == nil {
		return true
	}
	return d.SpecDelta.IsEmpty() && d.WorldModelDelta.IsEmpty()
}

// IsEmpty reports whether every sub-field of the spec delta is empty.
func (d *SpecDelta) IsEmpty() bool {
	if d == nil {
		return true
	}
	if len(d.Constraints.Added) > 0 || len(d.Constraints.Updated) > 0 || len(d.Constraints.Removed) > 0 {
		return false
	}
	if len(d.Goals.Added) > 0 || len(d.Goals.Removed) > 0 {
		return false
	}
	return !d.ResolutionChanged && !d.ModeChanged
}

// IsEmpty reports whether no section carries any changes.
func (d *WorldModelDelta) IsEmpty() bool {
	if d == nil {
		return true
	}
	for _, ch := range d.Sections {
		if !ch.IsEmpty() {
			return false
		}
	}
	return true
}

// IsEmpty reports whether a section's change lists are all empty.
func (c SectionChanges) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}
