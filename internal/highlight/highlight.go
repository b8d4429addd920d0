// Package highlight projects a chat session's message history into a
// recency-ranked map of changed specification and world-model items.
//
// The map is recomputed from the full ordered message list on every
// observation. Recomputing is cheap at chat scale and removes the whole
// class of partial-update bugs an incrementally patched map would carry.
package highlight

import (
	"github.com/specdesk/specdesk/internal/domain"
)

// KeyResolution and KeyMode are the fixed keys for the two scalar
// specification properties a delta can touch.
const (
	KeyResolution = "resolution"
	KeyMode       = "mode"

	keyConstraintPrefix = "constraints:"
	keyGoalPrefix       = "goals:"
)

// Tier classifies how recently a highlighted item changed.
type Tier string

const (
	TierNewest Tier = "newest"
	TierRecent Tier = "recent"
	TierFading Tier = "fading"
)

// ExtractDelta returns the change metadata carried by an agent message,
// or nil for non-agent messages, messages without metadata, and messages
// whose metadata is empty.
func ExtractDelta(msg domain.Message) *domain.DeltaMetadata {
	if msg.Role != domain.RoleAgent {
		return nil
	}
	if msg.Metadata.IsEmpty() {
		return nil
	}
	return msg.Metadata
}

// Keys lists every changed-item key present in a delta. Constraints are
// keyed by name, goals by their literal text, world-model changes by
// section name. Sections whose change lists are all empty contribute
// nothing.
func Keys(delta *domain.DeltaMetadata) []string {
	if delta.IsEmpty() {
		return nil
	}

	var keys []string
	if sd := delta.SpecDelta; sd != nil {
		for _, name := range sd.Constraints.Added {
			keys = append(keys, keyConstraintPrefix+name)
		}
		for _, name := range sd.Constraints.Updated {
			keys = append(keys, keyConstraintPrefix+name)
		}
		for _, name := range sd.Constraints.Removed {
			keys = append(keys, keyConstraintPrefix+name)
		}
		for _, text := range sd.Goals.Added {
			keys = append(keys, keyGoalPrefix+text)
		}
		for _, text := range sd.Goals.Removed {
			keys = append(keys, keyGoalPrefix+text)
		}
		if sd.ResolutionChanged {
			keys = append(keys, KeyResolution)
		}
		if sd.ModeChanged {
			keys = append(keys, KeyMode)
		}
	}
	if wd := delta.WorldModelDelta; wd != nil {
		for section, changes := range wd.Sections {
			if !changes.IsEmpty() {
				keys = append(keys, section)
			}
		}
	}
	return keys
}

// Compute maps each changed item key to the delta index of the agent
// message that most recently touched it. The delta index is the ordinal
// position (0-based, chronological) of a message among all agent messages
// in the session carrying a non-empty delta.
//
// Compute is a pure function of the message list: calling it twice on the
// same list yields identical maps. Input order is not trusted; messages
// are re-sorted by creation time before indices are assigned.
func Compute(messages []domain.Message) map[string]int {
	contributing := make([]domain.Message, 0, len(messages))
	for _, msg := range messages {
		if ExtractDelta(msg) != nil {
			contributing = append(contributing, msg)
		}
	}
	domain.SortMessages(contributing)

	out := make(map[string]int)
	for idx, msg := range contributing {
		for _, key := range Keys(msg.Metadata) {
			// Chronological last-write-wins. Indices are assigned in
			// ascending order, so max() guards only against duplicate
			// keys within one message's own delta.
			if existing, ok := out[key]; !ok || idx > existing {
				out[key] = idx
			}
		}
	}
	return out
}

// MaxIndex returns the highest delta index in the map, or -1 when the map
// is empty.
func MaxIndex(m map[string]int) int {
	max := -1
	for _, idx := range m {
		if idx > max {
			max = idx
		}
	}
	return max
}

// TierFor derives the decay tier for one entry given the map's maximum
// index.
func TierFor(index, maxIndex int) Tier {
	switch maxIndex - index {
	case 0:
		return TierNewest
	case 1:
		return TierRecent
	default:
		return TierFading
	}
}

// Tiers derives the decay tier for every entry in an index map. An empty
// map yields an empty result: nothing is highlighted.
func Tiers(m map[string]int) map[string]Tier {
	out := make(map[string]Tier, len(m))
	maxIndex := MaxIndex(m)
	for key, idx := range m {
		out[key] = TierFor(idx, maxIndex)
	}
	return out
}
