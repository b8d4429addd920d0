package domain

import (
	"encoding/json"
	"time"
)

// SpecDocument is the current persisted problem specification for a
// project. Content is opaque to this service; the refiner agent owns its
// structure.
type SpecDocument struct {
	ProjectID string
	Content   json.RawMessage
	Version   int64
	UpdatedAt time.Time
}

// WorldModelDocument is the current persisted world model for a project.
type WorldModelDocument struct {
	ProjectID string
	Content   json.RawMessage
	Version   int64
	UpdatedAt time.Time
}
