package domain

import "time"

// ChatSession groups the message log for one refinement conversation
// within a project.
type ChatSession struct {
	ID        string
	ProjectID string
	Title     string
	CreatedAt time.Time
}
