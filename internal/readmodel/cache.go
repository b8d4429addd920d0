// Package readmodel maintains the three read models the UI renders from:
// the message list, the specification, and the world model.
//
// Documents are cached per project and refreshed by invalidate-and-refetch.
// The message list is never cached: it is re-queried from the store on
// every observation, matching the recompute-from-scratch policy of the
// highlight engine. All refreshes are idempotent and safe to repeat.
package readmodel

import (
	"context"
	"fmt"
	"sync"

	"github.com/specdesk/specdesk/internal/domain"
	"github.com/specdesk/specdesk/internal/store"
)

// Cache holds cached specification and world-model documents per project.
type Cache struct {
	repo store.Repository

	mu     sync.RWMutex
	specs  map[string]*domain.SpecDocument
	worlds map[string]*domain.WorldModelDocument
}

// NewCache creates a read-model cache backed by repo.
func NewCache(repo store.Repository) *Cache {
	return &Cache{
		repo:   repo,
		specs:  make(map[string]*domain.SpecDocument),
		worlds: make(map[string]*domain.WorldModelDocument),
	}
}

// RefreshMessages re-queries the full ordered message list for a session.
func (c *Cache) RefreshMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	msgs, err := c.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("refresh messages for session %s: %w", sessionID, err)
	}
	return msgs, nil
}

// RefreshSpec invalidates and refetches the specification for a project.
func (c *Cache) RefreshSpec(ctx context.Context, projectID string) error {
	doc, err := c.repo.GetSpecDocument(ctx, projectID)
	if err != nil {
		return fmt.Errorf("refresh spec for project %s: %w", projectID, err)
	}
	c.mu.Lock()
	if doc == nil {
		delete(c.specs, projectID)
	} else {
		c.specs[projectID] = doc
	}
	c.mu.Unlock()
	return nil
}

// RefreshWorldModel invalidates and refetches the world model for a project.
func (c *Cache) RefreshWorldModel(ctx context.Context, projectID string) error {
	doc, err := c.repo.GetWorldModel(ctx, projectID)
	if err != nil {
		return fmt.Errorf("refresh world model for project %s: %w", projectID, err)
	}
	c.mu.Lock()
	if doc == nil {
		delete(c.worlds, projectID)
	} else {
		c.worlds[projectID] = doc
	}
	c.mu.Unlock()
	return nil
}

// Spec returns the cached specification for a project, fetching it on a
// cache miss. Returns nil when the project has no specification.
func (c *Cache) Spec(ctx context.Context, projectID string) (*domain.SpecDocument, error) {
	c.mu.RLock()
	doc, ok := c.specs[projectID]
	c.mu.RUnlock()
	if ok {
		return doc, nil
	}
	if err := c.RefreshSpec(ctx, projectID); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.specs[projectID], nil
}

// WorldModel returns the cached world model for a project, fetching it on
// a cache miss. Returns nil when the project has no world model.
func (c *Cache) WorldModel(ctx context.Context, projectID string) (*domain.WorldModelDocument, error) {
	c.mu.RLock()
	doc, ok := c.worlds[projectID]
	c.mu.RUnlock()
	if ok {
		return doc, nil
	}
	if err := c.RefreshWorldModel(ctx, projectID); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.worlds[projectID], nil
}
