package readmodel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/specdesk/specdesk/internal/domain"
)

// countingRepo tracks how often each fetch runs so tests can tell cache
// hits from refetches.
type countingRepo struct {
	mu        sync.Mutex
	spec      *domain.SpecDocument
	world     *domain.WorldModelDocument
	messages  []domain.Message
	specGets  int
	worldGets int
	listCalls int
}

func (r *countingRepo) CreateChatSession(ctx context.Context, s *domain.ChatSession) error { return nil }
func (r *countingRepo) GetChatSession(ctx context.Context, id string) (*domain.ChatSession, error) {
	return nil, nil
}
func (r *countingRepo) AppendMessage(ctx context.Context, m *domain.Message) error { return nil }

func (r *countingRepo) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	out := make([]domain.Message, len(r.messages))
	copy(out, r.messages)
	return out, nil
}

func (r *countingRepo) CreateIssue(ctx context.Context, i *domain.Issue) error { return nil }
func (r *countingRepo) GetIssue(ctx context.Context, id string) (*domain.Issue, error) {
	return nil, nil
}
func (r *countingRepo) UpdateIssueResolution(ctx context.Context, id string, s domain.ResolutionStatus) error {
	return nil
}

func (r *countingRepo) GetSpecDocument(ctx context.Context, projectID string) (*domain.SpecDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specGets++
	return r.spec, nil
}

func (r *countingRepo) PutSpecDocument(ctx context.Context, d *domain.SpecDocument) error { return nil }

func (r *countingRepo) GetWorldModel(ctx context.Context, projectID string) (*domain.WorldModelDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.worldGets++
	return r.world, nil
}

func (r *countingRepo) PutWorldModel(ctx context.Context, d *domain.WorldModelDocument) error {
	return nil
}

func (r *countingRepo) Ping(ctx context.Context) error { return nil }
func (r *countingRepo) Close() error                   { return nil }

func TestCache_SpecFetchOnMissThenCached(t *testing.T) {
	repo := &countingRepo{spec: &domain.SpecDocument{
		ProjectID: "p1",
		Content:   json.RawMessage(`{}`),
		Version:   1,
	}}
	cache := NewCache(repo)
	ctx := context.Background()

	doc, err := cache.Spec(ctx, "p1")
	if err != nil || doc == nil {
		t.Fatalf("Spec = %+v, %v", doc, err)
	}
	if _, err := cache.Spec(ctx, "p1"); err != nil {
		t.Fatalf("second Spec failed: %v", err)
	}
	if repo.specGets != 1 {
		t.Errorf("spec fetches = %d, want 1 (second read served from cache)", repo.specGets)
	}
}

func TestCache_RefreshInvalidatesAndRefetches(t *testing.T) {
	repo := &countingRepo{spec: &domain.SpecDocument{ProjectID: "p1", Version: 1}}
	cache := NewCache(repo)
	ctx := context.Background()

	if _, err := cache.Spec(ctx, "p1"); err != nil {
		t.Fatal(err)
	}

	repo.mu.Lock()
	repo.spec = &domain.SpecDocument{ProjectID: "p1", Version: 2}
	repo.mu.Unlock()

	if err := cache.RefreshSpec(ctx, "p1"); err != nil {
		t.Fatalf("RefreshSpec failed: %v", err)
	}
	doc, err := cache.Spec(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != 2 {
		t.Errorf("spec version after refresh = %d, want 2", doc.Version)
	}

	// Refresh is idempotent.
	for i := 0; i < 3; i++ {
		if err := cache.RefreshSpec(ctx, "p1"); err != nil {
			t.Fatalf("repeat RefreshSpec failed: %v", err)
		}
	}
	doc, _ = cache.Spec(ctx, "p1")
	if doc.Version != 2 {
		t.Errorf("spec version after repeated refresh = %d, want 2", doc.Version)
	}
}

func TestCache_RefreshDropsDeletedDocument(t *testing.T) {
	repo := &countingRepo{world: &domain.WorldModelDocument{ProjectID: "p1", Version: 1}}
	cache := NewCache(repo)
	ctx := context.Background()

	if _, err := cache.WorldModel(ctx, "p1"); err != nil {
		t.Fatal(err)
	}

	repo.mu.Lock()
	repo.world = nil
	repo.mu.Unlock()

	if err := cache.RefreshWorldModel(ctx, "p1"); err != nil {
		t.Fatalf("RefreshWorldModel failed: %v", err)
	}
	doc, err := cache.WorldModel(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if doc != nil {
		t.Errorf("world model after deletion = %+v, want nil", doc)
	}
}

func TestCache_MessagesNeverCached(t *testing.T) {
	repo := &countingRepo{messages: []domain.Message{
		{ID: "m1", ChatSessionID: "s1", Role: domain.RoleUser, CreatedAt: time.Now()},
	}}
	cache := NewCache(repo)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msgs, err := cache.RefreshMessages(ctx, "s1")
		if err != nil {
			t.Fatalf("RefreshMessages failed: %v", err)
		}
		if len(msgs) != 1 {
			t.Fatalf("got %d messages", len(msgs))
		}
	}
	if repo.listCalls != 3 {
		t.Errorf("list calls = %d, want 3 (one per observation)", repo.listCalls)
	}
}
