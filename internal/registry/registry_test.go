package registry

import (
	"database/sql"
	"testing"

	"github.com/garl-protocol/trust-engine/internal/apperr"
	"github.com/garl-protocol/trust-engine/internal/storage"
)

type fakeStore struct {
	byID   map[string]*storage.Agent
	byHash map[string]*storage.Agent
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: map[string]*storage.Agent{}, byHash: map[string]*storage.Agent{}}
}

func (s *fakeStore) CreateAgent(a *storage.Agent) error {
	s.byID[a.AgentID] = a
	s.byHash[a.APIKeyHash] = a
	return nil
}

func (s *fakeStore) GetAgent(agentID string) (*storage.Agent, error) {
	a, ok := s.byID[agentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return a, nil
}

func (s *fakeStore) UpdateAgent(a *storage.Agent) error {
	s.byID[a.AgentID] = a
	return nil
}

func (s *fakeStore) AnonymizeAgent(agentID string) error {
	a, ok := s.byID[agentID]
	if !ok {
		return sql.ErrNoRows
	}
	a.Name = "anonymized"
	a.IsDeleted = true
	return nil
}

func (s *fakeStore) GetAgentByAPIKeyHash(hash string) (*storage.Agent, error) {
	a, ok := s.byHash[hash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return a, nil
}

func TestRegisterBaselinesAllDimensions(t *testing.T) {
	store := newFakeStore()
	reg, err := Register(store, Request{Name: "bot-1", Category: storage.CategoryCoding}, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Agent.TrustScore != 50 {
		t.Fatalf("expected trust_score=50 at registration, got %v", reg.Agent.TrustScore)
	}
	if reg.Agent.Dimensions.Reliability != 50 || reg.Agent.Dimensions.Security != 50 {
		t.Fatalf("expected all dimensions baselined at 50, got %+v", reg.Agent.Dimensions)
	}
	if reg.APIKey == "" || reg.Agent.APIKeyHash == "" {
		t.Fatalf("expected a generated API key and hash")
	}
	if reg.Agent.APIKeyHash == reg.APIKey {
		t.Fatalf("the stored hash must not equal the plaintext key")
	}
}

func TestRegisterAssignsDIDSovereignID(t *testing.T) {
	store := newFakeStore()
	reg, err := Register(store, Request{Name: "bot-2", Category: storage.CategoryData}, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "did:garl:" + reg.Agent.AgentID
	if reg.Agent.SovereignID != want {
		t.Fatalf("expected sovereign_id %q, got %q", want, reg.Agent.SovereignID)
	}
}

func TestRegisterRejectsMissingName(t *testing.T) {
	store := newFakeStore()
	_, err := Register(store, Request{Category: storage.CategoryData}, 1000)
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestRegisterRejectsUnknownCategory(t *testing.T) {
	store := newFakeStore()
	_, err := Register(store, Request{Name: "bot-3", Category: "nonsense"}, 1000)
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestAuthorizeResolvesByKeyHash(t *testing.T) {
	store := newFakeStore()
	reg, _ := Register(store, Request{Name: "bot-4", Category: storage.CategoryCoding}, 1000)

	agent, err := Authorize(store, reg.APIKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agent.AgentID != reg.Agent.AgentID {
		t.Fatalf("expected to resolve the registered agent, got %s", agent.AgentID)
	}
}

func TestAuthorizeRejectsUnknownKey(t *testing.T) {
	store := newFakeStore()
	_, err := Authorize(store, "garl_not-a-real-key")
	if apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestAuthorizeRejectsDeletedAgent(t *testing.T) {
	store := newFakeStore()
	reg, _ := Register(store, Request{Name: "bot-5", Category: storage.CategoryCoding}, 1000)
	if err := SoftDelete(store, reg.Agent.AgentID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := Authorize(store, reg.APIKey)
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("expected forbidden for a deleted agent, got %v", err)
	}
}

func TestSoftDeleteIsIdempotent(t *testing.T) {
	store := newFakeStore()
	reg, _ := Register(store, Request{Name: "bot-6", Category: storage.CategoryCoding}, 1000)
	if err := SoftDelete(store, reg.Agent.AgentID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := SoftDelete(store, reg.Agent.AgentID); err != nil {
		t.Fatalf("second soft delete should be a no-op, got %v", err)
	}
}

func TestAnonymizeScrubsNameAndMarksDeleted(t *testing.T) {
	store := newFakeStore()
	reg, _ := Register(store, Request{Name: "bot-7", Category: storage.CategoryCoding}, 1000)
	if err := Anonymize(store, reg.Agent.AgentID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := store.GetAgent(reg.Agent.AgentID)
	if got.Name != "anonymized" || !got.IsDeleted {
		t.Fatalf("expected the agent to be scrubbed and deleted, got %+v", got)
	}
}
