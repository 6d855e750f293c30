// Package registry creates and retires agent identities: DID assignment,
// API key issuance, and the soft-delete/anonymize lifecycle operations that
// sit outside the reputation engine proper.
package registry

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/garl-protocol/trust-engine/internal/apperr"
	"github.com/garl-protocol/trust-engine/internal/reputation"
	"github.com/garl-protocol/trust-engine/internal/storage"
)

const apiKeyPrefix = "garl_"

// Store is the persistence slice registration needs.
type Store interface {
	CreateAgent(a *storage.Agent) error
	GetAgent(agentID string) (*storage.Agent, error)
	UpdateAgent(a *storage.Agent) error
	AnonymizeAgent(agentID string) error
}

// Request carries the caller-supplied fields for a new agent.
type Request struct {
	Name                string
	Description         string
	Framework           string
	Category            storage.Category
	IsSandbox           bool
	PermissionsDeclared []string
}

// Registered is what a successful registration hands back: the stored
// agent plus the plaintext API key, which is shown exactly once and never
// persisted or logged.
type Registered struct {
	Agent  *storage.Agent
	APIKey string
}

var validCategories = map[storage.Category]bool{
	storage.CategoryCoding: true, storage.CategoryResearch: true, storage.CategorySales: true,
	storage.CategoryData: true, storage.CategoryAutomation: true, storage.CategoryOther: true,
}

// Register mints a new agent identity at the reputation baseline (all five
// dimensions and the composite trust score at 50.0) and an API key whose
// SHA-256 hash is the only copy persisted.
func Register(store Store, req Request, now int64) (*Registered, error) {
	if req.Name == "" {
		return nil, apperr.New(apperr.KindValidation, "missing_name", "name is required")
	}
	if !validCategories[req.Category] {
		return nil, apperr.New(apperr.KindValidation, "invalid_category", fmt.Sprintf("unknown category %q", req.Category))
	}

	agentID := uuid.NewString()
	apiKey, hash, err := newAPIKey()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindConfig, "key_generation_failed", "could not generate an API key")
	}

	dims := storage.Dimensions{Reliability: 50, Security: 50, Speed: 50, CostEfficiency: 50, Consistency: 50}
	trustScore := reputation.TrustScoreFor(dims, 0)

	agent := &storage.Agent{
		AgentID:             agentID,
		SovereignID:         SovereignID(agentID),
		Name:                req.Name,
		Description:         req.Description,
		Framework:           req.Framework,
		Category:            req.Category,
		APIKeyHash:          hash,
		IsSandbox:           req.IsSandbox,
		Dimensions:          dims,
		TrustScore:          trustScore,
		CertificationTier:   reputation.TierFor(trustScore),
		PermissionsDeclared: req.PermissionsDeclared,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := store.CreateAgent(agent); err != nil {
		return nil, apperr.Wrap(err, apperr.KindStorage, "create_agent_failed", "could not persist the new agent")
	}

	return &Registered{Agent: agent, APIKey: apiKey}, nil
}

// SovereignID builds the DID-style handle for an agent ID.
func SovereignID(agentID string) string {
	return fmt.Sprintf("did:garl:%s", agentID)
}

// newAPIKey generates a random bearer secret and its SHA-256 hex digest.
func newAPIKey() (key string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	key = apiKeyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(key))
	hash = hex.EncodeToString(sum[:])
	return key, hash, nil
}

// HashAPIKey reduces a presented bearer key to the form stored in
// api_key_hash, for authenticating a request.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// SoftDelete marks an agent deleted without erasing its reputation history.
// The caller must have already authenticated the request against the
// agent's api_key_hash.
func SoftDelete(store Store, agentID string) error {
	agent, err := store.GetAgent(agentID)
	if err != nil {
		return apperr.Wrap(err, apperr.KindNotFound, "agent_not_found", "no such agent")
	}
	if agent.IsDeleted {
		return nil
	}
	agent.IsDeleted = true
	if err := store.UpdateAgent(agent); err != nil {
		return apperr.Wrap(err, apperr.KindStorage, "soft_delete_failed", "could not mark the agent deleted")
	}
	return nil
}

// Anonymize scrubs an agent's personally-identifying fields while leaving
// its trace and reputation history intact, for the GDPR-style erasure path.
func Anonymize(store Store, agentID string) error {
	if err := store.AnonymizeAgent(agentID); err != nil {
		return apperr.Wrap(err, apperr.KindStorage, "anonymize_failed", "could not anonymize the agent")
	}
	return nil
}

// Authorize resolves the agent owning apiKey's hash, rejecting unknown keys
// and soft-deleted agents the way every write path must.
func Authorize(store interface {
	GetAgentByAPIKeyHash(hash string) (*storage.Agent, error)
}, apiKey string) (*storage.Agent, error) {
	agent, err := store.GetAgentByAPIKeyHash(HashAPIKey(apiKey))
	if err != nil {
		return nil, apperr.New(apperr.KindUnauthorized, "invalid_api_key", "unknown API key")
	}
	if agent.IsDeleted {
		return nil, apperr.New(apperr.KindForbidden, "agent_deleted", "this agent has been deleted")
	}
	return agent, nil
}
