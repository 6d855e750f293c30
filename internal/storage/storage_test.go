package storage

import (
	"database/sql"
	"errors"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDB(dir + "/test.db")
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testAgent(id string) *Agent {
	now := time.Now().Unix()
	return &Agent{
		AgentID:           id,
		SovereignID:       "did:garl:" + id,
		Name:              "agent-" + id,
		Category:          CategoryCoding,
		APIKeyHash:        "hash-" + id,
		Dimensions:        Dimensions{Reliability: 50, Security: 50, Speed: 50, CostEfficiency: 50, Consistency: 50},
		TrustScore:        50,
		CertificationTier: TierBronze,
		AnomalyFlags:      []AnomalyFlag{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestCreateAndGetAgentRoundTrip(t *testing.T) {
	db := newTestDB(t)
	a := testAgent("agent-1")

	if err := db.CreateAgent(a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	got, err := db.GetAgent("agent-1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.SovereignID != a.SovereignID || got.TrustScore != 50 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	byKey, err := db.GetAgentByAPIKeyHash("hash-agent-1")
	if err != nil {
		t.Fatalf("GetAgentByAPIKeyHash: %v", err)
	}
	if byKey.AgentID != "agent-1" {
		t.Fatalf("expected agent-1, got %s", byKey.AgentID)
	}
}

func TestGetAgentNotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetAgent("missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestUpdateAgentPersistsAnomalyFlags(t *testing.T) {
	db := newTestDB(t)
	a := testAgent("agent-2")
	if err := db.CreateAgent(a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	a.AnomalyFlags = append(a.AnomalyFlags, AnomalyFlag{
		Type: AnomalyDurationSpike, Severity: SeverityWarning, Message: "slow trace", DetectedAt: time.Now().Unix(),
	})
	a.UpdatedAt = time.Now().Unix()
	if err := db.UpdateAgent(a); err != nil {
		t.Fatalf("UpdateAgent: %v", err)
	}

	got, err := db.GetAgent("agent-2")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if len(got.AnomalyFlags) != 1 || got.AnomalyFlags[0].Type != AnomalyDurationSpike {
		t.Fatalf("expected one duration_spike flag, got %+v", got.AnomalyFlags)
	}
}

func TestTraceDuplicateHashConstraint(t *testing.T) {
	db := newTestDB(t)
	a := testAgent("agent-3")
	if err := db.CreateAgent(a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	trace := &Trace{
		TraceID:         "trace-1",
		AgentID:         "agent-3",
		TaskDescription: "do a thing",
		Status:          TraceSuccess,
		DurationMs:      1000,
		Category:        CategoryCoding,
		TraceHash:       "samehash",
		Certificate:     Certificate{PublicKey: "pk", Signature: "sig", Created: time.Now().Unix(), Alg: "ECDSA-secp256k1"},
		CreatedAt:       time.Now().Unix(),
	}
	if err := db.CreateTrace(trace); err != nil {
		t.Fatalf("CreateTrace: %v", err)
	}

	dup := *trace
	dup.TraceID = "trace-2"
	if err := db.CreateTrace(&dup); err == nil {
		t.Fatal("expected unique constraint violation on (agent_id, trace_hash)")
	}

	found, err := db.GetTraceByHash("agent-3", "samehash")
	if err != nil {
		t.Fatalf("GetTraceByHash: %v", err)
	}
	if found.TraceID != "trace-1" {
		t.Fatalf("expected trace-1, got %s", found.TraceID)
	}
}

func TestEndorsementUniquePair(t *testing.T) {
	db := newTestDB(t)
	e1 := testAgent("endorser-1")
	e2 := testAgent("target-1")
	if err := db.CreateAgent(e1); err != nil {
		t.Fatalf("CreateAgent endorser: %v", err)
	}
	if err := db.CreateAgent(e2); err != nil {
		t.Fatalf("CreateAgent target: %v", err)
	}

	edge := &Endorsement{
		ID: "end-1", EndorserID: "endorser-1", TargetID: "target-1",
		EndorserScore: 90, EndorserTraces: 40, EndorserTier: TierGold,
		BonusApplied: 2.0, TierMultiplier: 1.5, CreatedAt: time.Now().Unix(),
	}
	if err := db.CreateEndorsement(edge); err != nil {
		t.Fatalf("CreateEndorsement: %v", err)
	}

	dup := *edge
	dup.ID = "end-2"
	if err := db.CreateEndorsement(&dup); err == nil {
		t.Fatal("expected unique constraint violation on (endorser_id, target_id)")
	}
}

func TestWebhookActiveSubscriberLookup(t *testing.T) {
	db := newTestDB(t)
	a := testAgent("agent-4")
	if err := db.CreateAgent(a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	wh := &Webhook{
		ID: "wh-1", AgentID: "agent-4", URL: "https://example.test/hook", Secret: "shh",
		Events: []WebhookEvent{WebhookTraceRecorded, WebhookAnomaly}, IsActive: true,
		CreatedAt: time.Now().Unix(),
	}
	if err := db.CreateWebhook(wh); err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}

	subs, err := db.ListActiveSubscribersForEvent(string(WebhookAnomaly))
	if err != nil {
		t.Fatalf("ListActiveSubscribersForEvent: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != "wh-1" {
		t.Fatalf("expected wh-1 to subscribe to anomaly events, got %+v", subs)
	}

	subs, err = db.ListActiveSubscribersForEvent(string(WebhookMilestone))
	if err != nil {
		t.Fatalf("ListActiveSubscribersForEvent: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected no subscribers for milestone, got %+v", subs)
	}
}

func TestSigningKeyPersistence(t *testing.T) {
	db := newTestDB(t)

	if _, ok, err := db.LoadSigningKey(); err != nil || ok {
		t.Fatalf("expected no key initially, got ok=%v err=%v", ok, err)
	}

	if err := db.SaveSigningKey("deadbeef"); err != nil {
		t.Fatalf("SaveSigningKey: %v", err)
	}
	key, ok, err := db.LoadSigningKey()
	if err != nil || !ok || key != "deadbeef" {
		t.Fatalf("expected deadbeef, got key=%q ok=%v err=%v", key, ok, err)
	}

	if err := db.SaveSigningKey("cafebabe"); err != nil {
		t.Fatalf("SaveSigningKey (overwrite): %v", err)
	}
	key, _, _ = db.LoadSigningKey()
	if key != "cafebabe" {
		t.Fatalf("expected overwrite to replace the key, got %q", key)
	}
}

