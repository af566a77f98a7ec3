package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dealscope/backend/internal/db"
	"github.com/dealscope/backend/internal/models"
)

func integrationEngine(t *testing.T) (*Engine, *db.Store) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	store, err := db.New(context.Background(), url)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	t.Cleanup(store.Close)
	return &Engine{Store: store, Logger: zerolog.Nop()}, store
}

func seedDeal(t *testing.T, store *db.Store, orgID, dealID int64) {
	t.Helper()
	ctx := context.Background()
	_, _ = store.Pool.Exec(ctx, `DELETE FROM deal_audit_events WHERE org_id = $1 AND deal_id = $2`, orgID, dealID)
	_, _ = store.Pool.Exec(ctx, `DELETE FROM deals WHERE org_id = $1 AND deal_id = $2`, orgID, dealID)
	if _, err := store.ImportDeals(ctx, []models.Deal{{
		OrgID:      orgID,
		DealID:     dealID,
		SalesStage: "Negotiation",
		Scores:     map[string]int{"budget": 1},
	}}); err != nil {
		t.Fatalf("seed deal: %v", err)
	}
}

func TestSaveTransaction(t *testing.T) {
	engine, store := integrationEngine(t)
	ctx := context.Background()
	seedDeal(t, store, 7, 42)

	res, err := engine.HandleToolCall(ctx, ToolSaveDealData, map[string]any{
		"org_id":          float64(7),
		"deal_id":         float64(42),
		"rep_name":        " Dana ",
		"pain_score":      float64(2),
		"risk_summary":    "needs EB",
		"unrelated_field": "dropped from update",
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if res.OrgID != 7 || res.DealID != 42 || res.Ignored {
		t.Fatalf("unexpected acknowledgement: %+v", res)
	}

	snap, err := store.GetDealSnapshot(ctx, 7, 42)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if got := snap["health_score"]; got != int32(3) && got != int64(3) {
		t.Fatalf("expected recomputed aggregate 3 (pain 2 + budget 1), got %v (%T)", got, got)
	}
	if _, ok := snap["unrelated_field"]; ok {
		t.Fatalf("non-registry fields must never become columns")
	}

	events, err := store.ListAuditEvents(ctx, 7, 42, 10)
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one audit event, got %d", len(events))
	}
	ev := events[0]
	if ev.RunID == "" || ev.ActorType != "agent" || ev.EventType != ToolSaveDealData || ev.MaxScore != 30 {
		t.Fatalf("unexpected audit row: %+v", ev)
	}
	var delta map[string]any
	if err := json.Unmarshal(ev.Delta, &delta); err != nil {
		t.Fatalf("delta unmarshal: %v", err)
	}
	if delta["pain_score"] != float64(2) || delta["risk_summary"] != "needs EB" || delta["unrelated_field"] != "dropped from update" {
		t.Fatalf("delta must carry exactly the caller-supplied fields: %v", delta)
	}
	var meta map[string]any
	if err := json.Unmarshal(ev.Meta, &meta); err != nil {
		t.Fatalf("meta unmarshal: %v", err)
	}
	if meta["rep_name"] != "Dana" || meta["detected_category"] != "pain" {
		t.Fatalf("unexpected meta payload: %v", meta)
	}
}

func TestSaveTwiceDistinctRunIDs(t *testing.T) {
	engine, store := integrationEngine(t)
	ctx := context.Background()
	seedDeal(t, store, 7, 43)

	for _, args := range []map[string]any{
		{"org_id": 7, "deal_id": 43, "metrics_score": 3},
		{"org_id": 7, "deal_id": 43, "champion_score": 2},
	} {
		if _, err := engine.HandleToolCall(ctx, ToolSaveDealData, args); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	events, err := store.ListAuditEvents(ctx, 7, 43, 10)
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected two audit events, got %d", len(events))
	}
	if events[0].RunID == events[1].RunID {
		t.Fatalf("run ids must be unique per save")
	}
	// Both updates applied in commit order: budget 1 + metrics 3 + champion 2.
	if events[0].HealthScore != 6 {
		t.Fatalf("expected final aggregate 6, got %d", events[0].HealthScore)
	}
}

func TestSaveMissingDealRollsBack(t *testing.T) {
	engine, store := integrationEngine(t)
	ctx := context.Background()

	_, err := engine.HandleToolCall(ctx, ToolSaveDealData, map[string]any{
		"org_id":     7,
		"deal_id":    999999,
		"pain_score": 2,
	})
	if !errors.Is(err, ErrDealNotFound) {
		t.Fatalf("expected ErrDealNotFound, got %v", err)
	}

	events, err := store.ListAuditEvents(ctx, 7, 999999, 10)
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("failed saves must leave no audit trail, got %d rows", len(events))
	}
}
