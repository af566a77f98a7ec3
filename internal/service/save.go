package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/dealscope/backend/internal/category"
	"github.com/dealscope/backend/internal/db"
	"github.com/dealscope/backend/internal/models"
)

// ToolSaveDealData is the only tool call this engine handles.
const ToolSaveDealData = "save_deal_data"

const (
	actorAgent = "agent"

	// Version counters recorded on every audit row so replay and debugging
	// can tell which generation of the code produced it. schemaVersion
	// tracks the audit row shape, promptVersion the upstream extraction
	// prompt, logicVersion the scoring rules.
	schemaVersion = 2
	promptVersion = 3
	logicVersion  = 1
)

var (
	ErrInvalidOrg   = errors.New("org_id must be a positive integer")
	ErrInvalidDeal  = errors.New("deal_id must be a positive integer")
	ErrDealNotFound = errors.New("deal not found")
)

// reservedKeys are argument keys that identify the call rather than deal
// fields; they never appear in the audit delta or the update.
var reservedKeys = map[string]struct{}{
	"org_id":   {},
	"deal_id":  {},
	"rep_name": {},
	"call_id":  {},
}

// Engine is the save-and-audit transaction engine. One HandleToolCall is
// one all-or-nothing unit of work.
type Engine struct {
	Store  *db.Store
	Logger zerolog.Logger
}

// SaveResult acknowledges a handled (or ignored) tool call.
type SaveResult struct {
	Tool    string `json:"tool"`
	Ignored bool   `json:"ignored,omitempty"`
	OrgID   int64  `json:"org_id,omitempty"`
	DealID  int64  `json:"deal_id,omitempty"`
}

// HandleToolCall validates args, applies the allow-listed update, recomputes
// the aggregate score and appends one audit event, all inside a single
// transaction. A tool name other than save_deal_data is a no-op reported as
// ignored. Errors propagate unchanged; there is no partial success.
func (e *Engine) HandleToolCall(ctx context.Context, tool string, args map[string]any) (SaveResult, error) {
	if tool != ToolSaveDealData {
		e.Logger.Debug().Str("tool", tool).Msg("ignoring unhandled tool call")
		return SaveResult{Tool: tool, Ignored: true}, nil
	}

	orgID, ok := positiveID(args["org_id"])
	if !ok {
		return SaveResult{}, ErrInvalidOrg
	}
	dealID, ok := positiveID(args["deal_id"])
	if !ok {
		return SaveResult{}, ErrInvalidDeal
	}
	repName := optionalString(args["rep_name"])
	callID := optionalString(args["call_id"])

	detected, hasCategory := category.Detect(args)
	delta := buildDelta(args)
	fields := writableFields(args)

	deltaJSON, err := json.Marshal(delta)
	if err != nil {
		return SaveResult{}, err
	}
	detectedKey := "none"
	if hasCategory {
		detectedKey = detected.Key
	}
	metaJSON, err := json.Marshal(map[string]any{
		"rep_name":          repName,
		"detected_category": detectedKey,
	})
	if err != nil {
		return SaveResult{}, err
	}

	var runID string
	err = e.Store.WithTx(ctx, func(tx pgx.Tx) error {
		if len(fields) > 0 {
			// The row lock taken here serializes concurrent saves against
			// the same pair until commit or rollback. Zero matched rows is
			// caught by the re-read below.
			if _, err := e.Store.UpdateDealFields(ctx, tx, orgID, dealID, fields); err != nil {
				return err
			}
		}

		snap, err := e.Store.GetStageSnapshot(ctx, tx, orgID, dealID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDealNotFound
		}
		if err != nil {
			return err
		}

		score, err := e.Store.RecomputeHealthScore(ctx, tx, orgID, dealID)
		if err != nil {
			return err
		}

		runID = uuid.NewString()
		return e.Store.InsertAuditEvent(ctx, tx, models.AuditEvent{
			OrgID:         orgID,
			DealID:        dealID,
			RunID:         runID,
			CallID:        callID,
			ActorType:     actorAgent,
			EventType:     ToolSaveDealData,
			SchemaVersion: schemaVersion,
			PromptVersion: promptVersion,
			LogicVersion:  logicVersion,
			SalesStage:    snap.SalesStage,
			ForecastStage: snap.ForecastStage,
			RiskSummary:   snap.RiskSummary,
			HealthScore:   score,
			MaxScore:      category.MaxAggregate,
			Delta:         deltaJSON,
			Definitions:   []byte("{}"),
			Meta:          metaJSON,
		})
	})
	if err != nil {
		return SaveResult{}, err
	}

	e.Logger.Info().
		Int64("org_id", orgID).
		Int64("deal_id", dealID).
		Str("run_id", runID).
		Int("fields", len(fields)).
		Msg("deal saved")

	return SaveResult{Tool: tool, OrgID: orgID, DealID: dealID}, nil
}

// buildDelta keeps exactly what the caller asked to change: every argument
// except the reserved identifiers, allow-listed or not.
func buildDelta(args map[string]any) map[string]any {
	delta := make(map[string]any, len(args))
	for k, v := range args {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		delta[k] = v
	}
	return delta
}

// writableFields selects the registry-approved columns present in args, in
// registry order so the generated statement is deterministic.
func writableFields(args map[string]any) []db.FieldValue {
	var out []db.FieldValue
	for _, name := range category.WritableFields() {
		if v, ok := args[name]; ok {
			out = append(out, db.FieldValue{Name: name, Value: v})
		}
	}
	return out
}

func positiveID(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), val > 0
	case int32:
		return int64(val), val > 0
	case int64:
		return val, val > 0
	case float64:
		if val != math.Trunc(val) {
			return 0, false
		}
		return int64(val), val > 0
	case json.Number:
		n, err := val.Int64()
		return n, err == nil && n > 0
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return n, err == nil && n > 0
	default:
		return 0, false
	}
}

func optionalString(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
