package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealscope/backend/internal/category"
	"github.com/dealscope/backend/internal/models"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// WithTx runs fn inside one transaction on one connection. Rollback is
// guaranteed on every exit path, including panics; Commit wins only when fn
// returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FieldValue is one column assignment in a deal update, in caller order.
type FieldValue struct {
	Name  string
	Value any
}

// StageSnapshot is the post-update stage state denormalized into the audit
// row. Pointers because the columns are nullable.
type StageSnapshot struct {
	SalesStage    *string
	ForecastStage *string
	RiskSummary   *string
}

// UpdateDealFields applies one parameterized UPDATE setting the given
// columns plus last_updated_at, scoped to the (org, deal) pair. Field names
// must come from the category registry; values are always bound as
// parameters. Returns the number of rows matched.
func (s *Store) UpdateDealFields(ctx context.Context, tx pgx.Tx, orgID, dealID int64, fields []FieldValue) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	sets := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+2)
	for _, f := range fields {
		args = append(args, f.Value)
		sets = append(sets, fmt.Sprintf("%s = $%d", f.Name, len(args)))
	}
	sets = append(sets, "last_updated_at = NOW()")
	args = append(args, orgID, dealID)
	query := fmt.Sprintf("UPDATE deals SET %s WHERE org_id = $%d AND deal_id = $%d",
		strings.Join(sets, ", "), len(args)-1, len(args))

	ct, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// GetStageSnapshot re-reads the stage fields for the pair inside the
// transaction. Returns pgx.ErrNoRows when the deal does not exist.
func (s *Store) GetStageSnapshot(ctx context.Context, tx pgx.Tx, orgID, dealID int64) (StageSnapshot, error) {
	var snap StageSnapshot
	err := tx.QueryRow(ctx,
		`SELECT sales_stage, forecast_stage, risk_summary FROM deals WHERE org_id = $1 AND deal_id = $2`,
		orgID, dealID,
	).Scan(&snap.SalesStage, &snap.ForecastStage, &snap.RiskSummary)
	return snap, err
}

// RecomputeHealthScore sets health_score to the sum of the ten category
// score columns as currently persisted, shifting the previous
// score/timestamp baseline forward, and returns the new sum.
func (s *Store) RecomputeHealthScore(ctx context.Context, tx pgx.Tx, orgID, dealID int64) (int, error) {
	terms := make([]string, 0, len(category.All))
	for _, c := range category.All {
		terms = append(terms, fmt.Sprintf("COALESCE(%s, 0)", c.ScoreField()))
	}
	query := fmt.Sprintf(`
		UPDATE deals SET
			prev_health_score = health_score,
			prev_updated_at = last_updated_at,
			health_score = %s
		WHERE org_id = $1 AND deal_id = $2
		RETURNING health_score
	`, strings.Join(terms, " + "))

	var score int
	if err := tx.QueryRow(ctx, query, orgID, dealID).Scan(&score); err != nil {
		return 0, err
	}
	return score, nil
}

// InsertAuditEvent appends one immutable audit row inside the transaction.
func (s *Store) InsertAuditEvent(ctx context.Context, tx pgx.Tx, ev models.AuditEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO deal_audit_events (
			org_id, deal_id, run_id, call_id, actor_type, event_type,
			schema_version, prompt_version, logic_version,
			sales_stage, forecast_stage, risk_summary,
			health_score, max_score, delta, definitions, meta, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW())
	`, ev.OrgID, ev.DealID, ev.RunID, ev.CallID, ev.ActorType, ev.EventType,
		ev.SchemaVersion, ev.PromptVersion, ev.LogicVersion,
		ev.SalesStage, ev.ForecastStage, ev.RiskSummary,
		ev.HealthScore, ev.MaxScore, ev.Delta, ev.Definitions, ev.Meta)
	return err
}

// GetDealSnapshot returns the full deal row as a field map keyed by column
// name, the shape the confidence engine consumes.
func (s *Store) GetDealSnapshot(ctx context.Context, orgID, dealID int64) (map[string]any, error) {
	rows, err := s.Pool.Query(ctx, `SELECT * FROM deals WHERE org_id = $1 AND deal_id = $2`, orgID, dealID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectOneRow(rows, pgx.RowToMap)
}

func (s *Store) ListDeals(ctx context.Context, orgID int64, stage string, minScore, limit, offset int) ([]map[string]any, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT org_id, deal_id, closure_stage, sales_stage, forecast_stage, close_date,
		health_score, prev_health_score, risk_summary, next_steps, last_updated_at
		FROM deals`
	args := []any{orgID}
	wheres := []string{"org_id = $1"}
	if stage != "" {
		args = append(args, stage)
		wheres = append(wheres, fmt.Sprintf("sales_stage = $%d", len(args)))
	}
	if minScore > 0 {
		args = append(args, minScore)
		wheres = append(wheres, fmt.Sprintf("health_score >= $%d", len(args)))
	}
	query += " WHERE " + strings.Join(wheres, " AND ")
	query += " ORDER BY last_updated_at DESC NULLS LAST, deal_id ASC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var (
			org           int64
			deal          int64
			closureStage  *string
			salesStage    *string
			forecastStage *string
			closeDate     *time.Time
			healthScore   *int
			prevScore     *int
			riskSummary   *string
			nextSteps     *string
			updatedAt     *time.Time
		)
		if err := rows.Scan(&org, &deal, &closureStage, &salesStage, &forecastStage, &closeDate,
			&healthScore, &prevScore, &riskSummary, &nextSteps, &updatedAt); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{
			"org_id":            org,
			"deal_id":           deal,
			"closure_stage":     closureStage,
			"sales_stage":       salesStage,
			"forecast_stage":    forecastStage,
			"close_date":        closeDate,
			"health_score":      healthScore,
			"prev_health_score": prevScore,
			"risk_summary":      riskSummary,
			"next_steps":        nextSteps,
			"last_updated_at":   updatedAt,
		})
	}
	return out, rows.Err()
}

func (s *Store) ListAuditEvents(ctx context.Context, orgID, dealID int64, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, org_id, deal_id, run_id, call_id, actor_type, event_type,
			schema_version, prompt_version, logic_version,
			sales_stage, forecast_stage, risk_summary,
			health_score, max_score, delta, definitions, meta, created_at
		FROM deal_audit_events
		WHERE org_id = $1 AND deal_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, orgID, dealID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		var ev models.AuditEvent
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.DealID, &ev.RunID, &ev.CallID, &ev.ActorType, &ev.EventType,
			&ev.SchemaVersion, &ev.PromptVersion, &ev.LogicVersion,
			&ev.SalesStage, &ev.ForecastStage, &ev.RiskSummary,
			&ev.HealthScore, &ev.MaxScore, &ev.Delta, &ev.Definitions, &ev.Meta, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ImportDeals bulk-seeds deal rows. The aggregate is computed at import so
// read paths never see an unscored health column.
func (s *Store) ImportDeals(ctx context.Context, deals []models.Deal) (int64, error) {
	cols := []string{"org_id", "deal_id", "closure_stage", "sales_stage", "forecast_stage", "close_date"}
	for _, c := range category.All {
		cols = append(cols, c.ScoreField())
	}
	cols = append(cols, "risk_summary", "next_steps", "rep_comments", "health_score", "last_updated_at")

	now := time.Now().UTC()
	rows := make([][]any, 0, len(deals))
	for _, d := range deals {
		row := []any{d.OrgID, d.DealID, d.ClosureStage, d.SalesStage, d.ForecastStage, d.CloseDate}
		total := 0
		for _, c := range category.All {
			score := d.Scores[c.Key]
			total += score
			row = append(row, score)
		}
		row = append(row, d.RiskSummary, d.NextSteps, d.RepComments, total, now)
		rows = append(rows, row)
	}
	return s.Pool.CopyFrom(ctx, pgx.Identifier{"deals"}, cols, pgx.CopyFromRows(rows))
}
