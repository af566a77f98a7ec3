package models

import "time"

// Deal is the bulk-import shape of an opportunity row. Read paths return
// full rows as field maps instead, because the table carries fifty-odd
// companion columns the analytical engines consume by name.
type Deal struct {
	OrgID         int64          `json:"org_id"`
	DealID        int64          `json:"deal_id"`
	ClosureStage  string         `json:"closure_stage"`
	SalesStage    string         `json:"sales_stage"`
	ForecastStage string         `json:"forecast_stage"`
	CloseDate     *time.Time     `json:"close_date,omitempty"`
	Scores        map[string]int `json:"scores"`
	RiskSummary   string         `json:"risk_summary"`
	NextSteps     string         `json:"next_steps"`
	RepComments   string         `json:"rep_comments"`
}

// AuditEvent is one immutable record of a save operation. Rows are
// insert-only; nothing in this engine updates or deletes them.
type AuditEvent struct {
	ID            int64     `json:"id"`
	OrgID         int64     `json:"org_id"`
	DealID        int64     `json:"deal_id"`
	RunID         string    `json:"run_id"`
	CallID        *string   `json:"call_id"`
	ActorType     string    `json:"actor_type"`
	EventType     string    `json:"event_type"`
	SchemaVersion int       `json:"schema_version"`
	PromptVersion int       `json:"prompt_version"`
	LogicVersion  int       `json:"logic_version"`
	SalesStage    *string   `json:"sales_stage"`
	ForecastStage *string   `json:"forecast_stage"`
	RiskSummary   *string   `json:"risk_summary"`
	HealthScore   int       `json:"health_score"`
	MaxScore      int       `json:"max_score"`
	Delta         []byte    `json:"delta"`
	Definitions   []byte    `json:"definitions"`
	Meta          []byte    `json:"meta"`
	CreatedAt     time.Time `json:"created_at"`
}
