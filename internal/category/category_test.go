package category

import "testing"

func TestDetectFixedOrder(t *testing.T) {
	args := map[string]any{
		"budget_score":    3,
		"champion_tip":    "find one",
		"metrics_summary": "ARR uplift",
	}
	c, ok := Detect(args)
	if !ok {
		t.Fatalf("expected a detected category")
	}
	if c.Key != "metrics" {
		t.Fatalf("expected metrics to win by canonical order, got %s", c.Key)
	}
}

func TestDetectNone(t *testing.T) {
	args := map[string]any{
		"org_id":       7,
		"risk_summary": "no EB",
	}
	if _, ok := Detect(args); ok {
		t.Fatalf("expected no category for non-companion fields")
	}
}

func TestWritableRegistry(t *testing.T) {
	if got := len(WritableFields()); got != 53 {
		t.Fatalf("expected 53 writable fields (10x5 + 3), got %d", got)
	}
	for _, f := range []string{"pain_score", "economic_buyer_title", "risk_summary", "next_steps", "rep_comments"} {
		if !IsWritable(f) {
			t.Fatalf("expected %s to be writable", f)
		}
	}
	for _, f := range []string{"org_id", "deal_id", "health_score", "unrelated_field", "pain_scored"} {
		if IsWritable(f) {
			t.Fatalf("expected %s to be rejected", f)
		}
	}
}

func TestMaxAggregate(t *testing.T) {
	if MaxAggregate != 30 {
		t.Fatalf("expected max aggregate 30, got %d", MaxAggregate)
	}
}
