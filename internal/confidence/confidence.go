package confidence

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dealscope/backend/internal/category"
)

// Source classifies who or what produced the deal's current scores.
type Source string

const (
	SourceRep     Source = "rep_reported"
	SourceAI      Source = "ai_extracted"
	SourceManager Source = "manager_override"
	SourceDefault Source = "system_default"
)

// Extraction-confidence hints, meaningful only for SourceAI.
const (
	HintHigh   = "high"
	HintMedium = "medium"
	HintLow    = "low"
)

// staleDaysUnknown stands in for a missing or unparseable last-update
// timestamp: maximally stale rather than an error.
const staleDaysUnknown = 999

// Result is the recomputed-on-read confidence assessment. It is never
// persisted by this engine.
type Result struct {
	Score     int            `json:"score"`
	Band      string         `json:"band"`
	Summary   string         `json:"summary"`
	Source    Source         `json:"source"`
	Evidence  string         `json:"evidence,omitempty"`
	Breakdown map[string]int `json:"breakdown"`
}

// Input carries one confidence computation. Snapshot is the deal row as a
// flat field map; Now defaults to time.Now when zero.
type Input struct {
	Snapshot     map[string]any
	Source       Source
	Extraction   string
	IngestionRef string
	Now          time.Time
}

var sourcePoints = map[Source]int{
	SourceRep:     15,
	SourceManager: 12,
	SourceAI:      8,
	SourceDefault: 5,
}

var sourceLabels = map[Source]string{
	SourceRep:     "sales rep",
	SourceManager: "manager override",
	SourceAI:      "AI note extraction",
	SourceDefault: "system default",
}

// Score computes the 0-100 confidence score, band and rationale for a deal
// snapshot. It is pure and never fails: malformed numeric or date fields
// coerce to zero or to the maximally-stale state.
func Score(in Input) Result {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	scored, gaps := coverage(in.Snapshot)
	coveragePts := int(math.Round(float64(scored) / float64(len(category.All)) * 50))

	staleDays := daysSinceUpdate(in.Snapshot, now)
	recencyPts := recencyPoints(staleDays)

	srcPts, ok := sourcePoints[in.Source]
	if !ok {
		srcPts = sourcePoints[SourceDefault]
	}

	evidencePts := 0
	if in.Source == SourceAI {
		switch in.Extraction {
		case HintHigh:
			evidencePts = 10
		case HintMedium:
			evidencePts = 5
		}
	}

	penalty := timePenalty(in.Snapshot, now, staleDays)

	raw := coveragePts + recencyPts + srcPts + evidencePts - penalty
	score := clamp(raw, 0, 100)
	band := bandFor(score)

	return Result{
		Score:    score,
		Band:     band,
		Summary:  summarize(band, scored, staleDays, in.Source, gaps, penalty > 0),
		Source:   in.Source,
		Evidence: in.IngestionRef,
		Breakdown: map[string]int{
			"coverage": coveragePts,
			"recency":  recencyPts,
			"source":   srcPts,
			"evidence": evidencePts,
			"penalty":  -penalty,
		},
	}
}

// coverage counts categories with a finite score above zero and collects
// up to two gap labels in canonical order.
func coverage(snapshot map[string]any) (int, []string) {
	scored := 0
	var gaps []string
	for _, c := range category.All {
		v, ok := toFloat(snapshot[c.ScoreField()])
		if ok && !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0 {
			scored++
			continue
		}
		if len(gaps) < 2 {
			gaps = append(gaps, c.Label)
		}
	}
	return scored, gaps
}

func daysSinceUpdate(snapshot map[string]any, now time.Time) int {
	t, ok := toTime(snapshot["last_updated_at"])
	if !ok {
		return staleDaysUnknown
	}
	days := int(now.Sub(t).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func recencyPoints(staleDays int) int {
	switch {
	case staleDays <= 3:
		return 25
	case staleDays <= 7:
		return 20
	case staleDays <= 14:
		return 12
	case staleDays <= 30:
		return 5
	default:
		return 0
	}
}

// timePenalty fires when the close date is near but the scores are stale.
// Deals without a parseable close date are never penalized.
func timePenalty(snapshot map[string]any, now time.Time, staleDays int) int {
	closeDate, ok := toTime(snapshot["close_date"])
	if !ok {
		return 0
	}
	daysToClose := int(closeDate.Sub(now).Hours() / 24)
	switch {
	case daysToClose <= 14 && staleDays > 7:
		return 10
	case daysToClose <= 30 && staleDays > 14:
		return 5
	default:
		return 0
	}
}

func bandFor(score int) string {
	switch {
	case score >= 75:
		return "high"
	case score >= 45:
		return "medium"
	default:
		return "low"
	}
}

func summarize(band string, scored, staleDays int, src Source, gaps []string, penalized bool) string {
	label, ok := sourceLabels[src]
	if !ok {
		label = sourceLabels[SourceDefault]
	}
	base := fmt.Sprintf("%d/10 categories scored, %s, reported by %s.",
		scored, recencyPhrase(staleDays), label)

	var b strings.Builder
	switch band {
	case "high":
		b.WriteString("Strong data quality: " + base)
	case "medium":
		b.WriteString("Moderate data quality: " + base)
	default:
		b.WriteString("Low data quality: " + base)
	}

	if band != "high" {
		if len(gaps) > 0 {
			b.WriteString(" Key gaps: " + strings.Join(gaps, ", ") + ".")
		}
		if penalized {
			b.WriteString(" Close date is approaching while scores are going stale.")
		}
	}
	return b.String()
}

func recencyPhrase(staleDays int) string {
	switch {
	case staleDays >= staleDaysUnknown:
		return "never updated"
	case staleDays == 0:
		return "updated today"
	case staleDays == 1:
		return "updated 1 day ago"
	default:
		return fmt.Sprintf("updated %d days ago", staleDays)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case int16:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case *time.Time:
		if val == nil {
			return time.Time{}, false
		}
		return *val, true
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
