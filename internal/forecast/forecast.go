package forecast

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Forecast bucket labels.
const (
	ClosedWon  = "Closed Won"
	ClosedLost = "Closed Lost"
	Commit     = "Commit"
	BestCase   = "Best Case"
	Pipeline   = "Pipeline"
)

var (
	closedRe = regexp.MustCompile(`(?i)\b(won|lost|closed)\b`)
	wonRe    = regexp.MustCompile(`(?i)\bwon\b`)
	lostRe   = regexp.MustCompile(`(?i)\b(lost|closed)\b`)
)

// Bucket classifies a deal into one of the forecast labels from its
// aggregate health score and stage text. Stage candidates are evaluated in
// priority order (closure stage, sales stage, forecast stage); the first
// non-empty one wins. Pure and side-effect-free; returns ok=false when no
// classification applies.
func Bucket(healthScore any, closureStage, salesStage, forecastStage string) (string, bool) {
	stage := firstNonEmpty(closureStage, salesStage, forecastStage)

	if stage != "" && closedRe.MatchString(stage) {
		if wonRe.MatchString(stage) {
			return ClosedWon, true
		}
		if lostRe.MatchString(stage) {
			return ClosedLost, true
		}
		return "", false
	}

	score, ok := toFloat(healthScore)
	if !ok || math.IsNaN(score) || math.IsInf(score, 0) {
		return "", false
	}
	switch {
	case score >= 24:
		return Commit, true
	case score >= 18:
		return BestCase, true
	default:
		return Pipeline, true
	}
}

func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if s := strings.TrimSpace(c); s != "" {
			return s
		}
	}
	return ""
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
