package diagnostic

// trendBand is the per-run slope magnitude below which the score is
// considered stable.
const trendBand = 0.5

// Trend summarizes score movement across a snapshot history.
type Trend struct {
	Slope     float64 `json:"slope"` // score points per run
	Direction string  `json:"direction"`
}

// direction labels a per-run delta or slope.
func direction(d float64) string {
	switch {
	case d > trendBand:
		return "improving"
	case d < -trendBand:
		return "degrading"
	default:
		return "stable"
	}
}

// ScoreTrend fits a least-squares line through the intelligence scores
// by run index and labels the slope. Fewer than two snapshots is stable
// with slope zero.
func ScoreTrend(history []Snapshot) Trend {
	n := len(history)
	if n < 2 {
		return Trend{Direction: "stable"}
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, s := range history {
		x := float64(i)
		sumX += x
		sumY += s.IntelligenceScore
		sumXY += x * s.IntelligenceScore
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return Trend{Direction: "stable"}
	}
	slope := (fn*sumXY - sumX*sumY) / denom
	return Trend{Slope: slope, Direction: direction(slope)}
}
