package reputation

import (
	"math"

	"github.com/garl-protocol/trust-engine/internal/storage"
)

// Benchmark holds the expected speed and cost for one category, used to
// normalise the speed and cost-efficiency observations.
type Benchmark struct {
	SpeedMs float64
	CostUSD float64
}

// Benchmarks is the category lookup table from §4.2.
var Benchmarks = map[storage.Category]Benchmark{
	storage.CategoryCoding:     {SpeedMs: 10000, CostUSD: 0.05},
	storage.CategoryResearch:   {SpeedMs: 15000, CostUSD: 0.08},
	storage.CategorySales:      {SpeedMs: 5000, CostUSD: 0.03},
	storage.CategoryData:       {SpeedMs: 12000, CostUSD: 0.06},
	storage.CategoryAutomation: {SpeedMs: 8000, CostUSD: 0.04},
	storage.CategoryOther:      {SpeedMs: 10000, CostUSD: 0.05},
}

func benchmarkFor(cat storage.Category) Benchmark {
	if b, ok := Benchmarks[cat]; ok {
		return b
	}
	return Benchmarks[storage.CategoryOther]
}

const streakBonusCap = 10.0

// ReliabilityObservation scores a single trace's outcome. On success it
// adds a capped streak bonus using the agent's consecutive-success count
// as it stands AFTER this trace is counted.
func ReliabilityObservation(status storage.TraceStatus, consecutiveSuccessesAfter int) float64 {
	switch status {
	case storage.TraceSuccess:
		bonus := math.Min(streakBonusCap, float64(consecutiveSuccessesAfter))
		return clampScore(100 + bonus)
	case storage.TracePartial:
		return 60
	default:
		return 0
	}
}

// benchmarkRatioScore implements the shared "meeting benchmark scores 50,
// twice-as-fast/cheap scores 100" curve used by both speed and cost.
func benchmarkRatioScore(bench, actual float64) float64 {
	if actual <= 0 {
		actual = 1
	}
	ratio := clip(bench/actual, 0, 2)
	return 100 * ratio / 2
}

// SpeedObservation scores trace latency against the category benchmark.
// ok is false when duration is not present, in which case no EMA update
// should be applied for this dimension.
func SpeedObservation(cat storage.Category, durationMs int64) (obs float64, ok bool) {
	if durationMs <= 0 {
		return 0, false
	}
	bench := benchmarkFor(cat)
	return benchmarkRatioScore(bench.SpeedMs, float64(durationMs)), true
}

// CostObservation scores trace cost against the category benchmark. ok is
// false when cost was not reported.
func CostObservation(cat storage.Category, costUSD *float64) (obs float64, ok bool) {
	if costUSD == nil {
		return 0, false
	}
	bench := benchmarkFor(cat)
	return benchmarkRatioScore(bench.CostUSD, *costUSD), true
}

const (
	securityBaseline        = 50.0
	securityPermissionBonus = 2.0
	securityEventPenalty    = 10.0
)

// SecurityObservation scores a trace's security posture: a small bonus for
// declaring (and staying within) permissions, a larger penalty for a
// flagged security event.
func SecurityObservation(declaresPermissions bool, securityEvent bool) float64 {
	obs := securityBaseline
	if declaresPermissions && !securityEvent {
		obs += securityPermissionBonus
	}
	if securityEvent {
		obs -= securityEventPenalty
	}
	return clampScore(obs)
}

const (
	consistencyWindow    = 20
	consistencyMinSample = 5
	consistencyStdevCap  = 50.0
)

// ConsistencyObservation scores the stability of recent reliability
// observations: tight clustering scores near 100, wide swings score lower.
func ConsistencyObservation(recentReliabilityObservations []float64) float64 {
	n := len(recentReliabilityObservations)
	if n == 0 {
		return baselineScore
	}
	mean := 0.0
	for _, v := range recentReliabilityObservations {
		mean += v
	}
	mean /= float64(n)

	variance := 0.0
	for _, v := range recentReliabilityObservations {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)
	stdev := math.Sqrt(variance)

	return clampScore(100 - math.Min(consistencyStdevCap, stdev))
}
