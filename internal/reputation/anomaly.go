package reputation

import "github.com/garl-protocol/trust-engine/internal/storage"

const (
	durationSpikeMultiplier = 5.0
	costSpikeMultiplier     = 10.0
	unexpectedFailureFloor  = 90.0
)

// anomalySnapshot is the agent state immediately before the trace being
// scored is folded in. duration_spike and cost_spike compare this trace
// against what the agent's history looked like up to, but not including,
// it, so ApplyTrace must capture this before it touches the running
// averages.
type anomalySnapshot struct {
	totalTraces       int
	avgDurationMs     float64
	totalCostUSD      float64
	last50SuccessRate float64
}

// detectAnomalies evaluates the three statistically-unusual-behaviour rules
// against one trace and the snapshot of agent history preceding it.
// Detection only runs once an agent has at least AnomalyMinTraces total
// traces (counting this one); a fresh agent's first handful of traces are
// too noisy to flag. When two or more distinct anomaly types fire on the
// same trace, all of them escalate to critical.
func detectAnomalies(cfg Config, totalTracesAfter int, t *storage.Trace, snap anomalySnapshot, now int64) []storage.AnomalyFlag {
	if totalTracesAfter < cfg.AnomalyMinTraces {
		return nil
	}

	var flags []storage.AnomalyFlag

	if t.Status == storage.TraceFailure && snap.last50SuccessRate >= unexpectedFailureFloor {
		flags = append(flags, storage.AnomalyFlag{
			Type:    storage.AnomalyUnexpectedFailure,
			Message: "failure from an agent with a strong recent success record",
		})
	}

	if snap.totalTraces > 0 && snap.avgDurationMs > 0 &&
		float64(t.DurationMs) > durationSpikeMultiplier*snap.avgDurationMs {
		flags = append(flags, storage.AnomalyFlag{
			Type:    storage.AnomalyDurationSpike,
			Message: "trace duration far exceeds the agent's running average",
		})
	}

	if t.CostUSD != nil && snap.totalTraces > 0 && snap.totalCostUSD > 0 {
		avgCost := snap.totalCostUSD / float64(snap.totalTraces)
		if *t.CostUSD > costSpikeMultiplier*avgCost {
			flags = append(flags, storage.AnomalyFlag{
				Type:    storage.AnomalyCostSpike,
				Message: "trace cost far exceeds the agent's running average",
			})
		}
	}

	severity := storage.SeverityWarning
	if len(flags) >= 2 {
		severity = storage.SeverityCritical
	}
	for i := range flags {
		flags[i].Severity = severity
		flags[i].DetectedAt = now
	}

	return flags
}

// autoClearAnomalies archives every non-critical flag together once the
// agent's current consecutive-success streak has reached
// AnomalyClearThreshold. It reads the single shared clean-streak counter
// the engine already tracks for the reliability bonus, which only a
// non-success trace resets to 0. A flag raised on a success trace does not
// reset the streak, so it can be archived after fewer than
// AnomalyClearThreshold later traces. Critical flags never auto-clear.
// Callers only invoke this when the current trace produced no new
// anomaly; a trace that itself triggers a flag never clears in the same
// pass.
func autoClearAnomalies(cfg Config, flags []storage.AnomalyFlag, consecutiveSuccessesAfter int) {
	if consecutiveSuccessesAfter < cfg.AnomalyClearThreshold {
		return
	}
	for i := range flags {
		if flags[i].Severity != storage.SeverityCritical {
			flags[i].Archived = true
		}
	}
}
