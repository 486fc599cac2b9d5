// Package guard validates candidate remediation actions against
// per-workload bounds before execution. Checks are pure functions over the
// workload's history slice; no cluster access happens here.
package guard

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kubeheal/remediator/internal/history"
	"github.com/kubeheal/remediator/internal/policy"
)

// Reason codes for guard vetoes.
const (
	ReasonCooldownActive      = "cooldown-active"
	ReasonRateLimited         = "rate-limited"
	ReasonOscillationDetected = "oscillation-detected"
)

// Result is the outcome of the guard checks for one candidate action.
type Result struct {
	Approved  bool
	Reason    string
	CheckName string
	// Escalate marks rejections that need a human: the engine never retries
	// them automatically.
	Escalate bool
}

// Guard applies cooldown, rate-limit and oscillation checks.
type Guard struct {
	logger *slog.Logger
}

// New creates a safety guard.
func New(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{logger: logger}
}

// Check validates a candidate against the workload's history. NoOp actions
// pass untouched: they mutate nothing, so there is nothing to bound.
// Records must be ordered by AppliedAt ascending, as Store.Query returns.
func (g *Guard) Check(act policy.Action, pol *policy.Policy, records []history.Record, now time.Time) Result {
	if act.Kind == policy.KindNoOp || pol == nil {
		return Result{Approved: true}
	}

	if res := g.checkCooldown(act, pol, records, now); !res.Approved {
		return res
	}
	if res := g.checkRateLimit(act, pol, records, now); !res.Approved {
		return res
	}
	if res := g.checkOscillation(act, records); !res.Approved {
		return res
	}

	return Result{Approved: true}
}

// checkCooldown rejects when the most recent Applied record for the same
// workload and incident type is younger than the policy cooldown. NoOp
// records mutate nothing and never hold the cooldown, even though their
// outcome is recorded as Applied.
func (g *Guard) checkCooldown(act policy.Action, pol *policy.Policy, records []history.Record, now time.Time) Result {
	if pol.Cooldown <= 0 {
		return Result{Approved: true, CheckName: "cooldown"}
	}

	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.Outcome != history.OutcomeApplied || rec.IncidentType != pol.IncidentType || rec.ActionKind == string(policy.KindNoOp) {
			continue
		}
		if age := now.Sub(rec.AppliedAt); age < pol.Cooldown {
			g.logger.Warn("action rejected: cooldown active",
				"workload", act.WorkloadRef.Key(),
				"incident_type", pol.IncidentType,
				"age", age,
				"cooldown", pol.Cooldown,
			)
			return Result{
				Reason:    ReasonCooldownActive,
				CheckName: "cooldown",
			}
		}
		break
	}
	return Result{Approved: true, CheckName: "cooldown"}
}

// checkRateLimit rejects when the count of Applied records inside the
// rolling window already meets the policy bound.
func (g *Guard) checkRateLimit(act policy.Action, pol *policy.Policy, records []history.Record, now time.Time) Result {
	if pol.MaxActionsPerWindow <= 0 || pol.Window <= 0 {
		return Result{Approved: true, CheckName: "rate_limit"}
	}

	windowStart := now.Add(-pol.Window)
	applied := 0
	for _, rec := range records {
		if rec.Outcome == history.OutcomeApplied && rec.ActionKind != string(policy.KindNoOp) && !rec.AppliedAt.Before(windowStart) {
			applied++
		}
	}

	if applied >= pol.MaxActionsPerWindow {
		g.logger.Warn("action rejected: rate limit reached",
			"workload", act.WorkloadRef.Key(),
			"applied_in_window", applied,
			"max_per_window", pol.MaxActionsPerWindow,
			"window", pol.Window,
		)
		return Result{
			Reason:    ReasonRateLimited,
			CheckName: "rate_limit",
		}
	}
	return Result{Approved: true, CheckName: "rate_limit"}
}

// checkOscillation rejects an increase of a field whose immediately
// preceding Applied record decreased it. This ping-pong pattern means the
// policy loop is unstable and needs manual intervention, so the rejection
// is flagged for escalation.
func (g *Guard) checkOscillation(act policy.Action, records []history.Record) Result {
	if act.Kind != policy.KindPatchResourceSpec || act.NewValue <= act.OldValue {
		return Result{Approved: true, CheckName: "oscillation"}
	}

	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if rec.Outcome != history.OutcomeApplied || rec.FieldPath != act.FieldPath {
			continue
		}
		if rec.NewValue < rec.OldValue {
			g.logger.Warn("action rejected: oscillation detected",
				"workload", act.WorkloadRef.Key(),
				"field", act.FieldPath,
				"previous", fmt.Sprintf("%d->%d", rec.OldValue, rec.NewValue),
				"candidate", fmt.Sprintf("%d->%d", act.OldValue, act.NewValue),
			)
			return Result{
				Reason:    ReasonOscillationDetected,
				CheckName: "oscillation",
				Escalate:  true,
			}
		}
		break
	}
	return Result{Approved: true, CheckName: "oscillation"}
}
