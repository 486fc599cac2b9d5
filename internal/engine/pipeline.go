package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kubeheal/remediator/internal/audit"
	"github.com/kubeheal/remediator/internal/classify"
	"github.com/kubeheal/remediator/internal/history"
	"github.com/kubeheal/remediator/internal/incident"
	"github.com/kubeheal/remediator/internal/metrics"
	"github.com/kubeheal/remediator/internal/policy"
)

// process runs one incident through classify -> evaluate -> guard ->
// execute and appends exactly one history record for its terminal outcome.
// It runs on the workload's worker goroutine, so everything here observes
// a consistent history for the workload.
//
// Processing is deliberately detached from the submitting caller's context:
// once an incident enters the pipeline it runs to a terminal, recorded
// outcome even if the caller stops waiting.
func (e *Engine) process(inc *incident.Incident) (*ActionResult, error) {
	start := time.Now()
	defer func() {
		metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	}()

	ctx := context.Background()
	now := e.now()

	cls := classify.Classify(inc)
	if cls.Unclassified {
		e.logger.Info("incident unclassified",
			"incident_id", inc.ID,
			"workload", inc.WorkloadRef.Key(),
			"reason", cls.Reason,
		)
	}

	act := e.policies.Evaluate(inc, policy.ClassifiedInput{
		Type:         cls.Type,
		CurrentValue: cls.CurrentValue,
		Unit:         cls.Unit,
		FieldPath:    cls.FieldPath,
		Unclassified: cls.Unclassified,
		Reason:       cls.Reason,
	})

	if act.Kind != policy.KindNoOp {
		pol, _ := e.policies.Lookup(cls.Type)

		records, err := e.store.Query(ctx, inc.WorkloadRef, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("engine: history query failed: %w", err)
		}

		if gres := e.guard.Check(act, pol, records, now); !gres.Approved {
			metrics.GuardRejections.WithLabelValues(gres.CheckName).Inc()
			return e.finish(ctx, inc, act, history.OutcomeRejected, gres.Reason, gres.Escalate, now)
		}
	}

	res := e.exec.Execute(ctx, act)

	result, err := e.finish(ctx, inc, act, res.Outcome, res.ReasonCode, false, now)
	if err != nil {
		return nil, err
	}

	if res.Outcome == history.OutcomeApplied && act.Kind == policy.KindPatchResourceSpec && e.auditor != nil {
		e.emitManifest(inc, act, res.ReasonCode, now)
	}
	return result, nil
}

// finish appends the single history record for this incident's terminal
// outcome and builds the caller-facing result. The append is durable
// before the result is returned; an append failure is surfaced instead of
// a result so no outcome is ever silently dropped.
func (e *Engine) finish(ctx context.Context, inc *incident.Incident, act policy.Action, outcome history.Outcome, reasonCode string, escalate bool, now time.Time) (*ActionResult, error) {
	rec := history.Record{
		WorkloadRef:  inc.WorkloadRef,
		IncidentID:   inc.ID,
		IncidentType: inc.Type,
		ActionKind:   string(act.Kind),
		FieldPath:    act.FieldPath,
		OldValue:     act.OldValue,
		NewValue:     act.NewValue,
		AppliedAt:    now,
		Outcome:      outcome,
		ReasonCode:   reasonCode,
	}
	if err := e.store.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("engine: history append failed: %w", err)
	}

	metrics.ActionOutcome.WithLabelValues(string(act.Kind), string(outcome)).Inc()

	e.logger.Info("incident resolved",
		"incident_id", inc.ID,
		"workload", inc.WorkloadRef.Key(),
		"action", string(act.Kind),
		"outcome", string(outcome),
		"reason", reasonCode,
	)

	result := &ActionResult{
		IncidentID:   inc.ID,
		IncidentType: inc.Type,
		WorkloadRef:  inc.WorkloadRef,
		Outcome:      outcome,
		ActionKind:   act.Kind,
		FieldPath:    act.FieldPath,
		ReasonCode:   reasonCode,
		Escalate:     escalate,
		CompletedAt:  now,
	}
	if act.Kind == policy.KindPatchResourceSpec {
		result.OldValue = act.OldFormatted()
		result.NewValue = act.NewFormatted()
	}
	return result, nil
}

func (e *Engine) emitManifest(inc *incident.Incident, act policy.Action, reasonCode string, now time.Time) {
	manifest := e.auditor.GenerateManifest(audit.Manifest{
		IncidentID:   inc.ID,
		IncidentType: string(inc.Type),
		WorkloadRef:  inc.WorkloadRef,
		ActionKind:   string(act.Kind),
		FieldPath:    act.FieldPath,
		OldValue:     act.OldFormatted(),
		NewValue:     act.NewFormatted(),
		AppliedAt:    now,
		ReasonCode:   reasonCode,
	})

	if data, err := manifest.ToJSON(); err == nil {
		e.logger.Info("remediation manifest", "manifest", string(data))
	}
}

// retainResult indexes a completed result for async lookup, evicting the
// oldest entry beyond the retention bound.
func (e *Engine) retainResult(res *ActionResult) {
	e.resultsMu.Lock()
	defer e.resultsMu.Unlock()

	if _, exists := e.results[res.IncidentID]; !exists {
		e.resultIDs = append(e.resultIDs, res.IncidentID)
		if len(e.resultIDs) > maxRetainedResults {
			oldest := e.resultIDs[0]
			e.resultIDs = e.resultIDs[1:]
			delete(e.results, oldest)
		}
	}
	e.results[res.IncidentID] = res
}
