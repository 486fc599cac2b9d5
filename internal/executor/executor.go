package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/kubeheal/remediator/internal/history"
	"github.com/kubeheal/remediator/internal/metrics"
	"github.com/kubeheal/remediator/internal/policy"
)

// Terminal reason codes produced by the executor.
const (
	ReasonApplied           = "applied"
	ReasonTerminated        = "terminated"
	ReasonConflictExhausted = "conflict-exhausted"
	ReasonWorkloadGone      = "workload-gone"
	ReasonFieldNotFound     = "field-not-found"
	ReasonTerminateFailed   = "terminate-failed"
)

// Config bounds the read-modify-write retry loop. Retry count and backoff
// are data, not recursion.
type Config struct {
	// MaxAttempts is the total number of read-modify-write cycles tried
	// before giving up with conflict-exhausted.
	MaxAttempts int
	// RetryBackoff is the base delay between attempts; attempt n waits
	// n * RetryBackoff.
	RetryBackoff time.Duration
	// AttemptTimeout bounds one read-modify-write cycle. Exceeding it
	// counts as a failed attempt.
	AttemptTimeout time.Duration
}

// Result is the executor's terminal verdict for one action.
type Result struct {
	Outcome    history.Outcome
	ReasonCode string
	Attempts   int
}

// Executor applies approved actions against the cluster.
type Executor struct {
	cluster ClusterClient
	cfg     Config
	logger  *slog.Logger
}

// New creates an executor. Zero config fields get safe defaults.
func New(cluster ClusterClient, cfg Config, logger *slog.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cluster: cluster, cfg: cfg, logger: logger}
}

// Execute runs one approved action to a terminal outcome. NoOp performs no
// cluster mutation and reports Applied with the originating reason.
func (x *Executor) Execute(ctx context.Context, act policy.Action) Result {
	switch act.Kind {
	case policy.KindNoOp:
		return Result{Outcome: history.OutcomeApplied, ReasonCode: act.Reason}
	case policy.KindPatchResourceSpec:
		return x.executePatch(ctx, act)
	case policy.KindTerminateInstance:
		return x.executeTerminate(ctx, act)
	default:
		return Result{Outcome: history.OutcomeFailed, ReasonCode: fmt.Sprintf("unsupported action kind %q", act.Kind)}
	}
}

// executePatch performs the optimistic-concurrency read-modify-write loop:
// read current value and version, verify the field still carries oldValue,
// write back under the version token. Conflicts and per-attempt timeouts
// retry up to the bound; workload deletion and an unresolvable field path
// are terminal immediately, since retrying cannot change either.
func (x *Executor) executePatch(ctx context.Context, act policy.Action) Result {
	for attempt := 1; attempt <= x.cfg.MaxAttempts; attempt++ {
		err := x.patchOnce(ctx, act)
		if err == nil {
			return Result{Outcome: history.OutcomeApplied, ReasonCode: ReasonApplied, Attempts: attempt}
		}

		if errors.Is(err, ErrWorkloadGone) {
			x.logger.Warn("workload deleted while action in flight",
				"workload", act.WorkloadRef.Key(),
				"attempt", attempt,
			)
			return Result{Outcome: history.OutcomeFailed, ReasonCode: ReasonWorkloadGone, Attempts: attempt}
		}
		if errors.Is(err, ErrFieldNotFound) {
			x.logger.Warn("field path does not resolve on the workload",
				"workload", act.WorkloadRef.Key(),
				"field", act.FieldPath,
			)
			return Result{Outcome: history.OutcomeFailed, ReasonCode: ReasonFieldNotFound, Attempts: attempt}
		}
		if ctx.Err() != nil {
			return Result{Outcome: history.OutcomeFailed, ReasonCode: ReasonConflictExhausted, Attempts: attempt}
		}

		x.logger.Warn("patch attempt failed",
			"workload", act.WorkloadRef.Key(),
			"field", act.FieldPath,
			"attempt", attempt,
			"error", err,
		)

		if attempt < x.cfg.MaxAttempts {
			metrics.ExecuteRetries.Inc()
			select {
			case <-time.After(time.Duration(attempt) * x.cfg.RetryBackoff):
			case <-ctx.Done():
				return Result{Outcome: history.OutcomeFailed, ReasonCode: ReasonConflictExhausted, Attempts: attempt}
			}
		}
	}

	return Result{Outcome: history.OutcomeFailed, ReasonCode: ReasonConflictExhausted, Attempts: x.cfg.MaxAttempts}
}

func (x *Executor) patchOnce(parent context.Context, act policy.Action) error {
	ctx, cancel := context.WithTimeout(parent, x.cfg.AttemptTimeout)
	defer cancel()

	current, version, err := x.cluster.ReadField(ctx, act.WorkloadRef, act.FieldPath)
	if err != nil {
		return err
	}

	if !valuesEqual(current, act.OldFormatted()) {
		return fmt.Errorf("%w: field %s is %q, expected %q", ErrVersionConflict, act.FieldPath, current, act.OldFormatted())
	}

	return x.cluster.WriteFieldIfVersion(ctx, act.WorkloadRef, act.FieldPath, act.NewFormatted(), version)
}

// executeTerminate issues direct termination for each listed instance.
// Not spec-mutating, so no version guard; an already-gone instance counts
// as success.
func (x *Executor) executeTerminate(parent context.Context, act policy.Action) Result {
	ctx, cancel := context.WithTimeout(parent, x.cfg.AttemptTimeout)
	defer cancel()

	for _, ref := range act.InstanceRefs {
		err := x.cluster.Terminate(ctx, ref)
		if err != nil && !errors.Is(err, ErrInstanceNotFound) {
			x.logger.Error("instance termination failed", "instance", ref.String(), "error", err)
			return Result{Outcome: history.OutcomeFailed, ReasonCode: ReasonTerminateFailed, Attempts: 1}
		}
		if errors.Is(err, ErrInstanceNotFound) {
			x.logger.Info("instance already gone", "instance", ref.String())
		}
	}
	return Result{Outcome: history.OutcomeApplied, ReasonCode: ReasonTerminated, Attempts: 1}
}

// valuesEqual compares resource values semantically where both sides parse
// as Kubernetes quantities ("96Mi" == "96Mi", "0.1" == "100m"), falling
// back to string equality.
func valuesEqual(a, b string) bool {
	if a == b {
		return true
	}
	qa, errA := resource.ParseQuantity(a)
	qb, errB := resource.ParseQuantity(b)
	if errA != nil || errB != nil {
		return false
	}
	return qa.Cmp(qb) == 0
}
