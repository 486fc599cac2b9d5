// Package engine wires ingest, classification, policy, guard, executor and
// history into per-workload sequential pipelines. Incidents for distinct
// workloads run fully in parallel; incidents for the same workload are
// serialized through one lazily created worker so the policy engine always
// observes a consistent history and the executor never races itself.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kubeheal/remediator/internal/audit"
	"github.com/kubeheal/remediator/internal/executor"
	"github.com/kubeheal/remediator/internal/guard"
	"github.com/kubeheal/remediator/internal/history"
	"github.com/kubeheal/remediator/internal/incident"
	"github.com/kubeheal/remediator/internal/metrics"
	"github.com/kubeheal/remediator/internal/policy"
)

// ErrEngineClosed is returned for submissions after Close.
var ErrEngineClosed = errors.New("engine: closed")

// ActionResult is the terminal outcome returned to the caller for one
// processed incident.
type ActionResult struct {
	IncidentID   string               `json:"incidentId"`
	IncidentType incident.Type        `json:"incidentType"`
	WorkloadRef  incident.WorkloadRef `json:"workloadRef"`
	Outcome      history.Outcome      `json:"outcome"`
	ActionKind   policy.ActionKind    `json:"actionKind"`
	FieldPath    string               `json:"fieldPath,omitempty"`
	OldValue     string               `json:"oldValue,omitempty"`
	NewValue     string               `json:"newValue,omitempty"`
	ReasonCode   string               `json:"reasonCode"`
	Escalate     bool                 `json:"escalate,omitempty"`
	CompletedAt  time.Time            `json:"completedAt"`
}

// Config assembles the engine's collaborators.
type Config struct {
	Policies *policy.Table
	Store    history.Store
	Executor *executor.Executor
	Guard    *guard.Guard
	Auditor  *audit.Auditor // optional
	Logger   *slog.Logger

	// WorkerIdleTimeout tears down a per-workload worker after this long
	// without traffic. Zero means 2 minutes.
	WorkerIdleTimeout time.Duration

	// Now overrides the clock for tests.
	Now func() time.Time
}

type job struct {
	inc    *incident.Incident
	result chan jobResult
}

type jobResult struct {
	res *ActionResult
	err error
}

type worker struct {
	pending []job
	notify  chan struct{}
}

// Engine is the remediation decision engine.
type Engine struct {
	policies *policy.Table
	store    history.Store
	exec     *executor.Executor
	guard    *guard.Guard
	auditor  *audit.Auditor
	logger   *slog.Logger
	idleTTL  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool

	wg sync.WaitGroup

	resultsMu sync.RWMutex
	results   map[string]*ActionResult
	resultIDs []string
}

// maxRetainedResults bounds the in-memory result index used for async
// lookups; the history store remains the durable record.
const maxRetainedResults = 1024

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Policies == nil {
		return nil, fmt.Errorf("engine: policy table is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: history store is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("engine: executor is required")
	}
	if cfg.Guard == nil {
		cfg.Guard = guard.New(cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WorkerIdleTimeout <= 0 {
		cfg.WorkerIdleTimeout = 2 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Engine{
		policies: cfg.Policies,
		store:    cfg.Store,
		exec:     cfg.Executor,
		guard:    cfg.Guard,
		auditor:  cfg.Auditor,
		logger:   cfg.Logger,
		idleTTL:  cfg.WorkerIdleTimeout,
		now:      cfg.Now,
		workers:  make(map[string]*worker),
		results:  make(map[string]*ActionResult),
	}, nil
}

// Process ingests a raw event and runs it to its terminal outcome. The
// returned ActionResult is durable: its history record was appended before
// this returns.
func (e *Engine) Process(ctx context.Context, ev incident.RawEvent) (*ActionResult, error) {
	inc, err := incident.Normalize(ev)
	if err != nil {
		metrics.MalformedEvents.Inc()
		return nil, err
	}
	return e.ProcessIncident(ctx, inc)
}

// ProcessIncident runs an already-normalized incident through its
// workload's serial pipeline.
func (e *Engine) ProcessIncident(ctx context.Context, inc *incident.Incident) (*ActionResult, error) {
	metrics.IncidentsIngested.WithLabelValues(string(inc.Type)).Inc()

	resultCh, err := e.submit(inc)
	if err != nil {
		return nil, err
	}

	select {
	case jr := <-resultCh:
		if jr.res != nil {
			e.retainResult(jr.res)
		}
		return jr.res, jr.err
	case <-ctx.Done():
		// The worker still finishes the job and records its outcome; only
		// the caller stops waiting.
		return nil, ctx.Err()
	}
}

// Result returns a previously completed result by incident id, for async
// polling callers.
func (e *Engine) Result(id string) (*ActionResult, bool) {
	e.resultsMu.RLock()
	defer e.resultsMu.RUnlock()
	res, ok := e.results[id]
	return res, ok
}

// Close stops accepting work and waits for in-flight jobs to finish.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, w := range e.workers {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// submit enqueues a job on the workload's worker, creating it lazily.
// Enqueue and worker teardown both run under e.mu, so a job is never lost
// to a worker that is exiting.
func (e *Engine) submit(inc *incident.Incident) (chan jobResult, error) {
	key := inc.WorkloadRef.Key()
	j := job{inc: inc, result: make(chan jobResult, 1)}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}

	w, ok := e.workers[key]
	if !ok {
		w = &worker{notify: make(chan struct{}, 1)}
		e.workers[key] = w
		e.wg.Add(1)
		metrics.ActiveWorkers.Inc()
		go e.runWorker(key, w)
	}
	w.pending = append(w.pending, j)
	select {
	case w.notify <- struct{}{}:
	default:
	}
	return j.result, nil
}

// runWorker drains one workload's queue sequentially and tears itself down
// after the idle timeout.
func (e *Engine) runWorker(key string, w *worker) {
	defer e.wg.Done()

	idle := time.NewTimer(e.idleTTL)
	defer idle.Stop()

	for {
		e.mu.Lock()
		if len(w.pending) > 0 {
			j := w.pending[0]
			w.pending = w.pending[1:]
			e.mu.Unlock()

			res, err := e.process(j.inc)
			j.result <- jobResult{res: res, err: err}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(e.idleTTL)
			continue
		}
		closed := e.closed
		e.mu.Unlock()

		if closed {
			metrics.ActiveWorkers.Dec()
			return
		}

		select {
		case <-w.notify:
		case <-idle.C:
			e.mu.Lock()
			if len(w.pending) == 0 {
				delete(e.workers, key)
				e.mu.Unlock()
				metrics.ActiveWorkers.Dec()
				return
			}
			e.mu.Unlock()
			idle.Reset(e.idleTTL)
		}
	}
}
