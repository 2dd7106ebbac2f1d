package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// RunState tracks an asynchronous optimization through its lifecycle.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// Run is one asynchronous optimization. Result is set once State is
// RunCompleted; Error once RunFailed.
type Run struct {
	ID          string    `json:"id"`
	State       RunState  `json:"state"`
	Request     Request   `json:"request"`
	SubmittedAt time.Time `json:"submittedAt"`
	FinishedAt  time.Time `json:"finishedAt,omitzero"`
	Result      *Result   `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorCode   string    `json:"errorCode,omitempty"`
}

// maxRuns bounds the registry; the oldest finished runs are pruned first.
const maxRuns = 256

type runRegistry struct {
	mu    sync.Mutex
	runs  map[string]*Run
	order []string // insertion order for pruning
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*Run)}
}

// Submit validates the request and schedules an asynchronous solve. The
// returned run is a snapshot; poll Get for progress.
func (e *Engine) Submit(ctx context.Context, req Request) (Run, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return Run{}, err
	}

	run := &Run{
		ID:          uuid.NewString(),
		State:       RunPending,
		Request:     req,
		SubmittedAt: time.Now().UTC(),
	}
	e.runs.add(run)

	// The solve outlives the submitting HTTP request; it runs against the
	// background context with only the solver deadline bounding it.
	go func() {
		e.runs.setState(run.ID, RunRunning)
		res, err := e.Optimize(context.Background(), req)
		if err != nil {
			e.runs.finish(run.ID, nil, err)
			return
		}
		e.runs.finish(run.ID, &res, nil)
	}()

	return *run, nil
}

// GetRun returns a snapshot of one run.
func (e *Engine) GetRun(id string) (Run, bool) {
	return e.runs.get(id)
}

// ListRuns returns snapshots of all retained runs, newest first.
func (e *Engine) ListRuns() []Run {
	return e.runs.list()
}

func (r *runRegistry) add(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
	r.order = append(r.order, run.ID)
	r.prune()
}

// prune drops the oldest finished runs over the cap. Callers hold the lock.
func (r *runRegistry) prune() {
	if len(r.order) <= maxRuns {
		return
	}
	kept := r.order[:0]
	excess := len(r.order) - maxRuns
	for _, id := range r.order {
		run := r.runs[id]
		if excess > 0 && run != nil && (run.State == RunCompleted || run.State == RunFailed) {
			delete(r.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

func (r *runRegistry) setState(id string, state RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		run.State = state
	}
}

func (r *runRegistry) finish(id string, res *Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return
	}
	run.FinishedAt = time.Now().UTC()
	if err != nil {
		run.State = RunFailed
		run.Error = err.Error()
		run.ErrorCode = pricing.CodeOf(err)
		return
	}
	run.State = RunCompleted
	run.Result = res
}

func (r *runRegistry) get(id string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

func (r *runRegistry) list() []Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Run, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		if run, ok := r.runs[r.order[i]]; ok {
			out = append(out, *run)
		}
	}
	return out
}
