package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"athena-runner/internal/runner"
)

// QueryJob is a single query run submitted by the host.
type QueryJob struct {
	ID        string
	Query     string
	User      *runner.User
	Submitted time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueryJob allocates a run id and a lifecycle context for one query.
func NewQueryJob(query string, user *runner.User, timeout time.Duration) *QueryJob {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &QueryJob{
		ID:        uuid.New().String(),
		Query:     query,
		User:      user,
		Submitted: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

type queryRunner interface {
	RunQuery(ctx context.Context, sql string, user *runner.User) ([]byte, error)
}

type runStore interface {
	MarkRunning(id string) error
	MarkCompleted(id string, payload []byte, athenaQueryID string) error
	MarkFailed(id, message string, status RunStatus) error
}

// Pool executes query runs on a fixed set of workers. A separate semaphore
// caps in-flight engine queries so a burst of submissions cannot exhaust the
// workgroup's concurrency quota.
type Pool struct {
	jobQueue  chan *QueryJob
	workers   int
	engineSem *semaphore.Weighted
	wg        sync.WaitGroup
	quit      chan struct{}

	runner queryRunner
	store  runStore
	hub    *Hub

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewPool initializes the pool; call Start to begin processing.
func NewPool(workers int, maxEngineConcurrency int64, qr queryRunner, store runStore, hub *Hub) *Pool {
	return &Pool{
		jobQueue:  make(chan *QueryJob, 100),
		workers:   workers,
		engineSem: semaphore.NewWeighted(maxEngineConcurrency),
		quit:      make(chan struct{}),
		runner:    qr,
		store:     store,
		hub:       hub,
		active:    make(map[string]context.CancelFunc),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	slog.Info("Worker pool started", "workers", p.workers)
}

func (p *Pool) Submit(job *QueryJob) bool {
	select {
	case p.jobQueue <- job:
		return true
	case <-p.quit:
		return false
	default:
		// Queue full
		return false
	}
}

// CancelRun interrupts an in-flight run. The runner observes the cancelled
// context at its checkpoints and stops the remote execution.
func (p *Pool) CancelRun(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.active[id]
	if ok {
		cancel()
	}
	return ok
}

// Stop initiates graceful shutdown.
func (p *Pool) Stop() {
	close(p.quit)
	p.wg.Wait()
	slog.Info("Worker pool stopped")
}

func (p *Pool) workerLoop(id int) {
	defer p.wg.Done()
	slog.Debug("Worker started", "worker_id", id)

	for {
		select {
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.processJob(id, job)
		case <-p.quit:
			return
		}
	}
}

func (p *Pool) processJob(workerID int, job *QueryJob) {
	slog.Info("Processing run", "worker_id", workerID, "run_id", job.ID)
	defer job.cancel()

	p.mu.Lock()
	p.active[job.ID] = job.cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, job.ID)
		p.mu.Unlock()
	}()

	if err := p.store.MarkRunning(job.ID); err != nil {
		slog.Error("Failed to mark run as running", "run_id", job.ID, "error", err)
	}
	p.hub.Broadcast(RunEvent{Type: "run_start", RunID: job.ID, Status: string(StatusRunning)})

	if err := p.engineSem.Acquire(job.ctx, 1); err != nil {
		p.failJob(job, runner.ErrCancelled)
		return
	}
	data, err := p.runner.RunQuery(job.ctx, job.Query, job.User)
	p.engineSem.Release(1)

	if err != nil {
		p.failJob(job, err)
		return
	}

	athenaQueryID := ""
	rows := 0
	if len(data) > 0 {
		if result, perr := runner.ParseResult(data); perr == nil {
			athenaQueryID = result.Metadata.AthenaQueryID
			rows = len(result.Rows)
		}
	}

	if err := p.store.MarkCompleted(job.ID, data, athenaQueryID); err != nil {
		slog.Error("Failed to persist run result", "run_id", job.ID, "error", err)
	}
	p.hub.Broadcast(RunEvent{Type: "run_complete", RunID: job.ID, Status: string(StatusCompleted), Rows: rows})
	slog.Info("Run completed", "run_id", job.ID, "rows", rows, "wait", time.Since(job.Submitted).String())
}

func (p *Pool) failJob(job *QueryJob, err error) {
	status := StatusFailed
	eventType := "run_failed"
	if errors.Is(err, runner.ErrCancelled) {
		status = StatusCancelled
		eventType = "run_cancelled"
	}

	if serr := p.store.MarkFailed(job.ID, err.Error(), status); serr != nil {
		slog.Error("Failed to mark run as failed", "run_id", job.ID, "error", serr)
	}
	p.hub.Broadcast(RunEvent{Type: eventType, RunID: job.ID, Status: string(status), Error: err.Error()})
	slog.Warn("Run did not complete", "run_id", job.ID, "status", string(status), "error", err)
}
