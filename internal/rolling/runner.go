package rolling

import (
	"context"
	"fmt"
	"sync"

	"github.com/rcliao/avatar-memory/internal/logger"
)

// Compacter is the work a Runner executes.
type Compacter interface {
	MaybeCompact(ctx context.Context, job Job) error
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Enabled     bool
	QueueSize   int
	Synchronous bool // run jobs inline on Submit
}

// Runner executes compaction jobs on a single background goroutine so
// that compaction for one process is serialised. Submit never blocks;
// when the queue is full the job is dropped.
type Runner struct {
	log  *logger.Logger
	c    Compacter
	cfg  RunnerConfig
	jobs chan Job

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	stop   context.CancelFunc
	ctx    context.Context
}

func NewRunner(log *logger.Logger, c Compacter, cfg RunnerConfig) *Runner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		log:  log.With("service", "RollingRunner"),
		c:    c,
		cfg:  cfg,
		done: make(chan struct{}),
		ctx:  ctx,
		stop: cancel,
	}
	if !cfg.Enabled || cfg.Synchronous {
		close(r.done)
		return r
	}
	r.jobs = make(chan Job, cfg.QueueSize)
	go r.loop()
	return r
}

// Submit queues job. It reports whether the job was accepted.
func (r *Runner) Submit(ctx context.Context, job Job) bool {
	if r == nil || !r.cfg.Enabled {
		return false
	}
	if r.cfg.Synchronous {
		r.run(ctx, job)
		return true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.log.Warn("runner closed, dropping compaction job", "namespace", job.Namespace)
		return false
	}
	select {
	case r.jobs <- job:
		return true
	default:
		r.log.Warn("compaction queue full, dropping job", "namespace", job.Namespace, "queue_size", r.cfg.QueueSize)
		return false
	}
}

func (r *Runner) loop() {
	defer close(r.done)
	for job := range r.jobs {
		r.run(r.ctx, job)
	}
}

func (r *Runner) run(ctx context.Context, job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("compaction panicked", "namespace", job.Namespace, "panic", fmt.Sprint(rec))
		}
	}()
	if err := r.c.MaybeCompact(ctx, job); err != nil {
		r.log.Warn("compaction failed", "namespace", job.Namespace, "index", job.IndexName, "error", err)
	}
}

// Close stops intake and waits for queued jobs until ctx is done. Jobs
// still queued at that point are abandoned.
func (r *Runner) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		if r.jobs != nil {
			close(r.jobs)
		}
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		r.stop()
		return nil
	case <-ctx.Done():
		r.stop()
		return ctx.Err()
	}
}
