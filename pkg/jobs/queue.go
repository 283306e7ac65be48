package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueSaturated is returned by Submit when the buffer is full.
var ErrQueueSaturated = errors.New("job queue saturated")

// ErrQueueClosed is returned by Submit after Stop.
var ErrQueueClosed = errors.New("job queue closed")

// Task points a worker at one persisted job row. Tasks carry no payload:
// workers reload the row by ID, so a retry always sees the current state
// and a task lost to a crash costs nothing but the trigger.
type Task struct {
	JobID string
	Kind  string
}

// Runner executes one task. A nil error acknowledges the task; anything
// else triggers the retry cycle.
type Runner func(ctx context.Context, task Task) error

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	Workers int
	Depth   int
	Retries int
	Backoff time.Duration
	Logger  *zap.Logger
}

// Pool runs tasks on a fixed set of goroutines fed from a bounded buffer.
// Submit accepts tasks before Start; they sit in the buffer until workers
// come up. Retries happen inside the worker that failed, with a linear
// backoff between attempts, so a flaky task never multiplies goroutines.
type Pool struct {
	name    string
	run     Runner
	retries int
	backoff time.Duration
	workers int
	logger  *zap.Logger

	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewPool builds a pool for the given runner.
func NewPool(name string, run Runner, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Depth <= 0 {
		cfg.Depth = cfg.Workers * 8
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Pool{
		name:    name,
		run:     run,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		workers: cfg.Workers,
		logger:  cfg.Logger,
		tasks:   make(chan Task, cfg.Depth),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	p.started = true
	p.logger.Info("worker pool started",
		zap.String("pool", p.name),
		zap.Int("workers", p.workers))
}

// Stop refuses further tasks, cancels in-flight work and waits for the
// workers to exit. Buffered tasks that never started are dropped; their
// job rows stay queued in the database for the next process.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	if started {
		p.cancel()
		p.wg.Wait()
	}
	p.logger.Info("worker pool stopped", zap.String("pool", p.name))
}

// Submit queues a task without blocking. A full buffer is an error the
// caller must surface, not silently wait out.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueSaturated
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.tasks:
			p.attempt(task)
		}
	}
}

func (p *Pool) attempt(task Task) {
	var err error
	for try := 0; try <= p.retries; try++ {
		if try > 0 {
			timer := time.NewTimer(time.Duration(try) * p.backoff)
			select {
			case <-p.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if err = p.run(p.ctx, task); err == nil {
			return
		}
		p.logger.Warn("task attempt failed",
			zap.String("pool", p.name),
			zap.String("job_id", task.JobID),
			zap.String("kind", task.Kind),
			zap.Int("attempt", try+1),
			zap.Error(err))
	}
	p.logger.Error("task abandoned after retries",
		zap.String("pool", p.name),
		zap.String("job_id", task.JobID),
		zap.String("kind", task.Kind),
		zap.Error(err))
}
