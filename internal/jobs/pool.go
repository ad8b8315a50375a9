package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abhisek/mathbuddy/internal/logger"
)

type task struct {
	typ     string
	payload []byte
}

// Pool is an in-process Runner: a buffered channel drained by a fixed set of
// workers. Enqueue never blocks; a full buffer drops the task.
type Pool struct {
	log      *logger.Logger
	queue    chan task
	workers  int
	timeout  time.Duration
	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	// pending counts accepted tasks not yet processed. idle is closed
	// whenever pending drops to zero.
	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}
}

func NewPool(workers, buffer int, log *logger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 1
	}
	return &Pool{
		log:      log.With("service", "JobPool"),
		queue:    make(chan task, buffer),
		workers:  workers,
		timeout:  time.Minute,
		handlers: make(map[string]HandlerFunc),
	}
}

func (p *Pool) Handle(taskType string, h HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[taskType] = h
}

func (p *Pool) Enqueue(ctx context.Context, taskType string, payload any) error {
	b, err := encode(payload)
	if err != nil {
		return err
	}
	p.acquire()
	select {
	case p.queue <- task{typ: taskType, payload: b}:
		return nil
	default:
		p.release()
		return fmt.Errorf("%w: dropped %s", ErrQueueFull, taskType)
	}
}

// Run starts the workers and blocks until ctx is cancelled. Tasks still
// buffered at that point are processed before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}
	wg.Wait()

	drainCtx := context.WithoutCancel(ctx)
	for {
		select {
		case t := <-p.queue:
			p.process(drainCtx, t)
		default:
			return nil
		}
	}
}

// Flush waits until every accepted task has been processed or ctx ends.
// Tasks enqueued while Flush waits extend the wait.
func (p *Pool) Flush(ctx context.Context) error {
	p.pendingMu.Lock()
	if p.pending == 0 {
		p.pendingMu.Unlock()
		return nil
	}
	idle := p.idle
	p.pendingMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) acquire() {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if p.pending == 0 {
		p.idle = make(chan struct{})
	}
	p.pending++
}

func (p *Pool) release() {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	p.pending--
	if p.pending == 0 {
		close(p.idle)
	}
}

func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.queue:
			p.process(ctx, t)
		}
	}
}

func (p *Pool) process(ctx context.Context, t task) {
	defer p.release()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", "type", t.typ, "panic", r)
		}
	}()

	p.mu.RLock()
	h, ok := p.handlers[t.typ]
	p.mu.RUnlock()
	if !ok {
		p.log.Warn("no handler for task", "type", t.typ)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := h(ctx, t.payload); err != nil {
		p.log.Warn("task failed", "type", t.typ, "error", err)
	}
}
