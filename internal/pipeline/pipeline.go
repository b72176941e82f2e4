// Package pipeline feeds image files through the before-image-saved hook
// one at a time.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"solveeverylight/internal/imaging"
)

// ErrQueueFull is returned by Submit when the queue has no room.
var ErrQueueFull = errors.New("job queue is full")

// Job asks for one image file to be processed as if it were being saved.
type Job struct {
	ID     string `json:"id"`
	Path   string `json:"path"`
	Source string `json:"source"` // "watch", "cli", "api"
}

// Result captures the outcome of a Job.
type Result struct {
	Job      Job                   `json:"job"`
	Frame    *imaging.Frame        `json:"frame,omitempty"`
	Headers  []imaging.HeaderEntry `json:"headers,omitempty"`
	Sidecar  string                `json:"sidecar,omitempty"`
	Duration time.Duration         `json:"duration"`
	Error    error                 `json:"-"`
}

// Solved reports whether the handlers added any headers.
func (r Result) Solved() bool { return len(r.Headers) > 0 }

// Processor executes a job and returns a Result.
type Processor interface {
	Process(ctx context.Context, job Job) Result
}

// Pipeline runs jobs on a single worker. Save handlers share one status
// object, so jobs are never processed concurrently.
type Pipeline struct {
	processor Processor
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
	stopped   bool
}

// New starts a pipeline with room for queueSize pending jobs.
func New(ctx context.Context, processor Processor, queueSize int, logger *slog.Logger) *Pipeline {
	if queueSize < 1 {
		queueSize = 16
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		processor: processor,
		log:       logger,
		jobs:      make(chan Job, queueSize),
		cancel:    cancel,
		subs:      make(map[int]chan Result),
	}
	p.wg.Add(1)
	go p.worker(ctx)
	return p
}

// Submit adds a job to the processing queue.
func (p *Pipeline) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return errors.New("pipeline stopped")
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop signals the worker to exit and waits for it.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()

		p.cancel()
		p.wg.Wait()

		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			start := time.Now()
			res := p.processor.Process(ctx, job)
			res.Job = job
			res.Duration = time.Since(start)

			if res.Error != nil {
				p.log.Error("job failed", "id", job.ID, "path", job.Path, "error", res.Error)
			} else {
				p.log.Debug("job finished", "id", job.ID, "path", job.Path, "headers", len(res.Headers), "sidecar", res.Sidecar)
			}
			p.broadcast(res)
		}
	}
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
