package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/radvis/radvis-backend/internal/httpx"
	"github.com/radvis/radvis-backend/internal/logger"
	"github.com/radvis/radvis-backend/internal/sse"
)

// DefaultConcurrency is the per-client ceiling on jobs in flight. The
// ceiling applies per session; there is no global cap.
const DefaultConcurrency = 5

// Runner executes one job to its terminal state. Implemented by Pipeline;
// faked in tests.
type Runner interface {
	Process(ctx context.Context, job *Job) Result
}

// Pool drains one client's queue at bounded concurrency. One slow or
// failing job never blocks or aborts its siblings; every dequeued job ends
// in exactly one terminal progress event.
type Pool struct {
	clientID    string
	queue       *Queue
	runner      Runner
	hub         *sse.Hub
	log         *logger.Logger
	concurrency int

	running      atomic.Int32
	lastFinished atomic.Int64
	cancel       context.CancelFunc
	done         chan struct{}
}

func NewPool(clientID string, queue *Queue, runner Runner, hub *sse.Hub, baseLog *logger.Logger, concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Pool{
		clientID:    clientID,
		queue:       queue,
		runner:      runner,
		hub:         hub,
		log:         baseLog.With("component", "WorkerPool", "clientID", clientID),
		concurrency: concurrency,
		done:        make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go func() {
		defer close(p.done)

		g := new(errgroup.Group)
		g.SetLimit(p.concurrency)

		for {
			job, ok := p.queue.Dequeue(runCtx)
			if !ok {
				break
			}
			g.Go(func() error {
				p.runOne(runCtx, job)
				return nil
			})
		}
		_ = g.Wait()
		p.log.Info("Worker pool drained and stopped")
	}()
}

// Stop ends the dispatch loop; in-flight jobs run to completion.
func (p *Pool) Stop() {
	p.queue.Close()
	if p.cancel != nil {
		p.cancel()
	}
}

// Wait blocks until the dispatch loop and all in-flight jobs finish.
func (p *Pool) Wait() {
	<-p.done
}

// Running reports jobs currently executing.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// LastFinished is the wall time the most recent job completed, zero if none
// has.
func (p *Pool) LastFinished() time.Time {
	n := p.lastFinished.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (p *Pool) runOne(ctx context.Context, job *Job) {
	p.running.Add(1)
	defer func() {
		p.running.Add(-1)
		p.lastFinished.Store(time.Now().UnixNano())
	}()

	progress := (float64(job.Index+1) / float64(job.Total)) * 100
	p.hub.Send(job.ClientID, sse.Event{
		Status:   sse.StatusProcessing,
		FileName: job.File.Name,
		Progress: &progress,
	})

	result := p.process(ctx, job)
	p.emitTerminal(job, result)
}

// process runs the job with a panic guard: a panicking stage becomes a
// Failed result instead of taking the pool down.
func (p *Pool) process(ctx context.Context, job *Job) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Job panicked", "fileName", job.File.Name, "panic", r)
			result = Failed("panic", fmt.Errorf("panic: %v", r))
		}
	}()
	return p.runner.Process(ctx, job)
}

func (p *Pool) emitTerminal(job *Job, result Result) {
	switch result.Outcome {
	case OutcomeSucceeded:
		p.log.Info("Job completed", "fileName", job.File.Name)
		p.hub.Send(job.ClientID, sse.Event{
			Status:   sse.StatusCompleted,
			FileName: job.File.Name,
			Patient:  result.Patient,
			Xray:     result.Xray,
		})
	case OutcomeRejected:
		p.log.Info("Job rejected", "fileName", job.File.Name, "reason", result.Reason)
		p.hub.Send(job.ClientID, sse.Event{
			Status:   sse.StatusCompleted,
			FileName: job.File.Name,
			Message:  result.Reason,
		})
	default:
		p.log.Error("Job failed", "fileName", job.File.Name, "stage", result.Stage, "error", result.Err)
		ev := sse.Event{
			Status:   sse.StatusError,
			FileName: job.File.Name,
			Message:  result.Err.Error(),
		}
		if code, ok := httpx.StatusCodeOf(result.Err); ok {
			ev.ErrorCode = &code
		}
		p.hub.Send(job.ClientID, ev)
	}
}
