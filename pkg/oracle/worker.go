package oracle

import (
	"context"
	"sync"

	"github.com/latchvision/latchvision/internal/vlog"
)

// Verifier is the interface the Oracle worker calls for each dequeued
// candidate. Implemented by pkg/verify.Gate; kept as an interface here
// so oracle has no import-time dependency on verify or ledger.
type Verifier interface {
	Verify(ctx context.Context, c Candidate) error
}

// Worker drains a Queue in FIFO order on a single background goroutine
// and hands each candidate to a Verifier, running in parallel with the
// hot loop (spec.md §5: exactly one background worker for the
// Oracle->Verify->Ledger path).
//
// Modeled on this codebase's async embedding worker: a cancellable
// context, a trigger channel to wake the loop promptly, and a
// WaitGroup for graceful shutdown.
type Worker struct {
	queue    *Queue
	verifier Verifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	trigger chan struct{}
}

// NewWorker starts a background worker draining queue into verifier.
func NewWorker(queue *Queue, verifier Verifier) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		queue:    queue,
		verifier: verifier,
		ctx:      ctx,
		cancel:   cancel,
		trigger:  make(chan struct{}, 1),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Notify wakes the worker to drain the queue. The worker does not poll:
// candidates enqueued without a following Notify wait for the next one.
func (w *Worker) Notify() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Shutdown stops accepting new enqueues, lets the worker finish
// whatever candidate it is currently verifying, then abandons the rest
// of the queue. No partial Ledger write is ever produced because the
// worker only appends after a candidate has fully been verified
// (spec.md §5).
func (w *Worker) Shutdown() {
	w.queue.Close()
	w.cancel()
	w.wg.Wait()

	abandoned := w.queue.Drain()
	if len(abandoned) > 0 {
		vlog.Info("oracle worker abandoned pending candidates on shutdown", vlog.Fields{
			"count": len(abandoned),
		})
	}
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.trigger:
			w.drainAvailable()
		}
	}
}

// drainAvailable verifies every candidate currently queued, stopping
// early if shutdown begins mid-drain.
func (w *Worker) drainAvailable() {
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}
		c, ok := w.queue.Dequeue()
		if !ok {
			return
		}
		if err := w.verifier.Verify(w.ctx, c); err != nil {
			vlog.Warn("verify failed for candidate", vlog.Fields{
				"sequence": c.Sequence,
				"error":    err.Error(),
			})
		}
	}
}
