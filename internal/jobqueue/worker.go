// Package jobqueue implements the server's background job worker: a
// dynamic-cadence tick loop that dequeues jobs into the orchestrator's
// runner pool and reconciles finished runners back into the store.
package jobqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/packetbbs/core/internal/bbsstore"
	"github.com/packetbbs/core/internal/metrics"
	"github.com/packetbbs/core/internal/orchestrator"
)

const (
	baseCadence    = 500 * time.Millisecond
	defaultInterval = 60 * time.Second
	quickInterval   = 8 * time.Second
	finalTick       = 5 * time.Second
)

// Worker drives the FIFO job queue: a fixed 0.5s base tick, gated by a
// dynamic interval that tightens when a request carries the `quick` var.
type Worker struct {
	store        *bbsstore.Store
	orchestrator *orchestrator.Orchestrator

	mu           sync.Mutex
	interval     time.Duration
	nextCheck    time.Time
	finalCheckAt time.Time
	hasFinal     bool

	stop    chan struct{}
	stopped int32
}

// New builds a Worker bound to store and orch, starting with the default
// 60s interval.
func New(store *bbsstore.Store, orch *orchestrator.Orchestrator) *Worker {
	return &Worker{
		store:        store,
		orchestrator: orch,
		interval:     defaultInterval,
		nextCheck:    time.Now(),
		stop:         make(chan struct{}),
	}
}

// Hint is called by the dispatcher whenever a request arrives and arms an
// immediate check. quick=true arms the 8s interval plus a one-shot 5s
// "final" tick after the quick window; quick=false resets the interval to
// the default 60s.
func (w *Worker) Hint(quick bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if quick {
		w.interval = quickInterval
		w.hasFinal = true
		w.finalCheckAt = time.Now().Add(finalTick)
	} else {
		w.interval = defaultInterval
	}
	w.nextCheck = time.Now()
}

// Run blocks, ticking at the base cadence and consulting the queue whenever
// the dynamic interval elapses, until Stop is called.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(baseCadence)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.maybeTick()
		}
	}
}

// Stop ends Run's loop. Safe to call once.
func (w *Worker) Stop() {
	if atomic.CompareAndSwapInt32(&w.stopped, 0, 1) {
		close(w.stop)
	}
}

func (w *Worker) maybeTick() {
	now := time.Now()
	w.mu.Lock()
	due := !now.Before(w.nextCheck)
	finalDue := w.hasFinal && !now.Before(w.finalCheckAt)
	if due {
		w.nextCheck = now.Add(w.interval)
	}
	if finalDue {
		w.hasFinal = false
	}
	w.mu.Unlock()

	if !due && !finalDue {
		return
	}
	w.tick()
}

// tick drains admittable jobs into new runners, then reconciles finished
// runners back into the store. Container eviction and orphan sweeps belong
// to the orchestrator's own manager loop, not this worker.
func (w *Worker) tick() {
	for w.orchestrator.RunnersAvailable() {
		jobID, ok, err := w.popNext()
		if err != nil {
			log.Error().Err(err).Msg("jobqueue: dequeue")
			return
		}
		if !ok {
			break
		}
		if err := w.startJob(jobID); err != nil {
			// Leave the job queued; it is retried on the next tick.
			log.Warn().Err(err).Int64("job", jobID).Msg("jobqueue: runner creation failed, will retry")
			return
		}
	}

	for _, r := range w.orchestrator.Reap() {
		w.reconcile(r)
	}
	w.reportQueueDepth()
}

func (w *Worker) reportQueueDepth() {
	depth, err := w.popDepth()
	if err != nil {
		return
	}
	metrics.JobsQueued.Set(float64(depth))
}

func (w *Worker) popDepth() (int, error) {
	var n int
	err := w.store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		n, err = tx.QueueDepth()
		return err
	})
	return n, err
}

func (w *Worker) popNext() (int64, bool, error) {
	var id int64
	var ok bool
	err := w.store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		id, ok, err = tx.DequeueJob()
		return err
	})
	return id, ok, err
}

func (w *Worker) startJob(jobID int64) error {
	var job bbsstore.Job
	err := w.store.Transaction(func(tx *bbsstore.Tx) error {
		var err error
		job, err = tx.GetJob(jobID)
		return err
	})
	if err != nil {
		return err
	}

	if _, err := w.orchestrator.NewRunner(job, job.Owner); err != nil {
		// Re-enqueue the job so it stays queued; it goes back at the tail,
		// so jobs queued after it are dequeued ahead of its retry.
		_ = w.store.Transaction(func(tx *bbsstore.Tx) error { return tx.EnqueueJob(jobID) })
		return err
	}
	metrics.JobsActive.Inc()
	return w.store.Transaction(func(tx *bbsstore.Tx) error { return tx.MarkJobStarted(jobID) })
}

func (w *Worker) reconcile(r *orchestrator.Runner) {
	status, code, stdout, stderr, artifact := r.Collect()
	err := w.store.Transaction(func(tx *bbsstore.Tx) error {
		return tx.FinishJob(r.JobID(), status, code, stdout, stderr, artifact)
	})
	if err != nil {
		log.Error().Err(err).Int64("job", r.JobID()).Msg("jobqueue: reconcile finished runner")
	}
	metrics.JobsActive.Dec()
	metrics.JobsFinishedTotal.WithLabelValues(string(status)).Inc()
}
