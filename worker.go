package fitq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"
)

// ErrorLimit bounds stored failure messages, matching the durable column width.
const ErrorLimit = 1000

// statusWriteTimeout bounds the terminal status write that follows a handler,
// independently of how much of the handler budget remains.
const statusWriteTimeout = 5 * time.Second

// WorkerConfig defines the configuration for a Worker.
type WorkerConfig struct {
	// Concurrency is the number of consumer loops. Defaults to 1; the usual
	// deployment runs several single-loop worker processes instead.
	Concurrency int
	// DequeueTimeout bounds each blocking pop. Defaults to 10s.
	DequeueTimeout time.Duration
	// IdleSleep is the pause after an empty dequeue. Defaults to 1s.
	IdleSleep time.Duration
	// ErrorSleep is the backoff after a dequeue failure. Defaults to 5s.
	ErrorSleep time.Duration
	// HandlerTimeout is the wall-clock bound on a single task, covering the
	// external inference call. Defaults to 30m.
	HandlerTimeout time.Duration
	// Logger is the logger used for worker events.
	Logger Logger
}

// Worker is the consumer loop bridging the task queue to registered handlers.
// It pulls tasks, dispatches by type and writes the matching terminal status
// back to the queue. A single task failure never kills the worker.
type Worker struct {
	queue   *TaskQueue
	mux     *Mux
	cfg     WorkerConfig
	log     Logger
	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorker creates a worker consuming the given queue.
func NewWorker(queue *TaskQueue, mux *Mux, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 10 * time.Second
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = time.Second
	}
	if cfg.ErrorSleep <= 0 {
		cfg.ErrorSleep = 5 * time.Second
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Minute
	}
	l := cfg.Logger
	if l == nil {
		l = NewFmtLogger()
	}
	return &Worker{queue: queue, mux: mux, cfg: cfg, log: l}
}

// Start launches the consumer loops. It is idempotent and non-blocking.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.started {
		w.log.Warnf("worker already started; ignoring Start()")
		w.mu.Unlock()
		return
	}
	w.started = true
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.mu.Unlock()

	w.log.Infof("starting worker: concurrency=%d queue=%s", w.cfg.Concurrency, w.queue.Name())
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.Run(ctx)
		}()
	}
}

// Stop signals the loops to exit and waits for any in-progress task to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.log.Warnf("worker not started; ignoring Stop()")
		w.mu.Unlock()
		return
	}
	w.started = false
	cancel := w.cancel
	w.mu.Unlock()

	w.log.Infof("stopping worker")
	cancel()
	w.wg.Wait()
}

// Run executes one consumer loop until ctx is canceled. Cancellation is
// observed between tasks only: a task already claimed is always driven to a
// terminal status before the loop exits.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := w.queue.Dequeue(ctx, w.cfg.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Errorf("dequeue failed: queue=%s err=%v", w.queue.Name(), err)
			w.sleep(ctx, w.cfg.ErrorSleep)
			continue
		}
		if task == nil {
			w.sleep(ctx, w.cfg.IdleSleep)
			continue
		}
		w.process(ctx, task)
	}
}

// process runs the handler for one task and writes the terminal status.
// The handler context is detached from shutdown cancellation so a stop signal
// drains the task instead of abandoning it mid-write, and bounded by the
// configured wall-clock timeout.
func (w *Worker) process(ctx context.Context, task *Task) {
	w.log.Infof("processing: id=%s type=%s queue=%s", task.ID, task.Type, task.Queue)

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.HandlerTimeout)
	defer cancel()

	err := w.dispatch(hctx, task)

	// The terminal write gets its own deadline: a handler that burned the
	// whole HandlerTimeout must still end up FAILED, not stuck PROCESSING.
	sctx, scancel := context.WithTimeout(context.WithoutCancel(hctx), statusWriteTimeout)
	defer scancel()

	if err != nil {
		if errors.Is(err, ErrNoHandler) {
			w.log.Warnf("no handler for task: id=%s type=%s", task.ID, task.Type)
		} else {
			w.log.Errorf("handler error: id=%s type=%s err=%v", task.ID, task.Type, err)
		}
		upd := &StatusUpdate{Error: Truncate(err.Error(), ErrorLimit)}
		if uerr := w.queue.UpdateStatus(sctx, task.ID, StatusFailed, upd); uerr != nil {
			w.log.Errorf("status write failed: id=%s err=%v", task.ID, uerr)
		}
		return
	}

	if uerr := w.queue.UpdateStatus(sctx, task.ID, StatusCompleted, nil); uerr != nil {
		w.log.Errorf("status write failed: id=%s err=%v", task.ID, uerr)
	}
	w.log.Infof("completed: id=%s type=%s", task.ID, task.Type)
}

// dispatch contains handler panics so a misbehaving task cannot take the
// worker process down with it.
func (w *Worker) dispatch(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.mux.dispatch(ctx, task)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Truncate bounds s to at most n bytes for storage in fixed-width columns,
// backing off to a rune boundary so the result stays valid UTF-8.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
