package fitting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	fitq "github.com/wearlab/fitq"
	"github.com/wearlab/fitq/jobs"
)

// MaxAttempts bounds the inference retries on capacity exhaustion. Each
// retry halves the sample count; this degrades gracefully instead of
// retrying forever at full cost.
const MaxAttempts = 3

// terminalWriteTimeout bounds the store write that commits a task outcome,
// independently of what remains of the task's own deadline.
const terminalWriteTimeout = 5 * time.Second

// Handler drives a try-on task to a terminal state: it loads the durable
// job, runs the inference engine and commits the outcome. All failures are
// converted into terminal writes; the handler never lets a single task kill
// the worker.
type Handler struct {
	store   jobs.Store
	engine  Engine
	encoder fitq.Encoder
	tempDir string
	log     fitq.Logger
}

// NewHandler wires a handler against the given store and engine. tempDir is
// the only namespace from which input files may be deleted after processing.
func NewHandler(store jobs.Store, engine Engine, tempDir string, log fitq.Logger) *Handler {
	if log == nil {
		log = fitq.NewFmtLogger()
	}
	return &Handler{
		store:   store,
		engine:  engine,
		encoder: &fitq.JSONEncoder{},
		tempDir: tempDir,
		log:     log,
	}
}

// Register attaches the handler to both try-on task types.
func (h *Handler) Register(mux *fitq.Mux) {
	mux.Handle(TypeTryOn, h.Handle)
	mux.Handle(TypeFastTryOn, h.Handle)
}

// Handle processes one task. A returned error marks the task FAILED in the
// queue; the durable job record is updated here, not by the worker.
func (h *Handler) Handle(ctx context.Context, task *fitq.Task) error {
	var p TryOnPayload
	if err := h.encoder.Decode(task.Payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	p.normalize(task.Type)

	// Temporary inputs are removed whatever the outcome; anything outside
	// the temp namespace is user-owned and stays.
	defer h.cleanupTemp(p.ModelImagePath, p.ClothImagePath)

	if _, err := h.store.Get(ctx, p.JobID); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			// Orphaned task: the referenced job no longer exists. Fail the
			// task, never create or touch a job record, no retry.
			return fmt.Errorf("job %d not found", p.JobID)
		}
		return fmt.Errorf("load job %d: %w", p.JobID, err)
	}

	if err := h.store.MarkProcessing(ctx, p.JobID); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			h.log.Infof("job %d canceled before processing, dropping task %s", p.JobID, task.ID)
			return nil
		}
		return fmt.Errorf("mark processing: %w", err)
	}

	results, err := h.tryOnWithRetry(ctx, p)

	// Terminal store writes run on their own deadline: an engine call that
	// exhausted the task budget must still leave the job FAILED, not stuck
	// in PROCESSING.
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	if err != nil {
		msg := fitq.Truncate(err.Error(), jobs.ErrorLimit)
		if ferr := h.store.MarkFailed(tctx, p.JobID, msg); ferr != nil && !errors.Is(ferr, jobs.ErrNotFound) {
			h.log.Errorf("job %d: failure write failed: %v", p.JobID, ferr)
		}
		return err
	}

	if len(results) > jobs.MaxResults {
		results = results[:jobs.MaxResults]
	}
	if err := h.store.MarkCompleted(tctx, p.JobID, results); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			// Canceled mid-flight; the terminal write fails silently.
			h.log.Infof("job %d canceled during processing, discarding %d results", p.JobID, len(results))
			return nil
		}
		return fmt.Errorf("mark completed: %w", err)
	}
	h.log.Infof("job %d completed with %d results", p.JobID, len(results))
	return nil
}

// tryOnWithRetry calls the engine, retrying capacity failures with halved
// sample counts. Fatal errors surface immediately.
func (h *Handler) tryOnWithRetry(ctx context.Context, p TryOnPayload) ([]string, error) {
	req := Request{
		ModelImagePath: p.ModelImagePath,
		ClothImagePath: p.ClothImagePath,
		Category:       p.Category,
		ModelType:      p.ModelType,
		Scale:          p.Scale,
		Samples:        p.Samples,
	}
	for attempt := 1; ; attempt++ {
		results, err := h.engine.TryOn(ctx, req)
		if err == nil {
			if len(results) == 0 {
				return nil, fmt.Errorf("inference produced no results")
			}
			return results, nil
		}
		if !errors.Is(err, ErrCapacity) || attempt >= MaxAttempts {
			return nil, err
		}
		if req.Samples > 1 {
			req.Samples /= 2
		}
		h.log.Warnf("job %d: capacity exhausted (attempt %d/%d), retrying with samples=%d",
			p.JobID, attempt, MaxAttempts, req.Samples)
	}
}

// cleanupTemp removes input files, but only those under the temp namespace.
// Paths outside it are never deleted, so failure paths cannot destroy
// user-owned source data.
func (h *Handler) cleanupTemp(paths ...string) {
	if h.tempDir == "" {
		return
	}
	for _, p := range paths {
		if p == "" || !underDir(h.tempDir, p) {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			h.log.Warnf("temp cleanup failed: %s: %v", p, err)
		}
	}
}

// underDir reports whether path lies within dir.
func underDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
