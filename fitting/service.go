package fitting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	fitq "github.com/wearlab/fitq"
	"github.com/wearlab/fitq/jobs"
)

// ErrNotCompleted is returned when a result is selected from a job that has
// not completed.
var ErrNotCompleted = errors.New("fitting: job is not completed")

// ErrBadSelection is returned when the selected result index is out of range.
var ErrBadSelection = errors.New("fitting: invalid result selection")

// Service is the submission/status boundary: it creates durable jobs,
// schedules tasks and owns the finalize path, which is the only way a
// completed job record is ever deleted.
type Service struct {
	store       jobs.Store
	queue       *fitq.TaskQueue
	selectedDir string
	log         fitq.Logger
}

// NewService wires the service. selectedDir receives finalized images.
func NewService(store jobs.Store, queue *fitq.TaskQueue, selectedDir string, log fitq.Logger) *Service {
	if log == nil {
		log = fitq.NewFmtLogger()
	}
	return &Service{store: store, queue: queue, selectedDir: selectedDir, log: log}
}

// StartRequest carries the submission inputs.
type StartRequest struct {
	ModelImagePath string  `json:"model_image_path"`
	ClothImagePath string  `json:"cloth_image_path"`
	Category       int     `json:"category"`
	ModelType      string  `json:"model_type"`
	Scale          float64 `json:"scale"`
	Samples        int     `json:"samples"`
	// Fast selects the low-sample preview pipeline.
	Fast bool `json:"fast"`
}

// Start creates a QUEUED job and schedules its task. When the broker is
// unreachable the job is immediately marked FAILED — it was never scheduled —
// and the id is still returned so the client can poll the failure.
func (s *Service) Start(ctx context.Context, ownerID int64, req StartRequest) (int64, error) {
	job := &jobs.Job{
		OwnerID:        ownerID,
		ModelImagePath: req.ModelImagePath,
		ClothImagePath: req.ClothImagePath,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}

	taskType := TypeTryOn
	if req.Fast {
		taskType = TypeFastTryOn
	}
	payload := TryOnPayload{
		JobID:          job.ID,
		OwnerID:        ownerID,
		ModelImagePath: req.ModelImagePath,
		ClothImagePath: req.ClothImagePath,
		Category:       req.Category,
		ModelType:      req.ModelType,
		Scale:          req.Scale,
		Samples:        req.Samples,
	}

	taskID, err := s.queue.Enqueue(ctx, taskType, payload)
	if err != nil {
		s.log.Errorf("job %d: scheduling failed: %v", job.ID, err)
		msg := "task could not be scheduled"
		if errors.Is(err, fitq.ErrBrokerUnavailable) {
			msg = "task could not be scheduled: queue unavailable"
		}
		if merr := s.store.MarkFailed(ctx, job.ID, msg); merr != nil {
			s.log.Errorf("job %d: failure write failed: %v", job.ID, merr)
		}
		return job.ID, nil
	}
	s.log.Infof("job %d scheduled as task %s (%s)", job.ID, taskID, taskType)
	return job.ID, nil
}

// Status returns the job, scoped to its owner.
func (s *Service) Status(ctx context.Context, jobID, ownerID int64) (*jobs.Job, error) {
	return s.store.GetOwned(ctx, jobID, ownerID)
}

// Finalize copies the selected result into permanent storage, records the
// fitting, then deletes the remaining transient results and the job record.
func (s *Service) Finalize(ctx context.Context, jobID, ownerID int64, selection int) (*jobs.Fitting, error) {
	job, err := s.store.GetOwned(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	if job.Status != fitq.StatusCompleted {
		return nil, ErrNotCompleted
	}
	if selection < 0 || selection >= len(job.Results) {
		return nil, ErrBadSelection
	}

	finalPath, err := s.copySelected(job.Results[selection], ownerID)
	if err != nil {
		return nil, fmt.Errorf("persist selection: %w", err)
	}

	fit, err := s.store.CreateFitting(ctx, ownerID, finalPath)
	if err != nil {
		return nil, err
	}

	// Transient results are spent once a selection is persisted.
	for _, p := range job.Results {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.log.Warnf("result cleanup failed: %s: %v", p, err)
		}
	}
	if err := s.store.Delete(ctx, jobID); err != nil && !errors.Is(err, jobs.ErrNotFound) {
		s.log.Warnf("job %d: delete after finalize failed: %v", jobID, err)
	}
	s.log.Infof("job %d finalized as fitting %d", jobID, fit.ID)
	return fit, nil
}

// Cancel deletes the job record. A worker holding the task observes the
// missing record on its terminal write and stops silently.
func (s *Service) Cancel(ctx context.Context, jobID, ownerID int64) error {
	if _, err := s.store.GetOwned(ctx, jobID, ownerID); err != nil {
		return err
	}
	return s.store.Delete(ctx, jobID)
}

// QueueInfo reports queue counters for admission-control decisions upstream.
func (s *Service) QueueInfo(ctx context.Context) (fitq.Info, error) {
	return s.queue.Info(ctx)
}

func (s *Service) copySelected(src string, ownerID int64) (string, error) {
	if err := os.MkdirAll(s.selectedDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("user_%d_%d_%s.png", ownerID, time.Now().Unix(), uuid.NewString()[:8])
	dst := filepath.Join(s.selectedDir, name)

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return "", err
	}
	return dst, nil
}
