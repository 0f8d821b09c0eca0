package fitting

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fitq "github.com/wearlab/fitq"
	"github.com/wearlab/fitq/jobs"
)

func newService(t *testing.T) (*Service, jobs.Store, *fitq.TaskQueue) {
	t.Helper()
	broker := newMiniBroker(t)
	queue := fitq.NewTaskQueue(broker, "svc")
	store := jobs.NewMemoryStore()
	return NewService(store, queue, t.TempDir(), nil), store, queue
}

func completedJob(t *testing.T, store jobs.Store, ownerID int64, results []string) *jobs.Job {
	t.Helper()
	ctx := context.Background()
	job := &jobs.Job{OwnerID: ownerID, ModelImagePath: "m.png", ClothImagePath: "c.png"}
	require.NoError(t, store.Create(ctx, job))
	require.NoError(t, store.MarkProcessing(ctx, job.ID))
	require.NoError(t, store.MarkCompleted(ctx, job.ID, results))
	return job
}

func TestService_StartSchedulesTask(t *testing.T) {
	svc, store, queue := newService(t)
	ctx := context.Background()

	jobID, err := svc.Start(ctx, 5, StartRequest{ModelImagePath: "m.png", ClothImagePath: "c.png"})
	require.NoError(t, err)

	job, err := store.Get(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, fitq.StatusQueued, job.Status)
	require.Equal(t, int64(5), job.OwnerID)

	info, err := queue.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), info.Queued)
}

// Broker down at submission: the job is created, marked FAILED with a
// scheduling message, and the id is still returned for polling.
func TestService_StartWithBrokerDownFailsJob(t *testing.T) {
	broker := fitq.NewBroker(fitq.BrokerConfig{Addr: "127.0.0.1:1"}, fitq.NewFmtLogger())
	defer broker.Close()
	queue := fitq.NewTaskQueue(broker, "svc-down")
	store := jobs.NewMemoryStore()
	svc := NewService(store, queue, t.TempDir(), nil)
	ctx := context.Background()

	jobID, err := svc.Start(ctx, 5, StartRequest{ModelImagePath: "m.png", ClothImagePath: "c.png"})
	require.NoError(t, err)
	require.NotZero(t, jobID)

	job, err := store.Get(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, fitq.StatusFailed, job.Status)
	require.Contains(t, job.ErrorMessage, "queue unavailable")
}

type brokenEncoder struct{}

func (brokenEncoder) Encode(any) ([]byte, error) { return nil, errors.New("unsupported payload") }
func (brokenEncoder) Decode([]byte, any) error   { return errors.New("unsupported payload") }

// A scheduling failure that is not the broker's fault must not claim the
// queue was unavailable.
func TestService_StartEncodeFailureMessage(t *testing.T) {
	broker := newMiniBroker(t)
	queue := fitq.NewTaskQueue(broker, "svc-enc", fitq.WithEncoder(brokenEncoder{}))
	store := jobs.NewMemoryStore()
	svc := NewService(store, queue, t.TempDir(), nil)
	ctx := context.Background()

	jobID, err := svc.Start(ctx, 5, StartRequest{ModelImagePath: "m.png", ClothImagePath: "c.png"})
	require.NoError(t, err)

	job, err := store.Get(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, fitq.StatusFailed, job.Status)
	require.Contains(t, job.ErrorMessage, "could not be scheduled")
	require.NotContains(t, job.ErrorMessage, "queue unavailable")
}

func TestService_StatusScopedToOwner(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	job := completedJob(t, store, 5, []string{"r.png"})

	got, err := svc.Status(ctx, job.ID, 5)
	require.NoError(t, err)
	require.Equal(t, job.ID, got.ID)

	_, err = svc.Status(ctx, job.ID, 6)
	require.ErrorIs(t, err, jobs.ErrNotFound, "foreign owner must not see the job")
}

func TestService_FinalizeMovesSelectionAndCleansUp(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	resultsDir := t.TempDir()
	results := make([]string, 3)
	for i := range results {
		results[i] = filepath.Join(resultsDir, "r"+string(rune('0'+i))+".png")
		require.NoError(t, os.WriteFile(results[i], []byte("img"), 0o644))
	}
	job := completedJob(t, store, 5, results)

	fit, err := svc.Finalize(ctx, job.ID, 5, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), fit.OwnerID)

	data, err := os.ReadFile(fit.ImageURL)
	require.NoError(t, err)
	require.Equal(t, []byte("img"), data, "selected result copied to permanent storage")

	for _, p := range results {
		_, err := os.Stat(p)
		require.True(t, os.IsNotExist(err), "transient result %s must be deleted", p)
	}
	_, err = store.Get(ctx, job.ID)
	require.ErrorIs(t, err, jobs.ErrNotFound, "job record is spent after finalize")
}

func TestService_FinalizeRequiresCompletedJob(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	job := &jobs.Job{OwnerID: 5}
	require.NoError(t, store.Create(ctx, job))

	_, err := svc.Finalize(ctx, job.ID, 5, 0)
	require.ErrorIs(t, err, ErrNotCompleted)
}

func TestService_FinalizeRejectsBadSelection(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	job := completedJob(t, store, 5, []string{"a.png", "b.png"})

	for _, sel := range []int{-1, 2, 99} {
		_, err := svc.Finalize(ctx, job.ID, 5, sel)
		require.ErrorIs(t, err, ErrBadSelection, "selection %d", sel)
	}
}

func TestService_CancelDeletesOwnedJob(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	job := &jobs.Job{OwnerID: 5}
	require.NoError(t, store.Create(ctx, job))

	require.ErrorIs(t, svc.Cancel(ctx, job.ID, 6), jobs.ErrNotFound)
	require.NoError(t, svc.Cancel(ctx, job.ID, 5))
	_, err := store.Get(ctx, job.ID)
	require.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestService_QueueInfo(t *testing.T) {
	svc, _, queue := newService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := queue.Enqueue(ctx, TypeTryOn, TryOnPayload{JobID: int64(i)})
		require.NoError(t, err)
	}
	info, err := svc.QueueInfo(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), info.Queued)
	require.Equal(t, int64(0), info.Processing)
}

// Full pipeline against a live worker: submit, wait for completion, finalize.
func TestService_EndToEndWithWorker(t *testing.T) {
	broker := newMiniBroker(t)
	queue := fitq.NewTaskQueue(broker, "svc-e2e")
	store := jobs.NewMemoryStore()
	svc := NewService(store, queue, t.TempDir(), nil)
	ctx := context.Background()

	resultsDir := t.TempDir()
	engine := EngineFunc(func(ctx context.Context, req Request) ([]string, error) {
		p := filepath.Join(resultsDir, "out.png")
		if err := os.WriteFile(p, []byte("img"), 0o644); err != nil {
			return nil, err
		}
		return []string{p}, nil
	})

	mux := fitq.NewMux()
	NewHandler(store, engine, "", nil).Register(mux)
	w := fitq.NewWorker(queue, mux, fitq.WorkerConfig{
		DequeueTimeout: time.Second,
		IdleSleep:      10 * time.Millisecond,
	})
	w.Start()
	defer w.Stop()

	jobID, err := svc.Start(ctx, 9, StartRequest{ModelImagePath: "m.png", ClothImagePath: "c.png"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := svc.Status(ctx, jobID, 9)
		return err == nil && job.Status == fitq.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	fit, err := svc.Finalize(ctx, jobID, 9, 0)
	require.NoError(t, err)
	_, err = os.Stat(fit.ImageURL)
	require.NoError(t, err)
}
