package fitq

import (
	"context"
	"sync"
	"testing"
	"time"

	mrd "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	ikeys "github.com/wearlab/fitq/internal/keys"
)

func newMiniBroker(t *testing.T) (*Broker, *mrd.Miniredis) {
	t.Helper()
	s := mrd.RunT(t)
	b := NewBroker(BrokerConfig{Addr: s.Addr()}, NewFmtLogger())
	t.Cleanup(func() { _ = b.Close() })
	return b, s
}

func rawClient(t *testing.T, s *mrd.Miniredis) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestTaskQueue_Enqueue_Basics(t *testing.T) {
	b, s := newMiniBroker(t)
	q := NewTaskQueue(b, "q-enq")
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "virtual_fitting", map[string]int64{"job_id": 1})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rdb := rawClient(t, s)
	nPending, _ := rdb.LLen(ctx, ikeys.Pending("q-enq")).Result()
	require.Equal(t, int64(1), nPending)

	rec, err := q.GetStatus(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, StatusQueued, rec.Status)

	// status record carries the TTL
	require.Greater(t, s.TTL(ikeys.Status("q-enq", id)), time.Duration(0))
}

func TestTaskQueue_Enqueue_ExplicitID(t *testing.T) {
	b, _ := newMiniBroker(t)
	q := NewTaskQueue(b, "q-id")

	id, err := q.Enqueue(context.Background(), "t", nil, WithTaskID("task-1"))
	require.NoError(t, err)
	require.Equal(t, "task-1", id)
}

// Scenario: task enqueued, no worker running. A bounded dequeue on an empty
// queue times out with (nil, nil) and the task status still reads QUEUED.
func TestTaskQueue_Dequeue_TimeoutLeavesQueued(t *testing.T) {
	b, _ := newMiniBroker(t)
	q := NewTaskQueue(b, "q-timeout")
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "virtual_fitting", map[string]any{"job_id": 1, "type": "fitting"})
	require.NoError(t, err)

	// drain the single task, then the next pop must time out
	task, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)

	task2, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Nil(t, task2, "timeout must return nil task, nil error")

	rec, err := q.GetStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, rec.Status)
}

func TestTaskQueue_Dequeue_MarksProcessing(t *testing.T) {
	b, s := newMiniBroker(t)
	q := NewTaskQueue(b, "q-deq")
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "virtual_fitting", map[string]int64{"job_id": 3})
	require.NoError(t, err)

	task, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, id, task.ID)
	require.Equal(t, "virtual_fitting", task.Type)
	require.Equal(t, StatusProcessing, task.Status)

	rdb := rawClient(t, s)
	isMember, _ := rdb.SIsMember(ctx, ikeys.Processing("q-deq"), id).Result()
	require.True(t, isMember, "dequeued id must join the in-flight set")

	rec, err := q.GetStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, rec.Status)
}

func TestTaskQueue_UpdateStatus_TerminalClearsInFlight(t *testing.T) {
	b, s := newMiniBroker(t)
	q := NewTaskQueue(b, "q-upd")
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "t", nil)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.UpdateStatus(ctx, id, StatusCompleted, &StatusUpdate{Results: []string{"out1.png"}}))

	rdb := rawClient(t, s)
	isMember, _ := rdb.SIsMember(ctx, ikeys.Processing("q-upd"), id).Result()
	require.False(t, isMember, "terminal status must leave the in-flight set")

	rec, err := q.GetStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)
	require.Equal(t, []string{"out1.png"}, rec.Results)
}

// A foreign or corrupted pending-list entry is dropped, never delivered.
func TestTaskQueue_Dequeue_DropsForeignEntry(t *testing.T) {
	b, s := newMiniBroker(t)
	q := NewTaskQueue(b, "q-foreign")
	ctx := context.Background()

	rdb := rawClient(t, s)
	require.NoError(t, rdb.LPush(ctx, ikeys.Pending("q-foreign"), `{"some":"other app"}`).Err())

	task, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestTaskQueue_GetStatus_Missing(t *testing.T) {
	b, _ := newMiniBroker(t)
	q := NewTaskQueue(b, "q-miss")

	rec, err := q.GetStatus(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestTaskQueue_Info_Counts(t *testing.T) {
	b, _ := newMiniBroker(t)
	q := NewTaskQueue(b, "q-info")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, "t", nil)
		require.NoError(t, err)
	}
	_, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	info, err := q.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), info.Queued)
	require.Equal(t, int64(1), info.Processing)
}

// A worker that crashes mid-task leaves its id in the in-flight set with no
// terminal write. Once the status record expires, Info must prune the id and
// exclude it from the processing count.
func TestTaskQueue_Info_ReconcilesCrashedWorker(t *testing.T) {
	b, s := newMiniBroker(t)
	q := NewTaskQueue(b, "q-crash", WithStatusTTL(time.Minute))
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "t", nil)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	info, err := q.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), info.Processing)

	// simulate the crash: no terminal write, status record expires
	s.FastForward(2 * time.Minute)

	info, err = q.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), info.Processing, "orphaned task must be excluded")

	rdb := rawClient(t, s)
	isMember, _ := rdb.SIsMember(ctx, ikeys.Processing("q-crash"), id).Result()
	require.False(t, isMember, "orphaned id must be pruned from the in-flight set")
}

// Info pruning must also drop ids whose status already reads terminal.
func TestTaskQueue_Info_PrunesTerminalLeftovers(t *testing.T) {
	b, s := newMiniBroker(t)
	q := NewTaskQueue(b, "q-left")
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "t", nil)
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	// terminal status written, but leave a stale in-flight entry behind
	require.NoError(t, q.UpdateStatus(ctx, id, StatusFailed, &StatusUpdate{Error: "boom"}))
	rdb := rawClient(t, s)
	require.NoError(t, rdb.SAdd(ctx, ikeys.Processing("q-left"), id).Err())

	info, err := q.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), info.Processing)
}

// With several consumers racing on one queue, every task is delivered to
// exactly one of them.
func TestTaskQueue_Dequeue_ExactlyOnce(t *testing.T) {
	b, _ := newMiniBroker(t)
	q := NewTaskQueue(b, "q-once")
	ctx := context.Background()

	const n = 20
	want := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id, err := q.Enqueue(ctx, "t", map[string]int{"i": i})
		require.NoError(t, err)
		want[id] = true
	}

	got := make(chan string, n)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := q.Dequeue(ctx, time.Second)
				if err != nil || task == nil {
					return
				}
				got <- task.ID
			}
		}()
	}
	wg.Wait()
	close(got)

	seen := make(map[string]int)
	for id := range got {
		seen[id]++
	}
	require.Len(t, seen, n, "every task must be delivered")
	for id, count := range seen {
		require.Equal(t, 1, count, "task %s delivered more than once", id)
		require.True(t, want[id], "unknown task id %s", id)
	}
}
