package fitq

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	ikeys "github.com/wearlab/fitq/internal/keys"
)

// DefaultStatusTTL bounds broker memory: status records expire a day after
// their last write, long after any client stopped polling.
const DefaultStatusTTL = 24 * time.Hour

// Info reports queue observability counters for admission-control decisions
// upstream.
type Info struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
}

// TaskQueue provides typed enqueue/dequeue/status operations over one named
// queue on the broker. Multiple worker processes may consume the same queue;
// the broker's atomic blocking pop delivers each task to exactly one of them.
type TaskQueue struct {
	broker    *Broker
	name      string
	keys      ikeys.Queue
	encoder   Encoder
	statusTTL time.Duration
	log       Logger
}

// QueueOption configures a TaskQueue.
type QueueOption func(*TaskQueue)

// WithStatusTTL overrides the TTL applied to broker-side status records.
func WithStatusTTL(d time.Duration) QueueOption {
	return func(q *TaskQueue) {
		if d > 0 {
			q.statusTTL = d
		}
	}
}

// WithEncoder overrides the envelope encoder.
func WithEncoder(e Encoder) QueueOption {
	return func(q *TaskQueue) {
		if e != nil {
			q.encoder = e
		}
	}
}

// WithLogger overrides the queue logger.
func WithLogger(l Logger) QueueOption {
	return func(q *TaskQueue) {
		if l != nil {
			q.log = l
		}
	}
}

// NewTaskQueue creates a queue handle for the named queue.
func NewTaskQueue(broker *Broker, name string, opts ...QueueOption) *TaskQueue {
	q := &TaskQueue{
		broker:    broker,
		name:      name,
		keys:      ikeys.For(name),
		encoder:   &JSONEncoder{},
		statusTTL: DefaultStatusTTL,
		log:       NewFmtLogger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Name returns the queue name.
func (q *TaskQueue) Name() string { return q.name }

type enqueueOptions struct {
	id string
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

// WithTaskID sets an explicit task id instead of a generated UUID.
func WithTaskID(id string) EnqueueOption {
	return func(o *enqueueOptions) { o.id = id }
}

// Enqueue builds a task envelope, pushes it onto the pending list and stores
// an initial QUEUED status record under the TTL. It returns the generated
// task id, or ErrBrokerUnavailable when the broker cannot be reached.
func (q *TaskQueue) Enqueue(ctx context.Context, taskType string, payload any, opts ...EnqueueOption) (string, error) {
	rdb := q.broker.Client(ctx)
	if rdb == nil {
		q.log.Errorf("enqueue: broker unavailable queue=%s type=%s", q.name, taskType)
		return "", ErrBrokerUnavailable
	}

	cfg := &enqueueOptions{}
	for _, opt := range opts {
		opt(cfg)
	}
	id := cfg.id
	if id == "" {
		id = uuid.NewString()
	}

	data, err := q.encoder.Encode(payload)
	if err != nil {
		return "", err
	}
	now := time.Now().UnixMilli()
	task := Task{
		ID:        id,
		Type:      taskType,
		Queue:     q.name,
		Payload:   data,
		Status:    StatusQueued,
		CreatedAt: now,
	}
	raw, err := q.encoder.Encode(task)
	if err != nil {
		return "", err
	}
	rec, err := q.encoder.Encode(StatusRecord{Status: StatusQueued, UpdatedAt: now})
	if err != nil {
		return "", err
	}

	_, err = rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, q.keys.Pending, raw)
		p.Set(ctx, q.keys.Status(id), rec, q.statusTTL)
		return nil
	})
	if err != nil {
		q.log.Errorf("enqueue: push failed queue=%s id=%s err=%v", q.name, id, err)
		return "", err
	}
	q.log.Infof("enqueued: id=%s type=%s queue=%s", id, taskType, q.name)
	return id, nil
}

// Dequeue blocks for up to timeout waiting for a task. A timeout returns
// (nil, nil); callers loop rather than treating it as an error. On delivery
// the task id joins the in-flight set and its broker status flips to
// PROCESSING before the task is handed to the caller.
func (q *TaskQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	rdb := q.broker.Client(ctx)
	if rdb == nil {
		return nil, ErrBrokerUnavailable
	}

	res, err := rdb.BRPop(ctx, timeout, q.keys.Pending).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}

	task, err := decodeEnvelope(q.encoder, []byte(res[1]))
	if err != nil {
		q.log.Errorf("dequeue: undecodable envelope dropped queue=%s err=%v", q.name, err)
		return nil, nil
	}

	if err := rdb.SAdd(ctx, q.keys.Processing, task.ID).Err(); err != nil {
		q.log.Warnf("dequeue: in-flight add failed id=%s err=%v", task.ID, err)
	}
	task.Status = StatusProcessing
	if err := q.UpdateStatus(ctx, task.ID, StatusProcessing, nil); err != nil {
		q.log.Warnf("dequeue: status flip failed id=%s err=%v", task.ID, err)
	}
	return task, nil
}

// StatusUpdate carries optional terminal metadata written alongside a status.
type StatusUpdate struct {
	Error   string
	Results []string
}

// UpdateStatus overwrites the broker-side status record for the task id,
// refreshing its TTL. Terminal statuses also remove the id from the in-flight
// set.
func (q *TaskQueue) UpdateStatus(ctx context.Context, id string, status Status, upd *StatusUpdate) error {
	rdb := q.broker.Client(ctx)
	if rdb == nil {
		return ErrBrokerUnavailable
	}

	rec := StatusRecord{Status: status, UpdatedAt: time.Now().UnixMilli()}
	if upd != nil {
		rec.Error = upd.Error
		rec.Results = upd.Results
	}
	raw, err := q.encoder.Encode(rec)
	if err != nil {
		return err
	}

	_, err = rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, q.keys.Status(id), raw, q.statusTTL)
		if status.Terminal() {
			p.SRem(ctx, q.keys.Processing, id)
		}
		return nil
	})
	return err
}

// GetStatus returns the broker-side status record for the task id, or
// (nil, nil) when the record is absent or expired.
func (q *TaskQueue) GetStatus(ctx context.Context, id string) (*StatusRecord, error) {
	rdb := q.broker.Client(ctx)
	if rdb == nil {
		return nil, ErrBrokerUnavailable
	}

	raw, err := rdb.Get(ctx, q.keys.Status(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec StatusRecord
	if err := q.encoder.Decode([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Info reports the pending-list length and a validated in-flight count.
// In-flight ids whose status record has expired or no longer reads
// PROCESSING are pruned from the set so the count cannot drift upward when a
// worker crashes mid-task. Pruning corrects counting only; status records
// and durable job rows are left untouched for inspection.
func (q *TaskQueue) Info(ctx context.Context) (Info, error) {
	rdb := q.broker.Client(ctx)
	if rdb == nil {
		return Info{}, ErrBrokerUnavailable
	}

	queued, err := rdb.LLen(ctx, q.keys.Pending).Result()
	if err != nil {
		return Info{}, err
	}

	ids, err := rdb.SMembers(ctx, q.keys.Processing).Result()
	if err != nil {
		return Info{}, err
	}

	var processing int64
	for _, id := range ids {
		rec, err := q.GetStatus(ctx, id)
		if err != nil {
			return Info{}, err
		}
		if rec != nil && rec.Status == StatusProcessing {
			processing++
			continue
		}
		// Orphaned or already-terminal entry: prune from the count.
		if err := rdb.SRem(ctx, q.keys.Processing, id).Err(); err != nil {
			q.log.Warnf("info: prune failed id=%s err=%v", id, err)
		}
	}
	return Info{Queued: queued, Processing: processing}, nil
}
