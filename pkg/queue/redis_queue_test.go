package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*RedisJobQueue, context.Context) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q, err := NewRedisJobQueue(client, RedisQueueConfig{
		Stream:     "test:digest",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
		Block:      50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()
	q.ensureGroup(ctx)
	return q, ctx
}

func readOnePending(t *testing.T, q *RedisJobQueue, ctx context.Context) redis.XMessage {
	t.Helper()
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	return streams[0].Messages[0]
}

func TestRedisJobQueueEnqueueWritesStatus(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, "user-1", "2026-W35")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != StatusQueued {
		t.Fatalf("status: got %q, want queued", job.Status)
	}

	got, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if got.RecipientID != "user-1" || got.WeekKey != "2026-W35" {
		t.Fatalf("job payload lost: %+v", got)
	}
}

func TestRedisJobQueueEnqueueValidatesInput(t *testing.T) {
	q, ctx := newTestQueue(t)
	if _, err := q.Enqueue(ctx, "", "2026-W35"); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
	if _, err := q.Enqueue(ctx, "user-1", ""); err == nil {
		t.Fatalf("expected error for empty week key")
	}
}

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, "user-1", "2026-W35")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg := readOnePending(t, q, ctx)

	if err := q.requeueAndAck(ctx, msg.ID, job.ID, job.RecipientID, job.WeekKey); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	requeued := readOnePending(t, q, ctx)
	if requeued.Values["job_id"] != job.ID || requeued.Values["recipient_id"] != "user-1" {
		t.Fatalf("unexpected requeued payload: %+v", requeued.Values)
	}
}

func TestRedisJobQueueRequeueFailureKeepsPendingMessage(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, "user-1", "2026-W35")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg := readOnePending(t, q, ctx)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceled, msg.ID, job.ID, job.RecipientID, job.WeekKey); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}
	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no duplicate message on failure, got len=%d", streamLen)
	}
}

func TestRedisJobQueueHandleMessageSuccess(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, "user-1", "2026-W35")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg := readOnePending(t, q, ctx)

	var handled atomic.Int32
	q.handleMessage(ctx, msg, func(ctx context.Context, got DigestJob) error {
		if got.RecipientID != "user-1" || got.WeekKey != "2026-W35" {
			t.Errorf("handler got wrong job: %+v", got)
		}
		handled.Add(1)
		return nil
	})
	if handled.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1", handled.Load())
	}

	got, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if got.Status != StatusDone {
		t.Fatalf("status: got %q, want done", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts: got %d, want 1", got.Attempts)
	}
}

func TestRedisJobQueueHandleMessageRetriesThenFails(t *testing.T) {
	q, ctx := newTestQueue(t)
	q.maxRetries = 2

	job, err := q.Enqueue(ctx, "user-2", "2026-W36")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	failing := func(context.Context, DigestJob) error { return errors.New("smtp down") }

	// First attempt requeues.
	msg := readOnePending(t, q, ctx)
	q.handleMessage(ctx, msg, failing)
	got, _, err := q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != StatusQueued || got.ErrorMessage == "" {
		t.Fatalf("after first failure: %+v", got)
	}

	// Second attempt exhausts retries.
	msg = readOnePending(t, q, ctx)
	q.handleMessage(ctx, msg, failing)
	got, _, err = q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("after exhausting retries: status=%q, want failed", got.Status)
	}
	if got.Attempts != 2 {
		t.Fatalf("attempts: got %d, want 2", got.Attempts)
	}
}

func TestRedisJobQueueGetJobMissing(t *testing.T) {
	q, ctx := newTestQueue(t)
	if _, ok, err := q.GetJob(ctx, "never-enqueued"); err != nil || ok {
		t.Fatalf("missing job: ok=%v err=%v", ok, err)
	}
}
