package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"yardhop/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// DigestJob tracks one weekly digest delivery through the queue.
type DigestJob struct {
	ID           string    `json:"id"`
	RecipientID  string    `json:"recipientId"`
	WeekKey      string    `json:"weekKey"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RedisJobQueue is a redis-streams queue for digest jobs. Each job also
// keeps a status hash so the API can answer "what happened to my digest".
type RedisJobQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type RedisQueueConfig struct {
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

// NewRedisJobQueue wraps an existing Redis client.
func NewRedisJobQueue(client *redis.Client, cfg RedisQueueConfig) (*RedisJobQueue, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "digest-workers"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	jobTTL := cfg.JobTTL
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisJobQueue{
		client:       client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		jobTTL:       jobTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Enqueue queues one digest delivery for a recipient and week.
func (q *RedisJobQueue) Enqueue(ctx context.Context, recipientID, weekKey string) (DigestJob, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return DigestJob{}, errors.New("recipientId required")
	}
	weekKey = strings.TrimSpace(weekKey)
	if weekKey == "" {
		return DigestJob{}, errors.New("weekKey required")
	}
	job := DigestJob{
		ID:          util.NewID(),
		RecipientID: recipientID,
		WeekKey:     weekKey,
		Status:      StatusQueued,
		Attempts:    0,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return DigestJob{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":       job.ID,
			"recipient_id": job.RecipientID,
			"week_key":     job.WeekKey,
		},
	}).Err(); err != nil {
		return DigestJob{}, err
	}
	return job, nil
}

// Depth returns the number of entries currently in the stream.
func (q *RedisJobQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.stream).Result()
}

// GetJob reads the status hash for one job.
func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (DigestJob, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return DigestJob{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return DigestJob{}, false, err
	}
	if len(data) == 0 {
		return DigestJob{}, false, nil
	}
	return decodeDigestJob(jobID, data), true, nil
}

// Start launches consumer goroutines that run until ctx is canceled.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler func(context.Context, DigestJob) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("create consumer group", "stream", q.stream, "group", q.group, "error", err)
		}
	})
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, DigestJob) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Pick up messages abandoned by dead consumers first.
		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, DigestJob) error) {
	jobID, _ := msg.Values["job_id"].(string)
	recipientID, _ := msg.Values["recipient_id"].(string)
	weekKey, _ := msg.Values["week_key"].(string)
	if jobID == "" || recipientID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, err := q.markProcessing(ctx, jobID, recipientID, weekKey)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	handlerErr := handler(ctx, job)
	if handlerErr == nil {
		_ = q.markDone(ctx, jobID)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if job.Attempts >= q.maxRetries {
		_ = q.markFailed(ctx, jobID, handlerErr.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	}
	_ = q.markQueued(ctx, jobID, handlerErr.Error())
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	_ = q.requeueAndAck(ctx, msg.ID, jobID, recipientID, weekKey)
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID, jobID, recipientID, weekKey string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":       jobID,
			"recipient_id": recipientID,
			"week_key":     weekKey,
		},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) markProcessing(ctx context.Context, jobID, recipientID, weekKey string) (DigestJob, error) {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return DigestJob{}, err
	}
	if job.ID == "" {
		job = DigestJob{ID: jobID}
	}
	if recipientID != "" {
		job.RecipientID = recipientID
	}
	if weekKey != "" {
		job.WeekKey = weekKey
	}
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return DigestJob{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) markQueued(ctx context.Context, jobID, errMsg string) error {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = StatusQueued
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *RedisJobQueue) markDone(ctx context.Context, jobID string) error {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = StatusDone
	job.ErrorMessage = ""
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *RedisJobQueue) markFailed(ctx context.Context, jobID, errMsg string) error {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = StatusFailed
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *RedisJobQueue) writeStatus(ctx context.Context, job DigestJob) error {
	key := q.jobKey(job.ID)
	payload := map[string]any{
		"id":          job.ID,
		"recipientId": job.RecipientID,
		"weekKey":     job.WeekKey,
		"status":      job.Status,
		"error":       job.ErrorMessage,
		"attempts":    strconv.Itoa(job.Attempts),
		"createdAt":   job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":   job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return fmt.Sprintf("yardhop:job:%s:%s", q.stream, jobID)
}

func decodeDigestJob(jobID string, data map[string]string) DigestJob {
	job := DigestJob{ID: jobID}
	job.RecipientID = data["recipientId"]
	job.WeekKey = data["weekKey"]
	job.Status = data["status"]
	job.ErrorMessage = data["error"]
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.UpdatedAt = t
		}
	}
	return job
}
