// Package redisstream is the durable job dispatcher: sync jobs are appended
// to a Redis stream and consumed through a consumer group, so a job survives
// the process that enqueued it.
package redisstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/dvloznov/clinic-ledger/internal/config"
	"github.com/dvloznov/clinic-ledger/internal/jobs"
	"github.com/dvloznov/clinic-ledger/internal/logger"
)

const payloadField = "job"

// NewClient creates a Redis client from configuration.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Publisher appends sync jobs to a stream.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewPublisher creates a Publisher for stream.
func NewPublisher(client *redis.Client, stream string) *Publisher {
	return &Publisher{client: client, stream: stream, maxLen: 100000}
}

// PublishSyncPatient XADDs the job as a JSON payload.
func (p *Publisher) PublishSyncPatient(ctx context.Context, job *jobs.SyncPatientJob) error {
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Status = jobs.JobStatusPending
	job.Route = "stream"

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("PublishSyncPatient: %w", err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{payloadField: string(body)},
	}).Err()
	if err != nil {
		return fmt.Errorf("PublishSyncPatient: XADD %s: %w", p.stream, err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (p *Publisher) Close() error {
	return nil
}

var _ jobs.Publisher = (*Publisher)(nil)

// ConsumerConfig tunes a Consumer.
type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	// Block is how long one XREADGROUP waits for new messages.
	Block time.Duration
	// Count is the batch size of one read.
	Count int64
	// ClaimIdle is how long a delivered message may stay unacknowledged
	// before another consumer re-claims it.
	ClaimIdle time.Duration
	// MaxDeliveries bounds redelivery; beyond it the message is acknowledged
	// and logged as failed.
	MaxDeliveries int64
}

// Consumer reads sync jobs from a consumer group. A message is acknowledged
// only after the handler succeeds; failed messages stay pending and are
// re-claimed after ClaimIdle.
type Consumer struct {
	client *redis.Client
	cfg    ConsumerConfig
	store  jobs.JobStore

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a Consumer. store may be nil.
func NewConsumer(client *redis.Client, cfg ConsumerConfig, store jobs.JobStore) *Consumer {
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-" + uuid.New().String()[:8]
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = time.Minute
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	return &Consumer{client: client, cfg: cfg, store: store}
}

// EnsureGroup creates the stream and consumer group if they do not exist.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("EnsureGroup %s/%s: %w", c.cfg.Stream, c.cfg.Group, err)
	}
	return nil
}

// Start creates the group and launches the read loop.
func (c *Consumer) Start(ctx context.Context, handler jobs.JobHandler) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("consumer already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(loopCtx, handler)
	}()
	return nil
}

func (c *Consumer) loop(ctx context.Context, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().
		Str("stream", c.cfg.Stream).
		Str("consumer", c.cfg.Consumer).
		Logger()
	log.Info().Msg("Stream consumer started")

	for ctx.Err() == nil {
		if _, err := c.Reclaim(ctx, handler); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Reclaiming pending messages failed")
		}
		if _, err := c.Poll(ctx, handler); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Reading stream failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
	log.Info().Msg("Stream consumer stopped")
}

// Poll reads one batch of new messages and handles them. It returns the
// number of messages acknowledged.
func (c *Consumer) Poll(ctx context.Context, handler jobs.JobHandler) (int, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("XREADGROUP %s: %w", c.cfg.Stream, err)
	}

	acked := 0
	for _, s := range streams {
		for _, msg := range s.Messages {
			if c.handle(ctx, msg, handler, 1) {
				acked++
			}
		}
	}
	return acked, nil
}

// Reclaim takes over messages left unacknowledged longer than ClaimIdle and
// retries them. Messages delivered more than MaxDeliveries times are
// acknowledged and recorded as failed.
func (c *Consumer) Reclaim(ctx context.Context, handler jobs.JobHandler) (int, error) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  c.cfg.Count,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("XPENDING %s: %w", c.cfg.Stream, err)
	}

	deliveries := make(map[string]int64)
	var ids []string
	for _, p := range pending {
		if p.Idle >= c.cfg.ClaimIdle {
			ids = append(ids, p.ID)
			deliveries[p.ID] = p.RetryCount
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  c.cfg.ClaimIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("XCLAIM %s: %w", c.cfg.Stream, err)
	}

	acked := 0
	for _, msg := range msgs {
		if c.handle(ctx, msg, handler, deliveries[msg.ID]+1) {
			acked++
		}
	}
	return acked, nil
}

// handle runs one message and reports whether it was acknowledged.
func (c *Consumer) handle(ctx context.Context, msg redis.XMessage, handler jobs.JobHandler, delivery int64) bool {
	log := logger.FromContext(ctx).With().Str("message_id", msg.ID).Logger()

	job, err := decode(msg)
	if err != nil {
		log.Error().Err(err).Msg("Dropping undecodable stream message")
		c.ack(ctx, msg.ID)
		return true
	}
	log = log.With().Str("job_id", job.JobID).Int64("patient_id", job.PatientID).Logger()

	job.Status = jobs.JobStatusRunning
	job.RetryCount = int(delivery - 1)
	now := time.Now().UTC()
	job.StartedAt = &now
	c.save(ctx, job)

	err = c.run(ctx, job, handler)
	done := time.Now().UTC()
	job.CompletedAt = &done

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	case delivery >= c.cfg.MaxDeliveries:
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
		log.Error().Err(err).Int64("deliveries", delivery).Msg("Sync job exhausted deliveries")
	default:
		job.Status = jobs.JobStatusRetrying
		job.Error = err.Error()
		c.save(ctx, job)
		log.Warn().Err(err).Int64("delivery", delivery).Msg("Sync job failed, left pending for redelivery")
		return false
	}
	c.save(ctx, job)
	c.ack(ctx, msg.ID)
	return true
}

func (c *Consumer) run(ctx context.Context, job *jobs.SyncPatientJob, handler jobs.JobHandler) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return handler(ctx, job)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("message_id", id).Msg("XACK failed")
	}
}

func (c *Consumer) save(ctx context.Context, job *jobs.SyncPatientJob) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveJob(ctx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to save job status")
	}
}

// Stop cancels the read loop and waits for the in-flight batch.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ jobs.Consumer = (*Consumer)(nil)

func decode(msg redis.XMessage) (*jobs.SyncPatientJob, error) {
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		return nil, fmt.Errorf("message %s has no %q field", msg.ID, payloadField)
	}
	var job jobs.SyncPatientJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("message %s: %w", msg.ID, err)
	}
	if job.PatientID <= 0 {
		return nil, fmt.Errorf("message %s: missing patient id", msg.ID)
	}
	return &job, nil
}
