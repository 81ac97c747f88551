package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/clinic-ledger/internal/jobs"
	"github.com/dvloznov/clinic-ledger/internal/logger"
)

// ErrQueueClosed is returned when publishing to a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// QueueConfig sizes the queue.
type QueueConfig struct {
	BufferSize   int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
}

// Queue is a supervised in-process job queue. Workers recover handler
// panics, and Stop drains jobs already buffered before returning.
type Queue struct {
	cfg       QueueConfig
	jobChan   chan *jobs.SyncPatientJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool
	started   bool
}

// NewQueue creates a new in-memory job queue. store may be nil.
func NewQueue(cfg QueueConfig, store jobs.JobStore) *Queue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Queue{
		cfg:       cfg,
		jobChan:   make(chan *jobs.SyncPatientJob, cfg.BufferSize),
		closeChan: make(chan struct{}),
		store:     store,
	}
}

// PublishSyncPatient enqueues a job. It blocks while the buffer is full
// until ctx is done.
func (q *Queue) PublishSyncPatient(ctx context.Context, job *jobs.SyncPatientJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.cfg.MaxRetries
	}
	if job.Route == "" {
		job.Route = "queue"
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("PublishSyncPatient: failed to save job: %w", err)
		}
	}

	select {
	case q.jobChan <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return ErrQueueClosed
	}
}

// Start launches the workers.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return fmt.Errorf("queue already started")
	}
	q.started = true

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			q.drain(ctx, handler)
			return
		case job := <-q.jobChan:
			q.processJob(ctx, job, handler)
		}
	}
}

// drain processes whatever is still buffered after Stop.
func (q *Queue) drain(ctx context.Context, handler jobs.JobHandler) {
	for {
		select {
		case job := <-q.jobChan:
			q.processJob(ctx, job, handler)
		default:
			return
		}
	}
}

func (q *Queue) processJob(ctx context.Context, job *jobs.SyncPatientJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().
		Str("job_id", job.JobID).
		Int64("clinic_id", job.ClinicID).
		Int64("patient_id", job.PatientID).
		Logger()

	for {
		job.Status = jobs.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
		job.CompletedAt = nil
		q.save(ctx, job)

		err := q.run(ctx, job, handler)

		completedAt := time.Now()
		job.CompletedAt = &completedAt

		if err == nil {
			job.Status = jobs.JobStatusCompleted
			job.Error = ""
			q.save(ctx, job)
			return
		}

		job.Error = err.Error()
		if job.RetryCount >= job.MaxRetries {
			job.Status = jobs.JobStatusFailed
			q.save(ctx, job)
			log.Error().Err(err).Int("retries", job.RetryCount).Msg("Job failed")
			return
		}

		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		q.save(ctx, job)
		log.Warn().Err(err).Int("retry", job.RetryCount).Msg("Job failed, retrying")

		// Retries stay on this worker so Stop waits for them. A stopping
		// queue skips the remaining backoff.
		if !q.backoff(ctx, time.Duration(job.RetryCount)*q.cfg.RetryBackoff) {
			job.Status = jobs.JobStatusFailed
			job.Error = fmt.Sprintf("retry abandoned: %v", ctx.Err())
			q.save(ctx, job)
			log.Error().Err(ctx.Err()).Msg("Job retry abandoned")
			return
		}
	}
}

// backoff waits d, returning early when the queue is stopping. It reports
// false when ctx ends first.
func (q *Queue) backoff(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-q.closeChan:
		return true
	case <-ctx.Done():
		return false
	}
}

// run calls the handler, converting a panic into an error.
func (q *Queue) run(ctx context.Context, job *jobs.SyncPatientJob, handler jobs.JobHandler) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) save(ctx context.Context, job *jobs.SyncPatientJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to save job status")
	}
}

// Stop closes the queue, lets workers drain buffered jobs and waits for them
// or for ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements jobs.Publisher.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
