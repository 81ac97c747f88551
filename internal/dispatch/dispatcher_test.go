package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/clinic-ledger/internal/config"
	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/jobs"
	"github.com/dvloznov/clinic-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/clinic-ledger/internal/platformsync"
)

type mockPublisher struct {
	mu          sync.Mutex
	calls       int
	PublishFunc func(ctx context.Context, job *jobs.SyncPatientJob) error
}

func (m *mockPublisher) PublishSyncPatient(ctx context.Context, job *jobs.SyncPatientJob) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.PublishFunc(ctx, job)
}

type mockSyncer struct {
	mu              sync.Mutex
	calls           []int64
	SyncPatientFunc func(ctx context.Context, patientID int64) (*platformsync.PatientOutcome, error)
}

func (m *mockSyncer) SyncPatient(ctx context.Context, patientID int64) (*platformsync.PatientOutcome, error) {
	m.mu.Lock()
	m.calls = append(m.calls, patientID)
	m.mu.Unlock()
	if m.SyncPatientFunc == nil {
		return &platformsync.PatientOutcome{PatientID: patientID, DonorID: "D-1"}, nil
	}
	return m.SyncPatientFunc(ctx, patientID)
}

func (m *mockSyncer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var errUnreachable = errors.New("dial tcp: connection refused")

func newTestDispatcher(pub JobPublisher, syncer PatientSyncer) (*Dispatcher, *[]time.Duration) {
	d := NewDispatcher(pub, syncer, config.DispatchConfig{Attempts: 2, Backoff: 500 * time.Millisecond})
	var sleeps []time.Duration
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		sleeps = append(sleeps, dur)
		return nil
	}
	return d, &sleeps
}

func TestDispatch_Enqueued(t *testing.T) {
	pub := &mockPublisher{PublishFunc: func(ctx context.Context, job *jobs.SyncPatientJob) error {
		assert.Equal(t, int64(7), job.ClinicID)
		assert.Equal(t, int64(42), job.PatientID)
		return nil
	}}
	syncer := &mockSyncer{}
	d, sleeps := newTestDispatcher(pub, syncer)

	outcome, err := d.Dispatch(context.Background(), 7, 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)
	assert.Equal(t, 1, pub.calls)
	assert.Zero(t, syncer.callCount())
	assert.Empty(t, *sleeps)
}

func TestDispatch_SecondAttemptSucceeds(t *testing.T) {
	attempt := 0
	pub := &mockPublisher{PublishFunc: func(ctx context.Context, job *jobs.SyncPatientJob) error {
		attempt++
		if attempt == 1 {
			return errUnreachable
		}
		return nil
	}}
	syncer := &mockSyncer{}
	d, sleeps := newTestDispatcher(pub, syncer)

	outcome, err := d.Dispatch(context.Background(), 7, 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, *sleeps)
	assert.Zero(t, syncer.callCount())
}

func TestDispatch_FallsBackAfterTwoFailures(t *testing.T) {
	pub := &mockPublisher{PublishFunc: func(ctx context.Context, job *jobs.SyncPatientJob) error {
		return errUnreachable
	}}
	syncer := &mockSyncer{}
	d, sleeps := newTestDispatcher(pub, syncer)

	outcome, err := d.Dispatch(context.Background(), 7, 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, outcome)
	assert.Equal(t, 2, pub.calls)
	assert.Len(t, *sleeps, 1)
	assert.Equal(t, []int64{42}, syncer.calls)
}

func TestDispatch_NoPublisherRunsInline(t *testing.T) {
	syncer := &mockSyncer{}
	d, _ := newTestDispatcher(nil, syncer)

	outcome, err := d.Dispatch(context.Background(), 7, 42)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFallback, outcome)
	assert.Equal(t, 1, syncer.callCount())
}

func TestDispatch_FallbackErrorIsReturned(t *testing.T) {
	syncer := &mockSyncer{SyncPatientFunc: func(ctx context.Context, patientID int64) (*platformsync.PatientOutcome, error) {
		return nil, errors.New("platform error (status 502)")
	}}
	d, _ := newTestDispatcher(nil, syncer)

	outcome, err := d.Dispatch(context.Background(), 7, 42)
	assert.Equal(t, OutcomeFallback, outcome)
	assert.ErrorContains(t, err, "status 502")
}

func TestHandler_DisabledSyncCompletesJob(t *testing.T) {
	syncer := &mockSyncer{SyncPatientFunc: func(ctx context.Context, patientID int64) (*platformsync.PatientOutcome, error) {
		return nil, domain.ErrSyncDisabled
	}}
	d, _ := newTestDispatcher(nil, syncer)

	job := &jobs.SyncPatientJob{ClinicID: 7, PatientID: 42}
	assert.NoError(t, d.Handler()(context.Background(), job))
	assert.Equal(t, string(OutcomeFallback), job.Route)

	assert.NoError(t, SyncHandler(syncer)(context.Background(), job))
}

// With the durable dispatcher down for both attempts, a trigger submitted
// through the in-process queue still reaches the workflow and the job ends in
// a terminal state.
func TestFallbackGuarantee(t *testing.T) {
	pub := &mockPublisher{PublishFunc: func(ctx context.Context, job *jobs.SyncPatientJob) error {
		return errUnreachable
	}}
	syncer := &mockSyncer{}
	d, _ := newTestDispatcher(pub, syncer)

	store := inmemory.NewStore()
	queue := inmemory.NewQueue(inmemory.QueueConfig{Workers: 2}, store)
	require.NoError(t, queue.Start(context.Background(), d.Handler()))

	trigger := NewAsyncTrigger(queue, d)
	trigger.TriggerPatientSync(context.Background(), 7, 42)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, queue.Stop(ctx))

	assert.Equal(t, 1, syncer.callCount())
	list, err := store.ListJobs(context.Background(), jobs.JobFilter{PatientID: 42})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, jobs.JobStatusCompleted, list[0].Status)
	assert.Equal(t, string(OutcomeFallback), list[0].Route)
}

func TestAsyncTrigger_QueueRefusalDispatchesInline(t *testing.T) {
	syncer := &mockSyncer{}
	d, _ := newTestDispatcher(nil, syncer)

	queue := inmemory.NewQueue(inmemory.QueueConfig{}, nil)
	require.NoError(t, queue.Stop(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewAsyncTrigger(queue, d).TriggerPatientSync(ctx, 7, 42)

	assert.Equal(t, 1, syncer.callCount(), "a cancelled request must not drop the sync")
}
