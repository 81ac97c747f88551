package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/clinic-ledger/internal/domain"
	"github.com/dvloznov/clinic-ledger/internal/jobs"
)

func TestStore_ListJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)

	for i, j := range []jobs.SyncPatientJob{
		{JobID: "a", ClinicID: 7, PatientID: 1, Status: jobs.JobStatusCompleted},
		{JobID: "b", ClinicID: 7, PatientID: 2, Status: jobs.JobStatusFailed},
		{JobID: "c", ClinicID: 8, PatientID: 3, Status: jobs.JobStatusCompleted},
	} {
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveJob(ctx, &j))
	}

	all, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].JobID, "newest first")

	clinic7, _ := s.ListJobs(ctx, jobs.JobFilter{ClinicID: 7})
	assert.Len(t, clinic7, 2)

	completed, _ := s.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusCompleted, Limit: 1})
	require.Len(t, completed, 1)
	assert.Equal(t, "c", completed[0].JobID)

	page, _ := s.ListJobs(ctx, jobs.JobFilter{Offset: 5})
	assert.Empty(t, page)
}

func TestStore_GetJobCopiesAndNotFound(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	job := &jobs.SyncPatientJob{JobID: "a", PatientID: 1}
	require.NoError(t, s.SaveJob(ctx, job))
	job.PatientID = 99

	got, err := s.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.PatientID)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.UpdateJobStatus(ctx, "a", jobs.JobStatusFailed, "boom"))
	got, _ = s.GetJob(ctx, "a")
	assert.Equal(t, jobs.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	assert.Error(t, s.SaveJob(ctx, &jobs.SyncPatientJob{}))
}
