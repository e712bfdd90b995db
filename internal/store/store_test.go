package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yokitheyo/jira-export/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "jobs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newJob(projectKey string, dt model.DownloadType) *model.Job {
	return &model.Job{
		ProjectKey:   projectKey,
		DownloadType: dt,
		FileFormat:   model.FormatJSON,
		OutputDir:    "archives",
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)

	job := newJob("PRJ", model.DownloadAll)
	require.NoError(t, s.CreateJob(job))
	require.NotEmpty(t, job.ID)
	assert.Equal(t, model.StatusPending, job.Status)

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "PRJ", got.ProjectKey)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.Segments)
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetJob("missing")
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestClaimJobOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	job := newJob("PRJ", model.DownloadAll)
	require.NoError(t, s.CreateJob(job))

	claimed, err := s.ClaimJob(job.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimJob(job.ID)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim must lose")
}

func TestCancelOnlyPending(t *testing.T) {
	s := newTestStore(t)
	job := newJob("PRJ", model.DownloadAll)
	require.NoError(t, s.CreateJob(job))

	require.NoError(t, s.CancelJob(job.ID))
	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	// A cancelled job cannot be cancelled again, claimed, or completed.
	assert.ErrorIs(t, s.CancelJob(job.ID), model.ErrCannotCancel)
	claimed, err := s.ClaimJob(job.ID)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestCancelProcessingRejected(t *testing.T) {
	s := newTestStore(t)
	job := newJob("PRJ", model.DownloadAll)
	require.NoError(t, s.CreateJob(job))
	_, err := s.ClaimJob(job.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, s.CancelJob(job.ID), model.ErrCannotCancel)

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status, "failed cancel must not mutate state")
}

func TestCancelMissingJob(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.CancelJob("missing"), model.ErrJobNotFound)
}

func TestFailJobRecordsError(t *testing.T) {
	s := newTestStore(t)
	job := newJob("PRJ", model.DownloadAll)
	require.NoError(t, s.CreateJob(job))
	_, err := s.ClaimJob(job.ID)
	require.NoError(t, err)

	require.NoError(t, s.FailJob(job.ID, "fetch timed out after 4 attempts"))

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "fetch timed out after 4 attempts", got.Error)
	require.NotNil(t, got.CompletedAt)
}

func TestSegmentsHiddenUntilCompleted(t *testing.T) {
	s := newTestStore(t)
	job := newJob("PRJ", model.DownloadAttachments)
	require.NoError(t, s.CreateJob(job))
	_, err := s.ClaimJob(job.ID)
	require.NoError(t, err)

	segments := []*model.Segment{
		{Number: 1, Total: 2, FilePath: "a.zip", FileCount: 3, SizeBytes: 100},
		{Number: 2, Total: 2, FilePath: "b.zip", FileCount: 1, SizeBytes: 50},
	}
	require.NoError(t, s.InsertSegments(job.ID, segments))

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Segments, "in-flight jobs expose no segments")

	require.NoError(t, s.CompleteJob(job.ID, ""))
	got, err = s.GetJob(job.ID)
	require.NoError(t, err)
	require.Len(t, got.Segments, 2)
	assert.Equal(t, 1, got.Segments[0].Number)
	assert.Equal(t, model.SegmentReady, got.Segments[0].Status)
}

func TestGetSegmentAndMarkDelivered(t *testing.T) {
	s := newTestStore(t)
	job := newJob("PRJ", model.DownloadAttachments)
	require.NoError(t, s.CreateJob(job))
	_, err := s.ClaimJob(job.ID)
	require.NoError(t, err)
	require.NoError(t, s.InsertSegments(job.ID, []*model.Segment{
		{Number: 1, Total: 1, FilePath: "a.zip", FileCount: 1, SizeBytes: 10},
	}))

	seg, err := s.GetSegment(job.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "a.zip", seg.FilePath)

	require.NoError(t, s.MarkSegmentDelivered(job.ID, 1))
	seg, err = s.GetSegment(job.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.SegmentDelivered, seg.Status)

	_, err = s.GetSegment(job.ID, 99)
	assert.ErrorIs(t, err, model.ErrSegmentNotFound)
}

func TestListJobsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	first := newJob("AAA", model.DownloadAll)
	require.NoError(t, s.CreateJob(first))
	time.Sleep(5 * time.Millisecond)
	second := newJob("BBB", model.DownloadAll)
	require.NoError(t, s.CreateJob(second))

	jobs, err := s.ListJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "BBB", jobs[0].ProjectKey)
	assert.Equal(t, "AAA", jobs[1].ProjectKey)
}

func TestListPendingPrioritizesTicketJobs(t *testing.T) {
	s := newTestStore(t)
	full := newJob("FULL", model.DownloadAll)
	require.NoError(t, s.CreateJob(full))
	time.Sleep(5 * time.Millisecond)
	tickets := newJob("TICK", model.DownloadTickets)
	require.NoError(t, s.CreateJob(tickets))

	pending, err := s.ListPendingJobs()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "TICK", pending[0].ProjectKey, "tickets-only jobs are cheaper and go first")
	assert.Equal(t, "FULL", pending[1].ProjectKey)
}

func TestRetentionDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	job := newJob("PRJ", model.DownloadAll)
	require.NoError(t, s.CreateJob(job))
	_, err := s.ClaimJob(job.ID)
	require.NoError(t, err)
	require.NoError(t, s.InsertSegments(job.ID, []*model.Segment{
		{Number: 1, Total: 1, FilePath: "a.zip", FileCount: 1, SizeBytes: 10},
	}))
	require.NoError(t, s.CompleteJob(job.ID, ""))

	expired, err := s.ListExpiredJobs(time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Len(t, expired[0].Segments, 1)

	for _, j := range expired {
		require.NoError(t, s.DeleteJob(j.ID))
	}

	// Second sweep has nothing left to delete.
	expired, err = s.ListExpiredJobs(time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, expired)

	_, err = s.GetJob(job.ID)
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestExpiredExcludesActiveJobs(t *testing.T) {
	s := newTestStore(t)
	pending := newJob("PEND", model.DownloadAll)
	require.NoError(t, s.CreateJob(pending))
	processing := newJob("PROC", model.DownloadAll)
	require.NoError(t, s.CreateJob(processing))
	_, err := s.ClaimJob(processing.ID)
	require.NoError(t, err)

	expired, err := s.ListExpiredJobs(time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, expired)
}
