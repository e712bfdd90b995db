package queue

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yokitheyo/jira-export/internal/archive"
	"github.com/yokitheyo/jira-export/internal/jira"
	"github.com/yokitheyo/jira-export/internal/model"
	"github.com/yokitheyo/jira-export/internal/pipeline"
	"github.com/yokitheyo/jira-export/internal/storage"
	"github.com/yokitheyo/jira-export/internal/store"
)

type stubTracker struct {
	issues  []*jira.Issue
	files   map[string][]byte
	projErr error
}

func (s *stubTracker) GetProject(ctx context.Context, key string) (*jira.Project, error) {
	if s.projErr != nil {
		return nil, s.projErr
	}
	return &jira.Project{Key: key}, nil
}

func (s *stubTracker) SearchIssues(ctx context.Context, projectKey string, fn func(page []*jira.Issue, total int) error) error {
	return fn(s.issues, len(s.issues))
}

func (s *stubTracker) FetchAttachment(ctx context.Context, contentURL string, start, end int64) ([]byte, error) {
	data, ok := s.files[contentURL]
	if !ok {
		return nil, fmt.Errorf("unknown url %s", contentURL)
	}
	if end < 0 {
		return data, nil
	}
	return data[start:end], nil
}

type harness struct {
	store *store.Store
	queue *Queue
	dir   string
}

func newHarness(t *testing.T, tracker pipeline.Tracker, cfg Config) *harness {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "jobs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	archiveDir := filepath.Join(dir, "archives")
	local, err := storage.NewLocal(archiveDir)
	require.NoError(t, err)

	deps := pipeline.Deps{
		Tracker:      tracker,
		Builder:      archive.NewBuilder(archiveDir, nil),
		Storage:      local,
		Store:        st,
		SegmentLimit: 1024,
	}
	return &harness{
		store: st,
		queue: New(st, deps, cfg, log.New(os.Stderr, "", 0)),
		dir:   archiveDir,
	}
}

func fastConfig() Config {
	return Config{Workers: 1, DispatchDelay: 10 * time.Millisecond}
}

func waitForStatus(t *testing.T, st *store.Store, jobID string, want model.JobStatus) *model.Job {
	t.Helper()
	var got *model.Job
	require.Eventually(t, func() bool {
		job, err := st.GetJob(jobID)
		if err != nil {
			return false
		}
		got = job
		return job.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job never reached %s", want)
	return got
}

func TestQueueCompletesPendingJob(t *testing.T) {
	tracker := &stubTracker{
		issues: []*jira.Issue{
			{Key: "PRJ-1", Fields: jira.IssueFields{
				Summary:    "first",
				Attachment: []*jira.Attachment{{Filename: "a.bin", Size: float64(4), Content: "u/a"}},
			}},
		},
		files: map[string][]byte{"u/a": []byte("data")},
	}
	h := newHarness(t, tracker, fastConfig())

	job := &model.Job{ProjectKey: "PRJ", DownloadType: model.DownloadAll, FileFormat: model.FormatJSON, OutputDir: h.dir}
	require.NoError(t, h.store.CreateJob(job))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.queue.Start(ctx)
	h.queue.Submit()

	got := waitForStatus(t, h.store, job.ID, model.StatusCompleted)
	assert.NotEmpty(t, got.TicketFile)
	require.Len(t, got.Segments, 1)
	assert.FileExists(t, filepath.Join(h.dir, got.Segments[0].FilePath))

	cancel()
	h.queue.Wait()
}

func TestQueueFailsJobOnPipelineError(t *testing.T) {
	tracker := &stubTracker{projErr: &jira.APIError{StatusCode: 404, Message: "project not found"}}
	h := newHarness(t, tracker, fastConfig())

	job := &model.Job{ProjectKey: "NOPE", DownloadType: model.DownloadAll, FileFormat: model.FormatJSON, OutputDir: h.dir}
	require.NoError(t, h.store.CreateJob(job))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.queue.Start(ctx)
	h.queue.Submit()

	got := waitForStatus(t, h.store, job.ID, model.StatusFailed)
	assert.Contains(t, got.Error, "404")

	cancel()
	h.queue.Wait()
}

func TestQueueSkipsCancelledJob(t *testing.T) {
	tracker := &stubTracker{}
	h := newHarness(t, tracker, fastConfig())

	job := &model.Job{ProjectKey: "PRJ", DownloadType: model.DownloadTickets, FileFormat: model.FormatJSON, OutputDir: h.dir}
	require.NoError(t, h.store.CreateJob(job))
	require.NoError(t, h.store.CancelJob(job.ID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.queue.Start(ctx)
	h.queue.Submit()

	// Give the worker a few dispatch ticks; the job must stay cancelled.
	time.Sleep(100 * time.Millisecond)
	got, err := h.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	cancel()
	h.queue.Wait()
}

func TestSweepRemovesExpiredJobAndFiles(t *testing.T) {
	tracker := &stubTracker{}
	cfg := fastConfig()
	cfg.Retention = -time.Minute // everything is already expired
	h := newHarness(t, tracker, cfg)

	job := &model.Job{ProjectKey: "PRJ", DownloadType: model.DownloadAttachments, FileFormat: model.FormatJSON, OutputDir: h.dir}
	require.NoError(t, h.store.CreateJob(job))
	_, err := h.store.ClaimJob(job.ID)
	require.NoError(t, err)

	segFile := filepath.Join(h.dir, "PRJ_attachments_1of1_1.0MB_20250101-000000.zip")
	require.NoError(t, os.WriteFile(segFile, []byte("zip"), 0644))
	require.NoError(t, h.store.InsertSegments(job.ID, []*model.Segment{
		{Number: 1, Total: 1, FilePath: filepath.Base(segFile), FileCount: 1, SizeBytes: 3},
	}))
	require.NoError(t, h.store.CompleteJob(job.ID, ""))

	h.queue.Sweep(context.Background())

	_, err = h.store.GetJob(job.ID)
	assert.ErrorIs(t, err, model.ErrJobNotFound)
	assert.NoFileExists(t, segFile)
}

func TestSweepKeepsActiveJobs(t *testing.T) {
	tracker := &stubTracker{}
	cfg := fastConfig()
	cfg.Retention = -time.Minute
	h := newHarness(t, tracker, cfg)

	job := &model.Job{ProjectKey: "PRJ", DownloadType: model.DownloadAll, FileFormat: model.FormatJSON, OutputDir: h.dir}
	require.NoError(t, h.store.CreateJob(job))

	h.queue.Sweep(context.Background())

	got, err := h.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}
