// Package pipeline implements one export run: fetch issues, write the
// ticket export, plan attachment segments, build the archives, persist
// segment rows. The same sequence serves both execution modes: the
// interactive path runs it inline on the request, the background path
// inside a queue worker. Cancellation is cooperative and observed at
// page and segment boundaries.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/yokitheyo/jira-export/internal/archive"
	"github.com/yokitheyo/jira-export/internal/export"
	"github.com/yokitheyo/jira-export/internal/jira"
	"github.com/yokitheyo/jira-export/internal/model"
	"github.com/yokitheyo/jira-export/internal/planner"
	"github.com/yokitheyo/jira-export/internal/progress"
	"github.com/yokitheyo/jira-export/internal/storage"
)

// Tracker is the remote issue-tracker capability the pipeline consumes.
type Tracker interface {
	GetProject(ctx context.Context, key string) (*jira.Project, error)
	SearchIssues(ctx context.Context, projectKey string, fn func(page []*jira.Issue, total int) error) error
	FetchAttachment(ctx context.Context, contentURL string, start, end int64) ([]byte, error)
}

// SegmentStore is the slice of the job state store the pipeline writes to.
type SegmentStore interface {
	InsertSegments(jobID string, segments []*model.Segment) error
}

// Deps wires the pipeline's collaborators. Reporter and Logger may be nil.
type Deps struct {
	Tracker      Tracker
	Builder      *archive.Builder
	Storage      storage.Storage
	Store        SegmentStore
	Reporter     progress.Reporter
	SegmentLimit int64
	Logger       *log.Logger
}

// Result is what a successful run produced.
type Result struct {
	TicketFile string
	Segments   []*model.Segment
	TotalBytes int64
}

type run struct {
	Deps
	job     *model.Job
	started time.Time
}

// Run executes the full export for job. Any error aborts the run; the
// caller owns the job's status transition.
func Run(ctx context.Context, job *model.Job, deps Deps) (*Result, error) {
	if deps.Reporter == nil {
		deps.Reporter = progress.Null{}
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	r := &run{Deps: deps, job: job, started: time.Now()}

	r.report(model.StageInit, fmt.Sprintf("starting %s export of project %s", job.DownloadType, job.ProjectKey), 0, 0, 0, "", "")

	if _, err := r.Tracker.GetProject(ctx, job.ProjectKey); err != nil {
		return nil, fmt.Errorf("project %s: %w", job.ProjectKey, err)
	}

	issues, err := r.fetchIssues(ctx)
	if err != nil {
		return nil, err
	}

	r.report(model.StageAnalyzing, fmt.Sprintf("analyzing %d issues", len(issues)), len(issues), len(issues), 0, "analyze", "")
	tickets, attachments := collect(issues)

	result := &Result{}
	if r.job.DownloadType.IncludesTickets() {
		path, err := export.WriteTickets(tickets, r.job.OutputDir, r.job.ProjectKey, r.job.FileFormat)
		if err != nil {
			return nil, fmt.Errorf("ticket export: %w", err)
		}
		name := filepath.Base(path)
		if _, err := r.Storage.Save(ctx, path, name); err != nil {
			return nil, fmt.Errorf("store ticket export: %w", err)
		}
		result.TicketFile = name
		r.report(model.StageAnalyzing, fmt.Sprintf("ticket export written: %s", name), len(issues), len(issues), 0, "export", name)
	}

	if r.job.DownloadType.IncludesAttachments() {
		segments, total, err := r.buildSegments(ctx, attachments, len(issues))
		if err != nil {
			return nil, err
		}
		result.Segments = segments
		result.TotalBytes = total
		if err := r.Store.InsertSegments(r.job.ID, segments); err != nil {
			return nil, fmt.Errorf("persist segments: %w", err)
		}
	}

	r.report(model.StageComplete,
		fmt.Sprintf("export complete: %d issues, %d segments", len(issues), len(result.Segments)),
		len(issues), len(issues), result.TotalBytes, "done", "")
	return result, nil
}

func (r *run) fetchIssues(ctx context.Context) ([]*jira.Issue, error) {
	var issues []*jira.Issue
	err := r.Tracker.SearchIssues(ctx, r.job.ProjectKey, func(page []*jira.Issue, total int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		issues = append(issues, page...)
		r.report(model.StageFetching,
			fmt.Sprintf("fetched %d of %d issues", len(issues), total),
			total, len(issues), 0, "fetch", "")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch issues: %w", err)
	}
	return issues, nil
}

// collect flattens fetched issues into export records and attachment
// descriptors. Sizes the remote reported badly come through as zero and
// are later skipped by the planner.
func collect(issues []*jira.Issue) ([]model.TicketRecord, []model.AttachmentDescriptor) {
	tickets := make([]model.TicketRecord, 0, len(issues))
	var attachments []model.AttachmentDescriptor

	for _, issue := range issues {
		f := issue.Fields
		t := model.TicketRecord{
			Key:         issue.Key,
			Summary:     f.Summary,
			Description: f.Description,
			Created:     f.Created,
			Updated:     f.Updated,
			Comments:    []model.CommentRecord{},
		}
		if f.Status != nil {
			t.Status = f.Status.Name
		}
		if f.Priority != nil {
			t.Priority = f.Priority.Name
		}
		if f.Assignee != nil {
			t.Assignee = f.Assignee.DisplayName
		}
		if f.Reporter != nil {
			t.Reporter = f.Reporter.DisplayName
		}
		if f.Comment != nil {
			for _, c := range f.Comment.Comments {
				author := ""
				if c.Author != nil {
					author = c.Author.DisplayName
				}
				t.Comments = append(t.Comments, model.CommentRecord{
					Author: author, Created: c.Created, Body: c.Body,
				})
			}
		}
		tickets = append(tickets, t)

		for _, a := range f.Attachment {
			attachments = append(attachments, model.AttachmentDescriptor{
				TicketKey:  issue.Key,
				Filename:   a.Filename,
				Size:       a.Bytes(),
				ContentURL: a.Content,
			})
		}
	}
	return tickets, attachments
}

func (r *run) buildSegments(ctx context.Context, attachments []model.AttachmentDescriptor, totalIssues int) ([]*model.Segment, int64, error) {
	r.report(model.StageSegmenting,
		fmt.Sprintf("planning segments for %d attachments", len(attachments)),
		totalIssues, totalIssues, 0, "plan", "")

	plans := planner.Plan(attachments, r.SegmentLimit, r.Logger)
	if len(plans) == 0 {
		// Distinct from a tickets-only job, which never reaches here.
		return nil, 0, model.ErrNoAttachments
	}

	var planned int64
	for _, p := range plans {
		planned += p.TotalSize
	}
	r.report(model.StageSegmenting,
		fmt.Sprintf("planned %d segments, %d bytes", len(plans), planned),
		totalIssues, totalIssues, 0, "plan", "")

	segments := make([]*model.Segment, 0, len(plans))
	var downloaded int64
	for _, plan := range plans {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		res, err := r.Builder.Build(ctx, r.job.ProjectKey, plan, r.Tracker.FetchAttachment)
		if err != nil {
			return nil, 0, fmt.Errorf("build segment %d/%d: %w", plan.Number, plan.Total, err)
		}
		if _, err := r.Storage.Save(ctx, res.Path, res.FileName); err != nil {
			return nil, 0, fmt.Errorf("store segment %d/%d: %w", plan.Number, plan.Total, err)
		}

		downloaded += plan.TotalSize
		segments = append(segments, &model.Segment{
			Number:    plan.Number,
			Total:     plan.Total,
			FilePath:  res.FileName,
			FileCount: res.FileCount,
			SizeBytes: res.SizeBytes,
		})

		elapsed := time.Since(r.started).Seconds()
		remaining := 0.0
		if downloaded > 0 && planned > downloaded {
			remaining = elapsed * float64(planned-downloaded) / float64(downloaded)
		}
		r.Reporter.Report(model.ProgressEvent{
			Stage:            model.StageBuilding,
			Message:          fmt.Sprintf("segment %d of %d ready", plan.Number, plan.Total),
			TotalIssues:      totalIssues,
			CurrentIssue:     totalIssues,
			DownloadedSize:   downloaded,
			TimeElapsed:      elapsed,
			TimeRemaining:    remaining,
			CurrentOperation: "build",
			OperationDetails: res.FileName,
			Timestamp:        time.Now(),
		})
	}
	return segments, downloaded, nil
}

func (r *run) report(stage model.Stage, message string, total, current int, downloaded int64, op, details string) {
	r.Reporter.Report(model.ProgressEvent{
		Stage:            stage,
		Message:          message,
		TotalIssues:      total,
		CurrentIssue:     current,
		DownloadedSize:   downloaded,
		TimeElapsed:      time.Since(r.started).Seconds(),
		CurrentOperation: op,
		OperationDetails: details,
		Timestamp:        time.Now(),
	})
}
