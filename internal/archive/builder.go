// Package archive materializes segment plans as zip files on disk.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/yokitheyo/jira-export/internal/model"
)

// FetchFunc retrieves attachment bytes. A non-negative end requests the
// half-open range [start, end); end < 0 requests the whole file. Transient
// failure retries live behind this function, not in the builder.
type FetchFunc func(ctx context.Context, contentURL string, start, end int64) ([]byte, error)

// Result describes one written archive, ready to persist as a segment row.
type Result struct {
	Path      string
	FileName  string
	FileCount int
	SizeBytes int64
}

// Builder writes one compressed archive per segment plan.
type Builder struct {
	outputDir string
	logger    *log.Logger
}

func NewBuilder(outputDir string, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Builder{outputDir: outputDir, logger: logger}
}

// OutputDir is where finished archives land before storage pickup.
func (b *Builder) OutputDir() string { return b.outputDir }

// SegmentFileName builds the archive file name clients later use to
// retrieve the segment: project key, content marker, segment position,
// content size in MB (one decimal), filesystem-safe timestamp.
func SegmentFileName(projectKey string, number, total int, sizeBytes int64, now time.Time) string {
	sizeMB := float64(sizeBytes) / (1024 * 1024)
	return fmt.Sprintf("%s_attachments_%dof%d_%.1fMB_%s.zip",
		projectKey, number, total, sizeMB, now.Format("20060102-150405"))
}

// Build fetches every part of the plan sequentially and streams it into a
// single zip in the output directory. Any failure removes the partially
// written file and fails the whole build; no half-written archive is left
// behind for the caller to mistake for a finished segment.
func (b *Builder) Build(ctx context.Context, projectKey string, plan *model.SegmentPlan, fetch FetchFunc) (*Result, error) {
	if err := os.MkdirAll(b.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	name := SegmentFileName(projectKey, plan.Number, plan.Total, plan.TotalSize, time.Now())
	path := filepath.Join(b.outputDir, name)

	zipFile, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	if err := b.writeParts(ctx, zipFile, plan, fetch); err != nil {
		zipFile.Close()
		os.Remove(path)
		return nil, err
	}
	if err := zipFile.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close archive: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	b.logger.Printf("archive: wrote %s (%d entries, %d bytes)", name, len(plan.Parts), info.Size())
	return &Result{
		Path:      path,
		FileName:  name,
		FileCount: len(plan.Parts),
		SizeBytes: info.Size(),
	}, nil
}

func (b *Builder) writeParts(ctx context.Context, zipFile *os.File, plan *model.SegmentPlan, fetch FetchFunc) error {
	zw := zip.NewWriter(zipFile)

	for _, part := range plan.Parts {
		if err := ctx.Err(); err != nil {
			return err
		}

		start, end := part.StartByte, part.EndByte
		if !part.Split() {
			// Whole-file fetch; no range header.
			start, end = 0, -1
		}
		data, err := fetch(ctx, part.ContentURL, start, end)
		if err != nil {
			return fmt.Errorf("fetch %s/%s: %w", part.TicketKey, part.Filename, err)
		}

		w, err := zw.Create(entryName(part))
		if err != nil {
			return fmt.Errorf("create zip entry: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write zip entry: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

// entryName places each attachment under its ticket key; slices of a
// split attachment carry a part suffix.
func entryName(part model.PlanPart) string {
	name := part.TicketKey + "/" + part.Filename
	if part.Split() {
		name = fmt.Sprintf("%s.part%dof%d", name, part.PartIndex, part.TotalParts)
	}
	return name
}
