package model

import (
	"errors"
	"time"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether a job in this status will never change again.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type DownloadType string

const (
	DownloadAll         DownloadType = "all"
	DownloadTickets     DownloadType = "tickets"
	DownloadAttachments DownloadType = "attachments"
)

func ParseDownloadType(s string) (DownloadType, error) {
	switch DownloadType(s) {
	case DownloadAll, DownloadTickets, DownloadAttachments:
		return DownloadType(s), nil
	}
	return "", errors.New("download type must be one of: all, tickets, attachments")
}

// IncludesTickets reports whether the job produces a ticket export file.
func (t DownloadType) IncludesTickets() bool {
	return t == DownloadAll || t == DownloadTickets
}

// IncludesAttachments reports whether the job produces attachment segments.
func (t DownloadType) IncludesAttachments() bool {
	return t == DownloadAll || t == DownloadAttachments
}

type FileFormat string

const (
	FormatJSON FileFormat = "json"
	FormatCSV  FileFormat = "csv"
)

func ParseFileFormat(s string) (FileFormat, error) {
	switch FileFormat(s) {
	case FormatJSON, FormatCSV:
		return FileFormat(s), nil
	}
	return "", errors.New("file format must be one of: json, csv")
}

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrSegmentNotFound = errors.New("segment not found")
	ErrCannotCancel    = errors.New("only pending jobs can be cancelled")
	ErrNoAttachments   = errors.New("no attachments found to download")
)

type Job struct {
	ID           string       `json:"id"`
	ProjectKey   string       `json:"project_key"`
	DownloadType DownloadType `json:"download_type"`
	FileFormat   FileFormat   `json:"file_format"`
	OutputDir    string       `json:"output_dir"`
	Status       JobStatus    `json:"status"`
	Error        string       `json:"error,omitempty"`
	TicketFile   string       `json:"ticket_file,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`

	// Segments is populated only once the job has completed.
	Segments []*Segment `json:"segments,omitempty"`
}

type SegmentStatus string

const (
	SegmentReady     SegmentStatus = "ready"
	SegmentDelivered SegmentStatus = "delivered"
)

// Segment is one archive file produced for a job. Immutable after
// creation except for Status.
type Segment struct {
	JobID     string        `json:"job_id"`
	Number    int           `json:"number"`
	Total     int           `json:"total"`
	Status    SegmentStatus `json:"status"`
	FilePath  string        `json:"file_path"`
	FileCount int           `json:"file_count"`
	SizeBytes int64         `json:"size_bytes"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
