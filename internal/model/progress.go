package model

import "time"

// Stage is the logical phase a running job is in. Stages are emitted in
// strictly increasing order for a given job.
type Stage string

const (
	StageInit       Stage = "init"
	StageFetching   Stage = "fetching"
	StageAnalyzing  Stage = "analyzing"
	StageSegmenting Stage = "segmenting"
	StageBuilding   Stage = "building"
	StageComplete   Stage = "complete"
	StageFailed     Stage = "failed"
)

// ProgressEvent is one incremental status update emitted while a job runs.
// KeepAlive events carry only Timestamp and are interleaved during long
// stages to hold a streaming connection open.
type ProgressEvent struct {
	Stage            Stage     `json:"stage,omitempty"`
	Message          string    `json:"message,omitempty"`
	TotalIssues      int       `json:"totalIssues,omitempty"`
	CurrentIssue     int       `json:"currentIssue,omitempty"`
	DownloadedSize   int64     `json:"downloadedSize,omitempty"`
	TimeElapsed      float64   `json:"timeElapsed,omitempty"`
	TimeRemaining    float64   `json:"estimatedTimeRemaining,omitempty"`
	CurrentOperation string    `json:"currentOperation,omitempty"`
	OperationDetails string    `json:"operationDetails,omitempty"`
	KeepAlive        bool      `json:"keepAlive,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}
