// Package api is the HTTP shell: thin gin handlers over the job store,
// the queue, and the export pipeline.
package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yokitheyo/jira-export/internal/model"
	"github.com/yokitheyo/jira-export/internal/pipeline"
	"github.com/yokitheyo/jira-export/internal/progress"
	"github.com/yokitheyo/jira-export/internal/queue"
	"github.com/yokitheyo/jira-export/internal/storage"
	"github.com/yokitheyo/jira-export/internal/store"
)

type Handler struct {
	Store   *store.Store
	Queue   *queue.Queue
	Deps    pipeline.Deps
	Storage storage.Storage

	OutputDir           string
	DeleteAfterDownload bool
	KeepAliveInterval   time.Duration
	Logger              *log.Logger
}

type ExportRequest struct {
	ProjectKey   string `json:"project_key" binding:"required"`
	DownloadType string `json:"download_type"`
	FileFormat   string `json:"file_format"`
}

func RegisterHandlers(r *gin.Engine, h *Handler) {
	if h.KeepAliveInterval <= 0 {
		h.KeepAliveInterval = 15 * time.Second
	}
	if h.Logger == nil {
		h.Logger = log.New(io.Discard, "", 0)
	}

	r.POST("/jobs", h.createJob)
	r.GET("/jobs", h.listJobs)
	r.GET("/jobs/:id", h.getJob)
	r.POST("/jobs/:id/cancel", h.cancelJob)
	r.GET("/jobs/:id/segments/:number", h.downloadSegment)

	r.POST("/export", h.exportStream)
}

// jobFromRequest validates the enums and fills defaults: a full export
// in JSON unless the client says otherwise.
func (h *Handler) jobFromRequest(req *ExportRequest) (*model.Job, error) {
	if req.DownloadType == "" {
		req.DownloadType = string(model.DownloadAll)
	}
	if req.FileFormat == "" {
		req.FileFormat = string(model.FormatJSON)
	}
	dt, err := model.ParseDownloadType(req.DownloadType)
	if err != nil {
		return nil, err
	}
	ff, err := model.ParseFileFormat(req.FileFormat)
	if err != nil {
		return nil, err
	}
	return &model.Job{
		ProjectKey:   req.ProjectKey,
		DownloadType: dt,
		FileFormat:   ff,
		OutputDir:    h.OutputDir,
	}, nil
}

func (h *Handler) createJob(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	job, err := h.jobFromRequest(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Store.CreateJob(job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.Queue.Submit()
	c.JSON(http.StatusCreated, job)
}

func (h *Handler) listJobs(c *gin.Context) {
	jobs, err := h.Store.ListJobs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *Handler) getJob(c *gin.Context) {
	job, err := h.Store.GetJob(c.Param("id"))
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) cancelJob(c *gin.Context) {
	id := c.Param("id")
	err := h.Store.CancelJob(id)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	case errors.Is(err, model.ErrCannotCancel):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	job, err := h.Store.GetJob(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) downloadSegment(c *gin.Context) {
	jobID := c.Param("id")
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid segment number"})
		return
	}

	job, err := h.Store.GetJob(jobID)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job.Status != model.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "job is not completed"})
		return
	}

	seg, err := h.Store.GetSegment(jobID, number)
	if err != nil {
		if errors.Is(err, model.ErrSegmentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "segment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	info, err := h.Storage.Stat(ctx, seg.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "archive no longer available"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	reader, err := h.Storage.Open(ctx, seg.FilePath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", `attachment; filename="`+seg.FilePath+`"`)
	c.DataFromReader(http.StatusOK, info.Size, "application/zip", reader, nil)

	if err := h.Store.MarkSegmentDelivered(jobID, number); err != nil {
		h.Logger.Printf("api: mark segment %s/%d delivered: %v", jobID, number, err)
	}
	if h.DeleteAfterDownload {
		if err := h.Storage.Delete(ctx, seg.FilePath); err != nil {
			h.Logger.Printf("api: delete segment %s: %v", seg.FilePath, err)
		}
	}
}

// exportStream runs the pipeline inline and streams progress to the
// client as server-sent events, with keep-alive frames while a long
// fetch or build produces nothing to say. The job is still recorded, so
// segments remain retrievable afterwards.
func (h *Handler) exportStream(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	job, err := h.jobFromRequest(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Store.CreateJob(job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Claim immediately so the background workers leave it alone.
	claimed, err := h.Store.ClaimJob(job.ID)
	if err != nil || !claimed {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not claim job"})
		return
	}

	events := progress.NewChannel(64)
	deps := h.Deps
	deps.Reporter = events

	done := make(chan error, 1)
	go func() {
		defer events.Close()
		res, err := pipeline.Run(c.Request.Context(), job, deps)
		if err != nil {
			done <- err
			return
		}
		done <- h.Store.CompleteJob(job.ID, res.TicketFile)
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events.Events():
			if !ok {
				h.finishStream(c, job.ID, done)
				return
			}
			c.SSEvent("progress", event)
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent("progress", progress.KeepAlive())
			c.Writer.Flush()
		}
	}
}

// finishStream drains the pipeline result and emits the terminal frame.
// A client that disconnected mid-run shows up here as a context error;
// the job is failed so it does not linger in processing.
func (h *Handler) finishStream(c *gin.Context, jobID string, done <-chan error) {
	err := <-done
	if err == nil {
		return
	}

	h.Logger.Printf("api: interactive export %s: %v", jobID, err)
	if ferr := h.Store.FailJob(jobID, err.Error()); ferr != nil {
		h.Logger.Printf("api: record failure for %s: %v", jobID, ferr)
	}
	c.SSEvent("progress", model.ProgressEvent{
		Stage:     model.StageFailed,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
	c.Writer.Flush()
}
