// Package api exposes the HTTP surface: reference loading, sample
// uploads, task status and the results table.
package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"snipeqc/internal/intake"
	"snipeqc/internal/reference"
	"snipeqc/internal/results"
	"snipeqc/internal/task"
	"snipeqc/internal/worker"
)

type API struct {
	orch  *task.Orchestrator
	refs  *reference.Loader
	table *results.Table
	wrk   *worker.Worker
}

func New(orch *task.Orchestrator, refs *reference.Loader, table *results.Table, wrk *worker.Worker) *API {
	return &API{orch: orch, refs: refs, table: table, wrk: wrk}
}

// RegisterRoutes registers API routes on the provided gin engine.
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/reference", a.LoadReference)
		api.GET("/reference", a.GetReference)
		api.POST("/samples", a.UploadSamples)
		api.GET("/tasks", a.ListTasks)
		api.GET("/tasks/:id", a.GetTask)
		api.DELETE("/tasks/:id", a.RemoveTask)
		api.GET("/results", a.GetResults)
		api.GET("/results/export", a.ExportResults)
		api.GET("/session", a.GetSession)
	}
}

type referenceResponse struct {
	Species     string `json:"species"`
	Genome      string `json:"genome"`
	YChromosome string `json:"y_chromosome"`
	Amplicon    string `json:"amplicon,omitempty"`
	Chromosomes int    `json:"chromosomes"`
	LoadedAt    string `json:"loaded_at"`
}

type taskResponse struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Status      task.Status `json:"status"`
	Progress    int         `json:"progress"`
	StatusText  string      `json:"status_text"`
	ErrorDetail string      `json:"error_detail,omitempty"`
	CreatedAt   string      `json:"created_at"`
}

// LoadReference adopts the session's reference bundle.
func (a *API) LoadReference(c *gin.Context) {
	var sel reference.Selection
	if err := c.ShouldBindJSON(&sel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	bundle, err := a.refs.Load(c.Request.Context(), sel)
	if err != nil {
		switch {
		case errors.Is(err, reference.ErrAlreadyLoaded):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, reference.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, reference.ErrBadSelection):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			log.Error().Err(err).Msg("reference load failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, toReferenceResponse(bundle))
}

// GetReference reports the adopted bundle, 404 before any load.
func (a *API) GetReference(c *gin.Context) {
	bundle := a.refs.Bundle()
	if bundle == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reference bundle loaded"})
		return
	}
	c.JSON(http.StatusOK, toReferenceResponse(bundle))
}

// UploadSamples ingests every uploaded file and dispatches the resulting
// tasks. Dispatch failures mark individual tasks failed; the upload as a
// whole still succeeds.
func (a *API) UploadSamples(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	files := form.File["samples"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no samples provided"})
		return
	}

	created := make([]taskResponse, 0, len(files))
	for _, header := range files {
		content, err := readUpload(header)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		samples, err := a.orch.Ingest(header.Filename, content)
		if err != nil {
			if errors.Is(err, intake.ErrUnsupportedFormat) {
				c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		for _, sample := range samples {
			if err := a.orch.Dispatch(sample.ID); err != nil {
				log.Warn().Str("task_id", sample.ID).Err(err).Msg("dispatch failed")
			}
			if snapshot, ok := a.orch.Get(sample.ID); ok {
				created = append(created, toTaskResponse(snapshot))
			}
		}
	}
	c.JSON(http.StatusCreated, gin.H{"tasks": created})
}

// ListTasks returns every registered task ordered by creation time.
func (a *API) ListTasks(c *gin.Context) {
	samples := a.orch.List()
	out := make([]taskResponse, 0, len(samples))
	for _, sample := range samples {
		out = append(out, toTaskResponse(sample))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

// GetTask returns one task's status.
func (a *API) GetTask(c *gin.Context) {
	id := c.Param("id")
	if sample, ok := a.orch.Get(id); ok {
		c.JSON(http.StatusOK, toTaskResponse(sample))
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
}

// RemoveTask drops a task. In-flight computation keeps running; its late
// events are discarded.
func (a *API) RemoveTask(c *gin.Context) {
	id := c.Param("id")
	if err := a.orch.Remove(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetResults returns the table snapshot plus in-flight indicators.
func (a *API) GetResults(c *gin.Context) {
	header, rows := a.table.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"header":   header,
		"rows":     rows,
		"progress": a.table.Indicators(),
	})
}

// ExportResults streams the table as a TSV attachment.
func (a *API) ExportResults(c *gin.Context) {
	if a.table.Len() == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no results to export"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="snipeqc-results.tsv"`)
	c.Header("Content-Type", "text/tab-separated-values")
	if err := a.table.ExportTSV(c.Writer); err != nil {
		log.Error().Err(err).Msg("results export failed")
	}
}

// GetSession reports worker health; a fatal initialization error surfaces
// here for the client's blocking notification.
func (a *API) GetSession(c *gin.Context) {
	resp := gin.H{"worker_state": string(a.wrk.State())}
	if sessionErr := a.orch.SessionError(); sessionErr != "" {
		resp["error"] = sessionErr
	}
	c.JSON(http.StatusOK, resp)
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func toReferenceResponse(b *reference.Bundle) referenceResponse {
	return referenceResponse{
		Species:     b.Species,
		Genome:      b.Genome,
		YChromosome: b.YChromosome,
		Amplicon:    b.Amplicon,
		Chromosomes: len(b.ChrSigs),
		LoadedAt:    b.LoadedAt.UTC().Format(time.RFC3339),
	}
}

func toTaskResponse(s *task.Sample) taskResponse {
	return taskResponse{
		ID:          s.ID,
		DisplayName: s.DisplayName,
		Status:      s.Status,
		Progress:    s.Progress,
		StatusText:  s.StatusText,
		ErrorDetail: s.ErrorDetail,
		CreatedAt:   s.CreatedAt.UTC().Format(time.RFC3339),
	}
}
