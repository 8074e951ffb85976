package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"galleryfetch/internal/adapter"
	fileutil "galleryfetch/internal/file"
	"galleryfetch/internal/task"
)

const maxImportBytes = 8 << 20

type createTasksRequest struct {
	URLs      []string `json:"urls"`
	Enqueue   bool     `json:"enqueue"`
	FetchInfo bool     `json:"fetch_info"`
}

type createTasksResponse struct {
	Added   []taskResponse `json:"added"`
	Skipped int            `json:"skipped"`
}

type taskResponse struct {
	task.Snapshot
	ArchiveURL string `json:"archive_url,omitempty"`
}

type adapterResponse struct {
	Name     string   `json:"name"`
	Language string   `json:"language,omitempty"`
	Domains  []string `json:"domains"`
	Mirrors  []string `json:"mirrors,omitempty"`
	Gallery  bool     `json:"gallery"`
}

// AdapterLister exposes the loaded adapters.
type AdapterLister interface {
	All() []*adapter.SiteAdapter
}

type API struct {
	taskManager *task.Manager
	adapters    AdapterLister
}

func NewAPI(taskManager *task.Manager, adapters AdapterLister) *API {
	return &API{taskManager: taskManager, adapters: adapters}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/tasks", a.CreateTasks)
		api.POST("/tasks/import", a.ImportTasks)
		api.GET("/tasks", a.ListTasks)
		api.GET("/tasks/:id", a.GetTask)
		api.DELETE("/tasks/:id", a.RemoveTask)
		api.POST("/tasks/:id/enqueue", a.taskAction("enqueue", a.taskManager.Enqueue))
		api.POST("/tasks/:id/pause", a.taskAction("pause", a.taskManager.Pause))
		api.POST("/tasks/:id/resume", a.taskAction("resume", a.taskManager.Resume))
		api.POST("/tasks/:id/retry", a.taskAction("retry", a.taskManager.Retry))
		api.POST("/tasks/:id/info", a.FetchInfo)
		api.GET("/tasks/:id/archive", a.DownloadArchive)

		api.GET("/scheduler", a.SchedulerState)
		api.POST("/scheduler/start", a.StartScheduler)
		api.POST("/scheduler/stop", a.StopScheduler)

		api.GET("/adapters", a.ListAdapters)
		api.GET("/events", a.Events)
	}
}

// CreateTasks submits URLs, optionally queueing them or fetching their metadata.
func (a *API) CreateTasks(c *gin.Context) {
	var req createTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid create tasks request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if len(req.URLs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": task.ErrNoURLs.Error()})
		return
	}

	added, skipped := a.taskManager.SubmitMany(req.URLs, req.Enqueue)
	resp := createTasksResponse{Added: make([]taskResponse, 0, len(added)), Skipped: skipped}
	for _, snap := range added {
		if req.FetchInfo {
			if err := a.taskManager.FetchInfoAsync(snap.ID); err != nil {
				log.Warn().Str("task_id", snap.ID).Err(err).Msg("schedule fetch info failed")
			}
		}
		resp.Added = append(resp.Added, toTaskResponse(snap))
	}
	log.Info().Int("added", len(added)).Int("skipped", skipped).Bool("enqueue", req.Enqueue).Msg("tasks submitted")
	c.JSON(http.StatusCreated, resp)
}

// ImportTasks accepts a plain text URL list and submits it in the background.
func (a *API) ImportTasks(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
		return
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": task.ErrNoURLs.Error()})
		return
	}
	enqueue := c.Query("enqueue") == "true"
	a.taskManager.ImportAsync(data, enqueue)
	c.JSON(http.StatusAccepted, gin.H{"status": "importing", "bytes": len(data)})
}

// ListTasks returns every task in submission order.
func (a *API) ListTasks(c *gin.Context) {
	snaps := a.taskManager.List()
	out := make([]taskResponse, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, toTaskResponse(snap))
	}
	c.JSON(http.StatusOK, out)
}

// GetTask returns task status
func (a *API) GetTask(c *gin.Context) {
	id := c.Param("id")
	snap, err := a.taskManager.Get(id)
	if err != nil {
		writeError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(snap))
}

// RemoveTask forgets a task; downloaded files stay on disk.
func (a *API) RemoveTask(c *gin.Context) {
	id := c.Param("id")
	if err := a.taskManager.Remove(id); err != nil {
		writeError(c, id, err)
		return
	}
	log.Info().Str("task_id", id).Msg("task removed")
	c.Status(http.StatusNoContent)
}

func (a *API) taskAction(name string, action func(taskID string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := action(id); err != nil {
			writeError(c, id, err)
			return
		}
		log.Info().Str("task_id", id).Str("action", name).Msg("task action applied")
		a.GetTask(c)
	}
}

// FetchInfo schedules a metadata-only fetch.
func (a *API) FetchInfo(c *gin.Context) {
	id := c.Param("id")
	if err := a.taskManager.FetchInfoAsync(id); err != nil {
		writeError(c, id, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "fetching"})
}

// DownloadArchive packs a completed gallery and serves it as .cbz
func (a *API) DownloadArchive(c *gin.Context) {
	id := c.Param("id")
	archivePath, err := a.taskManager.Archive(c.Request.Context(), id)
	if err != nil {
		writeError(c, id, err)
		return
	}
	snap, _ := a.taskManager.Get(id)
	log.Info().Str("task_id", id).Str("path", archivePath).Msg("serving archive download")
	c.FileAttachment(archivePath, fileutil.SanitizeTitle(snap.Title)+".cbz")
}

// SchedulerState reports the worker pool.
func (a *API) SchedulerState(c *gin.Context) {
	c.JSON(http.StatusOK, a.taskManager.State())
}

func (a *API) StartScheduler(c *gin.Context) {
	a.taskManager.Start()
	c.JSON(http.StatusOK, a.taskManager.State())
}

func (a *API) StopScheduler(c *gin.Context) {
	a.taskManager.Stop()
	c.JSON(http.StatusOK, a.taskManager.State())
}

// ListAdapters returns the loaded adapters in resolution order.
func (a *API) ListAdapters(c *gin.Context) {
	out := make([]adapterResponse, 0)
	if a.adapters != nil {
		for _, site := range a.adapters.All() {
			out = append(out, adapterResponse{
				Name:     site.Name,
				Language: site.Language,
				Domains:  site.Domains,
				Mirrors:  site.Mirrors,
				Gallery:  site.Gallery != nil,
			})
		}
	}
	c.JSON(http.StatusOK, out)
}

func toTaskResponse(snap task.Snapshot) taskResponse {
	resp := taskResponse{Snapshot: snap}
	if snap.Status == task.StatusCompleted {
		resp.ArchiveURL = "/api/v1/tasks/" + snap.ID + "/archive"
	}
	return resp
}

func writeError(c *gin.Context, id string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, task.ErrInvalidTransition),
		errors.Is(err, task.ErrRetryLimit),
		errors.Is(err, task.ErrNotCompleted):
		status = http.StatusConflict
	case errors.Is(err, task.ErrInvalidURL), errors.Is(err, task.ErrNoURLs):
		status = http.StatusBadRequest
	}
	evt := log.Warn()
	if status >= statusErrorThreshold {
		evt = log.Error()
	}
	evt.Str("task_id", id).Err(err).Int("status", status).Msg("task request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}
