package routes

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	gwtypes "github.com/lgulliver/photoflow/cmd/upload-gateway/types"
	"github.com/lgulliver/photoflow/internal/journal"
	"github.com/lgulliver/photoflow/internal/middleware"
	"github.com/lgulliver/photoflow/internal/progress"
	"github.com/lgulliver/photoflow/internal/storage"
	"github.com/lgulliver/photoflow/internal/upload"
	"github.com/rs/zerolog/log"
)

// UploadOptions configures the upload routes. Events and Snapshots may be nil.
type UploadOptions struct {
	Pipeline      Pipeline
	Events        EventLog
	Snapshots     SnapshotReader
	MaxUploadSize int64
}

// UploadRoutes sets up the upload session API
func UploadRoutes(r *gin.RouterGroup, opts UploadOptions) {
	uploads := r.Group("/uploads")
	{
		uploads.POST("",
			middleware.SessionGate(opts.Pipeline),
			middleware.RequireMultipart(),
			startUpload(opts.Pipeline, opts.MaxUploadSize),
		)
		uploads.GET("", getSession(opts.Pipeline))
		uploads.DELETE("", clearSession(opts.Pipeline))
		uploads.GET("/progress", getProgress(opts.Pipeline))
		uploads.POST("/retry/storage", retryStorage(opts.Pipeline))
		uploads.POST("/retry/registrations", retryRegistrations(opts.Pipeline))
		uploads.GET("/events", listEvents(opts.Pipeline, opts.Events))
		uploads.GET("/events/summary", summarizeEvents(opts.Pipeline, opts.Events))
		uploads.GET("/sessions/:sessionId", getPublishedSnapshot(opts.Snapshots))
	}
}

// startUpload accepts a multipart form with one or more "files" parts and
// starts a session. With ?wait=true it responds once the session finished.
func startUpload(pipeline Pipeline, maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxSize > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		}

		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gwtypes.APIResponse{Error: "Invalid multipart form: " + err.Error()})
			return
		}
		headers := form.File["files"]
		if len(headers) == 0 {
			c.JSON(http.StatusBadRequest, gwtypes.APIResponse{Error: "No files provided"})
			return
		}

		files := make([]storage.File, 0, len(headers))
		names := make([]string, 0, len(headers))
		for _, fh := range headers {
			f, err := readPart(fh)
			if err != nil {
				log.Warn().Err(err).Str("file", fh.Filename).Msg("failed to read uploaded part")
				c.JSON(http.StatusBadRequest, gwtypes.APIResponse{Error: err.Error()})
				return
			}
			files = append(files, f)
			names = append(names, f.Name())
		}

		done, err := pipeline.StartSession(c.Request.Context(), files)
		if err != nil {
			if errors.Is(err, upload.ErrSessionActive) {
				c.JSON(http.StatusConflict, gwtypes.APIResponse{Error: "An upload session is already in progress"})
				return
			}
			log.Error().Err(err).Msg("failed to start upload session")
			c.JSON(http.StatusInternalServerError, gwtypes.APIResponse{Error: "Failed to start upload session"})
			return
		}

		accepted := gwtypes.UploadAccepted{SessionID: pipeline.SessionID(), Files: len(files), Names: names}

		if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
			select {
			case <-done:
				c.JSON(http.StatusOK, gwtypes.APIResponse{Success: true, Data: pipeline.Snapshot()})
			case <-c.Request.Context().Done():
				// the session keeps running without the client
			}
			return
		}

		c.JSON(http.StatusAccepted, gwtypes.APIResponse{
			Success: true,
			Message: "Upload started",
			Data:    accepted,
		})
	}
}

func readPart(fh *multipart.FileHeader) (storage.File, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return storage.NewBytesFile(fh.Filename, fh.Header.Get("Content-Type"), data), nil
}

func getSession(pipeline Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gwtypes.APIResponse{Success: true, Data: pipeline.Snapshot()})
	}
}

func getProgress(pipeline Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := pipeline.Snapshot()
		c.JSON(http.StatusOK, gwtypes.APIResponse{
			Success: true,
			Data: gwtypes.ProgressResponse{
				SessionID:   snap.SessionID,
				IsUploading: snap.IsUploading,
				Progress:    snap.Progress,
				Error:       snap.Error,
			},
		})
	}
}

func clearSession(pipeline Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		pipeline.ClearSession()
		c.Status(http.StatusNoContent)
	}
}

func retryStorage(pipeline Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		n := pipeline.RetryFailedStorageUploads()
		snap := pipeline.Snapshot()
		c.JSON(http.StatusOK, gwtypes.APIResponse{
			Success: true,
			Data:    gwtypes.RetryResult{SessionID: snap.SessionID, Retried: n, Progress: snap.Progress},
		})
	}
}

func retryRegistrations(pipeline Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		n := pipeline.RetryFailedRegistrations(c.Request.Context())
		snap := pipeline.Snapshot()
		c.JSON(http.StatusOK, gwtypes.APIResponse{
			Success: true,
			Data:    gwtypes.RetryResult{SessionID: snap.SessionID, Retried: n, Progress: snap.Progress},
		})
	}
}

// listEvents reads the journal, defaulting to the current session
func listEvents(pipeline Pipeline, events EventLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		if events == nil {
			c.JSON(http.StatusServiceUnavailable, gwtypes.APIResponse{Error: "Upload journal is disabled"})
			return
		}

		q := journal.EventQuery{
			SessionID: c.DefaultQuery("sessionId", pipeline.SessionID()),
			ItemID:    c.Query("itemId"),
			ToStatus:  c.Query("status"),
		}
		if raw := c.Query("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				c.JSON(http.StatusBadRequest, gwtypes.APIResponse{Error: "Invalid limit"})
				return
			}
			q.Limit = limit
		}
		if raw := c.Query("since"); raw != "" {
			since, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gwtypes.APIResponse{Error: "Invalid since, expected RFC3339"})
				return
			}
			q.Since = &since
		}

		list, err := events.List(c.Request.Context(), q)
		if err != nil {
			log.Error().Err(err).Msg("failed to list upload events")
			c.JSON(http.StatusInternalServerError, gwtypes.APIResponse{Error: "Failed to list upload events"})
			return
		}
		c.JSON(http.StatusOK, gwtypes.APIResponse{Success: true, Data: list})
	}
}

func summarizeEvents(pipeline Pipeline, events EventLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		if events == nil {
			c.JSON(http.StatusServiceUnavailable, gwtypes.APIResponse{Error: "Upload journal is disabled"})
			return
		}
		sessionID := c.DefaultQuery("sessionId", pipeline.SessionID())
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, gwtypes.APIResponse{Error: "No session"})
			return
		}
		summary, err := events.Summary(c.Request.Context(), sessionID)
		if err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("failed to summarize upload events")
			c.JSON(http.StatusInternalServerError, gwtypes.APIResponse{Error: "Failed to summarize upload events"})
			return
		}
		c.JSON(http.StatusOK, gwtypes.APIResponse{Success: true, Data: summary})
	}
}

// getPublishedSnapshot serves the snapshot another replica published
func getPublishedSnapshot(snapshots SnapshotReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if snapshots == nil {
			c.JSON(http.StatusServiceUnavailable, gwtypes.APIResponse{Error: "Progress mirror is disabled"})
			return
		}
		snap, err := snapshots.Load(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			if errors.Is(err, progress.ErrNotFound) {
				c.JSON(http.StatusNotFound, gwtypes.APIResponse{Error: "Session not found"})
				return
			}
			log.Error().Err(err).Msg("failed to load published snapshot")
			c.JSON(http.StatusBadGateway, gwtypes.APIResponse{Error: "Failed to load session snapshot"})
			return
		}
		c.JSON(http.StatusOK, gwtypes.APIResponse{Success: true, Data: snap})
	}
}
