package ingest

import (
	"context"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"grocery-backend/internal/runs"
	"grocery-backend/internal/shared/server/respond"
	"grocery-backend/internal/shared/storage/object"
	"grocery-backend/internal/shared/telemetry"
)

const maxUploadBytes = 10 << 20

// Starter begins a workflow run for a stored document.
type Starter interface {
	StartRun(ctx context.Context, input runs.Input) (runs.Run, error)
}

// Handler accepts bucket notifications and direct uploads and turns them
// into workflow runs.
type Handler struct {
	starter Starter
	store   object.Store
	bucket  string
	prefix  string
}

func NewHandler(starter Starter, store object.Store, bucket, prefix string) *Handler {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Handler{starter: starter, store: store, bucket: bucket, prefix: prefix}
}

// Result is the outcome of handling one object event.
type Result struct {
	StatusCode int
	RunID      string
	Message    string
}

// Handle validates one object event and starts a run for it. Events that are
// not object creations are acknowledged without action.
func (h *Handler) Handle(ctx context.Context, ev ObjectEvent) (Result, error) {
	if !ev.IsObjectCreated() {
		return Result{StatusCode: http.StatusNoContent}, nil
	}
	kind := ev.FileKind()
	if _, ok := runs.SupportedKinds[kind]; !ok {
		telemetry.Warn("ingest.unsupported_type", map[string]any{
			"bucket": ev.Bucket,
			"key":    ev.Key,
			"kind":   kind,
		})
		return Result{StatusCode: http.StatusBadRequest, Message: "Unsupported file type"}, nil
	}

	run, err := h.starter.StartRun(ctx, runs.Input{
		Bucket:   ev.Bucket,
		Key:      ev.Key,
		FileKind: kind,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		StatusCode: http.StatusAccepted,
		RunID:      run.ID,
		Message:    "run started",
	}, nil
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/events/object-created", h.objectCreated)
	rg.POST("/uploads", h.upload)
}

type eventResponse struct {
	RunID   string `json:"runId,omitempty"`
	Message string `json:"message"`
}

func (h *Handler) objectCreated(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unreadable request body", nil)
		return
	}
	events, err := ParseNotification(body)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid notification payload", nil)
		return
	}
	if len(events) == 0 {
		c.Status(http.StatusNoContent)
		return
	}

	// Notifications carry one record in practice; the first rejection or
	// failure decides the response.
	var last Result
	for _, ev := range events {
		res, err := h.Handle(c.Request.Context(), ev)
		if err != nil {
			telemetry.Error("ingest.start_failed", map[string]any{
				"bucket":     ev.Bucket,
				"key":        ev.Key,
				"error":      err.Error(),
				"request_id": c.GetString("requestId"),
			})
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start run", nil)
			return
		}
		if res.StatusCode == http.StatusBadRequest {
			// Upstream event deliverers expect the plain rejection body.
			c.String(http.StatusBadRequest, res.Message)
			c.Abort()
			return
		}
		last = res
	}
	if last.StatusCode == http.StatusNoContent {
		c.Status(http.StatusNoContent)
		return
	}
	respond.JSON(c, last.StatusCode, eventResponse{RunID: last.RunID, Message: last.Message})
}

// upload stores a document and starts its run directly, without waiting for a
// bucket notification. Useful against the local object store.
func (h *Handler) upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	defer file.Close()

	if header.Size > maxUploadBytes {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file exceeds size limit", nil)
		return
	}

	name := path.Base(header.Filename)
	kind := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if _, ok := runs.SupportedKinds[kind]; !ok {
		respond.Error(c, http.StatusBadRequest, "validation_error", "Unsupported file type", nil)
		return
	}

	key := path.Join(h.prefix, uuid.NewString()+"-"+name)
	loc := object.Locator{Bucket: h.bucket, Key: key}
	contentType := header.Header.Get("Content-Type")
	if _, err := h.store.Save(c.Request.Context(), loc, contentType, file); err != nil {
		telemetry.Error("ingest.upload_failed", map[string]any{
			"key":        key,
			"error":      err.Error(),
			"request_id": c.GetString("requestId"),
		})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to store document", nil)
		return
	}

	res, err := h.Handle(c.Request.Context(), ObjectEvent{
		Bucket:    h.bucket,
		Key:       key,
		EventType: "ObjectCreated:Put",
	})
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start run", nil)
		return
	}
	respond.Accepted(c, eventResponse{RunID: res.RunID, Message: res.Message})
}
