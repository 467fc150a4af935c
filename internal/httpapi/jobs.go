package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docwriter-backend/internal/document"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
	"github.com/yungbote/docwriter-backend/internal/status"
	"github.com/yungbote/docwriter-backend/internal/storage"
)

// JobService is the pipeline surface the API needs: job submission and
// resume-after-intake. *stages.Pipeline implements it.
type JobService interface {
	SendJob(ctx context.Context, userID, title, audience string, requestedCycles int) (*document.Payload, error)
	SendResume(ctx context.Context, jobID, userID string) (*document.Payload, error)
}

type JobHandler struct {
	log   *logger.Logger
	jobs  JobService
	table status.Table
	store storage.BlobStore
}

func NewJobHandler(log *logger.Logger, jobs JobService, table status.Table, store storage.BlobStore) *JobHandler {
	return &JobHandler{log: log.With("handler", "Job"), jobs: jobs, table: table, store: store}
}

type createJobRequest struct {
	Title    string `json:"title" binding:"required"`
	Audience string `json:"audience"`
	Cycles   int    `json:"cycles"`
}

// POST /jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	payload, err := h.jobs.SendJob(c.Request.Context(), UserID(c), req.Title, req.Audience, req.Cycles)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	RespondAccepted(c, gin.H{"job_id": payload.JobID, "stage": "ENQUEUED"})
}

// POST /jobs/:id/resume
func (h *JobHandler) ResumeJob(c *gin.Context) {
	jobID := c.Param("id")
	payload, err := h.jobs.SendResume(c.Request.Context(), jobID, UserID(c))
	if err != nil {
		code := http.StatusInternalServerError
		if strings.Contains(err.Error(), "no cycle metadata") {
			code = http.StatusConflict
		}
		RespondError(c, code, "resume_failed", err)
		return
	}
	RespondAccepted(c, gin.H{"job_id": payload.JobID, "stage": "INTAKE_RESUME_QUEUED"})
}

// GET /jobs/:id/status
func (h *JobHandler) GetStatus(c *gin.Context) {
	row, ok := h.ownedLatest(c)
	if !ok {
		return
	}
	RespondOK(c, row)
}

// GET /jobs/:id/status/timeline
func (h *JobHandler) GetTimeline(c *gin.Context) {
	if _, ok := h.ownedLatest(c); !ok {
		return
	}
	rows, err := h.table.Timeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "timeline_failed", err)
		return
	}
	RespondOK(c, gin.H{"events": rows})
}

// GET /jobs/:id/artifacts/*path
func (h *JobHandler) DownloadArtifact(c *gin.Context) {
	if _, ok := h.ownedLatest(c); !ok {
		return
	}
	rel := strings.TrimPrefix(c.Param("path"), "/")
	paths := storage.NewJobStoragePaths(UserID(c), c.Param("id"))
	key, err := paths.Relative(rel)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_artifact_path", err)
		return
	}
	data, err := h.store.GetBytes(c.Request.Context(), key)
	if err != nil {
		if storage.IsNotFound(err) {
			RespondError(c, http.StatusNotFound, "artifact_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "artifact_fetch_failed", err)
		return
	}
	c.Data(http.StatusOK, contentTypeFor(rel), data)
}

// ownedLatest loads the job's latest status row and enforces that the job
// belongs to the requesting user. Jobs of other users read as not found.
func (h *JobHandler) ownedLatest(c *gin.Context) (map[string]interface{}, bool) {
	jobID := c.Param("id")
	row, err := h.table.Latest(c.Request.Context(), jobID)
	if err != nil || row == nil {
		RespondError(c, http.StatusNotFound, "job_not_found", err)
		return nil, false
	}
	if owner, _ := row["user_id"].(string); owner != "" && owner != UserID(c) {
		RespondError(c, http.StatusNotFound, "job_not_found", nil)
		return nil, false
	}
	return row, true
}

func contentTypeFor(rel string) string {
	switch {
	case strings.HasSuffix(rel, ".md"):
		return "text/markdown; charset=utf-8"
	case strings.HasSuffix(rel, ".json"):
		return "application/json"
	case strings.HasSuffix(rel, ".png"):
		return "image/png"
	case strings.HasSuffix(rel, ".svg"):
		return "image/svg+xml"
	case strings.HasSuffix(rel, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(rel, ".docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case strings.HasSuffix(rel, ".puml"):
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
