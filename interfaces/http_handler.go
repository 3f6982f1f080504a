package interfaces

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"cv-copilot/application/agent"
	"cv-copilot/application/evaluation"
	"cv-copilot/domain"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EvaluationService is the application surface behind the HTTP API.
type EvaluationService interface {
	Upload(ctx context.Context, ownerID string, cv, project evaluation.File) (*domain.Upload, error)
	Uploads(ctx context.Context, ownerID string) ([]domain.Upload, error)
	Evaluate(ctx context.Context, ownerID, uploadID, jobPostingID string) (*domain.Evaluation, error)
	List(ctx context.Context, ownerID string) ([]domain.Evaluation, error)
	Result(ctx context.Context, id string) (*domain.Evaluation, error)
	Query(ctx context.Context, text string, k int) ([]domain.ScoredDocument, error)

	CreateJob(ctx context.Context, in evaluation.JobInput) (*domain.JobPosting, error)
	Job(ctx context.Context, id string) (*domain.JobPosting, error)
	Jobs(ctx context.Context, limit int) ([]domain.JobPosting, error)
	UpdateJob(ctx context.Context, id string, patch evaluation.JobPatch) (*domain.JobPosting, error)
	DeleteJob(ctx context.Context, id string) error
}

// Chatter runs one assistant turn.
type Chatter interface {
	Chat(ctx context.Context, in agent.ChatInput) (agent.ChatOutput, error)
}

type HTTPOptions struct {
	// MaxUploadBytes bounds the multipart body of an upload.
	MaxUploadBytes int64
	// Health reports readiness of the backing services; nil always reports healthy.
	Health func(ctx context.Context) error
}

type HTTPHandler struct {
	service EvaluationService
	chat    Chatter
	opts    HTTPOptions
	logger  *zap.Logger
}

// NewHTTPHandler registers the API routes on router.
func NewHTTPHandler(router gin.IRouter, service EvaluationService, chat Chatter, opts HTTPOptions, logger *zap.Logger) *HTTPHandler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	h := &HTTPHandler{service: service, chat: chat, opts: opts, logger: logger.With(zap.String("component", "http"))}

	router.GET("/healthz", h.Health)

	api := router.Group("/", Owner())
	api.POST("/upload", h.Upload)
	api.GET("/upload", h.ListUploads)
	api.POST("/evaluate", h.Evaluate)
	api.GET("/evaluate", h.ListEvaluations)
	api.GET("/result/:id", h.GetResult)
	api.GET("/query", h.Query)
	api.POST("/chat", h.Chat)

	jobs := api.Group("/jobs")
	jobs.POST("", h.CreateJob)
	jobs.GET("", h.ListJobs)
	jobs.GET("/:id", h.GetJob)
	jobs.PATCH("/:id", h.UpdateJob)
	jobs.DELETE("/:id", h.DeleteJob)

	return h
}

func (h *HTTPHandler) Health(c *gin.Context) {
	if h.opts.Health != nil {
		if err := h.opts.Health(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Upload accepts the multipart fields cv and project (PDF or DOCX).
func (h *HTTPHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)

	cv, err := formFile(c, "cv")
	if err != nil {
		writeError(c, err)
		return
	}
	project, err := formFile(c, "project")
	if err != nil {
		writeError(c, err)
		return
	}

	upload, err := h.service.Upload(c.Request.Context(), ownerID(c), cv, project)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, upload)
}

func formFile(c *gin.Context, field string) (evaluation.File, error) {
	header, err := c.FormFile(field)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return evaluation.File{}, err
		}
		return evaluation.File{}, domain.Validationf("upload", "%s file is required", field)
	}
	data, err := readFormFile(header)
	if err != nil {
		return evaluation.File{}, fmt.Errorf("read %s file: %w", field, err)
	}
	return evaluation.File{Name: header.Filename, MimeType: fileMimeType(header), Data: data}, nil
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// fileMimeType trusts the part's Content-Type unless it is missing or generic.
func fileMimeType(header *multipart.FileHeader) string {
	mimeType := header.Header.Get("Content-Type")
	if mimeType != "" && !strings.HasPrefix(mimeType, "application/octet-stream") {
		return mimeType
	}
	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".pdf":
		return evaluation.MimePDF
	case ".docx":
		return evaluation.MimeDOCX
	}
	return mimeType
}

func (h *HTTPHandler) ListUploads(c *gin.Context) {
	uploads, err := h.service.Uploads(c.Request.Context(), ownerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, uploads)
}

type evaluateRequest struct {
	UploadID     string `json:"upload_id"`
	JobPostingID string `json:"job_posting_id"`
}

// Evaluate queues an evaluation and returns it while still PENDING.
func (h *HTTPHandler) Evaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	ev, err := h.service.Evaluate(c.Request.Context(), ownerID(c), strings.TrimSpace(req.UploadID), strings.TrimSpace(req.JobPostingID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": ev.ID, "status": ev.Status})
}

func (h *HTTPHandler) ListEvaluations(c *gin.Context) {
	evaluations, err := h.service.List(c.Request.Context(), ownerID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, evaluations)
}

// GetResult returns the evaluation; scores are included once it completed.
func (h *HTTPHandler) GetResult(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		badRequest(c, "invalid id")
		return
	}

	ev, err := h.service.Result(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{
		"id":             ev.ID,
		"status":         ev.Status,
		"upload_id":      ev.UploadID,
		"job_posting_id": ev.JobPostingID,
		"created_at":     ev.CreatedAt,
		"updated_at":     ev.UpdatedAt,
	}
	if ev.Upload != nil {
		resp["upload"] = ev.Upload
	}
	if ev.JobPosting != nil {
		resp["job_posting"] = gin.H{"id": ev.JobPosting.ID, "title": ev.JobPosting.Title}
	}

	switch ev.Status {
	case domain.StatusCompleted:
		resp["result"] = gin.H{
			"cv_match_rate":    ev.CVMatchRate,
			"cv_feedback":      ev.CVFeedback,
			"project_score":    ev.ProjectScore,
			"project_feedback": ev.ProjectFeedback,
			"overall_score":    ev.OverallScore,
			"overall_summary":  ev.OverallSummary,
		}
	case domain.StatusFailed:
		resp["error"] = ev.OverallSummary
	}

	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) Query(c *gin.Context) {
	k, err := intQuery(c, "k")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	docs, err := h.service.Query(c.Request.Context(), c.Query("text"), k)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

type chatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// Chat runs one assistant turn. Threads are scoped to the caller.
func (h *HTTPHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		badRequest(c, "message is required")
		return
	}
	thread := strings.TrimSpace(req.ThreadID)
	if thread == "" {
		thread = "default"
	}
	thread = "http:" + ownerID(c) + ":" + thread

	out, err := h.chat.Chat(c.Request.Context(), agent.ChatInput{ThreadID: thread, Message: message})
	if err != nil {
		// The cause stays in the logs; callers only see the fallback answer.
		_ = c.Error(err)
		h.logger.Warn("chat failed", zap.String("thread_id", thread), zap.Error(err))
		c.AbortWithStatusJSON(statusFor(err), gin.H{"thread_id": thread, "answer": out.Answer})
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread_id": thread, "answer": out.Answer})
}

func (h *HTTPHandler) CreateJob(c *gin.Context) {
	var in evaluation.JobInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	job, err := h.service.CreateJob(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *HTTPHandler) ListJobs(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	jobs, err := h.service.Jobs(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *HTTPHandler) GetJob(c *gin.Context) {
	job, err := h.service.Job(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *HTTPHandler) UpdateJob(c *gin.Context) {
	var patch evaluation.JobPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	job, err := h.service.UpdateJob(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *HTTPHandler) DeleteJob(c *gin.Context) {
	if err := h.service.DeleteJob(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func intQuery(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}
