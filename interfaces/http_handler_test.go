package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"cv-copilot/application/agent"
	"cv-copilot/application/evaluation"
	"cv-copilot/domain"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRouter(t *testing.T, svc *fakeService, chat Chatter, opts HTTPOptions) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHTTPHandler(router, svc, chat, opts, zaptest.NewLogger(t))
	return router
}

func doJSON(router http.Handler, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type part struct {
	field, filename, contentType, content string
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		if p.contentType != "" {
			header.Set("Content-Type", p.contentType)
		}
		pw, err := w.CreatePart(header)
		require.NoError(t, err)
		_, err = pw.Write([]byte(p.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUpload(t *testing.T) {
	var gotOwner string
	var gotCV, gotProject evaluation.File
	svc := &fakeService{upload: func(ownerID string, cv, project evaluation.File) (*domain.Upload, error) {
		gotOwner, gotCV, gotProject = ownerID, cv, project
		return &domain.Upload{ID: "up-1", OwnerID: ownerID, CVFilename: cv.Name}, nil
	}}
	router := newTestRouter(t, svc, &fakeAssistant{}, HTTPOptions{})

	body, contentType := multipartBody(t,
		part{field: "cv", filename: "jane.pdf", contentType: "application/pdf", content: "%PDF-1.7 cv"},
		part{field: "project", filename: "report.docx", contentType: "application/octet-stream", content: "PK project"},
	)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(ownerHeader, "user-9")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "up-1", decode(t, rec)["id"])
	assert.Equal(t, "user-9", gotOwner)
	assert.Equal(t, "jane.pdf", gotCV.Name)
	assert.Equal(t, evaluation.MimePDF, gotCV.MimeType)
	assert.Equal(t, "%PDF-1.7 cv", string(gotCV.Data))
	assert.Equal(t, evaluation.MimeDOCX, gotProject.MimeType)
}

func TestUploadMissingProject(t *testing.T) {
	router := newTestRouter(t, &fakeService{}, &fakeAssistant{}, HTTPOptions{})

	body, contentType := multipartBody(t, part{field: "cv", filename: "cv.pdf", contentType: "application/pdf", content: "x"})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "project file is required")
}

func TestUploadTooLarge(t *testing.T) {
	router := newTestRouter(t, &fakeService{}, &fakeAssistant{}, HTTPOptions{MaxUploadBytes: 512})

	body, contentType := multipartBody(t,
		part{field: "cv", filename: "cv.pdf", contentType: "application/pdf", content: strings.Repeat("x", 4096)},
		part{field: "project", filename: "p.pdf", contentType: "application/pdf", content: "y"},
	)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestEvaluateStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "accepted", wantStatus: http.StatusAccepted},
		{name: "validation", err: domain.Validationf("evaluate", "upload_id and job_posting_id are required"), wantStatus: http.StatusBadRequest},
		{name: "not found", err: domain.NotFoundf("find upload", "upload not found"), wantStatus: http.StatusNotFound},
		{name: "conflict", err: domain.Conflict("evaluate", errors.New("CV already analyzed for this job posting")), wantStatus: http.StatusConflict},
		{name: "dependency", err: domain.Dependency("queue evaluation", errors.New("broker down")), wantStatus: http.StatusBadGateway},
		{name: "untagged", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{evaluate: func(ownerID, uploadID, jobPostingID string) (*domain.Evaluation, error) {
				if tt.err != nil {
					return nil, tt.err
				}
				assert.Equal(t, anonymousOwner, ownerID)
				assert.Equal(t, "up-1", uploadID)
				assert.Equal(t, "job-1", jobPostingID)
				return &domain.Evaluation{ID: "ev-1", Status: domain.StatusPending}, nil
			}}
			router := newTestRouter(t, svc, &fakeAssistant{}, HTTPOptions{})

			rec := doJSON(router, http.MethodPost, "/evaluate", evaluateRequest{UploadID: " up-1 ", JobPostingID: "job-1"})
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			body := decode(t, rec)
			switch {
			case tt.err == nil:
				assert.Equal(t, "ev-1", body["id"])
				assert.Equal(t, string(domain.StatusPending), body["status"])
			case tt.wantStatus == http.StatusInternalServerError:
				assert.Equal(t, "internal server error", body["error"])
			default:
				assert.Contains(t, body["error"], tt.err.Error())
			}
		})
	}
}

func TestGetResult(t *testing.T) {
	rate, project, overall := 0.82, 7.5, 8.0
	svc := &fakeService{result: func(id string) (*domain.Evaluation, error) {
		switch id {
		case "done":
			return &domain.Evaluation{
				ID: id, Status: domain.StatusCompleted, UploadID: "up-1", JobPostingID: "job-1",
				CVMatchRate: &rate, CVFeedback: "strong backend", ProjectScore: &project, OverallScore: &overall,
				OverallSummary: "hire", CreatedAt: time.Now(), UpdatedAt: time.Now(),
				JobPosting: &domain.JobPosting{ID: "job-1", Title: "Backend"},
			}, nil
		case "failed":
			return &domain.Evaluation{ID: id, Status: domain.StatusFailed, OverallSummary: "Evaluation failed: timeout"}, nil
		case "pending":
			return &domain.Evaluation{ID: id, Status: domain.StatusPending}, nil
		}
		return nil, domain.NotFoundf("find evaluation", "evaluation %s not found", id)
	}}
	router := newTestRouter(t, svc, &fakeAssistant{}, HTTPOptions{})

	rec := doJSON(router, http.MethodGet, "/result/done", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	result := body["result"].(map[string]any)
	assert.Equal(t, 0.82, result["cv_match_rate"])
	assert.Equal(t, "hire", result["overall_summary"])
	assert.Equal(t, "Backend", body["job_posting"].(map[string]any)["title"])

	rec = doJSON(router, http.MethodGet, "/result/failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "Evaluation failed: timeout", body["error"])
	assert.NotContains(t, body, "result")

	rec = doJSON(router, http.MethodGet, "/result/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, decode(t, rec), "result")

	rec = doJSON(router, http.MethodGet, "/result/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListsUseOwner(t *testing.T) {
	svc := &fakeService{
		uploads: func(ownerID string) ([]domain.Upload, error) {
			return []domain.Upload{{ID: "up-" + ownerID}}, nil
		},
		list: func(ownerID string) ([]domain.Evaluation, error) {
			return []domain.Evaluation{{ID: "ev-" + ownerID, Status: domain.StatusPending}}, nil
		},
	}
	router := newTestRouter(t, svc, &fakeAssistant{}, HTTPOptions{})

	rec := doJSON(router, http.MethodGet, "/upload", nil, ownerHeader, "u7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"up-u7"`)

	rec = doJSON(router, http.MethodGet, "/evaluate", nil, ownerHeader, "u7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"ev-u7"`)
}

func TestQuery(t *testing.T) {
	svc := &fakeService{query: func(text string, k int) ([]domain.ScoredDocument, error) {
		if text == "" {
			return []domain.ScoredDocument{}, nil
		}
		return []domain.ScoredDocument{{ID: "d1", Content: text, Score: 0.9}}, nil
	}}
	router := newTestRouter(t, svc, &fakeAssistant{}, HTTPOptions{})

	rec := doJSON(router, http.MethodGet, "/query", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = doJSON(router, http.MethodGet, "/query?text=golang&k=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"content":"golang"`)

	rec = doJSON(router, http.MethodGet, "/query?text=x&k=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobRoutes(t *testing.T) {
	title := "Staff Engineer"
	svc := &fakeService{
		createJob: func(in evaluation.JobInput) (*domain.JobPosting, error) {
			return &domain.JobPosting{ID: "job-1", Title: in.Title}, nil
		},
		jobs: func(limit int) ([]domain.JobPosting, error) {
			assert.Equal(t, 5, limit)
			return []domain.JobPosting{{ID: "job-1"}}, nil
		},
		job: func(id string) (*domain.JobPosting, error) {
			return nil, domain.NotFoundf("find job posting", "job posting %s not found", id)
		},
		updateJob: func(id string, patch evaluation.JobPatch) (*domain.JobPosting, error) {
			require.NotNil(t, patch.Title)
			assert.Nil(t, patch.Description)
			return &domain.JobPosting{ID: id, Title: *patch.Title}, nil
		},
		deleteJob: func(id string) error { return nil },
	}
	router := newTestRouter(t, svc, &fakeAssistant{}, HTTPOptions{})

	rec := doJSON(router, http.MethodPost, "/jobs", evaluation.JobInput{Title: "Backend", Description: "Go"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(router, http.MethodGet, "/jobs?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(router, http.MethodGet, "/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(router, http.MethodPatch, "/jobs/job-1", evaluation.JobPatch{Title: &title})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, title, decode(t, rec)["title"])

	rec = doJSON(router, http.MethodDelete, "/jobs/job-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestChat(t *testing.T) {
	assistant := &fakeAssistant{answer: "Two candidates applied."}
	router := newTestRouter(t, &fakeService{}, assistant, HTTPOptions{})

	rec := doJSON(router, http.MethodPost, "/chat", chatRequest{Message: "who applied?"}, ownerHeader, "hr-1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Two candidates applied.", body["answer"])
	assert.Equal(t, "http:hr-1:default", body["thread_id"])

	calls := assistant.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "who applied?", calls[0].Message)

	rec = doJSON(router, http.MethodPost, "/chat", chatRequest{Message: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatFailuresReturnFallbackOnly(t *testing.T) {
	tests := map[string]struct {
		err  error
		code int
	}{
		"recursion limit": {
			err:  domain.LimitExceeded("chat", errors.New("recursion limit exceeded")),
			code: http.StatusUnprocessableEntity,
		},
		"model outage": {
			err:  domain.Dependency("chat", errors.New("googleapi: Error 503: api key AIza-secret rejected")),
			code: http.StatusBadGateway,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			router := newTestRouter(t, &fakeService{}, &fakeAssistant{err: tt.err}, HTTPOptions{})

			rec := doJSON(router, http.MethodPost, "/chat", chatRequest{ThreadID: "t1", Message: "loop"})
			require.Equal(t, tt.code, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, agent.Fallback, body["answer"])
			assert.NotContains(t, body, "error")
			assert.NotContains(t, rec.Body.String(), tt.err.Error())
		})
	}
}

func TestHealth(t *testing.T) {
	healthy := newTestRouter(t, &fakeService{}, &fakeAssistant{}, HTTPOptions{})
	rec := doJSON(healthy, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	failing := gin.New()
	NewHTTPHandler(failing, &fakeService{}, &fakeAssistant{}, HTTPOptions{
		Health: func(ctx context.Context) error { return errors.New("database unreachable") },
	}, zaptest.NewLogger(t))
	rec = doJSON(failing, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
