// Package evaluation scores uploaded CV and project documents against job
// postings. Submissions return immediately; a bounded worker pool runs the
// pipeline in the background.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"cv-copilot/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

	defaultQueryResults = 4
)

var acceptedMimeTypes = map[string]bool{MimePDF: true, MimeDOCX: true}

// Publisher enqueues accepted evaluations.
type Publisher interface {
	Publish(ctx context.Context, jobID string) error
}

// File is an uploaded document.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

type Service struct {
	stores  Stores
	objects domain.ObjectStore
	search  domain.VectorStore
	queue   Publisher
	newID   func() string
	logger  *zap.Logger
}

func NewService(stores Stores, objects domain.ObjectStore, search domain.VectorStore, queue Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		stores:  stores,
		objects: objects,
		search:  search,
		queue:   queue,
		newID:   uuid.NewString,
		logger:  logger.With(zap.String("component", "evaluation")),
	}
}

// Upload stores a CV and project pair for later evaluation.
func (s *Service) Upload(ctx context.Context, ownerID string, cv, project File) (*domain.Upload, error) {
	if err := validateFile("cv", &cv); err != nil {
		return nil, err
	}
	if err := validateFile("project", &project); err != nil {
		return nil, err
	}

	upload := &domain.Upload{
		ID:              s.newID(),
		OwnerID:         ownerID,
		CVFilename:      cv.Name,
		CVMimeType:      cv.MimeType,
		ProjectFilename: project.Name,
		ProjectMimeType: project.MimeType,
	}
	if err := s.stores.Uploads.Create(ctx, upload); err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.objects.Save(gctx, upload.ObjectPath(domain.DocTypeCV), cv.Data) })
	g.Go(func() error { return s.objects.Save(gctx, upload.ObjectPath(domain.DocTypeProject), project.Data) })
	if err := g.Wait(); err != nil {
		return nil, domain.Dependency("store files", err)
	}

	s.logger.Info("upload stored", zap.String("upload_id", upload.ID), zap.String("owner_id", ownerID))
	return upload, nil
}

func validateFile(field string, f *File) error {
	if len(f.Data) == 0 {
		return domain.Validationf("upload", "%s file is required", field)
	}
	f.Name = path.Base(strings.ReplaceAll(strings.TrimSpace(f.Name), "\\", "/"))
	if f.Name == "" || f.Name == "." || f.Name == "/" {
		return domain.Validationf("upload", "%s file name is required", field)
	}
	mimeType := strings.TrimSpace(strings.Split(f.MimeType, ";")[0])
	if !acceptedMimeTypes[mimeType] {
		return domain.Validationf("upload", "%s file has unsupported type %q", field, f.MimeType)
	}
	f.MimeType = mimeType
	return nil
}

// Evaluate accepts an evaluation of an upload against a job posting and queues it.
// A second live evaluation of the same pair fails with ErrConflict.
func (s *Service) Evaluate(ctx context.Context, ownerID, uploadID, jobPostingID string) (*domain.Evaluation, error) {
	if uploadID == "" || jobPostingID == "" {
		return nil, domain.Validationf("evaluate", "upload_id and job_posting_id are required")
	}

	upload, err := s.stores.Uploads.FindByID(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	job, err := s.stores.Jobs.FindByID(ctx, jobPostingID)
	if err != nil {
		return nil, err
	}

	ev := &domain.Evaluation{
		ID:           s.newID(),
		OwnerID:      ownerID,
		UploadID:     upload.ID,
		JobPostingID: job.ID,
		Status:       domain.StatusPending,
		ActiveKey:    domain.ActiveKeyFor(upload.ID, job.ID),
	}
	if err := s.stores.Evaluations.Create(ctx, ev); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.Conflict("evaluate", errors.New("CV already analyzed for this job posting"))
		}
		return nil, fmt.Errorf("create evaluation: %w", err)
	}

	if err := s.queue.Publish(ctx, ev.ID); err != nil {
		s.logger.Error("failed to queue evaluation", zap.String("evaluation_id", ev.ID), zap.Error(err))
		markErr := s.stores.Evaluations.UpdateFields(context.WithoutCancel(ctx), ev.ID, map[string]any{
			"status":          domain.StatusFailed,
			"overall_summary": "Evaluation failed: " + err.Error(),
			"active_key":      nil,
		})
		if markErr != nil {
			s.logger.Error("failed to mark evaluation as failed", zap.String("evaluation_id", ev.ID), zap.Error(markErr))
		}
		return nil, domain.Dependency("queue evaluation", err)
	}

	s.logger.Info("evaluation queued", zap.String("evaluation_id", ev.ID), zap.String("upload_id", uploadID), zap.String("job_posting_id", jobPostingID))
	ev.Upload = upload
	ev.JobPosting = job
	return ev, nil
}

// Result returns an evaluation with its upload and job posting attached.
func (s *Service) Result(ctx context.Context, id string) (*domain.Evaluation, error) {
	ev, err := s.stores.Evaluations.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upload, err := s.stores.Uploads.FindByID(ctx, ev.UploadID); err == nil {
		ev.Upload = upload
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if job, err := s.stores.Jobs.FindByID(ctx, ev.JobPostingID); err == nil {
		ev.JobPosting = job
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return ev, nil
}

// List returns the owner's evaluations, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]domain.Evaluation, error) {
	evaluations, err := s.stores.Evaluations.Find(ctx, domain.FindOptions{
		Filter: map[string]any{"owner_id": ownerID},
		Fields: []string{"id", "owner_id", "upload_id", "job_posting_id", "status", "created_at", "updated_at"},
		Sort:   domain.Newest,
	})
	if err != nil {
		return nil, err
	}
	if len(evaluations) == 0 {
		return evaluations, nil
	}

	ids := make([]string, 0, len(evaluations))
	for _, ev := range evaluations {
		ids = append(ids, ev.UploadID)
	}
	uploads, err := s.stores.Uploads.Find(ctx, domain.FindOptions{Filter: map[string]any{"id": ids}})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Upload, len(uploads))
	for i := range uploads {
		byID[uploads[i].ID] = &uploads[i]
	}
	for i := range evaluations {
		evaluations[i].Upload = byID[evaluations[i].UploadID]
	}
	return evaluations, nil
}

// Uploads returns the owner's uploads, newest first.
func (s *Service) Uploads(ctx context.Context, ownerID string) ([]domain.Upload, error) {
	return s.stores.Uploads.Find(ctx, domain.FindOptions{
		Filter: map[string]any{"owner_id": ownerID},
		Sort:   domain.Newest,
	})
}

// Query runs a similarity search over the indexed documents. An empty query returns nothing.
func (s *Service) Query(ctx context.Context, text string, k int) ([]domain.ScoredDocument, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []domain.ScoredDocument{}, nil
	}
	if k <= 0 {
		k = defaultQueryResults
	}
	docs, err := s.search.SimilaritySearch(ctx, text, k)
	if err != nil {
		return nil, domain.Dependency("query documents", err)
	}
	return docs, nil
}

// Resume requeues evaluations left PENDING and fails those left PROCESSING by
// a previous process. It is meant for queues that do not survive restarts.
func (s *Service) Resume(ctx context.Context) error {
	stale, err := s.stores.Evaluations.Find(ctx, domain.FindOptions{
		Filter: map[string]any{"status": []domain.EvaluationStatus{domain.StatusPending, domain.StatusProcessing}},
		Fields: []string{"id", "status"},
		Sort:   []domain.SortField{{Field: "created_at"}},
	})
	if err != nil {
		return err
	}

	for _, ev := range stale {
		if ev.Status == domain.StatusProcessing {
			err = s.stores.Evaluations.UpdateFields(ctx, ev.ID, map[string]any{
				"status":          domain.StatusFailed,
				"overall_summary": "Evaluation failed: interrupted by restart",
				"active_key":      nil,
			})
		} else {
			err = s.queue.Publish(ctx, ev.ID)
		}
		if err != nil {
			return fmt.Errorf("resume evaluation %s: %w", ev.ID, err)
		}
	}
	if len(stale) > 0 {
		s.logger.Info("resumed evaluations", zap.Int("count", len(stale)))
	}
	return nil
}
