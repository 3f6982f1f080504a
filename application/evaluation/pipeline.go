package evaluation

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"cv-copilot/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Stores groups the document store repositories the pipeline writes to.
type Stores struct {
	Evaluations domain.EvaluationRepository
	Uploads     domain.UploadRepository
	Jobs        domain.JobPostingRepository
	Details     domain.CVDetailRepository
}

// Indexes are the vector collections filled by the pipeline: full documents go
// to Documents, pages and evaluation summaries to Knowledge.
type Indexes struct {
	Documents domain.VectorStore
	Knowledge domain.VectorStore
}

// CandidateScorer scores extracted documents against a job description.
type CandidateScorer interface {
	Score(ctx context.Context, in ScoreInput) (domain.Score, error)
}

type Pipeline struct {
	stores    Stores
	indexes   Indexes
	objects   domain.ObjectStore
	extractor domain.Extractor
	scorer    CandidateScorer
	// stepTimeout bounds each extraction and scoring call when positive.
	stepTimeout time.Duration
	newID       func() string
	logger      *zap.Logger
}

func NewPipeline(stores Stores, indexes Indexes, objects domain.ObjectStore, extractor domain.Extractor,
	scorer CandidateScorer, stepTimeout time.Duration, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		stores:      stores,
		indexes:     indexes,
		objects:     objects,
		extractor:   extractor,
		scorer:      scorer,
		stepTimeout: stepTimeout,
		newID:       uuid.NewString,
		logger:      logger.With(zap.String("component", "pipeline")),
	}
}

// Run drives one evaluation from PENDING to COMPLETED or FAILED. Deliveries of
// evaluations that already left PENDING, or that another worker claimed first,
// are skipped.
func (p *Pipeline) Run(ctx context.Context, jobID string) (err error) {
	logger := p.logger.With(zap.String("evaluation_id", jobID))

	ev, err := p.stores.Evaluations.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load evaluation: %w", err)
	}
	if ev.Status != domain.StatusPending {
		logger.Info("skipping evaluation", zap.String("status", string(ev.Status)))
		return nil
	}

	claimed, err := p.stores.Evaluations.Transition(ctx, ev.ID, domain.StatusPending, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if !claimed {
		logger.Info("skipping evaluation claimed by another worker")
		return nil
	}
	ev.Status = domain.StatusProcessing
	logger.Info("evaluation started")

	defer func() {
		if r := recover(); r != nil {
			err = domain.Dependency("run evaluation", fmt.Errorf("panic: %v", r))
			p.fail(ctx, ev.ID, err, logger)
		}
	}()

	if err := p.process(ctx, ev); err != nil {
		p.fail(ctx, ev.ID, err, logger)
		return err
	}

	logger.Info("evaluation completed")
	return nil
}

func (p *Pipeline) fail(ctx context.Context, id string, cause error, logger *zap.Logger) {
	logger.Error("evaluation failed", zap.Error(cause))
	err := p.stores.Evaluations.UpdateFields(context.WithoutCancel(ctx), id, map[string]any{
		"status":          domain.StatusFailed,
		"overall_summary": "Evaluation failed: " + cause.Error(),
		"active_key":      nil,
	})
	if err != nil {
		logger.Error("failed to mark evaluation as failed", zap.Error(err))
	}
}

func (p *Pipeline) process(ctx context.Context, ev *domain.Evaluation) error {
	upload, err := p.stores.Uploads.FindByID(ctx, ev.UploadID)
	if err != nil {
		return fmt.Errorf("load upload: %w", err)
	}
	job, err := p.stores.Jobs.FindByID(ctx, ev.JobPostingID)
	if err != nil {
		return fmt.Errorf("load job posting: %w", err)
	}

	cvFile, projectFile, err := p.readDocuments(ctx, upload)
	if err != nil {
		return err
	}

	var cv, project *domain.ExtractedDocument
	g, gctx := errgroup.WithContext(ctx)
	goSafe(g, "extract cv", func() (err error) {
		cv, err = p.extract(gctx, cvFile, upload.MimeType(domain.DocTypeCV))
		return err
	})
	goSafe(g, "extract project", func() (err error) {
		project, err = p.extract(gctx, projectFile, upload.MimeType(domain.DocTypeProject))
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if cv.FullText == "" || project.FullText == "" {
		return domain.Dependency("extract documents", fmt.Errorf("extracted data is not complete"))
	}

	var score domain.Score
	g, gctx = errgroup.WithContext(ctx)
	goSafe(g, "score candidate", func() error {
		sctx, cancel := p.bound(gctx)
		defer cancel()
		var err error
		score, err = p.scorer.Score(sctx, ScoreInput{JobDescription: DescribeJob(job), CV: cv, Project: project})
		return err
	})
	goSafe(g, "index documents", func() error {
		return p.indexDocuments(gctx, ev.ID, cv, project)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := p.saveDetails(ctx, ev, cv, project); err != nil {
		return err
	}

	fields := score.Fields()
	fields["vector_id"] = documentID(ev.ID, domain.DocTypeCV)
	if err := p.stores.Evaluations.UpdateFields(ctx, ev.ID, fields); err != nil {
		return fmt.Errorf("save scores: %w", err)
	}

	if err := p.indexSummary(ctx, ev.ID, score); err != nil {
		return err
	}

	if err := p.stores.Evaluations.UpdateFields(ctx, ev.ID, map[string]any{"status": domain.StatusCompleted}); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

func (p *Pipeline) readDocuments(ctx context.Context, upload *domain.Upload) ([]byte, []byte, error) {
	var cv, project []byte
	g, gctx := errgroup.WithContext(ctx)
	goSafe(g, "read cv file", func() (err error) {
		cv, err = p.read(gctx, upload, domain.DocTypeCV)
		return err
	})
	goSafe(g, "read project file", func() (err error) {
		project, err = p.read(gctx, upload, domain.DocTypeProject)
		return err
	})
	return cv, project, g.Wait()
}

// read fails with a dependency error when the blob is missing so the
// evaluation cannot stay in PROCESSING.
func (p *Pipeline) read(ctx context.Context, upload *domain.Upload, doc domain.DocType) ([]byte, error) {
	path := upload.ObjectPath(doc)
	data, err := p.objects.Read(ctx, path)
	if err != nil {
		return nil, domain.Dependency(fmt.Sprintf("read %s file", doc), err)
	}
	if len(data) == 0 {
		return nil, domain.Dependency(fmt.Sprintf("read %s file", doc), fmt.Errorf("%s is empty", path))
	}
	return data, nil
}

func (p *Pipeline) extract(ctx context.Context, data []byte, mimeType string) (*domain.ExtractedDocument, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	doc, err := p.extractor.Extract(ctx, base64.StdEncoding.EncodeToString(data), mimeType)
	if err != nil {
		return nil, domain.Dependency("extract document", err)
	}
	return doc, nil
}

func (p *Pipeline) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.stepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.stepTimeout)
}

func (p *Pipeline) indexDocuments(ctx context.Context, evaluationID string, cv, project *domain.ExtractedDocument) error {
	ids := []string{documentID(evaluationID, domain.DocTypeCV), documentID(evaluationID, domain.DocTypeProject)}
	docs := []string{cv.FullText, project.FullText}
	metadata := []map[string]any{
		{"cv_result_id": evaluationID, "doc_type": string(domain.DocTypeCV)},
		{"cv_result_id": evaluationID, "doc_type": string(domain.DocTypeProject)},
	}
	if err := p.indexes.Documents.Upsert(ctx, ids, docs, metadata); err != nil {
		return domain.Dependency("index documents", err)
	}
	return nil
}

func (p *Pipeline) saveDetails(ctx context.Context, ev *domain.Evaluation, cv, project *domain.ExtractedDocument) error {
	var (
		details  []domain.CVDetail
		ids      []string
		docs     []string
		metadata []map[string]any
	)
	add := func(doc domain.DocType, extracted *domain.ExtractedDocument) {
		for _, page := range extracted.Pages {
			detail := domain.CVDetail{
				ID:           p.newID(),
				UploadID:     ev.UploadID,
				EvaluationID: ev.ID,
				DocType:      doc,
				Page:         page.PageNumber,
				Image:        page.Image,
				Texts:        page.Texts,
			}
			details = append(details, detail)

			text := detail.Text()
			if text == "" {
				continue
			}
			ids = append(ids, detail.ID)
			docs = append(docs, text)
			metadata = append(metadata, map[string]any{
				"cv_result_id": ev.ID,
				"cv_detail_id": detail.ID,
				"doc_type":     string(doc),
				"page":         page.PageNumber,
			})
		}
	}
	add(domain.DocTypeCV, cv)
	add(domain.DocTypeProject, project)

	if len(details) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	goSafe(g, "save page details", func() error {
		if err := p.stores.Details.CreateBatch(gctx, details); err != nil {
			return fmt.Errorf("save page details: %w", err)
		}
		return nil
	})
	if len(ids) > 0 {
		goSafe(g, "index pages", func() error {
			if err := p.indexes.Knowledge.Upsert(gctx, ids, docs, metadata); err != nil {
				return domain.Dependency("index pages", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) indexSummary(ctx context.Context, evaluationID string, score domain.Score) error {
	feedback := score.CVFeedback
	if feedback == "" {
		feedback = "N/A"
	}
	content := fmt.Sprintf("Overall Summary: %s\nCV Feedback: %s", score.OverallSummary, feedback)
	metadata := map[string]any{
		"cv_result_id":  evaluationID,
		"doc_type":      "evaluation_summary",
		"status":        string(domain.StatusCompleted),
		"overall_score": score.OverallScore,
		"cv_match_rate": score.CVMatchRate,
	}
	err := p.indexes.Knowledge.Upsert(ctx, []string{evaluationID + "_evaluation_summary"}, []string{content}, []map[string]any{metadata})
	if err != nil {
		return domain.Dependency("index evaluation summary", err)
	}
	return nil
}

// goSafe runs fn on g and reports a panic inside it as a dependency failure.
func goSafe(g *errgroup.Group, op string, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = domain.Dependency(op, fmt.Errorf("panic: %v", r))
			}
		}()
		return fn()
	})
}

func documentID(evaluationID string, doc domain.DocType) string {
	return evaluationID + "_" + string(doc)
}
