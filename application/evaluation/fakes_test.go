package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cv-copilot/domain"
)

type memEvaluations struct {
	mu    sync.Mutex
	items map[string]domain.Evaluation
	order []string
	// failUpdate makes UpdateFields fail when the update sets this key.
	failUpdate string
	// beforeClaim runs inside Transition, standing in for a concurrent writer.
	beforeClaim func(ev *domain.Evaluation)
}

func newMemEvaluations() *memEvaluations {
	return &memEvaluations{items: map[string]domain.Evaluation{}}
}

func (m *memEvaluations) Create(_ context.Context, ev *domain.Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ActiveKey != nil {
		for _, other := range m.items {
			if other.ActiveKey != nil && *other.ActiveKey == *ev.ActiveKey {
				return domain.Conflict("create evaluation", errors.New("duplicate active key"))
			}
		}
	}
	ev.CreatedAt = time.Now()
	m.items[ev.ID] = *ev
	m.order = append(m.order, ev.ID)
	return nil
}

func (m *memEvaluations) FindByID(_ context.Context, id string) (*domain.Evaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.items[id]
	if !ok {
		return nil, domain.NotFoundf("find evaluation", "evaluation %s not found", id)
	}
	return &ev, nil
}

func (m *memEvaluations) Find(_ context.Context, opts domain.FindOptions) ([]domain.Evaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Evaluation
	for _, id := range m.order {
		ev := m.items[id]
		if owner, ok := opts.Filter["owner_id"]; ok && ev.OwnerID != owner {
			continue
		}
		if statuses, ok := opts.Filter["status"].([]domain.EvaluationStatus); ok {
			match := false
			for _, s := range statuses {
				match = match || ev.Status == s
			}
			if !match {
				continue
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *memEvaluations) UpdateFields(_ context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.items[id]
	if !ok {
		return domain.NotFoundf("update evaluation", "evaluation %s not found", id)
	}
	if _, ok := fields[m.failUpdate]; ok && m.failUpdate != "" {
		return errors.New("database is read-only")
	}
	for k, v := range fields {
		switch k {
		case "status":
			ev.Status = v.(domain.EvaluationStatus)
		case "overall_summary":
			ev.OverallSummary = v.(string)
		case "active_key":
			if v == nil {
				ev.ActiveKey = nil
			}
		case "vector_id":
			ev.VectorID = v.(string)
		case "cv_match_rate":
			f := v.(float64)
			ev.CVMatchRate = &f
		case "project_score":
			f := v.(float64)
			ev.ProjectScore = &f
		case "overall_score":
			f := v.(float64)
			ev.OverallScore = &f
		case "cv_feedback":
			ev.CVFeedback = v.(string)
		case "project_feedback":
			ev.ProjectFeedback = v.(string)
		default:
			return fmt.Errorf("unexpected field %s", k)
		}
	}
	m.items[id] = ev
	return nil
}

func (m *memEvaluations) Transition(_ context.Context, id string, from, to domain.EvaluationStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.items[id]
	if !ok || ev.Status != from {
		return false, nil
	}
	if m.beforeClaim != nil {
		m.beforeClaim(&ev)
		if ev.Status != from {
			m.items[id] = ev
			return false, nil
		}
	}
	ev.Status = to
	m.items[id] = ev
	return true, nil
}

func (m *memEvaluations) get(id string) domain.Evaluation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

type memUploads struct {
	mu    sync.Mutex
	items map[string]domain.Upload
}

func (m *memUploads) Create(_ context.Context, u *domain.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = map[string]domain.Upload{}
	}
	m.items[u.ID] = *u
	return nil
}

func (m *memUploads) FindByID(_ context.Context, id string) (*domain.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.items[id]
	if !ok {
		return nil, domain.NotFoundf("find upload", "upload %s not found", id)
	}
	return &u, nil
}

func (m *memUploads) Find(_ context.Context, opts domain.FindOptions) ([]domain.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Upload
	for _, u := range m.items {
		out = append(out, u)
	}
	return out, nil
}

type memJobs struct {
	mu    sync.Mutex
	items map[string]domain.JobPosting
}

func (m *memJobs) Create(_ context.Context, j *domain.JobPosting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = map[string]domain.JobPosting{}
	}
	m.items[j.ID] = *j
	return nil
}

func (m *memJobs) FindByID(_ context.Context, id string) (*domain.JobPosting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.items[id]
	if !ok {
		return nil, domain.NotFoundf("find job posting", "job posting %s not found", id)
	}
	return &j, nil
}

func (m *memJobs) Find(context.Context, domain.FindOptions) ([]domain.JobPosting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.JobPosting
	for _, j := range m.items {
		out = append(out, j)
	}
	return out, nil
}

func (m *memJobs) Update(ctx context.Context, id string, fields map[string]any) (*domain.JobPosting, error) {
	m.mu.Lock()
	j, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return nil, domain.NotFoundf("update job posting", "job posting %s not found", id)
	}
	if title, ok := fields["title"].(string); ok {
		j.Title = title
	}
	m.items[id] = j
	m.mu.Unlock()
	return &j, nil
}

func (m *memJobs) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return domain.NotFoundf("delete job posting", "job posting %s not found", id)
	}
	delete(m.items, id)
	return nil
}

type memDetails struct {
	mu    sync.Mutex
	items []domain.CVDetail
	err   error
}

func (m *memDetails) CreateBatch(_ context.Context, details []domain.CVDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, details...)
	return nil
}

func (m *memDetails) FindByID(context.Context, string) (*domain.CVDetail, error) {
	return nil, domain.NotFoundf("find detail", "not found")
}

func (m *memDetails) Find(context.Context, domain.FindOptions) ([]domain.CVDetail, error) {
	return m.items, nil
}

type memObjects struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memObjects) Save(_ context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[path] = data
	return nil
}

func (m *memObjects) Read(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, domain.NotFoundf("read object", "object %s not found", path)
	}
	return data, nil
}

type stubExtractor struct {
	err      error
	panicMsg string
}

func (s stubExtractor) Extract(_ context.Context, content, mimeType string) (*domain.ExtractedDocument, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.err != nil {
		return nil, s.err
	}
	text := "extracted " + mimeType + " " + content
	return &domain.ExtractedDocument{
		FullText: text,
		Pages: []domain.ExtractedPage{
			{PageNumber: 1, Texts: []string{text}, Image: "aW1n"},
			{PageNumber: 2, Texts: nil},
		},
	}, nil
}

type recordingVectors struct {
	mu  sync.Mutex
	ids []string
	err error
	// panicOn makes Upsert panic for ids with this suffix.
	panicOn string
}

func (r *recordingVectors) Upsert(_ context.Context, ids []string, documents []string, metadata []map[string]any) error {
	if len(ids) != len(documents) || len(ids) != len(metadata) {
		return errors.New("mismatched upsert")
	}
	for _, id := range ids {
		if r.panicOn != "" && strings.HasSuffix(id, r.panicOn) {
			panic("index out of range")
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.ids = append(r.ids, ids...)
	return nil
}

func (r *recordingVectors) SimilaritySearch(context.Context, string, int) ([]domain.ScoredDocument, error) {
	return []domain.ScoredDocument{{ID: "d", Content: "hit"}}, nil
}

func (r *recordingVectors) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

// structuredModel answers structured chats with a fixed JSON object.
type structuredModel struct {
	output map[string]any
	err    error
}

func (s structuredModel) Chat(context.Context, []domain.Message, []domain.ToolSchema) (domain.Message, error) {
	return domain.Message{}, errors.New("not supported")
}

func (s structuredModel) StructuredChat(_ context.Context, _ []domain.Message, _ domain.OutputSchema, out any) error {
	if s.err != nil {
		return s.err
	}
	b, err := json.Marshal(s.output)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

type recordingQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *recordingQueue) Publish(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}
