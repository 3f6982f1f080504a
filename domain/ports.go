package domain

import "context"

// ChatModel is the LLM boundary.
type ChatModel interface {
	// Chat returns the next assistant message; tools may be nil.
	Chat(ctx context.Context, messages []Message, tools []ToolSchema) (Message, error)
	// StructuredChat decodes a schema-conforming response into out or fails with a parse error.
	StructuredChat(ctx context.Context, messages []Message, schema OutputSchema, out any) error
}

// Extractor turns a document into text and per-page content.
type Extractor interface {
	Extract(ctx context.Context, base64Content, mimeType string) (*ExtractedDocument, error)
}

// VectorStore is a similarity search collection. Upsert is idempotent by id.
type VectorStore interface {
	Upsert(ctx context.Context, ids []string, documents []string, metadata []map[string]any) error
	SimilaritySearch(ctx context.Context, query string, k int) ([]ScoredDocument, error)
}

// ObjectStore keeps raw uploaded files. Read of a missing path returns an ErrNotFound error.
type ObjectStore interface {
	Save(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
}

type EvaluationRepository interface {
	Create(ctx context.Context, evaluation *Evaluation) error
	FindByID(ctx context.Context, id string) (*Evaluation, error)
	Find(ctx context.Context, opts FindOptions) ([]Evaluation, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any) error
	// Transition sets the status to `to` only if it is still `from`, and
	// reports whether this call made the change.
	Transition(ctx context.Context, id string, from, to EvaluationStatus) (bool, error)
}

type UploadRepository interface {
	Create(ctx context.Context, upload *Upload) error
	FindByID(ctx context.Context, id string) (*Upload, error)
	Find(ctx context.Context, opts FindOptions) ([]Upload, error)
}

type JobPostingRepository interface {
	Create(ctx context.Context, job *JobPosting) error
	FindByID(ctx context.Context, id string) (*JobPosting, error)
	Find(ctx context.Context, opts FindOptions) ([]JobPosting, error)
	Update(ctx context.Context, id string, fields map[string]any) (*JobPosting, error)
	Delete(ctx context.Context, id string) error
}

type CVDetailRepository interface {
	CreateBatch(ctx context.Context, details []CVDetail) error
	FindByID(ctx context.Context, id string) (*CVDetail, error)
	Find(ctx context.Context, opts FindOptions) ([]CVDetail, error)
}

type ChatRepository interface {
	// Record stores a message; a repeated delivery fails with ErrConflict.
	Record(ctx context.Context, msg *ChatMessage) error
	// History returns up to limit messages of the chat, oldest first.
	History(ctx context.Context, chatID int64, limit int) ([]ChatMessage, error)
}
