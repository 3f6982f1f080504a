package domain

import (
	"fmt"
	"time"
)

type EvaluationStatus string

const (
	StatusPending    EvaluationStatus = "PENDING"
	StatusProcessing EvaluationStatus = "PROCESSING"
	StatusCompleted  EvaluationStatus = "COMPLETED"
	StatusFailed     EvaluationStatus = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s EvaluationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Evaluation is one (CV, job posting) scoring job.
type Evaluation struct {
	ID              string           `gorm:"primaryKey;size:36" json:"id"`
	OwnerID         string           `gorm:"size:64;index" json:"owner_id"`
	UploadID        string           `gorm:"size:36;not null;index" json:"upload_id"`
	JobPostingID    string           `gorm:"size:36;not null;index" json:"job_posting_id"`
	Status          EvaluationStatus `gorm:"size:16;not null;index" json:"status"`
	CVMatchRate     *float64         `gorm:"column:cv_match_rate" json:"cv_match_rate,omitempty"`
	CVFeedback      string           `gorm:"column:cv_feedback;type:text" json:"cv_feedback,omitempty"`
	ProjectScore    *float64         `json:"project_score,omitempty"`
	ProjectFeedback string           `gorm:"type:text" json:"project_feedback,omitempty"`
	OverallScore    *float64         `json:"overall_score,omitempty"`
	OverallSummary  string           `gorm:"type:text" json:"overall_summary,omitempty"`
	VectorID        string           `gorm:"size:128" json:"vector_id,omitempty"`
	// ActiveKey is set while the evaluation is not FAILED; its unique index allows a
	// single live evaluation per (upload, job posting).
	ActiveKey *string   `gorm:"size:80;uniqueIndex" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Upload     *Upload     `gorm:"-" json:"upload,omitempty"`
	JobPosting *JobPosting `gorm:"-" json:"job_posting,omitempty"`
}

// ActiveKeyFor builds the uniqueness key guarding live evaluations of a pair.
func ActiveKeyFor(uploadID, jobPostingID string) *string {
	key := fmt.Sprintf("%s:%s", uploadID, jobPostingID)
	return &key
}

// Score is the structured output of the scoring agent.
type Score struct {
	CVMatchRate     float64 `json:"cv_match_rate" mapstructure:"cv_match_rate"`
	CVFeedback      string  `json:"cv_feedback" mapstructure:"cv_feedback"`
	ProjectScore    float64 `json:"project_score" mapstructure:"project_score"`
	ProjectFeedback string  `json:"project_feedback" mapstructure:"project_feedback"`
	OverallScore    float64 `json:"overall_score" mapstructure:"overall_score"`
	OverallSummary  string  `json:"overall_summary" mapstructure:"overall_summary"`
}

// Fields returns the column updates persisting the score.
func (s Score) Fields() map[string]any {
	return map[string]any{
		"cv_match_rate":    s.CVMatchRate,
		"cv_feedback":      s.CVFeedback,
		"project_score":    s.ProjectScore,
		"project_feedback": s.ProjectFeedback,
		"overall_score":    s.OverallScore,
		"overall_summary":  s.OverallSummary,
	}
}
