package domain

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// CVDetail is one extracted page, addressable by the assistant.
type CVDetail struct {
	ID           string                      `gorm:"primaryKey;size:36" json:"id"`
	UploadID     string                      `gorm:"size:36;not null;index" json:"upload_id"`
	EvaluationID string                      `gorm:"size:36;index" json:"evaluation_id"`
	DocType      DocType                     `gorm:"size:16;not null" json:"doc_type"`
	Page         int                         `gorm:"not null" json:"page"`
	Image        string                      `json:"image,omitempty"`
	Texts        datatypes.JSONSlice[string] `json:"texts"`
	CreatedAt    time.Time                   `json:"created_at"`
}

// Text joins the page's text blocks.
func (d *CVDetail) Text() string {
	return strings.Join(d.Texts, "\n\n")
}
