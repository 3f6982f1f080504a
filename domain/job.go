package domain

import (
	"time"

	"gorm.io/datatypes"
)

// JobPosting is an open position candidates are evaluated against.
type JobPosting struct {
	ID           string                      `gorm:"primaryKey;size:36" json:"id"`
	Title        string                      `gorm:"size:255;not null" json:"title"`
	Description  string                      `gorm:"type:text;not null" json:"description"`
	Requirements datatypes.JSONSlice[string] `json:"requirements"`
	Rubric       string                      `gorm:"type:text" json:"rubric,omitempty"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}
