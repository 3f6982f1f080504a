package domain

import (
	"fmt"
	"time"
)

type DocType string

const (
	DocTypeCV      DocType = "cv"
	DocTypeProject DocType = "project"
)

// Upload is a stored CV + project document pair.
type Upload struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID         string    `gorm:"size:64;index" json:"owner_id"`
	CVFilename      string    `gorm:"size:255;not null" json:"cv_filename"`
	CVMimeType      string    `gorm:"column:cv_mimetype;size:128;not null" json:"cv_mimetype"`
	ProjectFilename string    `gorm:"size:255;not null" json:"project_filename"`
	ProjectMimeType string    `gorm:"column:project_mimetype;size:128;not null" json:"project_mimetype"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ObjectPath returns the object store key of one of the upload's documents.
func (u *Upload) ObjectPath(doc DocType) string {
	name := u.CVFilename
	if doc == DocTypeProject {
		name = u.ProjectFilename
	}
	return fmt.Sprintf("cv/%s/%s_%s", u.ID, name, doc)
}

// MimeType returns the stored mime type of one of the upload's documents.
func (u *Upload) MimeType(doc DocType) string {
	if doc == DocTypeProject {
		return u.ProjectMimeType
	}
	return u.CVMimeType
}
