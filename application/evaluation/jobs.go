package evaluation

import (
	"context"
	"encoding/json"
	"strings"

	"cv-copilot/domain"

	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// JobInput creates a job posting.
type JobInput struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Requirements []string `json:"requirements"`
	Rubric       string   `json:"rubric"`
}

// JobPatch updates the non-nil fields of a job posting.
type JobPatch struct {
	Title        *string   `json:"title"`
	Description  *string   `json:"description"`
	Requirements *[]string `json:"requirements"`
	Rubric       *string   `json:"rubric"`
}

func (s *Service) CreateJob(ctx context.Context, in JobInput) (*domain.JobPosting, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Title == "" || in.Description == "" {
		return nil, domain.Validationf("create job posting", "title and description are required")
	}
	if err := validateRubric(in.Rubric); err != nil {
		return nil, err
	}

	job := &domain.JobPosting{
		ID:           s.newID(),
		Title:        in.Title,
		Description:  in.Description,
		Requirements: cleanRequirements(in.Requirements),
		Rubric:       in.Rubric,
	}
	if err := s.stores.Jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("job posting created", zap.String("job_posting_id", job.ID))
	return job, nil
}

func (s *Service) Job(ctx context.Context, id string) (*domain.JobPosting, error) {
	return s.stores.Jobs.FindByID(ctx, id)
}

func (s *Service) Jobs(ctx context.Context, limit int) ([]domain.JobPosting, error) {
	return s.stores.Jobs.Find(ctx, domain.FindOptions{Sort: domain.Newest, Limit: limit})
}

func (s *Service) UpdateJob(ctx context.Context, id string, patch JobPatch) (*domain.JobPosting, error) {
	fields := map[string]any{}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, domain.Validationf("update job posting", "title cannot be empty")
		}
		fields["title"] = title
	}
	if patch.Description != nil {
		description := strings.TrimSpace(*patch.Description)
		if description == "" {
			return nil, domain.Validationf("update job posting", "description cannot be empty")
		}
		fields["description"] = description
	}
	if patch.Requirements != nil {
		fields["requirements"] = cleanRequirements(*patch.Requirements)
	}
	if patch.Rubric != nil {
		if err := validateRubric(*patch.Rubric); err != nil {
			return nil, err
		}
		fields["rubric"] = *patch.Rubric
	}
	if len(fields) == 0 {
		return nil, domain.Validationf("update job posting", "nothing to update")
	}
	return s.stores.Jobs.Update(ctx, id, fields)
}

func (s *Service) DeleteJob(ctx context.Context, id string) error {
	if err := s.stores.Jobs.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("job posting deleted", zap.String("job_posting_id", id))
	return nil
}

func cleanRequirements(in []string) datatypes.JSONSlice[string] {
	out := make(datatypes.JSONSlice[string], 0, len(in))
	for _, req := range in {
		if req = strings.TrimSpace(req); req != "" {
			out = append(out, req)
		}
	}
	return out
}

// validateRubric accepts an empty rubric or a JSON document.
func validateRubric(rubric string) error {
	if strings.TrimSpace(rubric) == "" || json.Valid([]byte(rubric)) {
		return nil
	}
	return domain.Validationf("job posting", "rubric must be valid JSON")
}
