package tools

import (
	"context"
	"errors"

	"cv-copilot/domain"
)

const (
	defaultListLimit  = 15
	defaultSearchSize = 4
)

// HRStores are the read models behind the assistant's tools.
type HRStores struct {
	Jobs        domain.JobPostingRepository
	Evaluations domain.EvaluationRepository
	Uploads     domain.UploadRepository
	Details     domain.CVDetailRepository
	Knowledge   domain.VectorStore
}

type listArgs struct {
	Limit  int                `mapstructure:"limit"`
	Sort   []domain.SortField `mapstructure:"sort"`
	Filter map[string]any     `mapstructure:"filter"`
}

func (a listArgs) options(fields ...string) domain.FindOptions {
	return domain.FindOptions{Filter: a.Filter, Fields: fields, Sort: a.Sort, Limit: a.Limit}
}

type idArgs struct {
	ID string `mapstructure:"id"`
}

type searchArgs struct {
	Query string `mapstructure:"query"`
	K     int    `mapstructure:"k"`
}

// HRTools builds the assistant's tool set.
func HRTools(s HRStores) ([]Tool, error) {
	builders := []func(HRStores) (Tool, error){
		jobListingTool,
		jobDescriptionTool,
		cvResultsTool,
		cvResultTool,
		cvDetailTool,
		searchTool,
	}

	tools := make([]Tool, 0, len(builders))
	for _, build := range builders {
		tool, err := build(s)
		if err != nil {
			return nil, err
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

func jobListingTool(s HRStores) (Tool, error) {
	schema := listSchema("job postings", map[string]any{
		"title": map[string]any{"type": "string", "description": "Exact job title"},
	}, []string{"created_at", "updated_at", "title"})

	return New("get_job_listing",
		"List open job postings with their id, title and a short description. By default the last 15 created.",
		schema,
		func(ctx context.Context, args listArgs) ([]domain.ContentPart, error) {
			jobs, err := s.Jobs.Find(ctx, args.options("id", "title", "description", "created_at"))
			if err != nil {
				return nil, err
			}
			return NewContent().AddTexts(formatJobList(jobs)).Parts(), nil
		})
}

func jobDescriptionTool(s HRStores) (Tool, error) {
	return New("get_job_description",
		"Get the full job description and requirements of one job posting by id.",
		idSchema("Job posting id"),
		func(ctx context.Context, args idArgs) ([]domain.ContentPart, error) {
			job, err := s.Jobs.FindByID(ctx, args.ID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			return NewContent().AddTexts(formatJob(job)).Parts(), nil
		})
}

func cvResultsTool(s HRStores) (Tool, error) {
	schema := listSchema("CV evaluation results", map[string]any{
		"status": map[string]any{
			"type": "string",
			"enum": []any{
				string(domain.StatusPending), string(domain.StatusProcessing),
				string(domain.StatusCompleted), string(domain.StatusFailed),
			},
		},
		"job_posting_id": map[string]any{"type": "string", "description": "Only results for this job posting"},
		"upload_id":      map[string]any{"type": "string", "description": "Only results for this CV upload"},
	}, []string{"created_at", "updated_at", "overall_score", "cv_match_rate", "project_score"})

	return New("get_cv_results",
		"List CV evaluation results with their id, status and candidate file name. By default the last 15 created.",
		schema,
		func(ctx context.Context, args listArgs) ([]domain.ContentPart, error) {
			results, err := s.Evaluations.Find(ctx, args.options("id", "upload_id", "job_posting_id", "status", "created_at"))
			if err != nil {
				return nil, err
			}
			if err := attachUploads(ctx, s.Uploads, results); err != nil {
				return nil, err
			}
			return NewContent().AddTexts(formatEvaluationList(results)).Parts(), nil
		})
}

func cvResultTool(s HRStores) (Tool, error) {
	return New("get_cv_result",
		"Get the scores and feedback of one CV evaluation result by id.",
		idSchema("CV evaluation result id"),
		func(ctx context.Context, args idArgs) ([]domain.ContentPart, error) {
			result, err := s.Evaluations.FindByID(ctx, args.ID)
			if errors.Is(err, domain.ErrNotFound) {
				return NewContent().AddTexts(formatEvaluation(nil)).Parts(), nil
			}
			if err != nil {
				return nil, err
			}

			if job, err := s.Jobs.FindByID(ctx, result.JobPostingID); err == nil {
				result.JobPosting = job
			} else if !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			if upload, err := s.Uploads.FindByID(ctx, result.UploadID); err == nil {
				result.Upload = upload
			} else if !errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}

			return NewContent().AddTexts(formatEvaluation(result)).Parts(), nil
		})
}

func cvDetailTool(s HRStores) (Tool, error) {
	return New("get_cv_detail",
		"Inspect one extracted CV or project page by its detail id: returns the page text and the page image.",
		idSchema("CV detail id, found as cv_detail_id in search results"),
		func(ctx context.Context, args idArgs) ([]domain.ContentPart, error) {
			detail, err := s.Details.FindByID(ctx, args.ID)
			if errors.Is(err, domain.ErrNotFound) {
				return NewContent().AddTexts(formatDetail(nil)).Parts(), nil
			}
			if err != nil {
				return nil, err
			}
			return NewContent().AddTexts(formatDetail(detail)).AddImages(detail.Image).Parts(), nil
		})
}

func searchTool(s HRStores) (Tool, error) {
	return New("search_vector_store",
		"Semantic search over extracted CV pages, project pages and evaluation summaries.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "What to look for"},
				"k":     map[string]any{"type": "integer", "description": "Number of documents", "default": defaultSearchSize, "minimum": 1, "maximum": 20},
			},
			"required": []any{"query"},
		},
		func(ctx context.Context, args searchArgs) ([]domain.ContentPart, error) {
			docs, err := s.Knowledge.SimilaritySearch(ctx, args.Query, args.K)
			if err != nil {
				return nil, domain.Dependency("similarity search", err)
			}
			return NewContent().AddTexts(formatSearch(docs)).Parts(), nil
		})
}

func attachUploads(ctx context.Context, uploads domain.UploadRepository, results []domain.Evaluation) error {
	if len(results) == 0 {
		return nil
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.UploadID)
	}
	found, err := uploads.Find(ctx, domain.FindOptions{Filter: map[string]any{"id": ids}})
	if err != nil {
		return err
	}
	byID := make(map[string]*domain.Upload, len(found))
	for i := range found {
		byID[found[i].ID] = &found[i]
	}
	for i := range results {
		results[i].Upload = byID[results[i].UploadID]
	}
	return nil
}

func idSchema(description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{"type": "string", "description": description},
		},
		"required": []any{"id"},
	}
}

func listSchema(subject string, filter map[string]any, sortable []string) map[string]any {
	enum := make([]any, 0, len(sortable))
	for _, field := range sortable {
		enum = append(enum, field)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of " + subject,
				"default":     defaultListLimit,
				"minimum":     1,
				"maximum":     100,
			},
			"sort": map[string]any{
				"type":        "array",
				"description": "Sort order, newest first by default",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"field": map[string]any{"type": "string", "enum": enum},
						"desc":  map[string]any{"type": "boolean"},
					},
					"required": []any{"field"},
				},
				"default": []any{map[string]any{"field": "created_at", "desc": true}},
			},
			"filter": map[string]any{
				"type":                 "object",
				"description":          "Equality filter",
				"properties":           filter,
				"additionalProperties": false,
			},
		},
	}
}
