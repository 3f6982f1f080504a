package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cv-copilot/domain"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

// ScoreSchema is the structured output every scoring response must conform to.
var ScoreSchema = domain.OutputSchema{
	Name:        "candidate_evaluation",
	Description: "Evaluation of a candidate CV and project against a job description",
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"cv_match_rate": map[string]any{
				"type":        "number",
				"minimum":     0,
				"maximum":     1,
				"description": "A score from 0 to 1 representing how well the CV matches the job description.",
			},
			"cv_feedback": map[string]any{"type": "string", "description": "Candidate CV feedback."},
			"project_score": map[string]any{
				"type":        "number",
				"minimum":     0,
				"maximum":     10,
				"description": "A score from 0 to 10 for the candidate's project compatibility to the job description.",
			},
			"project_feedback": map[string]any{"type": "string", "description": "Candidate project feedback."},
			"overall_score": map[string]any{
				"type":        "number",
				"minimum":     0,
				"maximum":     10,
				"description": "A score from 0 to 10 for the candidate's overall fit for the job.",
			},
			"overall_summary": map[string]any{"type": "string", "description": "Candidate summary for the job based on CV and project."},
		},
		"required": []any{"cv_match_rate", "cv_feedback", "project_score", "project_feedback", "overall_score", "overall_summary"},
	},
}

const scorerSystemPrompt = `# CV Evaluator
## Description
You are a highly experienced HR agent and a tech talent evaluator.
Your primary task is to meticulously analyze a candidate's CV and any accompanying project documentation against a given job description.
You will be provided with the candidate's CV and project details as text, and the job description they are applying for.

## Goal
Provide a structured evaluation in JSON format that strictly follows the response schema.
Do not add any commentary or introductory text outside of the JSON response.
The evaluation should be objective, highlighting both strengths and weaknesses based only on the information provided.
cv_match_rate is between 0 and 1. project_score and overall_score are between 0 and 10.`

// ScoreInput is what the scoring agent sees for one job.
type ScoreInput struct {
	JobDescription string
	CV             *domain.ExtractedDocument
	Project        *domain.ExtractedDocument
}

// Scorer is the single-shot scoring agent.
type Scorer struct {
	model         domain.ChatModel
	schema        *jsonschema.Schema
	includeImages bool
	logger        *zap.Logger
}

func NewScorer(model domain.ChatModel, includeImages bool, logger *zap.Logger) (*Scorer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b, err := json.Marshal(ScoreSchema.Schema)
	if err != nil {
		return nil, fmt.Errorf("marshal score schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("score.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add score schema: %w", err)
	}
	schema, err := compiler.Compile("score.json")
	if err != nil {
		return nil, fmt.Errorf("compile score schema: %w", err)
	}
	return &Scorer{
		model:         model,
		schema:        schema,
		includeImages: includeImages,
		logger:        logger.With(zap.String("component", "scorer")),
	}, nil
}

// Score asks the model for a structured evaluation and rejects responses that do not conform.
func (s *Scorer) Score(ctx context.Context, in ScoreInput) (domain.Score, error) {
	var score domain.Score

	var raw map[string]any
	if err := s.model.StructuredChat(ctx, s.messages(in), ScoreSchema, &raw); err != nil {
		return score, domain.Dependency("score candidate", err)
	}

	// Round trip so validation sees plain JSON values whatever the adapter decoded.
	b, err := json.Marshal(raw)
	if err != nil {
		return score, domain.Dependency("score candidate", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return score, domain.Dependency("score candidate", err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return score, domain.Dependency("score candidate", fmt.Errorf("response does not match schema: %w", err))
	}
	if err := mapstructure.Decode(doc, &score); err != nil {
		return score, domain.Dependency("score candidate", fmt.Errorf("decode response: %w", err))
	}

	s.logger.Debug("candidate scored",
		zap.Float64("cv_match_rate", score.CVMatchRate),
		zap.Float64("project_score", score.ProjectScore),
		zap.Float64("overall_score", score.OverallScore))
	return score, nil
}

func (s *Scorer) messages(in ScoreInput) []domain.Message {
	var b strings.Builder
	b.WriteString("Please evaluate the following candidate based on their CV and project.\n\n")
	b.WriteString("## Job Description:\n```\n")
	b.WriteString(in.JobDescription)
	b.WriteString("\n```\n\n---\n\n## Candidate's CV:\n```\n")
	b.WriteString(in.CV.FullText)
	b.WriteString("\n```\n\n---\n\n## Candidate's Project:\n```\n")
	b.WriteString(in.Project.FullText)
	b.WriteString("\n```\n\n---\n\nBased on all the provided information, provide your evaluation in the specified JSON format.\n\nResult:\n")

	human := domain.NewHumanMessage(b.String())
	if s.includeImages {
		for _, image := range append(in.CV.Images(), in.Project.Images()...) {
			human.Content = append(human.Content, domain.ImagePart(image, "image/jpeg"))
		}
	}
	return []domain.Message{domain.NewSystemMessage(scorerSystemPrompt), human}
}

// DescribeJob renders a job posting for the scoring prompt.
func DescribeJob(job *domain.JobPosting) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Title\n%s\n", job.Title)
	fmt.Fprintf(&b, "### Descriptions\n%s\n", job.Description)
	b.WriteString("### Requirements\n")
	if len(job.Requirements) == 0 {
		b.WriteString("- N/A\n")
	}
	for _, req := range job.Requirements {
		fmt.Fprintf(&b, "- %s\n", req)
	}
	if rubric := strings.TrimSpace(job.Rubric); rubric != "" && rubric != "{}" {
		fmt.Fprintf(&b, "### Scoring Rubric\n%s\n", rubric)
	}
	return b.String()
}
