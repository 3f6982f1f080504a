package tools

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"cv-copilot/domain"
)

const descriptionPreview = 150

func formatJobList(jobs []domain.JobPosting) string {
	if len(jobs) == 0 {
		return "No job descriptions found."
	}
	entries := make([]string, 0, len(jobs))
	for i, job := range jobs {
		description := "N/A"
		if job.Description != "" {
			description = preview(job.Description, descriptionPreview) + "..."
		}
		entries = append(entries, fmt.Sprintf("Job %d:\nID: %s\nTitle: %s\nDescription: %s\n", i+1, job.ID, job.Title, description))
	}
	return strings.Join(entries, "\n---\n")
}

func formatJob(job *domain.JobPosting) string {
	if job == nil {
		return "Job description not found."
	}
	requirements := "N/A"
	if len(job.Requirements) > 0 {
		requirements = strings.Join(job.Requirements, ", ")
	}
	return fmt.Sprintf("Job ID: %s\nTitle: %s\nDescription: %s\nRequirements: %s\nCreated At: %s\nUpdated At: %s\n",
		job.ID, job.Title, job.Description, requirements, stamp(job.CreatedAt), stamp(job.UpdatedAt))
}

func formatEvaluationList(results []domain.Evaluation) string {
	if len(results) == 0 {
		return "No CV results found."
	}
	entries := make([]string, 0, len(results))
	for i, r := range results {
		name := "N/A"
		if r.Upload != nil {
			name = r.Upload.CVFilename
		}
		entries = append(entries, fmt.Sprintf("CV Result %d:\nID: %s\nStatus: %s\nCandidate Name: %s", i+1, r.ID, r.Status, name))
	}
	return strings.Join(entries, "\n---\n")
}

func formatEvaluation(r *domain.Evaluation) string {
	if r == nil {
		return "CV result not found."
	}
	jobTitle, filename := "N/A", "N/A"
	if r.JobPosting != nil {
		jobTitle = r.JobPosting.Title
	}
	if r.Upload != nil {
		filename = r.Upload.CVFilename
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CV Result ID: %s\n", r.ID)
	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	fmt.Fprintf(&b, "CV Match Rate: %s\n", number(r.CVMatchRate))
	fmt.Fprintf(&b, "CV Feedback: %s\n", orNA(r.CVFeedback))
	fmt.Fprintf(&b, "Project Score: %s\n", number(r.ProjectScore))
	fmt.Fprintf(&b, "Project Feedback: %s\n", orNA(r.ProjectFeedback))
	fmt.Fprintf(&b, "Overall Score: %s\n", number(r.OverallScore))
	fmt.Fprintf(&b, "Overall Summary: %s\n", orNA(r.OverallSummary))
	fmt.Fprintf(&b, "Job Title: %s\n", jobTitle)
	fmt.Fprintf(&b, "CV Filename: %s\n", filename)
	fmt.Fprintf(&b, "Created At: %s\n", stamp(r.CreatedAt))
	fmt.Fprintf(&b, "Updated At: %s\n", stamp(r.UpdatedAt))
	return b.String()
}

func formatDetail(d *domain.CVDetail) string {
	if d == nil {
		return "CV details not found"
	}
	return fmt.Sprintf("%s page %d:\n%s", d.DocType, d.Page, d.Text())
}

func formatSearch(docs []domain.ScoredDocument) string {
	if len(docs) == 0 {
		return "No relevant documents found."
	}
	entries := make([]string, 0, len(docs))
	for i, doc := range docs {
		keys := make([]string, 0, len(doc.Metadata))
		for k := range doc.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s: %v", k, doc.Metadata[k]))
		}
		entries = append(entries, fmt.Sprintf("Document %d:\nContent: %s\nMetadata: {%s}\n", i+1, doc.Content, strings.Join(pairs, ", ")))
	}
	return strings.Join(entries, "\n--------------\n")
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func number(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format(time.RFC3339)
}
