package domain

// ExtractedPage is a single page of an extracted document.
type ExtractedPage struct {
	PageNumber int      `json:"page_number"`
	Texts      []string `json:"texts"`
	// Image is the base64 encoded page render, empty when the extractor returned none.
	Image string `json:"image,omitempty"`
}

// ExtractedDocument is the extraction service output for one file.
type ExtractedDocument struct {
	FullText string          `json:"full_text"`
	Pages    []ExtractedPage `json:"pages"`
}

// Images returns the non-empty page images in page order.
func (d *ExtractedDocument) Images() []string {
	images := make([]string, 0, len(d.Pages))
	for _, page := range d.Pages {
		if page.Image != "" {
			images = append(images, page.Image)
		}
	}
	return images
}

// ScoredDocument is a similarity search hit.
type ScoredDocument struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}
