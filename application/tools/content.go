package tools

import "cv-copilot/domain"

// Content accumulates the parts of a tool answer.
type Content struct {
	parts []domain.ContentPart
}

func NewContent() *Content {
	return &Content{}
}

func (c *Content) AddTexts(texts ...string) *Content {
	for _, text := range texts {
		c.parts = append(c.parts, domain.TextPart(text))
	}
	return c
}

// AddImages appends base64 JPEG images; empty strings are skipped.
func (c *Content) AddImages(images ...string) *Content {
	for _, image := range images {
		if image == "" {
			continue
		}
		c.parts = append(c.parts, domain.ImagePart(image, "image/jpeg"))
	}
	return c
}

func (c *Content) Parts() []domain.ContentPart {
	return c.parts
}
