package infrastructure

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"cv-copilot/application/evaluation"
	"cv-copilot/domain"

	"github.com/nguyenthenguyen/docx"
	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
	"go.uber.org/zap"
)

var (
	xmlTag       = regexp.MustCompile(`<[^>]+>`)
	docxParaEnd  = regexp.MustCompile(`</w:p>`)
	docxTabBreak = regexp.MustCompile(`<w:(tab|br)\s*/>`)
)

// LocalExtractor reads text from PDF and DOCX files in process. It produces no page images.
type LocalExtractor struct {
	logger *zap.Logger
}

// NewLocalExtractor registers the unidoc license key when one is given.
func NewLocalExtractor(licenseKey string, logger *zap.Logger) (*LocalExtractor, error) {
	if licenseKey != "" {
		if err := license.SetMeteredKey(licenseKey); err != nil {
			return nil, fmt.Errorf("set unidoc license: %w", err)
		}
	}
	return &LocalExtractor{logger: logger.With(zap.String("component", "local-extractor"))}, nil
}

func (e *LocalExtractor) Extract(_ context.Context, base64Content, mimeType string) (*domain.ExtractedDocument, error) {
	data, err := base64.StdEncoding.DecodeString(base64Content)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	switch mimeType {
	case evaluation.MimePDF:
		return e.extractPDF(data)
	case evaluation.MimeDOCX:
		return extractDOCX(data)
	}
	return nil, fmt.Errorf("unsupported mime type %q", mimeType)
}

func (e *LocalExtractor) extractPDF(data []byte) (*domain.ExtractedDocument, error) {
	reader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	numPages, err := reader.GetNumPages()
	if err != nil {
		return nil, fmt.Errorf("get page count: %w", err)
	}
	if numPages == 0 {
		return nil, errors.New("pdf has no pages")
	}

	doc := &domain.ExtractedDocument{}
	var full []string
	for i := 1; i <= numPages; i++ {
		text, err := pdfPageText(reader, i)
		if err != nil {
			e.logger.Warn("skipping pdf page", zap.Int("page", i), zap.Error(err))
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		full = append(full, text)
		doc.Pages = append(doc.Pages, domain.ExtractedPage{PageNumber: i, Texts: []string{text}})
	}

	if len(full) == 0 {
		return nil, errors.New("no text could be extracted from any page of the pdf")
	}
	doc.FullText = strings.Join(full, "\n\n")
	return doc, nil
}

func pdfPageText(reader *model.PdfReader, number int) (string, error) {
	page, err := reader.GetPage(number)
	if err != nil {
		return "", err
	}
	ex, err := extractor.New(page)
	if err != nil {
		return "", err
	}
	return ex.ExtractText()
}

func extractDOCX(data []byte) (*domain.ExtractedDocument, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read docx: %w", err)
	}
	defer r.Close()

	paragraphs := docxParagraphs(r.Editable().GetContent())
	if len(paragraphs) == 0 {
		return nil, errors.New("no text could be extracted from the docx")
	}
	return &domain.ExtractedDocument{
		FullText: strings.Join(paragraphs, "\n"),
		Pages:    []domain.ExtractedPage{{PageNumber: 1, Texts: paragraphs}},
	}, nil
}

// docxParagraphs turns WordprocessingML into plain text paragraphs.
func docxParagraphs(content string) []string {
	var out []string
	for _, raw := range docxParaEnd.Split(content, -1) {
		raw = docxTabBreak.ReplaceAllString(raw, " ")
		text := strings.TrimSpace(html.UnescapeString(xmlTag.ReplaceAllString(raw, "")))
		if text != "" {
			out = append(out, text)
		}
	}
	return out
}
