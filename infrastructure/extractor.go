package infrastructure

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"cv-copilot/domain"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type DocumentAIConfig struct {
	ProjectID   string
	Location    string
	ProcessorID string
	// Version pins a processor version; empty uses the processor default.
	Version         string
	CredentialsFile string
}

// DocumentAIExtractor runs uploaded documents through a Document AI OCR processor.
type DocumentAIExtractor struct {
	client    *documentai.DocumentProcessorClient
	processor string
	logger    *zap.Logger
}

func NewDocumentAIExtractor(ctx context.Context, cfg DocumentAIConfig, logger *zap.Logger) (*DocumentAIExtractor, error) {
	if cfg.ProjectID == "" || cfg.Location == "" || cfg.ProcessorID == "" {
		return nil, errors.New("document ai project, location and processor id are required")
	}

	opts := []option.ClientOption{option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location))}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	return &DocumentAIExtractor{
		client:    client,
		processor: processorName(cfg),
		logger:    logger.With(zap.String("component", "documentai")),
	}, nil
}

func (e *DocumentAIExtractor) Close() error {
	return e.client.Close()
}

func (e *DocumentAIExtractor) Extract(ctx context.Context, base64Content, mimeType string) (*domain.ExtractedDocument, error) {
	data, err := base64.StdEncoding.DecodeString(base64Content)
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	resp, err := e.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: e.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: data, MimeType: mimeType},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("documentai process document: %w", err)
	}

	doc, err := parseDocument(resp.GetDocument())
	if err != nil {
		return nil, err
	}
	e.logger.Debug("document extracted", zap.Int("pages", len(doc.Pages)), zap.Int("chars", len(doc.FullText)))
	return doc, nil
}

func parseDocument(doc *documentaipb.Document) (*domain.ExtractedDocument, error) {
	if doc == nil || doc.GetText() == "" {
		return nil, errors.New("no document text in processor response")
	}

	out := &domain.ExtractedDocument{FullText: doc.GetText()}
	for i, page := range doc.GetPages() {
		if page == nil {
			continue
		}
		number := int(page.GetPageNumber())
		if number == 0 {
			number = i + 1
		}

		// Paragraph blocks when the processor returns them, the whole page layout otherwise.
		var texts []string
		for _, para := range page.GetParagraphs() {
			texts = append(texts, anchorTexts(doc.GetText(), para.GetLayout().GetTextAnchor())...)
		}
		if len(texts) == 0 {
			texts = anchorTexts(doc.GetText(), page.GetLayout().GetTextAnchor())
		}

		var image string
		if content := page.GetImage().GetContent(); len(content) > 0 {
			image = base64.StdEncoding.EncodeToString(content)
		}
		out.Pages = append(out.Pages, domain.ExtractedPage{PageNumber: number, Texts: texts, Image: image})
	}
	return out, nil
}

func anchorTexts(full string, anchor *documentaipb.Document_TextAnchor) []string {
	var texts []string
	for _, seg := range anchor.GetTextSegments() {
		if text := strings.TrimSpace(sliceText(full, seg.GetStartIndex(), seg.GetEndIndex())); text != "" {
			texts = append(texts, text)
		}
	}
	return texts
}

func sliceText(full string, start, end int64) string {
	if start < 0 {
		start = 0
	}
	if end > int64(len(full)) {
		end = int64(len(full))
	}
	if start >= end {
		return ""
	}
	return full[start:end]
}

func processorName(cfg DocumentAIConfig) string {
	name := fmt.Sprintf("projects/%s/locations/%s/processors/%s", cfg.ProjectID, cfg.Location, cfg.ProcessorID)
	if v := strings.TrimSpace(cfg.Version); v != "" {
		name += "/processorVersions/" + v
	}
	return name
}

// ExtractorChain tries each extractor in turn and returns the first success.
type ExtractorChain struct {
	extractors []domain.Extractor
	logger     *zap.Logger
}

func NewExtractorChain(logger *zap.Logger, extractors ...domain.Extractor) *ExtractorChain {
	return &ExtractorChain{extractors: extractors, logger: logger.With(zap.String("component", "extractor"))}
}

func (c *ExtractorChain) Extract(ctx context.Context, base64Content, mimeType string) (*domain.ExtractedDocument, error) {
	errs := make([]error, 0, len(c.extractors))
	for i, ex := range c.extractors {
		doc, err := ex.Extract(ctx, base64Content, mimeType)
		if err == nil {
			return doc, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("extractor failed", zap.Int("index", i), zap.Error(err))
	}
	if len(errs) == 0 {
		return nil, errors.New("no extractor configured")
	}
	return nil, fmt.Errorf("all extractors failed: %w", errors.Join(errs...))
}
