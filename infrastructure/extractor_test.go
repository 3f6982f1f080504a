package infrastructure

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"cv-copilot/domain"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubExtractor struct {
	doc   *domain.ExtractedDocument
	err   error
	calls int
}

func (s *stubExtractor) Extract(context.Context, string, string) (*domain.ExtractedDocument, error) {
	s.calls++
	return s.doc, s.err
}

func TestExtractorChainFallsBack(t *testing.T) {
	first := &stubExtractor{err: errors.New("quota exceeded")}
	second := &stubExtractor{doc: &domain.ExtractedDocument{FullText: "hello"}}
	third := &stubExtractor{doc: &domain.ExtractedDocument{FullText: "never"}}

	chain := NewExtractorChain(zaptest.NewLogger(t), first, second, third)
	doc, err := chain.Extract(context.Background(), "", "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.FullText)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, third.calls)
}

func TestExtractorChainJoinsErrors(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	chain := NewExtractorChain(zaptest.NewLogger(t), &stubExtractor{err: errA}, &stubExtractor{err: errB})

	_, err := chain.Extract(context.Background(), "", "application/pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	_, err = NewExtractorChain(zaptest.NewLogger(t)).Extract(context.Background(), "", "application/pdf")
	require.Error(t, err)
}

func TestParseDocumentPages(t *testing.T) {
	text := "Jane Doe\nGo engineer\nExperience\n"
	segment := func(start, end int64) *documentaipb.Document_TextAnchor {
		return &documentaipb.Document_TextAnchor{TextSegments: []*documentaipb.Document_TextAnchor_TextSegment{{StartIndex: start, EndIndex: end}}}
	}
	doc := &documentaipb.Document{
		Text: text,
		Pages: []*documentaipb.Document_Page{
			{
				PageNumber: 1,
				Paragraphs: []*documentaipb.Document_Page_Paragraph{
					{Layout: &documentaipb.Document_Page_Layout{TextAnchor: segment(0, 9)}},
					{Layout: &documentaipb.Document_Page_Layout{TextAnchor: segment(9, 21)}},
				},
				Image: &documentaipb.Document_Page_Image{Content: []byte{1, 2, 3}, MimeType: "image/png"},
			},
			{
				PageNumber: 2,
				Paragraphs: []*documentaipb.Document_Page_Paragraph{
					{Layout: &documentaipb.Document_Page_Layout{TextAnchor: segment(21, 32)}},
				},
			},
		},
	}

	out, err := parseDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, text, out.FullText)
	require.Len(t, out.Pages, 2)
	assert.Equal(t, []string{"Jane Doe", "Go engineer"}, out.Pages[0].Texts)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), out.Pages[0].Image)
	assert.Equal(t, []string{"Experience"}, out.Pages[1].Texts)
	assert.Empty(t, out.Pages[1].Image)

	_, err = parseDocument(&documentaipb.Document{})
	require.Error(t, err)
}

func TestSliceTextBounds(t *testing.T) {
	assert.Equal(t, "bc", sliceText("abcd", 1, 3))
	assert.Equal(t, "cd", sliceText("abcd", 2, 100))
	assert.Equal(t, "", sliceText("abcd", 3, 1))
}

func TestProcessorName(t *testing.T) {
	cfg := DocumentAIConfig{ProjectID: "p", Location: "eu", ProcessorID: "ocr"}
	assert.Equal(t, "projects/p/locations/eu/processors/ocr", processorName(cfg))

	cfg.Version = "v2"
	assert.Equal(t, "projects/p/locations/eu/processors/ocr/processorVersions/v2", processorName(cfg))
}

func TestDocxParagraphs(t *testing.T) {
	content := `<w:document><w:body>` +
		`<w:p><w:r><w:t>Jane</w:t></w:r><w:r><w:tab/><w:t>Doe</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>R&amp;D lead</w:t></w:r></w:p>` +
		`<w:p></w:p>` +
		`</w:body></w:document>`

	assert.Equal(t, []string{"Jane Doe", "R&D lead"}, docxParagraphs(content))
}

func TestLocalExtractorRejectsUnknownType(t *testing.T) {
	ex, err := NewLocalExtractor("", zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = ex.Extract(context.Background(), base64.StdEncoding.EncodeToString([]byte("x")), "text/plain")
	require.Error(t, err)

	_, err = ex.Extract(context.Background(), "%%%", "application/pdf")
	require.Error(t, err)
}
