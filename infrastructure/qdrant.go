package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cv-copilot/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	payloadDocumentKey = "_document"
	payloadDocIDKey    = "_doc_id"
	maxErrorBodyBytes  = 1024
)

var pointIDNamespace = uuid.MustParse("6f6b1c52-3c1e-4a8e-9a55-0c6f1a7de3b1")

// ErrCollectionNotFound is returned by the collection lookup on a 404.
var ErrCollectionNotFound = errors.New("qdrant collection not found")

// Embedder turns text into vectors. Documents and queries may use different task hints.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	VectorDim  int
	// Distance is Cosine, Dot or Euclid.
	Distance string
	Timeout  time.Duration
}

// QdrantStore is a domain.VectorStore backed by one Qdrant collection over its REST API.
type QdrantStore struct {
	cfg      QdrantConfig
	baseURL  string
	http     *http.Client
	embedder Embedder
	logger   *zap.Logger
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type qdrantHit struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func NewQdrantStore(cfg QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if cfg.URL == "" || cfg.Collection == "" {
		return nil, errors.New("qdrant url and collection are required")
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &QdrantStore{
		cfg:      cfg,
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		http:     &http.Client{Timeout: cfg.Timeout},
		embedder: embedder,
		logger:   logger.With(zap.String("component", "qdrant"), zap.String("collection", cfg.Collection)),
	}, nil
}

// EnsureCollection creates the collection when it does not exist yet.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	err := s.doJSON(ctx, http.MethodGet, s.collectionPath(""), nil, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrCollectionNotFound) {
		return err
	}
	if s.cfg.VectorDim <= 0 {
		return errors.New("qdrant vector dimension is required to create a collection")
	}

	req := map[string]any{"vectors": map[string]any{"size": s.cfg.VectorDim, "distance": s.cfg.Distance}}
	if err := s.doJSON(ctx, http.MethodPut, s.collectionPath(""), req, nil); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	s.logger.Info("collection created", zap.Int("vector_dim", s.cfg.VectorDim))
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, ids []string, documents []string, metadata []map[string]any) error {
	if len(ids) != len(documents) || (metadata != nil && len(metadata) != len(ids)) {
		return fmt.Errorf("upsert: %d ids, %d documents, %d metadata", len(ids), len(documents), len(metadata))
	}
	if len(ids) == 0 {
		return nil
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, documents)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}

	points := make([]map[string]any, 0, len(ids))
	for i, id := range ids {
		payload := map[string]any{}
		if metadata != nil {
			for k, v := range metadata[i] {
				payload[k] = v
			}
		}
		payload[payloadDocumentKey] = documents[i]
		payload[payloadDocIDKey] = id
		points = append(points, map[string]any{
			"id":      s.pointID(id),
			"vector":  vectors[i],
			"payload": payload,
		})
	}

	return s.doJSON(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": points}, nil)
}

func (s *QdrantStore) SimilaritySearch(ctx context.Context, query string, k int) ([]domain.ScoredDocument, error) {
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  false,
	}
	var hits []qdrantHit
	if err := s.doJSON(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &hits); err != nil {
		return nil, err
	}

	docs := make([]domain.ScoredDocument, 0, len(hits))
	for _, hit := range hits {
		doc := domain.ScoredDocument{Score: hit.Score, Metadata: map[string]any{}}
		for key, v := range hit.Payload {
			switch key {
			case payloadDocumentKey:
				doc.Content, _ = v.(string)
			case payloadDocIDKey:
				doc.ID, _ = v.(string)
			default:
				doc.Metadata[key] = v
			}
		}
		if doc.ID == "" {
			doc.ID = strings.Trim(string(hit.ID), `"`)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// pointID maps a document id to a stable UUID so that upserts replace earlier versions.
func (s *QdrantStore) pointID(id string) string {
	return uuid.NewSHA1(pointIDNamespace, []byte(s.cfg.Collection+":"+id)).String()
}

func (s *QdrantStore) collectionPath(suffix string) string {
	return "/collections/" + s.cfg.Collection + suffix
}

func (s *QdrantStore) doJSON(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, s.collectionPath("")) {
		return ErrCollectionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(raw) > maxErrorBodyBytes {
			raw = raw[:maxErrorBodyBytes]
		}
		return fmt.Errorf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode qdrant envelope: %w", err)
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode qdrant result: %w", err)
	}
	return nil
}
