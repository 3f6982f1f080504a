package infrastructure

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cv-copilot/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultGeminiEmbeddingModel = "text-embedding-004"
	localCallPrefix             = "local-"
	logPreviewLength            = 300
)

// DefaultGeminiModels are tried in order until one answers.
var DefaultGeminiModels = []string{
	"gemini-2.5-flash",
	"gemini-2.0-flash",
	"gemini-flash-latest",
}

type GeminiConfig struct {
	APIKey string
	// Vertex selects the Vertex AI backend; Project and Location are then required.
	Vertex              bool
	Project             string
	Location            string
	Models              []string
	EmbeddingModel      string
	EmbeddingDimensions int
	Temperature         float32
}

// GeminiClient implements domain.ChatModel and Embedder on top of the Google GenAI SDK.
type GeminiClient struct {
	client         *genai.Client
	models         []string
	embeddingModel string
	dimensions     int32
	temperature    float32
	logger         *zap.Logger
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Vertex {
		if cfg.Project == "" || cfg.Location == "" {
			return nil, errors.New("vertex backend requires project and location")
		}
		clientCfg = &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  cfg.Project,
			Location: cfg.Location,
		}
	} else if clientCfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	models := cfg.Models
	if len(models) == 0 {
		models = DefaultGeminiModels
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = defaultGeminiEmbeddingModel
	}

	return &GeminiClient{
		client:         client,
		models:         models,
		embeddingModel: embeddingModel,
		dimensions:     int32(cfg.EmbeddingDimensions),
		temperature:    cfg.Temperature,
		logger:         logger.With(zap.String("component", "gemini")),
	}, nil
}

func (g *GeminiClient) Chat(ctx context.Context, messages []domain.Message, tools []domain.ToolSchema) (domain.Message, error) {
	system, contents, err := toGeminiContents(messages)
	if err != nil {
		return domain.Message{}, err
	}

	cfg := g.config(system)
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, tool := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  toGeminiSchema(tool.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := g.generate(ctx, contents, cfg)
	if err != nil {
		return domain.Message{}, err
	}
	return fromGeminiResponse(resp)
}

func (g *GeminiClient) StructuredChat(ctx context.Context, messages []domain.Message, schema domain.OutputSchema, out any) error {
	system, contents, err := toGeminiContents(messages)
	if err != nil {
		return err
	}

	cfg := g.config(system)
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = toGeminiSchema(schema.Schema)

	resp, err := g.generate(ctx, contents, cfg)
	if err != nil {
		return err
	}
	msg, err := fromGeminiResponse(resp)
	if err != nil {
		return err
	}

	cleaned := cleanJSONResponse(msg.Text())
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("parse %s response: %w (response: %s)", schema.Name, err, TruncateForLog(cleaned, logPreviewLength))
	}
	return nil
}

func (g *GeminiClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return g.embed(ctx, texts, "RETRIEVAL_DOCUMENT")
}

func (g *GeminiClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (g *GeminiClient) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}
	cfg := &genai.EmbedContentConfig{TaskType: task}
	if g.dimensions > 0 {
		dims := g.dimensions
		cfg.OutputDimensionality = &dims
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed content: got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

func (g *GeminiClient) config(system *genai.Content) *genai.GenerateContentConfig {
	temperature := g.temperature
	return &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       &temperature,
	}
}

// generate walks the model list and returns the first successful response.
func (g *GeminiClient) generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var lastErr error
	for _, model := range g.models {
		resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
		if err == nil {
			g.logger.Debug("generated content", zap.String("model", model))
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		g.logger.Warn("model failed, trying next", zap.String("model", model), zap.Error(err))
	}
	return nil, fmt.Errorf("all models failed: %w", lastErr)
}

// toGeminiContents splits off system messages into the system instruction and converts the rest.
// Consecutive messages of the same Gemini role are merged into one content.
func toGeminiContents(messages []domain.Message) (*genai.Content, []*genai.Content, error) {
	var system []*genai.Part
	var contents []*genai.Content

	for _, msg := range messages {
		if msg.Role == domain.RoleSystem {
			if text := msg.Text(); text != "" {
				system = append(system, genai.NewPartFromText(text))
			}
			continue
		}

		role := genai.RoleUser
		var parts []*genai.Part

		switch msg.Role {
		case domain.RoleAI:
			role = genai.RoleModel
			if text := msg.Text(); text != "" {
				parts = append(parts, genai.NewPartFromText(text))
			}
			for _, call := range msg.ToolCalls {
				fc := &genai.FunctionCall{Name: call.Name, Args: call.Args}
				if !strings.HasPrefix(call.ID, localCallPrefix) {
					fc.ID = call.ID
				}
				parts = append(parts, &genai.Part{FunctionCall: fc})
			}
		case domain.RoleTool:
			if msg.ToolResult == nil {
				return nil, nil, errors.New("tool message without result")
			}
			fr := &genai.FunctionResponse{
				Name:     msg.ToolResult.Name,
				Response: map[string]any{"output": msg.Text()},
			}
			if !msg.ToolResult.Success {
				fr.Response = map[string]any{"error": msg.Text()}
			}
			if !strings.HasPrefix(msg.ToolResult.CallID, localCallPrefix) {
				fr.ID = msg.ToolResult.CallID
			}
			parts = append(parts, &genai.Part{FunctionResponse: fr})
			images, err := imageParts(msg.Content)
			if err != nil {
				return nil, nil, err
			}
			parts = append(parts, images...)
		default:
			for _, part := range msg.Content {
				if part.Type == domain.PartText && part.Text != "" {
					parts = append(parts, genai.NewPartFromText(part.Text))
				}
			}
			images, err := imageParts(msg.Content)
			if err != nil {
				return nil, nil, err
			}
			parts = append(parts, images...)
		}

		if len(parts) == 0 {
			continue
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	var instruction *genai.Content
	if len(system) > 0 {
		instruction = &genai.Content{Parts: system}
	}
	return instruction, contents, nil
}

func imageParts(content []domain.ContentPart) ([]*genai.Part, error) {
	var parts []*genai.Part
	for _, part := range content {
		if part.Type != domain.PartImage {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(part.Image)
		if err != nil {
			return nil, fmt.Errorf("decode image part: %w", err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, part.MIMEType))
	}
	return parts, nil
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) (domain.Message, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return domain.Message{}, errors.New("no candidates in response")
	}

	var texts []string
	var calls []domain.ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.FunctionCall != nil {
			id := part.FunctionCall.ID
			if id == "" {
				id = localCallPrefix + uuid.NewString()
			}
			calls = append(calls, domain.ToolCall{ID: id, Name: part.FunctionCall.Name, Args: part.FunctionCall.Args})
			continue
		}
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}

	if len(texts) == 0 && len(calls) == 0 {
		return domain.Message{}, fmt.Errorf("empty response (finish reason %q)", resp.Candidates[0].FinishReason)
	}
	return domain.NewAIMessage(strings.Join(texts, ""), calls...), nil
}

// toGeminiSchema converts a JSON schema map into the SDK's OpenAPI subset. Keywords the SDK
// cannot express (additionalProperties, $ref) are dropped.
func toGeminiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{}

	switch t := schema["type"].(type) {
	case string:
		out.Type = geminiType(t)
	case []any:
		for _, v := range t {
			name, _ := v.(string)
			if name == "null" {
				nullable := true
				out.Nullable = &nullable
				continue
			}
			out.Type = geminiType(name)
		}
	}

	out.Description, _ = schema["description"].(string)
	out.Format, _ = schema["format"].(string)
	out.Pattern, _ = schema["pattern"].(string)
	out.Default = schema["default"]
	out.Minimum = floatPtr(schema["minimum"])
	out.Maximum = floatPtr(schema["maximum"])
	out.MinItems = intPtr(schema["minItems"])
	out.MaxItems = intPtr(schema["maxItems"])
	out.Enum = stringList(schema["enum"])
	out.Required = stringList(schema["required"])

	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = toGeminiSchema(items)
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if prop, ok := raw.(map[string]any); ok {
				out.Properties[name] = toGeminiSchema(prop)
			}
		}
	}
	return out
}

func geminiType(name string) genai.Type {
	switch name {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	return ""
}

func floatPtr(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return nil
	}
	return &f
}

func intPtr(v any) *int64 {
	f := floatPtr(v)
	if f == nil {
		return nil
	}
	i := int64(*f)
	return &i
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// cleanJSONResponse strips markdown fences and any prose around the outermost JSON object.
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end > start {
		content = content[start : end+1]
	}
	return strings.TrimSpace(content)
}
