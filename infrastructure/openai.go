package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cv-copilot/domain"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	defaultOpenAIModel          = "gpt-4o-mini"
	defaultOpenAIEmbeddingModel = openai.SmallEmbedding3
)

type OpenAIConfig struct {
	APIKey string
	// BaseURL points at an OpenAI compatible endpoint; empty uses the public API.
	BaseURL             string
	Model               string
	EmbeddingModel      string
	EmbeddingDimensions int
	Temperature         float32
}

// OpenAIClient implements domain.ChatModel and Embedder against the chat completions API.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel openai.EmbeddingModel
	dimensions     int
	temperature    float32
	logger         *zap.Logger
}

func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	embeddingModel := openai.EmbeddingModel(cfg.EmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = defaultOpenAIEmbeddingModel
	}

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          model,
		embeddingModel: embeddingModel,
		dimensions:     cfg.EmbeddingDimensions,
		temperature:    cfg.Temperature,
		logger:         logger.With(zap.String("component", "openai")),
	}, nil
}

func (c *OpenAIClient) Chat(ctx context.Context, messages []domain.Message, tools []domain.ToolSchema) (domain.Message, error) {
	req := c.request(toOpenAIMessages(messages))
	for _, tool := range tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}

	choice, err := c.complete(ctx, req)
	if err != nil {
		return domain.Message{}, err
	}

	calls := make([]domain.ToolCall, 0, len(choice.ToolCalls))
	for _, call := range choice.ToolCalls {
		var args map[string]any
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return domain.Message{}, fmt.Errorf("decode arguments of %s: %w", call.Function.Name, err)
			}
		}
		calls = append(calls, domain.ToolCall{ID: call.ID, Name: call.Function.Name, Args: args})
	}
	return domain.NewAIMessage(choice.Content, calls...), nil
}

func (c *OpenAIClient) StructuredChat(ctx context.Context, messages []domain.Message, schema domain.OutputSchema, out any) error {
	req := c.request(toOpenAIMessages(messages))
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:        schema.Name,
			Description: schema.Description,
			Schema:      jsonSchema(schema.Schema),
		},
	}

	choice, err := c.complete(ctx, req)
	if err != nil {
		return err
	}

	cleaned := cleanJSONResponse(choice.Content)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("parse %s response: %w (response: %s)", schema.Name, err, TruncateForLog(cleaned, logPreviewLength))
	}
	return nil
}

func (c *OpenAIClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      c.embeddingModel,
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, e := range resp.Data {
		if e.Index >= 0 && e.Index < len(vectors) {
			i = e.Index
		}
		vectors[i] = e.Embedding
	}
	return vectors, nil
}

func (c *OpenAIClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *OpenAIClient) request(messages []openai.ChatCompletionMessage) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	}
}

func (c *OpenAIClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionMessage, error) {
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, errors.New("no choices in response")
	}
	c.logger.Debug("chat completion",
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)))
	return resp.Choices[0].Message, nil
}

func toOpenAIMessages(messages []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Text()})
		case domain.RoleAI:
			m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Text()}
			for _, call := range msg.ToolCalls {
				args, _ := json.Marshal(call.Args)
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:       call.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: call.Name, Arguments: string(args)},
				})
			}
			out = append(out, m)
		case domain.RoleTool:
			m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, Content: msg.Text()}
			if msg.ToolResult != nil {
				m.ToolCallID = msg.ToolResult.CallID
			}
			out = append(out, m)
			// Tool messages only carry text; images follow as a user turn.
			if images := openAIImageParts(msg.Content); len(images) > 0 {
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: images})
			}
		default:
			images := openAIImageParts(msg.Content)
			if len(images) == 0 {
				out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Text()})
				continue
			}
			parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: msg.Text()}}
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: append(parts, images...)})
		}
	}
	return out
}

func openAIImageParts(content []domain.ContentPart) []openai.ChatMessagePart {
	var parts []openai.ChatMessagePart
	for _, part := range content {
		if part.Type != domain.PartImage {
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: "data:" + part.MIMEType + ";base64," + part.Image},
		})
	}
	return parts
}

type jsonSchema map[string]any

func (s jsonSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(s))
}
