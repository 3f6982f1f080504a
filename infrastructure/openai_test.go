package infrastructure

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cv-copilot/domain"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openAIServer(t *testing.T, path, response string) (*OpenAIClient, *map[string]any) {
	t.Helper()
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1", Model: "gpt-test"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client, &captured
}

func TestOpenAIChatWithToolCalls(t *testing.T) {
	client, captured := openAIServer(t, "/v1/chat/completions", `{
		"id":"chatcmpl-1","object":"chat.completion","model":"gpt-test",
		"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":null,
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_evaluation","arguments":"{\"id\":\"ev-1\"}"}}]}}],
		"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)

	tools := []domain.ToolSchema{{
		Name:        "get_evaluation",
		Description: "Fetch one evaluation",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{"id": map[string]any{"type": "string"}}},
	}}
	msg, err := client.Chat(context.Background(), []domain.Message{
		domain.NewSystemMessage("you are an HR assistant"),
		domain.NewHumanMessage("how did ev-1 go?"),
	}, tools)
	require.NoError(t, err)

	assert.Equal(t, domain.RoleAI, msg.Role)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"id": "ev-1"}, msg.ToolCalls[0].Args)

	req := *captured
	assert.Equal(t, "gpt-test", req["model"])
	sent := req["messages"].([]any)
	require.Len(t, sent, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, sent[0].(map[string]any)["role"])
	sentTools := req["tools"].([]any)
	require.Len(t, sentTools, 1)
	fn := sentTools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "get_evaluation", fn["name"])
}

func TestOpenAIStructuredChat(t *testing.T) {
	client, captured := openAIServer(t, "/v1/chat/completions", `{
		"id":"chatcmpl-2","object":"chat.completion","model":"gpt-test",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"score\":4,\"reason\":\"solid\"}"}}]}`)

	var out struct {
		Score  int    `json:"score"`
		Reason string `json:"reason"`
	}
	schema := domain.OutputSchema{Name: "rating", Schema: map[string]any{"type": "object"}}
	require.NoError(t, client.StructuredChat(context.Background(), []domain.Message{domain.NewHumanMessage("rate")}, schema, &out))
	assert.Equal(t, 4, out.Score)
	assert.Equal(t, "solid", out.Reason)

	format := (*captured)["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	js := format["json_schema"].(map[string]any)
	assert.Equal(t, "rating", js["name"])
	assert.Equal(t, map[string]any{"type": "object"}, js["schema"])
}

func TestOpenAIStructuredChatParseError(t *testing.T) {
	client, _ := openAIServer(t, "/v1/chat/completions", `{
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"not json at all"}}]}`)

	var out map[string]any
	err := client.StructuredChat(context.Background(), []domain.Message{domain.NewHumanMessage("rate")}, domain.OutputSchema{Name: "rating"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse rating response")
}

func TestOpenAIEmbeddingsFollowIndex(t *testing.T) {
	client, captured := openAIServer(t, "/v1/embeddings", `{
		"object":"list","model":"text-embedding-3-small",
		"data":[
			{"object":"embedding","index":1,"embedding":[0.3,0.4]},
			{"object":"embedding","index":0,"embedding":[0.1,0.2]}
		]}`)

	vectors, err := client.EmbedDocuments(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vectors)
	assert.Equal(t, []any{"first", "second"}, (*captured)["input"])
}

func TestToOpenAIMessagesToolImages(t *testing.T) {
	msgs := toOpenAIMessages([]domain.Message{
		domain.NewAIMessage("", domain.ToolCall{ID: "c1", Name: "get_cv_detail", Args: map[string]any{"id": "d1"}}),
		domain.NewToolMessage(domain.ToolResult{
			CallID:  "c1",
			Name:    "get_cv_detail",
			Success: true,
			Content: []domain.ContentPart{domain.TextPart("page"), domain.ImagePart("aGVsbG8=", "image/png")},
		}),
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, `{"id":"d1"}`, msgs[0].ToolCalls[0].Function.Arguments)
	assert.Equal(t, openai.ChatMessageRoleTool, msgs[1].Role)
	assert.Equal(t, "c1", msgs[1].ToolCallID)
	assert.Equal(t, "page", msgs[1].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[2].Role)
	require.Len(t, msgs[2].MultiContent, 1)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", msgs[2].MultiContent[0].ImageURL.URL)
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{APIKey: "  "}, zaptest.NewLogger(t))
	require.Error(t, err)
}
