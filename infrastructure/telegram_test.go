package infrastructure

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type telegramCall struct {
	path string
	body map[string]any
}

func telegramServer(t *testing.T, response string) (*TelegramClient, *[]telegramCall) {
	t.Helper()
	var calls []telegramCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		call := telegramCall{path: r.URL.Path}
		assert.NoError(t, json.Unmarshal(raw, &call.body))
		calls = append(calls, call)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	client, err := NewTelegramClient(TelegramConfig{Token: "123:abc", Endpoint: srv.URL + "/bot"})
	require.NoError(t, err)
	return client, &calls
}

func TestTelegramSendMessage(t *testing.T) {
	client, calls := telegramServer(t, `{"ok":true,"result":{"message_id":5}}`)

	require.NoError(t, client.SendMessage(context.Background(), 42, "hello"))
	require.Len(t, *calls, 1)
	assert.Equal(t, "/bot123:abc/sendMessage", (*calls)[0].path)
	assert.EqualValues(t, 42, (*calls)[0].body["chat_id"])
	assert.Equal(t, "hello", (*calls)[0].body["text"])
}

func TestTelegramSendMessageSplitsLongText(t *testing.T) {
	client, calls := telegramServer(t, `{"ok":true,"result":{}}`)

	text := strings.Repeat("a", maxTelegramMessage) + "tail"
	require.NoError(t, client.SendMessage(context.Background(), 1, text))
	require.Len(t, *calls, 2)
	assert.Equal(t, "tail", (*calls)[1].body["text"])
}

func TestTelegramSetWebhook(t *testing.T) {
	client, calls := telegramServer(t, `{"ok":true,"result":true,"description":"Webhook was set"}`)

	require.NoError(t, client.SetWebhook(context.Background(), "https://hr.example.com/", "s3cret"))
	require.Len(t, *calls, 1)
	assert.Equal(t, "/bot123:abc/setWebhook", (*calls)[0].path)
	assert.Equal(t, "https://hr.example.com/telegram/webhook", (*calls)[0].body["url"])
	assert.Equal(t, "s3cret", (*calls)[0].body["secret_token"])
}

func TestTelegramAPIError(t *testing.T) {
	client, _ := telegramServer(t, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)

	err := client.SendMessage(context.Background(), 1, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	text := strings.Repeat("x", 7) + "\n" + strings.Repeat("y", 5)
	chunks := splitMessage(text, 10)
	assert.Equal(t, []string{strings.Repeat("x", 7) + "\n", strings.Repeat("y", 5)}, chunks)

	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
}

func TestGenerateSecretToken(t *testing.T) {
	a, err := GenerateSecretToken()
	require.NoError(t, err)
	b, err := GenerateSecretToken()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
