package infrastructure

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTelegramEndpoint = "https://api.telegram.org/bot"
	// maxTelegramMessage is the Bot API limit on message text length.
	maxTelegramMessage = 4096
)

type TelegramConfig struct {
	Token string
	// Endpoint is the Bot API prefix the token is appended to.
	Endpoint string
	Timeout  time.Duration
}

// TelegramClient calls the Bot API methods the webhook needs.
type TelegramClient struct {
	apiURL string
	http   *http.Client
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

func NewTelegramClient(cfg TelegramConfig) (*TelegramClient, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultTelegramEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &TelegramClient{
		apiURL: cfg.Endpoint + strings.TrimSpace(cfg.Token),
		http:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// SendMessage posts text to a chat, split into several messages when it exceeds the API limit.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitMessage(text, maxTelegramMessage) {
		req := map[string]any{"chat_id": chatID, "text": chunk}
		if err := c.call(ctx, "sendMessage", req); err != nil {
			return err
		}
	}
	return nil
}

// SetWebhook registers <hostname>/telegram/webhook with the given secret token.
func (c *TelegramClient) SetWebhook(ctx context.Context, hostname, secretToken string) error {
	req := map[string]any{
		"url":          strings.TrimRight(hostname, "/") + "/telegram/webhook",
		"secret_token": secretToken,
	}
	return c.call(ctx, "setWebhook", req)
}

func (c *TelegramClient) call(ctx context.Context, method string, in any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	var out telegramResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram %s failed (%d): %s", method, out.ErrorCode, out.Description)
	}
	return nil
}

// GenerateSecretToken returns 32 random bytes, hex encoded.
func GenerateSecretToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > limit {
		cut := limit
		// Prefer breaking at the last newline of the chunk.
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
