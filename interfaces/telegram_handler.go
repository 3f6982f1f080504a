package interfaces

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"cv-copilot/application/agent"
	"cv-copilot/domain"
	"cv-copilot/infrastructure"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	secretTokenHeader   = "X-Telegram-Bot-Api-Secret-Token"
	defaultHistoryLimit = 20
)

// ThreadChatter is an assistant that can tell whether a thread already exists.
type ThreadChatter interface {
	Chatter
	Thread(ctx context.Context, threadID string) (agent.State, bool, error)
}

// Bot is the outbound side of the messaging transport.
type Bot interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SetWebhook(ctx context.Context, hostname, secretToken string) error
}

type TelegramOptions struct {
	// SecretToken authenticates webhook calls. When empty, one is generated on set-webhook.
	SecretToken string
	// HistoryLimit is the number of stored messages seeding a new thread.
	HistoryLimit int
}

// TelegramHandler answers chat messages delivered by the Telegram webhook.
// Replies are produced in the background; Wait blocks until they are done.
type TelegramHandler struct {
	assistant    ThreadChatter
	chats        domain.ChatRepository
	bot          Bot
	historyLimit int
	base         context.Context
	logger       *zap.Logger

	mu     sync.RWMutex
	secret string
	wg     sync.WaitGroup
}

// NewTelegramHandler registers the webhook routes. Background replies use ctx
// and stop when it is cancelled.
func NewTelegramHandler(ctx context.Context, router gin.IRouter, assistant ThreadChatter, chats domain.ChatRepository,
	bot Bot, opts TelegramOptions, logger *zap.Logger) *TelegramHandler {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	h := &TelegramHandler{
		assistant:    assistant,
		chats:        chats,
		bot:          bot,
		historyLimit: opts.HistoryLimit,
		base:         ctx,
		secret:       strings.TrimSpace(opts.SecretToken),
		logger:       logger.With(zap.String("component", "telegram")),
	}

	group := router.Group("/telegram")
	group.POST("/webhook", h.Webhook)
	group.POST("/set-webhook", h.SetWebhook)
	return h
}

func (h *TelegramHandler) secretToken() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.secret
}

// Webhook records the inbound message and acknowledges at once. A redelivered
// update is acknowledged without a second reply.
func (h *TelegramHandler) Webhook(c *gin.Context) {
	token := c.GetHeader(secretTokenHeader)
	secret := h.secretToken()
	if token == "" || secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid request"})
		return
	}

	var update domain.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, "invalid update: "+err.Error())
		return
	}
	msg := update.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	inbound := &domain.ChatMessage{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		UpdateID:  update.UpdateID,
		Role:      domain.ChatRoleHuman,
		Username:  msg.Username(),
		Text:      msg.Text,
	}
	if err := h.chats.Record(c.Request.Context(), inbound); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			h.logger.Info("duplicate update ignored", zap.Int64("update_id", update.UpdateID), zap.Int64("chat_id", msg.Chat.ID))
			c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
			return
		}
		writeError(c, err)
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.reply(h.base, *inbound)
	}()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// reply runs the assistant turn for one inbound message, stores the answer and sends it.
func (h *TelegramHandler) reply(ctx context.Context, in domain.ChatMessage) {
	thread := fmt.Sprintf("telegram:%d", in.ChatID)
	logger := h.logger.With(zap.String("thread", thread), zap.Int64("update_id", in.UpdateID))

	input := agent.ChatInput{ThreadID: thread, Message: in.Text}
	if _, found, err := h.assistant.Thread(ctx, thread); err != nil {
		logger.Warn("failed to load thread", zap.Error(err))
	} else if !found {
		history, err := h.history(ctx, in)
		if err != nil {
			logger.Warn("failed to load chat history", zap.Error(err))
		}
		input.History = history
	}

	out, err := h.assistant.Chat(ctx, input)
	if err != nil {
		logger.Error("assistant turn failed", zap.Error(err))
	}
	answer := out.Answer
	if answer == "" {
		answer = agent.Fallback
	}

	outbound := &domain.ChatMessage{
		ChatID:    in.ChatID,
		MessageID: in.MessageID,
		UpdateID:  in.UpdateID,
		Role:      domain.ChatRoleAI,
		Text:      answer,
	}
	if err := h.chats.Record(ctx, outbound); err != nil {
		logger.Warn("failed to record answer", zap.Error(err))
	}
	if err := h.bot.SendMessage(ctx, in.ChatID, answer); err != nil {
		logger.Error("failed to send answer", zap.Error(err))
		return
	}
	logger.Debug("answer sent", zap.Int("length", len(answer)))
}

// history converts stored messages of the chat, minus the current one, into a conversation prefix.
func (h *TelegramHandler) history(ctx context.Context, current domain.ChatMessage) ([]domain.Message, error) {
	stored, err := h.chats.History(ctx, current.ChatID, h.historyLimit+1)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(stored))
	for _, m := range stored {
		if m.MessageID == current.MessageID && m.UpdateID == current.UpdateID && m.Role == current.Role {
			continue
		}
		switch m.Role {
		case domain.ChatRoleHuman:
			out = append(out, domain.NewHumanMessage(m.Text))
		case domain.ChatRoleAI:
			out = append(out, domain.NewAIMessage(m.Text))
		}
	}
	if len(out) > h.historyLimit {
		out = out[len(out)-h.historyLimit:]
	}
	return out, nil
}

type setWebhookRequest struct {
	Hostname string `json:"hostname"`
}

// SetWebhook points the bot at <hostname>/telegram/webhook.
func (h *TelegramHandler) SetWebhook(c *gin.Context) {
	var req setWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	u, err := url.Parse(strings.TrimSpace(req.Hostname))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		badRequest(c, "invalid hostname")
		return
	}

	h.mu.Lock()
	if h.secret == "" {
		secret, err := infrastructure.GenerateSecretToken()
		if err != nil {
			h.mu.Unlock()
			writeError(c, err)
			return
		}
		h.secret = secret
	}
	secret := h.secret
	h.mu.Unlock()

	if err := h.bot.SetWebhook(c.Request.Context(), u.String(), secret); err != nil {
		writeError(c, domain.Dependency("set webhook", err))
		return
	}
	h.logger.Info("webhook registered", zap.String("hostname", u.String()))
	c.JSON(http.StatusOK, gin.H{"status": "ok", "webhook_url": strings.TrimRight(u.String(), "/") + "/telegram/webhook"})
}

// Wait blocks until background replies have finished.
func (h *TelegramHandler) Wait() {
	h.wg.Wait()
}
