package agent

import (
	"slices"

	"cv-copilot/domain"
)

// State is the checkpointed conversation of one thread.
type State struct {
	Messages     []domain.Message `json:"messages"`
	Summary      string           `json:"summary"`
	LastResponse *domain.Message  `json:"last_response,omitempty"`

	// clearLast drops LastResponse when merged; set on turn input.
	clearLast bool
}

// merge appends messages, replaces the summary when one is produced and
// replaces or clears the last response.
func merge(current, update State) State {
	if len(update.Messages) > 0 {
		current.Messages = append(slices.Clip(current.Messages), update.Messages...)
	}
	if update.Summary != "" {
		current.Summary = update.Summary
	}
	switch {
	case update.LastResponse != nil:
		current.LastResponse = update.LastResponse
	case update.clearLast:
		current.LastResponse = nil
	}
	current.clearLast = false
	return current
}

// window returns the tail of the non-system log used as prompt context. The
// window starts at a human message so tool results always follow their call.
func window(messages []domain.Message, size int) []domain.Message {
	log := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != domain.RoleSystem {
			log = append(log, m)
		}
	}
	if size <= 0 || len(log) <= size {
		return log
	}

	start := len(log) - size
	for i := start; i < len(log); i++ {
		if log[i].Role == domain.RoleHuman {
			return log[i:]
		}
	}
	// The current turn alone is longer than the window.
	for i := start - 1; i >= 0; i-- {
		if log[i].Role == domain.RoleHuman {
			return log[i:]
		}
	}
	return log
}
