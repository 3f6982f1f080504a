package interfaces

import (
	"context"
	"errors"
	"sync"

	"cv-copilot/application/agent"
	"cv-copilot/application/evaluation"
	"cv-copilot/domain"
)

var errNotStubbed = errors.New("not stubbed")

type fakeService struct {
	upload    func(ownerID string, cv, project evaluation.File) (*domain.Upload, error)
	uploads   func(ownerID string) ([]domain.Upload, error)
	evaluate  func(ownerID, uploadID, jobPostingID string) (*domain.Evaluation, error)
	list      func(ownerID string) ([]domain.Evaluation, error)
	result    func(id string) (*domain.Evaluation, error)
	query     func(text string, k int) ([]domain.ScoredDocument, error)
	createJob func(in evaluation.JobInput) (*domain.JobPosting, error)
	job       func(id string) (*domain.JobPosting, error)
	jobs      func(limit int) ([]domain.JobPosting, error)
	updateJob func(id string, patch evaluation.JobPatch) (*domain.JobPosting, error)
	deleteJob func(id string) error
}

func (f *fakeService) Upload(_ context.Context, ownerID string, cv, project evaluation.File) (*domain.Upload, error) {
	if f.upload == nil {
		return nil, errNotStubbed
	}
	return f.upload(ownerID, cv, project)
}

func (f *fakeService) Uploads(_ context.Context, ownerID string) ([]domain.Upload, error) {
	if f.uploads == nil {
		return nil, errNotStubbed
	}
	return f.uploads(ownerID)
}

func (f *fakeService) Evaluate(_ context.Context, ownerID, uploadID, jobPostingID string) (*domain.Evaluation, error) {
	if f.evaluate == nil {
		return nil, errNotStubbed
	}
	return f.evaluate(ownerID, uploadID, jobPostingID)
}

func (f *fakeService) List(_ context.Context, ownerID string) ([]domain.Evaluation, error) {
	if f.list == nil {
		return nil, errNotStubbed
	}
	return f.list(ownerID)
}

func (f *fakeService) Result(_ context.Context, id string) (*domain.Evaluation, error) {
	if f.result == nil {
		return nil, errNotStubbed
	}
	return f.result(id)
}

func (f *fakeService) Query(_ context.Context, text string, k int) ([]domain.ScoredDocument, error) {
	if f.query == nil {
		return nil, errNotStubbed
	}
	return f.query(text, k)
}

func (f *fakeService) CreateJob(_ context.Context, in evaluation.JobInput) (*domain.JobPosting, error) {
	if f.createJob == nil {
		return nil, errNotStubbed
	}
	return f.createJob(in)
}

func (f *fakeService) Job(_ context.Context, id string) (*domain.JobPosting, error) {
	if f.job == nil {
		return nil, errNotStubbed
	}
	return f.job(id)
}

func (f *fakeService) Jobs(_ context.Context, limit int) ([]domain.JobPosting, error) {
	if f.jobs == nil {
		return nil, errNotStubbed
	}
	return f.jobs(limit)
}

func (f *fakeService) UpdateJob(_ context.Context, id string, patch evaluation.JobPatch) (*domain.JobPosting, error) {
	if f.updateJob == nil {
		return nil, errNotStubbed
	}
	return f.updateJob(id, patch)
}

func (f *fakeService) DeleteJob(_ context.Context, id string) error {
	if f.deleteJob == nil {
		return errNotStubbed
	}
	return f.deleteJob(id)
}

type fakeAssistant struct {
	mu      sync.Mutex
	inputs  []agent.ChatInput
	threads map[string]bool
	answer  string
	err     error
}

func (f *fakeAssistant) Chat(_ context.Context, in agent.ChatInput) (agent.ChatOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return agent.ChatOutput{Answer: agent.Fallback}, f.err
	}
	return agent.ChatOutput{Answer: f.answer}, nil
}

func (f *fakeAssistant) Thread(_ context.Context, threadID string) (agent.State, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return agent.State{}, f.threads[threadID], nil
}

func (f *fakeAssistant) calls() []agent.ChatInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.ChatInput(nil), f.inputs...)
}

type deliveryKey struct {
	chatID, messageID, updateID int64
	role                        domain.ChatRole
}

type fakeChats struct {
	mu       sync.Mutex
	messages []domain.ChatMessage
	seen     map[deliveryKey]bool
}

func newFakeChats(history ...domain.ChatMessage) *fakeChats {
	f := &fakeChats{seen: map[deliveryKey]bool{}}
	for _, m := range history {
		m := m
		_ = f.Record(context.Background(), &m)
	}
	return f
}

func (f *fakeChats) Record(_ context.Context, msg *domain.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := deliveryKey{msg.ChatID, msg.MessageID, msg.UpdateID, msg.Role}
	if f.seen[key] {
		return domain.Conflict("record chat message", errors.New("duplicate"))
	}
	f.seen[key] = true
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *fakeChats) History(_ context.Context, chatID int64, limit int) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ChatMessage
	for _, m := range f.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeChats) all() []domain.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ChatMessage(nil), f.messages...)
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakeBot struct {
	mu       sync.Mutex
	sent     []sentMessage
	hostname string
	secret   string
	err      error
}

func (f *fakeBot) SendMessage(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return f.err
}

func (f *fakeBot) SetWebhook(_ context.Context, hostname, secretToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hostname = hostname
	f.secret = secretToken
	return f.err
}

func (f *fakeBot) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}
