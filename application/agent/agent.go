// Package agent runs the HR assistant: a tool calling loop over the graph
// executor that keeps one checkpointed conversation per thread.
package agent

import (
	"context"
	"errors"
	"time"

	"cv-copilot/application/graph"
	"cv-copilot/domain"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	nodeAgent      = "agent"
	nodeTool       = "tool"
	nodeSummarizer = "summarizer"

	DefaultContextWindow = 40
)

// Dispatcher exposes the tools the model may call.
type Dispatcher interface {
	Schemas() []domain.ToolSchema
	Dispatch(ctx context.Context, call domain.ToolCall) domain.ToolResult
}

type Options struct {
	// RecursionLimit bounds node executions per turn. Zero uses the graph default.
	RecursionLimit int
	// ContextWindow is the number of recent messages sent with each agent call. Negative disables the bound.
	ContextWindow int
	// MaxParallelTools bounds concurrent tool calls within one step. Zero is unbounded.
	MaxParallelTools int
	Checkpointer     graph.Checkpointer[State]
	Now              func() time.Time
}

type ChatInput struct {
	ThreadID string
	Message  string
	// History seeds a thread that has no checkpoint yet.
	History []domain.Message
}

type ChatOutput struct {
	Answer string
}

type Agent struct {
	model    domain.ChatModel
	tools    Dispatcher
	runnable *graph.Runnable[State]
	opts     Options
	logger   *zap.Logger
}

func New(model domain.ChatModel, tools Dispatcher, opts Options, logger *zap.Logger) (*Agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Checkpointer == nil {
		opts.Checkpointer = graph.NewMemorySaver[State]()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ContextWindow == 0 {
		opts.ContextWindow = DefaultContextWindow
	}

	a := &Agent{
		model:  model,
		tools:  tools,
		opts:   opts,
		logger: logger.With(zap.String("component", "agent")),
	}

	runnable, err := graph.New(merge).
		AddNode(nodeAgent, a.callModel).
		AddNode(nodeTool, a.callTools).
		AddNode(nodeSummarizer, a.summarize).
		SetEntryPoint(nodeAgent).
		AddConditionalEdges(nodeAgent, route).
		AddEdge(nodeTool, nodeAgent).
		AddEdge(nodeSummarizer, graph.END).
		Compile(
			graph.WithCheckpointer(opts.Checkpointer),
			graph.WithRecursionLimit[State](opts.RecursionLimit),
			graph.WithLogger[State](a.logger),
		)
	if err != nil {
		return nil, err
	}
	a.runnable = runnable
	return a, nil
}

// Chat runs one turn. On failure the answer is the fallback text and the
// thread's checkpoint is left as it was before the turn.
func (a *Agent) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	if in.Message == "" {
		return ChatOutput{}, domain.Validationf("chat", "message is empty")
	}
	logger := a.logger.With(zap.String("thread", in.ThreadID))

	state, err := a.runnable.InvokeFunc(ctx, in.ThreadID, func(_ State, found bool) State {
		turn := domain.NewHumanMessage(in.Message)
		if found {
			return State{Messages: []domain.Message{turn}, clearLast: true}
		}
		seed := make([]domain.Message, 0, len(in.History)+2)
		seed = append(seed, domain.NewSystemMessage(render(systemPrompt, a.opts.Now(), noSummary)))
		seed = append(seed, in.History...)
		seed = append(seed, turn)
		return State{Messages: seed, Summary: noSummary, clearLast: true}
	})
	if err != nil {
		if errors.Is(err, graph.ErrRecursionLimit) {
			err = domain.LimitExceeded("chat", err)
		} else if domain.KindOf(err) == nil {
			err = domain.Dependency("chat", err)
		}
		logger.Error("turn failed", zap.Error(err))
		return ChatOutput{Answer: Fallback}, err
	}

	answer := ""
	if state.LastResponse != nil {
		answer = state.LastResponse.Text()
	}
	if answer == "" {
		answer = Fallback
	}
	return ChatOutput{Answer: answer}, nil
}

// Thread returns the checkpointed state of a thread.
func (a *Agent) Thread(ctx context.Context, threadID string) (State, bool, error) {
	return a.runnable.State(ctx, threadID)
}

func route(_ context.Context, s State) (string, error) {
	if s.LastResponse != nil && s.LastResponse.HasToolCalls() {
		return nodeTool, nil
	}
	return nodeSummarizer, nil
}

func (a *Agent) callModel(ctx context.Context, s State) (State, error) {
	prompt := []domain.Message{domain.NewSystemMessage(render(systemPrompt, a.opts.Now(), s.Summary))}
	prompt = append(prompt, window(s.Messages, a.opts.ContextWindow)...)

	reply, err := a.model.Chat(ctx, prompt, a.tools.Schemas())
	if err != nil {
		return State{}, domain.Dependency("agent model call", err)
	}
	reply.Role = domain.RoleAI

	a.logger.Debug("model replied", zap.Int("tool_calls", len(reply.ToolCalls)), zap.Int("prompt_messages", len(prompt)))
	return State{Messages: []domain.Message{reply}, LastResponse: &reply}, nil
}

// callTools answers every call of the last response. Results are written by
// index and merged once all calls return.
func (a *Agent) callTools(ctx context.Context, s State) (State, error) {
	if s.LastResponse == nil {
		return State{}, nil
	}
	calls := s.LastResponse.ToolCalls
	results := make([]domain.Message, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	if a.opts.MaxParallelTools > 0 {
		g.SetLimit(a.opts.MaxParallelTools)
	}
	for i, call := range calls {
		g.Go(func() error {
			results[i] = domain.NewToolMessage(a.tools.Dispatch(gctx, call))
			return nil
		})
	}
	_ = g.Wait()

	return State{Messages: results}, nil
}

func (a *Agent) summarize(ctx context.Context, s State) (State, error) {
	prompt := []domain.Message{domain.NewSystemMessage(summarizerSystemPrompt)}
	for _, m := range s.Messages {
		if m.Role != domain.RoleSystem {
			prompt = append(prompt, m)
		}
	}
	prompt = append(prompt, domain.NewHumanMessage(render(summarizerRequest, a.opts.Now(), s.Summary)))

	reply, err := a.model.Chat(ctx, prompt, nil)
	if err != nil {
		return State{}, domain.Dependency("summarizer model call", err)
	}
	summary := reply.Text()
	if summary == "" {
		return State{}, nil
	}
	return State{Summary: summary}, nil
}
