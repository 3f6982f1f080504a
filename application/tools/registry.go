// Package tools holds the read-only capabilities the assistant can call and the
// registry that validates arguments and dispatches calls by name.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"cv-copilot/domain"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

// Handler answers a call with decoded arguments.
type Handler[A any] func(ctx context.Context, args A) ([]domain.ContentPart, error)

// Tool is a callable capability. Call receives raw model arguments.
type Tool interface {
	Schema() domain.ToolSchema
	Call(ctx context.Context, args map[string]any) ([]domain.ContentPart, error)
}

type typedTool[A any] struct {
	schema   domain.ToolSchema
	compiled *jsonschema.Schema
	handler  Handler[A]
}

// New builds a tool whose arguments are defaulted and validated against parameters
// (a JSON schema object) and then decoded into A using mapstructure tags.
func New[A any](name, description string, parameters map[string]any, handler Handler[A]) (Tool, error) {
	if name == "" {
		return nil, errors.New("tool name is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("tool %s: handler is required", name)
	}
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	compiled, err := compileSchema(name, parameters)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	return &typedTool[A]{
		schema:   domain.ToolSchema{Name: name, Description: description, Parameters: parameters},
		compiled: compiled,
		handler:  handler,
	}, nil
}

func (t *typedTool[A]) Schema() domain.ToolSchema {
	return t.schema
}

func (t *typedTool[A]) Call(ctx context.Context, raw map[string]any) ([]domain.ContentPart, error) {
	args, err := normalize(raw)
	if err != nil {
		return nil, domain.Validation("decode arguments", err)
	}
	applyDefaults(t.schema.Parameters, args)
	// Defaults come from Go literals; round trip them to JSON values as well.
	if args, err = normalize(args); err != nil {
		return nil, domain.Validation("decode arguments", err)
	}

	if err := t.compiled.Validate(any(args)); err != nil {
		return nil, domain.Validation("validate arguments", err)
	}

	var decoded A
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &decoded,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(args); err != nil {
		return nil, domain.Validation("decode arguments", err)
	}

	return t.handler(ctx, decoded)
}

func compileSchema(name string, parameters map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(parameters)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	url := name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// normalize turns provider argument maps into plain JSON values.
func normalize(raw map[string]any) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// applyDefaults fills absent properties from their "default" keyword, descending into nested objects.
func applyDefaults(schema map[string]any, args map[string]any) {
	props, _ := schema["properties"].(map[string]any)
	for key, rawProp := range props {
		prop, ok := rawProp.(map[string]any)
		if !ok {
			continue
		}
		value, present := args[key]
		if !present {
			if def, ok := prop["default"]; ok {
				args[key] = def
			}
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			applyDefaults(prop, nested)
		}
	}
}

// Registry resolves tool calls by name.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger.With(zap.String("component", "tools")),
	}
}

// Register adds tools, rejecting names already taken.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tool := range tools {
		name := tool.Schema().Name
		if _, ok := r.tools[name]; ok {
			return fmt.Errorf("tool %s already registered", name)
		}
		r.tools[name] = tool
	}
	return nil
}

// Schemas lists the registered tools sorted by name.
func (r *Registry) Schemas() []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]domain.ToolSchema, 0, len(r.tools))
	for _, tool := range r.tools {
		schemas = append(schemas, tool.Schema())
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Dispatch runs a call and always answers it. Failures, including panics,
// become a textual result so the conversation can continue.
func (r *Registry) Dispatch(ctx context.Context, call domain.ToolCall) (result domain.ToolResult) {
	result = domain.ToolResult{CallID: call.ID, Name: call.Name}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", zap.String("tool", call.Name), zap.Any("panic", rec))
			result = failure(call, fmt.Errorf("panic: %v", rec))
		}
	}()

	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return failure(call, domain.NotFoundf("dispatch", "unknown tool %q", call.Name))
	}

	parts, err := tool.Call(ctx, call.Args)
	if err != nil {
		r.logger.Warn("tool failed", zap.String("tool", call.Name), zap.String("call_id", call.ID), zap.Error(err))
		return failure(call, err)
	}

	result.Content = parts
	result.Success = true
	return result
}

func failure(call domain.ToolCall, err error) domain.ToolResult {
	return domain.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: []domain.ContentPart{domain.TextPart(fmt.Sprintf("Error executing tool %s: %s", call.Name, err.Error()))},
		Success: false,
	}
}
