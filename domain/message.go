package domain

import "strings"

type Role string

const (
	RoleSystem Role = "system"
	RoleHuman  Role = "human"
	RoleAI     Role = "ai"
	RoleTool   Role = "tool"
)

type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is a provider-neutral piece of message content.
type ContentPart struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	// Image holds base64 data for PartImage.
	Image    string `json:"image,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

func ImagePart(base64Data, mimeType string) ContentPart {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return ContentPart{Type: PartImage, Image: base64Data, MIMEType: mimeType}
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult answers exactly one ToolCall.
type ToolResult struct {
	CallID  string        `json:"call_id"`
	Name    string        `json:"name"`
	Content []ContentPart `json:"content"`
	Success bool          `json:"success"`
}

// Message is one entry of a conversation log.
type Message struct {
	Role       Role          `json:"role"`
	Content    []ContentPart `json:"content,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolResult *ToolResult   `json:"tool_result,omitempty"`
}

func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentPart{TextPart(text)}}
}

func NewHumanMessage(text string) Message {
	return Message{Role: RoleHuman, Content: []ContentPart{TextPart(text)}}
}

func NewAIMessage(text string, calls ...ToolCall) Message {
	msg := Message{Role: RoleAI, ToolCalls: calls}
	if text != "" {
		msg.Content = []ContentPart{TextPart(text)}
	}
	return msg
}

func NewToolMessage(result ToolResult) Message {
	return Message{Role: RoleTool, Content: result.Content, ToolResult: &result}
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, part := range m.Content {
		if part.Type != PartText || part.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(part.Text)
	}
	return b.String()
}

func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ToolSchema describes a tool to the model. Parameters is a JSON schema object.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// OutputSchema constrains a structured chat response.
type OutputSchema struct {
	Name        string
	Description string
	Schema      map[string]any
}
