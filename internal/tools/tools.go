// Package tools defines the tools the agent can call and the registry
// that exposes them to the model.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Tool is one callable capability. Implementations validate their own
// arguments and report problems as an error Result, never as a Go
// error or panic.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the argument object.
	Parameters() map[string]any
	Execute(ctx context.Context, callID string, args map[string]any) Result
}

// Content is one block of tool output.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is a tool's structured outcome.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text returns the concatenated text content.
func (r Result) Text() string {
	var s string
	for _, c := range r.Content {
		s += c.Text
	}
	return s
}

// TextResult wraps text in a successful Result.
func TextResult(text string) Result {
	return Result{Content: []Content{{Type: "text", Text: text}}}
}

// ErrorResult returns an error-flagged Result.
func ErrorResult(format string, args ...any) Result {
	return Result{
		Content: []Content{{Type: "text", Text: "Error: " + fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

// JSONResult encodes v as the text of a successful Result.
func JSONResult(v any) Result {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrorResult("encode result: %v", err)
	}
	return TextResult(string(data))
}

// Registry holds the available tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the named tool, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// List returns every tool as an OpenAI function schema.
func (r *Registry) List() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name(),
				"description": t.Description(),
				"parameters":  t.Parameters(),
			},
		})
	}
	return result
}

// SerializeForContext renders the schemas as indented JSON for the
// tools_context chat variable.
func (r *Registry) SerializeForContext() (string, error) {
	data, err := json.MarshalIndent(r.List(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize tool schemas: %w", err)
	}
	return string(data), nil
}

// Execute runs the named tool with JSON-encoded arguments. An empty
// callID is replaced with a fresh one. Unknown tools return
// *ErrToolUnavailable; malformed arguments return an error Result.
func (r *Registry) Execute(ctx context.Context, name, callID, argsJSON string) (Result, error) {
	t := r.Get(name)
	if t == nil {
		return Result{}, &ErrToolUnavailable{ToolName: name}
	}

	args := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return ErrorResult("invalid arguments: %v", err), nil
		}
	}
	if callID == "" {
		callID = uuid.NewString()
	}
	return t.Execute(ctx, callID, args), nil
}
