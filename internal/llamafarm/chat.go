package llamafarm

import (
	"context"
	"fmt"
	"maps"
)

// Chat defaults applied by BuildChatRequest.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

// Template variable names understood by the project's default prompt.
const (
	VarSystemPrompt = "system_prompt"
	VarToolsContext = "tools_context"
)

// ChatOptions tunes a request built by BuildChatRequest. Nil pointers
// take the package defaults.
type ChatOptions struct {
	// SystemPrompt, if non-empty, is passed as the system_prompt
	// template variable. It is never added to the message list; the
	// server's prompt template decides where it goes.
	SystemPrompt string

	// ToolsContext, if non-empty, is passed as the tools_context
	// template variable (see tools.SerializeForContext).
	ToolsContext string

	Stream      *bool
	Temperature *float64
	MaxTokens   *int

	// Variables are extra template variables. SystemPrompt and
	// ToolsContext take precedence over entries with the same name.
	Variables map[string]any

	// Tools are OpenAI-style function schemas.
	Tools []map[string]any
}

// BuildChatRequest assembles a chat request from messages and opts.
// RAG is always disabled; there is no option to turn it on.
func BuildChatRequest(messages []Message, opts ChatOptions) ChatRequest {
	req := ChatRequest{
		Messages:    append([]Message(nil), messages...),
		Stream:      false,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		RAGEnabled:  false,
		Tools:       opts.Tools,
	}
	if opts.Stream != nil {
		req.Stream = *opts.Stream
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}

	if len(opts.Variables) > 0 || opts.SystemPrompt != "" || opts.ToolsContext != "" {
		vars := make(map[string]any, len(opts.Variables)+2)
		maps.Copy(vars, opts.Variables)
		if opts.SystemPrompt != "" {
			vars[VarSystemPrompt] = opts.SystemPrompt
		}
		if opts.ToolsContext != "" {
			vars[VarToolsContext] = opts.ToolsContext
		}
		req.Variables = vars
	}
	return req
}

// ValidateMessages checks that every message has a known role.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}
	for i, m := range messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	return nil
}

// ChatWithDefaults validates messages, builds a request with
// BuildChatRequest and sends it. Failures propagate to the caller.
func (c *Client) ChatWithDefaults(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error) {
	return c.ChatStreamWithDefaults(ctx, messages, opts, nil)
}

// ChatStreamWithDefaults is ChatWithDefaults with a token callback,
// which only fires when opts.Stream is true.
func (c *Client) ChatStreamWithDefaults(ctx context.Context, messages []Message, opts ChatOptions, callback StreamCallback) (*ChatResponse, error) {
	if err := ValidateMessages(messages); err != nil {
		return nil, err
	}
	return c.ChatStream(ctx, BuildChatRequest(messages, opts), callback)
}
