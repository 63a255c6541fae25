package llamafarm

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// StatusHealthy is the only health status treated as healthy.
const StatusHealthy = "healthy"

// Identity names a project on the server. Both fields must be
// non-blank; together they are unique within a server.
type Identity struct {
	Namespace string `json:"namespace"`
	Project   string `json:"project"`
}

// Validate reports an error if either field is blank or is not a
// single URL path segment.
func (id Identity) Validate() error {
	if err := ValidateName("namespace", id.Namespace); err != nil {
		return err
	}
	return ValidateName("project name", id.Project)
}

// ValidateName checks one namespace or project name. Names become raw
// path segments in chat endpoints, so separators, URL metacharacters
// and whitespace are rejected rather than escaped.
func ValidateName(what, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s must not be blank", what)
	}
	for _, r := range v {
		if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune(`/\?#%`, r) {
			return fmt.Errorf("%s %q contains invalid character %q", what, v, r)
		}
	}
	return nil
}

// String returns "namespace/project".
func (id Identity) String() string {
	return id.Namespace + "/" + id.Project
}

// HealthResponse is the payload of GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Summary    string            `json:"summary,omitempty"`
	Components []HealthComponent `json:"components,omitempty"`
}

// HealthComponent is the status of one server subsystem.
type HealthComponent struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Message roles accepted by the chat endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of a chat completion call. RAGEnabled has no
// omitempty so an explicit false always reaches the server; otherwise
// the project's own RAG setting would apply.
type ChatRequest struct {
	Messages    []Message        `json:"messages"`
	Stream      bool             `json:"stream"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	RAGEnabled  bool             `json:"rag_enabled"`
	Variables   map[string]any   `json:"variables,omitempty"`
	Tools       []map[string]any `json:"tools,omitempty"`
}

// ChatResponse is an OpenAI-style chat completion.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Content returns the first choice's message content, or "".
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Choice is one completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage holds token counts reported by the server.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProjectConfig mirrors the server's llamafarm.yaml project document.
type ProjectConfig struct {
	Version   string         `json:"version,omitempty"`
	Name      string         `json:"name"`
	Namespace string         `json:"namespace"`
	Runtime   *RuntimeConfig `json:"runtime,omitempty"`
	Prompts   []Prompt       `json:"prompts,omitempty"`
	RAG       *RAGConfig     `json:"rag,omitempty"`
}

// RuntimeConfig lists the models a project can route to.
type RuntimeConfig struct {
	Models []RuntimeModel `json:"models,omitempty"`
}

// RuntimeModel describes one model entry in a project runtime.
type RuntimeModel struct {
	Name             string   `json:"name"`
	Provider         string   `json:"provider,omitempty"`
	Model            string   `json:"model,omitempty"`
	BaseURL          string   `json:"base_url,omitempty"`
	Default          bool     `json:"default,omitempty"`
	Prompts          []string `json:"prompts,omitempty"`
	ToolCallStrategy string   `json:"tool_call_strategy,omitempty"`
}

// Prompt is a named, ordered list of template messages.
type Prompt struct {
	Name     string          `json:"name"`
	Messages []PromptMessage `json:"messages"`
}

// PromptMessage is a role/content pair inside a prompt template.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RAGConfig toggles retrieval augmentation at project level.
type RAGConfig struct {
	Enabled bool `json:"enabled"`
}

// Project is a project as returned by the server.
type Project struct {
	Namespace string        `json:"namespace"`
	Name      string        `json:"name"`
	Config    ProjectConfig `json:"config"`
}

// ProjectResponse wraps a single project.
type ProjectResponse struct {
	Project Project `json:"project"`
}

// ProjectList is the payload of GET /v1/projects/{namespace}.
type ProjectList struct {
	Total    int       `json:"total"`
	Projects []Project `json:"projects"`
}

// CreateProjectRequest is the body of POST /v1/projects/{namespace}.
// The server only accepts a named starter template on create.
type CreateProjectRequest struct {
	Name           string `json:"name"`
	ConfigTemplate string `json:"config_template,omitempty"`
}

// UpdateProjectRequest is the body of PUT /v1/projects/{namespace}/{project}.
type UpdateProjectRequest struct {
	Config ProjectConfig `json:"config"`
}
