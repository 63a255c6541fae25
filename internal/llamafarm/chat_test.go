package llamafarm

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBuildChatRequest_Defaults(t *testing.T) {
	msgs := []Message{{Role: RoleUser, Content: "hello"}}
	req := BuildChatRequest(msgs, ChatOptions{})

	if req.Stream {
		t.Error("stream should default to false")
	}
	if req.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", req.Temperature)
	}
	if req.MaxTokens != 1000 {
		t.Errorf("max_tokens = %d, want 1000", req.MaxTokens)
	}
	if req.RAGEnabled {
		t.Error("rag must be disabled")
	}
	if req.Variables != nil {
		t.Errorf("variables = %v, want nil without a system prompt", req.Variables)
	}

	msgs[0].Content = "mutated"
	if req.Messages[0].Content != "hello" {
		t.Error("request shares the caller's message slice")
	}
}

func TestBuildChatRequest_Overrides(t *testing.T) {
	stream := true
	temp := 0.0
	maxTok := 64
	req := BuildChatRequest([]Message{{Role: RoleUser, Content: "x"}}, ChatOptions{
		Stream:      &stream,
		Temperature: &temp,
		MaxTokens:   &maxTok,
		Tools:       []map[string]any{{"type": "function"}},
	})
	if !req.Stream || req.Temperature != 0 || req.MaxTokens != 64 {
		t.Errorf("overrides not applied: %+v", req)
	}
	if len(req.Tools) != 1 {
		t.Errorf("tools = %v", req.Tools)
	}
	if req.RAGEnabled {
		t.Error("rag must be disabled")
	}
}

func TestBuildChatRequest_SystemPromptIsVariable(t *testing.T) {
	msgs := []Message{{Role: RoleUser, Content: "x"}}
	req := BuildChatRequest(msgs, ChatOptions{
		SystemPrompt: "You are a farmer.",
		ToolsContext: "[]",
		Variables:    map[string]any{"system_prompt": "ignored", "mood": "calm"},
	})

	if len(req.Messages) != 1 || req.Messages[0].Role != RoleUser {
		t.Errorf("system prompt leaked into messages: %+v", req.Messages)
	}
	if req.Variables[VarSystemPrompt] != "You are a farmer." {
		t.Errorf("system_prompt = %v", req.Variables[VarSystemPrompt])
	}
	if req.Variables[VarToolsContext] != "[]" {
		t.Errorf("tools_context = %v", req.Variables[VarToolsContext])
	}
	if req.Variables["mood"] != "calm" {
		t.Errorf("extra variable dropped: %v", req.Variables)
	}
}

func TestChatRequest_RAGFalseOnWire(t *testing.T) {
	data, err := json.Marshal(BuildChatRequest([]Message{{Role: RoleUser, Content: "x"}}, ChatOptions{}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"rag_enabled":false`) {
		t.Errorf("wire form %s lacks rag_enabled:false", data)
	}
}

func TestValidateMessages(t *testing.T) {
	tests := []struct {
		name    string
		msgs    []Message
		wantErr bool
	}{
		{"empty", nil, true},
		{"user", []Message{{Role: RoleUser, Content: "a"}}, false},
		{"all roles", []Message{{Role: RoleSystem}, {Role: RoleUser}, {Role: RoleAssistant}}, false},
		{"unknown role", []Message{{Role: "tool"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateMessages(tt.msgs); (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildChatEndpoint(t *testing.T) {
	got := BuildChatEndpoint("http://localhost:8000", "moltbot", "agent")
	if got != "http://localhost:8000/v1/projects/moltbot/agent" {
		t.Errorf("BuildChatEndpoint = %q", got)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", DefaultServerURL},
		{"   ", DefaultServerURL},
		{"http://farm:8000/", "http://farm:8000"},
		{" http://farm:8000// ", "http://farm:8000"},
		{"https://farm.example.com", "https://farm.example.com"},
	}
	for _, tt := range tests {
		if got := NormalizeBaseURL(tt.in); got != tt.want {
			t.Errorf("NormalizeBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateBaseURL(t *testing.T) {
	valid := []string{"http://localhost:8000", "https://farm.lan/", ""}
	for _, v := range valid {
		if err := ValidateBaseURL(v); err != nil {
			t.Errorf("ValidateBaseURL(%q) = %v", v, err)
		}
	}
	invalid := []string{"localhost:8000", "ftp://farm", "http://", "::nope"}
	for _, v := range invalid {
		if err := ValidateBaseURL(v); err == nil {
			t.Errorf("ValidateBaseURL(%q) accepted", v)
		}
	}
}

func TestIdentity_Validate(t *testing.T) {
	if err := (Identity{Namespace: "moltbot", Project: "agent"}).Validate(); err != nil {
		t.Errorf("valid identity rejected: %v", err)
	}
	if err := (Identity{Namespace: " ", Project: "agent"}).Validate(); err == nil {
		t.Error("blank namespace accepted")
	}
	if err := (Identity{Namespace: "moltbot", Project: ""}).Validate(); err == nil {
		t.Error("blank project accepted")
	}
	for _, name := range []string{"a/b", "my bot", "x?y", "x#y", "50%", `a\b`, "tab\there"} {
		if err := (Identity{Namespace: "moltbot", Project: name}).Validate(); err == nil {
			t.Errorf("project %q accepted", name)
		}
	}
	if err := (Identity{Namespace: "lab-1", Project: "agent_v2.0"}).Validate(); err != nil {
		t.Errorf("dotted name rejected: %v", err)
	}
}

func TestTransportError_Message(t *testing.T) {
	e := &TransportError{Op: "update project", StatusCode: 422, Body: "bad config"}
	if got := e.Error(); got != "update project failed: 422 Unprocessable Entity - bad config" {
		t.Errorf("Error() = %q", got)
	}
}
