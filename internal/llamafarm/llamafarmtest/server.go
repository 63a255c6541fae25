// Package llamafarmtest provides an in-memory LlamaFarm server for
// tests. It implements the subset of the HTTP API farmlink uses and
// records every request so tests can assert on call order.
package llamafarmtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/nugget/farmlink/internal/llamafarm"
)

// Call is one recorded request.
type Call struct {
	Method string
	Path   string
	Body   string
	Accept string
}

// String renders the call as "METHOD /path".
func (c Call) String() string { return c.Method + " " + c.Path }

// Server is a fake LlamaFarm server backed by httptest.Server.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	status   string
	projects map[string]map[string]llamafarm.ProjectConfig
	models   []string
	calls    []Call
	failures map[string]int // "METHOD /path" -> status code
	blanks   map[string]bool
	lastChat *llamafarm.ChatRequest
	reply    string
}

// New starts a healthy server with no projects.
func New() *Server {
	s := &Server{
		status:   llamafarm.StatusHealthy,
		projects: make(map[string]map[string]llamafarm.ProjectConfig),
		models:   []string{"qwen3-8b"},
		failures: make(map[string]int),
		blanks:   make(map[string]bool),
		reply:    "Hello from the farm.",
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// SetStatus sets the status reported by /health.
func (s *Server) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetReply sets the assistant content returned by chat completions.
func (s *Server) SetReply(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = text
}

// Fail makes the next matching requests answer with code. key is
// "METHOD /path", e.g. "POST /v1/projects/moltbot".
func (s *Server) Fail(key string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key] = code
}

// Blank makes matching requests answer 200 with an empty body.
func (s *Server) Blank(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blanks[key] = true
}

// Seed stores a project directly, as if created out of band.
func (s *Server) Seed(namespace string, cfg llamafarm.ProjectConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projects[namespace] == nil {
		s.projects[namespace] = make(map[string]llamafarm.ProjectConfig)
	}
	s.projects[namespace][cfg.Name] = cfg
}

// Project returns the stored config for namespace/name.
func (s *Server) Project(namespace, name string) (llamafarm.ProjectConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.projects[namespace][name]
	return cfg, ok
}

// Calls returns a copy of the recorded requests.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallKeys returns recorded requests as "METHOD /path" strings.
func (s *Server) CallKeys() []string {
	calls := s.Calls()
	keys := make([]string, len(calls))
	for i, c := range calls {
		keys[i] = c.String()
	}
	return keys
}

// LastChat returns the most recent chat request body.
func (s *Server) LastChat() *llamafarm.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChat
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()

	call := Call{Method: r.Method, Path: r.URL.Path, Body: string(body), Accept: r.Header.Get("Accept")}
	s.calls = append(s.calls, call)
	if code, ok := s.failures[call.String()]; ok {
		http.Error(w, fmt.Sprintf("injected failure for %s", call), code)
		return
	}
	if s.blanks[call.String()] {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, llamafarm.HealthResponse{Status: s.status, Summary: "test server"})
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/projects"), "/"), "/")
	if !strings.HasPrefix(r.URL.Path, "/v1/projects/") || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	ns := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		list := llamafarm.ProjectList{Projects: []llamafarm.Project{}}
		for name, cfg := range s.projects[ns] {
			list.Projects = append(list.Projects, llamafarm.Project{Namespace: ns, Name: name, Config: cfg})
		}
		list.Total = len(list.Projects)
		writeJSON(w, http.StatusOK, list)

	case len(parts) == 1 && r.Method == http.MethodPost:
		var req llamafarm.CreateProjectRequest
		if err := json.Unmarshal(body, &req); err != nil || req.Name == "" {
			http.Error(w, "invalid create request", http.StatusUnprocessableEntity)
			return
		}
		if _, exists := s.projects[ns][req.Name]; exists {
			http.Error(w, fmt.Sprintf("project %s/%s already exists", ns, req.Name), http.StatusConflict)
			return
		}
		if s.projects[ns] == nil {
			s.projects[ns] = make(map[string]llamafarm.ProjectConfig)
		}
		cfg := llamafarm.ProjectConfig{Version: "v1", Name: req.Name, Namespace: ns}
		s.projects[ns][req.Name] = cfg
		writeJSON(w, http.StatusOK, llamafarm.ProjectResponse{Project: llamafarm.Project{Namespace: ns, Name: req.Name, Config: cfg}})

	case len(parts) == 2 && r.Method == http.MethodGet:
		cfg, ok := s.projects[ns][parts[1]]
		if !ok {
			http.Error(w, "project not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, llamafarm.ProjectResponse{Project: llamafarm.Project{Namespace: ns, Name: parts[1], Config: cfg}})

	case len(parts) == 2 && r.Method == http.MethodPut:
		if _, ok := s.projects[ns][parts[1]]; !ok {
			http.Error(w, "project not found", http.StatusNotFound)
			return
		}
		var req llamafarm.UpdateProjectRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid update request", http.StatusUnprocessableEntity)
			return
		}
		s.projects[ns][parts[1]] = req.Config
		writeJSON(w, http.StatusOK, llamafarm.ProjectResponse{Project: llamafarm.Project{Namespace: ns, Name: parts[1], Config: req.Config}})

	case len(parts) == 3 && parts[2] == "models" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"models": s.models})

	case len(parts) == 4 && parts[2] == "chat" && parts[3] == "completions" && r.Method == http.MethodPost:
		s.handleChat(w, body)

	default:
		http.NotFound(w, r)
	}
}

// handleChat answers with a canned completion. Called with s.mu held.
func (s *Server) handleChat(w http.ResponseWriter, body []byte) {
	var req llamafarm.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid chat request", http.StatusBadRequest)
		return
	}
	s.lastChat = &req

	if req.Stream {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for i, word := range strings.SplitAfter(s.reply, " ") {
			chunk := map[string]any{
				"id":      "chatcmpl-test",
				"object":  "chat.completion.chunk",
				"created": 1700000000,
				"model":   "qwen3-8b",
				"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": word}}},
			}
			if i == 0 {
				chunk["choices"] = []map[string]any{{"index": 0, "delta": map[string]any{"role": "assistant", "content": word}}}
			}
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-test\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		return
	}

	writeJSON(w, http.StatusOK, llamafarm.ChatResponse{
		ID:      "chatcmpl-test",
		Object:  "chat.completion",
		Created: 1700000000,
		Model:   "qwen3-8b",
		Choices: []llamafarm.Choice{{
			Index:        0,
			Message:      llamafarm.Message{Role: llamafarm.RoleAssistant, Content: s.reply},
			FinishReason: "stop",
		}},
		Usage: &llamafarm.Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
