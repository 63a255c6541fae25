// Package llamafarm is a thin client for the LlamaFarm model server:
// health checks, project CRUD and OpenAI-compatible chat completions.
//
// Every method is one request/response round trip. The client holds no
// cache and never retries; a non-2xx answer or a failed connection
// comes back as a *TransportError. IsHealthy and ProjectExists are the
// two exceptions, collapsing any failure to false so callers can gate
// on them without error handling.
package llamafarm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/nugget/farmlink/internal/httpkit"
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 8 << 10

// Client talks to one project on one LlamaFarm server. Its fields are
// set at construction and never change, so a Client is safe to share.
type Client struct {
	baseURL    string
	id         Identity
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default httpkit client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the project id on the server at
// serverURL. The URL is normalized (trailing slashes removed, blank
// becomes DefaultServerURL).
func NewClient(serverURL string, id Identity, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: NormalizeBaseURL(serverURL),
		id:      id,
		logger:  logger,
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = httpkit.NewClient()
	}
	return c
}

// BaseURL returns the normalized server address.
func (c *Client) BaseURL() string { return c.baseURL }

// Identity returns the project this client targets.
func (c *Client) Identity() Identity { return c.id }

// ChatEndpoint returns the full chat completions URL for the project.
func (c *Client) ChatEndpoint() string {
	return c.projectURL() + "/chat/completions"
}

func (c *Client) namespaceURL() string {
	return c.baseURL + "/v1/projects/" + url.PathEscape(c.id.Namespace)
}

func (c *Client) projectURL() string {
	return BuildChatEndpoint(c.baseURL, url.PathEscape(c.id.Namespace), url.PathEscape(c.id.Project))
}

// Health fetches the server health payload.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, "health check", http.MethodGet, c.baseURL+"/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IsHealthy reports whether the server is reachable and says it is
// healthy. It never fails: an unreachable server and an unhealthy one
// both read as false.
func (c *Client) IsHealthy(ctx context.Context) bool {
	h, err := c.Health(ctx)
	if err != nil {
		c.logger.Debug("llamafarm health probe failed", "server", c.baseURL, "error", err)
		return false
	}
	if h.Status != StatusHealthy {
		c.logger.Debug("llamafarm reports unhealthy", "server", c.baseURL, "status", h.Status, "summary", h.Summary)
		return false
	}
	return true
}

// ListProjects lists every project in the client's namespace.
func (c *Client) ListProjects(ctx context.Context) (*ProjectList, error) {
	var out ProjectList
	if err := c.do(ctx, "list projects", http.MethodGet, c.namespaceURL(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProjectExists reports whether the project appears in the namespace
// listing. Any failure reads as false: not knowing is treated as
// absent, since the caller's next step (create) is safe to attempt.
func (c *Client) ProjectExists(ctx context.Context) bool {
	list, err := c.ListProjects(ctx)
	if err != nil {
		c.logger.Debug("llamafarm project listing failed", "project", c.id.String(), "error", err)
		return false
	}
	for _, p := range list.Projects {
		if p.Name == c.id.Project {
			return true
		}
	}
	return false
}

// GetProject fetches the project and its current configuration.
func (c *Client) GetProject(ctx context.Context) (*ProjectResponse, error) {
	var out ProjectResponse
	if err := c.do(ctx, "get project", http.MethodGet, c.projectURL(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateProject creates a project in the client's namespace from a
// named starter template. Fails if the project already exists.
func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (*ProjectResponse, error) {
	var out ProjectResponse
	if err := c.do(ctx, "create project", http.MethodPost, c.namespaceURL(), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProject replaces the project's configuration. The response
// echoes the stored config.
func (c *Client) UpdateProject(ctx context.Context, cfg ProjectConfig) (*ProjectResponse, error) {
	var out ProjectResponse
	if err := c.do(ctx, "update project", http.MethodPut, c.projectURL(), UpdateProjectRequest{Config: cfg}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListModels returns the model names the project can route to.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var out struct {
		Models []string `json:"models"`
	}
	if err := c.do(ctx, "list models", http.MethodGet, c.projectURL()+"/models", nil, &out); err != nil {
		return nil, err
	}
	if out.Models == nil {
		return []string{}, nil
	}
	return out.Models, nil
}

// Chat sends a chat completion request as given. Use ChatWithDefaults
// for requests coming from the agent, which must not enable RAG.
//
// When req.Stream is set the server answers with server-sent events;
// Chat collects them into a single response. Use ChatStream to see
// tokens as they arrive.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return c.ChatStream(ctx, req, nil)
}

// StreamCallback receives content deltas from a streamed completion.
type StreamCallback func(token string)

// ChatStream is Chat with a token callback. The callback is only
// invoked when req.Stream is true.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, callback StreamCallback) (*ChatResponse, error) {
	const op = "chat request"
	endpoint := c.ChatEndpoint()

	resp, err := c.send(ctx, op, http.MethodPost, endpoint, req)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if !req.Stream {
		var out ChatResponse
		if err := c.decode(ctx, resp, &out); err != nil {
			return nil, &TransportError{Op: op, Method: http.MethodPost, URL: endpoint, StatusCode: resp.StatusCode, Err: err}
		}
		return &out, nil
	}

	out, err := readEventStream(resp.Body, callback)
	if err != nil {
		return nil, &TransportError{Op: op, Method: http.MethodPost, URL: endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	return out, nil
}

// do performs a JSON round trip and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, op, method, endpoint string, in, out any) error {
	resp, err := c.send(ctx, op, method, endpoint, in)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if err := c.decode(ctx, resp, out); err != nil {
		return &TransportError{Op: op, Method: method, URL: endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

// send issues the request and returns the response only for 2xx
// statuses. Anything else is a *TransportError with the body attached.
func (c *Client) send(ctx context.Context, op, method, endpoint string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		c.logger.Log(ctx, LevelTrace, "llamafarm request", "op", op, "method", method, "url", endpoint, "body", string(payload))
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &TransportError{Op: op, Method: method, URL: endpoint, Err: err}
	}
	accept := "application/json"
	if r, ok := in.(ChatRequest); ok && r.Stream {
		accept = "text/event-stream"
	}
	httpReq.Header.Set("Accept", accept)
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: op, Method: method, URL: endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := httpkit.ReadErrorBody(resp.Body, maxErrorBody)
		c.logger.Debug("llamafarm request failed",
			"op", op,
			"status", resp.StatusCode,
			"body", text,
		)
		return nil, &TransportError{
			Op:         op,
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(text),
		}
	}
	return resp, nil
}

func (c *Client) decode(ctx context.Context, resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "llamafarm response", "status", resp.StatusCode, "body", string(data))
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New("empty response body")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// streamChunk is one server-sent event of a streamed completion.
type streamChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

// readEventStream folds an SSE completion stream ("data: {...}" lines
// terminated by "data: [DONE]") into a single ChatResponse.
func readEventStream(r io.Reader, callback StreamCallback) (*ChatResponse, error) {
	out := &ChatResponse{Object: "chat.completion"}
	var content strings.Builder
	role := RoleAssistant
	finish := ""

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		if out.ID == "" {
			out.ID, out.Created, out.Model = chunk.ID, chunk.Created, chunk.Model
		}
		if chunk.Usage != nil {
			out.Usage = chunk.Usage
		}
		for _, ch := range chunk.Choices {
			if ch.Index != 0 {
				continue
			}
			if ch.Delta.Role != "" {
				role = ch.Delta.Role
			}
			if ch.Delta.Content != "" {
				content.WriteString(ch.Delta.Content)
				if callback != nil {
					callback(ch.Delta.Content)
				}
			}
			if ch.FinishReason != nil {
				finish = *ch.FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	if out.ID == "" && content.Len() == 0 {
		return nil, errors.New("empty completion stream")
	}

	out.Choices = []Choice{{
		Index:        0,
		Message:      Message{Role: role, Content: content.String()},
		FinishReason: finish,
	}}
	return out, nil
}
