// Package provider registers LlamaFarm as a model provider with the
// agent host. Its single auth method asks for the server and project,
// checks the server's health and hands back the host configuration
// that routes the chosen model to the project's chat endpoint.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/farmlink/internal/llamafarm"
)

// Provider identity as seen by the host.
const (
	ID       = "llamafarm"
	Label    = "LlamaFarm"
	DocsPath = "/providers/models"

	// AuthLocal is the id of the only auth method.
	AuthLocal = "local"

	// NoAuthToken is the placeholder credential. LlamaFarm does not
	// require authentication by default.
	NoAuthToken = "n/a"
)

// Aliases are alternative names the host accepts for the provider.
var Aliases = []string{"llama-farm", "lf"}

// Defaults seed the auth prompts.
type Defaults struct {
	ServerURL string
	Identity  llamafarm.Identity
	ModelName string
}

// TextPrompt asks for one line of text. Validate returns a message
// describing what is wrong, or "" when the value is acceptable.
type TextPrompt struct {
	Message  string
	Initial  string
	Validate func(string) string
}

// Prompter collects input from the user. Implementations should
// re-ask while Validate rejects the value.
type Prompter interface {
	Text(ctx context.Context, p TextPrompt) (string, error)
}

// Credential is a stored secret for the provider.
type Credential struct {
	Type     string `json:"type"`
	Provider string `json:"provider"`
	Token    string `json:"token"`
}

// Profile is a named credential.
type Profile struct {
	ProfileID  string     `json:"profileId"`
	Credential Credential `json:"credential"`
}

// ConfigPatch is merged into the host configuration.
type ConfigPatch struct {
	Models struct {
		Providers map[string]Settings `json:"providers"`
	} `json:"models"`
	Agents struct {
		Defaults struct {
			Models map[string]struct{} `json:"models"`
		} `json:"defaults"`
	} `json:"agents"`
}

// AuthResult is what a successful auth flow hands to the host.
type AuthResult struct {
	Profiles     []Profile   `json:"profiles"`
	ConfigPatch  ConfigPatch `json:"configPatch"`
	DefaultModel string      `json:"defaultModel"`
	Notes        []string    `json:"notes"`
}

// AuthMethod is one way of configuring the provider.
type AuthMethod struct {
	ID    string
	Label string
	Hint  string
	Kind  string
	Run   func(ctx context.Context, p Prompter) (*AuthResult, error)
}

// Provider is the registration record handed to the host.
type Provider struct {
	ID       string
	Label    string
	DocsPath string
	Aliases  []string
	Auth     []AuthMethod

	defaults   Defaults
	logger     *slog.Logger
	clientOpts []llamafarm.Option
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger used by the health probe.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithClientOptions passes options to the client used for the health
// probe during auth.
func WithClientOptions(opts ...llamafarm.Option) Option {
	return func(p *Provider) { p.clientOpts = append(p.clientOpts, opts...) }
}

// New creates the provider record. Blank defaults fall back to the
// package-level LlamaFarm defaults.
func New(defaults Defaults, opts ...Option) *Provider {
	if strings.TrimSpace(defaults.ServerURL) == "" {
		defaults.ServerURL = llamafarm.DefaultServerURL
	}
	p := &Provider{
		ID:       ID,
		Label:    Label,
		DocsPath: DocsPath,
		Aliases:  append([]string(nil), Aliases...),
		defaults: defaults,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	p.Auth = []AuthMethod{{
		ID:    AuthLocal,
		Label: "Local LlamaFarm Server",
		Hint:  "Connect to a running LlamaFarm server",
		Kind:  "custom",
		Run:   p.runLocalAuth,
	}}
	return p
}

// Method returns the auth method with the given id, or nil.
func (p *Provider) Method(id string) *AuthMethod {
	for i := range p.Auth {
		if p.Auth[i].ID == id {
			return &p.Auth[i]
		}
	}
	return nil
}

// ModelRef is the host's reference for a model served by this provider.
func ModelRef(model string) string {
	return ID + "/" + model
}

func validateServerURL(v string) string {
	if err := llamafarm.ValidateBaseURL(llamafarm.NormalizeBaseURL(v)); err != nil {
		return "Enter a valid URL"
	}
	return ""
}

func required(what string) func(string) string {
	return func(v string) string {
		if strings.TrimSpace(v) == "" {
			return "Enter a " + what
		}
		return ""
	}
}

// validName accepts a namespace or project name that can stand as a
// single path segment. Surrounding whitespace is trimmed later.
func validName(what string) func(string) string {
	return func(v string) string {
		if strings.TrimSpace(v) == "" {
			return "Enter a " + what
		}
		if err := llamafarm.ValidateName(what, strings.TrimSpace(v)); err != nil {
			return err.Error()
		}
		return ""
	}
}

// ask runs one prompt and re-checks the answer, so a prompter that
// skips validation cannot smuggle in a bad value.
func ask(ctx context.Context, pr Prompter, tp TextPrompt) (string, error) {
	v, err := pr.Text(ctx, tp)
	if err != nil {
		return "", fmt.Errorf("%s: %w", strings.ToLower(tp.Message), err)
	}
	if msg := tp.Validate(v); msg != "" {
		return "", errors.New(msg)
	}
	return v, nil
}

func (p *Provider) runLocalAuth(ctx context.Context, pr Prompter) (*AuthResult, error) {
	serverIn, err := ask(ctx, pr, TextPrompt{Message: "LlamaFarm server URL", Initial: p.defaults.ServerURL, Validate: validateServerURL})
	if err != nil {
		return nil, err
	}
	nsIn, err := ask(ctx, pr, TextPrompt{Message: "LlamaFarm namespace", Initial: p.defaults.Identity.Namespace, Validate: validName("namespace")})
	if err != nil {
		return nil, err
	}
	projectIn, err := ask(ctx, pr, TextPrompt{Message: "LlamaFarm project name", Initial: p.defaults.Identity.Project, Validate: validName("project name")})
	if err != nil {
		return nil, err
	}
	modelIn, err := ask(ctx, pr, TextPrompt{Message: "Model name", Initial: p.defaults.ModelName, Validate: required("model name")})
	if err != nil {
		return nil, err
	}

	serverURL := llamafarm.NormalizeBaseURL(serverIn)
	id := llamafarm.Identity{Namespace: strings.TrimSpace(nsIn), Project: strings.TrimSpace(projectIn)}
	model := strings.TrimSpace(modelIn)
	ref := ModelRef(model)

	healthNote := fmt.Sprintf("Server is healthy at %s", serverURL)
	client := llamafarm.NewClient(serverURL, id, p.logger, p.clientOpts...)
	if !client.IsHealthy(ctx) {
		healthNote = fmt.Sprintf("Warning: Server at %s is not responding", serverURL)
	}

	settings := BuildSettings(serverURL, id, model)
	settings.APIKey = NoAuthToken

	res := &AuthResult{
		Profiles: []Profile{{
			ProfileID:  ID + ":" + AuthLocal,
			Credential: Credential{Type: "token", Provider: ID, Token: NoAuthToken},
		}},
		DefaultModel: ref,
		Notes: []string{
			healthNote,
			fmt.Sprintf("Configured to use %s project", id),
			"LlamaFarm serves local models such as Qwen and Llama.",
			fmt.Sprintf("Pass %s and %s through the variables field for dynamic prompts.",
				llamafarm.VarSystemPrompt, llamafarm.VarToolsContext),
		},
	}
	res.ConfigPatch.Models.Providers = map[string]Settings{ID: settings}
	res.ConfigPatch.Agents.Defaults.Models = map[string]struct{}{ref: {}}
	return res, nil
}
