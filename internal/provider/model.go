package provider

import "github.com/nugget/farmlink/internal/llamafarm"

// Model catalog defaults for LlamaFarm-served models.
const (
	DefaultContextWindow = 32_000
	DefaultMaxTokens     = 8192

	// API is the host's wire protocol name for OpenAI-style completions.
	API = "openai-completions"
)

// Cost is per-token pricing. Local inference is free.
type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
}

// ModelDefinition describes one model in the host's model catalog.
type ModelDefinition struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	API           string   `json:"api"`
	Reasoning     bool     `json:"reasoning"`
	Input         []string `json:"input"`
	Cost          Cost     `json:"cost"`
	ContextWindow int      `json:"contextWindow"`
	MaxTokens     int      `json:"maxTokens"`
}

// BuildModelDefinition returns the catalog entry for modelID. A
// contextWindow of 0 uses DefaultContextWindow.
func BuildModelDefinition(modelID string, contextWindow int) ModelDefinition {
	if contextWindow <= 0 {
		contextWindow = DefaultContextWindow
	}
	return ModelDefinition{
		ID:            modelID,
		Name:          modelID,
		API:           API,
		Reasoning:     false,
		Input:         []string{"text"},
		ContextWindow: contextWindow,
		MaxTokens:     DefaultMaxTokens,
	}
}

// Settings is the host's provider entry under models.providers.
type Settings struct {
	BaseURL    string            `json:"baseUrl"`
	APIKey     string            `json:"apiKey,omitempty"`
	API        string            `json:"api"`
	AuthHeader bool              `json:"authHeader"`
	Models     []ModelDefinition `json:"models"`
}

// BuildSettings returns the provider entry routing modelID to the
// project at serverURL. LlamaFarm needs no auth header by default.
func BuildSettings(serverURL string, id llamafarm.Identity, modelID string) Settings {
	return Settings{
		BaseURL:    llamafarm.BuildChatEndpoint(llamafarm.NormalizeBaseURL(serverURL), id.Namespace, id.Project),
		API:        API,
		AuthHeader: false,
		Models:     []ModelDefinition{BuildModelDefinition(modelID, 0)},
	}
}
