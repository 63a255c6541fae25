package reconcile

import "github.com/nugget/farmlink/internal/llamafarm"

// Fixed parts of the desired project template.
const (
	ConfigVersion    = "v1"
	RuntimeProvider  = "universal"
	RuntimeModel     = "unsloth/Qwen3-1.7B-GGUF:Q4_K_M"
	ToolCallStrategy = "native_api"
	DefaultPrompt    = "default"

	// SystemPromptTemplate lets chat requests replace the system prompt
	// through the system_prompt variable, with a fallback when unset.
	SystemPromptTemplate = "{{system_prompt | You are a helpful AI assistant.}}"
)

// DesiredConfig returns the complete project configuration farmlink
// maintains for id, parameterized only by the model name. RAG is not
// configured here; chat requests disable it per call.
func DesiredConfig(id llamafarm.Identity, modelName string) llamafarm.ProjectConfig {
	return llamafarm.ProjectConfig{
		Version:   ConfigVersion,
		Name:      id.Project,
		Namespace: id.Namespace,
		Runtime: &llamafarm.RuntimeConfig{
			Models: []llamafarm.RuntimeModel{{
				Name:             modelName,
				Provider:         RuntimeProvider,
				Model:            RuntimeModel,
				Default:          true,
				Prompts:          []string{DefaultPrompt},
				ToolCallStrategy: ToolCallStrategy,
			}},
		},
		Prompts: []llamafarm.Prompt{{
			Name: DefaultPrompt,
			Messages: []llamafarm.PromptMessage{{
				Role:    llamafarm.RoleSystem,
				Content: SystemPromptTemplate,
			}},
		}},
	}
}
