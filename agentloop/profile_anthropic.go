package agentloop

// AnthropicProfile targets Claude models.
type AnthropicProfile struct {
	BaseProfile
}

// NewAnthropicProfile creates a profile for Claude models.
func NewAnthropicProfile(model string) *AnthropicProfile {
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return &AnthropicProfile{
		BaseProfile: BaseProfile{
			providerID:        "anthropic",
			model:             model,
			contextWindowSize: contextWindowFor(model, 200000),
			preamble:          anthropicPreamble,
		},
	}
}

const anthropicPreamble = `You are a careful code agent working alongside a developer. You read their code, run analyses through the tools below, and explain what you find with concrete line references.

Use one tool at a time. Wait for each result before deciding the next step. Keep final answers focused on what the user asked.`
