package agentloop

// OpenAIProfile targets OpenAI models. Tool calls travel through gollm as
// JSON in the response text, so the preamble is stricter about format.
type OpenAIProfile struct {
	BaseProfile
}

// NewOpenAIProfile creates a profile for OpenAI models.
func NewOpenAIProfile(model string) *OpenAIProfile {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProfile{
		BaseProfile: BaseProfile{
			providerID:        "openai",
			model:             model,
			contextWindowSize: contextWindowFor(model, 128000),
			preamble:          openaiPreamble,
		},
	}
}

const openaiPreamble = `You are a code agent. You help the user understand, debug and test code, using the tools listed below to get facts instead of guessing.

Request exactly one tool per reply. When you request a tool, reply with the tool call only and no prose; the result comes back in the next message. When you have everything you need, answer in plain text.`
