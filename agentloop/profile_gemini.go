package agentloop

// GeminiProfile targets Gemini models through the native function-calling API.
type GeminiProfile struct {
	BaseProfile
}

// NewGeminiProfile creates a profile for Gemini models.
func NewGeminiProfile(model string) *GeminiProfile {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiProfile{
		BaseProfile: BaseProfile{
			providerID:        "gemini",
			model:             model,
			contextWindowSize: contextWindowFor(model, 1048576),
			preamble:          geminiPreamble,
		},
	}
}

const geminiPreamble = `You are a code agent with real tool access and live awareness of the file the user is working on. You analyze code, find bugs, read and search source files, generate tests, and answer factual questions by calling the declared functions.

Call at most one function per turn. After each function response, decide whether another call is needed or whether you can answer.`
