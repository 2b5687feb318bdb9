package unifiedllm

import "strings"

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID                   string   `json:"id"`
	Provider             string   `json:"provider"`
	DisplayName          string   `json:"display_name"`
	ContextWindow        int      `json:"context_window"`
	MaxOutput            *int     `json:"max_output,omitempty"`
	SupportsTools        bool     `json:"supports_tools"`
	SupportsReasoning    bool     `json:"supports_reasoning"`
	InputCostPerMillion  *float64 `json:"input_cost_per_million,omitempty"`
	OutputCostPerMillion *float64 `json:"output_cost_per_million,omitempty"`
	Aliases              []string `json:"aliases,omitempty"`
}

func intPtr(v int) *int             { return &v }
func floatPtr(v float64) *float64   { return &v }

// Models is the built-in model catalog. The first entry per provider is the
// default for that provider.
var Models = []ModelInfo{
	// Gemini
	{
		ID: "gemini-2.5-flash", Provider: "gemini", DisplayName: "Gemini 2.5 Flash",
		ContextWindow: 1048576, MaxOutput: intPtr(65536),
		SupportsTools: true, SupportsReasoning: true,
		InputCostPerMillion: floatPtr(0.30), OutputCostPerMillion: floatPtr(2.50),
		Aliases: []string{"gemini-flash", "flash"},
	},
	{
		ID: "gemini-2.5-pro", Provider: "gemini", DisplayName: "Gemini 2.5 Pro",
		ContextWindow: 1048576, MaxOutput: intPtr(65536),
		SupportsTools: true, SupportsReasoning: true,
		InputCostPerMillion: floatPtr(1.25), OutputCostPerMillion: floatPtr(10.0),
		Aliases: []string{"gemini-pro"},
	},
	{
		ID: "gemini-2.0-flash", Provider: "gemini", DisplayName: "Gemini 2.0 Flash",
		ContextWindow: 1048576, MaxOutput: intPtr(8192),
		SupportsTools: true,
		InputCostPerMillion: floatPtr(0.10), OutputCostPerMillion: floatPtr(0.40),
	},

	// OpenAI
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o mini",
		ContextWindow: 128000, MaxOutput: intPtr(16384),
		SupportsTools: true,
		InputCostPerMillion: floatPtr(0.15), OutputCostPerMillion: floatPtr(0.60),
		Aliases: []string{"4o-mini"},
	},
	{
		ID: "gpt-4.1", Provider: "openai", DisplayName: "GPT-4.1",
		ContextWindow: 1047576, MaxOutput: intPtr(32768),
		SupportsTools: true,
		InputCostPerMillion: floatPtr(2.0), OutputCostPerMillion: floatPtr(8.0),
	},

	// Anthropic
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: intPtr(16384),
		SupportsTools: true, SupportsReasoning: true,
		InputCostPerMillion: floatPtr(3.0), OutputCostPerMillion: floatPtr(15.0),
		Aliases: []string{"sonnet", "claude-sonnet"},
	},
	{
		ID: "claude-haiku-4-5", Provider: "anthropic", DisplayName: "Claude Haiku 4.5",
		ContextWindow: 200000, MaxOutput: intPtr(8192),
		SupportsTools: true,
		InputCostPerMillion: floatPtr(1.0), OutputCostPerMillion: floatPtr(5.0),
		Aliases: []string{"haiku"},
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
// Matching is case-insensitive on IDs and aliases.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if strings.EqualFold(Models[i].ID, modelID) {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if strings.EqualFold(alias, modelID) {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}

// EstimateCost prices u at the catalog rates for model, in US dollars. ok is
// false when the model has no published rates.
func EstimateCost(model string, u Usage) (cost float64, ok bool) {
	info := GetModelInfo(model)
	if info == nil || info.InputCostPerMillion == nil || info.OutputCostPerMillion == nil {
		return 0, false
	}
	in := float64(u.InputTokens) * *info.InputCostPerMillion
	out := float64(u.OutputTokens) * *info.OutputCostPerMillion
	return (in + out) / 1e6, true
}

// GetLatestModel returns the first model for a provider, optionally filtered
// by capability ("tools" or "reasoning").
func GetLatestModel(provider string, capability string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider != provider {
			continue
		}
		switch capability {
		case "":
			return &Models[i]
		case "tools":
			if Models[i].SupportsTools {
				return &Models[i]
			}
		case "reasoning":
			if Models[i].SupportsReasoning {
				return &Models[i]
			}
		}
	}
	return nil
}
