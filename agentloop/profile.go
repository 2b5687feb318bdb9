package agentloop

import (
	"fmt"
	"strings"

	"github.com/martinemde/synapse/unifiedllm"
)

// ProviderProfile binds a model to the system instruction that suits its
// provider.
type ProviderProfile interface {
	// ID returns the provider name used for client routing ("gemini", "openai", "anthropic").
	ID() string

	// ModelID returns the model identifier sent with every request.
	ModelID() string

	// BuildSystemPrompt assembles the system instruction from the workspace,
	// the tools on offer and any project instruction files.
	BuildSystemPrompt(ws *Workspace, tools []ToolDescriptor, projectDocs string) string

	ContextWindowSize() int
}

// BaseProfile provides common profile fields and the shared prompt layout.
type BaseProfile struct {
	providerID        string
	model             string
	contextWindowSize int
	preamble          string
}

func (p *BaseProfile) ID() string             { return p.providerID }
func (p *BaseProfile) ModelID() string        { return p.model }
func (p *BaseProfile) ContextWindowSize() int { return p.contextWindowSize }

// BuildSystemPrompt lays out preamble, agent rules, environment, tools and
// project instructions in that order.
func (p *BaseProfile) BuildSystemPrompt(ws *Workspace, tools []ToolDescriptor, projectDocs string) string {
	var sb strings.Builder

	sb.WriteString(p.preamble)
	sb.WriteString("\n\n")
	sb.WriteString(agentRules)
	sb.WriteString("\n\n")

	if ws != nil {
		sb.WriteString(BuildEnvironmentContext(ws, p.model))
		sb.WriteString("\n\n")
	}

	if len(tools) > 0 {
		sb.WriteString("# Available Tools\n\n")
		for _, t := range tools {
			fmt.Fprintf(&sb, "## %s(%s)\n%s\n\n", t.Name, strings.Join(t.Parameters.PropertyNames(), ", "), t.Description)
		}
	}

	if projectDocs != "" {
		sb.WriteString("# Project Instructions\n\n")
		sb.WriteString(projectDocs)
		sb.WriteString("\n\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

// ProfileFor returns the profile for provider. An empty model picks the
// catalog's latest tool-capable model; an empty provider is inferred from
// the model.
func ProfileFor(provider, model string) (ProviderProfile, error) {
	if provider == "" && model != "" {
		if info := unifiedllm.GetModelInfo(model); info != nil {
			provider = info.Provider
		}
	}
	if provider == "" {
		provider = "gemini"
	}
	if model == "" {
		if info := unifiedllm.GetLatestModel(provider, "tools"); info != nil {
			model = info.ID
		}
	} else if info := unifiedllm.GetModelInfo(model); info != nil {
		model = info.ID
	}

	switch provider {
	case "gemini":
		return NewGeminiProfile(model), nil
	case "openai":
		return NewOpenAIProfile(model), nil
	case "anthropic":
		return NewAnthropicProfile(model), nil
	default:
		return nil, fmt.Errorf("no profile for provider %q", provider)
	}
}

func contextWindowFor(model string, fallback int) int {
	if info := unifiedllm.GetModelInfo(model); info != nil && info.ContextWindow > 0 {
		return info.ContextWindow
	}
	return fallback
}

const agentRules = `# How You Work

- If the user message starts with [CURRENT FILE CONTEXT], you have the full content of that file. "This file", "this code" and "here" refer to it. Never ask the user to paste it.
- If the message contains [AUTOMATIC FILE CHANGE DETECTION], the file changed since the last turn. Look at what was modified before answering.
- Use tools whenever they give accurate data: arithmetic, prices, file contents, search results. Never invent file contents or tool output.
- When the user asks about bugs or errors, call detect_bugs on the code rather than guessing.
- Chain tools when one result feeds the next, e.g. read_code_file, then analyze_code, then generate_tests.
- If a tool returns an error, say so and try a different approach.
- Explain tool results in plain language. For bugs give the line, the severity and a corrected snippet.`
