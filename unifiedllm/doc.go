// Package unifiedllm is the model-service boundary used by the agent loop. It
// presents one request/response shape over several providers: Gemini through
// the Google Gen AI SDK (google.golang.org/genai) and everything else through
// gollm (github.com/teilomillet/gollm).
//
// # Layers
//
//   - ProviderAdapter and the shared Message/Request/Response types
//   - Retry with exponential backoff and per-attempt deadlines
//   - ClassifyProviderError and ErrorFromStatusCode for typed errors
//   - Client: provider routing by name or model catalog, plus middleware
//   - Generate and GenerateObject for single-shot calls
//
// # Quick Start
//
//	adapter, _ := unifiedllm.NewGeminiAdapter(ctx, os.Getenv("GEMINI_API_KEY"))
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("gemini", adapter),
//	    unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logger)),
//	)
//
//	resp, _ := client.Complete(ctx, unifiedllm.Request{
//	    Model:    "gemini-2.5-flash",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	fmt.Println(resp.Text())
//
// # Tool Calls
//
// Tools are described with ToolDefinition (JSON Schema parameters). The
// package never executes tools; a response carrying tool calls is returned to
// the caller, which appends ToolCallMessage and ToolResultMessage turns and
// calls Complete again.
//
// # Structured Output
//
// GenerateObject asks for JSON, strips a surrounding code fence and validates
// the result against the supplied schema:
//
//	res, err := unifiedllm.GenerateObject(ctx, opts, schema)
//	report := res.Output.(map[string]any)
package unifiedllm
