package unifiedllm

import "context"

// ProviderAdapter translates unified requests into one provider's API.
type ProviderAdapter interface {
	// Name is the key the client routes on: "gemini", "openai" or "anthropic".
	Name() string

	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by adapters that hold connections. Client.Close
// calls it for every registered adapter.
type Closer interface {
	Close() error
}

// AdapterFunc turns a function into a ProviderAdapter registered under
// Provider.
type AdapterFunc struct {
	Provider string
	Fn       func(ctx context.Context, req Request) (*Response, error)
}

func (a AdapterFunc) Name() string { return a.Provider }

func (a AdapterFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return a.Fn(ctx, req)
}
