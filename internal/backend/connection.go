package backend

import "context"

const connectionPrompt = "Say 'connected' in one word."

// ConnectionResult reports the outcome of a connectivity probe
type ConnectionResult struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TestConnection issues one short prompt and reports success or the failure text.
// It never returns an error; failures are described in the result.
func (f *Factory) TestConnection(ctx context.Context, cfg Config) ConnectionResult {
	p, err := f.New(ctx, cfg)
	if err != nil {
		return ConnectionResult{Status: "error", Provider: cfg.Provider, Error: err.Error()}
	}

	reply, err := p.Invoke(ctx, []Message{{Role: RoleUser, Content: connectionPrompt}})
	if err != nil {
		return ConnectionResult{Status: "error", Provider: cfg.Provider, Model: p.Model(), Error: err.Error()}
	}

	if r := []rune(reply); len(r) > 100 {
		reply = string(r[:100])
	}
	return ConnectionResult{Status: "success", Provider: cfg.Provider, Model: p.Model(), Response: reply}
}
