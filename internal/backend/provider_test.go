package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect drains a fragment channel, returning the concatenated text and the first error
func collect(t *testing.T, ch <-chan Fragment) (string, error) {
	t.Helper()
	var sb strings.Builder
	for f := range ch {
		if f.Err != nil {
			return sb.String(), f.Err
		}
		sb.WriteString(f.Content)
	}
	return sb.String(), nil
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"openai", ProviderOpenAI, false},
		{"OpenAI", ProviderOpenAI, false},
		{"  ANTHROPIC ", ProviderAnthropic, false},
		{"Gemini", ProviderGemini, false},
		{"ollama", ProviderOllama, false},
		{"grok", "", true},
		{"", "", true},
		{"open-ai", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedProvider)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFactory_DefaultModels(t *testing.T) {
	f := NewFactory()

	for name, model := range DefaultModels {
		p, err := f.New(context.Background(), Config{Provider: strings.ToUpper(name)})
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
		assert.Equal(t, model, p.Model())
	}

	p, err := f.New(context.Background(), Config{Provider: "openai", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", p.Model())
}

func TestFactory_UnsupportedProviderMakesNoRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := NewFactory(WithBaseURL("openai", srv.URL))
	_, err := f.New(context.Background(), Config{Provider: "mistral", BaseURL: srv.URL})

	assert.ErrorIs(t, err, ErrUnsupportedProvider)
	assert.Equal(t, int32(0), hits.Load())
}

func TestWrapError(t *testing.T) {
	err := WrapError("openai", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrProviderTimeout)
	assert.NotErrorIs(t, err, ErrProviderUnavailable)

	err = WrapError("openai", errors.New("connection refused"))
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "openai", pe.Provider)

	assert.Same(t, err, WrapError("anthropic", err))
	assert.ErrorIs(t, WrapError("openai", context.Canceled), context.Canceled)
	assert.NoError(t, WrapError("openai", nil))
}

func TestSplitSystem(t *testing.T) {
	system, turns := splitSystem([]Message{{Role: RoleSystem, Content: "rules"}})
	assert.Equal(t, "rules", system)
	require.Len(t, turns, 1)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, kickoffPrompt, turns[0].Content)

	system, turns = splitSystem([]Message{
		{Role: RoleSystem, Content: "rules"},
		{Role: RoleAssistant, Content: "Question 1"},
		{Role: RoleUser, Content: "answer"},
	})
	assert.Equal(t, "rules", system)
	require.Len(t, turns, 3)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, RoleAssistant, turns[1].Role)

	_, turns = splitSystem([]Message{{Role: RoleUser, Content: "hi"}})
	require.Len(t, turns, 1)
	assert.Equal(t, "hi", turns[0].Content)
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.2","message":{"role":"assistant","content":"connected"},"done":true}`))
	}))
	defer srv.Close()

	f := NewFactory()
	res := f.TestConnection(context.Background(), Config{Provider: "ollama", BaseURL: srv.URL})
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "connected", res.Response)
	assert.Equal(t, "llama3.2", res.Model)

	res = f.TestConnection(context.Background(), Config{Provider: "nope"})
	assert.Equal(t, "error", res.Status)
	assert.Contains(t, res.Error, "unsupported")
}
