package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGemini_Invoke(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-2.0-flash:generateContent"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Question 1 of 3"}]}}]}`))
	}))
	defer srv.Close()

	p, err := NewFactory(WithBaseURL(ProviderGemini, srv.URL)).New(context.Background(), Config{
		Provider: "gemini",
		APIKey:   "g-test",
	})
	require.NoError(t, err)

	reply, err := p.Invoke(context.Background(), []Message{{Role: RoleSystem, Content: "rules"}})
	require.NoError(t, err)
	assert.Equal(t, "Question 1 of 3", reply)

	assert.Contains(t, body, "systemInstruction")
	contents, ok := body["contents"].([]any)
	require.True(t, ok)
	require.Len(t, contents, 1)
}

func TestGemini_UpstreamErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	}))
	defer srv.Close()

	p, err := NewFactory(WithBaseURL(ProviderGemini, srv.URL)).New(context.Background(), Config{
		Provider: "gemini",
		APIKey:   "bad",
	})
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}
