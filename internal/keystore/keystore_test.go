package keystore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InterviewPrep/internal/backend"
	"InterviewPrep/internal/storage"
)

func newTestKeystore(t *testing.T, secret string) (*Keystore, *storage.Store) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "keys.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ks, err := Open(context.Background(), db, secret, WithIterations(1000))
	require.NoError(t, err)
	return ks, db
}

func TestEncryptDecrypt(t *testing.T) {
	ks, _ := newTestKeystore(t, "test-secret")

	enc, err := ks.Encrypt("sk-live-1234567890")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enc, EncryptedPrefix))
	assert.NotContains(t, enc, "sk-live")

	again, err := ks.Encrypt("sk-live-1234567890")
	require.NoError(t, err)
	assert.NotEqual(t, enc, again, "nonce must differ per encryption")

	plain, err := ks.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-1234567890", plain)

	plain, err = ks.Decrypt("legacy-plain")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plain", plain)

	empty, err := ks.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSaltPersistsAcrossOpens(t *testing.T) {
	ks, db := newTestKeystore(t, "test-secret")
	enc, err := ks.Encrypt("value")
	require.NoError(t, err)

	reopened, err := Open(context.Background(), db, "test-secret", WithIterations(1000))
	require.NoError(t, err)
	plain, err := reopened.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "value", plain)

	wrong, err := Open(context.Background(), db, "other-secret", WithIterations(1000))
	require.NoError(t, err)
	_, err = wrong.Decrypt(enc)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestOpen_EmptySecret(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "keys.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = Open(context.Background(), db, "")
	assert.Error(t, err)
}

func TestSettingsDefaults(t *testing.T) {
	ks, _ := newTestKeystore(t, "s")

	s, err := ks.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gemini", s.PreferredProvider)
	assert.Equal(t, backend.DefaultOllamaURL, s.OllamaBaseURL)
	assert.False(t, s.HasOpenAIKey)
}

func TestApply(t *testing.T) {
	ks, db := newTestKeystore(t, "s")
	ctx := context.Background()

	provider, model := "OpenAI", "gpt-4o"
	key, ollama := "sk-abcdefghijklmnop", "http://gpu-box:11434/"
	s, err := ks.Apply(ctx, Update{
		PreferredProvider: &provider,
		PreferredModel:    &model,
		OpenAIAPIKey:      &key,
		OllamaBaseURL:     &ollama,
	})
	require.NoError(t, err)
	assert.Equal(t, "openai", s.PreferredProvider)
	assert.Equal(t, "gpt-4o", s.PreferredModel)
	assert.True(t, s.HasOpenAIKey)
	assert.False(t, s.HasAnthropicKey)
	assert.Equal(t, "http://gpu-box:11434", s.OllamaBaseURL)

	ps, err := db.ProviderSetting(ctx, "openai")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ps.APIKey, EncryptedPrefix))

	got, err := ks.APIKey(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	empty := ""
	s, err = ks.Apply(ctx, Update{OpenAIAPIKey: &empty})
	require.NoError(t, err)
	assert.False(t, s.HasOpenAIKey)

	bad := "mistral"
	_, err = ks.Apply(ctx, Update{PreferredProvider: &bad})
	assert.ErrorIs(t, err, backend.ErrUnsupportedProvider)
}

func TestPreviewAndDelete(t *testing.T) {
	ks, _ := newTestKeystore(t, "s")
	ctx := context.Background()

	_, err := ks.Preview(ctx, "anthropic")
	assert.ErrorIs(t, err, ErrNoKey)

	require.NoError(t, ks.SetAPIKey(ctx, "anthropic", "sk-ant-api03-secretvalue"))
	p, err := ks.Preview(ctx, "anthropic")
	require.NoError(t, err)
	assert.True(t, p.HasKey)
	assert.Equal(t, "sk-ant-a...alue", p.KeyPreview)

	p, err = ks.Preview(ctx, "ollama")
	require.NoError(t, err)
	assert.Equal(t, backend.DefaultOllamaURL, p.BaseURL)

	require.NoError(t, ks.DeleteKey(ctx, "anthropic"))
	_, err = ks.APIKey(ctx, "anthropic")
	assert.ErrorIs(t, err, ErrNoKey)

	assert.ErrorIs(t, ks.DeleteKey(ctx, "grok"), backend.ErrUnsupportedProvider)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "***", Mask("short"))
	assert.Equal(t, "***", Mask("exactly12chr"))
	assert.Equal(t, "abcdefgh...mnop", Mask("abcdefghijklmnop"))
}

func TestResolve(t *testing.T) {
	ks, _ := newTestKeystore(t, "s")
	ctx := context.Background()

	require.NoError(t, ks.SetAPIKey(ctx, "openai", "sk-stored-key-1234"))
	base := "http://ollama.internal:11434"
	_, err := ks.Apply(ctx, Update{OllamaBaseURL: &base})
	require.NoError(t, err)

	cfg := ks.Resolve(ctx, backend.Config{Provider: "openai"})
	assert.Equal(t, "sk-stored-key-1234", cfg.APIKey)

	cfg = ks.Resolve(ctx, backend.Config{Provider: "openai", APIKey: "sk-request"})
	assert.Equal(t, "sk-request", cfg.APIKey)

	cfg = ks.Resolve(ctx, backend.Config{Provider: "ollama"})
	assert.Equal(t, base, cfg.BaseURL)

	cfg = ks.Resolve(ctx, backend.Config{})
	assert.Equal(t, "gemini", cfg.Provider)
	assert.Empty(t, cfg.APIKey)

	cfg = ks.Resolve(ctx, backend.Config{Provider: "nope"})
	assert.Equal(t, "nope", cfg.Provider)
}
