package keystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"InterviewPrep/internal/backend"
	"InterviewPrep/internal/storage"
)

// EncryptedPrefix marks a value as encrypted (format: ENC:base64(nonce|ciphertext|tag))
const EncryptedPrefix = "ENC:"

const (
	keySize  = 32
	saltSize = 32

	// DefaultIterations is the PBKDF2-SHA-256 work factor
	DefaultIterations = 600000

	metaSalt              = "keystore_salt"
	metaPreferredProvider = "preferred_provider"
	metaPreferredModel    = "preferred_model"

	defaultPreferredProvider = backend.ProviderGemini
)

var (
	// ErrNoKey is returned when no API key is stored for a provider
	ErrNoKey = errors.New("no API key stored")
	// ErrDecryptionFailed is returned when a stored value cannot be authenticated with the current secret
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Backend is the persistence the keystore needs
type Backend interface {
	ProviderSetting(ctx context.Context, provider string) (*storage.ProviderSetting, error)
	SaveProviderSetting(ctx context.Context, ps storage.ProviderSetting) error
	Meta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// Settings is the public view of the stored preferences. Keys are reported by presence only.
type Settings struct {
	PreferredProvider string `json:"preferred_provider"`
	PreferredModel    string `json:"preferred_model,omitempty"`
	HasGeminiKey      bool   `json:"has_gemini_key"`
	HasOpenAIKey      bool   `json:"has_openai_key"`
	HasAnthropicKey   bool   `json:"has_anthropic_key"`
	OllamaBaseURL     string `json:"ollama_base_url"`
}

// Update changes stored settings. Nil fields are left alone; an empty API key clears it.
type Update struct {
	PreferredProvider *string `json:"preferred_provider"`
	PreferredModel    *string `json:"preferred_model"`
	GeminiAPIKey      *string `json:"gemini_api_key"`
	OpenAIAPIKey      *string `json:"openai_api_key"`
	AnthropicAPIKey   *string `json:"anthropic_api_key"`
	OllamaBaseURL     *string `json:"ollama_base_url"`
}

// KeyPreview describes a stored key without revealing it
type KeyPreview struct {
	Provider   string `json:"provider"`
	HasKey     bool   `json:"has_key,omitempty"`
	KeyPreview string `json:"key_preview,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
}

// Keystore encrypts provider API keys at rest with AES-256-GCM
type Keystore struct {
	store  Backend
	gcm    cipher.AEAD
	logger *slog.Logger
}

// Option configures Open
type Option func(*options)

type options struct {
	iterations int
	logger     *slog.Logger
}

// WithIterations overrides the PBKDF2 work factor
func WithIterations(n int) Option {
	return func(o *options) { o.iterations = n }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Open derives the encryption key from secret and the persisted salt, creating the salt on first use
func Open(ctx context.Context, store Backend, secret string, opts ...Option) (*Keystore, error) {
	o := options{iterations: DefaultIterations, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if secret == "" {
		return nil, errors.New("encryption key must not be empty")
	}

	salt, err := loadSalt(ctx, store)
	if err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(secret), salt, o.iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Keystore{store: store, gcm: gcm, logger: o.logger}, nil
}

func loadSalt(ctx context.Context, store Backend) ([]byte, error) {
	encoded, err := store.Meta(ctx, metaSalt)
	if err == nil {
		salt, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid stored salt: %w", err)
		}
		return salt, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := store.SetMeta(ctx, metaSalt, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("failed to save salt: %w", err)
	}
	return salt, nil
}

// Encrypt returns the ENC: prefixed ciphertext of plaintext. Empty input stays empty.
func (k *Keystore) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, k.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := k.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Values without the prefix are returned as-is.
func (k *Keystore) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("invalid base64 encoding: %w", err)
	}
	ns := k.gcm.NonceSize()
	if len(data) < ns {
		return "", ErrDecryptionFailed
	}
	plain, err := k.gcm.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// Settings returns the stored preferences
func (k *Keystore) Settings(ctx context.Context) (*Settings, error) {
	s := &Settings{PreferredProvider: defaultPreferredProvider, OllamaBaseURL: backend.DefaultOllamaURL}

	if v, err := k.meta(ctx, metaPreferredProvider); err != nil {
		return nil, err
	} else if v != "" {
		s.PreferredProvider = v
	}
	model, err := k.meta(ctx, metaPreferredModel)
	if err != nil {
		return nil, err
	}
	s.PreferredModel = model

	for _, p := range []string{backend.ProviderGemini, backend.ProviderOpenAI, backend.ProviderAnthropic} {
		ps, err := k.setting(ctx, p)
		if err != nil {
			return nil, err
		}
		has := ps.APIKey != ""
		switch p {
		case backend.ProviderGemini:
			s.HasGeminiKey = has
		case backend.ProviderOpenAI:
			s.HasOpenAIKey = has
		case backend.ProviderAnthropic:
			s.HasAnthropicKey = has
		}
	}

	ollama, err := k.setting(ctx, backend.ProviderOllama)
	if err != nil {
		return nil, err
	}
	if ollama.BaseURL != "" {
		s.OllamaBaseURL = ollama.BaseURL
	}
	return s, nil
}

// Apply stores the non-nil fields of u
func (k *Keystore) Apply(ctx context.Context, u Update) (*Settings, error) {
	if u.PreferredProvider != nil {
		name := *u.PreferredProvider
		if name != "" {
			n, err := backend.Normalize(name)
			if err != nil {
				return nil, err
			}
			name = n
		}
		if err := k.store.SetMeta(ctx, metaPreferredProvider, name); err != nil {
			return nil, err
		}
	}
	if u.PreferredModel != nil {
		if err := k.store.SetMeta(ctx, metaPreferredModel, *u.PreferredModel); err != nil {
			return nil, err
		}
	}

	keys := map[string]*string{
		backend.ProviderGemini:    u.GeminiAPIKey,
		backend.ProviderOpenAI:    u.OpenAIAPIKey,
		backend.ProviderAnthropic: u.AnthropicAPIKey,
	}
	for provider, key := range keys {
		if key == nil {
			continue
		}
		if err := k.SetAPIKey(ctx, provider, *key); err != nil {
			return nil, err
		}
	}

	if u.OllamaBaseURL != nil {
		ps, err := k.setting(ctx, backend.ProviderOllama)
		if err != nil {
			return nil, err
		}
		ps.BaseURL = strings.TrimRight(*u.OllamaBaseURL, "/")
		if err := k.store.SaveProviderSetting(ctx, *ps); err != nil {
			return nil, err
		}
	}

	k.logger.InfoContext(ctx, "settings updated")
	return k.Settings(ctx)
}

// SetAPIKey encrypts and stores key for provider. An empty key removes it.
func (k *Keystore) SetAPIKey(ctx context.Context, provider, key string) error {
	name, err := backend.Normalize(provider)
	if err != nil {
		return err
	}
	enc, err := k.Encrypt(key)
	if err != nil {
		return err
	}
	ps, err := k.setting(ctx, name)
	if err != nil {
		return err
	}
	ps.APIKey = enc
	return k.store.SaveProviderSetting(ctx, *ps)
}

// APIKey returns the decrypted key stored for provider
func (k *Keystore) APIKey(ctx context.Context, provider string) (string, error) {
	name, err := backend.Normalize(provider)
	if err != nil {
		return "", err
	}
	ps, err := k.setting(ctx, name)
	if err != nil {
		return "", err
	}
	if ps.APIKey == "" {
		return "", fmt.Errorf("%w for %s", ErrNoKey, name)
	}
	return k.Decrypt(ps.APIKey)
}

// Preview returns a masked view of the stored key. For ollama it reports the base URL instead.
func (k *Keystore) Preview(ctx context.Context, provider string) (*KeyPreview, error) {
	name, err := backend.Normalize(provider)
	if err != nil {
		return nil, err
	}
	if name == backend.ProviderOllama {
		ps, err := k.setting(ctx, name)
		if err != nil {
			return nil, err
		}
		base := ps.BaseURL
		if base == "" {
			base = backend.DefaultOllamaURL
		}
		return &KeyPreview{Provider: name, BaseURL: base}, nil
	}

	key, err := k.APIKey(ctx, name)
	if errors.Is(err, ErrDecryptionFailed) {
		k.logger.WarnContext(ctx, "stored key cannot be decrypted", "provider", name)
		return &KeyPreview{Provider: name, HasKey: true, KeyPreview: "***"}, nil
	}
	if err != nil {
		return nil, err
	}
	return &KeyPreview{Provider: name, HasKey: true, KeyPreview: Mask(key)}, nil
}

// DeleteKey removes the stored key of provider. For ollama it restores the default base URL.
func (k *Keystore) DeleteKey(ctx context.Context, provider string) error {
	name, err := backend.Normalize(provider)
	if err != nil {
		return err
	}
	ps, err := k.setting(ctx, name)
	if err != nil {
		return err
	}
	if name == backend.ProviderOllama {
		ps.BaseURL = ""
	} else {
		ps.APIKey = ""
	}
	return k.store.SaveProviderSetting(ctx, *ps)
}

// Resolve fills the gaps of a per-request provider config from the stored settings:
// the preferred provider and model, the stored API key and the ollama base URL.
// Values present on cfg always win.
func (k *Keystore) Resolve(ctx context.Context, cfg backend.Config) backend.Config {
	if cfg.Provider == "" {
		if v, err := k.meta(ctx, metaPreferredProvider); err == nil && v != "" {
			cfg.Provider = v
		} else {
			cfg.Provider = defaultPreferredProvider
		}
		if cfg.Model == "" {
			if v, err := k.meta(ctx, metaPreferredModel); err == nil {
				cfg.Model = v
			}
		}
	}

	name, err := backend.Normalize(cfg.Provider)
	if err != nil {
		return cfg
	}

	if name == backend.ProviderOllama {
		if cfg.BaseURL == "" {
			if ps, err := k.setting(ctx, name); err == nil {
				cfg.BaseURL = ps.BaseURL
			}
		}
		return cfg
	}

	if cfg.APIKey == "" {
		key, err := k.APIKey(ctx, name)
		switch {
		case err == nil:
			cfg.APIKey = key
		case !errors.Is(err, ErrNoKey):
			k.logger.WarnContext(ctx, "failed to load stored API key", "provider", name, "error", err)
		}
	}
	return cfg
}

// Mask shows the first 8 and last 4 characters of keys longer than 12 characters
func Mask(key string) string {
	if len(key) <= 12 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

func (k *Keystore) meta(ctx context.Context, key string) (string, error) {
	v, err := k.store.Meta(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (k *Keystore) setting(ctx context.Context, provider string) (*storage.ProviderSetting, error) {
	ps, err := k.store.ProviderSetting(ctx, provider)
	if errors.Is(err, storage.ErrNotFound) {
		return &storage.ProviderSetting{Provider: provider}, nil
	}
	return ps, err
}
