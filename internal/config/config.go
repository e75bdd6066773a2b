package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"InterviewPrep/internal/backend"
)

const (
	ModeServe   = "serve"
	ModeConsole = "console"

	// EnvPrefix prefixes every environment override
	EnvPrefix = "INTERVIEWPREP_"

	DefaultConfigFile    = "interviewprep.toml"
	DefaultEncryptionKey = "default-dev-key-change-in-production-32b"
)

// Config holds application configuration
type Config struct {
	Mode   string `toml:"mode"`
	Addr   string `toml:"addr"`
	Debug  bool   `toml:"debug"`
	LogDir string `toml:"log_dir"`

	DatabasePath  string `toml:"database_path"`
	ContentPath   string `toml:"content_path"`
	WatchContent  bool   `toml:"watch_content"`
	EncryptionKey string `toml:"encryption_key"`

	ProviderTimeoutSecs int `toml:"provider_timeout_secs"`
	ShutdownTimeoutSecs int `toml:"shutdown_timeout_secs"`

	AllowedOrigins []string `toml:"allowed_origins"`
	RateLimitRPS   float64  `toml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst"`

	Console Console `toml:"console"`

	// ConfigFile is the TOML file that was loaded, if any
	ConfigFile string `toml:"-"`
}

// Console holds the defaults of the terminal interview
type Console struct {
	Provider      string `toml:"provider"`
	Model         string `toml:"model"`
	BaseURL       string `toml:"base_url"`
	APIKey        string `toml:"api_key"`
	InterviewType string `toml:"interview_type"`
	Difficulty    string `toml:"difficulty"`
	Questions     int    `toml:"questions"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Mode:                ModeServe,
		Addr:                ":8000",
		LogDir:              "logs",
		DatabasePath:        "interviewprep.db",
		ContentPath:         "genai.json",
		EncryptionKey:       DefaultEncryptionKey,
		ProviderTimeoutSecs: 120,
		ShutdownTimeoutSecs: 10,
		AllowedOrigins:      []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		RateLimitRPS:        5,
		RateLimitBurst:      20,
		Console: Console{
			Provider:      backend.ProviderOllama,
			InterviewType: "mixed",
			Difficulty:    "medium",
			Questions:     5,
		},
	}
}

// ProviderTimeout is the per-call provider deadline
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSecs) * time.Second
}

// ShutdownTimeout bounds graceful shutdown
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSecs) * time.Second
}

// Validate reports the first invalid setting
func (c Config) Validate() error {
	switch c.Mode {
	case ModeServe, ModeConsole:
	default:
		return fmt.Errorf("invalid mode %q (serve|console)", c.Mode)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return errors.New("provider_timeout_secs must be positive")
	}
	if c.ShutdownTimeoutSecs <= 0 {
		return errors.New("shutdown_timeout_secs must be positive")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("rate limits must not be negative")
	}
	if c.Console.Questions < 1 || c.Console.Questions > 15 {
		return fmt.Errorf("console questions must be between 1 and 15, got %d", c.Console.Questions)
	}
	if c.Console.Provider != "" {
		if _, err := backend.Normalize(c.Console.Provider); err != nil {
			return err
		}
	}
	if c.EncryptionKey == "" {
		return errors.New("encryption_key must not be empty")
	}
	return nil
}

// Load builds the configuration: defaults, then the TOML file, then .env and INTERVIEWPREP_* variables,
// then command-line flags. Flags only override what they were explicitly given for.
func Load(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("interviewprep", flag.ContinueOnError)
	var (
		configFile string
		envFile    string
		origins    string
		flagged    = Default()
	)
	fs.StringVar(&configFile, "config", DefaultConfigFile, "Path to TOML config file")
	fs.StringVar(&envFile, "env-file", ".env", "Path to .env file")
	fs.StringVar(&flagged.Mode, "mode", flagged.Mode, "Run mode (serve|console)")
	fs.StringVar(&flagged.Addr, "addr", flagged.Addr, "HTTP listen address")
	fs.BoolVar(&flagged.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&flagged.LogDir, "log-dir", flagged.LogDir, "Directory for log, trace and metric files")
	fs.StringVar(&flagged.DatabasePath, "db", flagged.DatabasePath, "SQLite database path")
	fs.StringVar(&flagged.ContentPath, "content", flagged.ContentPath, "Path to the study content JSON file")
	fs.BoolVar(&flagged.WatchContent, "watch-content", false, "Reload the content file when it changes")
	fs.IntVar(&flagged.ProviderTimeoutSecs, "provider-timeout", flagged.ProviderTimeoutSecs, "Provider call timeout in seconds")
	fs.StringVar(&origins, "allowed-origins", "", "Comma-separated CORS origins")
	fs.StringVar(&flagged.Console.Provider, "provider", flagged.Console.Provider, "LLM provider (gemini|openai|anthropic|ollama)")
	fs.StringVar(&flagged.Console.Model, "model", "", "Model override")
	fs.StringVar(&flagged.Console.BaseURL, "base-url", "", "Ollama base URL")
	fs.StringVar(&flagged.Console.InterviewType, "type", flagged.Console.InterviewType, "Interview type (python|system_design|genai|ml_dl|mixed)")
	fs.StringVar(&flagged.Console.Difficulty, "difficulty", flagged.Console.Difficulty, "Difficulty (easy|medium|hard)")
	fs.IntVar(&flagged.Console.Questions, "questions", flagged.Console.Questions, "Number of questions")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if err := loadFile(&cfg, configFile, set["config"]); err != nil {
		return cfg, err
	}

	if err := godotenv.Load(envFile); err != nil && (set["env-file"] || !os.IsNotExist(err)) {
		return cfg, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}

	overlay := map[string]func(){
		"mode":             func() { cfg.Mode = flagged.Mode },
		"addr":             func() { cfg.Addr = flagged.Addr },
		"debug":            func() { cfg.Debug = flagged.Debug },
		"log-dir":          func() { cfg.LogDir = flagged.LogDir },
		"db":               func() { cfg.DatabasePath = flagged.DatabasePath },
		"content":          func() { cfg.ContentPath = flagged.ContentPath },
		"watch-content":    func() { cfg.WatchContent = flagged.WatchContent },
		"provider-timeout": func() { cfg.ProviderTimeoutSecs = flagged.ProviderTimeoutSecs },
		"allowed-origins":  func() { cfg.AllowedOrigins = splitList(origins) },
		"provider":         func() { cfg.Console.Provider = flagged.Console.Provider },
		"model":            func() { cfg.Console.Model = flagged.Console.Model },
		"base-url":         func() { cfg.Console.BaseURL = flagged.Console.BaseURL },
		"type":             func() { cfg.Console.InterviewType = flagged.Console.InterviewType },
		"difficulty":       func() { cfg.Console.Difficulty = flagged.Console.Difficulty },
		"questions":        func() { cfg.Console.Questions = flagged.Console.Questions },
	}
	for name := range set {
		if apply, ok := overlay[name]; ok {
			apply()
		}
	}

	return cfg, cfg.Validate()
}

// loadFile decodes the TOML file into cfg. A missing default file is not an error.
func loadFile(cfg *Config, path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}
	cfg.ConfigFile = path
	return nil
}

// applyEnv overlays INTERVIEWPREP_* variables
func applyEnv(cfg *Config, getenv func(string) string) error {
	var errs []error
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v := getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s=%q is not an integer", EnvPrefix, name, v))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v := getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s=%q is not a boolean", EnvPrefix, name, v))
				return
			}
			*dst = b
		}
	}

	str("MODE", &cfg.Mode)
	str("ADDR", &cfg.Addr)
	boolean("DEBUG", &cfg.Debug)
	str("LOG_DIR", &cfg.LogDir)
	str("DATABASE_PATH", &cfg.DatabasePath)
	str("CONTENT_PATH", &cfg.ContentPath)
	boolean("WATCH_CONTENT", &cfg.WatchContent)
	str("ENCRYPTION_KEY", &cfg.EncryptionKey)
	integer("PROVIDER_TIMEOUT_SECS", &cfg.ProviderTimeoutSecs)
	integer("SHUTDOWN_TIMEOUT_SECS", &cfg.ShutdownTimeoutSecs)
	if v := getenv(EnvPrefix + "ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := getenv(EnvPrefix + "RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRATE_LIMIT_RPS=%q is not a number", EnvPrefix, v))
		} else {
			cfg.RateLimitRPS = f
		}
	}
	integer("RATE_LIMIT_BURST", &cfg.RateLimitBurst)

	str("PROVIDER", &cfg.Console.Provider)
	str("MODEL", &cfg.Console.Model)
	str("BASE_URL", &cfg.Console.BaseURL)
	str("API_KEY", &cfg.Console.APIKey)
	str("INTERVIEW_TYPE", &cfg.Console.InterviewType)
	str("DIFFICULTY", &cfg.Console.Difficulty)
	integer("QUESTIONS", &cfg.Console.Questions)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
