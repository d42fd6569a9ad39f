package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path, applies environment
// variable overrides, and returns a validated [Config]. A missing file is
// not an error; the configuration then comes from defaults and environment
// variables alone.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("config: file not found, using defaults and environment", "path", path)
		cfg := &Config{}
		applyEnvOverrides(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment variable
// overrides, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps deployment environment variables onto the config.
// Environment values win over file values.
func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.ListenAddr = ":" + port
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.PostgresDSN = dsn
	}
	if secret := os.Getenv("COOKIE_SECRET"); secret != "" {
		cfg.Server.CookieSecret = secret
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.Providers.LLM.APIKey == "" {
			cfg.Providers.LLM.APIKey = key
		}
		if cfg.Providers.Embeddings.APIKey == "" {
			cfg.Providers.Embeddings.APIKey = key
		}
	}
	if url := os.Getenv("WELCOME_SOUND_URL"); url != "" {
		cfg.Sounds.WelcomeURL = url
	}
	if url := os.Getenv("PROCESSING_SOUND_URL"); url != "" {
		cfg.Sounds.ProcessingURL = url
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.FallbackLLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; queries will always receive the apology response")
	}
	if cfg.Providers.FallbackLLM.Name != "" && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.fallback_llm requires providers.llm"))
	}

	if cfg.Providers.Embeddings.Name != "" && cfg.Database.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but database.embedding_dimensions is not set; semantic recall is disabled")
	}
	if cfg.Database.EmbeddingDimensions > 0 && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("database.embedding_dimensions requires providers.embeddings"))
	}
	if cfg.Database.EmbeddingDimensions > 0 && cfg.Database.PostgresDSN == "" {
		errs = append(errs, errors.New("database.embedding_dimensions requires database.postgres_dsn"))
	}
	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; chat history and settings will not survive restarts")
	}

	if cfg.Wake.PhoneticTolerance < 0 || cfg.Wake.PhoneticTolerance > 1 {
		errs = append(errs, fmt.Errorf("wake.phonetic_tolerance %.2f is out of range [0, 1]", cfg.Wake.PhoneticTolerance))
	}
	if cfg.Wake.SilenceWindow < 0 {
		errs = append(errs, errors.New("wake.silence_window must not be negative"))
	}
	if cfg.Session.GracePeriod < 0 {
		errs = append(errs, errors.New("session.grace_period must not be negative"))
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f is out of range [0, 2]", cfg.Agent.Temperature))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
