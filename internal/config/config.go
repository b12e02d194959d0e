// Package config loads policyguard settings from defaults, a JSON file,
// POLICYGUARD_* environment variables and a secrets file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultGSTPattern matches a 15-character Indian GSTIN.
const DefaultGSTPattern = `^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][1-9A-Z]Z[0-9A-Z]$`

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Engine    EngineConfig
	Storage   StorageConfig
	Ingest    IngestConfig
	Retrieval RetrievalConfig
	Analysis  AnalysisConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level  string
	Format string
}

type EngineConfig struct {
	Provider        string
	BaseURL         string
	ChatModel       string
	VisionModel     string
	EmbedModel      string
	EmbedDimensions int
	OpenAIAPIKey    string
}

type StorageConfig struct {
	Driver      string
	DataDir     string
	PostgresDSN string
}

type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	BatchSize      int
	MinTextLength  int
	MaxUploadBytes int
	EmbedRate      float64
}

type RetrievalConfig struct {
	TopK          int
	MinSimilarity float64
}

type AnalysisConfig struct {
	StageTimeout       string
	GSTPattern         string
	RerankingEnabled   bool
	RerankingTimeout   string
	RerankingThreshold float64
}

// StageTimeoutDuration parses StageTimeout, falling back to 60s.
func (a AnalysisConfig) StageTimeoutDuration() time.Duration {
	return parseDuration(a.StageTimeout, 60*time.Second)
}

// RerankingTimeoutDuration parses RerankingTimeout, falling back to 10s.
func (a AnalysisConfig) RerankingTimeoutDuration() time.Duration {
	return parseDuration(a.RerankingTimeout, 10*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// DBPath is the SQLite database file inside the data directory.
func (s StorageConfig) DBPath() string {
	return filepath.Join(s.DataDir, "policyguard.db")
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Engine: EngineConfig{
			Provider:        ProviderOpenAI,
			ChatModel:       "gpt-4o",
			VisionModel:     "gpt-4o",
			EmbedModel:      "text-embedding-3-small",
			EmbedDimensions: 1536,
		},
		Storage: StorageConfig{
			Driver:  DriverSQLite,
			DataDir: defaultDataDir(),
		},
		Ingest: IngestConfig{
			ChunkSize:      800,
			ChunkOverlap:   100,
			BatchSize:      10,
			MinTextLength:  100,
			MaxUploadBytes: 10 << 20,
			EmbedRate:      2,
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			MinSimilarity: 0.5,
		},
		Analysis: AnalysisConfig{
			StageTimeout:       "60s",
			GSTPattern:         DefaultGSTPattern,
			RerankingTimeout:   "10s",
			RerankingThreshold: 0.3,
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/policyguard/config.json, then applies POLICYGUARD_*
// environment overrides. Secrets still empty after that are read from the
// secrets file in the data directory.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewSecretStore())
}

func loadWith(b ConfigBackend, secrets SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Engine.OpenAIAPIKey == "" {
		cfg.Engine.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Engine.OpenAIAPIKey == "" {
		cfg.Engine.OpenAIAPIKey = lookupSecret(secrets, secretOpenAIKey)
	}
	if cfg.Storage.PostgresDSN == "" {
		cfg.Storage.PostgresDSN = lookupSecret(secrets, secretPostgresDSN)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func lookupSecret(s SecretStore, name string) string {
	if s == nil {
		return ""
	}
	v, err := s.Get(name)
	if err != nil {
		if !errors.Is(err, ErrSecretNotFound) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read secret %s: %v\n", name, err)
		}
		return ""
	}
	return strings.TrimSpace(v)
}

func (c Config) validate() error {
	switch c.Engine.Provider {
	case ProviderOpenAI:
		if c.Engine.OpenAIAPIKey == "" {
			return errors.New("missing required config: OpenAI API key. " +
				"Set it via environment variable POLICYGUARD_OPENAI_API_KEY or OPENAI_API_KEY")
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("invalid engine.provider %q: want %q or %q", c.Engine.Provider, ProviderOpenAI, ProviderOllama)
	}

	switch c.Storage.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("missing required config: Postgres DSN. " +
				"Set it via environment variable POLICYGUARD_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("invalid storage.driver %q: want %q or %q", c.Storage.Driver, DriverSQLite, DriverPostgres)
	}

	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "policyguard-data"
		}
	}
	return filepath.Join(dir, "policyguard")
}
