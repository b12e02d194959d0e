package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "POLICYGUARD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "POLICYGUARD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "POLICYGUARD_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "engine.provider", typ: kString, env: "POLICYGUARD_ENGINE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Engine.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Provider },
	},
	{
		key: "engine.base_url", typ: kString, env: "POLICYGUARD_ENGINE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.BaseURL },
	},
	{
		key: "engine.chat_model", typ: kString, env: "POLICYGUARD_ENGINE_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.ChatModel },
	},
	{
		key: "engine.vision_model", typ: kString, env: "POLICYGUARD_ENGINE_VISION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.VisionModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.VisionModel },
	},
	{
		key: "engine.embed_model", typ: kString, env: "POLICYGUARD_ENGINE_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedModel },
	},
	{
		key: "engine.embed_dimensions", typ: kInt, env: "POLICYGUARD_ENGINE_EMBED_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedDimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedDimensions },
	},
	{
		key: "engine.openai_api_key", typ: kString, env: "POLICYGUARD_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Engine.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.OpenAIAPIKey },
	},
	{
		key: "storage.driver", typ: kString, env: "POLICYGUARD_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.data_dir", typ: kString, env: "POLICYGUARD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.postgres_dsn", typ: kString, env: "POLICYGUARD_POSTGRES_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PostgresDSN },
	},
	{
		key: "ingest.chunk_size", typ: kInt, env: "POLICYGUARD_INGEST_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkSize },
	},
	{
		key: "ingest.chunk_overlap", typ: kInt, env: "POLICYGUARD_INGEST_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkOverlap },
	},
	{
		key: "ingest.batch_size", typ: kInt, env: "POLICYGUARD_INGEST_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.BatchSize },
	},
	{
		key: "ingest.min_text_length", typ: kInt, env: "POLICYGUARD_INGEST_MIN_TEXT_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Ingest.MinTextLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.MinTextLength },
	},
	{
		key: "ingest.max_upload_bytes", typ: kInt, env: "POLICYGUARD_INGEST_MAX_UPLOAD_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Ingest.MaxUploadBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.MaxUploadBytes },
	},
	{
		key: "ingest.embed_rate", typ: kFloat, env: "POLICYGUARD_INGEST_EMBED_RATE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.EmbedRate = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ingest.EmbedRate },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "POLICYGUARD_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.min_similarity", typ: kFloat, env: "POLICYGUARD_RETRIEVAL_MIN_SIMILARITY",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MinSimilarity = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.MinSimilarity },
	},
	{
		key: "analysis.stage_timeout", typ: kString, env: "POLICYGUARD_ANALYSIS_STAGE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Analysis.StageTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Analysis.StageTimeout },
	},
	{
		key: "analysis.gst_pattern", typ: kString, env: "POLICYGUARD_ANALYSIS_GST_PATTERN",
		apply:   func(cfg *Config, v any) { cfg.Analysis.GSTPattern = v.(string) },
		extract: func(cfg Config) any { return cfg.Analysis.GSTPattern },
	},
	{
		key: "analysis.reranking_enabled", typ: kBool, env: "POLICYGUARD_ANALYSIS_RERANKING_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Analysis.RerankingEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Analysis.RerankingEnabled },
	},
	{
		key: "analysis.reranking_timeout", typ: kString, env: "POLICYGUARD_ANALYSIS_RERANKING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Analysis.RerankingTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Analysis.RerankingTimeout },
	},
	{
		key: "analysis.reranking_threshold", typ: kFloat, env: "POLICYGUARD_ANALYSIS_RERANKING_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Analysis.RerankingThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Analysis.RerankingThreshold },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
