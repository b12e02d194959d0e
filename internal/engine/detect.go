package engine

import "fmt"

// Supported provider names.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// DefaultOllamaURL is used when the ollama provider has no base URL.
const DefaultOllamaURL = "http://localhost:11434"

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Dimensions int
}

// Detect returns the Engine for the configured provider.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Provider {
	case ProviderOpenAI, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("missing required config: engine.openai_api_key")
		}
		return NewOpenAIEngine(cfg.APIKey, cfg.BaseURL, cfg.Dimensions), nil
	case ProviderOllama:
		url := cfg.BaseURL
		if url == "" {
			url = DefaultOllamaURL
		}
		return NewOllamaEngine(url), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
}
