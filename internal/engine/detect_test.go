package engine

import "testing"

func TestDetect_Ollama(t *testing.T) {
	e, err := Detect(DetectConfig{Provider: ProviderOllama})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := e.(*OllamaEngine); !ok {
		t.Errorf("Detect returned %T, want *OllamaEngine", e)
	}
}

func TestDetect_OpenAI(t *testing.T) {
	e, err := Detect(DetectConfig{Provider: ProviderOpenAI, APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := e.(*OpenAIEngine); !ok {
		t.Errorf("Detect returned %T, want *OpenAIEngine", e)
	}
}

func TestDetect_OpenAIMissingKey(t *testing.T) {
	if _, err := Detect(DetectConfig{Provider: ProviderOpenAI}); err == nil {
		t.Fatal("expected error without an API key")
	}
}

func TestDetect_UnknownProvider(t *testing.T) {
	if _, err := Detect(DetectConfig{Provider: "bedrock"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
