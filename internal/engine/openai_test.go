package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIEngine_ChatJSONMode(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": `{"is_valid":true}`}},
			},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEngine("sk-test", srv.URL+"/v1", 0)
	got, err := e.Chat(context.Background(), "gpt-4o", []Message{
		{Role: "system", Content: "validate"},
		{Role: "user", Content: "invoice text"},
	}, &Schema{Type: "object"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != `{"is_valid":true}` {
		t.Errorf("got %q", got)
	}

	rf, ok := captured["response_format"].(map[string]any)
	if !ok || rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", captured["response_format"])
	}
	if _, ok := captured["max_tokens"]; ok {
		t.Errorf("max_tokens set for text-only request")
	}
}

func TestOpenAIEngine_ChatImage(t *testing.T) {
	var captured struct {
		MaxTokens int `json:"max_tokens"`
		Messages  []struct {
			Content []struct {
				Type     string `json:"type"`
				Text     string `json:"text"`
				ImageURL struct {
					URL string `json:"url"`
				} `json:"image_url"`
			} `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "Merchant: Taj"}},
			},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEngine("sk-test", srv.URL+"/v1", 0)
	got, err := e.Chat(context.Background(), "gpt-4o", []Message{
		{Role: "user", Content: "Extract ALL text", Images: []Image{{MIMEType: "image/jpeg", Data: []byte("hello")}}},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "Merchant: Taj" {
		t.Errorf("got %q", got)
	}
	if captured.MaxTokens != visionMaxTokens {
		t.Errorf("max_tokens = %d, want %d", captured.MaxTokens, visionMaxTokens)
	}
	if len(captured.Messages) != 1 || len(captured.Messages[0].Content) != 2 {
		t.Fatalf("unexpected message parts: %+v", captured.Messages)
	}
	parts := captured.Messages[0].Content
	if parts[0].Type != "text" || parts[0].Text != "Extract ALL text" {
		t.Errorf("text part = %+v", parts[0])
	}
	if parts[1].Type != "image_url" || !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,aGVsbG8=") {
		t.Errorf("image part = %+v", parts[1])
	}
}

func TestOpenAIEngine_ChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	e := NewOpenAIEngine("sk-test", srv.URL+"/v1", 0)
	if _, err := e.Chat(context.Background(), "gpt-4o", []Message{{Role: "user", Content: "x"}}, nil); err == nil {
		t.Fatal("expected error on server failure")
	}
}

func TestOpenAIEngine_EmbedOrdersByIndex(t *testing.T) {
	var captured struct {
		Input      []string `json:"input"`
		Model      string   `json:"model"`
		Dimensions int      `json:"dimensions"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float32{0.4, 0.5}},
				{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2}},
			},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEngine("sk-test", srv.URL+"/v1", 2)
	vecs, err := e.Embed(context.Background(), "text-embedding-3-small", []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 0.1 || vecs[1][0] != 0.4 {
		t.Errorf("vecs = %v, want input order", vecs)
	}
	if captured.Model != "text-embedding-3-small" || captured.Dimensions != 2 {
		t.Errorf("request = %+v", captured)
	}
}

func TestOpenAIEngine_EmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{0.1}}},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEngine("sk-test", srv.URL+"/v1", 0)
	if _, err := e.Embed(context.Background(), "text-embedding-3-small", []string{"a", "b"}); err == nil {
		t.Fatal("expected error on count mismatch")
	}
}

func TestOpenAIEngine_EmbedEmpty(t *testing.T) {
	e := NewOpenAIEngine("sk-test", "http://127.0.0.1:1/v1", 0)
	vecs, err := e.Embed(context.Background(), "text-embedding-3-small", nil)
	if err != nil || vecs != nil {
		t.Errorf("Embed(nil) = %v, %v; want nil, nil", vecs, err)
	}
}

func TestOpenAIEngine_IsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4o","object":"model"}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEngine("sk-test", srv.URL+"/v1", 0)
	if !e.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}

	srv.Close()
	if e.IsRunning(context.Background()) {
		t.Error("IsRunning() = true after server closed")
	}
}
