package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	secretOpenAIKey   = "openai_api_key"
	secretPostgresDSN = "postgres_dsn"
	secretAPIToken    = "api_token"
)

// ErrSecretNotFound is returned when a secret is not stored.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore holds values that never go into the config file.
type SecretStore interface {
	Get(name string) (string, error)
	Set(name, value string) error
}

// fileSecrets keeps secrets as a flat JSON object readable only by the owner.
type fileSecrets struct {
	mu   sync.Mutex
	path string
}

// NewSecretStore returns the secrets file in the default data directory.
func NewSecretStore() SecretStore {
	return NewSecretStoreAt(filepath.Join(defaultDataDir(), "secrets.json"))
}

// NewSecretStoreAt returns a secrets file at path.
func NewSecretStoreAt(path string) SecretStore {
	return &fileSecrets{path: path}
}

func (f *fileSecrets) Get(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	v, ok := secrets[name]
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrSecretNotFound)
	}
	return v, nil
}

func (f *fileSecrets) Set(name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	secrets, err := f.read()
	if err != nil {
		return err
	}
	secrets[name] = value

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}

func (f *fileSecrets) read() (map[string]string, error) {
	secrets := make(map[string]string)
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return secrets, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

// GetAPIToken returns the bearer token for the HTTP API. POLICYGUARD_API_TOKEN
// wins; otherwise the stored token is used, and a new one is generated and
// saved on first use.
func GetAPIToken(s SecretStore) (string, error) {
	if tok := os.Getenv("POLICYGUARD_API_TOKEN"); tok != "" {
		return tok, nil
	}

	tok, err := s.Get(secretAPIToken)
	if err == nil && tok != "" {
		return tok, nil
	}
	if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return "", fmt.Errorf("reading API token: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok = hex.EncodeToString(buf)
	if err := s.Set(secretAPIToken, tok); err != nil {
		return "", fmt.Errorf("saving API token: %w", err)
	}
	return tok, nil
}
