// Package config loads and persists the application configuration. API
// keys never live in the YAML file: the config names the environment
// variable that carries the key, and a .env file is honored at startup.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProviderConfig points at an OpenAI-compatible endpoint.
type ProviderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// APIKey resolves the provider's key from the configured environment
// variable. An empty result is valid for local endpoints.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// ChunkerConfig controls how chapters are split into chunks.
type ChunkerConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
}

// IndexConfig controls the indexing pipeline and the worker client.
type IndexConfig struct {
	BatchSize          int `yaml:"batch_size"`
	MaxConcurrent      int `yaml:"max_concurrent"`
	RequestTimeoutSecs int `yaml:"request_timeout_secs"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	CachePath string         `yaml:"cache_path"`
	Embedding ProviderConfig `yaml:"embedding"`
	Chat      ProviderConfig `yaml:"chat"`
	Chunker   ChunkerConfig  `yaml:"chunker"`
	Index     IndexConfig    `yaml:"index"`
}

// Load reads a config from a specified path. If the file does not exist,
// returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig()
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDefault tries ./bookmind.yaml first, then ~/.config/bookmind/config.yaml.
// If neither exists, it writes defaults to the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "bookmind.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg, err := defaultConfig()
	if err != nil {
		return nil, "", err
	}
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "bookmind", "config.yaml"), nil
}

func defaultCachePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "bookmind", "embeddings.db"), nil
}

func defaultConfig() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *AppConfig) error {
	if cfg.CachePath == "" {
		path, err := defaultCachePath()
		if err != nil {
			return err
		}
		cfg.CachePath = path
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.TimeoutSecs == 0 {
		cfg.Embedding.TimeoutSecs = 60
	}
	if cfg.Chat.BaseURL == "" {
		cfg.Chat.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Chat.APIKeyEnv == "" {
		cfg.Chat.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Chat.Model == "" {
		cfg.Chat.Model = "gpt-4o-mini"
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 800
		cfg.Chunker.Overlap = 100
	}
	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 50
	}
	if cfg.Index.MaxConcurrent == 0 {
		cfg.Index.MaxConcurrent = 10
	}
	if cfg.Index.RequestTimeoutSecs == 0 {
		cfg.Index.RequestTimeoutSecs = 30
	}
	return nil
}
