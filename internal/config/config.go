package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SystemConfig locates the ingestion directory and the index artifacts.
type SystemConfig struct {
	UploadDir string `yaml:"upload_dir"`
	IndexDir  string `yaml:"index_dir"`
	IndexName string `yaml:"index_name"`
}

// SplitterConfig configures how documents are split into passages.
type SplitterConfig struct {
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	Separators   []string `yaml:"separators"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string `yaml:"type"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
	Normalize bool   `yaml:"normalize"`
	// Dimension is the hashing vector size, or the requested size for
	// models that support shortened embeddings. 0 keeps the model default.
	Dimension int                   `yaml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// IndexConfig configures the vector index.
type IndexConfig struct {
	UseAccelerator bool `yaml:"use_accelerator"`
	SearchK        int  `yaml:"search_k"`
	// Workers sizes the accelerator pool; 0 means one per CPU.
	Workers int `yaml:"workers"`
}

// DocumentConfig filters the files considered during a build.
type DocumentConfig struct {
	SupportedExtensions []string `yaml:"supported_extensions"`
	MaxFileSizeMB       int      `yaml:"max_file_size_mb"`
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	System   SystemConfig   `yaml:"system"`
	Splitter SplitterConfig `yaml:"splitter"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Index    IndexConfig    `yaml:"index"`
	Document DocumentConfig `yaml:"document"`
	Log      LogConfig      `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	// start from defaults so booleans and lists absent from the file keep them
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/kb/config.yaml.
// If neither exists, it writes defaults to ~/.config/kb/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
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
	cfg := Default()
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

// Validate rejects settings no component can work with.
func (c *AppConfig) Validate() error {
	var errs []error
	switch c.Embedder.Type {
	case "hashing", "openai":
	default:
		errs = append(errs, fmt.Errorf("embedder.type %q is not one of hashing, openai", c.Embedder.Type))
	}
	if c.Splitter.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("splitter.chunk_size must be positive, got %d", c.Splitter.ChunkSize))
	}
	if c.Splitter.ChunkOverlap < 0 || c.Splitter.ChunkOverlap > c.Splitter.ChunkSize {
		errs = append(errs, fmt.Errorf("splitter.chunk_overlap must be between 0 and chunk_size, got %d", c.Splitter.ChunkOverlap))
	}
	if c.Embedder.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("embedder.batch_size must not be negative, got %d", c.Embedder.BatchSize))
	}
	if c.Embedder.Dimension < 0 {
		errs = append(errs, fmt.Errorf("embedder.dimension must not be negative, got %d", c.Embedder.Dimension))
	}
	if c.Index.SearchK < 0 || c.Index.Workers < 0 {
		errs = append(errs, errors.New("index.search_k and index.workers must not be negative"))
	}
	if c.Document.MaxFileSizeMB < 0 {
		errs = append(errs, fmt.Errorf("document.max_file_size_mb must not be negative, got %d", c.Document.MaxFileSizeMB))
	}
	return errors.Join(errs...)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "kb", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		System: SystemConfig{UploadDir: "./uploads", IndexDir: "./vector_db", IndexName: "default"},
		Splitter: SplitterConfig{
			ChunkSize:    800,
			ChunkOverlap: 150,
			Separators:   []string{"\n\n", "\n", "。", "！", "？", "；", "，", " ", ""},
		},
		Embedder: EmbedderConfig{Type: "hashing", BatchSize: 32, Normalize: true, Dimension: 512},
		Index:    IndexConfig{UseAccelerator: true, SearchK: 5},
		Document: DocumentConfig{SupportedExtensions: []string{".txt", ".md", ".docx", ".pdf"}, MaxFileSizeMB: 50},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.System.UploadDir == "" {
		cfg.System.UploadDir = "./uploads"
	}
	if cfg.System.IndexDir == "" {
		cfg.System.IndexDir = "./vector_db"
	}
	if cfg.System.IndexName == "" {
		cfg.System.IndexName = "default"
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	cfg.Embedder.Type = strings.ToLower(cfg.Embedder.Type)
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 32
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.Model == "" {
			cfg.Embedder.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.MaxRetries == 0 {
			cfg.Embedder.OpenAI.MaxRetries = 3
		}
	}
	if cfg.Index.SearchK == 0 {
		cfg.Index.SearchK = 5
	}
	if len(cfg.Document.SupportedExtensions) == 0 {
		cfg.Document.SupportedExtensions = []string{".txt", ".md", ".docx", ".pdf"}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
