package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "./configs/config.yaml"

	defaultDatabaseURL       = "sqlite:///./data.db"
	defaultCompletionBaseURL = "https://api.groq.com/openai/v1"
	defaultCompletionModel   = "llama-3.1-8b-instant"
	defaultEmbedProvider     = "ollama"
	defaultEmbedBaseURL      = "http://localhost:11434"
	defaultEmbedModel        = "all-minilm:l6-v2"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Database      DatabaseConfig      `yaml:"database"`
	EmbedLLM      LLMConfig           `yaml:"embed_llm"`
	CompletionLLM LLMConfig           `yaml:"completion_llm"`
	VectorStore   VectorStoreConfig   `yaml:"vector_store"`
	KnowledgeBase KnowledgeBaseConfig `yaml:"knowledge_base"`
	RAG           RAGConfig           `yaml:"rag"`
	Safety        SafetyConfig        `yaml:"safety"`
}

type ServerConfig struct {
	Port        string          `yaml:"port"`
	GinMode     string          `yaml:"gin_mode"`
	CORSOrigins []string        `yaml:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds requests per client IP. A zero RequestsPerMinute
// disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
	MaxClients        int `yaml:"max_clients"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type DatabaseConfig struct {
	URL   string `yaml:"url"`
	Debug bool   `yaml:"debug"`
}

// LLMConfig describes either the embedding or the completion endpoint.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Key         string        `yaml:"key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	CacheSize   int           `yaml:"cache_size"`
}

type VectorStoreConfig struct {
	Path           string `yaml:"path"`
	CollectionName string `yaml:"collection_name"`
	Compress       bool   `yaml:"compress"`
	EncryptionKey  string `yaml:"encryption_key"`
}

type KnowledgeBaseConfig struct {
	Dir  string `yaml:"dir"`
	Glob string `yaml:"glob"`
}

type RAGConfig struct {
	ChunkSize         int     `yaml:"chunk_size"`
	ChunkOverlap      int     `yaml:"chunk_overlap"`
	ChunkStrategy     string  `yaml:"chunk_strategy"` // recursive or window
	DistanceThreshold float64 `yaml:"distance_threshold"`
	AnswerK           int     `yaml:"answer_k"`
	CondenseQuestion  *bool   `yaml:"condense_question"`
}

type SafetyConfig struct {
	ExtraKeywords  []string `yaml:"extra_keywords"`
	LogEmergencies bool     `yaml:"log_emergencies"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	condense := true
	return &Config{
		Server: ServerConfig{
			Port:        "8000",
			GinMode:     "debug",
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				Burst:             10,
				MaxClients:        10000,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Database: DatabaseConfig{
			URL: defaultDatabaseURL,
		},
		EmbedLLM: LLMConfig{
			Provider:  defaultEmbedProvider,
			BaseURL:   defaultEmbedBaseURL,
			Model:     defaultEmbedModel,
			CacheSize: 1024,
		},
		CompletionLLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     defaultCompletionBaseURL,
			Model:       defaultCompletionModel,
			Temperature: 0.7,
			Timeout:     30 * time.Second,
		},
		VectorStore: VectorStoreConfig{
			Path:           "./chroma_db",
			CollectionName: "knowledge_base",
		},
		KnowledgeBase: KnowledgeBaseConfig{
			Dir:  "knowledge_base",
			Glob: "**/*.md",
		},
		RAG: RAGConfig{
			ChunkSize:         1000,
			ChunkOverlap:      100,
			ChunkStrategy:     "recursive",
			DistanceThreshold: 1.7,
			AnswerK:           2,
			CondenseQuestion:  &condense,
		},
	}
}

// LoadConfig reads the YAML file at path (if it exists) over the defaults,
// then applies .env and environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath:
			// the default file is optional
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.CompletionLLM.Key = getEnv("GROQ_API_KEY", cfg.CompletionLLM.Key)
	cfg.EmbedLLM.Key = getEnv("EMBEDDING_API_KEY", cfg.EmbedLLM.Key)
	cfg.EmbedLLM.BaseURL = getEnv("EMBEDDING_BASE_URL", cfg.EmbedLLM.BaseURL)
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.GinMode = getEnv("GIN_MODE", cfg.Server.GinMode)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.VectorStore.Path = getEnv("VECTOR_DB_PATH", cfg.VectorStore.Path)
	cfg.VectorStore.EncryptionKey = getEnv("VECTOR_DB_ENCRYPTION_KEY", cfg.VectorStore.EncryptionKey)
	cfg.KnowledgeBase.Dir = getEnv("KNOWLEDGE_BASE_DIR", cfg.KnowledgeBase.Dir)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = splitList(origins)
	}
	threshold, err := getEnvFloat("DISTANCE_THRESHOLD", cfg.RAG.DistanceThreshold)
	if err != nil {
		return err
	}
	cfg.RAG.DistanceThreshold = threshold
	return nil
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, %d), got %d", c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	switch c.RAG.ChunkStrategy {
	case "recursive", "window":
	default:
		return fmt.Errorf("rag.chunk_strategy must be recursive or window, got %q", c.RAG.ChunkStrategy)
	}
	if c.RAG.DistanceThreshold < 0 {
		return fmt.Errorf("rag.distance_threshold must not be negative")
	}
	if c.RAG.AnswerK <= 0 {
		return fmt.Errorf("rag.answer_k must be positive, got %d", c.RAG.AnswerK)
	}
	if c.EmbedLLM.Model == "" {
		return errors.New("embed_llm.model is required")
	}
	if c.CompletionLLM.Model == "" {
		return errors.New("completion_llm.model is required")
	}
	if c.VectorStore.Path == "" || c.VectorStore.CollectionName == "" {
		return errors.New("vector_store.path and vector_store.collection_name are required")
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	return nil
}

// RequireCompletionKey is checked by commands that call the completion service.
func (c *Config) RequireCompletionKey() error {
	if strings.TrimSpace(c.CompletionLLM.Key) == "" {
		return errors.New("GROQ_API_KEY is required")
	}
	return nil
}

// CondenseEnabled reports whether follow-up questions are rephrased before retrieval.
func (c *RAGConfig) CondenseEnabled() bool {
	return c.CondenseQuestion == nil || *c.CondenseQuestion
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
