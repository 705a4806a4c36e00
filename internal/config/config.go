package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// persistence: "postgres" uses databaseURL, "memory" keeps everything in-process
	StoreDriver string `yaml:"storeDriver"`
	DatabaseURL string `yaml:"databaseURL"`

	// AI provider: "gemini", "ollama", or "openai"
	AIProvider    string `yaml:"aiProvider"`
	GeminiAPIKey  string `yaml:"geminiApiKey"`
	GeminiModel   string `yaml:"geminiModel"`
	OllamaURL     string `yaml:"ollamaURL"`
	OllamaModel   string `yaml:"ollamaModel"`
	OpenAIBaseURL string `yaml:"openaiBaseURL"`
	OpenAIAPIKey  string `yaml:"openaiApiKey"`
	OpenAIModel   string `yaml:"openaiModel"`

	// ingest queue: empty redisAddr keeps ingestion on in-process goroutines
	RedisAddr        string `yaml:"redisAddr"`
	RedisPassword    string `yaml:"redisPassword"`
	QueueName        string `yaml:"queueName"`
	QueueGroup       string `yaml:"queueGroup"`
	QueueConcurrency int    `yaml:"queueConcurrency"`

	// lifecycle events: empty amqpURL disables publishing
	AMQPURL       string `yaml:"amqpURL"`
	EventExchange string `yaml:"eventExchange"`

	// file origins: MinIO when endpoint set, local uploadDir otherwise
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	UploadDir      string `yaml:"uploadDir"`

	// pipeline tuning
	RetryAttempts      int `yaml:"retryAttempts"`
	RetryDelaySeconds  int `yaml:"retryDelaySeconds"`
	CallTimeoutSeconds int `yaml:"callTimeoutSeconds"`
	ContextMaxItems    int `yaml:"contextMaxItems"`
	ContextItemBudget  int `yaml:"contextItemBudget"`
	ChatHistoryLimit   int `yaml:"chatHistoryLimit"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.StoreDriver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("AI_PROVIDER"); v != "" {
		cfg.AIProvider = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.GeminiModel = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		cfg.OllamaURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.OllamaModel = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("INGEST_QUEUE_NAME"); v != "" {
		cfg.QueueName = v
	}
	if v := os.Getenv("INGEST_QUEUE_GROUP"); v != "" {
		cfg.QueueGroup = v
	}
	if v := os.Getenv("INGEST_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("EVENT_EXCHANGE"); v != "" {
		cfg.EventExchange = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if useSSL, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = useSSL
		}
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.UploadDir = v
	}
	if v := os.Getenv("RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryAttempts = n
		}
	}
	if v := os.Getenv("RETRY_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryDelaySeconds = n
		}
	}
	if v := os.Getenv("CALL_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CallTimeoutSeconds = n
		}
	}
	if v := os.Getenv("CONTEXT_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ContextMaxItems = n
		}
	}
	if v := os.Getenv("CONTEXT_ITEM_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ContextItemBudget = n
		}
	}
	if v := os.Getenv("CHAT_HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ChatHistoryLimit = n
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required when storeDriver=postgres (set in config.yaml or DATABASE_URL)")
		}
	case "memory":
	default:
		return errors.New("config: storeDriver must be postgres or memory")
	}
	switch cfg.AIProvider {
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return errors.New("config: geminiApiKey is required when aiProvider=gemini (set in config.yaml or GEMINI_API_KEY)")
		}
	case "ollama":
		if cfg.OllamaURL == "" {
			return errors.New("config: ollamaURL is required when aiProvider=ollama")
		}
	case "openai":
		if cfg.OpenAIBaseURL == "" {
			return errors.New("config: openaiBaseURL is required when aiProvider=openai")
		}
	default:
		return errors.New("config: aiProvider must be gemini, ollama, or openai")
	}
	if cfg.RedisAddr != "" && cfg.QueueName == "" {
		return errors.New("config: queueName is required when redisAddr is set")
	}
	if cfg.QueueConcurrency < 0 {
		return errors.New("config: queueConcurrency must be >= 0")
	}
	if cfg.AMQPURL != "" && cfg.EventExchange == "" {
		return errors.New("config: eventExchange is required when amqpURL is set")
	}
	if cfg.MinioEndpoint != "" {
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minioAccessKey and minioSecretKey are required when minioEndpoint is set")
		}
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required when minioEndpoint is set")
		}
	}
	if cfg.RetryAttempts < 0 {
		return errors.New("config: retryAttempts must be >= 0")
	}
	if cfg.RetryDelaySeconds < 0 {
		return errors.New("config: retryDelaySeconds must be >= 0")
	}
	if cfg.CallTimeoutSeconds < 0 {
		return errors.New("config: callTimeoutSeconds must be >= 0")
	}
	if cfg.ContextMaxItems < 0 || cfg.ContextItemBudget < 0 {
		return errors.New("config: context settings must be >= 0")
	}
	if cfg.ChatHistoryLimit < 0 {
		return errors.New("config: chatHistoryLimit must be >= 0")
	}
	return nil
}
