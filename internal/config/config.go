package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string
	DatabaseURL string // MySQL DSN: user:pass@tcp(host:port)/dbname?parseTime=true
	MongoURL    string

	// Provider API keys. An empty key means the provider is unavailable
	// unless the caller supplies a key on the request.
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string
	DeepseekAPIKey  string
	XAIAPIKey       string
	GroqAPIKey      string
	CerebrasAPIKey  string

	// Hosted execution: users without their own key are served by rotating
	// server-managed OpenAI keys, restricted to HostedModels.
	HostedKeys   []string
	HostedModels []string

	// AllowServerKeys permits serving any model on the provider API keys
	// above. Off by default: requests outside the hosted allow-list must
	// carry their own key.
	AllowServerKeys bool

	// Local inference (OpenAI-compatible endpoint, e.g. Ollama)
	OllamaURL string

	PricingFile string

	AllowedOrigins string
}

// Load loads configuration from environment variables with defaults.
// A .env file in the working directory is applied first if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "3001"),
		Environment: getEnv("ENVIRONMENT", "development"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoURL:    getEnv("MONGO_URL", ""),

		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GoogleAPIKey:    getEnv("GOOGLE_API_KEY", ""),
		DeepseekAPIKey:  getEnv("DEEPSEEK_API_KEY", ""),
		XAIAPIKey:       getEnv("XAI_API_KEY", ""),
		GroqAPIKey:      getEnv("GROQ_API_KEY", ""),
		CerebrasAPIKey:  getEnv("CEREBRAS_API_KEY", ""),

		HostedKeys:   getListEnv("HOSTED_OPENAI_KEYS"),
		HostedModels: getListEnvDefault("HOSTED_MODELS", []string{"gpt-4o", "gpt-4o-mini"}),

		AllowServerKeys: getBoolEnv("ALLOW_SERVER_KEYS", false),

		OllamaURL: getEnv("OLLAMA_URL", "http://localhost:11434/v1"),

		PricingFile: getEnv("PRICING_FILE", "pricing.yaml"),

		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"),
	}
}

// ModelPricing is the per-million-token price for one model.
type ModelPricing struct {
	Input       float64 `yaml:"input"`
	Output      float64 `yaml:"output"`
	CachedInput float64 `yaml:"cachedInput,omitempty"`
}

// PricingTable maps model name to its pricing.
type PricingTable map[string]ModelPricing

// LoadPricing loads the model pricing table from a YAML file.
func LoadPricing(filePath string) (PricingTable, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}

	var table PricingTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse pricing YAML: %w", err)
	}

	return table, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getListEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func getListEnvDefault(key string, defaultValue []string) []string {
	if list := getListEnv(key); list != nil {
		return list
	}
	return defaultValue
}
