package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Webhook processing
	WorkerCount   int
	QueueCapacity int

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// OpenAI
	OpenAIAPIKey          string
	OpenAIModel           string
	OpenAIExtractionModel string

	// Avito messenger
	AvitoBaseURL            string
	AvitoClientID           string
	AvitoClientSecret       string
	AvitoUserID             string
	AvitoWebhookSecret      string
	AvitoAutoReplyEnabled   bool
	AvitoResponseDelay      time.Duration
	AvitoTokenRefreshMargin time.Duration
	AvitoSyncEnabled        bool
	AvitoSyncInterval       time.Duration

	// amoCRM
	AmoCRMBaseURL     string
	AmoCRMClientID    string
	AmoCRMSecret      string
	AmoCRMRedirectURI string
	AmoCRMPipelineID  int64

	// Conversation lifecycle
	ConversationTTL time.Duration
	LeadCacheTTL    time.Duration

	// Extraction confidence gates
	NameExtractionThreshold  float64
	PhoneExtractionThreshold float64
	NeedExtractionThreshold  float64
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		WorkerCount:   getEnvAsInt("WORKER_COUNT", 3),
		QueueCapacity: getEnvAsInt("QUEUE_CAPACITY", 1000),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4o"),
		OpenAIExtractionModel: getEnv("OPENAI_EXTRACTION_MODEL", "gpt-4o-mini"),

		AvitoBaseURL:            getEnv("AVITO_BASE_URL", "https://api.avito.ru"),
		AvitoClientID:           getEnv("AVITO_CLIENT_ID", ""),
		AvitoClientSecret:       getEnv("AVITO_CLIENT_SECRET", ""),
		AvitoUserID:             getEnv("AVITO_USER_ID", ""),
		AvitoWebhookSecret:      getEnv("AVITO_WEBHOOK_SECRET", ""),
		AvitoAutoReplyEnabled:   getEnvAsBool("AVITO_AUTO_REPLY_ENABLED", true),
		AvitoResponseDelay:      getEnvAsDuration("AVITO_RESPONSE_DELAY", 2*time.Second),
		AvitoTokenRefreshMargin: getEnvAsDuration("AVITO_TOKEN_REFRESH_MARGIN", 5*time.Minute),
		AvitoSyncEnabled:        getEnvAsBool("AVITO_SYNC_ENABLED", false),
		AvitoSyncInterval:       getEnvAsDuration("AVITO_SYNC_INTERVAL", time.Hour),

		AmoCRMBaseURL:     getEnv("AMOCRM_BASE_URL", ""),
		AmoCRMClientID:    getEnv("AMOCRM_CLIENT_ID", ""),
		AmoCRMSecret:      getEnv("AMOCRM_CLIENT_SECRET", ""),
		AmoCRMRedirectURI: getEnv("AMOCRM_REDIRECT_URI", ""),
		AmoCRMPipelineID:  int64(getEnvAsInt("AMOCRM_PIPELINE_ID", 10230522)),

		ConversationTTL: getEnvAsDuration("CONVERSATION_TTL", 24*time.Hour),
		LeadCacheTTL:    getEnvAsDuration("LEAD_CACHE_TTL", 72*time.Hour),

		NameExtractionThreshold:  getEnvAsFloat("NAME_EXTRACTION_THRESHOLD", 0.7),
		PhoneExtractionThreshold: getEnvAsFloat("PHONE_EXTRACTION_THRESHOLD", 0.8),
		NeedExtractionThreshold:  getEnvAsFloat("NEED_EXTRACTION_THRESHOLD", 0.6),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
