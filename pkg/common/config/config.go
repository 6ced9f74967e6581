package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	PostgresMaxConns int
	EventsMigrate    bool

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers    []string
	KafkaGroupID    string
	RunRequestTopic string
	EvaluationTopic string
	KafkaConsumerOn bool

	// Terminology
	TerminologyPath     string
	TerminologyCacheTTL time.Duration

	// Indicators
	ReportsPath    string
	RunWorkers     int
	RunTimeout     time.Duration
	MaxPopulation  int
	RetrievalChunk int
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8087"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 120*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 4*1024*1024)),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "synaptica"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "synaptica123"),
		PostgresDB:       getEnv("POSTGRES_DB", "synaptica"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresMaxConns: getIntEnv("POSTGRES_MAX_CONNS", 16),
		EventsMigrate:    getBoolEnv("EVENTS_AUTO_MIGRATE", false),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "indicator-service"),
		RunRequestTopic: getEnv("KAFKA_RUN_REQUEST_TOPIC", "indicator-run-requests"),
		EvaluationTopic: getEnv("KAFKA_EVALUATION_TOPIC", "indicator-evaluations"),
		KafkaConsumerOn: getBoolEnv("KAFKA_CONSUMER_ENABLED", false),

		TerminologyPath:     getEnv("TERMINOLOGY_CATALOG_PATH", ""),
		TerminologyCacheTTL: getDuration("TERMINOLOGY_CACHE_TTL", 10*time.Minute),

		ReportsPath:    getEnv("INDICATOR_REPORTS_PATH", ""),
		RunWorkers:     getIntEnv("INDICATOR_RUN_WORKERS", 2),
		RunTimeout:     getDuration("INDICATOR_RUN_TIMEOUT", 10*time.Minute),
		MaxPopulation:  getIntEnv("INDICATOR_MAX_POPULATION", 500000),
		RetrievalChunk: getIntEnv("INDICATOR_RETRIEVAL_CHUNK", 5000),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
