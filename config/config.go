package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	MinIO    MinIOConfig
	Kafka    KafkaConfig
	AI       AIConfig
	Pipeline PipelineConfig

	MetricsPort string
}

type DatabaseConfig struct {
	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string
}

type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
}

// Kafka topics: commands drive the orchestrator, events are published for the
// API layer to consume.
type KafkaConfig struct {
	Brokers      string
	CommandTopic string
	EventTopic   string
	GroupID      string
}

// AI endpoints. The extractor is an HTTP service turning file bytes into
// content blocks; scoring goes through an OpenRouter-compatible
// chat-completions endpoint.
type AIConfig struct {
	ExtractorEndpoint string
	ScorerEndpoint    string
	APIKey            string
	VisionModel       string
	TextModel         string
	TimeoutSecond     int
}

type PipelineConfig struct {
	Workers           int
	VisionConcurrency int
	TextConcurrency   int
	MaxAttempts       int
	FrameInterval     int
	MaxVideoFrames    int
}

func Load() *Config {
	_ = godotenv.Load()
	return &Config{
		Database: DatabaseConfig{
			DBUser:     os.Getenv("DB_USER"),
			DBPassword: os.Getenv("DB_PASSWORD"),
			DBName:     os.Getenv("DB_NAME"),
			DBHost:     getEnv("DB_HOST", "localhost"),
			DBPort:     getEnv("DB_PORT", "5432"),
		},
		MinIO: MinIOConfig{
			Endpoint:        os.Getenv("MINIO_ENDPOINT"),
			AccessKeyID:     os.Getenv("MINIO_ACCESS_KEY"),
			SecretAccessKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:          false,
			BucketName:      getEnv("MINIO_BUCKET_NAME", "review-files"),
		},
		Kafka: KafkaConfig{
			Brokers:      os.Getenv("KAFKA_BROKERS"),
			CommandTopic: getEnv("KAFKA_TOPIC_TASK_COMMANDS", "review.task.commands"),
			EventTopic:   getEnv("KAFKA_TOPIC_TASK_EVENTS", "review.task.events"),
			GroupID:      getEnv("KAFKA_GROUP_ID", "review-worker"),
		},
		AI: AIConfig{
			ExtractorEndpoint: os.Getenv("EXTRACTOR_ENDPOINT"),
			ScorerEndpoint:    getEnv("SCORER_ENDPOINT", "https://openrouter.ai/api/v1/chat/completions"),
			APIKey:            os.Getenv("SCORER_API_KEY"),
			VisionModel:       getEnv("VISION_MODEL", "qwen/qwen2.5-vl-32b-instruct"),
			TextModel:         getEnv("TEXT_MODEL", "qwen/qwen2.5-72b-instruct"),
			TimeoutSecond:     getEnvInt("AI_TIMEOUT", 30),
		},
		Pipeline: PipelineConfig{
			Workers:           getEnvInt("PIPELINE_WORKERS", 8),
			VisionConcurrency: getEnvInt("VISION_CONCURRENCY", 4),
			TextConcurrency:   getEnvInt("TEXT_CONCURRENCY", 4),
			MaxAttempts:       getEnvInt("SCORER_MAX_ATTEMPTS", 4),
			FrameInterval:     getEnvInt("DEFAULT_FRAME_INTERVAL", 5),
			MaxVideoFrames:    getEnvInt("MAX_FRAMES_PER_VIDEO", 100),
		},
		MetricsPort: getEnv("METRICS_PORT", "2112"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		_, err := fmt.Sscanf(v, "%d", &out)
		if err == nil {
			return out
		}
	}
	return def
}
