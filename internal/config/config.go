package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port               string
	DatabaseURL        string
	AccessCode         string
	PollInterval       time.Duration
	BroadcastBatchSize int
	ChatHistoryLimit   int
	RateLimitPerMinute int
	RateLimitBurst     int
	S3Bucket           string
	S3PublicBaseURL    string
	UploadMaxBytes     int64
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:               port,
		DatabaseURL:        os.Getenv("DB_DSN"),
		AccessCode:         os.Getenv("ACCESS_CODE"),
		PollInterval:       readDurationSeconds("BROADCAST_POLL_SECONDS", 1),
		BroadcastBatchSize: readInt("BROADCAST_BATCH_SIZE", 100),
		ChatHistoryLimit:   readInt("CHAT_HISTORY_LIMIT", 100),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:    os.Getenv("S3_PUBLIC_BASE_URL"),
		UploadMaxBytes:     int64(readInt("UPLOAD_MAX_BYTES", 5<<20)),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
