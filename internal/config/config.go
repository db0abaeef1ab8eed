package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr string

	// Store selects the persistence backend: memory, sqlite or postgres.
	Store       string
	SQLitePath  string
	PostgresDSN string

	AudioRoot       string
	MaxUploadBytes  int64
	LocalWorkers    int
	NetworkWorkers  int
	StageTimeout    time.Duration
	StageMaxRetries int

	VADURL         string
	EnhancerURL    string
	TranscriberURL string
	ExtractorURL   string
	ExtractorModel string
	ExtractorKey   string
	CalendarURL    string
	CalendarToken  string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
}

func FromEnv() Config {
	return Config{
		ListenAddr: getenv("MEETPIPE_LISTEN_ADDR", ":8080"),

		Store:       getenv("MEETPIPE_STORE", "memory"),
		SQLitePath:  getenv("MEETPIPE_SQLITE_PATH", "meetpipe.db"),
		PostgresDSN: getenv("MEETPIPE_POSTGRES_DSN", ""),

		AudioRoot:       getenv("MEETPIPE_AUDIO_ROOT", "/tmp/meetpipe-audio"),
		MaxUploadBytes:  int64(getenvInt("MEETPIPE_MAX_UPLOAD_MB", 200)) * 1024 * 1024,
		LocalWorkers:    getenvInt("MEETPIPE_LOCAL_WORKERS", 2),
		NetworkWorkers:  getenvInt("MEETPIPE_NETWORK_WORKERS", 4),
		StageTimeout:    time.Duration(getenvInt("MEETPIPE_STAGE_TIMEOUT_SECONDS", 600)) * time.Second,
		StageMaxRetries: getenvInt("MEETPIPE_STAGE_MAX_RETRIES", 2),

		VADURL:         getenv("MEETPIPE_VAD_URL", ""),
		EnhancerURL:    getenv("MEETPIPE_ENHANCER_URL", ""),
		TranscriberURL: getenv("MEETPIPE_TRANSCRIBER_URL", ""),
		ExtractorURL:   getenv("MEETPIPE_EXTRACTOR_URL", ""),
		ExtractorModel: getenv("MEETPIPE_EXTRACTOR_MODEL", "gemini-2.0-flash"),
		ExtractorKey:   getenv("MEETPIPE_EXTRACTOR_API_KEY", ""),
		CalendarURL:    getenv("MEETPIPE_CALENDAR_URL", ""),
		CalendarToken:  getenv("MEETPIPE_CALENDAR_TOKEN", ""),

		MinIOEndpoint:  getenv("MEETPIPE_MINIO_ENDPOINT", ""),
		MinIOAccessKey: getenv("MEETPIPE_MINIO_ACCESS_KEY", ""),
		MinIOSecretKey: getenv("MEETPIPE_MINIO_SECRET_KEY", ""),
		MinIOBucket:    getenv("MEETPIPE_MINIO_BUCKET", "meetpipe-audio"),
		MinIOUseSSL:    getenvBool("MEETPIPE_MINIO_USE_SSL", false),
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}
