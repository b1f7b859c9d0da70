package app

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	DataDir  string
	SaveDir  string // default save path for adds that do not specify one
	ResumeDir string

	StateBackend    string // "jsonfile" or "mongo"
	StatePath       string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	ListenPort         int
	DownloadRateLimit  int64 // bytes/sec, 0 = unlimited
	UploadRateLimit    int64
	MaxConnsPerTorrent int // 0 = engine default
	DHTEnabled         bool
	PEXEnabled         bool
	UTPEnabled         bool
	SeedingEnabled     bool
	MetadataTimeoutSec int64

	AlertPollIntervalMs int64
	StatusIntervalMs    int64
	ShutdownGraceMs     int64

	CORSAllowedOrigins []string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		DataDir:   getEnv("TORRENT_DATA_DIR", "data"),
		SaveDir:   getEnv("TORRENT_SAVE_DIR", "data"),
		ResumeDir: getEnv("TORRENT_RESUME_DIR", "resume"),

		StateBackend:    strings.ToLower(getEnv("STATE_BACKEND", "jsonfile")),
		StatePath:       getEnv("STATE_PATH", "state.json"),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:   getEnv("MONGO_DB", "torrentd"),
		MongoCollection: getEnv("MONGO_COLLECTION", "state"),

		ListenPort:         int(getEnvInt64("TORRENT_LISTEN_PORT", 0)),
		DownloadRateLimit:  getEnvInt64("TORRENT_DOWNLOAD_RATE_LIMIT", 0),
		UploadRateLimit:    getEnvInt64("TORRENT_UPLOAD_RATE_LIMIT", 0),
		MaxConnsPerTorrent: int(getEnvInt64("TORRENT_MAX_CONNS", 0)),
		DHTEnabled:         getEnvBool("TORRENT_DHT_ENABLED", true),
		PEXEnabled:         getEnvBool("TORRENT_PEX_ENABLED", true),
		UTPEnabled:         getEnvBool("TORRENT_UTP_ENABLED", true),
		SeedingEnabled:     getEnvBool("TORRENT_SEEDING_ENABLED", true),
		MetadataTimeoutSec: getEnvInt64("TORRENT_METADATA_TIMEOUT_SEC", 600),

		AlertPollIntervalMs: getEnvInt64("ALERT_POLL_INTERVAL_MS", 100),
		StatusIntervalMs:    getEnvInt64("STATUS_INTERVAL_MS", 1000),
		ShutdownGraceMs:     getEnvInt64("SHUTDOWN_GRACE_MS", 2000),

		CORSAllowedOrigins: parseCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
