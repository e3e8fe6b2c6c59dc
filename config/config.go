package config

import (
	"os"
	"strconv"
	"time"
)

// Config is built once in main and injected everywhere. Push providers in
// particular are constructed from this struct instead of being discovered
// through lazily-initialized globals.
type Config struct {
	Port   string
	NodeID int64

	Mongo MongoConfig
	Redis RedisConfig
	Nats  NatsConfig
	JWT   JWTConfig
	Push  PushConfig

	PresenceTTL time.Duration
}

type MongoConfig struct {
	URI         string
	Database    string
	MaxPoolSize uint64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type NatsConfig struct {
	URL  string
	Name string
}

type JWTConfig struct {
	Secret string
}

type PushConfig struct {
	FirebaseCredentialsFile string

	APNSAuthKeyFile string
	APNSKeyID       string
	APNSTeamID      string
	APNSTopic       string
	APNSSandbox     bool
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8090"),
		NodeID:      getEnvInt64("NODE_ID", 1),
		PresenceTTL: time.Duration(getEnvInt64("PRESENCE_TTL_SECONDS", 60)) * time.Second,
		Mongo: MongoConfig{
			URI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:    getEnv("MONGO_DATABASE", "consultchat"),
			MaxPoolSize: uint64(getEnvInt64("MONGO_MAX_POOL", 20)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       int(getEnvInt64("REDIS_DB", 0)),
			PoolSize: int(getEnvInt64("REDIS_POOL", 10)),
		},
		Nats: NatsConfig{
			URL:  getEnv("NATS_URL", "nats://127.0.0.1:4222"),
			Name: getEnv("NATS_NAME", "consultchat-gateway"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "dev-only-secret"),
		},
		Push: PushConfig{
			FirebaseCredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
			APNSAuthKeyFile:         getEnv("APNS_AUTH_KEY_FILE", ""),
			APNSKeyID:               getEnv("APNS_KEY_ID", ""),
			APNSTeamID:              getEnv("APNS_TEAM_ID", ""),
			APNSTopic:               getEnv("APNS_TOPIC", ""),
			APNSSandbox:             getEnv("APNS_SANDBOX", "true") == "true",
		},
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
