package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	JWT      JWTConfig
	Realtime RealtimeConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type MongoConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	URL string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type JWTConfig struct {
	Secret         string
	ExpirationTime time.Duration
}

type RealtimeConfig struct {
	// OfflineGrace is the debounce window between a user's last disconnect
	// and the offline fan-out.
	OfflineGrace time.Duration

	// HeartbeatInterval drives the silent-connection sweep; three missed
	// intervals force a disconnect.
	HeartbeatInterval time.Duration
}

var (
	ConfigInstance *Config
	once           sync.Once
)

// LoadConfig reads configuration from environment variables with defaults.
func LoadConfig() (*Config, error) {
	once.Do(func() {
		viper.SetDefault("PICTTEXT_HOST", "0.0.0.0")
		viper.SetDefault("PICTTEXT_PORT", "8080")
		viper.SetDefault("PICTTEXT_READ_TIMEOUT", 30*time.Second)
		viper.SetDefault("PICTTEXT_WRITE_TIMEOUT", 30*time.Second)
		viper.SetDefault("PICTTEXT_IDLE_TIMEOUT", 60*time.Second)
		viper.SetDefault("MONGO_URI", "mongodb://localhost:27017")
		viper.SetDefault("MONGO_DB", "picttext")
		viper.SetDefault("REDIS_URL", "redis://127.0.0.1:6379/0")
		viper.SetDefault("KAFKA_BROKERS", "")
		viper.SetDefault("KAFKA_TOPIC", "picttext.events")
		viper.SetDefault("PICTTEXT_JWT_SECRET", "secret")
		viper.SetDefault("PICTTEXT_JWT_EXPIRE", 24*time.Hour)
		viper.SetDefault("REALTIME_OFFLINE_GRACE", 1*time.Second)
		viper.SetDefault("REALTIME_HEARTBEAT_INTERVAL", 30*time.Second)
		viper.AutomaticEnv()

		var brokers []string
		if raw := viper.GetString("KAFKA_BROKERS"); raw != "" {
			for _, b := range strings.Split(raw, ",") {
				brokers = append(brokers, strings.TrimSpace(b))
			}
		}

		ConfigInstance = &Config{
			Server: ServerConfig{
				Host:         viper.GetString("PICTTEXT_HOST"),
				Port:         viper.GetString("PICTTEXT_PORT"),
				ReadTimeout:  viper.GetDuration("PICTTEXT_READ_TIMEOUT"),
				WriteTimeout: viper.GetDuration("PICTTEXT_WRITE_TIMEOUT"),
				IdleTimeout:  viper.GetDuration("PICTTEXT_IDLE_TIMEOUT"),
			},
			Mongo: MongoConfig{
				URI:      viper.GetString("MONGO_URI"),
				Database: viper.GetString("MONGO_DB"),
			},
			Redis: RedisConfig{
				URL: viper.GetString("REDIS_URL"),
			},
			Kafka: KafkaConfig{
				Brokers: brokers,
				Topic:   viper.GetString("KAFKA_TOPIC"),
			},
			JWT: JWTConfig{
				Secret:         viper.GetString("PICTTEXT_JWT_SECRET"),
				ExpirationTime: viper.GetDuration("PICTTEXT_JWT_EXPIRE"),
			},
			Realtime: RealtimeConfig{
				OfflineGrace:      viper.GetDuration("REALTIME_OFFLINE_GRACE"),
				HeartbeatInterval: viper.GetDuration("REALTIME_HEARTBEAT_INTERVAL"),
			},
		}
	})
	return ConfigInstance, nil
}
