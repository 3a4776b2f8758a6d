/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the pin-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	PhoenixAPIURL             string `mapstructure:"PHOENIX_API_URL"`
	PhoenixAPIPassword        string `mapstructure:"PHOENIX_API_PASSWORD"`
	NostrSecretKey            string `mapstructure:"NOSTR_SECRET_KEY"`
	NostrRelays               string `mapstructure:"NOSTR_RELAYS"`
	PinBaseURL                string `mapstructure:"PIN_BASE_URL"`
	NjumpBaseURL              string `mapstructure:"NJUMP_BASE_URL"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	PinEventExchange          string `mapstructure:"PIN_EVENT_EXCHANGE"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	NewInvoiceRateLimitPerMin int    `mapstructure:"NEW_INVOICE_RATE_LIMIT_PER_MINUTE"`
	PinSweepSchedule          string `mapstructure:"PIN_SWEEP_SCHEDULE"`
	StalePendingTTLMinutes    int    `mapstructure:"STALE_PENDING_TTL_MINUTES"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "3000")
	viper.SetDefault("PIN_BASE_URL", "https://zapin.me")
	viper.SetDefault("NJUMP_BASE_URL", "https://njump.me")
	viper.SetDefault("PIN_EVENT_EXCHANGE", "zapin.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "zapin:rate_limit")
	viper.SetDefault("NEW_INVOICE_RATE_LIMIT_PER_MINUTE", 12)
	viper.SetDefault("PIN_SWEEP_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("STALE_PENDING_TTL_MINUTES", 1440)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("PHOENIX_API_URL")
	_ = viper.BindEnv("PHOENIX_API_PASSWORD")
	_ = viper.BindEnv("NOSTR_SECRET_KEY")
	_ = viper.BindEnv("NOSTR_RELAYS")
	_ = viper.BindEnv("PIN_BASE_URL")
	_ = viper.BindEnv("NJUMP_BASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PIN_EVENT_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("NEW_INVOICE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("PIN_SWEEP_SCHEDULE")
	_ = viper.BindEnv("STALE_PENDING_TTL_MINUTES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.PinBaseURL = strings.TrimRight(strings.TrimSpace(config.PinBaseURL), "/")
	config.NjumpBaseURL = strings.TrimRight(strings.TrimSpace(config.NjumpBaseURL), "/")
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	// An explicitly blanked prefix falls back inside the limiter itself.
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)

	if config.NewInvoiceRateLimitPerMin < 0 {
		log.Printf("level=warn component=config msg=\"negative invoice rate limit configured; coercing to zero\" per_minute=%d", config.NewInvoiceRateLimitPerMin)
		config.NewInvoiceRateLimitPerMin = 0
	}
	if config.StalePendingTTLMinutes <= 0 {
		config.StalePendingTTLMinutes = 1440
	}

	return
}

// NostrRelayList splits the configured relay set into individual URLs.
func (c Config) NostrRelayList() []string {
	relays := []string{}
	for _, relay := range strings.Split(c.NostrRelays, ",") {
		relay = strings.TrimSpace(relay)
		if relay != "" {
			relays = append(relays, relay)
		}
	}
	return relays
}
