/**
 * @description
 * This file handles the configuration management for the billing-service.
 * It uses the 'viper' library to load configuration from environment variables,
 * providing a centralized and consistent way to manage application settings.
 */
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort   string `mapstructure:"SERVER_PORT"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	ClerkJWKSURL string `mapstructure:"CLERK_JWKS_URL"`
	RedisURL     string `mapstructure:"REDIS_URL"`
	RabbitMQURL  string `mapstructure:"RABBITMQ_URL"`

	DarajaBaseURL         string `mapstructure:"DARAJA_BASE_URL"`
	DarajaConsumerKey     string `mapstructure:"DARAJA_CONSUMER_KEY"`
	DarajaConsumerSecret  string `mapstructure:"DARAJA_CONSUMER_SECRET"`
	DarajaShortcode       string `mapstructure:"DARAJA_SHORTCODE"`
	DarajaPasskey         string `mapstructure:"DARAJA_PASSKEY"`
	DarajaCallbackURL     string `mapstructure:"DARAJA_CALLBACK_URL"`
	DarajaAccountRef      string `mapstructure:"DARAJA_ACCOUNT_REFERENCE"`
	DarajaTransactionDesc string `mapstructure:"DARAJA_TRANSACTION_DESC"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", "8086")
	// Sandbox endpoint; production deployments override this.
	viper.SetDefault("DARAJA_BASE_URL", "https://sandbox.safaricom.co.ke")
	viper.SetDefault("DARAJA_ACCOUNT_REFERENCE", "InvoPay")
	viper.SetDefault("DARAJA_TRANSACTION_DESC", "InvoPay subscription")
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range []string{
		"SERVER_PORT",
		"DATABASE_URL",
		"CLERK_JWKS_URL",
		"REDIS_URL",
		"RABBITMQ_URL",
		"DARAJA_BASE_URL",
		"DARAJA_CONSUMER_KEY",
		"DARAJA_CONSUMER_SECRET",
		"DARAJA_SHORTCODE",
		"DARAJA_PASSKEY",
		"DARAJA_CALLBACK_URL",
		"DARAJA_ACCOUNT_REFERENCE",
		"DARAJA_TRANSACTION_DESC",
	} {
		_ = viper.BindEnv(key)
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	for name, value := range map[string]string{
		"DATABASE_URL":           config.DatabaseURL,
		"DARAJA_CONSUMER_KEY":    config.DarajaConsumerKey,
		"DARAJA_CONSUMER_SECRET": config.DarajaConsumerSecret,
		"DARAJA_SHORTCODE":       config.DarajaShortcode,
		"DARAJA_PASSKEY":         config.DarajaPasskey,
		"DARAJA_CALLBACK_URL":    config.DarajaCallbackURL,
	} {
		if value == "" {
			return config, fmt.Errorf("required configuration %s is not set", name)
		}
	}

	return
}
