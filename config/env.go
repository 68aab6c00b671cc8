package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvPrivateKey  = "SNIPER_PRIVATE_KEY"
	EnvRelaySigner = "SNIPER_RELAY_SIGNER_KEY"
	EnvRPCEndpoint = "SNIPER_RPC_ENDPOINT"
	EnvQuoteAPIURL = "SNIPER_QUOTE_API_URL"
)

// SecureConfig holds key material supplied by the environment.
// The core never persists or generates keys itself.
type SecureConfig struct {
	PrivateKey     string
	RelaySignerKey string
}

// LoadEnv loads environment variables from .env file
func LoadEnv() error {
	return godotenv.Load()
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetRequiredEnv gets an environment variable or fails
func GetRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s not set", key)
	}
	return value, nil
}

// LoadSecureConfig reads signing keys from the environment.
func LoadSecureConfig() (*SecureConfig, error) {
	privateKey, err := GetRequiredEnv(EnvPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key not found: %w", err)
	}

	relayKey, err := GetRequiredEnv(EnvRelaySigner)
	if err != nil {
		return nil, fmt.Errorf("relay signer key not found: %w", err)
	}

	return &SecureConfig{
		PrivateKey:     privateKey,
		RelaySignerKey: relayKey,
	}, nil
}

// ApplyEnvOverrides lets the environment override endpoint settings.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvRPCEndpoint); v != "" {
		c.RPCEndpoint = v
	}
	if v := os.Getenv(EnvQuoteAPIURL); v != "" {
		c.QuoteAPIURL = v
	}
}
