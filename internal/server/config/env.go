package config

import "os"

// Environment variable names. CLINVAULT_MASTER_KEY is the only way to supply
// the field-encryption master key.
const (
	EnvMasterKey   = "CLINVAULT_MASTER_KEY"
	EnvSecretKey   = "CLINVAULT_SECRET_KEY"
	EnvDatabaseDSN = "CLINVAULT_DATABASE_DSN"
	EnvRedisAddr   = "CLINVAULT_REDIS_ADDR"
)

// parseEnv overlays secrets and connection strings from the environment.
// Only set variables override earlier layers.
func parseEnv(config *Config) {
	if v := os.Getenv(EnvMasterKey); v != "" {
		config.MasterKeyHex = v
	}
	if v := os.Getenv(EnvSecretKey); v != "" {
		config.SecretKey = v
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		config.DatabaseDSN = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		config.RedisAddr = v
	}
}
