package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BETCHANNEL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BETCHANNEL_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This lets
// operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "BETCHANNEL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BETCHANNEL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BETCHANNEL_SERVER_API_KEY")

	// ── Store ──
	setStr(&cfg.Store.Backend, "BETCHANNEL_STORE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BETCHANNEL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BETCHANNEL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BETCHANNEL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BETCHANNEL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BETCHANNEL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BETCHANNEL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BETCHANNEL_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BETCHANNEL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BETCHANNEL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BETCHANNEL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BETCHANNEL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BETCHANNEL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BETCHANNEL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BETCHANNEL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BETCHANNEL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BETCHANNEL_REDIS_TLS_ENABLED")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "BETCHANNEL_ORACLE_BASE_URL")
	setInt(&cfg.Oracle.MaxMarkets, "BETCHANNEL_ORACLE_MAX_MARKETS")

	// ── Chain ──
	setBool(&cfg.Chain.Enabled, "BETCHANNEL_CHAIN_ENABLED")
	setStr(&cfg.Chain.RPCURL, "BETCHANNEL_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "BETCHANNEL_CHAIN_ID")
	setStr(&cfg.Chain.CustodyAddress, "BETCHANNEL_CHAIN_CUSTODY_ADDRESS")
	setStr(&cfg.Chain.OracleKey, "BETCHANNEL_CHAIN_ORACLE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "BETCHANNEL_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "BETCHANNEL_CHAIN_KEY_PASSWORD")

	// ── Relay ──
	setBool(&cfg.Relay.Enabled, "BETCHANNEL_RELAY_ENABLED")
	setStr(&cfg.Relay.URL, "BETCHANNEL_RELAY_URL")
	setDuration(&cfg.Relay.RequestTimeout, "BETCHANNEL_RELAY_REQUEST_TIMEOUT")
	setInt(&cfg.Relay.QueueSize, "BETCHANNEL_RELAY_QUEUE_SIZE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BETCHANNEL_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "BETCHANNEL_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "BETCHANNEL_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.Archive.BatchSize, "BETCHANNEL_ARCHIVE_BATCH_SIZE")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BETCHANNEL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BETCHANNEL_S3_REGION")
	setStr(&cfg.S3.Bucket, "BETCHANNEL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BETCHANNEL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BETCHANNEL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BETCHANNEL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BETCHANNEL_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BETCHANNEL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BETCHANNEL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BETCHANNEL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BETCHANNEL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "BETCHANNEL_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
