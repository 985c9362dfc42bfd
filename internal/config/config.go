package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                     string   `mapstructure:"PORT"`
	Env                      string   `mapstructure:"ENV"`
	AuthMode                 string   `mapstructure:"AUTH_MODE"`
	DatabaseURL              string   `mapstructure:"DATABASE_URL"`
	TenantDSNTemplate        string   `mapstructure:"TENANT_DSN_TEMPLATE"`
	DBMaxConns               int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns               int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer               string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL              string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience             string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins              []string `mapstructure:"CORS_ORIGINS"`
	MigrationsDir            string   `mapstructure:"MIGRATIONS_DIR"`
	AuditSigningKey          string   `mapstructure:"AUDIT_SIGNING_KEY"`
	AuditSigningPreviousKeys string   `mapstructure:"AUDIT_SIGNING_PREVIOUS_KEYS"`
	VerifyBatchSize          int      `mapstructure:"VERIFY_BATCH_SIZE"`
	VerifyConcurrency        int      `mapstructure:"VERIFY_CONCURRENCY"`
	RateLimitRPS             float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst           int      `mapstructure:"RATE_LIMIT_BURST"`
	StudyRateLimitRPS        float64  `mapstructure:"STUDY_RATE_LIMIT_RPS"`
	StudyRateLimitBurst      int      `mapstructure:"STUDY_RATE_LIMIT_BURST"`
	TLSEnabled               bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile              string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile               string   `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("VERIFY_BATCH_SIZE", 500)
	v.SetDefault("VERIFY_CONCURRENCY", 4)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("TENANT_DSN_TEMPLATE")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("AUDIT_SIGNING_KEY")
	v.BindEnv("AUDIT_SIGNING_PREVIOUS_KEYS")
	v.BindEnv("VERIFY_BATCH_SIZE")
	v.BindEnv("VERIFY_CONCURRENCY")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("STUDY_RATE_LIMIT_RPS")
	v.BindEnv("STUDY_RATE_LIMIT_BURST")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (no auth, all requests get admin)
//   - Otherwise       → "external" (Keycloak, Auth0, etc.)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// SigningKey decodes AUDIT_SIGNING_KEY into the 32-byte HMAC key used to seal
// new audit events. It returns nil when no key is configured; callers decide
// whether that is acceptable for the current environment.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuditSigningKey == "" {
		return nil, nil
	}
	return decodeSigningKey(c.AuditSigningKey)
}

// PreviousSigningKeys decodes the comma-separated AUDIT_SIGNING_PREVIOUS_KEYS
// list. Events sealed before a key rotation verify against these keys while
// new events are sealed only with the current key.
func (c *Config) PreviousSigningKeys() ([][]byte, error) {
	if c.AuditSigningPreviousKeys == "" {
		return nil, nil
	}
	var keys [][]byte
	for i, part := range strings.Split(c.AuditSigningPreviousKeys, ",") {
		key, err := decodeSigningKey(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("AUDIT_SIGNING_PREVIOUS_KEYS entry %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func decodeSigningKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("signing key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("signing key must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

// Validate checks that the configuration is safe to run. In non-development
// modes AUTH_ISSUER must be set so that real JWT authentication is enforced.
// AUDIT_SIGNING_KEY is required in production and, when present, must decode
// to a 32-byte key.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode == "external" && c.AuthIssuer == "" {
		return fmt.Errorf(
			"AUTH_ISSUER must be set when AUTH_MODE is \"external\" (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if mode != "development" && mode != "external" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}

	if c.IsProduction() && c.AuditSigningKey == "" {
		return fmt.Errorf("AUDIT_SIGNING_KEY is required in production")
	}
	if c.AuditSigningKey != "" {
		if _, err := c.SigningKey(); err != nil {
			return fmt.Errorf("AUDIT_SIGNING_KEY: %w", err)
		}
	}
	if _, err := c.PreviousSigningKeys(); err != nil {
		return err
	}

	if c.IsProduction() && c.TenantDSNTemplate == "" {
		return fmt.Errorf("TENANT_DSN_TEMPLATE is required in production so study databases can be resolved")
	}
	if c.TenantDSNTemplate != "" && !strings.Contains(c.TenantDSNTemplate, "%s") {
		return fmt.Errorf("TENANT_DSN_TEMPLATE must contain a %%s placeholder for the study database name")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
