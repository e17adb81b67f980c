// Package config provides configuration loading and management for the phigital bridge service.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// In development, it loads .env and .env.local files if they exist.
// In production, it relies solely on system environment variables.
// The loading order ensures that system environment variables take precedence over .env files.
func init() {
	// godotenv.Load() does not override already-set environment variables,
	// preserving OS env > .env precedence

	// Load .env file if it exists (for shared development config)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Load .env.local if it exists (for local overrides, gitignored)
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Oracle modes.
const (
	OracleMinimal = "minimal"
	OracleEVM     = "evm"
)

// Config captures environment-driven settings for the bridge service.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	LogLevel    string // zap level name
	DatabaseDSN string // PostgreSQL connection string; wins over SQLitePath
	SQLitePath  string // SQLite database file
	NATSURL     string // NATS server URL

	S3Endpoint  string // S3-compatible storage endpoint for snapshots
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Prefix    string // Key prefix for snapshot objects

	JWTIssuer   string // Expected issuer for inspector tokens
	JWTAudience string // Expected audience for inspector tokens
	JWKSURL     string // Defaults to the issuer's /.well-known/jwks.json

	// HashSecret is the master key for verification hashes and inspection signatures.
	HashSecret          []byte
	HashSecretGenerated bool // true when a throwaway dev secret was generated

	QRBaseURL    string
	NFCBaseURL   string
	AssetBaseURL string

	OracleMode     string
	ChainRPCURLs   map[int64]string // network id -> JSON-RPC endpoint
	OracleCacheTTL time.Duration
	OracleRPS      float64

	NFCReadLatency     time.Duration
	NFCSupported       bool
	NFCEnabled         bool
	ScanSessionTimeout time.Duration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Default configuration values used when environment variables are not set
const (
	defaultPort         = "8080"
	defaultS3Region     = "us-east-1"
	defaultEnv          = "dev"
	defaultLogLevel     = "info"
	defaultS3Prefix     = "phigital/snapshots"
	defaultQRBaseURL    = "https://phigital-nft.com/verify"
	defaultNFCBaseURL   = "https://phigital-nft.com/nfc-verify"
	defaultAssetBaseURL = "https://phigital-nft.com/verify-asset"
	defaultCacheTTL     = 30 * time.Second
	defaultOracleRPS    = 10
	defaultReadLatency  = 200 * time.Millisecond
	defaultScanTimeout  = 30 * time.Second

	minHashSecretLen = 16
)

// Load reads environment variables and produces a Config suitable for wiring the service.
// Returns an error if required parameters are missing or invalid.
func Load() (Config, error) {
	cfg := Config{
		Env:                getEnv("PHG_ENV", defaultEnv),
		Port:               getEnv("PHG_PORT", defaultPort),
		LogLevel:           getEnv("PHG_LOG_LEVEL", defaultLogLevel),
		S3Region:           getEnv("PHG_S3_REGION", defaultS3Region),
		S3Prefix:           strings.Trim(getEnv("PHG_S3_PREFIX", defaultS3Prefix), "/"),
		QRBaseURL:          getEnv("PHG_QR_BASE_URL", defaultQRBaseURL),
		NFCBaseURL:         strings.TrimRight(getEnv("PHG_NFC_BASE_URL", defaultNFCBaseURL), "/"),
		AssetBaseURL:       strings.TrimRight(getEnv("PHG_ASSET_BASE_URL", defaultAssetBaseURL), "/"),
		OracleMode:         getEnv("PHG_ORACLE_MODE", OracleMinimal),
		OracleCacheTTL:     defaultCacheTTL,
		OracleRPS:          defaultOracleRPS,
		NFCReadLatency:     defaultReadLatency,
		NFCSupported:       true,
		NFCEnabled:         true,
		ScanSessionTimeout: defaultScanTimeout,
	}

	if dsn, exists := os.LookupEnv("PHG_DB_DSN"); exists {
		cfg.DatabaseDSN = dsn
	}
	if path, exists := os.LookupEnv("PHG_SQLITE_PATH"); exists {
		cfg.SQLitePath = path
	}
	if natsURL, exists := os.LookupEnv("PHG_NATS_URL"); exists {
		cfg.NATSURL = natsURL
	}
	if s3Endpoint, exists := os.LookupEnv("PHG_S3_ENDPOINT"); exists {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Bucket, exists := os.LookupEnv("PHG_S3_BUCKET"); exists {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey, exists := os.LookupEnv("PHG_S3_ACCESS_KEY"); exists {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey, exists := os.LookupEnv("PHG_S3_SECRET_KEY"); exists {
		cfg.S3SecretKey = s3SecretKey
	}
	if jwtIssuer, exists := os.LookupEnv("PHG_JWT_ISSUER"); exists {
		cfg.JWTIssuer = jwtIssuer
	}
	if jwtAudience, exists := os.LookupEnv("PHG_JWT_AUDIENCE"); exists {
		cfg.JWTAudience = jwtAudience
	}

	if (cfg.JWTIssuer == "") != (cfg.JWTAudience == "") {
		return cfg, fmt.Errorf("PHG_JWT_ISSUER and PHG_JWT_AUDIENCE must be set together")
	}
	cfg.JWKSURL = getEnv("PHG_JWKS_URL", "")
	if cfg.JWKSURL == "" && cfg.JWTIssuer != "" {
		cfg.JWKSURL = strings.TrimSuffix(cfg.JWTIssuer, "/") + "/.well-known/jwks.json"
	}

	switch cfg.OracleMode {
	case OracleMinimal, OracleEVM:
	default:
		return cfg, fmt.Errorf("PHG_ORACLE_MODE must be %q or %q, got %q", OracleMinimal, OracleEVM, cfg.OracleMode)
	}

	if raw, exists := os.LookupEnv("PHG_CHAIN_RPC_URLS"); exists {
		urls, err := ParseRPCURLs(raw)
		if err != nil {
			return cfg, err
		}
		cfg.ChainRPCURLs = urls
	}
	if cfg.OracleMode == OracleEVM && len(cfg.ChainRPCURLs) == 0 {
		return cfg, fmt.Errorf("PHG_CHAIN_RPC_URLS is required when PHG_ORACLE_MODE=evm")
	}

	var err error
	if cfg.OracleCacheTTL, err = durationEnv("PHG_ORACLE_CACHE_TTL", cfg.OracleCacheTTL); err != nil {
		return cfg, err
	}
	if cfg.NFCReadLatency, err = durationEnv("PHG_NFC_READ_LATENCY", cfg.NFCReadLatency); err != nil {
		return cfg, err
	}
	if cfg.ScanSessionTimeout, err = durationEnv("PHG_SCAN_SESSION_TIMEOUT", cfg.ScanSessionTimeout); err != nil {
		return cfg, err
	}

	if rps, exists := os.LookupEnv("PHG_ORACLE_RPS"); exists {
		v, err := strconv.ParseFloat(rps, 64)
		if err != nil || v < 0 {
			return cfg, fmt.Errorf("PHG_ORACLE_RPS must be a non-negative number, got %q", rps)
		}
		cfg.OracleRPS = v
	}

	if v, exists := os.LookupEnv("PHG_NFC_SUPPORTED"); exists {
		cfg.NFCSupported = parseBool(v)
	}
	if v, exists := os.LookupEnv("PHG_NFC_ENABLED"); exists {
		cfg.NFCEnabled = parseBool(v)
	}

	// Handle CORS configuration
	if corsOrigins, exists := os.LookupEnv("PHG_CORS_ALLOWED_ORIGINS"); exists && corsOrigins != "" {
		cfg.CORSAllowedOrigins = strings.Split(corsOrigins, ",")
		for i, origin := range cfg.CORSAllowedOrigins {
			cfg.CORSAllowedOrigins[i] = strings.TrimSpace(origin)
		}
	}

	secret := getEnv("PHG_HASH_SECRET", "")
	switch {
	case secret != "":
		if len(secret) < minHashSecretLen {
			return cfg, fmt.Errorf("PHG_HASH_SECRET must be at least %d bytes", minHashSecretLen)
		}
		cfg.HashSecret = []byte(secret)
	case cfg.Env == defaultEnv:
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return cfg, fmt.Errorf("generate dev hash secret: %w", err)
		}
		cfg.HashSecret = []byte(hex.EncodeToString(buf))
		cfg.HashSecretGenerated = true
	default:
		return cfg, fmt.Errorf("PHG_HASH_SECRET is required when PHG_ENV=%s", cfg.Env)
	}

	return cfg, nil
}

// ParseRPCURLs parses "1=https://a,137=https://b" into a network id map.
func ParseRPCURLs(raw string) (map[int64]string, error) {
	out := make(map[int64]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, url, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("PHG_CHAIN_RPC_URLS entry %q is not networkId=url", pair)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("PHG_CHAIN_RPC_URLS entry %q has an invalid network id", pair)
		}
		out[n] = strings.TrimSpace(url)
	}
	return out, nil
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback, fmt.Errorf("%s must be a non-negative duration, got %q", key, v)
	}
	return d, nil
}

// parseBool converts a string to a boolean value, returning false if parsing fails
func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
