// Package config loads the server's runtime configuration from
// environment variables, optionally seeded from a .env file the way
// the reference server's go.mod anticipates (via joho/godotenv) even
// though its own main.go never got around to calling it.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every tunable the reference server reads from its
// environment, grouped by the subsystem that consumes it.
type Config struct {
	BindAddress           string
	RTMPPort              int
	HTTPPort              int
	SSLPort               int
	SSLCert               string
	SSLKey                string
	SSLReloadCheckSeconds int

	MaxIPConcurrentConnections uint32
	ConcurrentLimitWhitelist   string

	GOPCacheLimitBytes int64

	CallbackURL       string
	JWTSecret         string
	JWTSubject        string
	JWTExpirationSecs int

	ControlBaseURL string
	ControlSecret  string
	ExternalIP     string
	ExternalPort   int
	ExternalSSL    bool

	RedisUse      bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisChannel  string
	RedisTLS      bool

	DefaultChunkSize uint32

	LogDebugEnabled bool
}

// Load reads a .env file if present (silently ignoring its absence)
// and then builds a Config from the process environment, applying
// the same defaults the reference server hard-codes.
func Load() *Config {
	_ = godotenv.Load()

	c := &Config{
		BindAddress:           os.Getenv("BIND_ADDRESS"),
		RTMPPort:              envInt("RTMP_PORT", 1935),
		HTTPPort:              envInt("HTTP_PORT", 8080),
		SSLPort:               envInt("SSL_PORT", 443),
		SSLCert:               os.Getenv("SSL_CERT"),
		SSLKey:                os.Getenv("SSL_KEY"),
		SSLReloadCheckSeconds: envInt("SSL_RELOAD_CHECK_SECONDS", 60),

		MaxIPConcurrentConnections: uint32(envInt("MAX_IP_CONCURRENT_CONNECTIONS", 4)),
		ConcurrentLimitWhitelist:   os.Getenv("CONCURRENT_LIMIT_WHITELIST"),

		GOPCacheLimitBytes: int64(envInt("GOP_CACHE_SIZE_MB", 256)) * 1024 * 1024,

		CallbackURL:       os.Getenv("CALLBACK_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		JWTSubject:        envString("CUSTOM_JWT_SUBJECT", "rtmp_event"),
		JWTExpirationSecs: envInt("JWT_EXPIRATION_TIME_SECONDS", 120),

		ControlBaseURL: os.Getenv("CONTROL_BASE_URL"),
		ControlSecret:  os.Getenv("CONTROL_SECRET"),
		ExternalIP:     os.Getenv("EXTERNAL_IP"),
		ExternalPort:   envInt("EXTERNAL_PORT", 0),
		ExternalSSL:    os.Getenv("EXTERNAL_SSL") == "YES",

		RedisUse:      os.Getenv("REDIS_USE") == "YES",
		RedisHost:     envString("REDIS_HOST", "localhost"),
		RedisPort:     envString("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisChannel:  envString("REDIS_CHANNEL", "rtmp_commands"),
		RedisTLS:      os.Getenv("REDIS_TLS") == "YES",

		DefaultChunkSize: uint32(envInt("RTMP_CHUNK_SIZE", 128)),

		LogDebugEnabled: os.Getenv("LOG_DEBUG") == "YES",
	}

	return c
}

// IPWhitelistSpecs splits the whitelist setting ("*" or a
// comma-separated list of CIDR/range expressions) that exempts IPs
// from the concurrent-connection limit, returning nil when it is
// unset. Matching an IP against the specs is done by the caller using
// sysutil's range parser since that's where the iprange dependency
// lives.
func (c *Config) IPWhitelistSpecs() []string {
	if c.ConcurrentLimitWhitelist == "" {
		return nil
	}
	if c.ConcurrentLimitWhitelist == "*" {
		return []string{"*"}
	}
	return strings.Split(c.ConcurrentLimitWhitelist, ",")
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envString(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
