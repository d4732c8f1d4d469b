package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration. Priority: command-line flags >
// environment variables > .env file > defaults.
type Config struct {
	SignalingAddr string
	STUNAddr      string
	TURNAddr      string

	LogLevel string
	Env      string

	DatabaseURL string
	JSONLPath   string

	TLSEnabled  bool
	TLSCertPath string
	TLSKeyPath  string

	KeepalivePingInt  time.Duration
	KeepalivePongWait time.Duration
	WriteDeadline     time.Duration
}

// Load parses and returns the application configuration.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		// A malformed .env is worth surfacing; a missing one is not.
		os.Stderr.WriteString("config: failed to load .env: " + err.Error() + "\n")
	}

	signalingAddr := flag.String("addr", getEnv("SIGNALING_ADDR", ":8080"), "signaling HTTP/WebSocket address")
	stunAddr := flag.String("stun-addr", getEnv("STUN_ADDR", ":3478"), "STUN UDP listen address")
	turnAddr := flag.String("turn-addr", getEnv("TURN_ADDR", ":3479"), "TURN UDP listen address")
	logLevel := flag.String("log-level", getEnv("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	env := flag.String("env", getEnv("ENVIRONMENT", "development"), "environment (development, staging, production)")
	databaseURL := flag.String("database-url", getEnv("DATABASE_URL", ""), "postgres connection string for the persistence sink")
	jsonlPath := flag.String("jsonl-path", getEnv("JSONL_PATH", "inference_log.jsonl"), "path to the inference append-log")
	tlsEnabled := flag.Bool("tls", getEnvBool("TLS_ENABLED", true), "serve signaling and ops traffic over TLS")
	tlsCertPath := flag.String("tls-cert", getEnv("TLS_CERT_PATH", "cert.pem"), "TLS certificate path")
	tlsKeyPath := flag.String("tls-key", getEnv("TLS_KEY_PATH", "key.pem"), "TLS key path")
	pingInt := flag.String("keepalive-ping", getEnv("KEEPALIVE_PING", "30"), "keepalive ping interval in seconds")
	pongWait := flag.String("keepalive-pong", getEnv("KEEPALIVE_PONG", "60"), "keepalive pong wait time in seconds")
	writeDeadline := flag.String("write-deadline", getEnv("WRITE_DEADLINE", "5"), "write operation timeout in seconds")
	flag.Parse()

	pingIntSecs, _ := strconv.ParseInt(*pingInt, 10, 64)
	pongWaitSecs, _ := strconv.ParseInt(*pongWait, 10, 64)
	writeDeadlineSecs, _ := strconv.ParseInt(*writeDeadline, 10, 64)

	return &Config{
		SignalingAddr:     *signalingAddr,
		STUNAddr:          *stunAddr,
		TURNAddr:          *turnAddr,
		LogLevel:          strings.ToLower(*logLevel),
		Env:               strings.ToLower(*env),
		DatabaseURL:       *databaseURL,
		JSONLPath:         *jsonlPath,
		TLSEnabled:        *tlsEnabled,
		TLSCertPath:       *tlsCertPath,
		TLSKeyPath:        *tlsKeyPath,
		KeepalivePingInt:  time.Duration(pingIntSecs) * time.Second,
		KeepalivePongWait: time.Duration(pongWaitSecs) * time.Second,
		WriteDeadline:     time.Duration(writeDeadlineSecs) * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
