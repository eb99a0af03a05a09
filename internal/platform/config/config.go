// Package config loads process configuration from the environment.
//
// Variables use the LEGISLA_ prefix. A .env file in the working directory is
// loaded first when present; real environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full process configuration.
type Config struct {
	Server   Server
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	Plenary  PlenaryConfig
	Roster   RosterConfig
	Tx       TxConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	LogLevel        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// PostgresConfig selects the Postgres stores when URL is set; otherwise the
// process runs on in-memory stores.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig enables the read-side cache when URL is set.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ResultTTL    time.Duration
}

// KafkaConfig enables domain event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers           []string
	Topic             string
	ClientID          string
	Partitions        int32
	ReplicationFactor int16
}

// AuthConfig verifies bearer tokens issued by the chamber's identity
// provider. Issuance happens elsewhere.
type AuthConfig struct {
	JWTSigningKey string
	Issuer        string
	Audience      string
}

// PlenaryConfig holds floor rules.
type PlenaryConfig struct {
	// QuorumMinimum is the number of present members below which opening a
	// vote produces a warning.
	QuorumMinimum int
}

// RosterConfig points at reference data loaded at startup.
type RosterConfig struct {
	// SeedFile is a YAML committee roster applied on every start.
	SeedFile string
	// RoutingCatalog replaces the embedded routing catalog when set.
	RoutingCatalog string
}

// TxConfig bounds transaction duration.
type TxConfig struct {
	Timeout time.Duration
}

// Load reads the optional env files (".env" when none are given) and builds
// a Config from the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var errs []error
	cfg := Config{
		Server: Server{
			Addr:            getEnv("LEGISLA_ADDR", ":8080"),
			LogLevel:        getEnv("LEGISLA_LOG_LEVEL", "info"),
			RequestTimeout:  getDuration("LEGISLA_REQUEST_TIMEOUT", 10*time.Second, &errs),
			ShutdownTimeout: getDuration("LEGISLA_SHUTDOWN_TIMEOUT", 15*time.Second, &errs),
		},
		Postgres: PostgresConfig{
			URL:             os.Getenv("LEGISLA_DATABASE_URL"),
			MaxOpenConns:    getInt("LEGISLA_DB_MAX_OPEN_CONNS", 20, &errs),
			MaxIdleConns:    getInt("LEGISLA_DB_MAX_IDLE_CONNS", 5, &errs),
			ConnMaxLifetime: getDuration("LEGISLA_DB_CONN_MAX_LIFETIME", 30*time.Minute, &errs),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("LEGISLA_REDIS_URL"),
			PoolSize:     getInt("LEGISLA_REDIS_POOL_SIZE", 20, &errs),
			MinIdleConns: getInt("LEGISLA_REDIS_MIN_IDLE_CONNS", 2, &errs),
			DialTimeout:  getDuration("LEGISLA_REDIS_DIAL_TIMEOUT", 2*time.Second, &errs),
			ReadTimeout:  getDuration("LEGISLA_REDIS_READ_TIMEOUT", 500*time.Millisecond, &errs),
			WriteTimeout: getDuration("LEGISLA_REDIS_WRITE_TIMEOUT", 500*time.Millisecond, &errs),
			ResultTTL:    getDuration("LEGISLA_REDIS_RESULT_TTL", 24*time.Hour, &errs),
		},
		Kafka: KafkaConfig{
			Brokers:           getList("LEGISLA_KAFKA_BROKERS"),
			Topic:             getEnv("LEGISLA_KAFKA_TOPIC", "legisla.events"),
			ClientID:          getEnv("LEGISLA_KAFKA_CLIENT_ID", "legisla"),
			Partitions:        int32(getInt("LEGISLA_KAFKA_PARTITIONS", 3, &errs)),
			ReplicationFactor: int16(getInt("LEGISLA_KAFKA_REPLICATION_FACTOR", 1, &errs)),
		},
		Auth: AuthConfig{
			JWTSigningKey: getEnv("LEGISLA_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			Issuer:        getEnv("LEGISLA_JWT_ISSUER", "legisla-idp"),
			Audience:      getEnv("LEGISLA_JWT_AUDIENCE", "legisla"),
		},
		Plenary: PlenaryConfig{
			QuorumMinimum: getInt("LEGISLA_PLENARY_QUORUM_MINIMUM", 1, &errs),
		},
		Roster: RosterConfig{
			SeedFile:       os.Getenv("LEGISLA_ROSTER_SEED_FILE"),
			RoutingCatalog: os.Getenv("LEGISLA_ROUTING_CATALOG"),
		},
		Tx: TxConfig{
			Timeout: getDuration("LEGISLA_TX_TIMEOUT", 5*time.Second, &errs),
		},
	}
	if cfg.Plenary.QuorumMinimum < 0 {
		errs = append(errs, fmt.Errorf("LEGISLA_PLENARY_QUORUM_MINIMUM must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func getList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
