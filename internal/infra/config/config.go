package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreScylla   = "scylla"

	NotifyLocal  = "local"
	NotifyRedis  = "redis"
	NotifyKafka  = "kafka"
	NotifyMemory = "memory"

	SessionMemory = "memory"
	SessionRedis  = "redis"
)

// Config aggregates application configuration loaded from environment variables.
type Config struct {
	Env          string        `env:"APP_ENV" envDefault:"dev"`
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCHealth   string        `env:"GRPC_HEALTH_ADDR"`
	CORSOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	InstanceID   string        `env:"INSTANCE_ID"`
	ShutdownWait time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	StoreBackend   string        `env:"STORE_BACKEND" envDefault:"memory"`
	UsersBackend   string        `env:"USERS_BACKEND"`
	FixturesPath   string        `env:"USER_FIXTURES_PATH"`
	IdempotencyTTL time.Duration `env:"IDEMP_TTL" envDefault:"168h"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	SessionBackend string        `env:"SESSION_BACKEND" envDefault:"memory"`
	SupportAdminID string        `env:"SUPPORT_ADMIN_ID"`

	Mongo    MongoConfig    `envPrefix:"MONGO_"`
	Postgres PostgresConfig `envPrefix:"POSTGRES_"`
	Scylla   ScyllaConfig   `envPrefix:"SCYLLA_"`

	NotifyBackend string         `env:"NOTIFY_BACKEND" envDefault:"local"`
	Notify        NotifyConfig   `envPrefix:"NOTIFY_"`
	Redis         RedisConfig    `envPrefix:"REDIS_"`
	Kafka         KafkaConfig    `envPrefix:"KAFKA_"`
	Realtime      RealtimeConfig `envPrefix:"REALTIME_"`
	S3            S3Config       `envPrefix:"S3_"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

type MongoConfig struct {
	URI string `env:"URI"`
	DB  string `env:"DB" envDefault:"storefront"`
}

type PostgresConfig struct {
	DSN      string `env:"DSN"`
	MaxConns int32  `env:"MAX_CONNS" envDefault:"10"`
}

type ScyllaConfig struct {
	Hosts       []string      `env:"HOSTS" envSeparator:","`
	Keyspace    string        `env:"KEYSPACE" envDefault:"storefront_chat"`
	Consistency string        `env:"CONSISTENCY" envDefault:"QUORUM"`
	Username    string        `env:"USERNAME"`
	Password    string        `env:"PASSWORD"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"5s"`
	Replication int           `env:"REPLICATION" envDefault:"1"`
}

type NotifyConfig struct {
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"5s"`
	Concurrency    int           `env:"CONCURRENCY" envDefault:"64"`
	// RetryEnabled queues failed publishes on asynq; it needs REDIS_URL.
	RetryEnabled bool `env:"RETRY_ENABLED" envDefault:"false"`
	MaxRetry     int  `env:"MAX_RETRY" envDefault:"5"`
}

type RedisConfig struct {
	URL           string `env:"URL"`
	ChannelPrefix string `env:"CHANNEL_PREFIX" envDefault:"storefront:"`
}

type KafkaConfig struct {
	Brokers       []string `env:"BROKERS" envSeparator:","`
	TopicPrefix   string   `env:"TOPIC_PREFIX"`
	ConsumerGroup string   `env:"CONSUMER_GROUP" envDefault:"storefront-realtime"`
}

type RealtimeConfig struct {
	TicketSecret   string        `env:"TICKET_SECRET"`
	TicketTTL      time.Duration `env:"TICKET_TTL" envDefault:"1m"`
	SendBuffer     int           `env:"SEND_BUFFER" envDefault:"32"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
}

type S3Config struct {
	Endpoint       string `env:"ENDPOINT"`
	PublicEndpoint string `env:"PUBLIC_ENDPOINT"`
	AccessKey      string `env:"ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey      string `env:"SECRET_KEY" envDefault:"minioadmin"`
	Bucket         string `env:"BUCKET" envDefault:"storefront-chat"`
	UseSSL         bool   `env:"USE_SSL" envDefault:"false"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
}

// Load reads an optional .env file and parses the environment.
func Load(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, file := range dotenvFiles {
		// a missing .env is normal outside local development
		_ = godotenv.Load(file)
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.UsersBackend = strings.ToLower(strings.TrimSpace(c.UsersBackend))
	c.NotifyBackend = strings.ToLower(strings.TrimSpace(c.NotifyBackend))
	c.SessionBackend = strings.ToLower(strings.TrimSpace(c.SessionBackend))
	if c.UsersBackend == "" {
		c.UsersBackend = c.StoreBackend
		if c.StoreBackend == StoreScylla {
			c.UsersBackend = StoreMemory
		}
	}
	if c.S3.PublicEndpoint == "" {
		c.S3.PublicEndpoint = c.S3.Endpoint
	}
	c.Kafka.Brokers = compact(c.Kafka.Brokers)
	c.Scylla.Hosts = compact(c.Scylla.Hosts)
}

// Validate checks that every selected backend has what it needs.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case StoreMemory:
	case StoreMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for STORE_BACKEND=mongo"))
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for STORE_BACKEND=postgres"))
		}
	case StoreScylla:
		if len(c.Scylla.Hosts) == 0 {
			errs = append(errs, errors.New("SCYLLA_HOSTS is required for STORE_BACKEND=scylla"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.UsersBackend {
	case StoreMemory:
	case StoreMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for USERS_BACKEND=mongo"))
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for USERS_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported USERS_BACKEND %q", c.UsersBackend))
	}

	switch c.NotifyBackend {
	case NotifyLocal, NotifyMemory:
	case NotifyRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for NOTIFY_BACKEND=redis"))
		}
	case NotifyKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for NOTIFY_BACKEND=kafka"))
		}
		// the bridge group is named after the instance; a random ID leaves a stale group per restart
		if !c.IsDev() && c.InstanceID == "" {
			errs = append(errs, errors.New("INSTANCE_ID is required for NOTIFY_BACKEND=kafka outside dev"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown NOTIFY_BACKEND %q", c.NotifyBackend))
	}

	switch c.SessionBackend {
	case SessionMemory:
	case SessionRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for SESSION_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend))
	}

	if c.Notify.RetryEnabled && c.Redis.URL == "" {
		errs = append(errs, errors.New("REDIS_URL is required when NOTIFY_RETRY_ENABLED=true"))
	}
	if c.Notify.MaxRetry < 0 {
		errs = append(errs, errors.New("NOTIFY_MAX_RETRY must not be negative"))
	}
	if c.Realtime.TicketSecret != "" && len(c.Realtime.TicketSecret) < 32 {
		errs = append(errs, errors.New("REALTIME_TICKET_SECRET must be at least 32 bytes"))
	}
	if !c.IsDev() && c.Realtime.TicketSecret == "" {
		errs = append(errs, errors.New("REALTIME_TICKET_SECRET is required outside dev"))
	}
	return errors.Join(errs...)
}

// IsDev reports a local development environment.
func (c Config) IsDev() bool {
	return c.Env == "" || c.Env == "dev" || c.Env == "local"
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
