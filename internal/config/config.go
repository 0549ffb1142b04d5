package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	LogLevel string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	HTTPAddr string

	Redis    RedisConfig
	Metrics  MetricsConfig
	Verifact VerifactConfig
}

// RedisConfig configures the verification queue backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MetricsConfig configures the OTLP metrics exporter.
type MetricsConfig struct {
	Enabled  bool
	Exporter string
	Endpoint string
}

// VerifactConfig configures the tax-verification pipeline.
type VerifactConfig struct {
	// Mode selects the authority adapter: mock, sandbox or production.
	Mode string

	SandboxEndpoint    string
	ProductionEndpoint string
	QRBaseURL          string
	SubmitTimeout      int // seconds

	// QueueBackend selects the queue implementation: redis or memory.
	QueueBackend string

	StreamKey     string
	DLQStreamKey  string
	ConsumerGroup string
	ConsumerName  string

	PollInterval int // seconds
	MaxRetries   int
	Workers      int

	// CertDir holds per-company PEM key material for signing.
	CertDir string
}

const (
	ModeMock       = "mock"
	ModeSandbox    = "sandbox"
	ModeProduction = "production"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "facturo"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "facturo"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 2),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Metrics: MetricsConfig{
			Enabled:  getenvBool("METRICS_ENABLED", false),
			Exporter: strings.ToLower(getenv("METRICS_EXPORTER", "grpc")),
			Endpoint: getenv("METRICS_ENDPOINT", "localhost:4317"),
		},
		Verifact: VerifactConfig{
			Mode:               normalizeMode(getenv("VERIFACT_MODE", ModeMock)),
			SandboxEndpoint:    getenv("VERIFACT_ENDPOINT_SANDBOX", "https://prewww1.aeat.es/wlpl/TIKE-CONT/ws/SistemaFacturacion"),
			ProductionEndpoint: getenv("VERIFACT_ENDPOINT_PRODUCTION", "https://www1.agenciatributaria.gob.es/wlpl/TIKE-CONT/ws/SistemaFacturacion"),
			QRBaseURL:          getenv("VERIFACT_QR_BASE_URL", "https://prewww2.aeat.es/wlpl/TIKE-CONT/ValidarQR"),
			SubmitTimeout:      getenvInt("VERIFACT_SUBMIT_TIMEOUT", 30),
			QueueBackend:       strings.ToLower(getenv("VERIFACT_QUEUE", "redis")),
			StreamKey:          getenv("VERIFACT_STREAM_KEY", "verifact-queue"),
			DLQStreamKey:       getenv("VERIFACT_DLQ_KEY", "verifact-dlq"),
			ConsumerGroup:      getenv("VERIFACT_CONSUMER_GROUP", "verifact-processor"),
			ConsumerName:       getenv("VERIFACT_CONSUMER_NAME", defaultConsumerName()),
			PollInterval:       getenvInt("VERIFACT_POLL_INTERVAL", 5),
			MaxRetries:         getenvInt("VERIFACT_MAX_RETRIES", 4),
			Workers:            getenvInt("VERIFACT_WORKERS", 5),
			CertDir:            getenv("VERIFACT_CERT_DIR", "certs"),
		},
	}

	return cfg
}

// Endpoint returns the authority endpoint for the configured mode.
func (c VerifactConfig) Endpoint() string {
	if c.Mode == ModeProduction {
		return c.ProductionEndpoint
	}
	return c.SandboxEndpoint
}

// defaultConsumerName gives each process its own consumer identity so two
// workers sharing a group never steal each other's pending entries.
func defaultConsumerName() string {
	return "consumer-" + uuid.NewString()[:8]
}

func normalizeMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ModeSandbox:
		return ModeSandbox
	case ModeProduction:
		return ModeProduction
	default:
		return ModeMock
	}
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid value for %s: %q, using default %d", key, raw, fallback)
		return fallback
	}
	return v
}

func getenvBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
