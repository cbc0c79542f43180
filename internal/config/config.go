package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	HTTPPort        string        `envconfig:"HTTP_PORT" default:"8080"`
	GRPCPort        string        `envconfig:"GRPC_PORT" default:"50051"`
	DBDriver        string        `envconfig:"DB_DRIVER" default:"mysql"`
	DBDSN           string        `envconfig:"DB_DSN" default:"root:root@tcp(localhost:3306)/fishmarket?parseTime=true"`
	RedisAddr       string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	CartStore       string        `envconfig:"CART_STORE" default:"mongo"`
	MongoURI        string        `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase   string        `envconfig:"MONGO_DATABASE" default:"fishmarket"`
	KafkaBrokers    string        `envconfig:"KAFKA_BROKERS" default:""` // empty disables events
	KafkaTopic      string        `envconfig:"KAFKA_TOPIC" default:"payment-events"`
	UploadDir       string        `envconfig:"UPLOAD_DIR" default:"uploads"`
	MaxSlipBytes    int64         `envconfig:"MAX_SLIP_BYTES" default:"5242880"`
	JWTSecret       string        `envconfig:"JWT_SECRET" required:"true"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	SeedDemo        bool          `envconfig:"SEED_DEMO" default:"false"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be mysql or sqlite, got %q", c.DBDriver)
	}
	switch c.CartStore {
	case "mongo", "memory":
	default:
		return fmt.Errorf("CART_STORE must be mongo or memory, got %q", c.CartStore)
	}
	if c.MaxSlipBytes <= 0 {
		return fmt.Errorf("MAX_SLIP_BYTES must be positive")
	}
	return nil
}

// NewLogger builds a production zap logger at the configured level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
