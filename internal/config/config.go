package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	Store       string   `mapstructure:"STORE"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"KAFKA_TOPIC"`

	MQTTBroker   string `mapstructure:"MQTT_BROKER"`
	MQTTClientID string `mapstructure:"MQTT_CLIENT_ID"`
	MQTTTopic    string `mapstructure:"MQTT_TOPIC"`
	MQTTUsername string `mapstructure:"MQTT_USERNAME"`
	MQTTPassword string `mapstructure:"MQTT_PASSWORD"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	OracleURL           string        `mapstructure:"ORACLE_URL"`
	OracleTimeout       time.Duration `mapstructure:"ORACLE_TIMEOUT"`
	OracleMinConfidence float64       `mapstructure:"ORACLE_MIN_CONFIDENCE"`

	GatewayMode          string `mapstructure:"GATEWAY_MODE"`
	TwilioAccountSID     string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken      string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFrom           string `mapstructure:"TWILIO_FROM"`
	TwilioBaseURL        string `mapstructure:"TWILIO_BASE_URL"`
	TwilioStatusCallback string `mapstructure:"TWILIO_STATUS_CALLBACK"`

	EmailProvider string `mapstructure:"EMAIL_PROVIDER"`
	EmailFrom     string `mapstructure:"EMAIL_FROM"`
	ResendAPIKey  string `mapstructure:"RESEND_API_KEY"`
	AWSRegion     string `mapstructure:"AWS_REGION"`

	DispatchBatchSize   int           `mapstructure:"DISPATCH_BATCH_SIZE"`
	DispatchBatchDelay  time.Duration `mapstructure:"DISPATCH_BATCH_DELAY"`
	DispatchSendTimeout time.Duration `mapstructure:"DISPATCH_SEND_TIMEOUT"`
	SimFailureRate      float64       `mapstructure:"SIM_FAILURE_RATE"`
	SimReadRate         float64       `mapstructure:"SIM_READ_RATE"`

	SweepInterval     time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepWorkers      int           `mapstructure:"SWEEP_WORKERS"`
	SweepPreviewLimit int           `mapstructure:"SWEEP_PREVIEW_LIMIT"`
	SweepLockTTL      time.Duration `mapstructure:"SWEEP_LOCK_TTL"`
	DefaultLanguage   string        `mapstructure:"DEFAULT_LANGUAGE"`
	MetricsInterval   time.Duration `mapstructure:"METRICS_INTERVAL"`
}

var keys = []string{
	"PORT", "ENV", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "CORS_ORIGINS",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_TOPIC", "MQTT_USERNAME", "MQTT_PASSWORD",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"ORACLE_URL", "ORACLE_TIMEOUT", "ORACLE_MIN_CONFIDENCE",
	"GATEWAY_MODE", "TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM", "TWILIO_BASE_URL", "TWILIO_STATUS_CALLBACK",
	"EMAIL_PROVIDER", "EMAIL_FROM", "RESEND_API_KEY", "AWS_REGION",
	"DISPATCH_BATCH_SIZE", "DISPATCH_BATCH_DELAY", "DISPATCH_SEND_TIMEOUT", "SIM_FAILURE_RATE", "SIM_READ_RATE",
	"SWEEP_INTERVAL", "SWEEP_WORKERS", "SWEEP_PREVIEW_LIMIT", "SWEEP_LOCK_TTL", "DEFAULT_LANGUAGE", "METRICS_INTERVAL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE", "postgres")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("KAFKA_TOPIC", "iyacare.pipeline")
	v.SetDefault("MQTT_CLIENT_ID", "iyacare-ingest")
	v.SetDefault("MQTT_TOPIC", "iyacare/vitals/+")
	v.SetDefault("ORACLE_TIMEOUT", "5s")
	v.SetDefault("ORACLE_MIN_CONFIDENCE", 0.6)
	v.SetDefault("GATEWAY_MODE", "simulated")
	v.SetDefault("TWILIO_BASE_URL", "https://api.twilio.com")
	v.SetDefault("EMAIL_PROVIDER", "ses")
	v.SetDefault("EMAIL_FROM", "alerts@iyacare.rw")
	v.SetDefault("AWS_REGION", "eu-west-1")
	v.SetDefault("DISPATCH_BATCH_SIZE", 5)
	v.SetDefault("DISPATCH_BATCH_DELAY", "1s")
	v.SetDefault("DISPATCH_SEND_TIMEOUT", "10s")
	v.SetDefault("SIM_FAILURE_RATE", 0.05)
	v.SetDefault("SIM_READ_RATE", 0.7)
	v.SetDefault("SWEEP_INTERVAL", "0s")
	v.SetDefault("SWEEP_WORKERS", 4)
	v.SetDefault("SWEEP_PREVIEW_LIMIT", 5)
	v.SetDefault("SWEEP_LOCK_TTL", "5m")
	v.SetDefault("DEFAULT_LANGUAGE", "en")
	v.SetDefault("METRICS_INTERVAL", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

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

	if cfg.Store == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE is \"postgres\"")
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

// KafkaBrokerList splits KAFKA_BROKERS on commas. An empty list disables
// event publishing.
func (c *Config) KafkaBrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.Store != "postgres" && c.Store != "memory" {
		return fmt.Errorf("STORE must be \"postgres\" or \"memory\", got %q", c.Store)
	}
	if c.IsProduction() && c.Store == "memory" {
		return fmt.Errorf("STORE=memory is not allowed in production")
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required outside development (current ENV=%q)", c.Env)
	}

	switch c.GatewayMode {
	case "simulated":
	case "twilio":
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFrom == "" {
			return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM are required when GATEWAY_MODE is \"twilio\"")
		}
	default:
		return fmt.Errorf("GATEWAY_MODE must be \"simulated\" or \"twilio\", got %q", c.GatewayMode)
	}

	if c.EmailProvider != "ses" && c.EmailProvider != "resend" {
		return fmt.Errorf("EMAIL_PROVIDER must be \"ses\" or \"resend\", got %q", c.EmailProvider)
	}
	if c.DispatchBatchSize <= 0 {
		return fmt.Errorf("DISPATCH_BATCH_SIZE must be positive, got %d", c.DispatchBatchSize)
	}
	if c.DispatchBatchDelay < 0 {
		return fmt.Errorf("DISPATCH_BATCH_DELAY must not be negative")
	}
	if c.OracleMinConfidence < 0 || c.OracleMinConfidence > 1 {
		return fmt.Errorf("ORACLE_MIN_CONFIDENCE must be within [0,1], got %v", c.OracleMinConfidence)
	}
	if c.SimFailureRate < 0 || c.SimFailureRate > 1 || c.SimReadRate < 0 || c.SimReadRate > 1 {
		return fmt.Errorf("SIM_FAILURE_RATE and SIM_READ_RATE must be within [0,1]")
	}
	if c.SweepWorkers <= 0 {
		return fmt.Errorf("SWEEP_WORKERS must be positive, got %d", c.SweepWorkers)
	}
	return nil
}
