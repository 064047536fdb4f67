package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// MinJWTSecretBytes es el largo minimo del secreto HMAC (256 bits).
const MinJWTSecretBytes = 32

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort       string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL    string `env:"DATABASE_URL,required"`
	RunMigrations  bool   `env:"RUN_MIGRATIONS" envDefault:"true"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`

	JWTSecret     string `env:"JWT_SECRET,required"`
	JWTTTLMinutes int    `env:"JWT_TTL_MINUTES" envDefault:"60"`
	JWTIssuer     string `env:"JWT_ISSUER" envDefault:"account-auth"`

	BcryptCost           int  `env:"BCRYPT_COST" envDefault:"10"`
	VerificationTTLHours int  `env:"VERIFICATION_TTL_HOURS" envDefault:"24"`
	MaskAccountState     bool `env:"AUTH_MASK_ACCOUNT_STATE" envDefault:"false"`

	AMQPConfig

	RedisAddr              string `env:"REDIS_ADDR"`
	RedisPassword          string `env:"REDIS_PASSWORD"`
	RedisDB                int    `env:"REDIS_DB" envDefault:"0"`
	LoginRateWindowMinutes int    `env:"LOGIN_RATE_WINDOW_MINUTES" envDefault:"15"`
	LoginRateMax           int    `env:"LOGIN_RATE_MAX" envDefault:"10"`
}

// AMQPConfig es compartida por la API (publica) y el mailer (consume).
type AMQPConfig struct {
	AMQPURL              string `env:"AMQP_URL"`
	AMQPExchange         string `env:"AMQP_EXCHANGE" envDefault:"email_exchange"`
	AMQPQueue            string `env:"AMQP_QUEUE" envDefault:"verification_email_queue"`
	AMQPRoutingKey       string `env:"AMQP_ROUTING_KEY" envDefault:"email.verification"`
	AMQPPublishTimeoutMS int    `env:"AMQP_PUBLISH_TIMEOUT_MS" envDefault:"2000"`
}

// MailerConfig configura cmd/mailer.
type MailerConfig struct {
	AMQPConfig

	LogDevelopment bool `env:"LOG_DEVELOPMENT" envDefault:"false"`

	SMTPHost      string `env:"SMTP_HOST"`
	SMTPPort      int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser      string `env:"SMTP_USER"`
	SMTPPass      string `env:"SMTP_PASS"`
	SMTPFrom      string `env:"SMTP_FROM"`
	SMTPFromName  string `env:"SMTP_FROM_NAME"`
	SMTPUseTLS    bool   `env:"SMTP_USE_TLS" envDefault:"false"`
	VerifyBaseURL string `env:"VERIFY_BASE_URL" envDefault:"http://localhost:8080/api/v1/auth/verify"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate revisa reglas que los tags no pueden expresar.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < MinJWTSecretBytes {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", MinJWTSecretBytes)
	}
	if c.JWTTTLMinutes <= 0 {
		return errors.New("JWT_TTL_MINUTES must be positive")
	}
	if c.VerificationTTLHours <= 0 {
		return errors.New("VERIFICATION_TTL_HOURS must be positive")
	}
	if c.LoginRateMax <= 0 || c.LoginRateWindowMinutes <= 0 {
		return errors.New("login rate limit settings must be positive")
	}
	return nil
}

func (c *Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLMinutes) * time.Minute
}

func (c *Config) VerificationTTL() time.Duration {
	return time.Duration(c.VerificationTTLHours) * time.Hour
}

func (c *Config) LoginRateWindow() time.Duration {
	return time.Duration(c.LoginRateWindowMinutes) * time.Minute
}

func (c AMQPConfig) AMQPPublishTimeout() time.Duration {
	if c.AMQPPublishTimeoutMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.AMQPPublishTimeoutMS) * time.Millisecond
}

// LoadMailerConfig carga la configuración del mailer.
func LoadMailerConfig() (*MailerConfig, error) {
	var cfg MailerConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if cfg.AMQPURL == "" {
		return nil, errors.New("AMQP_URL is required")
	}
	if cfg.SMTPHost == "" || cfg.SMTPFrom == "" {
		return nil, errors.New("SMTP_HOST and SMTP_FROM are required")
	}
	return &cfg, nil
}
