package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
)

// Version é sobrescrita via -ldflags no build de release.
var Version = "dev"

const (
	defaultAPIKey        = "apime-insecure-api-key"
	defaultWebhookSecret = "apime-insecure-webhook-secret"
)

type Config struct {
	App       AppConfig
	Auth      AuthConfig
	Webhook   WebhookConfig
	CORS      CORSConfig
	Storage   StorageConfig
	DB        DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Provider  ProviderConfig
	Log       LogConfig
	Metrics   MetricsConfig
}

type AppConfig struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port string `env:"PORT" envDefault:"8080"`
}

// Addr retorna o endereço de escuta do servidor HTTP.
func (cfg AppConfig) Addr() string {
	return cfg.Host + ":" + cfg.Port
}

type AuthConfig struct {
	APIKey string `env:"API_KEY" envDefault:"apime-insecure-api-key"`
}

type WebhookConfig struct {
	Secret        string  `env:"WEBHOOK_SECRET" envDefault:"apime-insecure-webhook-secret"`
	TimeoutMS     int     `env:"WEBHOOK_TIMEOUT_MS" envDefault:"10000"`
	MaxRetries    int     `env:"WEBHOOK_MAX_RETRIES" envDefault:"6"`
	RetryDelayMS  int     `env:"WEBHOOK_RETRY_DELAY_MS" envDefault:"60000"`
	BackoffFactor float64 `env:"WEBHOOK_BACKOFF_FACTOR" envDefault:"2"`
}

func (cfg WebhookConfig) Timeout() time.Duration {
	return time.Duration(cfg.TimeoutMS) * time.Millisecond
}

func (cfg WebhookConfig) RetryDelay() time.Duration {
	return time.Duration(cfg.RetryDelayMS) * time.Millisecond
}

type CORSConfig struct {
	Origin string `env:"CORS_ORIGIN" envDefault:"*"`
}

type StorageConfig struct {
	Driver     string `env:"DB_DRIVER" envDefault:"memory"`
	DataDir    string `env:"DATA_DIR" envDefault:"/app/data"`
	SessionDir string `env:"SESSION_DIR" envDefault:"/app/data/sessions"`
}

type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	Name     string `env:"DB_NAME" envDefault:"postgres"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

// DSN retorna a string de conexão em formato aceito pelo pgxpool.
func (cfg DatabaseConfig) DSN() string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
}

type RateLimitConfig struct {
	Enabled       bool   `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	Requests      int    `env:"RATE_LIMIT_REQUESTS" envDefault:"300"`
	WindowSeconds int    `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`
	Prefix        string `env:"RATE_LIMIT_PREFIX" envDefault:"ratelimit:api"`
	// Limite por IP aplicado às rotas públicas.
	IPRequests int `env:"RATE_LIMIT_IP_REQUESTS" envDefault:"120"`
}

func (cfg RateLimitConfig) Window() time.Duration {
	return time.Duration(cfg.WindowSeconds) * time.Second
}

type ProviderConfig struct {
	Driver      string `env:"PROVIDER" envDefault:"whatsmeow"`
	AutoRestore bool   `env:"PROVIDER_AUTO_RESTORE" envDefault:"true"`
	// Tempo máximo em connecting antes do watchdog devolver a instância para disconnected.
	ConnectTimeoutSeconds int `env:"PROVIDER_CONNECT_TIMEOUT_SECONDS" envDefault:"180"`
}

func (cfg ProviderConfig) ConnectTimeout() time.Duration {
	return time.Duration(cfg.ConnectTimeoutSeconds) * time.Second
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// Load carrega as configurações da aplicação.
func Load() Config {
	cfg, err := Parse(nil)
	if err != nil {
		log.Fatalf("config: não foi possível carregar variáveis: %v", err)
	}
	return cfg
}

// Parse lê a configuração de environ; nil usa o ambiente do processo.
func Parse(environ map[string]string) (Config, error) {
	cfg := Config{}
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	switch cfg.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER inválido: %q", cfg.Storage.Driver)
	}
	switch cfg.Provider.Driver {
	case "whatsmeow", "stub":
	default:
		return fmt.Errorf("PROVIDER inválido: %q", cfg.Provider.Driver)
	}
	if cfg.Webhook.MaxRetries < 1 {
		return fmt.Errorf("WEBHOOK_MAX_RETRIES deve ser >= 1")
	}
	if cfg.Webhook.TimeoutMS <= 0 {
		return fmt.Errorf("WEBHOOK_TIMEOUT_MS deve ser > 0")
	}
	if cfg.Webhook.RetryDelayMS < 0 || cfg.Webhook.BackoffFactor < 1 {
		return fmt.Errorf("WEBHOOK_RETRY_DELAY_MS/WEBHOOK_BACKOFF_FACTOR inválidos")
	}
	return nil
}

// Warnings lista configurações inseguras que devem ser avisadas no boot.
func (cfg Config) Warnings() []string {
	var out []string
	if cfg.Auth.APIKey == defaultAPIKey {
		out = append(out, "API_KEY não definida; usando chave padrão insegura")
	}
	if cfg.Webhook.Secret == defaultWebhookSecret {
		out = append(out, "WEBHOOK_SECRET não definido; assinaturas usam segredo padrão inseguro")
	}
	if cfg.CORS.Origin == "*" && cfg.App.Env == "production" {
		out = append(out, "CORS_ORIGIN=* em produção")
	}
	return out
}
