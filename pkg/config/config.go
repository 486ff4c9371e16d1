package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Billing      BillingConfig
	Seats        SeatsConfig
	Webhooks     WebhooksConfig
	Stripe       StripeConfig
	Square       SquareConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Billing.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Seats.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SUBSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"SUBSYNC_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SUBSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SUBSYNC_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"SUBSYNC_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SUBSYNC_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SUBSYNC_DB_DSN"`
	Driver string `envconfig:"SUBSYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SUBSYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"SUBSYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SUBSYNC_DB_USER"`
	LegacyPassword string `envconfig:"SUBSYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"SUBSYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"SUBSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SUBSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SUBSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SUBSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SUBSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"SUBSYNC_DB_SLOW_QUERY" default:"500ms"`
	ConnectTimeout  time.Duration `envconfig:"SUBSYNC_DB_CONNECT_TIMEOUT" default:"10s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SUBSYNC_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SUBSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"SUBSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"SUBSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SUBSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SUBSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SUBSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SUBSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SUBSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SUBSYNC_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SUBSYNC_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SUBSYNC_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SUBSYNC_AUTO_MIGRATE" default:"false"`
}

// BillingConfig controls how the engine talks to the billing provider.
type BillingConfig struct {
	Provider          string        `envconfig:"SUBSYNC_BILLING_PROVIDER" default:"stripe"`
	ProviderTimeout   time.Duration `envconfig:"SUBSYNC_BILLING_PROVIDER_TIMEOUT" default:"10s"`
	DefaultPeriodDays int           `envconfig:"SUBSYNC_BILLING_DEFAULT_PERIOD_DAYS" default:"30"`
	MaxApplyAttempts  int           `envconfig:"SUBSYNC_BILLING_MAX_APPLY_ATTEMPTS" default:"3"`
}

// NormalizedProvider returns the lower-cased provider name.
func (b BillingConfig) NormalizedProvider() string {
	provider := strings.TrimSpace(strings.ToLower(b.Provider))
	if provider == "" {
		return BillingProviderStripe
	}
	return provider
}

// DefaultPeriod returns the fallback billing period length.
func (b BillingConfig) DefaultPeriod() time.Duration {
	if b.DefaultPeriodDays <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(b.DefaultPeriodDays) * 24 * time.Hour
}

func (b BillingConfig) validate() error {
	switch b.NormalizedProvider() {
	case BillingProviderStripe, BillingProviderSquare:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvBillingProvider, BillingProviderStripe, BillingProviderSquare)
	}
}

// SeatsConfig holds per-seat prices for each plan tier, as decimal strings.
type SeatsConfig struct {
	StarterSeatPrice  string `envconfig:"SUBSYNC_SEATS_STARTER_PRICE" default:"12.00"`
	TeamSeatPrice     string `envconfig:"SUBSYNC_SEATS_TEAM_PRICE" default:"10.00"`
	BusinessSeatPrice string `envconfig:"SUBSYNC_SEATS_BUSINESS_PRICE" default:"8.00"`
}

// Prices parses the configured tier prices.
func (s SeatsConfig) Prices() (starter, team, business decimal.Decimal, err error) {
	if starter, err = decimal.NewFromString(s.StarterSeatPrice); err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("parsing %s: %w", EnvSeatsStarterPrice, err)
	}
	if team, err = decimal.NewFromString(s.TeamSeatPrice); err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("parsing %s: %w", EnvSeatsTeamPrice, err)
	}
	if business, err = decimal.NewFromString(s.BusinessSeatPrice); err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("parsing %s: %w", EnvSeatsBusinessPrice, err)
	}
	return starter, team, business, nil
}

func (s SeatsConfig) validate() error {
	_, _, _, err := s.Prices()
	return err
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"SUBSYNC_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type StripeConfig struct {
	APIKey string `envconfig:"SUBSYNC_STRIPE_API_KEY"`
	Secret string `envconfig:"SUBSYNC_STRIPE_SECRET"`
	Env    string `envconfig:"SUBSYNC_STRIPE_ENV" default:"test"`
	// MaxNetworkRetries stays 0 so failed provider mutations surface to the caller instead of
	// being replayed underneath the reconcile engine.
	MaxNetworkRetries int64         `envconfig:"SUBSYNC_STRIPE_MAX_NETWORK_RETRIES" default:"0"`
	HTTPTimeout       time.Duration `envconfig:"SUBSYNC_STRIPE_HTTP_TIMEOUT" default:"15s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SquareConfig struct {
	AccessToken   string        `envconfig:"SUBSYNC_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string        `envconfig:"SUBSYNC_SQUARE_WEBHOOK_SECRET"`
	WebhookURL    string        `envconfig:"SUBSYNC_SQUARE_WEBHOOK_URL"`
	Env           string        `envconfig:"SUBSYNC_SQUARE_ENV" default:"sandbox"`
	HTTPTimeout   time.Duration `envconfig:"SUBSYNC_SQUARE_HTTP_TIMEOUT" default:"15s"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SUBSYNC_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SUBSYNC_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SUBSYNC_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	AuditTopic string `envconfig:"SUBSYNC_PUBSUB_AUDIT_TOPIC" default:"subscription-audit-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SUBSYNC_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SUBSYNC_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SUBSYNC_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"SUBSYNC_OUTBOX_RETENTION_DAYS" default:"30"`
	// ParkedRetentionDays keeps undeliverable rows longer for inspection.
	ParkedRetentionDays int `envconfig:"SUBSYNC_OUTBOX_PARKED_RETENTION_DAYS" default:"90"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"SUBSYNC_CRON_INTERVAL" default:"1h"`
	ReconcileLimit    int           `envconfig:"SUBSYNC_CRON_RECONCILE_LIMIT" default:"250"`
	ReconcileLookback time.Duration `envconfig:"SUBSYNC_CRON_RECONCILE_LOOKBACK" default:"168h"`
	AnomalyScanLimit  int           `envconfig:"SUBSYNC_CRON_ANOMALY_SCAN_LIMIT" default:"500"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
