package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "MERKADO"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "MERKADO_DB_DSN"
	EnvDBHost = "MERKADO_DB_HOST"
	EnvDBUser = "MERKADO_DB_USER"
	EnvDBName = "MERKADO_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	PayMongo     PayMongoConfig
	Mailer       MailerConfig
	Commission   CommissionConfig
	Withdrawals  WithdrawalConfig
	Payments     PaymentConfig
	Idempotency  IdempotencyConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MERKADO_APP_ENV" required:"true"`
	Port         string `envconfig:"MERKADO_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MERKADO_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MERKADO_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"MERKADO_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"MERKADO_DB_DSN"`
	Driver string `envconfig:"MERKADO_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MERKADO_DB_HOST"`
	LegacyPort     int    `envconfig:"MERKADO_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MERKADO_DB_USER"`
	LegacyPassword string `envconfig:"MERKADO_DB_PASSWORD"`
	LegacyName     string `envconfig:"MERKADO_DB_NAME"`
	LegacySSLMode  string `envconfig:"MERKADO_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MERKADO_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MERKADO_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MERKADO_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MERKADO_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MERKADO_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MERKADO_REDIS_ADDR"`
	Password     string        `envconfig:"MERKADO_REDIS_PASSWORD"`
	DB           int           `envconfig:"MERKADO_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MERKADO_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MERKADO_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MERKADO_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MERKADO_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MERKADO_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type PayMongoConfig struct {
	SecretKey     string        `envconfig:"MERKADO_PAYMONGO_SECRET_KEY"`
	WebhookSecret string        `envconfig:"MERKADO_PAYMONGO_WEBHOOK_SECRET"`
	BaseURL       string        `envconfig:"MERKADO_PAYMONGO_BASE_URL" default:"https://api.paymongo.com/v1"`
	Timeout       time.Duration `envconfig:"MERKADO_PAYMONGO_TIMEOUT" default:"15s"`
}

type MailerConfig struct {
	APIKey      string        `envconfig:"MERKADO_MAILER_API_KEY"`
	APIBaseURL  string        `envconfig:"MERKADO_MAILER_API_BASE_URL" default:"https://api.sendgrid.com/v3"`
	DefaultFrom string        `envconfig:"MERKADO_MAILER_FROM_EMAIL" default:"no-reply@merkado.ph"`
	SMTPHost    string        `envconfig:"MERKADO_SMTP_HOST"`
	SMTPPort    int           `envconfig:"MERKADO_SMTP_PORT" default:"587"`
	SMTPUser    string        `envconfig:"MERKADO_SMTP_USER"`
	SMTPPass    string        `envconfig:"MERKADO_SMTP_PASS"`
	MaxRetries  uint64        `envconfig:"MERKADO_MAILER_MAX_RETRIES" default:"3"`
	RetryBase   time.Duration `envconfig:"MERKADO_MAILER_RETRY_BASE" default:"500ms"`
}

type CommissionConfig struct {
	BreakerThreshold    int           `envconfig:"MERKADO_COMMISSION_BREAKER_THRESHOLD" default:"5"`
	BreakerWindow       time.Duration `envconfig:"MERKADO_COMMISSION_BREAKER_WINDOW" default:"1m"`
	BreakerResetTimeout time.Duration `envconfig:"MERKADO_COMMISSION_BREAKER_RESET" default:"30s"`
}

type WithdrawalConfig struct {
	MinAmountCents int64 `envconfig:"MERKADO_WITHDRAWAL_MIN_AMOUNT_CENTS" default:"10000"`
}

type PaymentConfig struct {
	CashInFeeBPS    int64         `envconfig:"MERKADO_CASH_IN_FEE_BPS" default:"150"`
	ClaimStaleAfter time.Duration `envconfig:"MERKADO_ORDER_CLAIM_STALE_AFTER" default:"10m"`
}

type IdempotencyConfig struct {
	TTL time.Duration `envconfig:"MERKADO_IDEMPOTENCY_TTL" default:"168h"`
}

type FeatureFlagsConfig struct {
	UseSQLite           bool `envconfig:"MERKADO_USE_SQLITE" default:"false"`
	AutoMigrate         bool `envconfig:"MERKADO_AUTO_MIGRATE" default:"false"`
	WalletReconcileScan bool `envconfig:"MERKADO_WALLET_RECONCILE_SCAN" default:"false"`
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
