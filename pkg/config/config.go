package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "STOCKLANE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "STOCKLANE_DB_DSN"
	EnvDBHost = "STOCKLANE_DB_HOST"
	EnvDBUser = "STOCKLANE_DB_USER"
	EnvDBName = "STOCKLANE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App         AppConfig
	Service     ServiceConfig
	DB          DBConfig
	Redis       RedisConfig
	Lock        LockConfig
	Reservation ReservationConfig
	Sweeper     SweeperConfig
	GCP         GCPConfig
	PubSub      PubSubConfig
	Features    FeatureFlagsConfig
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
	Env          string `envconfig:"STOCKLANE_APP_ENV" required:"true"`
	Port         string `envconfig:"STOCKLANE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"STOCKLANE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOCKLANE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STOCKLANE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOCKLANE_DB_DSN"`
	Driver string `envconfig:"STOCKLANE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOCKLANE_DB_HOST"`
	LegacyPort     int    `envconfig:"STOCKLANE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOCKLANE_DB_USER"`
	LegacyPassword string `envconfig:"STOCKLANE_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOCKLANE_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOCKLANE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOCKLANE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOCKLANE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOCKLANE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOCKLANE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOCKLANE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STOCKLANE_REDIS_ADDR"`
	Password     string        `envconfig:"STOCKLANE_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOCKLANE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOCKLANE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOCKLANE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOCKLANE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOCKLANE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOCKLANE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// LockConfig bounds the per-product lease protocol. The lease TTL caps how long
// a crashed holder can block a product; the acquire timeout caps how long a
// caller waits before failing the whole reservation.
type LockConfig struct {
	LeaseTTL       time.Duration `envconfig:"STOCKLANE_LOCK_LEASE_TTL" default:"60s"`
	AcquireTimeout time.Duration `envconfig:"STOCKLANE_LOCK_ACQUIRE_TIMEOUT" default:"30s"`
	RetryInterval  time.Duration `envconfig:"STOCKLANE_LOCK_RETRY_INTERVAL" default:"100ms"`
}

type ReservationConfig struct {
	DefaultTTL time.Duration `envconfig:"STOCKLANE_RESERVATION_DEFAULT_TTL" default:"30m"`
	ExtendBy   time.Duration `envconfig:"STOCKLANE_RESERVATION_EXTEND_BY" default:"30m"`
}

type SweeperConfig struct {
	Interval time.Duration `envconfig:"STOCKLANE_SWEEPER_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"STOCKLANE_SWEEPER_LOCK_TTL" default:"5m"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"STOCKLANE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"STOCKLANE_PUBSUB_NOTIFICATION_TOPIC" default:"sl-notification-tasks"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOCKLANE_AUTO_MIGRATE" default:"false"`
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
