package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/mail"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"flight-price-alerts/internal/logging"
	"flight-price-alerts/internal/model"
)

// Supported ledger backends.
const (
	LedgerFile     = "file"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

// Supported alert channels.
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
	ChannelKafka    = "kafka"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Amadeus   AmadeusConfig   `mapstructure:"amadeus"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Control   ControlConfig   `mapstructure:"control"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Routes    []RouteConfig   `mapstructure:"routes"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	MaxRuntime      time.Duration `mapstructure:"max_runtime"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
	Concurrency     int           `mapstructure:"concurrency"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// LedgerConfig selects where sent alerts are remembered.
type LedgerConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig covers the Redis ledger backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	SetKey   string `mapstructure:"set_key"`
}

// AmadeusConfig captures flight offer search connectivity.
type AmadeusConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	ClientID       string        `mapstructure:"client_id"`
	ClientSecret   string        `mapstructure:"client_secret"`
	MaxOffers      int           `mapstructure:"max_offers"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines alert routing. The first channel is authoritative.
type AlertingConfig struct {
	Channels []string       `mapstructure:"channels"`
	Email    EmailConfig    `mapstructure:"email"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// EmailConfig describes the SMTP relay.
type EmailConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	From      string        `mapstructure:"from"`
	TLSPolicy string        `mapstructure:"tls_policy"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// TelegramConfig describes the Telegram mirror channel.
type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// KafkaConfig describes the Kafka mirror channel.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ControlConfig sets the command sources for a running scheduler.
type ControlConfig struct {
	Listen string `mapstructure:"listen"`
	Stdin  bool   `mapstructure:"stdin"`
}

// DefaultsConfig applies to routes that omit a field.
type DefaultsConfig struct {
	Recipient string `mapstructure:"recipient"`
	Currency  string `mapstructure:"currency"`
}

// RouteConfig is a route as written in the config file.
type RouteConfig struct {
	ID          string  `mapstructure:"id"`
	Origin      string  `mapstructure:"origin"`
	Destination string  `mapstructure:"destination"`
	Date        string  `mapstructure:"date"`
	Currency    string  `mapstructure:"currency"`
	Threshold   float64 `mapstructure:"threshold"`
	Recipient   string  `mapstructure:"recipient"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("FLIGHTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// bindLegacyEnv accepts the unprefixed credential names commonly kept in .env files.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("amadeus.client_id", "FLIGHTWATCH_AMADEUS_CLIENT_ID", "AMADEUS_CLIENT_ID")
	_ = v.BindEnv("amadeus.client_secret", "FLIGHTWATCH_AMADEUS_CLIENT_SECRET", "AMADEUS_CLIENT_SECRET")
	_ = v.BindEnv("alerting.email.host", "FLIGHTWATCH_ALERTING_EMAIL_HOST", "SMTP_HOST")
	_ = v.BindEnv("alerting.email.port", "FLIGHTWATCH_ALERTING_EMAIL_PORT", "SMTP_PORT")
	_ = v.BindEnv("alerting.email.username", "FLIGHTWATCH_ALERTING_EMAIL_USERNAME", "SMTP_USER")
	_ = v.BindEnv("alerting.email.password", "FLIGHTWATCH_ALERTING_EMAIL_PASSWORD", "SMTP_PASS")
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "flightwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("scheduler.interval", "30m")
	v.SetDefault("scheduler.align_to_interval", false)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.max_runtime", "0s")
	v.SetDefault("scheduler.run_immediately", true)
	v.SetDefault("scheduler.concurrency", 1)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x666c6967))

	v.SetDefault("ledger.backend", LedgerFile)
	v.SetDefault("ledger.path", "alerts_sent.json")

	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.set_key", "flightwatch:alerts_sent")

	v.SetDefault("amadeus.base_url", "https://test.api.amadeus.com")
	v.SetDefault("amadeus.max_offers", 10)
	v.SetDefault("amadeus.request_timeout", "20s")

	v.SetDefault("alerting.channels", []string{ChannelEmail})
	v.SetDefault("alerting.email.host", "smtp.gmail.com")
	v.SetDefault("alerting.email.port", 587)
	v.SetDefault("alerting.email.tls_policy", "mandatory")
	v.SetDefault("alerting.email.timeout", "15s")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")
	v.SetDefault("alerting.kafka.topic", "flight-alerts")
	v.SetDefault("alerting.kafka.write_timeout", "10s")

	v.SetDefault("control.listen", "")
	v.SetDefault("control.stdin", false)

	v.SetDefault("defaults.currency", "USD")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.MaxRuntime < 0 {
		return fmt.Errorf("scheduler.max_runtime cannot be negative")
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be at least 1")
	}

	switch c.Ledger.Backend {
	case LedgerFile, LedgerSQLite:
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for the %s backend", c.Ledger.Backend)
		}
	case LedgerPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres ledger backend")
		}
	case LedgerRedis:
		if c.Redis.Addr == "" || c.Redis.SetKey == "" {
			return fmt.Errorf("redis.addr and redis.set_key are required for the redis ledger backend")
		}
	default:
		return fmt.Errorf("ledger.backend %q is not supported", c.Ledger.Backend)
	}

	if len(c.Alerting.Channels) == 0 {
		return fmt.Errorf("alerting.channels must list at least one channel")
	}
	for _, ch := range c.Alerting.Channels {
		if err := c.validateChannel(ch); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateChannel(ch string) error {
	switch ch {
	case ChannelEmail:
		if c.Alerting.Email.Host == "" || c.Alerting.Email.Port <= 0 {
			return fmt.Errorf("alerting.email.host and alerting.email.port are required")
		}
		if c.Alerting.Email.SenderAddress() == "" {
			return fmt.Errorf("alerting.email.from or alerting.email.username must be set")
		}
		switch c.Alerting.Email.TLSPolicy {
		case "mandatory", "opportunistic", "none":
		default:
			return fmt.Errorf("alerting.email.tls_policy %q is not supported", c.Alerting.Email.TLSPolicy)
		}
	case ChannelTelegram:
		if c.Alerting.Telegram.BotToken == "" || c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.bot_token and alerting.telegram.chat_id are required")
		}
	case ChannelKafka:
		if len(c.Alerting.Kafka.Brokers) == 0 || c.Alerting.Kafka.Topic == "" {
			return fmt.Errorf("alerting.kafka.brokers and alerting.kafka.topic are required")
		}
	default:
		return fmt.Errorf("alerting channel %q is not supported", ch)
	}
	return nil
}

// SenderAddress falls back to the SMTP username, which is how most relays expect it.
func (e EmailConfig) SenderAddress() string {
	if e.From != "" {
		return e.From
	}
	return e.Username
}

// ValidateProvider checks credentials needed to query live prices.
func (c *Config) ValidateProvider() error {
	if c.Amadeus.ClientID == "" || c.Amadeus.ClientSecret == "" {
		return fmt.Errorf("amadeus.client_id and amadeus.client_secret must be set (or AMADEUS_CLIENT_ID / AMADEUS_CLIENT_SECRET)")
	}
	return nil
}

// MonitoredRoutes converts configured routes into domain routes, applying defaults.
func (c *Config) MonitoredRoutes() ([]model.Route, error) {
	if len(c.Routes) == 0 {
		return nil, fmt.Errorf("routes: at least one route must be configured")
	}

	routes := make([]model.Route, 0, len(c.Routes))
	for i, rc := range c.Routes {
		r, err := rc.toRoute(c.Defaults)
		if err != nil {
			return nil, fmt.Errorf("routes[%d]: %w", i, err)
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func (rc RouteConfig) toRoute(defaults DefaultsConfig) (model.Route, error) {
	origin := strings.ToUpper(strings.TrimSpace(rc.Origin))
	destination := strings.ToUpper(strings.TrimSpace(rc.Destination))
	if !isIATA(origin) || !isIATA(destination) {
		return model.Route{}, fmt.Errorf("origin and destination must be 3-letter IATA codes (got %q, %q)", rc.Origin, rc.Destination)
	}
	if origin == destination {
		return model.Route{}, fmt.Errorf("origin and destination must differ")
	}

	date, err := time.Parse(model.DateLayout, strings.TrimSpace(rc.Date))
	if err != nil {
		return model.Route{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}

	if rc.Threshold <= 0 {
		return model.Route{}, fmt.Errorf("threshold must be greater than zero")
	}

	currency := rc.Currency
	if currency == "" {
		currency = defaults.Currency
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return model.Route{}, fmt.Errorf("currency must be a 3-letter code (got %q)", currency)
	}

	recipient := rc.Recipient
	if recipient == "" {
		recipient = defaults.Recipient
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return model.Route{}, fmt.Errorf("recipient is required (set it on the route or in defaults.recipient)")
	}
	if _, err := mail.ParseAddress(recipient); err != nil {
		return model.Route{}, fmt.Errorf("recipient %q is not a valid address: %w", recipient, err)
	}

	id := strings.TrimSpace(rc.ID)
	if id == "" {
		id = fmt.Sprintf("%s-%s-%s", origin, destination, date.Format(model.DateLayout))
	}

	return model.Route{
		ID:            id,
		Origin:        origin,
		Destination:   destination,
		DepartureDate: date,
		Currency:      currency,
		Threshold:     decimal.NewFromFloat(rc.Threshold),
		Recipient:     recipient,
	}, nil
}

func isIATA(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
