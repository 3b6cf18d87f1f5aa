// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // source.timezone must resolve in minimal containers

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/rki-case-scraper/internal/scheduler"
	"github.com/JakeFAU/rki-case-scraper/internal/telemetry"
)

// DefaultSourceURL is the RKI case-count page.
const DefaultSourceURL = "https://www.rki.de/DE/Content/InfAZ/N/Neuartiges_Coronavirus/Fallzahlen.html"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ModeDev selects the short development schedule.
const ModeDev = "dev"

// Default schedules: every 15 seconds in dev, on the hour otherwise.
const (
	DefaultDevCron  = "*/15 * * * * *"
	DefaultProdCron = "0 */1 * * *"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Source    SourceConfig    `mapstructure:"source"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	DB        DBConfig        `mapstructure:"db"`
	API       APIConfig       `mapstructure:"api"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// AppConfig holds the deployment mode.
type AppConfig struct {
	Env string `mapstructure:"env"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SourceConfig describes the page to scrape.
type SourceConfig struct {
	URL            string `mapstructure:"url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	// Timezone is the IANA zone the page timestamp is interpreted in.
	Timezone string `mapstructure:"timezone"`
}

// SchedulerConfig sets when runs fire. Cron overrides both modes; a positive
// mode interval overrides that mode's cron.
type SchedulerConfig struct {
	DevInterval  time.Duration `mapstructure:"dev_interval"`
	ProdInterval time.Duration `mapstructure:"prod_interval"`
	DevCron      string        `mapstructure:"dev_cron"`
	ProdCron     string        `mapstructure:"prod_cron"`
	Cron         string        `mapstructure:"cron"`
	RunOnStart   bool          `mapstructure:"run_on_start"`
}

// NormalizeConfig toggles number cleaning behavior.
type NormalizeConfig struct {
	StripAllSeparators bool `mapstructure:"strip_all_separators"`
}

// DBConfig selects and addresses the store.
type DBConfig struct {
	Driver    string `mapstructure:"driver"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Name      string `mapstructure:"name"`
	SSLMode   string `mapstructure:"sslmode"`
	DSN       string `mapstructure:"dsn"`
	Path      string `mapstructure:"path"`
	LogTable  string `mapstructure:"log_table"`
	DataTable string `mapstructure:"data_table"`
	MaxConns  int32  `mapstructure:"max_conns"`
}

// APIConfig tunes the read endpoints.
type APIConfig struct {
	RecentLogs int `mapstructure:"recent_logs"`
}

// PubSubConfig holds metadata for snapshot notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig names the service in traces and picks the span exporter.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Exporter    string `mapstructure:"exporter"`
}

// Load builds a Config from .env, disk and environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("RKI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv exports variables from file without overriding the real environment.
func loadDotEnv(file string) error {
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

// bindLegacyEnv accepts the unprefixed variable names older deployments use.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"app.env":     "APP_ENV",
		"db.host":     "DB_HOST",
		"db.user":     "DB_USER",
		"db.password": "DB_PASS",
	}
	for key, name := range legacy {
		prefixed := "RKI_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return fmt.Errorf("bind env %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", ModeDev)
	v.SetDefault("server.port", 3000)
	v.SetDefault("source.url", DefaultSourceURL)
	v.SetDefault("source.user_agent", "rki-case-scraper/1.0")
	v.SetDefault("source.timeout_seconds", 15)
	v.SetDefault("source.timezone", "UTC")
	v.SetDefault("scheduler.dev_interval", time.Duration(0))
	v.SetDefault("scheduler.prod_interval", time.Duration(0))
	v.SetDefault("scheduler.dev_cron", DefaultDevCron)
	v.SetDefault("scheduler.prod_cron", DefaultProdCron)
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("normalize.strip_all_separators", false)
	v.SetDefault("db.driver", DriverMemory)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "covid-19")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.path", "rki.db")
	v.SetDefault("db.log_table", "rki_log")
	v.SetDefault("db.data_table", "rki_data")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("api.recent_logs", 20)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.topic_name", "rki-snapshots")
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "rki-case-scraper")
	v.SetDefault("telemetry.exporter", telemetry.ExporterNone)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Source.URL == "" {
		return fmt.Errorf("source.url is required")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	interval, cron := c.Schedule()
	if cron == "" && interval <= 0 {
		return fmt.Errorf("scheduler for mode %q needs an interval > 0 or a cron expression", c.App.Env)
	}
	if err := scheduler.ValidateCron(cron); err != nil {
		return fmt.Errorf("scheduler cron %q: %w", cron, err)
	}
	switch c.DB.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DB.DSN == "" && c.DB.Host == "" {
			return fmt.Errorf("db.host or db.dsn must be set for the postgres driver")
		}
	case DriverSQLite:
		if c.DB.Path == "" {
			return fmt.Errorf("db.path must be set for the sqlite driver")
		}
	default:
		return fmt.Errorf("db.driver %q is not one of memory, postgres, sqlite", c.DB.Driver)
	}
	if c.API.RecentLogs <= 0 {
		return fmt.Errorf("api.recent_logs must be > 0")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	switch c.Telemetry.Exporter {
	case "", telemetry.ExporterNone, telemetry.ExporterStdout:
	default:
		return fmt.Errorf("telemetry.exporter %q is not one of none, stdout", c.Telemetry.Exporter)
	}
	return nil
}

// IsDev reports whether the service runs in development mode.
func (c Config) IsDev() bool {
	return c.App.Env == ModeDev
}

// Schedule resolves when runs fire for the configured mode. Exactly one of the
// results is set when the configuration is valid.
func (c Config) Schedule() (time.Duration, string) {
	if c.Scheduler.Cron != "" {
		return 0, c.Scheduler.Cron
	}
	interval, cron := c.Scheduler.ProdInterval, c.Scheduler.ProdCron
	if c.IsDev() {
		interval, cron = c.Scheduler.DevInterval, c.Scheduler.DevCron
	}
	if interval > 0 {
		return interval, ""
	}
	return 0, cron
}

// Location resolves the source timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Source.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Source.Timezone)
	if err != nil {
		return nil, fmt.Errorf("source.timezone: %w", err)
	}
	return loc, nil
}

// SourceTimeout converts the fetch timeout to a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// PostgresDSN returns db.dsn, or builds one from the host and credential fields.
// Credentials are only included when a user is set.
func (c DBConfig) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	host := c.Host
	if c.Port > 0 {
		host += ":" + strconv.Itoa(c.Port)
	}
	u := url.URL{Scheme: "postgres", Host: host, Path: "/" + c.Name}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}
