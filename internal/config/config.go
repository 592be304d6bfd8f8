package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/i474232898/meteocat-sync/internal/meteocat"
	"github.com/i474232898/meteocat-sync/internal/scheduler"
	"github.com/i474232898/meteocat-sync/internal/store"
	"github.com/i474232898/meteocat-sync/internal/weather"
)

// EnvPrefix prefixes every environment variable (METEOCAT_API_KEY, ...).
const EnvPrefix = "METEOCAT"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return scheduler.ValidTime(fl.Field().String())
	})
	return v
}

type AppConfig struct {
	APIKey  string `mapstructure:"api_key" validate:"required"`
	BaseURL string `mapstructure:"base_url" validate:"required,url"`

	// EntryID names the durable entry document.
	EntryID        string `mapstructure:"entry_id" validate:"required,max=64,excludesall=/"`
	StationID      string `mapstructure:"station_id" validate:"required_without=MunicipalityID"`
	MunicipalityID string `mapstructure:"municipality_id"`

	UpdateTimes          []string `mapstructure:"update_times" validate:"min=1,max=3,unique,dive,hhmm"`
	EnableDailyForecast  bool     `mapstructure:"enable_daily_forecast"`
	EnableHourlyForecast bool     `mapstructure:"enable_hourly_forecast"`
	Timezone             string   `mapstructure:"timezone" validate:"required,timezone"`

	HTTPTimeout  time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
	CycleTimeout time.Duration `mapstructure:"cycle_timeout" validate:"gt=0"`
	RetryDelay   time.Duration `mapstructure:"retry_delay" validate:"gt=0"`

	StoreBackend  string `mapstructure:"store_backend" validate:"oneof=file redis sqlite"`
	StorePath     string `mapstructure:"store_path" validate:"required_if=StoreBackend file"`
	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=StoreBackend redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
	SQLitePath    string `mapstructure:"sqlite_path" validate:"required_if=StoreBackend sqlite"`

	// In-memory snapshot history retention.
	HistoryMax    int           `mapstructure:"history_max" validate:"gte=0"`
	HistoryMaxAge time.Duration `mapstructure:"history_max_age" validate:"gte=0"`

	Port      string `mapstructure:"port" validate:"required,numeric"`
	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	PrettyLog bool   `mapstructure:"pretty_log"`
}

// ValidationError describes one invalid configuration value.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value '%v': %s", e.Field, e.Value, e.Message)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("base_url", meteocat.DefaultBaseURL)
	v.SetDefault("entry_id", "default")
	v.SetDefault("station_id", "")
	v.SetDefault("municipality_id", "")
	v.SetDefault("update_times", []string{"06:00", "14:00"})
	v.SetDefault("enable_daily_forecast", true)
	v.SetDefault("enable_hourly_forecast", true)
	v.SetDefault("timezone", "Europe/Madrid")
	v.SetDefault("http_timeout", 15*time.Second)
	v.SetDefault("cycle_timeout", 90*time.Second)
	v.SetDefault("retry_delay", 5*time.Minute)
	v.SetDefault("store_backend", store.BackendFile)
	v.SetDefault("store_path", "data")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("sqlite_path", "data/meteocat.db")
	v.SetDefault("history_max", 30)
	v.SetDefault("history_max_age", 168*time.Hour)
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("pretty_log", false)
}

// Load reads configuration with precedence environment > config file >
// defaults. A .env file in the working directory is loaded first; path
// names an optional YAML config file (meteocat.yaml in the working
// directory is used when path is empty and the file exists).
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("meteocat")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) normalize() {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.StationID = strings.TrimSpace(c.StationID)
	c.MunicipalityID = strings.TrimSpace(c.MunicipalityID)
	times := make([]string, 0, len(c.UpdateTimes))
	for _, t := range c.UpdateTimes {
		if t = strings.TrimSpace(t); t != "" {
			times = append(times, t)
		}
	}
	c.UpdateTimes = times
}

// Validate checks every field and joins one ValidationError per failure.
func (c *AppConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fe.Namespace(),
			Value:   fe.Value(),
			Message: describe(fe),
		})
	}
	return errors.Join(out...)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return "station_id or municipality_id is required"
	case "required_if":
		return "is required for the " + fe.Param() + " backend"
	case "hhmm":
		return "must be HH:MM (24h, leading zeros, no seconds)"
	case "unique":
		return "must not contain duplicates"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed '" + fe.Tag() + "' check"
	}
}

// Location loads the configured time zone.
func (c *AppConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// DailyTimes parses the configured update times.
func (c *AppConfig) DailyTimes() (scheduler.DailyTimes, error) {
	return scheduler.ParseDailyTimes(c.UpdateTimes)
}

// Store returns the entry store settings.
func (c *AppConfig) Store() store.Config {
	return store.Config{
		Backend:       c.StoreBackend,
		Path:          c.StorePath,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		SQLitePath:    c.SQLitePath,
	}
}

// Entry returns the entry a fresh installation starts from.
func (c *AppConfig) Entry() weather.Entry {
	return weather.Entry{
		ID:                   c.EntryID,
		APIKey:               c.APIKey,
		StationID:            c.StationID,
		MunicipalityID:       c.MunicipalityID,
		UpdateTimes:          append([]string(nil), c.UpdateTimes...),
		EnableDailyForecast:  c.EnableDailyForecast,
		EnableHourlyForecast: c.EnableHourlyForecast,
	}
}
