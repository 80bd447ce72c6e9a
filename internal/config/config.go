package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Modbus   ModbusConfig   `mapstructure:"modbus"`
	Log      LogConfig      `mapstructure:"log"`

	// Sensors is the raw sensors block. Viper lowercases keys, field names
	// are case-sensitive, so it is decoded separately.
	Sensors *yaml.Node `mapstructure:"-"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type AuthConfig struct {
	JWTSecretEnv      string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL    time.Duration `mapstructure:"access_token_ttl"`
	AdminUser         string        `mapstructure:"admin_user"`
	AdminPasswordHash string        `mapstructure:"admin_password_hash"`

	MaxFailedLoginAttempts int           `mapstructure:"max_failed_login_attempts"`
	AccountLockDuration    time.Duration `mapstructure:"account_lock_duration"`
}

type ModbusConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Driver       string        `mapstructure:"driver"`
	Debug        bool          `mapstructure:"debug"`
	Backoff      BackoffConfig `mapstructure:"backoff"`
	// BackoffOnReadError applies reconnect backoff to rejected reads too.
	BackoffOnReadError bool `mapstructure:"backoff_on_read_error"`
}

type BackoffConfig struct {
	Initial time.Duration `mapstructure:"initial"`
	Max     time.Duration `mapstructure:"max"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "modbusstation")
	v.SetDefault("database.user", "modbusstation")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 5)

	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.admin_user", "admin")
	v.SetDefault("auth.admin_password_hash", "")
	v.SetDefault("auth.max_failed_login_attempts", 5)
	v.SetDefault("auth.account_lock_duration", "15m")

	v.SetDefault("modbus.host", "192.168.1.100")
	v.SetDefault("modbus.port", 502)
	v.SetDefault("modbus.timeout", "10s")
	v.SetDefault("modbus.poll_interval", "10s")
	v.SetDefault("modbus.driver", "goburrow")
	v.SetDefault("modbus.debug", false)
	v.SetDefault("modbus.backoff.initial", "5s")
	v.SetDefault("modbus.backoff.max", "60s")
	v.SetDefault("modbus.backoff_on_read_error", false)

	v.SetDefault("log.level", "info")
}

// Load reads the YAML file at path. Every scalar key can be overridden by an
// environment variable, e.g. MBS_MODBUS_HOST for modbus.host.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("MBS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	sensors, err := readSensorsBlock(path)
	if err != nil {
		return nil, err
	}
	config.Sensors = sensors

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// secondsToDurationHook reads bare numbers as seconds, so `timeout: 10`
// means ten seconds rather than ten nanoseconds.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		case reflect.String:
			if secs, err := strconv.ParseFloat(strings.TrimSpace(data.(string)), 64); err == nil {
				return time.Duration(secs * float64(time.Second)), nil
			}
		}
		return data, nil
	}
}

func readSensorsBlock(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var doc struct {
		Sensors yaml.Node `yaml:"sensors"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse sensors block: %w", err)
	}
	if doc.Sensors.Kind == 0 {
		return nil, nil
	}
	return &doc.Sensors, nil
}

// Validate checks the settings the service cannot start without. Sensor
// blocks are not checked here; broken ones are dropped while loading.
func (c *Config) Validate() error {
	var errs []error

	m := c.Modbus
	if m.Host == "" {
		errs = append(errs, errors.New("modbus.host is required"))
	}
	if m.Port <= 0 || m.Port > 65535 {
		errs = append(errs, fmt.Errorf("modbus.port %d out of range", m.Port))
	}
	if m.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("modbus.timeout must be positive, got %s", m.Timeout))
	}
	if m.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("modbus.poll_interval must not be negative, got %s", m.PollInterval))
	}
	switch m.Driver {
	case "goburrow", "simonvetter":
	default:
		errs = append(errs, fmt.Errorf("modbus.driver %q unknown (goburrow, simonvetter)", m.Driver))
	}
	if m.Backoff.Initial <= 0 {
		errs = append(errs, fmt.Errorf("modbus.backoff.initial must be positive, got %s", m.Backoff.Initial))
	}
	if m.Backoff.Max < m.Backoff.Initial {
		errs = append(errs, fmt.Errorf("modbus.backoff.max %s is below backoff.initial %s", m.Backoff.Max, m.Backoff.Initial))
	}

	return errors.Join(errs...)
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// GetJWTSecret reads the signing secret from the configured environment
// variable and falls back to a development secret.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devJWTSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}
