package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Query    QueryConfig    `mapstructure:"query"`
	Specs    SpecsConfig    `mapstructure:"specs"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	Prefix string `mapstructure:"prefix"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres, mysql or sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

// QueryConfig holds the paging defaults applied by the index endpoint.
type QueryConfig struct {
	DefaultCount   int    `mapstructure:"default_count"`
	MaxCount       int    `mapstructure:"max_count"`
	DefaultPage    int    `mapstructure:"default_page"`
	DefaultContext string `mapstructure:"default_context"`
}

type SpecsConfig struct {
	Dir     string `mapstructure:"dir"`
	SeedDir string `mapstructure:"seed_dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig controls OTLP/HTTP trace export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	ServiceName string  `mapstructure:"service_name"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		if d.Name == ":memory:" {
			return d.Name
		}
		return d.Path + "/" + d.Name + ".db"
	}
	if d.Driver == "mysql" {
		my := mysql.NewConfig()
		my.User = d.User
		my.Passwd = d.Password
		my.Net = "tcp"
		my.Addr = fmt.Sprintf("%s:%d", d.Host, d.Port)
		my.DBName = d.Name
		my.ParseTime = true
		return my.FormatDSN()
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.prefix", "/api")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "crudkit")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("query.default_count", 10)
	v.SetDefault("query.max_count", 100)
	v.SetDefault("query.default_page", 1)
	v.SetDefault("query.default_context", "public")
	v.SetDefault("specs.dir", "./specs")
	v.SetDefault("specs.seed_dir", "./seeds")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.service_name", "crudkit")
}

// Load reads crudkit.yaml from the working directory, or configFile when set.
// Environment variables prefixed with CRUDKIT_ override file values
// (CRUDKIT_DATABASE_HOST overrides database.host).
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("crudkit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("../..")
	}

	v.SetEnvPrefix("crudkit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Query.MaxCount > 0 && cfg.Query.DefaultCount > cfg.Query.MaxCount {
		cfg.Query.DefaultCount = cfg.Query.MaxCount
	}

	return &cfg, nil
}
