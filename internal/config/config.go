package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver  string `mapstructure:"driver"` // sqlite / mysql
	DSN     string `mapstructure:"dsn"`
	LogMode bool   `mapstructure:"log_mode"`
}

type SessionConfig struct {
	Backend       string `mapstructure:"backend"` // database / redis / memory
	CookieName    string `mapstructure:"cookie_name"`
	TTLHours      int    `mapstructure:"ttl_hours"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

type AppConfig struct {
	PostsPerPage      int  `mapstructure:"posts_per_page"`
	InitializeEnabled bool `mapstructure:"initialize_enabled"`
}

type AdminConfig struct {
	AccountName string `mapstructure:"account_name"`
	Password    string `mapstructure:"password"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Session  SessionConfig  `mapstructure:"session"`
	App      AppConfig      `mapstructure:"app"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Log      LogConfig      `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/picshare.db")
	v.SetDefault("database.log_mode", false)

	v.SetDefault("session.backend", "database")
	v.SetDefault("session.cookie_name", "session_id")
	v.SetDefault("session.ttl_hours", 24)
	v.SetDefault("session.redis_addr", "localhost:6379")
	v.SetDefault("session.redis_password", "")
	v.SetDefault("session.redis_db", 0)

	v.SetDefault("app.posts_per_page", 20)
	v.SetDefault("app.initialize_enabled", false)

	v.SetDefault("admin.account_name", "")
	v.SetDefault("admin.password", "")

	v.SetDefault("log.level", "info")
}

// Load reads configuration from path. A missing file is not an error when
// path is empty: defaults and PICSHARE_* environment variables still apply,
// e.g. PICSHARE_SERVER_PORT=9000.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("PICSHARE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch c.Session.Backend {
	case "database", "redis", "memory":
	default:
		return fmt.Errorf("unsupported session backend: %s", c.Session.Backend)
	}
	if c.App.PostsPerPage <= 0 {
		return fmt.Errorf("app.posts_per_page must be positive, got %d", c.App.PostsPerPage)
	}
	if c.Session.TTLHours <= 0 {
		c.Session.TTLHours = 24
	}
	return nil
}
