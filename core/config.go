package core

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// storage drivers
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// sequence overflow policies
const (
	OverflowFail  = "fail"
	OverflowWiden = "widen"
)

type (
	Config struct {
		Env          string
		Debug        bool
		TestMode     bool
		AppName      string
		Build        string
		RollbarToken string
		LogLevel     string
		Storage      StorageConfig
		Sequence     SequenceConfig
		Server       ServerConfig
	}

	StorageConfig struct {
		Driver          string
		NamespacePrefix string
		OpenTimeout     time.Duration
		Postgres        PostgresConfig
		Mongo           MongoConfig
	}

	PostgresConfig struct {
		Host          string
		Port          int
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	MongoConfig struct {
		URI string
	}

	SequenceConfig struct {
		Overflow string
	}

	ServerConfig struct {
		Host            string
		DebugHost       string
		ShutdownTimeout time.Duration
	}
)

func (c PostgresConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Masomo")
	v.SetDefault("build", "develop")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("log.level", "info")

	v.SetDefault("storage.driver", DriverPostgres)
	v.SetDefault("storage.namespacePrefix", "school_")
	v.SetDefault("storage.openTimeout", 10*time.Second)
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "masomo")
	v.SetDefault("storage.postgres.password", "masomo")
	v.SetDefault("storage.postgres.adminUser", "")
	v.SetDefault("storage.postgres.adminPassword", "")
	v.SetDefault("storage.postgres.disableTLS", true)
	v.SetDefault("storage.mongo.uri", "mongodb://localhost:27017")

	v.SetDefault("sequence.overflow", OverflowFail)

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
}

// NewConfig loads the app configuration.
// Sources, by priority: env vars prefixed by ENV (eg. PROD_STORAGE_DRIVER), config/.env.<env>, defaults.
func NewConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
		v.SetDefault("storage.driver", DriverMemory)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking %s", dotEnvPath)
	}
	v.AutomaticEnv()

	conf := fromViper(v, env)
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func fromViper(v *viper.Viper, env string) *Config {
	return &Config{
		Env:          env,
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		AppName:      v.GetString("appName"),
		Build:        v.GetString("build"),
		RollbarToken: v.GetString("rollbarToken"),
		LogLevel:     strings.ToLower(v.GetString("log.level")),
		Storage: StorageConfig{
			Driver:          strings.ToLower(v.GetString("storage.driver")),
			NamespacePrefix: strings.ToLower(v.GetString("storage.namespacePrefix")),
			OpenTimeout:     v.GetDuration("storage.openTimeout"),
			Postgres: PostgresConfig{
				Host:          v.GetString("storage.postgres.host"),
				Port:          v.GetInt("storage.postgres.port"),
				User:          v.GetString("storage.postgres.user"),
				Password:      v.GetString("storage.postgres.password"),
				AdminUser:     v.GetString("storage.postgres.adminUser"),
				AdminPassword: v.GetString("storage.postgres.adminPassword"),
				DisableTLS:    v.GetBool("storage.postgres.disableTLS"),
			},
			Mongo: MongoConfig{URI: v.GetString("storage.mongo.uri")},
		},
		Sequence: SequenceConfig{Overflow: strings.ToLower(v.GetString("sequence.overflow"))},
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			DebugHost:       v.GetString("server.debugHost"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
		},
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMongo, DriverMemory:
	default:
		return errors.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Sequence.Overflow {
	case OverflowFail, OverflowWiden:
	default:
		return errors.Errorf("config: unknown sequence overflow policy %q", c.Sequence.Overflow)
	}
	if c.Storage.NamespacePrefix != "" && !alphaNumUnderRegex.MatchString(c.Storage.NamespacePrefix) {
		return errors.Errorf("config: invalid namespace prefix %q", c.Storage.NamespacePrefix)
	}
	return nil
}
