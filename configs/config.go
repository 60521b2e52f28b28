package configs

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	DB struct {
		Driver string `mapstructure:"driver"` // postgres | memory
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"db"`
	JWT struct {
		SECRET string        `mapstructure:"secret"`
		TTL    time.Duration `mapstructure:"ttl"`
	} `mapstructure:"jwt"`
	Auth struct {
		MaxFailedAttempts int           `mapstructure:"max_failed_attempts"`
		LockDuration      time.Duration `mapstructure:"lock_duration"`
	} `mapstructure:"auth"`
	Ledger struct {
		LockTimeout time.Duration `mapstructure:"lock_timeout"`
	} `mapstructure:"ledger"`
	Mail struct {
		Mock     bool   `mapstructure:"mock"`
		Server   string `mapstructure:"server"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"mail"`
	Notify struct {
		Workers   int `mapstructure:"workers"`
		QueueSize int `mapstructure:"queue_size"`
	} `mapstructure:"notify"`
	Seed struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"seed"`
}

var AppConfig Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.ttl", 30*time.Minute)
	v.SetDefault("auth.max_failed_attempts", 3)
	v.SetDefault("auth.lock_duration", 15*time.Minute)
	v.SetDefault("ledger.lock_timeout", 2*time.Second)
	v.SetDefault("mail.mock", true)
	v.SetDefault("mail.server", "")
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "RevouBank <no-reply@revoubank.local>")
	v.SetDefault("notify.workers", 2)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("seed.enabled", false)
}

// Load reads config.yaml from dir (a missing file is fine), then applies
// environment overrides such as DB_DSN or AUTH_MAX_FAILED_ATTEMPTS.
func Load(dir string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var fileLookupError viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &fileLookupError) {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadConfig() error {
	cfg, err := Load("./configs")
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

func (c Config) validate() error {
	switch c.DB.Driver {
	case "postgres":
		if c.DB.DSN == "" {
			return errors.New("db.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return errors.New("db.driver must be postgres or memory")
	}
	if c.JWT.SECRET == "" {
		return errors.New("jwt.secret is required")
	}
	if c.Auth.MaxFailedAttempts < 1 {
		return errors.New("auth.max_failed_attempts must be at least 1")
	}
	if !c.Mail.Mock && c.Mail.Server == "" {
		return errors.New("mail.server is required when mail.mock is false")
	}
	return nil
}
