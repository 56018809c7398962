package config

import (
	"errors"
	"strings"
	"time"

	"github.com/sikulab/secauth/params"
	"github.com/spf13/viper"
)

const (
	DefaultListenAddr = ":3000"
	DefaultBcryptCost = 12
)

type MySQLConfig struct {
	Dsn             string   `mapstructure:"dsn"`
	ReplicaDsns     []string `mapstructure:"replicaDsns"`
	TablePrefix     string   `mapstructure:"tablePrefix"`
	MaxIdleConns    int      `mapstructure:"maxIdleConns"`
	MaxOpenConns    int      `mapstructure:"maxOpenConns"`
	ConnMaxIdleTime int      `mapstructure:"connMaxIdleTime"`
	ConnMaxLifetime int      `mapstructure:"connMaxLifetime"`
}

type RedisConfig struct {
	URL         string `mapstructure:"url"`
	PoolSize    int    `mapstructure:"poolSize"`
	ClusterMode bool   `mapstructure:"clusterMode"`
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwtSecret"`
	Issuer          string        `mapstructure:"issuer"`
	Audience        string        `mapstructure:"audience"`
	AccessTokenTTL  time.Duration `mapstructure:"accessTokenTTL"`
	RefreshTokenTTL time.Duration `mapstructure:"refreshTokenTTL"`
	RememberMeTTL   time.Duration `mapstructure:"rememberMeTTL"`
	MaxLoginFail    int           `mapstructure:"maxLoginFail"`
	LockDuration    time.Duration `mapstructure:"lockDuration"`
	BcryptCost      int           `mapstructure:"bcryptCost"`
	RequireCaptcha  bool          `mapstructure:"requireCaptcha"`
}

type CaptchaConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	TLS      bool   `mapstructure:"tls"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
	CAFile   string `mapstructure:"caFile"`
}

type MailConfig struct {
	Backend string     `mapstructure:"backend"`
	From    string     `mapstructure:"from"`
	SMTP    SMTPConfig `mapstructure:"smtp"`
}

type AuditConfig struct {
	QueueSize int `mapstructure:"queueSize"`
	Shards    int `mapstructure:"shards"`
}

type Config struct {
	Debug        bool          `mapstructure:"debug"`
	ListenAddr   string        `mapstructure:"listenAddr"`
	AllowOrigins []string      `mapstructure:"allowOrigins"`
	MySQL        MySQLConfig   `mapstructure:"mysql"`
	Redis        RedisConfig   `mapstructure:"redis"`
	Auth         AuthConfig    `mapstructure:"auth"`
	Captcha      CaptchaConfig `mapstructure:"captcha"`
	Mail         MailConfig    `mapstructure:"mail"`
	Audit        AuditConfig   `mapstructure:"audit"`
}

func (c *Config) Sanitize() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret is required")
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = params.AccessTokenExpiration
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = params.RefreshTokenExpiration
	}
	if c.Auth.RememberMeTTL == 0 {
		c.Auth.RememberMeTTL = params.RememberMeRefreshMax
	}
	if c.Auth.MaxLoginFail == 0 {
		c.Auth.MaxLoginFail = params.MaxLoginFailCount
	}
	if c.Auth.LockDuration == 0 {
		c.Auth.LockDuration = params.AccountLockDuration
	}
	if c.Auth.BcryptCost == 0 {
		c.Auth.BcryptCost = DefaultBcryptCost
	}
	if c.Audit.QueueSize == 0 {
		c.Audit.QueueSize = params.AuditQueueSize
	}
	if c.Audit.Shards == 0 {
		c.Audit.Shards = params.AuditShardCount
	}
	return nil
}

func LoadConfig(filename string) (*Config, error) {
	viper.SetConfigFile(filename)
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Sanitize(); err != nil {
		return nil, err
	}
	return &config, nil
}
