package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// Provider and driver names
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	MailProviderSES = "ses"
	MailProviderLog = "log"

	StorageProviderS3    = "s3"
	StorageProviderLocal = "local"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Sign     SignConfig     `mapstructure:"sign"`
	Mail     MailConfig     `mapstructure:"mail"`
	Storage  StorageConfig  `mapstructure:"storage"`
	GeoIP    GeoIPConfig    `mapstructure:"geoip"`
	AWS      AWSConfig      `mapstructure:"aws"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Port    int    `mapstructure:"port"`
	Env     string `mapstructure:"env"`
	BaseURL string `mapstructure:"base_url"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // "postgres" or "memory"
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SignConfig holds the signature workflow settings
type SignConfig struct {
	LinkSecret        string        `mapstructure:"link_secret"` // HMAC key for expiring mail links
	JWTSecret         string        `mapstructure:"jwt_secret"`  // verifies admin bearer tokens
	MaxSignatureBytes int           `mapstructure:"max_signature_bytes"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	ReminderCron      string        `mapstructure:"reminder_cron"`
	RetryCron         string        `mapstructure:"retry_cron"`
	RetryBatch        int           `mapstructure:"retry_batch"`
	MaxMailAttempts   int           `mapstructure:"max_mail_attempts"`
	SweepWorkers      int           `mapstructure:"sweep_workers"`
}

type MailConfig struct {
	Provider  string            `mapstructure:"provider"` // "ses" or "log"
	From      string            `mapstructure:"from"`
	ReplyTo   string            `mapstructure:"reply_to"`
	Templates map[string]string `mapstructure:"templates"` // logical template -> provider template name
}

type StorageConfig struct {
	Provider   string        `mapstructure:"provider"` // "s3" or "local"
	Bucket     string        `mapstructure:"bucket"`
	Prefix     string        `mapstructure:"prefix"`
	BasePath   string        `mapstructure:"base_path"`
	PresignTTL time.Duration `mapstructure:"presign_ttl"`
}

type GeoIPConfig struct {
	DatabasePath string `mapstructure:"database_path"` // MaxMind City database, lookups disabled when empty
}

// AWSConfig falls back to the default credential chain when no static keys are set
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint"` // S3-compatible endpoint override, e.g. MinIO
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

func NewConfig() (*Config, error) {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Enable environment variable override
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "sign-vrtl")
	viper.SetDefault("app.port", 8080)
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.base_url", "http://localhost:8080")
	viper.SetDefault("database.driver", DriverPostgres)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("sign.max_signature_bytes", 2<<20)
	viper.SetDefault("sign.lock_ttl", 30*time.Second)
	viper.SetDefault("sign.reminder_cron", "0 6 * * *")
	viper.SetDefault("sign.retry_cron", "*/5 * * * *")
	viper.SetDefault("sign.retry_batch", 50)
	viper.SetDefault("sign.max_mail_attempts", 5)
	viper.SetDefault("sign.sweep_workers", 4)
	viper.SetDefault("mail.provider", MailProviderLog)
	viper.SetDefault("storage.provider", StorageProviderLocal)
	viper.SetDefault("storage.base_path", "./data")
	viper.SetDefault("storage.presign_ttl", 7*24*time.Hour)
	viper.SetDefault("aws.region", "ap-southeast-1")
	viper.SetDefault("logging.level", "info")
}

// TemplateName maps a logical template to the provider's template name
func (m *MailConfig) TemplateName(logical string) string {
	if name, ok := m.Templates[logical]; ok && name != "" {
		return name
	}
	return logical
}

func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
