package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	BOM      BOMConfig      `mapstructure:"bom"`
	OTel     OTelConfig     `mapstructure:"otel"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadSize   int64         `mapstructure:"max_upload_size"`
	// CORSOrigins 为空时允许任意来源
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	// Driver postgres | sqlite
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	// Path sqlite 数据库文件
	Path            string        `mapstructure:"path"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN postgres 连接串
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BOMConfig BOM引擎配置
type BOMConfig struct {
	MaxDepth     int    `mapstructure:"max_depth"`
	NumberPrefix string `mapstructure:"number_prefix"`
	// SequenceBackend database | redis
	SequenceBackend  string        `mapstructure:"sequence_backend"`
	SequenceAttempts int           `mapstructure:"sequence_attempts"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	// Timezone 决定BOM编号中的日期
	Timezone string `mapstructure:"timezone"`
}

// Location 编号使用的时区
func (b BOMConfig) Location() (*time.Location, error) {
	if b.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(b.Timezone)
}

type OTelConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	SequenceBackendDatabase = "database"
	SequenceBackendRedis    = "redis"
)

func Load() (*Config, error) {
	v := viper.New()

	// 设置配置文件
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// 配置文件不存在，使用默认值和环境变量
	}

	// 环境变量覆盖配置
	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_upload_size", 10<<20)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "nimo")
	v.SetDefault("database.dbname", "nimo_bom")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "nimo_bom.db")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 10*time.Minute)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("jwt.issuer", "nimo-bom")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("bom.max_depth", 10)
	v.SetDefault("bom.number_prefix", "BOM")
	v.SetDefault("bom.sequence_backend", SequenceBackendDatabase)
	v.SetDefault("bom.sequence_attempts", 3)
	v.SetDefault("bom.cache_ttl", 5*time.Minute)

	v.SetDefault("otel.service_name", "nimo-bom")
	v.SetDefault("otel.sample_ratio", 1.0)
}

func bindEnvVariables(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.mode", "SERVER_MODE")
	v.BindEnv("server.cors_origins", "SERVER_CORS_ORIGINS")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.path", "DB_PATH")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Log
	v.BindEnv("log.level", "LOG_LEVEL")

	// BOM
	v.BindEnv("bom.max_depth", "BOM_MAX_DEPTH")
	v.BindEnv("bom.number_prefix", "BOM_NUMBER_PREFIX")
	v.BindEnv("bom.sequence_backend", "BOM_SEQUENCE_BACKEND")
	v.BindEnv("bom.timezone", "BOM_TIMEZONE")

	// OTel
	v.BindEnv("otel.enabled", "OTEL_ENABLED")
}

// Validate 检查互相依赖的配置项
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	switch c.BOM.SequenceBackend {
	case SequenceBackendDatabase:
	case SequenceBackendRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("bom.sequence_backend %q requires redis.enabled", c.BOM.SequenceBackend)
		}
	default:
		return fmt.Errorf("unsupported bom.sequence_backend %q", c.BOM.SequenceBackend)
	}
	if c.BOM.MaxDepth < 1 {
		return fmt.Errorf("bom.max_depth must be at least 1, got %d", c.BOM.MaxDepth)
	}
	if _, err := c.BOM.Location(); err != nil {
		return fmt.Errorf("bom.timezone: %w", err)
	}
	return nil
}

// GetEnvOrDefault 获取环境变量，如果不存在则返回默认值
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
