package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	App struct {
		Name       string `yaml:"name"`
		Env        string `yaml:"env"`
		InstanceID string `yaml:"instance_id"`
	} `yaml:"app"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text, json
	} `yaml:"log"`

	Database DatabaseConfig `yaml:"database"`

	NATS struct {
		URL           string        `yaml:"url"`
		ClientID      string        `yaml:"client_id"`
		ReconnectBase time.Duration `yaml:"reconnect_base"`
		ReconnectMax  time.Duration `yaml:"reconnect_max"`
	} `yaml:"nats"`

	Queue struct {
		Driver         string        `yaml:"driver"` // nats, memory
		EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
		RealtimeMaxAge time.Duration `yaml:"realtime_max_age"`
	} `yaml:"queue"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Workers struct {
		PersistenceConcurrency int  `yaml:"persistence_concurrency"`
		EmbeddedPersistence    bool `yaml:"embedded_persistence"` // api进程内同时运行持久化worker
	} `yaml:"workers"`

	Gateway struct {
		RequireExistingUser bool `yaml:"require_existing_user"`
	} `yaml:"gateway"`

	API struct {
		Port              string        `yaml:"port"`
		ReadTimeout       time.Duration `yaml:"read_timeout"`
		WriteTimeout      time.Duration `yaml:"write_timeout"`
		JWTSecret         string        `yaml:"jwt_secret"`
		StreamBuffer      int           `yaml:"stream_buffer"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	} `yaml:"api"`

	Scheduler struct {
		HealthCheck string `yaml:"health_check"`
		Stats       string `yaml:"stats"`
	} `yaml:"scheduler"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres, mysql, sqlite
	DSN             string        `yaml:"dsn"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ConnString 返回连接串，显式配置的 dsn 优先
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch d.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			d.User, d.Password, d.Host, d.Port, d.DBName)
	case "sqlite":
		if d.DBName == "" {
			return ":memory:"
		}
		return d.DBName
	default:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
	}
}

// LoadConfig 从文件加载配置，path 为空时只使用默认值和环境变量
func LoadConfig(path string) (*Config, error) {
	var config Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	overrideFromEnv(&config)
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("不支持的数据库驱动: %q", c.Database.Driver)
	}
	switch c.Queue.Driver {
	case "nats", "memory":
	default:
		return fmt.Errorf("不支持的队列驱动: %q", c.Queue.Driver)
	}
	if c.Queue.Driver == "nats" && c.NATS.URL == "" {
		return errors.New("nats.url 不能为空")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("启用redis时 redis.addr 不能为空")
	}
	return nil
}

func applyDefaults(c *Config) {
	if c.App.Name == "" {
		c.App.Name = "notifyhub"
	}
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.InstanceID == "" {
		host, _ := os.Hostname()
		c.App.InstanceID = sanitizeName(host)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Port == 0 && c.Database.Driver == "postgres" {
		c.Database.Port = 5432
	}
	if c.Database.Port == 0 && c.Database.Driver == "mysql" {
		c.Database.Port = 3306
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.ClientID == "" {
		c.NATS.ClientID = c.App.Name
	}
	if c.NATS.ReconnectBase == 0 {
		c.NATS.ReconnectBase = 250 * time.Millisecond
	}
	if c.NATS.ReconnectMax == 0 {
		c.NATS.ReconnectMax = 10 * time.Second
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "nats"
	}
	if c.Queue.EnqueueTimeout == 0 {
		c.Queue.EnqueueTimeout = 3 * time.Second
	}
	if c.Queue.RealtimeMaxAge == 0 {
		c.Queue.RealtimeMaxAge = time.Minute
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "notifyhub:realtime"
	}
	if c.Workers.PersistenceConcurrency <= 0 {
		c.Workers.PersistenceConcurrency = 4
	}
	if c.API.Port == "" {
		c.API.Port = "8080"
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 15 * time.Second
	}
	if c.API.StreamBuffer <= 0 {
		c.API.StreamBuffer = 32
	}
	if c.API.HeartbeatInterval == 0 {
		c.API.HeartbeatInterval = 25 * time.Second
	}
	if c.Scheduler.HealthCheck == "" {
		c.Scheduler.HealthCheck = "@every 30s"
	}
	if c.Scheduler.Stats == "" {
		c.Scheduler.Stats = "@every 1m"
	}
}

// overrideFromEnv 使用 NOTIFYHUB_ 前缀的环境变量覆盖配置，如 NOTIFYHUB_DATABASE_DSN
func overrideFromEnv(c *Config) {
	v := viper.New()
	v.SetEnvPrefix("NOTIFYHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}
	flag := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	str("app.name", &c.App.Name)
	str("app.env", &c.App.Env)
	str("app.instance_id", &c.App.InstanceID)
	str("log.level", &c.Log.Level)
	str("log.format", &c.Log.Format)

	str("database.driver", &c.Database.Driver)
	str("database.dsn", &c.Database.DSN)
	str("database.host", &c.Database.Host)
	num("database.port", &c.Database.Port)
	str("database.user", &c.Database.User)
	str("database.password", &c.Database.Password)
	str("database.dbname", &c.Database.DBName)
	str("database.sslmode", &c.Database.SSLMode)
	num("database.max_open_conns", &c.Database.MaxOpenConns)
	num("database.max_idle_conns", &c.Database.MaxIdleConns)
	dur("database.conn_max_lifetime", &c.Database.ConnMaxLifetime)

	str("nats.url", &c.NATS.URL)
	str("nats.client_id", &c.NATS.ClientID)
	dur("nats.reconnect_base", &c.NATS.ReconnectBase)
	dur("nats.reconnect_max", &c.NATS.ReconnectMax)

	str("queue.driver", &c.Queue.Driver)
	dur("queue.enqueue_timeout", &c.Queue.EnqueueTimeout)
	dur("queue.realtime_max_age", &c.Queue.RealtimeMaxAge)

	flag("redis.enabled", &c.Redis.Enabled)
	str("redis.addr", &c.Redis.Addr)
	str("redis.password", &c.Redis.Password)
	num("redis.db", &c.Redis.DB)
	str("redis.channel", &c.Redis.Channel)

	num("workers.persistence_concurrency", &c.Workers.PersistenceConcurrency)
	flag("workers.embedded_persistence", &c.Workers.EmbeddedPersistence)
	flag("gateway.require_existing_user", &c.Gateway.RequireExistingUser)

	str("api.port", &c.API.Port)
	dur("api.read_timeout", &c.API.ReadTimeout)
	dur("api.write_timeout", &c.API.WriteTimeout)
	str("api.jwt_secret", &c.API.JWTSecret)
	num("api.stream_buffer", &c.API.StreamBuffer)
	dur("api.heartbeat_interval", &c.API.HeartbeatInterval)

	str("scheduler.health_check", &c.Scheduler.HealthCheck)
	str("scheduler.stats", &c.Scheduler.Stats)
}

// GetDefaultConfigPath 获取默认配置文件路径
func GetDefaultConfigPath() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev" // 默认开发环境
	}

	return fmt.Sprintf("configs/%s/app.yaml", env)
}

// sanitizeName JetStream 消费者名不允许包含 . * > 和空白
func sanitizeName(s string) string {
	if s == "" {
		return "local"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '-'
		}
		return r
	}, s)
}
