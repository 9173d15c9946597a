package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const EnvPrefix = "GPSTRACKER"

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=console json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

type GpsConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	TunnelAddr     string        `mapstructure:"tunnel_addr"`
	TunnelToken    string        `mapstructure:"tunnel_token" validate:"required_with=TunnelAddr"`
	Protocol       string        `mapstructure:"protocol" validate:"omitempty,oneof=fifotrack its"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	PhotoMaxLength int           `mapstructure:"photo_max_length" validate:"gte=0"`
}

type StoreConfig struct {
	Backend       string        `mapstructure:"backend" validate:"oneof=pg mongo log"`
	Table         string        `mapstructure:"table" validate:"required"`
	BufSize       int           `mapstructure:"buf_size" validate:"gt=0"`
	FlushDur      time.Duration `mapstructure:"flush_dur" validate:"gt=0"`
	MongoUri      string        `mapstructure:"mongo_uri" validate:"required_if=Backend mongo"`
	MongoDatabase string        `mapstructure:"mongo_database"`
}

type CacheConfig struct {
	RedisUrl string        `mapstructure:"redis_url"`
	Ttl      time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

type BrokerConfig struct {
	NatsUrl      string        `mapstructure:"nats_url"`
	MqttBroker   string        `mapstructure:"mqtt_broker"`
	MqttClientId string        `mapstructure:"mqtt_client_id"`
	Prefix       string        `mapstructure:"prefix"`
	BufSize      int           `mapstructure:"buf_size" validate:"gt=0"`
	FlushDur     time.Duration `mapstructure:"flush_dur" validate:"gt=0"`
}

type RegistryConfig struct {
	File         string        `mapstructure:"file"`
	AutoRegister bool          `mapstructure:"auto_register"`
	Refresh      time.Duration `mapstructure:"refresh" validate:"gte=0"`
}

type ApiConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	ApiKeyHash      string `mapstructure:"api_key_hash"`
	HashidSalt      string `mapstructure:"hashid_salt"`
	MaxSubscription int    `mapstructure:"max_subscription" validate:"gte=0"`
}

type Config struct {
	NodeId   uint64         `mapstructure:"node_id" validate:"lte=1023"`
	DbUrl    string         `mapstructure:"db_url"`
	Log      LogConfig      `mapstructure:"log"`
	Gps      GpsConfig      `mapstructure:"gps"`
	Store    StoreConfig    `mapstructure:"store"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Registry RegistryConfig `mapstructure:"registry"`
	Api      ApiConfig      `mapstructure:"api"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", 0)
	v.SetDefault("db_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 25)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)
	v.SetDefault("gps.listen_addr", ":5555")
	v.SetDefault("gps.tunnel_addr", "")
	v.SetDefault("gps.tunnel_token", "")
	v.SetDefault("gps.protocol", "")
	v.SetDefault("gps.idle_timeout", 10*time.Minute)
	v.SetDefault("gps.photo_max_length", 4<<20)
	v.SetDefault("store.backend", "log")
	v.SetDefault("store.table", "position")
	v.SetDefault("store.buf_size", 100)
	v.SetDefault("store.flush_dur", 5*time.Second)
	v.SetDefault("store.mongo_uri", "")
	v.SetDefault("store.mongo_database", "gpstracker")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("broker.nats_url", "")
	v.SetDefault("broker.mqtt_broker", "")
	v.SetDefault("broker.mqtt_client_id", "gpstracker")
	v.SetDefault("broker.prefix", "gps")
	v.SetDefault("broker.buf_size", 64)
	v.SetDefault("broker.flush_dur", time.Second)
	v.SetDefault("registry.file", "")
	v.SetDefault("registry.auto_register", false)
	v.SetDefault("registry.refresh", time.Minute)
	v.SetDefault("api.listen_addr", ":3333")
	v.SetDefault("api.api_key_hash", "")
	v.SetDefault("api.hashid_salt", "")
	v.SetDefault("api.max_subscription", 5)
}

// Load reads the config file at path, when given, then applies GPSTRACKER_*
// environment overrides, e.g. GPSTRACKER_GPS_LISTEN_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var ErrNeedDatabase = errors.New("db_url is required")

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.DbUrl == "" && (c.Store.Backend == "pg" || c.Registry.AutoRegister) {
		return fmt.Errorf("invalid config: %w", ErrNeedDatabase)
	}
	if c.Gps.ListenAddr == "" && c.Gps.TunnelAddr == "" {
		return fmt.Errorf("invalid config: gps.listen_addr or gps.tunnel_addr must be set")
	}
	return nil
}
