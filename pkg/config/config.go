package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TRANSITWATCH_SERVER_PORT.
const EnvPrefix = "TRANSITWATCH"

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORS            bool          `yaml:"cors" default:"true"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output string `yaml:"output" default:"stdout"`
		// Collector ships aggregated error logs to Kafka.
		Collector struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic" default:"transitwatch-logs"`
			FlushInterval  time.Duration `yaml:"flush_interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Chart struct {
		Path string `yaml:"path" default:"config/chart.yaml" validate:"required"`
	} `yaml:"chart"`
	Ephemeris struct {
		Ayanamsa      float64       `yaml:"ayanamsa" default:"24.1" validate:"gte=0,lt=360"`
		CacheCapacity int           `yaml:"cache_capacity" default:"1000" validate:"gt=0"`
		CacheTTL      time.Duration `yaml:"cache_ttl"`
		Precision     int           `yaml:"precision" default:"4" validate:"gte=0,lte=8"`
		SweepInterval time.Duration `yaml:"sweep_interval" default:"5m"`
	} `yaml:"ephemeris"`
	Monitor struct {
		Interval         time.Duration `yaml:"interval" default:"1m"`
		SubscriberBuffer int           `yaml:"subscriber_buffer" default:"8" validate:"gt=0"`
		PumpMinInterval  time.Duration `yaml:"pump_min_interval" default:"30s"`
	} `yaml:"monitor"`
	Analysis struct {
		Orb               float64 `yaml:"orb" default:"8" validate:"gte=0,lte=30"`
		CriticalThreshold float64 `yaml:"critical_threshold" default:"70" validate:"gte=0,lte=100"`
		MediumThreshold   float64 `yaml:"medium_threshold" default:"40" validate:"gte=0,lte=100"`
	} `yaml:"analysis"`
	Predictions struct {
		MaxDaysAhead int           `yaml:"max_days_ahead" default:"365" validate:"gt=0,lte=3650"`
		Step         time.Duration `yaml:"step" default:"6h"`
		CacheTTL     time.Duration `yaml:"cache_ttl" default:"60s"`
		RateLimit    int           `yaml:"rate_limit" default:"30"`
		RateWindow   time.Duration `yaml:"rate_window" default:"1m"`
	} `yaml:"predictions"`
	Alerts struct {
		RulesPath string        `yaml:"rules_path"`
		DedupTTL  time.Duration `yaml:"dedup_ttl" default:"720h"`
		Timing    struct {
			ImmediateDays float64 `yaml:"immediate_days" default:"1"`
			SoonDays      float64 `yaml:"soon_days" default:"7"`
			UpcomingDays  float64 `yaml:"upcoming_days" default:"30"`
			AdvanceDays   float64 `yaml:"advance_days" default:"90"`
		} `yaml:"timing"`
	} `yaml:"alerts"`
	Notifications struct {
		Log       bool   `yaml:"log" default:"true"`
		Kafka     bool   `yaml:"kafka"`
		Queue     bool   `yaml:"queue"`
		WebSocket bool   `yaml:"websocket" default:"true"`
		Webhook   struct {
			Enabled     bool              `yaml:"enabled"`
			URL         string            `yaml:"url" validate:"omitempty,url"`
			Headers     map[string]string `yaml:"headers"`
			Timeout     time.Duration     `yaml:"timeout" default:"5s"`
			OpenTimeout time.Duration     `yaml:"open_timeout" default:"30s"`
		} `yaml:"webhook"`
	} `yaml:"notifications"`
	Persistence struct {
		Backend   string `yaml:"backend" default:"file" validate:"oneof=memory file redis"`
		Dir       string `yaml:"dir" default:"./data/state"`
		KeyPrefix string `yaml:"key_prefix" default:"transitwatch"`
		Dedup     string `yaml:"dedup" default:"memory" validate:"oneof=memory redis"`
	} `yaml:"persistence"`
	Archive struct {
		Backend    string `yaml:"backend" default:"none" validate:"oneof=none sqlite clickhouse"`
		SQLitePath string `yaml:"sqlite_path" default:"./data/alerts.db"`
		Table      string `yaml:"table" default:"transit_alerts"`
	} `yaml:"archive"`
	Redis struct {
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"6379"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size" default:"10"`
		MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
		Timeout      time.Duration `yaml:"timeout" default:"5s"`
		Queue        struct {
			Workers    int           `yaml:"workers" default:"2"`
			RetryLimit int           `yaml:"retry_limit" default:"3"`
			RetryDelay time.Duration `yaml:"retry_delay" default:"5s"`
		} `yaml:"queue"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		AlertsTopic  string   `yaml:"alerts_topic" default:"transit-alerts"`
		RequiredAcks int      `yaml:"required_acks" default:"1"`
		Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled         bool          `yaml:"enabled"`
			GroupID         string        `yaml:"group_id" default:"transitwatch-archive"`
			AutoOffsetReset string        `yaml:"auto_offset_reset" default:"earliest" validate:"oneof=earliest latest"`
			Workers         int           `yaml:"workers" default:"2"`
			BufferSize      int           `yaml:"buffer_size" default:"256"`
			RetryMax        int           `yaml:"retry_max" default:"3"`
			BackoffMin      time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax      time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic        string        `yaml:"dlq_topic"`
			MinBytes        int           `yaml:"min_bytes" default:"1"`
			MaxBytes        int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"transitwatch"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		MaxOpenConns     int           `yaml:"max_open_conns" default:"10" validate:"gt=0"`
		MaxIdleConns     int           `yaml:"max_idle_conns" default:"5" validate:"gte=0"`
		ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime" default:"5m"`
	} `yaml:"clickhouse"`
}

// envOverrides lists the settings that may be overridden from the
// environment or a .env file. Unset variables leave the file values alone.
type envOverrides struct {
	Environment        string   `envconfig:"ENVIRONMENT"`
	ServerPort         int      `envconfig:"SERVER_PORT"`
	LogLevel           string   `envconfig:"LOG_LEVEL"`
	ChartPath          string   `envconfig:"CHART_PATH"`
	RulesPath          string   `envconfig:"RULES_PATH"`
	Ayanamsa           *float64 `envconfig:"AYANAMSA"`
	PersistenceBackend string   `envconfig:"PERSISTENCE_BACKEND"`
	ArchiveBackend     string   `envconfig:"ARCHIVE_BACKEND"`
	RedisHost          string   `envconfig:"REDIS_HOST"`
	RedisPassword      string   `envconfig:"REDIS_PASSWORD"`
	KafkaBrokers       []string `envconfig:"KAFKA_BROKERS"`
	KafkaAlertsTopic   string   `envconfig:"KAFKA_ALERTS_TOPIC"`
	ClickHouseHost     string   `envconfig:"CLICKHOUSE_HOST"`
	ClickHousePassword string   `envconfig:"CLICKHOUSE_PASSWORD"`
	WebhookURL         string   `envconfig:"WEBHOOK_URL"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file, fills defaults and validates.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse builds a Config from YAML bytes.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides it with TRANSITWATCH_*
// environment variables. A .env file in the working directory is read first
// when present.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("env config: %w", err)
	}

	if env.Environment != "" {
		c.Environment = env.Environment
	}
	if env.ServerPort != 0 {
		c.Server.Port = env.ServerPort
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	if env.ChartPath != "" {
		c.Chart.Path = env.ChartPath
	}
	if env.RulesPath != "" {
		c.Alerts.RulesPath = env.RulesPath
	}
	if env.Ayanamsa != nil {
		c.Ephemeris.Ayanamsa = *env.Ayanamsa
	}
	if env.PersistenceBackend != "" {
		c.Persistence.Backend = env.PersistenceBackend
	}
	if env.ArchiveBackend != "" {
		c.Archive.Backend = env.ArchiveBackend
	}
	if env.RedisHost != "" {
		c.Redis.Host = env.RedisHost
	}
	if env.RedisPassword != "" {
		c.Redis.Password = env.RedisPassword
	}
	if len(env.KafkaBrokers) > 0 {
		c.Kafka.Brokers = env.KafkaBrokers
	}
	if env.KafkaAlertsTopic != "" {
		c.Kafka.AlertsTopic = env.KafkaAlertsTopic
	}
	if env.ClickHouseHost != "" {
		c.ClickHouse.Host = env.ClickHouseHost
	}
	if env.ClickHousePassword != "" {
		c.ClickHouse.Password = env.ClickHousePassword
	}
	if env.WebhookURL != "" {
		c.Notifications.Webhook.URL = env.WebhookURL
		c.Notifications.Webhook.Enabled = true
	}
	return nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Analysis.MediumThreshold > c.Analysis.CriticalThreshold {
		return errors.New("analysis.medium_threshold must not exceed analysis.critical_threshold")
	}
	t := c.Alerts.Timing
	if !(t.ImmediateDays > 0 && t.ImmediateDays <= t.SoonDays && t.SoonDays <= t.UpcomingDays && t.UpcomingDays <= t.AdvanceDays) {
		return errors.New("alerts.timing must be positive and ascending")
	}
	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		return errors.New("notifications.webhook.url is required when the webhook is enabled")
	}
	needsKafka := c.Notifications.Kafka || c.Kafka.Consumer.Enabled || c.Log.Collector.Enabled
	if needsKafka && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when a kafka channel is enabled")
	}
	if c.Archive.Backend == "clickhouse" && !c.Kafka.Consumer.Enabled {
		return errors.New("archive.backend clickhouse is fed by the kafka consumer; enable kafka.consumer")
	}
	if c.Kafka.Consumer.Enabled && !c.Notifications.Kafka {
		return errors.New("kafka.consumer archives published alerts; enable notifications.kafka")
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Persistence.Backend == "redis" || c.Persistence.Dedup == "redis" || c.Notifications.Queue
}
