package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Auth      AuthConfig
	Storage   StorageConfig
	MySQL     MySQLConfig
	Redis     RedisConfig
	Lock      LockConfig
	Ledger    LedgerConfig
	Inventory InventoryConfig
	Telegram  TelegramConfig
	Workflow  WorkflowConfig
	Bindings  BindingsConfig
	Log       LogConfig
}

type AppConfig struct {
	Name     string
	Env      string
	HTTPAddr string
	GRPCAddr string
}

type AuthConfig struct {
	Token string
}

type StorageConfig struct {
	Backend string // mysql, memory
}

type MySQLConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type LockConfig struct {
	Backend        string // memory, redis
	Key            string
	TTL            time.Duration
	InboundTimeout time.Duration
	BulkTimeout    time.Duration
	EditTimeout    time.Duration
}

type LedgerConfig struct {
	Sheet          string
	InventorySheet string
	DataStartRow   int
	BoundaryToken  string
	BufferRows     int
	MaxEmptyRows   int
	BulkThreshold  int
}

type InventoryConfig struct {
	SKUHeader         string
	LocationHeader    string
	QuantityHeader    string
	SoldHeader        string
	LowStockThreshold int
	// SeedFile is a CSV export of the reference table, loaded by the memory storage backend.
	SeedFile string
}

type TelegramConfig struct {
	BotToken      string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	TimeZone      string
}

type WorkflowConfig struct {
	URL     string
	Timeout time.Duration
}

type BindingsConfig struct {
	Retention       time.Duration
	CleanupInterval time.Duration
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// Load reads config.toml (or the file at path) and applies FULFILL_ environment overrides.
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/app")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("FULFILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name:     v.GetString("app.name"),
			Env:      v.GetString("app.env"),
			HTTPAddr: v.GetString("app.http_addr"),
			GRPCAddr: v.GetString("app.grpc_addr"),
		},
		Auth: AuthConfig{
			Token: v.GetString("auth.token"),
		},
		Storage: StorageConfig{
			Backend: v.GetString("storage.backend"),
		},
		MySQL: MySQLConfig{
			DSN:          v.GetString("mysql.dsn"),
			MaxOpenConns: v.GetInt("mysql.max_open_conns"),
			MaxIdleConns: v.GetInt("mysql.max_idle_conns"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			PoolSize: v.GetInt("redis.pool_size"),
		},
		Lock: LockConfig{
			Backend:        v.GetString("lock.backend"),
			Key:            v.GetString("lock.key"),
			TTL:            v.GetDuration("lock.ttl"),
			InboundTimeout: v.GetDuration("lock.inbound_timeout"),
			BulkTimeout:    v.GetDuration("lock.bulk_timeout"),
			EditTimeout:    v.GetDuration("lock.edit_timeout"),
		},
		Ledger: LedgerConfig{
			Sheet:          v.GetString("ledger.sheet"),
			InventorySheet: v.GetString("ledger.inventory_sheet"),
			DataStartRow:   v.GetInt("ledger.data_start_row"),
			BoundaryToken:  v.GetString("ledger.boundary_token"),
			BufferRows:     v.GetInt("ledger.buffer_rows"),
			MaxEmptyRows:   v.GetInt("ledger.max_empty_rows"),
			BulkThreshold:  v.GetInt("ledger.bulk_threshold"),
		},
		Inventory: InventoryConfig{
			SKUHeader:         v.GetString("inventory.sku_header"),
			LocationHeader:    v.GetString("inventory.location_header"),
			QuantityHeader:    v.GetString("inventory.quantity_header"),
			SoldHeader:        v.GetString("inventory.sold_header"),
			LowStockThreshold: v.GetInt("inventory.low_stock_threshold"),
			SeedFile:          v.GetString("inventory.seed_file"),
		},
		Telegram: TelegramConfig{
			BotToken:      v.GetString("telegram.bot_token"),
			BaseURL:       v.GetString("telegram.base_url"),
			Timeout:       v.GetDuration("telegram.timeout"),
			RatePerSecond: v.GetFloat64("telegram.rate_per_second"),
			TimeZone:      v.GetString("telegram.time_zone"),
		},
		Workflow: WorkflowConfig{
			URL:     v.GetString("workflow.url"),
			Timeout: v.GetDuration("workflow.timeout"),
		},
		Bindings: BindingsConfig{
			Retention:       v.GetDuration("bindings.retention"),
			CleanupInterval: v.GetDuration("bindings.cleanup_interval"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
	}
	if !v.IsSet("inventory.low_stock_threshold") {
		cfg.Inventory.LowStockThreshold = 20
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	setString(&cfg.App.Name, "fulfillment-sync")
	setString(&cfg.App.Env, "development")
	setString(&cfg.App.HTTPAddr, ":8080")
	setString(&cfg.App.GRPCAddr, ":50051")

	setString(&cfg.Storage.Backend, "memory")
	setInt(&cfg.MySQL.MaxOpenConns, 25)
	setInt(&cfg.MySQL.MaxIdleConns, 5)

	setString(&cfg.Redis.Addr, "localhost:6379")
	setInt(&cfg.Redis.PoolSize, 10)

	setString(&cfg.Lock.Backend, "memory")
	setString(&cfg.Lock.Key, "fulfillment:ledger-lock")
	setDuration(&cfg.Lock.TTL, time.Minute)
	setDuration(&cfg.Lock.InboundTimeout, 30*time.Second)
	setDuration(&cfg.Lock.BulkTimeout, 15*time.Second)
	setDuration(&cfg.Lock.EditTimeout, 10*time.Second)

	setString(&cfg.Ledger.Sheet, "All orders")
	setString(&cfg.Ledger.InventorySheet, "Master Inventory")
	setInt(&cfg.Ledger.DataStartRow, 4)
	setString(&cfg.Ledger.BoundaryToken, "DIRECT")
	setInt(&cfg.Ledger.BufferRows, 3)
	setInt(&cfg.Ledger.MaxEmptyRows, 5)
	setInt(&cfg.Ledger.BulkThreshold, 5)

	setString(&cfg.Inventory.SKUHeader, "sku")
	setString(&cfg.Inventory.LocationHeader, "C:Model Year")
	setString(&cfg.Inventory.QuantityHeader, "Quantity")
	setString(&cfg.Inventory.SoldHeader, "Quantity Sold")

	setString(&cfg.Telegram.BaseURL, "https://api.telegram.org")
	setDuration(&cfg.Telegram.Timeout, 10*time.Second)
	setString(&cfg.Telegram.TimeZone, "America/Chicago")

	setDuration(&cfg.Workflow.Timeout, 15*time.Second)

	setDuration(&cfg.Bindings.Retention, 7*24*time.Hour)
	setDuration(&cfg.Bindings.CleanupInterval, 24*time.Hour)

	setString(&cfg.Log.Level, "info")
	setString(&cfg.Log.Format, "console")
	setString(&cfg.Log.Output, "stdout")
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}

func (c *Config) validate() error {
	if c.Auth.Token == "" {
		return errors.New("auth.token is required")
	}
	switch c.Storage.Backend {
	case "memory":
	case "mysql":
		if c.MySQL.DSN == "" {
			return errors.New("mysql.dsn is required when storage.backend is mysql")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Lock.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown lock.backend %q", c.Lock.Backend)
	}
	if c.Lock.InboundTimeout <= 0 || c.Lock.BulkTimeout <= 0 || c.Lock.EditTimeout <= 0 {
		return errors.New("lock timeouts must be positive")
	}
	if c.Ledger.DataStartRow < 1 {
		return errors.New("ledger.data_start_row must be positive")
	}
	if c.Inventory.LowStockThreshold < 0 {
		return errors.New("inventory.low_stock_threshold must not be negative")
	}
	return nil
}

// Location returns the time zone used in chat messages.
func (c TelegramConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
