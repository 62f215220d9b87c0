package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Trade    TradeConfig    `mapstructure:"trade"`
	Economy  EconomyConfig  `mapstructure:"economy"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Drops    DropConfig     `mapstructure:"drops"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
	// AdminIPs restricts /admin routes; empty allows any address.
	AdminIPs []string `mapstructure:"admin_ips"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
	// KeyPrefix namespaces Redis keys and channels.
	KeyPrefix string `mapstructure:"key_prefix"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// TradeConfig controls trade session lifetime and housekeeping.
type TradeConfig struct {
	// Timeout is measured from session creation and is never extended.
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
}

// EconomyConfig holds the per-rarity base values shared by recycling and merging.
type EconomyConfig struct {
	// BaseValues is used for both the recycle base (V0) and the merge cost base (C0).
	BaseValues         map[string]float64 `mapstructure:"base_values"`
	ScalingFactor      float64            `mapstructure:"scaling_factor"`
	DefaultDiminishing float64            `mapstructure:"default_diminishing"`
	ChargeMergeCost    bool               `mapstructure:"charge_merge_cost"`
	MaxRecycle         int                `mapstructure:"max_recycle"`
}

// CatalogConfig points at the deck catalog files applied at startup.
type CatalogConfig struct {
	DataPath string `mapstructure:"data_path"` // empty disables loading
}

// DropConfig controls card packs and the default per-rarity drop rates.
type DropConfig struct {
	// Rates is used for decks that define no drop rates of their own.
	Rates         map[string]float64 `mapstructure:"rates"`
	ClaimCooldown time.Duration      `mapstructure:"claim_cooldown"`
	MaxPacks      int                `mapstructure:"max_packs"`
	MaxOpen       int                `mapstructure:"max_open"`
	CardsPerPack  int                `mapstructure:"cards_per_pack"`
	// BoostedRarities are multiplied by the booster pack factor.
	BoostedRarities []string `mapstructure:"boosted_rarities"`
}

// DefaultDropRates are percentages summing to 100.
var DefaultDropRates = map[string]float64{
	"Common":      40,
	"Uncommon":    25,
	"Exceptional": 15,
	"Rare":        10,
	"Epic":        6,
	"Legendary":   3,
	"Mythic":      1,
}

// DefaultBaseValues mirrors the credit table players have always been paid for recycling.
var DefaultBaseValues = map[string]float64{
	"Common":      10,
	"Uncommon":    25,
	"Exceptional": 50,
	"Rare":        100,
	"Epic":        250,
	"Legendary":   500,
	"Mythic":      1000,
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config populated only from defaults, without reading a file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/deckforge.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("cache.key_prefix", "deckforge:")
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("trade.timeout", "5m")
	v.SetDefault("trade.sweep_interval", "1m")
	v.SetDefault("trade.lock_ttl", "10s")
	v.SetDefault("economy.base_values", DefaultBaseValues)
	v.SetDefault("economy.scaling_factor", 1.25)
	v.SetDefault("economy.default_diminishing", 0.85)
	v.SetDefault("economy.charge_merge_cost", true)
	v.SetDefault("economy.max_recycle", 100)
	v.SetDefault("drops.rates", DefaultDropRates)
	v.SetDefault("drops.claim_cooldown", "8h")
	v.SetDefault("drops.max_packs", 30)
	v.SetDefault("drops.max_open", 10)
	v.SetDefault("drops.cards_per_pack", 2)
	v.SetDefault("drops.boosted_rarities", []string{"Epic", "Legendary", "Mythic"})
}
