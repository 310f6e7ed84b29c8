package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type NATSConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	Host    string       `mapstructure:"host"`
	Port    int          `mapstructure:"port"`
	Stream  StreamConfig `mapstructure:"stream"`
}

type StreamConfig struct {
	Name     string   `mapstructure:"name"`
	Subjects []string `mapstructure:"subjects"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type TemporalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	HostPort  string `mapstructure:"hostport"`
	TaskQueue string `mapstructure:"taskqueue"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// RatingConfig tunes the Elo update. K tapers linearly from KMax to KMin
// over the first TaperEvents rated events in a class.
type RatingConfig struct {
	Initial     float64 `mapstructure:"initial"`
	KMax        float64 `mapstructure:"kmax"`
	KMin        float64 `mapstructure:"kmin"`
	TaperEvents int     `mapstructure:"taper_events"`
}

type ArenaConfig struct {
	TickInterval            time.Duration `mapstructure:"tick_interval"`
	ReservationTTL          time.Duration `mapstructure:"reservation_ttl"`
	ReservationSweep        time.Duration `mapstructure:"reservation_sweep"`
	AutoScheduleSweep       time.Duration `mapstructure:"auto_schedule_sweep"`
	ProgTimeout             time.Duration `mapstructure:"prog_timeout"`
	SettlementRetryInterval time.Duration `mapstructure:"settlement_retry_interval"`
	FinancePeriod           time.Duration `mapstructure:"finance_period"`
	CurrencyPlaces          int32         `mapstructure:"currency_places"`
	DefaultTakeRate         string        `mapstructure:"default_take_rate"`
	FixedOddsMargin         string        `mapstructure:"fixed_odds_margin"`
	Rating                  RatingConfig  `mapstructure:"rating"`
}

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Server   ServerConfig   `mapstructure:"server"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	Log      LogConfig      `mapstructure:"log"`
	Arena    ArenaConfig    `mapstructure:"arena"`
}

func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("arena")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("database.driver", "memory")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("nats.port", 4222)
	viper.SetDefault("nats.stream.name", "ARENA_EVENTS")
	viper.SetDefault("nats.stream.subjects", []string{"arena.>"})
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("temporal.taskqueue", "arena-task-queue")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("arena.tick_interval", time.Second)
	viper.SetDefault("arena.reservation_ttl", 2*time.Minute)
	viper.SetDefault("arena.reservation_sweep", 30*time.Second)
	viper.SetDefault("arena.auto_schedule_sweep", time.Minute)
	viper.SetDefault("arena.prog_timeout", 2*time.Second)
	viper.SetDefault("arena.settlement_retry_interval", 30*time.Second)
	viper.SetDefault("arena.finance_period", 24*time.Hour)
	viper.SetDefault("arena.currency_places", 2)
	viper.SetDefault("arena.default_take_rate", "0.1")
	viper.SetDefault("arena.fixed_odds_margin", "0.05")
	viper.SetDefault("arena.rating.initial", 1500.0)
	viper.SetDefault("arena.rating.kmax", 40.0)
	viper.SetDefault("arena.rating.kmin", 16.0)
	viper.SetDefault("arena.rating.taper_events", 20)
}

func init() {
	viper.AutomaticEnv()
}
