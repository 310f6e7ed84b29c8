package config

import (
	"fmt"

	"github.com/shopspring/decimal"
)

func (cfg *ArenaConfig) TakeRate() (decimal.Decimal, error) {
	return parseRate("arena.default_take_rate", cfg.DefaultTakeRate)
}

func (cfg *ArenaConfig) OddsMargin() (decimal.Decimal, error) {
	return parseRate("arena.fixed_odds_margin", cfg.FixedOddsMargin)
}

func (cfg *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
}

func (cfg *NATSConfig) URL() string {
	return fmt.Sprintf("nats://%s:%d", cfg.Host, cfg.Port)
}

// parseRate accepts a fraction in [0, 1).
func parseRate(key, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%s must be in [0, 1), got %s", key, rate)
	}
	return rate, nil
}
