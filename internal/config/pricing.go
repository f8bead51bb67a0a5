package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PricingTable is expressed in minor currency units.
type PricingTable struct {
	Currency  string         `mapstructure:"currency"`
	Deposit   int64          `mapstructure:"deposit"`
	Surcharge SurchargeTable `mapstructure:"surcharge"`
}

type SurchargeTable struct {
	None     int64 `mapstructure:"none"`
	Standard int64 `mapstructure:"standard"`
	DoubleUp int64 `mapstructure:"double_up"`
}

func DefaultPricingTable() PricingTable {
	return PricingTable{
		Currency: "usd",
		Deposit:  20_000,
		Surcharge: SurchargeTable{
			None:     0,
			Standard: 20_000,
			DoubleUp: 60_000,
		},
	}
}

type PricingHolder struct {
	current atomic.Value // holds PricingTable
}

// NewStaticPricingHolder pins a fixed table; used by tests and tools.
func NewStaticPricingHolder(table PricingTable) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(table)
	return holder
}

func NewPricingHolder(log *zap.Logger) (*PricingHolder, error) {
	log = log.Named("config.pricing")

	v := viper.New()
	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/packclaim")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PACKCLAIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPricingTable()
	v.SetDefault("pricing.currency", defaults.Currency)
	v.SetDefault("pricing.deposit", defaults.Deposit)
	v.SetDefault("pricing.surcharge.none", defaults.Surcharge.None)
	v.SetDefault("pricing.surcharge.standard", defaults.Surcharge.Standard)
	v.SetDefault("pricing.surcharge.double_up", defaults.Surcharge.DoubleUp)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var table PricingTable
	if err := v.UnmarshalKey("pricing", &table); err != nil {
		return nil, err
	}
	table.Currency = strings.ToLower(strings.TrimSpace(table.Currency))
	if err := ValidatePricingTable(table); err != nil {
		return nil, err
	}

	holder := NewStaticPricingHolder(table)
	if !fileLoaded {
		log.Info("pricing file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingTable
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Warn("pricing reload failed", zap.Error(err))
			return
		}
		updated.Currency = strings.ToLower(strings.TrimSpace(updated.Currency))
		if err := ValidatePricingTable(updated); err != nil {
			log.Warn("invalid pricing ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("pricing reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PricingHolder) Get() PricingTable {
	return h.current.Load().(PricingTable)
}

func ValidatePricingTable(t PricingTable) error {
	if len(t.Currency) != 3 {
		return errors.New("pricing.currency must be a 3-letter ISO code")
	}
	if t.Deposit <= 0 {
		return errors.New("pricing.deposit must be positive")
	}
	if t.Surcharge.None < 0 || t.Surcharge.Standard < 0 || t.Surcharge.DoubleUp < 0 {
		return errors.New("pricing.surcharge values cannot be negative")
	}
	return nil
}
