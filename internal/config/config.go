package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fundingwatch/internal/logger"
)

type Server struct {
	Port              string `json:"port" yaml:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec"`
}

type Aggregator struct {
	ReferenceSource          string `json:"reference_source" yaml:"reference_source"`
	QuoteCurrency            string `json:"quote_currency" yaml:"quote_currency"`
	DefaultTopN              int    `json:"default_top_n" yaml:"default_top_n"`
	CacheTTLSec              int    `json:"cache_ttl_sec" yaml:"cache_ttl_sec"`
	SourceTimeoutSec         int    `json:"source_timeout_sec" yaml:"source_timeout_sec"`
	MaxInstrumentConcurrency int    `json:"max_instrument_concurrency" yaml:"max_instrument_concurrency"`
	// CleanupIntervalSec drops expired views periodically; 0 disables it.
	CleanupIntervalSec int `json:"cleanup_interval_sec" yaml:"cleanup_interval_sec"`
}

// Exchange configures one funding rate source.
type Exchange struct {
	Enabled               bool   `json:"enabled" yaml:"enabled"`
	BaseURL               string `json:"base_url" yaml:"base_url"`
	MaxRequestsPerMinute  int    `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	Burst                 int    `json:"burst" yaml:"burst"`
	MinRequestIntervalSec int    `json:"min_request_interval_sec" yaml:"min_request_interval_sec"`
	CacheTTLSeconds       int    `json:"cache_ttl_sec" yaml:"cache_ttl_sec"`
	// MaxContracts bounds snapshots that need one request per contract (OKX).
	MaxContracts int `json:"max_contracts,omitempty" yaml:"max_contracts,omitempty"`
}

type Exchanges struct {
	Bybit   Exchange `json:"bybit" yaml:"bybit"`
	Binance Exchange `json:"binance" yaml:"binance"`
	OKX     Exchange `json:"okx" yaml:"okx"`
	Gate    Exchange `json:"gate" yaml:"gate"`
	MEXC    Exchange `json:"mexc" yaml:"mexc"`
	BingX   Exchange `json:"bingx" yaml:"bingx"`
	KuCoin  Exchange `json:"kucoin" yaml:"kucoin"`
	Bitget  Exchange `json:"bitget" yaml:"bitget"`
	BitMart Exchange `json:"bitmart" yaml:"bitmart"`
}

type Config struct {
	Server     Server        `json:"server" yaml:"server"`
	Aggregator Aggregator    `json:"aggregator" yaml:"aggregator"`
	Log        logger.Config `json:"log" yaml:"log"`
	Exchanges  Exchanges     `json:"exchanges" yaml:"exchanges"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 30},
		Aggregator: Aggregator{
			ReferenceSource:          "BYBIT",
			QuoteCurrency:            "USDT",
			DefaultTopN:              5,
			CacheTTLSec:              30,
			SourceTimeoutSec:         7,
			MaxInstrumentConcurrency: 4,
			CleanupIntervalSec:       300,
		},
		Log: logger.Config{Level: "info", MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 14},
		Exchanges: Exchanges{
			Bybit:   Exchange{Enabled: true, MaxRequestsPerMinute: 600, Burst: 20, CacheTTLSeconds: 5},
			Binance: Exchange{Enabled: true, MaxRequestsPerMinute: 1200, Burst: 20, CacheTTLSeconds: 5},
			OKX:     Exchange{Enabled: true, MaxRequestsPerMinute: 600, Burst: 10, CacheTTLSeconds: 5, MaxContracts: 30},
			Gate:    Exchange{Enabled: true, MaxRequestsPerMinute: 600, Burst: 10, CacheTTLSeconds: 5},
			MEXC:    Exchange{Enabled: true, MaxRequestsPerMinute: 300, Burst: 10, CacheTTLSeconds: 5},
			BingX:   Exchange{Enabled: true, MaxRequestsPerMinute: 300, Burst: 10, CacheTTLSeconds: 5},
			KuCoin:  Exchange{Enabled: true, MaxRequestsPerMinute: 300, Burst: 10, CacheTTLSeconds: 5},
			Bitget:  Exchange{Enabled: true, MaxRequestsPerMinute: 600, Burst: 10, CacheTTLSeconds: 5},
			BitMart: Exchange{Enabled: true, MaxRequestsPerMinute: 300, Burst: 5, CacheTTLSeconds: 5},
		},
	}
}

// Load reads config from path, JSON or YAML by extension. If path is empty,
// config.json and then config.yaml in the working directory are tried; a
// missing file leaves the defaults. A .env file, when present, is loaded
// before environment overrides are applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		for _, p := range []string{"config.json", "config.yaml", "config.yml"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := decode(path, b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&cfg)
	return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	default:
		return json.Unmarshal(b, cfg)
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	envInt("REQUEST_TIMEOUT_SEC", 1, &cfg.Server.RequestTimeoutSec)

	if v := os.Getenv("REFERENCE_SOURCE"); v != "" {
		cfg.Aggregator.ReferenceSource = strings.ToUpper(v)
	}
	if v := os.Getenv("QUOTE_CURRENCY"); v != "" {
		cfg.Aggregator.QuoteCurrency = strings.ToUpper(v)
	}
	envInt("TOP_N", 1, &cfg.Aggregator.DefaultTopN)
	envInt("CACHE_TTL_SEC", 1, &cfg.Aggregator.CacheTTLSec)
	envInt("SOURCE_TIMEOUT_SEC", 1, &cfg.Aggregator.SourceTimeoutSec)
	envInt("MAX_INSTRUMENT_CONCURRENCY", 1, &cfg.Aggregator.MaxInstrumentConcurrency)
	envInt("CACHE_CLEANUP_INTERVAL_SEC", 0, &cfg.Aggregator.CleanupIntervalSec)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	applyExchangeEnv("BYBIT", &cfg.Exchanges.Bybit)
	applyExchangeEnv("BINANCE", &cfg.Exchanges.Binance)
	applyExchangeEnv("OKX", &cfg.Exchanges.OKX)
	applyExchangeEnv("GATE", &cfg.Exchanges.Gate)
	applyExchangeEnv("MEXC", &cfg.Exchanges.MEXC)
	applyExchangeEnv("BINGX", &cfg.Exchanges.BingX)
	applyExchangeEnv("KUCOIN", &cfg.Exchanges.KuCoin)
	applyExchangeEnv("BITGET", &cfg.Exchanges.Bitget)
	applyExchangeEnv("BITMART", &cfg.Exchanges.BitMart)
}

func applyExchangeEnv(prefix string, ex *Exchange) {
	envBool(prefix+"_ENABLED", &ex.Enabled)
	if v := os.Getenv(prefix + "_BASE_URL"); v != "" {
		ex.BaseURL = v
	}
	envInt(prefix+"_MAX_RPM", 0, &ex.MaxRequestsPerMinute)
	envInt(prefix+"_BURST", 1, &ex.Burst)
	envInt(prefix+"_MIN_INTERVAL_SEC", 0, &ex.MinRequestIntervalSec)
	envInt(prefix+"_CACHE_TTL_SEC", 0, &ex.CacheTTLSeconds)
	envInt(prefix+"_MAX_CONTRACTS", 1, &ex.MaxContracts)
}

// envInt sets *dst from key when it parses to at least minimum.
func envInt(key string, minimum int, dst *int) {
	if v := os.Getenv(key); v != "" {
		var x int
		if _, err := fmt.Sscanf(v, "%d", &x); err == nil && x >= minimum {
			*dst = x
		}
	}
}

func envBool(key string, dst *bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		*dst = true
	case "0", "false", "no", "n":
		*dst = false
	}
}

// Seconds converts a config value in seconds to a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// SourceNames lists the enabled exchanges in registry order.
func (c Config) SourceNames() []string {
	var out []string
	for _, e := range []struct {
		name string
		ex   Exchange
	}{
		{"BYBIT", c.Exchanges.Bybit},
		{"BINANCE", c.Exchanges.Binance},
		{"OKX", c.Exchanges.OKX},
		{"GATE", c.Exchanges.Gate},
		{"MEXC", c.Exchanges.MEXC},
		{"BINGX", c.Exchanges.BingX},
		{"KUCOIN", c.Exchanges.KuCoin},
		{"BITGET", c.Exchanges.Bitget},
		{"BITMART", c.Exchanges.BitMart},
	} {
		if e.ex.Enabled {
			out = append(out, e.name)
		}
	}
	return out
}
