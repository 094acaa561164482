// Package config
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

/*
YAML config example:
feed_url: "wss://dex.example.org/ws"
api_url: "https://dex.example.org"
host: "dex.example.org"
markets:
  - market_id: "dcr_btc"
    base_id: 42
    quote_id: 0
    lot_size: 100000000
    buy_buffer: 1.25
durations: ["1m", "5m", "1h", "1d"]
epoch_policy: "purge"
debounce: 350ms
watchdog_timeout: 10s
trade_cap: 100
db_conn_str: "..."
db_max_open: 10
db_max_idle: 5
telegram_token: "..."
telegram_chat_id: "..."
*/

// MarketConfig identifies one tradeable market on the host.
type MarketConfig struct {
	MarketID  string  `yaml:"market_id"`
	BaseID    uint32  `yaml:"base_id"`
	QuoteID   uint32  `yaml:"quote_id"`
	LotSize   uint64  `yaml:"lot_size"`
	BuyBuffer float64 `yaml:"buy_buffer"`
}

type Config struct {
	FeedURL         string         `yaml:"feed_url"`
	APIURL          string         `yaml:"api_url"`
	Host            string         `yaml:"host"`
	Markets         []MarketConfig `yaml:"markets"`
	Durations       []string       `yaml:"durations"`
	EpochPolicy     string         `yaml:"epoch_policy"`
	Debounce        time.Duration  `yaml:"debounce"`
	WatchdogTimeout time.Duration  `yaml:"watchdog_timeout"`
	TradeCap        int            `yaml:"trade_cap"`
	DBConnStr       string         `yaml:"db_conn_str"`
	DBMaxOpen       int            `yaml:"db_max_open"`
	DBMaxIdle       int            `yaml:"db_max_idle"`
	TelegramToken   string         `yaml:"telegram_token"`
	TelegramChatID  string         `yaml:"telegram_chat_id"`
}

// Validate checks the fields every run needs.
func (c *Config) Validate() error {
	if c.FeedURL == "" {
		return fmt.Errorf("feed_url is required")
	}
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("at least one market is required")
	}
	for i, m := range c.Markets {
		if m.MarketID == "" {
			return fmt.Errorf("market %d has empty market_id", i)
		}
		if m.LotSize == 0 {
			return fmt.Errorf("market %s has zero lot_size", m.MarketID)
		}
	}
	if c.EpochPolicy != "" && c.EpochPolicy != "purge" && c.EpochPolicy != "book" {
		return fmt.Errorf("epoch_policy must be purge or book, got %q", c.EpochPolicy)
	}
	return nil
}

func loadConfig() (Config, error) {
	feedURL := flag.String("feed-url", os.Getenv("DEXBOOK_FEED_URL"), "Websocket URL of the server notification feed")
	apiURL := flag.String("api-url", os.Getenv("DEXBOOK_API_URL"), "Base URL of the server JSON API")
	host := flag.String("host", "", "Server host identity used to filter feed notifications")
	marketID := flag.String("market", "", "Market ID to subscribe to (e.g., dcr_btc)")
	baseID := flag.Uint("base", 0, "Base asset ID")
	quoteID := flag.Uint("quote", 0, "Quote asset ID")
	lotSize := flag.Uint64("lot-size", 0, "Market lot size in atomic units")
	buyBuffer := flag.Float64("buy-buffer", 1.25, "Server market-buy buffer multiplier")
	durationsFlag := flag.String("durations", "1m,5m,1h,1d", "Comma-separated candle bin durations to track")
	epochPolicy := flag.String("epoch-policy", "purge", "Expired immediate-tif order policy: purge or book")
	debounce := flag.Duration("debounce", 350*time.Millisecond, "Coalescing delay for max order estimate requests")
	watchdog := flag.Duration("watchdog-timeout", 10*time.Second, "Bound on the wait for a candle snapshot")
	tradeCap := flag.Int("trade-cap", 100, "Retained recent trade count")
	dbConnStr := flag.String("db-conn-str", os.Getenv("DB_CONN_STR"), "Postgres connection string for the optional archive")
	telegramToken := flag.String("telegram-token", "", "Telegram bot token for operational alerts")
	telegramChatID := flag.String("telegram-chat", "", "Telegram chat ID for operational alerts")
	configFile := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
		return fileCfg, nil
	}

	return Config{
		FeedURL: *feedURL,
		APIURL:  *apiURL,
		Host:    *host,
		Markets: []MarketConfig{{
			MarketID:  *marketID,
			BaseID:    uint32(*baseID),
			QuoteID:   uint32(*quoteID),
			LotSize:   *lotSize,
			BuyBuffer: *buyBuffer,
		}},
		Durations:       strings.Split(*durationsFlag, ","),
		EpochPolicy:     *epochPolicy,
		Debounce:        *debounce,
		WatchdogTimeout: *watchdog,
		TradeCap:        *tradeCap,
		DBConnStr:       *dbConnStr,
		DBMaxOpen:       10,
		DBMaxIdle:       5,
		TelegramToken:   *telegramToken,
		TelegramChatID:  *telegramChatID,
	}, nil
}

// MustLoadConfig loads configuration from flags or a YAML file and exits on
// any error.
func MustLoadConfig() Config {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	return cfg
}
