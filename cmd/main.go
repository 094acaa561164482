package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/dexbook/internal/book"
	"github.com/amirphl/dexbook/internal/config"
	"github.com/amirphl/dexbook/internal/db"
	"github.com/amirphl/dexbook/internal/estimate"
	"github.com/amirphl/dexbook/internal/exchange"
	"github.com/amirphl/dexbook/internal/msgs"
	"github.com/amirphl/dexbook/internal/notifier"
	"github.com/amirphl/dexbook/internal/session"
	"github.com/amirphl/dexbook/internal/utils"
)

func main() {
	cfg := config.MustLoadConfig()
	log.Printf("Starting dexbook for host %s", cfg.Host)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Optional Postgres archive for closed candles and matched trades.
	var archiver session.Archiver
	if cfg.DBConnStr != "" {
		store, err := db.New(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer store.Close()
		archiver = store
		log.Println("Connected to Postgres archive")
	}

	var alerts session.Notifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		alerts = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	}

	manager := session.NewManager()
	defer manager.Close()

	feed := exchange.NewFeedClient(cfg.FeedURL, manager.Deliver)
	feed.Start(ctx)
	defer feed.Close()

	var estimates estimate.Requester
	if cfg.APIURL != "" {
		estimates = exchange.NewAPIClient(cfg.APIURL)
	}

	policy := book.EpochPolicyPurge
	if cfg.EpochPolicy == "book" {
		policy = book.EpochPolicyBook
	}

	mkt := cfg.Markets[0]
	sess, err := manager.Switch(ctx, session.Config{
		Host:            cfg.Host,
		MarketID:        mkt.MarketID,
		Base:            mkt.BaseID,
		Quote:           mkt.QuoteID,
		LotSize:         mkt.LotSize,
		BuyBuffer:       mkt.BuyBuffer,
		EpochPolicy:     policy,
		WatchdogTimeout: cfg.WatchdogTimeout,
		TradeCap:        cfg.TradeCap,
		Debounce:        cfg.Debounce,
		Feed:            feed,
		Estimates:       estimates,
		Notifier:        alerts,
		Archiver:        archiver,
	})
	if err != nil {
		log.Fatalf("Failed to subscribe to %s: %v", mkt.MarketID, err)
	}

	for _, dur := range cfg.Durations {
		if err := sess.RequestCandles(dur); err != nil {
			log.Printf("Candle request for %s failed: %v", dur, err)
		}
	}

	go logStatus(ctx, manager)

	<-ctx.Done()
	log.Println("dexbook stopped")
}

// logStatus periodically reports the live market view to the log file.
func logStatus(ctx context.Context, manager *session.Manager) {
	logger := utils.GetLogger()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess := manager.Current()
			if sess == nil || !sess.BookLoaded() {
				continue
			}
			if gap, ok := sess.MidGap(); ok {
				high, low := sess.HighLow24()
				logger.Printf("Status | mid-gap %.0f, 24h high %d low %d (rates x%d)",
					gap, high, low, msgs.RateEncodingFactor)
			}
		}
	}
}
