// Package exchange
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amirphl/dexbook/internal/msgs"
)

// ConnectionState represents the state of the websocket connection
// (for health checks and monitoring)
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

// FeedClient maintains the websocket connection to the DEX server's
// notification feed. Decoded updates are handed to a single callback (the
// session manager); the client never inspects payloads beyond the envelope.
// Reconnection is automatic with exponential backoff, and the active market
// subscription is re-issued after every reconnect so a dropped connection
// resolves to a fresh book snapshot.
type FeedClient struct {
	url      string
	onUpdate func(msgs.Update)

	mu         sync.RWMutex
	conn       *websocket.Conn
	state      ConnectionState
	healthErr  error
	closed     bool
	cancelFunc context.CancelFunc
	lastPong   time.Time

	lastMarket *msgs.MarketRequest
}

// NewFeedClient creates a feed client for the given websocket URL. onUpdate
// is invoked from the read loop for every decoded notification.
func NewFeedClient(rawURL string, onUpdate func(msgs.Update)) *FeedClient {
	return &FeedClient{
		url:      rawURL,
		onUpdate: onUpdate,
		state:    Disconnected,
	}
}

// Start connects to the feed and keeps the connection alive, with reconnect
// and health tracking.
func (f *FeedClient) Start(ctx context.Context) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.state = Connecting
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	f.cancelFunc = cancel

	go func() {
		defer f.Close()
		retryDelay := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if err := f.connectAndStream(ctx); err != nil {
					f.mu.Lock()
					f.state = Reconnecting
					f.healthErr = err
					f.mu.Unlock()
					log.Printf("FeedClient | Disconnected, retrying in %v: %v", retryDelay, err)
					time.Sleep(retryDelay)
					if retryDelay < 60*time.Second {
						retryDelay *= 2
					} else {
						retryDelay = 60 * time.Second
					}
					continue
				}
				return
			}
		}
	}()
}

// connectAndStream handles a single websocket connection session.
func (f *FeedClient) connectAndStream(ctx context.Context) error {
	f.mu.Lock()
	f.state = Connecting
	f.healthErr = nil
	f.mu.Unlock()

	c, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.conn = c
	f.state = Connected
	f.lastPong = time.Now()
	resub := f.lastMarket
	f.mu.Unlock()

	log.Printf("FeedClient | Connection established to %s", f.url)
	defer func() {
		c.Close()
		f.mu.Lock()
		f.conn = nil
		f.state = Disconnected
		f.mu.Unlock()
	}()

	c.SetPongHandler(func(string) error {
		f.mu.Lock()
		f.lastPong = time.Now()
		f.mu.Unlock()
		return nil
	})

	// Renew the market subscription so the server resends the book snapshot.
	if resub != nil {
		if err := f.Request(msgs.LoadMarketRoute, *resub); err != nil {
			return fmt.Errorf("resubscribe failed: %w", err)
		}
	}

	// Keepalive pings.
	pingCtx, stopPings := context.WithCancel(ctx)
	defer stopPings()
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				f.mu.Lock()
				conn := f.conn
				f.mu.Unlock()
				if conn == nil {
					return
				}
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					log.Printf("FeedClient | Ping failed: %v", err)
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		_, raw, err := c.ReadMessage()
		if err != nil {
			return err
		}
		var u msgs.Update
		if err := json.Unmarshal(raw, &u); err != nil {
			log.Printf("FeedClient | Dropping undecodable message: %v", err)
			continue
		}
		if u.Route == "" {
			log.Printf("FeedClient | Dropping message with empty route")
			continue
		}
		if f.onUpdate != nil {
			f.onUpdate(u)
		}
	}
}

// Request sends a client-originating request on the feed connection.
func (f *FeedClient) Request(route string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("feed not connected")
	}
	return f.conn.WriteJSON(msgs.Request{Route: route, Payload: payload})
}

// SubscribeMarket subscribes to a market's book and candle feed. The request
// is remembered and renewed on reconnect.
func (f *FeedClient) SubscribeMarket(req msgs.MarketRequest) error {
	f.mu.Lock()
	r := req
	f.lastMarket = &r
	f.mu.Unlock()
	return f.Request(msgs.LoadMarketRoute, req)
}

// UnsubscribeMarket drops the market subscription.
func (f *FeedClient) UnsubscribeMarket(req msgs.MarketRequest) error {
	f.mu.Lock()
	if f.lastMarket != nil && f.lastMarket.Base == req.Base && f.lastMarket.Quote == req.Quote && f.lastMarket.Host == req.Host {
		f.lastMarket = nil
	}
	f.mu.Unlock()
	return f.Request(msgs.UnmarketRoute, req)
}

// RequestCandles asks the server for a candle snapshot; the response arrives
// later as a 'candles' notification.
func (f *FeedClient) RequestCandles(req msgs.CandlesRequest) error {
	return f.Request(msgs.LoadCandlesRoute, req)
}

// IsConnected returns true if the websocket is connected.
func (f *FeedClient) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state == Connected && f.conn != nil
}

// Health returns the last connection error, if any.
func (f *FeedClient) Health() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.healthErr
}

// Close shuts the connection down permanently.
func (f *FeedClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	if f.cancelFunc != nil {
		f.cancelFunc()
	}
	if f.conn != nil {
		f.conn.Close()
	}
	log.Printf("FeedClient | Feed connection closed")
}
