// Package feed streams public ticker data over websocket into the price
// cache, so cycle executions read a warm last price instead of hitting the
// REST surface.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/cexbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pingPeriod is how often the client-side ping op is sent. Bybit
	// drops connections idle for more than 30 seconds.
	pingPeriod = 20 * time.Second

	// readWait bounds how long a read may block before the connection is
	// considered dead. Ticker topics push far more often than this.
	readWait = 60 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// wsCommand is the Bybit v5 public stream op envelope.
type wsCommand struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

// tickerMessage is the subset of the tickers.{symbol} push we consume.
type tickerMessage struct {
	Topic string `json:"topic"`
	Ts    int64  `json:"ts"`
	Data  struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
}

// BybitTickerFeed subscribes to tickers.{symbol} on a Bybit v5 public
// stream and writes each last price into the price cache. It reconnects
// with exponential backoff on disconnect.
type BybitTickerFeed struct {
	wsURL   string
	symbols []string
	prices  domain.PriceCache
	logger  *slog.Logger
}

// NewBybitTickerFeed creates a feed for the given symbols.
func NewBybitTickerFeed(wsURL string, symbols []string, prices domain.PriceCache, logger *slog.Logger) *BybitTickerFeed {
	return &BybitTickerFeed{
		wsURL:   wsURL,
		symbols: symbols,
		prices:  prices,
		logger:  logger.With(slog.String("component", "bybit_ticker_feed")),
	}
}

// Run connects, subscribes and pumps messages until ctx is cancelled.
func (f *BybitTickerFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, feed exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("ticker stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, subscribes and reads until the connection breaks or
// ctx is cancelled. A clean subscribe resets nothing; backoff is managed by
// the caller.
func (f *BybitTickerFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return domain.ConnectivityErrorf("feed: dial %s: %v", f.wsURL, err)
	}
	defer conn.Close()

	args := make([]string, 0, len(f.symbols))
	for _, sym := range f.symbols {
		args = append(args, "tickers."+sym)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(wsCommand{Op: "subscribe", Args: args}); err != nil {
		return domain.ConnectivityErrorf("feed: subscribe: %v", err)
	}
	f.logger.Info("ticker stream subscribed", slog.Int("symbols", len(f.symbols)))

	// Close the connection when ctx is cancelled so the blocked read
	// returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			conn.Close()
		case <-done:
		}
	}()

	// Bybit expects an application-level ping op rather than a ws ping
	// frame.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(wsCommand{Op: "ping"}); err != nil {
					return
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readWait))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.ConnectivityErrorf("feed: read: %v", err)
		}
		f.handleMessage(ctx, raw)
	}
}

// handleMessage parses one push and warms the cache. Op acks, pong replies
// and unparseable frames are dropped silently.
func (f *BybitTickerFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Data.Symbol == "" || msg.Data.LastPrice == "" {
		return
	}

	price, err := strconv.ParseFloat(msg.Data.LastPrice, 64)
	if err != nil || price <= 0 {
		return
	}

	ts := time.Now()
	if msg.Ts > 0 {
		ts = time.UnixMilli(msg.Ts)
	}

	if err := f.prices.SetPrice(ctx, domain.VenueBybit, msg.Data.Symbol, price, ts); err != nil {
		f.logger.Debug("price cache write failed",
			slog.String("symbol", msg.Data.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
