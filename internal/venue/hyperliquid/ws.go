package hyperliquid

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/venuebot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// wsMessage is the envelope the venue's public feed wraps every update in.
type wsMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// allMidsData carries mid prices for every coin, keyed by symbol.
type allMidsData struct {
	Mids map[string]string `json:"mids"`
}

// PriceFeed streams the venue's allMids channel into the shared price cache
// so the monitor reads mark prices without touching the sidecar.
type PriceFeed struct {
	wsURL  string
	prices domain.PriceCache
	logger *slog.Logger
}

// NewPriceFeed creates a PriceFeed writing into prices.
func NewPriceFeed(wsURL string, prices domain.PriceCache, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		wsURL:  wsURL,
		prices: prices,
		logger: logger.With(slog.String("component", "venue.hyperliquid.ws")),
	}
}

// Run connects and streams until ctx is cancelled, reconnecting with
// exponential backoff on failure.
func (f *PriceFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := f.streamOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.WarnContext(ctx, "price feed disconnected",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay))

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

func (f *PriceFeed) streamOnce(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]any{
		"method":       "subscribe",
		"subscription": map[string]string{"type": "allMids"},
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go f.pingLoop(conn, done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg wsMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.Channel != "allMids" {
			continue
		}

		var mids allMidsData
		if err := json.Unmarshal(msg.Data, &mids); err != nil {
			continue
		}
		for coin, raw := range mids.Mids {
			price, err := strconv.ParseFloat(raw, 64)
			if err != nil || price <= 0 {
				continue
			}
			if err := f.prices.SetPrice(ctx, domain.VenueHyperliquid, coin, price); err != nil {
				f.logger.WarnContext(ctx, "price cache write failed",
					slog.String("token", coin), slog.String("error", err.Error()))
			}
		}
	}
}

func (f *PriceFeed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
