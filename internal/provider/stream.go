package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"solana-pnl-engine/internal/domain"
)

// StreamConfig configures trade stream behavior.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// TradeStream maintains a WebSocket subscription to live trade activity for a
// set of token mints. Notifications are converted to canonical trades and
// delivered on a buffered channel; the connection reconnects with capped
// exponential backoff and resubscribes on recovery.
type TradeStream struct {
	endpoint string
	source   string
	config   StreamConfig

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// tokens holds the mints to resubscribe after reconnect.
	tokens   []string
	tokensMu sync.RWMutex

	out chan *domain.CanonicalTrade

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewTradeStream connects to the endpoint and subscribes to the given mints.
func NewTradeStream(ctx context.Context, endpoint, source string, tokens []string, config *StreamConfig) (*TradeStream, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}

	s := &TradeStream{
		endpoint: endpoint,
		source:   source,
		config:   cfg,
		tokens:   append([]string(nil), tokens...),
		out:      make(chan *domain.CanonicalTrade, 10000),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	if err := s.subscribe(); err != nil {
		s.conn.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// Trades returns the channel of live canonical trades. The channel is closed
// when the stream is closed.
func (s *TradeStream) Trades() <-chan *domain.CanonicalTrade { return s.out }

// connect establishes the WebSocket connection.
func (s *TradeStream) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// subscribe sends one subscribe request per tracked mint.
func (s *TradeStream) subscribe() error {
	s.tokensMu.RLock()
	tokens := append([]string(nil), s.tokens...)
	s.tokensMu.RUnlock()

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("not connected")
	}

	for _, mint := range tokens {
		req := streamRequest{
			Type:  "SUBSCRIBE_PRICE",
			ID:    s.requestID.Add(1),
			Token: mint,
		}
		s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		if err := s.conn.WriteJSON(req); err != nil {
			return fmt.Errorf("write subscribe: %w", err)
		}
	}
	return nil
}

// AddToken subscribes to an additional mint on the live connection.
func (s *TradeStream) AddToken(mint string) error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}

	s.tokensMu.Lock()
	s.tokens = append(s.tokens, mint)
	s.tokensMu.Unlock()

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("not connected")
	}

	req := streamRequest{
		Type:  "SUBSCRIBE_PRICE",
		ID:    s.requestID.Add(1),
		Token: mint,
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Close closes the stream and the output channel.
func (s *TradeStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.out)
	return nil
}

// readLoop reads messages and dispatches trade notifications.
func (s *TradeStream) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			if !s.reconnecting.Swap(true) {
				go s.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > s.config.MaxReconnectDelay {
				reconnectDelay = s.config.MaxReconnectDelay
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = s.config.ReconnectDelay

		s.handleMessage(message)
	}
}

// reconnect re-establishes the connection and resubscribes.
func (s *TradeStream) reconnect(delay time.Duration) {
	defer s.reconnecting.Store(false)

	if s.closed.Load() {
		return
	}

	select {
	case <-s.done:
		return
	case <-time.After(delay):
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		return
	}

	if err := s.subscribe(); err != nil {
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()
	}
}

// handleMessage converts a trade notification into a canonical trade.
func (s *TradeStream) handleMessage(message []byte) {
	var notif streamNotification
	if err := json.Unmarshal(message, &notif); err != nil || notif.Type != "TXS_DATA" {
		return
	}

	v := notif.Data
	if v.TxHash == "" || v.BaseAmount <= 0 {
		return
	}

	side := domain.TradeSideBuy
	if v.Side == "sell" {
		side = domain.TradeSideSell
	}

	price := v.Price
	if price == 0 && v.BaseAmount > 0 {
		price = v.QuoteAmount / v.BaseAmount
	}

	trade := &domain.CanonicalTrade{
		Token:        v.Token,
		Wallet:       v.Owner,
		Side:         side,
		BaseAmount:   v.BaseAmount,
		QuoteAmount:  v.QuoteAmount,
		Price:        price,
		Timestamp:    v.BlockUnixTime,
		Source:       s.source,
		ProvenanceID: v.TxHash,
	}

	// Block until delivered so no trade is dropped
	select {
	case s.out <- trade:
	case <-s.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (s *TradeStream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			s.connMu.Unlock()
		}
	}
}

// Stream message types

type streamRequest struct {
	Type  string `json:"type"`
	ID    uint64 `json:"id"`
	Token string `json:"token"`
}

type streamNotification struct {
	Type string           `json:"type"`
	Data streamTradeValue `json:"data"`
}

type streamTradeValue struct {
	TxHash        string  `json:"txHash"`
	Token         string  `json:"token"`
	Owner         string  `json:"owner"`
	Side          string  `json:"side"`
	BaseAmount    float64 `json:"baseAmount"`
	QuoteAmount   float64 `json:"quoteAmount"`
	Price         float64 `json:"price"`
	BlockUnixTime int64   `json:"blockUnixTime"`
}
