package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stock-order-flow/internal/domain"
)

const streamName = "stream"

// StreamConfig configures the tick stream connection.
type StreamConfig struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// DefaultStreamConfig returns the defaults used in production.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// TickStream is a live tick feed over WebSocket. One connection serves
// any number of symbol subscriptions; on a broken connection the stream
// reconnects with exponential backoff and replays every active
// subscription, so subscriber channels survive reconnects.
type TickStream struct {
	endpoint string
	config   StreamConfig
	log      *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	subs   map[string]chan domain.Tick // symbol -> subscriber channel
	seqs   map[string]int64            // symbol -> last assigned seq
	subsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewTickStream connects to the endpoint and starts the read and ping
// loops. config nil means DefaultStreamConfig.
func NewTickStream(ctx context.Context, endpoint string, config *StreamConfig, log *zap.Logger) (*TickStream, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &TickStream{
		endpoint: endpoint,
		config:   cfg,
		log:      log,
		subs:     make(map[string]chan domain.Tick),
		seqs:     make(map[string]int64),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()

	return s, nil
}

// Name identifies the stream as a tick source.
func (s *TickStream) Name() string { return streamName }

func (s *TickStream) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	s.conn = conn
	return nil
}

type streamRequest struct {
	Op     string `json:"op"`
	Symbol string `json:"symbol"`
}

type streamTick struct {
	Symbol string `json:"symbol"`
	Time   int64  `json:"t"`
	Price  string `json:"p"`
	Volume int64  `json:"v"`
	Side   string `json:"bs"`
}

// Subscribe registers a symbol and returns its tick channel. The
// channel buffer absorbs bursts; sends block rather than drop, so a
// stalled consumer stalls the read loop.
func (s *TickStream) Subscribe(ctx context.Context, symbol string) (<-chan domain.Tick, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("stream closed")
	}

	s.subsMu.Lock()
	if ch, ok := s.subs[symbol]; ok {
		s.subsMu.Unlock()
		return ch, nil
	}
	ch := make(chan domain.Tick, 4096)
	s.subs[symbol] = ch
	s.subsMu.Unlock()

	if err := s.writeJSON(streamRequest{Op: "subscribe", Symbol: symbol}); err != nil {
		s.subsMu.Lock()
		delete(s.subs, symbol)
		s.subsMu.Unlock()
		return nil, fmt.Errorf("write subscribe: %w", err)
	}
	return ch, nil
}

// Unsubscribe drops a symbol and closes its channel.
func (s *TickStream) Unsubscribe(symbol string) {
	s.subsMu.Lock()
	ch, ok := s.subs[symbol]
	if ok {
		delete(s.subs, symbol)
		delete(s.seqs, symbol)
	}
	s.subsMu.Unlock()
	if !ok {
		return
	}
	close(ch)
	// Best effort; a dead connection resubscribes from scratch anyway.
	_ = s.writeJSON(streamRequest{Op: "unsubscribe", Symbol: symbol})
}

func (s *TickStream) writeJSON(v interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return s.conn.WriteJSON(v)
}

// Close shuts the stream down and closes all subscriber channels.
func (s *TickStream) Close() error {
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

	s.subsMu.Lock()
	for symbol, ch := range s.subs {
		close(ch)
		delete(s.subs, symbol)
	}
	s.subsMu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *TickStream) readLoop() {
	defer s.wg.Done()

	delay := s.config.ReconnectDelay

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
				go s.reconnect(delay)
			}
			delay *= 2
			if delay > s.config.MaxReconnectDelay {
				delay = s.config.MaxReconnectDelay
			}
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		delay = s.config.ReconnectDelay
		s.handleMessage(message)
	}
}

func (s *TickStream) reconnect(delay time.Duration) {
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
		s.log.Warn("tick stream reconnect failed", zap.Error(err))
		return
	}

	s.subsMu.Lock()
	symbols := make([]string, 0, len(s.subs))
	for symbol := range s.subs {
		symbols = append(symbols, symbol)
	}
	s.subsMu.Unlock()

	for _, symbol := range symbols {
		if err := s.writeJSON(streamRequest{Op: "subscribe", Symbol: symbol}); err != nil {
			s.log.Warn("resubscribe failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	s.log.Info("tick stream reconnected", zap.Int("symbols", len(symbols)))
}

func (s *TickStream) handleMessage(message []byte) {
	var row streamTick
	if err := json.Unmarshal(message, &row); err != nil || row.Symbol == "" {
		return
	}

	price, err := decimal.NewFromString(row.Price)
	if err != nil {
		s.log.Debug("stream tick with bad price", zap.String("symbol", row.Symbol), zap.String("price", row.Price))
		return
	}

	var side domain.Side
	switch row.Side {
	case "B":
		side = domain.SideBuy
	case "S":
		side = domain.SideSell
	default:
		side = domain.SideUnknown
	}

	s.subsMu.Lock()
	ch, ok := s.subs[row.Symbol]
	var seq int64
	if ok {
		s.seqs[row.Symbol]++
		seq = s.seqs[row.Symbol]
	}
	s.subsMu.Unlock()
	if !ok {
		return
	}

	tick := domain.NewTick(seq, row.Symbol, row.Time, price, row.Volume, side, streamName)
	select {
	case ch <- tick:
	case <-s.done:
	}
}

func (s *TickStream) pingLoop() {
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
				// A failed ping surfaces as a read error and triggers reconnect.
				_ = s.conn.WriteMessage(websocket.PingMessage, nil)
			}
			s.connMu.Unlock()
		}
	}
}
