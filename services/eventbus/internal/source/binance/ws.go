package binance

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/YaganovValera/eventbus/common/backoff"
	"github.com/YaganovValera/eventbus/common/logger"
	"github.com/YaganovValera/eventbus/services/eventbus/internal/metrics"
)

// Raw message types that do not come from the "e" field.
const (
	TypeBookTicker = "bookTicker"
	TypeDisconnect = "disconnect"
	TypeUnknown    = "unknown"
)

// RawMessage is one upstream payload with its event type.
type RawMessage struct {
	Data []byte
	Type string
}

// Connector keeps a Binance WebSocket subscription alive and reconnects
// with back-off.
type Connector struct {
	cfg         Config
	dialer      *websocket.Dialer
	log         *logger.Logger
	subscribeID uint64
}

// NewConnector validates cfg and names the logger "binance-ws".
func NewConnector(cfg Config, log *logger.Logger) (*Connector, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Connector{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.SubscribeTimeout, Proxy: websocket.DefaultDialer.Proxy},
		log:    log.Named("binance-ws"),
	}, nil
}

// Stream starts the read loop. The channel is closed when ctx is done.
func (c *Connector) Stream(ctx context.Context) (<-chan RawMessage, error) {
	ch := make(chan RawMessage, c.cfg.BufferSize)
	go c.run(ctx, ch)
	return ch, nil
}

func (c *Connector) run(ctx context.Context, ch chan<- RawMessage) {
	defer close(ch)

	connected := false
	for {
		if ctx.Err() != nil {
			c.log.Info("ws: context cancelled, exiting")
			return
		}

		var conn *websocket.Conn
		err := backoff.Execute(ctx, c.cfg.Backoff, c.log, func(ctx context.Context) error {
			var dialErr error
			conn, _, dialErr = c.dialer.DialContext(ctx, c.cfg.URL, nil)
			return dialErr
		})
		if err != nil {
			c.log.Error("ws: failed to connect after retries", zap.Error(err))
			continue
		}
		if connected {
			metrics.Reconnects.Inc()
		}
		connected = true
		c.log.Info("ws: connected", zap.String("url", c.cfg.URL))

		c.serve(ctx, conn, ch)

		if ctx.Err() == nil {
			c.emit(ch, RawMessage{Type: TypeDisconnect})
		}
	}
}

// serve subscribes and pumps messages until the connection fails.
func (c *Connector) serve(ctx context.Context, conn *websocket.Conn, ch chan<- RawMessage) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	go func() {
		ticker := time.NewTicker(c.cfg.ReadTimeout / 3)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				// unblocks ReadMessage
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					c.log.Warn("ws: ping failed", zap.Error(err))
				}
			}
		}
	}()

	id := atomic.AddUint64(&c.subscribeID, 1)
	req := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": c.cfg.Streams,
		"id":     id,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.SubscribeTimeout))
	if err := conn.WriteJSON(req); err != nil {
		c.log.Error("ws: subscribe failed", zap.Error(err), zap.Uint64("id", id))
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("ws: read error, reconnecting", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		msg, ok := classify(data)
		if !ok {
			c.log.Debug("ws: control reply", zap.ByteString("raw", data))
			continue
		}
		metrics.EventsTotal.WithLabelValues(msg.Type).Inc()
		c.emit(ch, msg)
	}
}

func (c *Connector) emit(ch chan<- RawMessage, msg RawMessage) {
	select {
	case ch <- msg:
	default:
		metrics.BufferDrops.Inc()
		c.log.Warn("ws: buffer full, dropping message", zap.String("type", msg.Type))
	}
}

// classify unwraps combined-stream envelopes and reads the event type.
// Subscription replies report ok == false.
func classify(data []byte) (RawMessage, bool) {
	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
		Result json.RawMessage `json:"result"`
		ID     *uint64         `json:"id"`
	}
	if err := json.Unmarshal(data, &env); err == nil {
		if env.ID != nil && env.Data == nil {
			return RawMessage{}, false
		}
		if env.Stream != "" && len(env.Data) > 0 {
			data = env.Data
		}
	}

	var head struct {
		Event    string `json:"e"`
		UpdateID *int64 `json:"u"`
		Symbol   string `json:"s"`
	}
	typ := TypeUnknown
	if err := json.Unmarshal(data, &head); err == nil {
		switch {
		case head.Event != "":
			typ = head.Event
		case head.UpdateID != nil && head.Symbol != "":
			typ = TypeBookTicker
		}
	}
	return RawMessage{Data: data, Type: typ}, true
}
