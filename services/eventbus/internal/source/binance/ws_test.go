package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/YaganovValera/eventbus/common/backoff"
	"github.com/YaganovValera/eventbus/common/logger"
)

func TestConfigDefaultsAndValidate(t *testing.T) {
	cases := []struct {
		name     string
		input    Config
		wantErr  bool
		wantBuf  int
		wantRead time.Duration
		wantSub  time.Duration
	}{
		{"empty", Config{}, true, 100, 30 * time.Second, 5 * time.Second},
		{"noStreams", Config{URL: "ws://foo"}, true, 100, 30 * time.Second, 5 * time.Second},
		{"ok", Config{URL: "ws://foo", Streams: []string{"s"}}, false, 100, 30 * time.Second, 5 * time.Second},
		{"custom", Config{
			URL: "u", Streams: []string{"s"},
			BufferSize: 5, ReadTimeout: 7 * time.Second, SubscribeTimeout: 3 * time.Second,
		}, false, 5, 7 * time.Second, 3 * time.Second},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := c.input
			cfg.applyDefaults()
			if got := cfg.BufferSize; got != c.wantBuf {
				t.Errorf("BufferSize = %v; want %v", got, c.wantBuf)
			}
			if got := cfg.ReadTimeout; got != c.wantRead {
				t.Errorf("ReadTimeout = %v; want %v", got, c.wantRead)
			}
			if got := cfg.SubscribeTimeout; got != c.wantSub {
				t.Errorf("SubscribeTimeout = %v; want %v", got, c.wantSub)
			}
			err := cfg.Validate()
			if (err != nil) != c.wantErr {
				t.Errorf("Validate() error = %v; wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{"trade", `{"e":"trade","s":"BTCUSDT"}`, TypeTrade, true},
		{"envelope", `{"stream":"btcusdt@depth","data":{"e":"depthUpdate","u":5}}`, TypeDepthUpdate, true},
		{"bookTicker", `{"u":400900217,"s":"BNBUSDT","b":"25.35","B":"31.21","a":"25.36","A":"40.66"}`, TypeBookTicker, true},
		{"subscribe reply", `{"result":null,"id":1}`, "", false},
		{"garbage", `[1,2]`, TypeUnknown, true},
	}
	for _, c := range cases {
		got, ok := classify([]byte(c.in))
		if ok != c.wantOK || got.Type != c.want {
			t.Errorf("%s: classify = (%q, %v); want (%q, %v)", c.name, got.Type, ok, c.want, c.wantOK)
		}
	}
}

// The server accepts SUBSCRIBE, replies, sends one event in a combined
// stream envelope, then drops the connection.
func TestConnector_StreamIntegration(t *testing.T) {
	upg := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upg.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if !strings.Contains(string(msg), `"method":"SUBSCRIBE"`) {
			t.Errorf("expected subscribe, got %s", msg)
			return
		}
		_ = conn.WriteJSON(map[string]interface{}{"result": nil, "id": 1})
		env := map[string]interface{}{
			"stream": "btcusdt@trade",
			"data":   map[string]interface{}{"e": "trade", "foo": 123},
		}
		_ = conn.WriteJSON(env)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	cfg := Config{URL: wsURL, Streams: []string{"btcusdt@trade"}}
	cfg.Backoff = backoff.Config{InitialInterval: time.Millisecond, Multiplier: 1, MaxInterval: time.Millisecond, MaxElapsedTime: 10 * time.Millisecond}
	conn, err := NewConnector(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	ch, err := conn.Stream(ctx)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var trades, disconnects int
	for m := range ch {
		switch m.Type {
		case TypeTrade:
			trades++
			if !strings.Contains(string(m.Data), `"foo":123`) {
				t.Errorf("RawMessage.Data = %s; want unwrapped payload", m.Data)
			}
		case TypeDisconnect:
			disconnects++
		default:
			t.Errorf("unexpected message type %q", m.Type)
		}
	}
	if trades == 0 {
		t.Error("no trade received")
	}
	if disconnects == 0 {
		t.Error("expected a disconnect marker after the server dropped the connection")
	}
}
