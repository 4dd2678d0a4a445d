package publisher

import (
	"context"
	"errors"
	"sync"

	"github.com/YaganovValera/eventbus/services/eventbus/pkg/canonical"
)

var errBroker = errors.New("broker unavailable")

type sendCall struct {
	destination string
	keys        []string
}

// fakeSink records successful sends. failNext failures are returned before
// any success; failAll makes every call fail; failDest fails one destination.
type fakeSink struct {
	mu       sync.Mutex
	calls    int
	sends    []sendCall
	failNext int
	failAll  bool
	failDest string
	gate     chan struct{}

	inSend     bool
	overlapped bool // Flush or Close ran while a Send was in flight

	started int
	flushed int
	closed  int
	pingErr error
}

func (s *fakeSink) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return nil
}

func (s *fakeSink) Send(_ context.Context, dest string, recs []canonical.Record) error {
	s.mu.Lock()
	s.inSend = true
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSend = false
	s.calls++
	if s.failAll || dest == s.failDest {
		return errBroker
	}
	if s.failNext > 0 {
		s.failNext--
		return errBroker
	}
	keys := make([]string, len(recs))
	for i, r := range recs {
		keys[i] = r.Key
	}
	s.sends = append(s.sends, sendCall{destination: dest, keys: keys})
	return nil
}

func (s *fakeSink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlapped = s.overlapped || s.inSend
	s.flushed++
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlapped = s.overlapped || s.inSend
	s.closed++
	return nil
}

func (s *fakeSink) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *fakeSink) set(fn func(s *fakeSink)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *fakeSink) snapshot() (calls int, sends []sendCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]sendCall(nil), s.sends...)
}

func (s *fakeSink) sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inSend
}

func (s *fakeSink) delivered() []string {
	_, sends := s.snapshot()
	var out []string
	for _, c := range sends {
		out = append(out, c.keys...)
	}
	return out
}
