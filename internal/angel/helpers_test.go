package angel

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ashureev/angel-console/internal/domain"
)

type memTokens struct {
	mu     sync.Mutex
	pair   domain.TokenPair
	saves  int
	clears int
}

func (m *memTokens) Load(context.Context) (domain.TokenPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pair, nil
}

func (m *memTokens) Save(_ context.Context, pair domain.TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = pair
	m.saves++
	return nil
}

func (m *memTokens) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = domain.TokenPair{}
	m.clears++
	return nil
}

func (m *memTokens) snapshot() (domain.TokenPair, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pair, m.clears
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, srv *httptest.Server, tokens *memTokens) (*Client, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	c := NewClient(Config{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
		Tokens:     tokens,
		Notifier:   notifier,
		Logger:     discardLogger(),
	})
	return c, notifier
}
