package angel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/angel-console/internal/domain"
)

// waitForPending blocks until n requests are queued behind the refresh.
func waitForPending(c *Coordinator, n int) {
	deadline := time.Now().Add(2 * time.Second)
	for c.Pending() < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConcurrent401sRefreshOnce(t *testing.T) {
	const n = 8
	var refreshes atomic.Int32
	var stale sync.WaitGroup
	stale.Add(n)

	var client *Client
	var mu sync.Mutex
	var replayAuth []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh-token":
			refreshes.Add(1)
			waitForPending(client.Coordinator(), n-1)
			fmt.Fprint(w, `{"result":{"session":{"access_token":"new","refresh_token":"r2"}}}`)
		case "/angel/sessions":
			auth := r.Header.Get("Authorization")
			if auth != "Bearer new" {
				// Hold every stale request so all of them see a 401 together.
				stale.Done()
				stale.Wait()
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			mu.Lock()
			replayAuth = append(replayAuth, auth)
			mu.Unlock()
			fmt.Fprint(w, `{"result":[]}`)
		}
	}))
	defer srv.Close()

	tokens := &memTokens{pair: domain.TokenPair{AccessToken: "old", RefreshToken: "r1"}}
	client, notifier := newTestClient(t, srv, tokens)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.ListSessions(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Len(t, replayAuth, n)
	for _, auth := range replayAuth {
		assert.Equal(t, "Bearer new", auth)
	}
	pair, _ := tokens.snapshot()
	assert.Equal(t, domain.TokenPair{AccessToken: "new", RefreshToken: "r2"}, pair)
	assert.Equal(t, StateIdle, client.Coordinator().State())
	assert.Zero(t, client.Coordinator().Pending())
	assert.Empty(t, notifier.all())
}

func TestRefreshFailureRejectsAll(t *testing.T) {
	const n = 5
	var refreshes atomic.Int32
	var stale sync.WaitGroup
	stale.Add(n)
	var client *Client

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh-token":
			refreshes.Add(1)
			waitForPending(client.Coordinator(), n-1)
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"detail":"refresh token revoked"}`)
		default:
			stale.Done()
			stale.Wait()
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	tokens := &memTokens{pair: domain.TokenPair{AccessToken: "old", RefreshToken: "r1"}}
	client, notifier := newTestClient(t, srv, tokens)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.ListSessions(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRefreshFailed)
		assert.True(t, IsUnauthorized(err))
	}
	assert.Equal(t, int32(1), refreshes.Load())

	pair, clears := tokens.snapshot()
	assert.False(t, pair.Valid())
	assert.GreaterOrEqual(t, clears, 1)

	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, KindUnauthorized, notices[0].Kind)
	assert.Equal(t, "/login", notices[0].Redirect)
	assert.Equal(t, StateIdle, client.Coordinator().State())
}

func TestNoRefreshTokenSkipsNetwork(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh-token" {
			refreshes.Add(1)
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &memTokens{pair: domain.TokenPair{AccessToken: "old"}}
	client, notifier := newTestClient(t, srv, tokens)

	_, err := client.ListSessions(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Zero(t, refreshes.Load())

	pair, clears := tokens.snapshot()
	assert.Equal(t, domain.TokenPair{}, pair)
	assert.Equal(t, 1, clears)

	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, "/login", notices[0].Redirect)
}

func TestSecond401IsNotRequeued(t *testing.T) {
	var refreshes, calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh-token" {
			refreshes.Add(1)
			fmt.Fprint(w, `{"result":{"session":{"access_token":"new","refresh_token":"r2"}}}`)
			return
		}
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &memTokens{pair: domain.TokenPair{AccessToken: "old", RefreshToken: "r1"}}
	client, notifier := newTestClient(t, srv, tokens)

	_, err := client.ListSessions(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, int32(2), calls.Load(), "original attempt plus exactly one replay")

	pair, _ := tokens.snapshot()
	assert.False(t, pair.Valid(), "final UNAUTHORIZED clears the session")
	notices := notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, "/login", notices[0].Redirect)
}

func TestHandle401RejectsRetriedRequest(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{
		Tokens: &memTokens{pair: domain.TokenPair{AccessToken: "a", RefreshToken: "r"}},
		Refresh: func(context.Context, string) (domain.TokenPair, error) {
			t.Fatal("refresh must not run for a retried request")
			return domain.TokenPair{}, nil
		},
		Logger: discardLogger(),
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	retry, err := cloneForRetry(req, "a")
	require.NoError(t, err)
	require.True(t, IsRetried(retry))

	_, err = c.Handle401(context.Background(), retry, func(*http.Request) (*http.Response, error) {
		t.Fatal("send must not run")
		return nil, nil
	})
	assert.Error(t, err)
	assert.Equal(t, StateIdle, c.State())
}

func TestReplayResendsBody(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/refresh-token" {
			fmt.Fprint(w, `{"result":{"session":{"access_token":"new","refresh_token":"r2"}}}`)
			return
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"result":{"reply":"Next?","progress":{"phase":"KYC","answered":1,"total":10,"percent":10}}}`)
	}))
	defer srv.Close()

	tokens := &memTokens{pair: domain.TokenPair{AccessToken: "old", RefreshToken: "r1"}}
	client, _ := newTestClient(t, srv, tokens)

	reply, err := client.Chat(context.Background(), "s1", "my answer")
	require.NoError(t, err)
	assert.Equal(t, "Next?", reply.Reply)
	require.Len(t, bodies, 2)
	assert.Equal(t, bodies[0], bodies[1])
	assert.True(t, strings.Contains(bodies[1], "my answer"))
}

func TestCancelledWaiterDoesNotBlockSettle(t *testing.T) {
	release := make(chan struct{})
	tokens := &memTokens{pair: domain.TokenPair{AccessToken: "old", RefreshToken: "r1"}}
	c := NewCoordinator(CoordinatorConfig{
		Tokens: tokens,
		Refresh: func(ctx context.Context, _ string) (domain.TokenPair, error) {
			<-release
			return domain.TokenPair{AccessToken: "new", RefreshToken: "r2"}, nil
		},
		Logger: discardLogger(),
	})
	ok := func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Handle401(context.Background(), httptest.NewRequest(http.MethodGet, "/a", nil), ok)
		done <- err
	}()
	for c.State() != StateRefreshing {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	waiter := make(chan error, 1)
	go func() {
		_, err := c.Handle401(ctx, httptest.NewRequest(http.MethodGet, "/b", nil), ok)
		waiter <- err
	}()
	waitForPending(c, 1)
	cancel()
	assert.True(t, errors.Is(<-waiter, context.Canceled))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, c.Pending())
}

func TestSettleReleasesWaitersInArrivalOrder(t *testing.T) {
	const n = 5
	c := NewCoordinator(CoordinatorConfig{Tokens: signedIn(), Logger: discardLogger()})

	// Unbuffered waiters make settle block on each send in turn, so the
	// ready channel at every step is the one being released.
	waiters := make([]chan refreshResult, n)
	c.mu.Lock()
	c.state = StateRefreshing
	for i := range waiters {
		waiters[i] = make(chan refreshResult)
		c.queue = append(c.queue, waiters[i])
	}
	c.mu.Unlock()

	go c.settle("new", nil)

	pending := make(map[int]bool, n)
	for i := range waiters {
		pending[i] = true
	}
	var order []int
	for len(pending) > 0 {
		var cases []reflect.SelectCase
		var index []int
		for i := range waiters {
			if pending[i] {
				cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(waiters[i])})
				index = append(index, i)
			}
		}
		chosen, v, ok := reflect.Select(cases)
		require.True(t, ok)
		assert.Equal(t, "new", v.Interface().(refreshResult).accessToken)
		order = append(order, index[chosen])
		delete(pending, index[chosen])
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, c.Pending())
}
