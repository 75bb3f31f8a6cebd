package angel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/angel-console/internal/domain"
)

// State is the refresh state of a Coordinator.
type State int

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	if s == StateRefreshing {
		return "refreshing"
	}
	return "idle"
}

// RefreshFunc exchanges a refresh token for a new session.
type RefreshFunc func(ctx context.Context, refreshToken string) (domain.TokenPair, error)

// SendFunc performs one HTTP round trip without any 401 handling.
type SendFunc func(req *http.Request) (*http.Response, error)

type retryKey struct{}

// markRetried returns ctx tagged so a request built on it is never refreshed again.
func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryKey{}, true)
}

// IsRetried reports whether req is already the post-refresh retry.
func IsRetried(req *http.Request) bool {
	v, _ := req.Context().Value(retryKey{}).(bool)
	return v
}

type refreshResult struct {
	accessToken string
	err         error
}

// Coordinator makes sure a burst of 401 responses triggers at most one
// refresh call. Requests that hit 401 while a refresh is in flight wait in a
// FIFO queue and are replayed with the new token, or all fail together.
type Coordinator struct {
	tokens    TokenStore
	refresh   RefreshFunc
	onExpired func(ctx context.Context, cause error)
	timeout   time.Duration
	observer  Observer
	logger    *slog.Logger

	mu    sync.Mutex
	state State
	queue []chan refreshResult
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Tokens  TokenStore
	Refresh RefreshFunc
	// OnExpired runs after the session was cleared because refresh was
	// impossible or failed. It is where the redirect to login is signalled.
	OnExpired func(ctx context.Context, cause error)
	Timeout   time.Duration
	Observer  Observer
	Logger    *slog.Logger
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OnExpired == nil {
		cfg.OnExpired = func(context.Context, error) {}
	}
	return &Coordinator{
		tokens:    cfg.Tokens,
		refresh:   cfg.Refresh,
		onExpired: cfg.OnExpired,
		timeout:   cfg.Timeout,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
	}
}

// State returns the current refresh state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of queued requests.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Handle401 handles a 401 for req, which must not have been retried yet.
// It either starts the refresh or waits for the one in flight, then replays
// req once with the new access token via send.
func (c *Coordinator) Handle401(ctx context.Context, req *http.Request, send SendFunc) (*http.Response, error) {
	if IsRetried(req) {
		return nil, fmt.Errorf("request already retried after refresh")
	}

	c.mu.Lock()
	if c.state == StateRefreshing {
		wait := make(chan refreshResult, 1)
		c.queue = append(c.queue, wait)
		c.mu.Unlock()
		c.observer.RequestQueued()

		select {
		case res := <-wait:
			if res.err != nil {
				return nil, res.err
			}
			return c.replay(req, res.accessToken, send)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.state = StateRefreshing
	c.mu.Unlock()

	accessToken, err := c.runRefresh(ctx)
	if err != nil {
		return nil, err
	}
	return c.replay(req, accessToken, send)
}

// runRefresh performs the single refresh. The deferred settle always drains
// the queue and returns the coordinator to idle.
func (c *Coordinator) runRefresh(ctx context.Context) (accessToken string, err error) {
	defer func() { c.settle(accessToken, err) }()

	// The refresh serves every queued request, so it must outlive the
	// cancellation of whichever caller happened to start it.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	pair, err := c.tokens.Load(rctx)
	if err != nil {
		c.observer.RefreshFinished(RefreshFailed)
		err = fmt.Errorf("%w: load session: %w", ErrRefreshFailed, err)
		c.expire(rctx, err)
		return "", err
	}
	if pair.RefreshToken == "" {
		c.observer.RefreshFinished(RefreshNoToken)
		c.expire(rctx, ErrNoRefreshToken)
		return "", ErrNoRefreshToken
	}

	fresh, err := c.refresh(rctx, pair.RefreshToken)
	if err == nil && !fresh.Valid() {
		err = fmt.Errorf("refresh returned an incomplete session")
	}
	if err != nil {
		c.observer.RefreshFinished(RefreshFailed)
		err = fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		c.expire(rctx, err)
		return "", err
	}

	if saveErr := c.tokens.Save(rctx, fresh); saveErr != nil {
		// The new pair is still usable for this round.
		c.logger.Error("Failed to persist refreshed session", "error", saveErr)
	}
	c.observer.RefreshFinished(RefreshSucceeded)
	c.logger.Info("Session refreshed")
	return fresh.AccessToken, nil
}

// settle resolves or rejects every queued request in FIFO order and resets
// the coordinator to idle.
func (c *Coordinator) settle(accessToken string, err error) {
	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	c.state = StateIdle
	c.mu.Unlock()

	if len(queue) > 0 {
		c.logger.Debug("Settling queued requests", "count", len(queue), "success", err == nil)
	}
	for _, wait := range queue {
		wait <- refreshResult{accessToken: accessToken, err: err}
	}
}

// expire clears the session and signals the redirect.
func (c *Coordinator) expire(ctx context.Context, cause error) {
	if err := c.tokens.Clear(ctx); err != nil {
		c.logger.Error("Failed to clear session", "error", err)
	}
	c.logger.Warn("Session ended", "reason", cause)
	c.onExpired(ctx, cause)
}

// replay resubmits req once with accessToken.
func (c *Coordinator) replay(req *http.Request, accessToken string, send SendFunc) (*http.Response, error) {
	retry, err := cloneForRetry(req, accessToken)
	if err != nil {
		return nil, err
	}
	return send(retry)
}

func cloneForRetry(req *http.Request, accessToken string) (*http.Request, error) {
	retry := req.Clone(markRetried(req.Context()))
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, ErrBodyNotReplayable
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBodyNotReplayable, err)
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+accessToken)
	return retry, nil
}
