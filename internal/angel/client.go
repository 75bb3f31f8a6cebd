package angel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// maxResponseSize limits response body reads to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// DefaultTimeout bounds a single call, including a post-refresh retry.
const DefaultTimeout = 90 * time.Second

// Config configures a Client.
type Config struct {
	BaseURL        string
	HTTPClient     *http.Client
	Tokens         TokenStore
	Notifier       Notifier
	Observer       Observer
	Logger         *slog.Logger
	Timeout        time.Duration
	RefreshTimeout time.Duration
	// LoginPath is the route users are sent to when the session ends.
	LoginPath string
}

// Client is the Angel API client for one device.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokens      TokenStore
	notifier    Notifier
	observer    Observer
	logger      *slog.Logger
	timeout     time.Duration
	loginPath   string
	coordinator *Coordinator

	// inflight counts calls that have not returned; lastUsed is the Unix
	// nanosecond time of the latest call start or end.
	inflight atomic.Int64
	lastUsed atomic.Int64
	now      func() time.Time
}

// NewClient creates a client. Its coordinator refreshes through the
// client's own refresh endpoint.
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = noopNotifier{}
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
		tokens:     cfg.Tokens,
		notifier:   cfg.Notifier,
		observer:   cfg.Observer,
		logger:     cfg.Logger,
		timeout:    cfg.Timeout,
		loginPath:  cfg.LoginPath,
		now:        time.Now,
	}
	c.coordinator = NewCoordinator(CoordinatorConfig{
		Tokens:    cfg.Tokens,
		Refresh:   c.RefreshToken,
		OnExpired: c.announceExpiry,
		Timeout:   cfg.RefreshTimeout,
		Observer:  cfg.Observer,
		Logger:    cfg.Logger,
	})
	return c
}

// Coordinator returns the client's refresh coordinator.
func (c *Client) Coordinator() *Coordinator {
	return c.coordinator
}

func (c *Client) touch() { c.lastUsed.Store(c.now().UnixNano()) }

// idle reports whether the client has no call in flight and was last used
// before cutoff.
func (c *Client) idle(cutoff time.Time) bool {
	return c.inflight.Load() == 0 && c.lastUsed.Load() < cutoff.UnixNano()
}

// call describes one API request.
type call struct {
	method      string
	path        string
	body        any
	contentType string // set when body is pre-encoded []byte
	// public calls carry no bearer token and are never refreshed.
	public bool
	// silent calls never notify; the caller reports failures itself.
	silent bool
}

// envelope is the backend response wrapper.
type envelope struct {
	Result json.RawMessage `json:"result"`
}

type validator interface {
	validate() error
}

// do performs c, handles 401 refresh, and decodes the "result" field into
// out. Every failure is announced to the notifier exactly once and returned.
func (c *Client) do(ctx context.Context, cl call, out any) error {
	c.inflight.Add(1)
	c.touch()
	defer func() {
		c.touch()
		c.inflight.Add(-1)
	}()

	err := c.doOnce(ctx, cl, out)
	if err == nil {
		return nil
	}

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = newNetworkError(err)
		err = apiErr
	}
	c.observer.CallFailed(apiErr.Kind)
	c.logger.Warn("Angel API call failed",
		"method", cl.method,
		"path", cl.path,
		"kind", apiErr.Kind,
		"status", apiErr.Status,
		"error", apiErr.Err,
	)

	if apiErr.Kind == KindUnauthorized && !cl.public && !apiErr.announced {
		// Non-refreshable authorization failure: end the session.
		if clearErr := c.tokens.Clear(context.WithoutCancel(ctx)); clearErr != nil {
			c.logger.Error("Failed to clear session", "error", clearErr)
		}
		c.announceExpiry(ctx, apiErr)
		apiErr.announced = true
	}

	if !cl.silent && !apiErr.announced {
		c.notifier.Notify(ctx, Notice{Kind: apiErr.Kind, Message: apiErr.Message})
		apiErr.announced = true
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, cl call, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, cl)
	if err != nil {
		return err
	}

	resp, err := c.send(req)
	if err != nil {
		return newNetworkError(err)
	}

	if resp.StatusCode == http.StatusUnauthorized && !cl.public {
		drain(resp)
		resp, err = c.coordinator.Handle401(ctx, req, c.send)
		if err != nil {
			if errors.Is(err, ErrRefreshFailed) || errors.Is(err, ErrNoRefreshToken) {
				return newSessionEndedError(err)
			}
			return newNetworkError(err)
		}
	}
	defer drain(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return newNetworkError(fmt.Errorf("reading response: %w", err))
	}
	if int64(len(body)) > maxResponseSize {
		return newMalformedError(fmt.Errorf("response exceeds maximum size of %d bytes", maxResponseSize))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newStatusError(resp.StatusCode, body)
		if cl.public && apiErr.Kind == KindUnauthorized {
			// Bad credentials on a public call are an input problem.
			apiErr.Kind = KindInvalidInput
			if msg, _ := parseErrorBody(body); msg != "" {
				apiErr.Message = msg
			} else {
				apiErr.Message = "Invalid email or password."
			}
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return newMalformedError(fmt.Errorf("decoding envelope: %w", err))
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		if v, ok := out.(validator); ok {
			if err := v.validate(); err != nil {
				return newMalformedError(err)
			}
		}
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return newMalformedError(fmt.Errorf("decoding result: %w", err))
	}
	if v, ok := out.(validator); ok {
		if err := v.validate(); err != nil {
			return newMalformedError(err)
		}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, cl call) (*http.Request, error) {
	var body io.Reader
	contentType := cl.contentType
	switch b := cl.body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(b)
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	if !cl.public {
		pair, err := c.tokens.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading session: %w", err)
		}
		if pair.AccessToken != "" {
			req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
		}
	}
	return req, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// announceExpiry tells the user the session ended and where to go next.
func (c *Client) announceExpiry(ctx context.Context, _ error) {
	c.notifier.Notify(ctx, Notice{
		Kind:     KindUnauthorized,
		Message:  userMessages[KindUnauthorized],
		Redirect: c.loginPath,
	})
}

// LoginPath returns the route users are redirected to when the session ends.
func (c *Client) LoginPath() string {
	return c.loginPath
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	_ = resp.Body.Close()
}
