package angel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/angel-console/internal/domain"
)

// Credentials are the email and password used by sign-up and sign-in.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c Credentials) check() error {
	if strings.TrimSpace(c.Email) == "" || c.Password == "" {
		return &Error{
			Kind:    KindInvalidInput,
			Message: "Email and password are required.",
			Err:     errors.New("missing credentials"),
		}
	}
	return nil
}

type sessionResult struct {
	Session *domain.TokenPair `json:"session"`
}

func (r *sessionResult) validate() error {
	if r.Session == nil || !r.Session.Valid() {
		return errors.New("reply carries no complete session")
	}
	return nil
}

// SignUp registers a new account. The backend sends a confirmation email;
// no session is stored.
func (c *Client) SignUp(ctx context.Context, creds Credentials) error {
	if err := creds.check(); err != nil {
		return c.reject(ctx, err)
	}
	return c.do(ctx, call{method: http.MethodPost, path: "/auth/signup", body: creds, public: true}, nil)
}

// SignIn authenticates and stores the returned session.
func (c *Client) SignIn(ctx context.Context, creds Credentials) (domain.TokenPair, error) {
	if err := creds.check(); err != nil {
		return domain.TokenPair{}, c.reject(ctx, err)
	}
	var out sessionResult
	if err := c.do(ctx, call{method: http.MethodPost, path: "/auth/signin", body: creds, public: true}, &out); err != nil {
		return domain.TokenPair{}, err
	}
	if err := c.tokens.Save(ctx, *out.Session); err != nil {
		return domain.TokenPair{}, fmt.Errorf("storing session: %w", err)
	}
	c.logger.Info("Signed in")
	return *out.Session, nil
}

// ResetPassword asks the backend to email a reset link.
func (c *Client) ResetPassword(ctx context.Context, email string) error {
	if strings.TrimSpace(email) == "" {
		return c.reject(ctx, &Error{
			Kind:    KindInvalidInput,
			Message: "Email is required.",
			Err:     errors.New("missing email"),
		})
	}
	body := map[string]string{"email": email}
	return c.do(ctx, call{method: http.MethodPost, path: "/auth/reset-password", body: body, public: true}, nil)
}

// RefreshToken exchanges refreshToken for a new session. It is the
// coordinator's refresh function: it never notifies and never stores the
// result itself.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	var out sessionResult
	body := map[string]string{"refresh_token": refreshToken}
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/refresh-token",
		body:   body,
		public: true,
		silent: true,
	}, &out)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return *out.Session, nil
}

// Logout clears the stored session. There is no backend call.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.tokens.Clear(ctx); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	c.logger.Info("Signed out")
	return nil
}

// SessionStatus describes the stored session without touching the network.
type SessionStatus struct {
	Authenticated bool `json:"authenticated"`
	// ExpiresAt is the access token expiry in Unix seconds, 0 when unknown.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// Status reports whether a session is stored and when its access token
// expires.
func (c *Client) Status(ctx context.Context) (SessionStatus, error) {
	pair, err := c.tokens.Load(ctx)
	if err != nil {
		return SessionStatus{}, fmt.Errorf("loading session: %w", err)
	}
	if !pair.Valid() {
		return SessionStatus{}, nil
	}
	status := SessionStatus{Authenticated: true}
	if exp, ok := TokenExpiry(pair.AccessToken); ok {
		status.ExpiresAt = exp.Unix()
	}
	return status, nil
}

// reject surfaces a locally detected input error the same way a failed call
// is surfaced.
func (c *Client) reject(ctx context.Context, err error) error {
	var apiErr *Error
	if errors.As(err, &apiErr) && !apiErr.announced {
		c.notifier.Notify(ctx, Notice{Kind: apiErr.Kind, Message: apiErr.Message})
		apiErr.announced = true
	}
	return err
}
