package angel

import (
	"context"

	"github.com/ashureev/angel-console/internal/domain"
)

// TokenStore holds the session for one device. Sign-in, refresh and logout
// write it; everything else only reads.
type TokenStore interface {
	Load(ctx context.Context) (domain.TokenPair, error)
	Save(ctx context.Context, pair domain.TokenPair) error
	Clear(ctx context.Context) error
}

// Notice is a user-facing notification for a failed call.
type Notice struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	// Redirect is set when the user must be sent to another route, e.g. the
	// login page after the session ended.
	Redirect string `json:"redirect,omitempty"`
}

// Notifier surfaces notices to the user.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// Refresh outcomes reported to the Observer.
const (
	RefreshSucceeded = "success"
	RefreshFailed    = "failure"
	RefreshNoToken   = "no_token"
)

// Observer receives client events for metrics.
type Observer interface {
	RefreshFinished(outcome string)
	RequestQueued()
	CallFailed(kind Kind)
}

type noopObserver struct{}

func (noopObserver) RefreshFinished(string) {}
func (noopObserver) RequestQueued()         {}
func (noopObserver) CallFailed(Kind)        {}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notice) {}
