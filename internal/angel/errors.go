// Package angel is the client for the Angel backend API. It attaches the
// session token to every call, coordinates token refresh on 401 responses,
// and classifies failures into a small user-facing taxonomy.
package angel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind classifies a failed call.
type Kind string

const (
	KindRateLimit    Kind = "RATE_LIMIT_EXCEEDED"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindInvalidInput Kind = "INVALID_INPUT"
	KindServer       Kind = "SERVER_ERROR"
	KindNetwork      Kind = "NETWORK_ERROR"
)

var (
	// ErrNoRefreshToken is returned when a 401 arrives and no refresh token
	// is stored. No refresh call is made.
	ErrNoRefreshToken = errors.New("no refresh token stored")
	// ErrRefreshFailed wraps any failure of the refresh call itself.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrBodyNotReplayable is returned when a request body cannot be re-read
	// for the post-refresh retry.
	ErrBodyNotReplayable = errors.New("request body cannot be replayed")
	// ErrMalformedResponse is returned when a reply fails validation.
	ErrMalformedResponse = errors.New("malformed response")
)

var userMessages = map[Kind]string{
	KindRateLimit:    "Too many requests. Please wait a moment and try again.",
	KindUnauthorized: "Your session has expired. Please sign in again.",
	KindInvalidInput: "Please check your input and try again.",
	KindServer:       "Something went wrong on our side. Please try again.",
	KindNetwork:      "Unable to reach the server. Check your connection and try again.",
}

// Error is a classified call failure.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string // safe to show to the user
	Err     error

	// announced is set when the failure was already surfaced to the user
	// (refresh failures are announced once by the coordinator).
	announced bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or "" if err is not a classified error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsUnauthorized reports whether err ended the session.
func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized
}

// UserMessage returns the message to show for err.
func UserMessage(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return userMessages[KindServer]
}

// errorBody covers the error shapes the backend emits:
// {"detail": "..."}, {"message": "...", "code": "..."} and
// {"error": {"message": "...", "code": "..."}} or {"error": "..."}.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Error   json.RawMessage `json:"error"`
}

func parseErrorBody(body []byte) (message, code string) {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return "", ""
	}
	message, code = eb.Message, eb.Code

	if len(eb.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		var s string
		switch {
		case json.Unmarshal(eb.Error, &nested) == nil:
			if message == "" {
				message = nested.Message
			}
			if code == "" {
				code = nested.Code
			}
		case json.Unmarshal(eb.Error, &s) == nil && message == "":
			message = s
		}
	}

	if message == "" && len(eb.Detail) > 0 {
		var s string
		if json.Unmarshal(eb.Detail, &s) == nil {
			message = s
		}
	}
	return message, code
}

// classify derives the kind from an optional server code, then the status.
func classify(status int, code string) Kind {
	switch strings.ToUpper(code) {
	case "RATE_LIMIT_EXCEEDED", "RATE_LIMITED":
		return KindRateLimit
	case "UNAUTHORIZED", "TOKEN_EXPIRED", "INVALID_TOKEN":
		return KindUnauthorized
	case "INVALID_INPUT", "VALIDATION_ERROR":
		return KindInvalidInput
	case "SERVER_ERROR", "INTERNAL_ERROR":
		return KindServer
	}

	switch {
	case status == 429:
		return KindRateLimit
	case status == 401 || status == 403:
		return KindUnauthorized
	case status >= 400 && status < 500:
		return KindInvalidInput
	default:
		return KindServer
	}
}

const maxShownMessage = 200

// truncateMessage cuts s to at most limit bytes on a rune boundary.
func truncateMessage(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// newStatusError builds the classified error for a non-2xx reply. Only
// validation and rate-limit messages from the server are shown verbatim.
func newStatusError(status int, body []byte) *Error {
	message, code := parseErrorBody(body)
	kind := classify(status, code)

	shown := userMessages[kind]
	if (kind == KindInvalidInput || kind == KindRateLimit) && message != "" {
		shown = message
		shown = truncateMessage(shown, maxShownMessage)
	}

	cause := message
	if cause == "" {
		cause = "request failed"
	}
	return &Error{
		Kind:    kind,
		Status:  status,
		Code:    code,
		Message: shown,
		Err:     errors.New(cause),
	}
}

func newNetworkError(err error) *Error {
	return &Error{Kind: KindNetwork, Message: userMessages[KindNetwork], Err: err}
}

func newMalformedError(err error) *Error {
	return &Error{
		Kind:    KindServer,
		Message: userMessages[KindServer],
		Err:     fmt.Errorf("%w: %w", ErrMalformedResponse, err),
	}
}

func newSessionEndedError(err error) *Error {
	return &Error{
		Kind:      KindUnauthorized,
		Status:    401,
		Message:   userMessages[KindUnauthorized],
		Err:       err,
		announced: true,
	}
}
