package angel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/ashureev/angel-console/internal/domain"
)

// Decision is the user's answer to the business plan summary.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionRevisit Decision = "revisit"
)

func sessionPath(id string, suffix string) string {
	return "/angel/sessions/" + url.PathEscape(id) + suffix
}

func invalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message, Err: errors.New(strings.ToLower(message))}
}

// CreateSession starts a new venture conversation.
func (c *Client) CreateSession(ctx context.Context, title string) (domain.VentureSummary, error) {
	var out domain.VentureSummary
	body := map[string]string{"title": title}
	if err := c.do(ctx, call{method: http.MethodPost, path: "/angel/sessions", body: body}, &out); err != nil {
		return domain.VentureSummary{}, err
	}
	if out.ID == "" {
		return domain.VentureSummary{}, newMalformedError(errors.New("created session has no id"))
	}
	return out, nil
}

// ListSessions returns the user's venture conversations.
func (c *Client) ListSessions(ctx context.Context) ([]domain.VentureSummary, error) {
	var out []domain.VentureSummary
	if err := c.do(ctx, call{method: http.MethodGet, path: "/angel/sessions"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Chat sends one answer and returns the validated reply.
func (c *Client) Chat(ctx context.Context, sessionID, content string) (*ChatReply, error) {
	if strings.TrimSpace(content) == "" {
		return nil, c.reject(ctx, invalidInput("Please enter an answer."))
	}
	var out wireChatResult
	body := map[string]string{"content": content}
	if err := c.do(ctx, call{method: http.MethodPost, path: sessionPath(sessionID, "/chat"), body: body}, &out); err != nil {
		return nil, err
	}
	return out.decoded, nil
}

// CurrentQuestion re-fetches the question the conversation is waiting on.
func (c *Client) CurrentQuestion(ctx context.Context, sessionID string) (*ChatReply, error) {
	var out wireChatResult
	if err := c.do(ctx, call{method: http.MethodGet, path: sessionPath(sessionID, "/current-question")}, &out); err != nil {
		return nil, err
	}
	return out.decoded, nil
}

// GeneratePlan asks the backend to write the business plan and returns it.
func (c *Client) GeneratePlan(ctx context.Context, sessionID string) (string, error) {
	var out documentResult
	if err := c.do(ctx, call{method: http.MethodPost, path: sessionPath(sessionID, "/generate-plan")}, &out); err != nil {
		return "", err
	}
	return out.text(), nil
}

// RoadmapPlan returns the generated roadmap.
func (c *Client) RoadmapPlan(ctx context.Context, sessionID string) (string, error) {
	var out documentResult
	if err := c.do(ctx, call{method: http.MethodGet, path: sessionPath(sessionID, "/roadmap-plan")}, &out); err != nil {
		return "", err
	}
	return out.text(), nil
}

// UpdateRoadmap stores the user's edited roadmap.
func (c *Client) UpdateRoadmap(ctx context.Context, sessionID, content string) error {
	if strings.TrimSpace(content) == "" {
		return c.reject(ctx, invalidInput("Roadmap cannot be empty."))
	}
	body := map[string]string{"content": content}
	return c.do(ctx, call{method: http.MethodPost, path: sessionPath(sessionID, "/update-roadmap"), body: body}, nil)
}

// TransitionDecision approves the business plan or goes back to revise it.
func (c *Client) TransitionDecision(ctx context.Context, sessionID string, decision Decision) (*ChatReply, error) {
	if decision != DecisionApprove && decision != DecisionRevisit {
		return nil, c.reject(ctx, invalidInput("Unknown decision."))
	}
	var out wireChatResult
	body := map[string]Decision{"decision": decision}
	if err := c.do(ctx, call{method: http.MethodPost, path: sessionPath(sessionID, "/transition-decision"), body: body}, &out); err != nil {
		return nil, err
	}
	return out.decoded, nil
}

// RoadmapToImplementation requests the hand-off payload shown before the
// implementation phase starts.
func (c *Client) RoadmapToImplementation(ctx context.Context, sessionID string) (ImplementationReady, error) {
	var out documentResult
	path := sessionPath(sessionID, "/roadmap-to-implementation-transition")
	if err := c.do(ctx, call{method: http.MethodPost, path: path}, &out); err != nil {
		return ImplementationReady{}, err
	}
	return ImplementationReady{Roadmap: out.text()}, nil
}

// StartImplementation moves the conversation into the implementation phase.
func (c *Client) StartImplementation(ctx context.Context, sessionID string) (domain.Progress, error) {
	var out progressResult
	if err := c.do(ctx, call{method: http.MethodPost, path: sessionPath(sessionID, "/start-implementation")}, &out); err != nil {
		return domain.Progress{}, err
	}
	return out.decoded, nil
}

// UploadBusinessPlan sends an existing business plan document. The file is
// buffered so the request can be replayed after a token refresh.
func (c *Client) UploadBusinessPlan(ctx context.Context, sessionID, filename string, file io.Reader) (*ChatReply, error) {
	if filename == "" {
		return nil, c.reject(ctx, invalidInput("Please choose a file to upload."))
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	var out wireChatResult
	err = c.do(ctx, call{
		method:      http.MethodPost,
		path:        sessionPath(sessionID, "/upload-business-plan"),
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.decoded, nil
}
