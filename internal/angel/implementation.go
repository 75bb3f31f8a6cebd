package angel

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ashureev/angel-console/internal/domain"
)

func implementationPath(sessionID, suffix string) string {
	return "/implementation/sessions/" + url.PathEscape(sessionID) + suffix
}

type taskResult struct {
	Task *domain.Task `json:"task"`
}

// CurrentTask returns the task the user is working on, or nil when the
// implementation phase is complete.
func (c *Client) CurrentTask(ctx context.Context, sessionID string) (*domain.Task, error) {
	var out taskResult
	if err := c.do(ctx, call{method: http.MethodGet, path: implementationPath(sessionID, "/current-task")}, &out); err != nil {
		return nil, err
	}
	if out.Task != nil && out.Task.ID == "" {
		return nil, newMalformedError(errMissingTaskID)
	}
	return out.Task, nil
}

// CompleteTask marks taskID done.
func (c *Client) CompleteTask(ctx context.Context, sessionID, taskID string) error {
	if taskID == "" {
		return c.reject(ctx, invalidInput("Task is required."))
	}
	path := implementationPath(sessionID, "/tasks/"+url.PathEscape(taskID)+"/complete")
	return c.do(ctx, call{method: http.MethodPost, path: path}, nil)
}
