package angel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

var errMissingTaskID = errors.New("task without id")

// AgentKind names a specialized agent endpoint.
type AgentKind string

const (
	AgentGuidance      AgentKind = "agent-guidance"
	AgentResearch      AgentKind = "research"
	AgentProviderTable AgentKind = "provider-table"
)

// ParseAgentKind validates an agent name from a URL.
func ParseAgentKind(s string) (AgentKind, bool) {
	switch k := AgentKind(s); k {
	case AgentGuidance, AgentResearch, AgentProviderTable:
		return k, true
	}
	return "", false
}

// AgentRequest is the input to a specialized agent.
type AgentRequest struct {
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id,omitempty"`
	Query     string `json:"query,omitempty"`
}

// AgentReply is a specialized agent answer. Content is the display text;
// Data keeps the full payload for structured views such as provider tables.
type AgentReply struct {
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type agentResult struct {
	raw json.RawMessage
}

func (a *agentResult) UnmarshalJSON(b []byte) error {
	a.raw = append(a.raw[:0], b...)
	return nil
}

func (a *agentResult) reply() AgentReply {
	var fields struct {
		Content  string `json:"content"`
		Reply    string `json:"reply"`
		Guidance string `json:"guidance"`
		Summary  string `json:"summary"`
	}
	_ = json.Unmarshal(a.raw, &fields)
	out := AgentReply{Data: a.raw}
	for _, s := range []string{fields.Content, fields.Reply, fields.Guidance, fields.Summary} {
		if s != "" {
			out.Content = s
			break
		}
	}
	return out
}

// Agent calls the specialized agent named by kind.
func (c *Client) Agent(ctx context.Context, kind AgentKind, req AgentRequest) (AgentReply, error) {
	if _, ok := ParseAgentKind(string(kind)); !ok {
		return AgentReply{}, c.reject(ctx, invalidInput("Unknown agent."))
	}
	if req.SessionID == "" {
		return AgentReply{}, c.reject(ctx, invalidInput("Session is required."))
	}
	var out agentResult
	if err := c.do(ctx, call{method: http.MethodPost, path: "/specialized-agents/" + string(kind), body: req}, &out); err != nil {
		return AgentReply{}, err
	}
	return out.reply(), nil
}

// AgentGuidance asks the guidance agent about the current task.
func (c *Client) AgentGuidance(ctx context.Context, req AgentRequest) (AgentReply, error) {
	return c.Agent(ctx, AgentGuidance, req)
}

// Research runs a web research query.
func (c *Client) Research(ctx context.Context, req AgentRequest) (AgentReply, error) {
	return c.Agent(ctx, AgentResearch, req)
}

// ProviderTable asks for a comparison table of service providers.
func (c *Client) ProviderTable(ctx context.Context, req AgentRequest) (AgentReply, error) {
	return c.Agent(ctx, AgentProviderTable, req)
}
