package venture

import (
	"github.com/ashureev/angel-console/internal/angel"
	"github.com/ashureev/angel-console/internal/domain"
)

// Screen names the view the presentation layer renders.
type Screen string

const (
	ScreenChat           Screen = "chat"
	ScreenPlanSummary    Screen = "plan_summary"
	ScreenRoadmap        Screen = "roadmap"
	ScreenImplementation Screen = "implementation_transition"
	ScreenTasks          Screen = "tasks"
	ScreenComplete       Screen = "complete"
)

// View is a snapshot of the machine for rendering.
type View struct {
	SessionID     string          `json:"session_id"`
	State         domain.Phase    `json:"state"`
	Screen        Screen          `json:"screen"`
	Progress      domain.Progress `json:"progress"`
	ProgressLabel string          `json:"progress_label"`
	Busy          bool            `json:"busy"`

	Question         string                `json:"question,omitempty"`
	QuestionNumber   *int                  `json:"question_number,omitempty"`
	ShowAcceptModify bool                  `json:"show_accept_modify"`
	History          []domain.HistoryEntry `json:"history"`

	Transition   *domain.Transition    `json:"transition,omitempty"`
	Banner       domain.TransitionKind `json:"banner,omitempty"`
	BusinessPlan string                `json:"business_plan,omitempty"`
	Roadmap      string                `json:"roadmap,omitempty"`

	Task *domain.Task `json:"task,omitempty"`

	WebSearch         *angel.WebSearchStatus `json:"web_search,omitempty"`
	ImmediateResponse string                 `json:"immediate_response,omitempty"`
}

// View returns a copy of the current state.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := View{
		SessionID:         m.sessionID,
		State:             m.state,
		Screen:            m.screen(),
		Progress:          m.progress,
		ProgressLabel:     m.progress.Label(),
		Busy:              m.busy,
		Question:          m.question,
		ShowAcceptModify:  m.showAcceptModify,
		History:           append([]domain.HistoryEntry{}, m.history...),
		Banner:            m.banner,
		BusinessPlan:      m.businessPlan,
		Roadmap:           m.roadmap,
		WebSearch:         m.webSearch,
		ImmediateResponse: m.immediateResponse,
	}
	if m.questionNumber != nil {
		n := *m.questionNumber
		v.QuestionNumber = &n
	}
	if m.transition != nil {
		t := *m.transition
		v.Transition = &t
	}
	if m.task != nil {
		t := *m.task
		v.Task = &t
	}
	return v
}

// screen picks the view. A transition payload always replaces the chat.
// Callers hold m.mu.
func (m *Machine) screen() Screen {
	if m.transition != nil {
		switch m.transition.Kind {
		case domain.TransitionPlanToRoadmap:
			return ScreenPlanSummary
		case domain.TransitionRoadmapGenerated:
			return ScreenRoadmap
		case domain.TransitionRoadmapToImplementation:
			return ScreenImplementation
		}
	}
	if m.state == domain.PhaseImplementation {
		if m.tasksDone {
			return ScreenComplete
		}
		if m.task != nil {
			return ScreenTasks
		}
	}
	return ScreenChat
}
