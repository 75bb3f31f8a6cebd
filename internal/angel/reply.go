package angel

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/ashureev/angel-console/internal/domain"
)

// Outcome is what a chat reply asks the conversation to do next. The set of
// implementations is closed: NextQuestion, KYCToBusinessPlan, PlanToRoadmap,
// RoadmapGenerated and ImplementationReady.
type Outcome interface {
	outcome()
}

// NextQuestion keeps the conversation in its phase and shows the reply.
type NextQuestion struct{}

// KYCToBusinessPlan marks the move from KYC into business-plan questions.
type KYCToBusinessPlan struct{}

// PlanToRoadmap replaces the chat with the business plan summary until the
// user approves or revisits.
type PlanToRoadmap struct {
	Summary string
}

// RoadmapGenerated carries the generated roadmap text.
type RoadmapGenerated struct {
	Roadmap string
}

// ImplementationReady carries the roadmap-to-implementation hand-off.
type ImplementationReady struct {
	Roadmap string
}

func (NextQuestion) outcome()        {}
func (KYCToBusinessPlan) outcome()   {}
func (PlanToRoadmap) outcome()       {}
func (RoadmapGenerated) outcome()    {}
func (ImplementationReady) outcome() {}

// WebSearchStatus reports research the backend ran while answering.
type WebSearchStatus struct {
	IsSearching bool   `json:"is_searching"`
	Query       string `json:"query,omitempty"`
	Completed   bool   `json:"completed,omitempty"`
}

// ChatReply is a validated chat response.
type ChatReply struct {
	// Reply is the raw backend text, tags included.
	Reply             string
	Progress          domain.Progress
	Outcome           Outcome
	WebSearch         *WebSearchStatus
	ImmediateResponse string
	ShowAcceptModify  *bool
	QuestionNumber    *int
}

type wireBreakdown struct {
	Answered int     `json:"answered"`
	Total    int     `json:"total"`
	Percent  float64 `json:"percent"`
}

type wireProgress struct {
	Phase          string          `json:"phase"`
	Answered       int             `json:"answered"`
	Total          int             `json:"total"`
	Percent        float64         `json:"percent"`
	PhaseBreakdown json.RawMessage `json:"phase_breakdown,omitempty"`
	Overall        *wireBreakdown  `json:"overall_progress,omitempty"`
}

func (w *wireProgress) toDomain() (domain.Progress, error) {
	phase, err := domain.ParsePhase(w.Phase)
	if err != nil {
		return domain.Progress{}, err
	}
	p := domain.Progress{
		Phase:    phase,
		Answered: max(w.Answered, 0),
		Total:    max(w.Total, 0),
		Percent:  domain.ClampPercent(w.Percent),
	}
	if w.Overall != nil {
		p.Overall = &domain.OverallProgress{
			Answered: w.Overall.Answered,
			Total:    w.Overall.Total,
			Percent:  domain.ClampPercent(w.Overall.Percent),
		}
	}
	breakdown, err := decodeBreakdown(w.PhaseBreakdown)
	if err != nil {
		return domain.Progress{}, err
	}
	p.PhaseBreakdown = breakdown
	return p, nil
}

// decodeBreakdown accepts either a list of per-phase entries or an object
// keyed by phase.
func decodeBreakdown(raw json.RawMessage) ([]domain.PhaseBreakdown, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var list []struct {
		Phase string `json:"phase"`
		wireBreakdown
	}
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]domain.PhaseBreakdown, 0, len(list))
		for _, item := range list {
			phase, err := domain.ParsePhase(item.Phase)
			if err != nil {
				return nil, fmt.Errorf("phase_breakdown: %w", err)
			}
			out = append(out, breakdownEntry(phase, item.wireBreakdown))
		}
		return out, nil
	}

	var byPhase map[string]wireBreakdown
	if err := json.Unmarshal(raw, &byPhase); err != nil {
		return nil, fmt.Errorf("phase_breakdown: %w", err)
	}
	out := make([]domain.PhaseBreakdown, 0, len(byPhase))
	for name, item := range byPhase {
		phase, err := domain.ParsePhase(name)
		if err != nil {
			return nil, fmt.Errorf("phase_breakdown: %w", err)
		}
		out = append(out, breakdownEntry(phase, item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phase < out[j].Phase })
	return out, nil
}

func breakdownEntry(phase domain.Phase, w wireBreakdown) domain.PhaseBreakdown {
	return domain.PhaseBreakdown{
		Phase:    phase,
		Answered: w.Answered,
		Total:    w.Total,
		Percent:  domain.ClampPercent(w.Percent),
	}
}

// wireChatResult is the "result" of chat-shaped endpoints.
type wireChatResult struct {
	Reply               string           `json:"reply"`
	Progress            *wireProgress    `json:"progress"`
	WebSearchStatus     *WebSearchStatus `json:"web_search_status,omitempty"`
	ImmediateResponse   string           `json:"immediate_response,omitempty"`
	TransitionPhase     string           `json:"transition_phase,omitempty"`
	BusinessPlanSummary string           `json:"business_plan_summary,omitempty"`
	RoadmapContent      string           `json:"roadmap_content,omitempty"`
	ShowAcceptModify    *bool            `json:"show_accept_modify,omitempty"`
	QuestionNumber      *int             `json:"question_number,omitempty"`

	decoded *ChatReply
}

func (w *wireChatResult) validate() error {
	if w.Progress == nil {
		return errors.New("chat reply without progress")
	}
	progress, err := w.Progress.toDomain()
	if err != nil {
		return fmt.Errorf("progress: %w", err)
	}
	outcome, err := w.outcome()
	if err != nil {
		return err
	}
	w.decoded = &ChatReply{
		Reply:             w.Reply,
		Progress:          progress,
		Outcome:           outcome,
		WebSearch:         w.WebSearchStatus,
		ImmediateResponse: w.ImmediateResponse,
		ShowAcceptModify:  w.ShowAcceptModify,
		QuestionNumber:    w.QuestionNumber,
	}
	return nil
}

func (w *wireChatResult) outcome() (Outcome, error) {
	switch domain.TransitionKind(w.TransitionPhase) {
	case "":
		// Decision replies may carry the roadmap without naming the transition.
		if w.RoadmapContent != "" {
			return RoadmapGenerated{Roadmap: w.RoadmapContent}, nil
		}
		return NextQuestion{}, nil
	case domain.TransitionKYCToBusinessPlan:
		return KYCToBusinessPlan{}, nil
	case domain.TransitionPlanToRoadmap:
		summary := w.BusinessPlanSummary
		if summary == "" {
			summary = w.Reply
		}
		return PlanToRoadmap{Summary: summary}, nil
	case domain.TransitionRoadmapGenerated:
		roadmap := w.RoadmapContent
		if roadmap == "" {
			roadmap = w.Reply
		}
		if roadmap == "" {
			return nil, errors.New("ROADMAP_GENERATED without roadmap content")
		}
		return RoadmapGenerated{Roadmap: roadmap}, nil
	case domain.TransitionRoadmapToImplementation:
		return ImplementationReady{Roadmap: w.RoadmapContent}, nil
	default:
		return nil, fmt.Errorf("unknown transition_phase %q", w.TransitionPhase)
	}
}

// documentResult is the "result" of endpoints that return one generated
// document (business plan, roadmap) rather than a chat turn.
type documentResult struct {
	Reply               string        `json:"reply,omitempty"`
	Content             string        `json:"content,omitempty"`
	BusinessPlanSummary string        `json:"business_plan_summary,omitempty"`
	RoadmapContent      string        `json:"roadmap_content,omitempty"`
	Plan                string        `json:"plan,omitempty"`
	Roadmap             string        `json:"roadmap,omitempty"`
	TransitionPhase     string        `json:"transition_phase,omitempty"`
	Progress            *wireProgress `json:"progress,omitempty"`
}

// text returns the first non-empty document field.
func (d *documentResult) text() string {
	for _, s := range []string{d.RoadmapContent, d.BusinessPlanSummary, d.Roadmap, d.Plan, d.Content, d.Reply} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (d *documentResult) validate() error {
	if d.TransitionPhase != "" {
		switch domain.TransitionKind(d.TransitionPhase) {
		case domain.TransitionKYCToBusinessPlan, domain.TransitionPlanToRoadmap,
			domain.TransitionRoadmapGenerated, domain.TransitionRoadmapToImplementation:
		default:
			return fmt.Errorf("unknown transition_phase %q", d.TransitionPhase)
		}
	}
	if d.Progress != nil {
		if _, err := d.Progress.toDomain(); err != nil {
			return fmt.Errorf("progress: %w", err)
		}
	}
	return nil
}

// progressResult is the "result" of start-implementation.
type progressResult struct {
	Progress *wireProgress `json:"progress"`

	decoded domain.Progress
}

func (r *progressResult) validate() error {
	if r.Progress == nil {
		return errors.New("reply without progress")
	}
	p, err := r.Progress.toDomain()
	if err != nil {
		return fmt.Errorf("progress: %w", err)
	}
	r.decoded = p
	return nil
}
