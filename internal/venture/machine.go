// Package venture holds the conversation phase state machine for one venture
// chat. Phase changes are always confirmed by the backend; the machine only
// decides which view to show and keeps the in-memory answer history.
package venture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/angel-console/internal/angel"
	"github.com/ashureev/angel-console/internal/domain"
	"github.com/ashureev/angel-console/internal/normalize"
)

var (
	// ErrBusy is returned when an action starts while another is pending.
	ErrBusy = errors.New("another action is in progress")
	// ErrClosed is returned after the machine was evicted or closed.
	ErrClosed = errors.New("venture conversation closed")
	// ErrEmptyAnswer is returned for a blank answer.
	ErrEmptyAnswer = errors.New("answer is empty")
)

// StateError is returned when an action is not valid in the current state.
type StateError struct {
	Action string
	State  domain.Phase
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s is not available in state %s", e.Action, e.State)
}

// SubmitError wraps a failed answer submission. Answer is the unsent text
// so the caller can put it back into the input.
type SubmitError struct {
	Answer string
	Err    error
}

func (e *SubmitError) Error() string { return "submit answer: " + e.Err.Error() }

func (e *SubmitError) Unwrap() error { return e.Err }

// Backend is the part of the Angel API a Machine drives.
type Backend interface {
	Chat(ctx context.Context, sessionID, content string) (*angel.ChatReply, error)
	CurrentQuestion(ctx context.Context, sessionID string) (*angel.ChatReply, error)
	TransitionDecision(ctx context.Context, sessionID string, decision angel.Decision) (*angel.ChatReply, error)
	GeneratePlan(ctx context.Context, sessionID string) (string, error)
	RoadmapPlan(ctx context.Context, sessionID string) (string, error)
	UpdateRoadmap(ctx context.Context, sessionID, content string) error
	RoadmapToImplementation(ctx context.Context, sessionID string) (angel.ImplementationReady, error)
	StartImplementation(ctx context.Context, sessionID string) (domain.Progress, error)
	CurrentTask(ctx context.Context, sessionID string) (*domain.Task, error)
	CompleteTask(ctx context.Context, sessionID, taskID string) error
	UploadBusinessPlan(ctx context.Context, sessionID, filename string, file io.Reader) (*angel.ChatReply, error)
}

// Observer receives conversation events for metrics.
type Observer interface {
	ExchangeCompleted(phase domain.Phase)
	TransitionEntered(kind domain.TransitionKind)
}

type noopObserver struct{}

func (noopObserver) ExchangeCompleted(domain.Phase)          {}
func (noopObserver) TransitionEntered(domain.TransitionKind) {}

// Options configures a Machine.
type Options struct {
	// ImplicitKYCTransition treats the first BUSINESS_PLAN reply after KYC as
	// a KYC_TO_BUSINESS_PLAN transition when the backend sends no flag.
	ImplicitKYCTransition bool
	Observer              Observer
	Logger                *slog.Logger
	Now                   func() time.Time
}

// Machine is the conversation state for one venture session.
type Machine struct {
	sessionID string
	backend   Backend
	opts      Options

	// lifetime is cancelled by Close; in-flight calls are tied to it.
	lifetime context.Context
	stop     context.CancelFunc

	mu         sync.Mutex
	busy       bool
	closed     bool
	hydrated   bool
	lastActive time.Time

	state            domain.Phase
	progress         domain.Progress
	history          []domain.HistoryEntry
	rawQuestion      string
	question         string
	questionNumber   *int
	showAcceptModify bool
	transition       *domain.Transition
	// banner is a non-blocking milestone shown above the next question.
	banner            domain.TransitionKind
	businessPlan      string
	roadmap           string
	task              *domain.Task
	tasksDone         bool
	webSearch         *angel.WebSearchStatus
	immediateResponse string
}

// NewMachine creates a machine in the initial KYC state.
func NewMachine(sessionID string, backend Backend, opts Options) *Machine {
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	lifetime, stop := context.WithCancel(context.Background())
	return &Machine{
		sessionID:  sessionID,
		backend:    backend,
		opts:       opts,
		lifetime:   lifetime,
		stop:       stop,
		lastActive: opts.Now(),
		state:      domain.PhaseKYC,
		progress:   domain.Progress{Phase: domain.PhaseKYC},
	}
}

// SessionID returns the backend session id.
func (m *Machine) SessionID() string { return m.sessionID }

// Close cancels in-flight calls. Completions that arrive later are dropped.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()
}

// idleSince reports when the machine was last used and whether it is busy.
func (m *Machine) idleSince() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActive, m.busy
}

// begin claims the machine for one action. The returned context ends when
// either the caller's context or the machine's lifetime ends.
func (m *Machine) begin(ctx context.Context, action string, allowed ...domain.Phase) (context.Context, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, ErrClosed
	}
	if m.busy {
		return nil, nil, ErrBusy
	}
	if len(allowed) > 0 && !phaseIn(m.state, allowed) {
		return nil, nil, &StateError{Action: action, State: m.state}
	}
	m.busy = true
	m.lastActive = m.opts.Now()

	ctx, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(m.lifetime, cancel)
	done := func() {
		stopAfter()
		cancel()
		m.mu.Lock()
		m.busy = false
		m.lastActive = m.opts.Now()
		m.mu.Unlock()
	}
	return ctx, done, nil
}

// commit runs apply under the lock unless the machine was closed while the
// call was in flight.
func (m *Machine) commit(apply func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	apply()
	return nil
}

func phaseIn(p domain.Phase, set []domain.Phase) bool {
	for _, s := range set {
		if p == s {
			return true
		}
	}
	return false
}

// chatStates are the states that show the question-and-answer view.
var chatStates = []domain.Phase{domain.PhaseKYC, domain.PhaseBusinessPlan, domain.PhaseImplementation}

// Hydrate loads the current question from the backend. hint is the phase
// reported by the session list; when it names the roadmap or implementation
// phase, the roadmap or current task is fetched in parallel.
func (m *Machine) Hydrate(ctx context.Context, hint domain.Phase) (View, error) {
	ctx, done, err := m.begin(ctx, "hydrate")
	if err != nil {
		return View{}, err
	}
	defer done()

	h, err := hydrate(ctx, m.backend, m.sessionID, hint)
	if err != nil {
		return View{}, err
	}

	err = m.commit(func() {
		if h.roadmap != "" {
			m.roadmap = h.roadmap
		}
		m.applyReply(h.reply, false)
		if h.taskFetched {
			m.task = h.task
			m.tasksDone = h.task == nil
		}
		m.hydrated = true
	})
	if err != nil {
		return View{}, err
	}
	return m.View(), nil
}

// Hydrated reports whether Hydrate has completed once.
func (m *Machine) Hydrated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hydrated
}

// Submit sends an answer. The answer is appended to the history before the
// call and removed again if the call fails; the returned *SubmitError then
// carries the answer so the input can be restored.
func (m *Machine) Submit(ctx context.Context, answer string) (View, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return View{}, &SubmitError{Answer: answer, Err: ErrEmptyAnswer}
	}

	ctx, done, err := m.begin(ctx, "submit", chatStates...)
	if err != nil {
		return View{}, &SubmitError{Answer: answer, Err: err}
	}
	defer done()

	var mark int
	err = m.commit(func() {
		mark = len(m.history)
		m.history = append(m.history, domain.HistoryEntry{
			Question:       m.question,
			Answer:         answer,
			QuestionNumber: m.questionNumber,
			AnsweredAt:     m.opts.Now(),
		})
		m.banner = ""
	})
	if err != nil {
		return View{}, &SubmitError{Answer: answer, Err: err}
	}

	reply, err := m.backend.Chat(ctx, m.sessionID, answer)
	if err != nil {
		_ = m.commit(func() { m.history = m.history[:mark] })
		m.opts.Logger.Debug("Answer rolled back", "session_id", m.sessionID, "error", err)
		return View{}, &SubmitError{Answer: answer, Err: err}
	}

	if err := m.commit(func() { m.applyReply(reply, true) }); err != nil {
		return View{}, err
	}
	return m.View(), nil
}

// UploadBusinessPlan sends an existing plan document instead of answering
// the business plan questions one by one.
func (m *Machine) UploadBusinessPlan(ctx context.Context, filename string, file io.Reader) (View, error) {
	ctx, done, err := m.begin(ctx, "upload business plan", domain.PhaseKYC, domain.PhaseBusinessPlan)
	if err != nil {
		return View{}, err
	}
	defer done()

	reply, err := m.backend.UploadBusinessPlan(ctx, m.sessionID, filename, file)
	if err != nil {
		return View{}, err
	}
	if err := m.commit(func() { m.applyReply(reply, true) }); err != nil {
		return View{}, err
	}
	return m.View(), nil
}

// GeneratePlan fetches the written business plan document.
func (m *Machine) GeneratePlan(ctx context.Context) (View, error) {
	ctx, done, err := m.begin(ctx, "generate plan",
		domain.PhaseBusinessPlan, domain.PhasePlanToRoadmapTransition, domain.PhaseRoadmap,
		domain.PhaseRoadmapToImplementationTransition, domain.PhaseImplementation)
	if err != nil {
		return View{}, err
	}
	defer done()

	plan, err := m.backend.GeneratePlan(ctx, m.sessionID)
	if err != nil {
		return View{}, err
	}
	if err := m.commit(func() { m.businessPlan = plan }); err != nil {
		return View{}, err
	}
	return m.View(), nil
}

// Approve accepts the business plan summary. On success the roadmap is
// shown instead of the chat.
func (m *Machine) Approve(ctx context.Context) (View, error) {
	ctx, done, err := m.begin(ctx, "approve", domain.PhasePlanToRoadmapTransition)
	if err != nil {
		return View{}, err
	}
	defer done()

	reply, err := m.backend.TransitionDecision(ctx, m.sessionID, angel.DecisionApprove)
	if err != nil {
		return View{}, err
	}

	roadmap := ""
	if out, ok := reply.Outcome.(angel.RoadmapGenerated); ok {
		roadmap = out.Roadmap
	} else {
		// The decision only started generation; fetch the result.
		if roadmap, err = m.backend.RoadmapPlan(ctx, m.sessionID); err != nil {
			return View{}, err
		}
	}

	err = m.commit(func() {
		m.progress = reply.Progress
		m.enterRoadmap(roadmap)
	})
	if err != nil {
		return View{}, err
	}
	return m.View(), nil
}

// Revisit rejects the summary and re-enters the business plan questions at
// the first question.
func (m *Machine) Revisit(ctx context.Context) (View, error) {
	ctx, done, err := m.begin(ctx, "revisit", domain.PhasePlanToRoadmapTransition)
	if err != nil {
		return View{}, err
	}
	defer done()

	reply, err := m.backend.TransitionDecision(ctx, m.sessionID, angel.DecisionRevisit)
	if err != nil {
		return View{}, err
	}

	err = m.commit(func() {
		m.transition = nil
		m.progress = reply.Progress
		m.state = domain.PhaseBusinessPlan
		m.setQuestion(reply)
	})
	if err != nil {
		return View{}, err
	}
	return m.View(), nil
}

// GenerateRoadmap fetches the roadmap for display.
func (m *Machine) GenerateRoadmap(ctx context.Context) (View, error) {
	ctx, done, err := m.begin(ctx, "generate roadmap",
		domain.PhaseRoadmap, domain.PhaseRoadmapToImplementationTransition, domain.PhaseImplementation)
	if err != nil {
		return View{}, err
	}
	defer done()

	roadmap, err := m.backend.RoadmapPlan(ctx, m.sessionID)
	if err != nil {
		return View{}, err
	}
	err = m.commit(func() {
		if m.state == domain.PhaseRoadmap {
			m.enterRoadmap(roadmap)
			return
		}
		m.roadmap = roadmap
	})
	if err != nil {
		return View{}, err
	}
	return m.View(), nil
}

// EditRoadmap stores the user's edited roadmap.
func (m *Machine) EditRoadmap(ctx context.Context, content string) (View, error) {
	ctx, done, err := m.begin(ctx, "edit roadmap", domain.PhaseRoadmap)
	if err != nil {
		return View{}, err
	}
	defer done()

	if err := m.backend.UpdateRoadmap(ctx, m.sessionID, content); err != nil {
		return View{}, err
	}
	if err := m.commit(func() { m.enterRoadmap(content) }); err != nil {
		return View{}, err
	}
	return m.View(), nil
}

// RequestImplementation asks for the roadmap-to-implementation hand-off.
func (m *Machine) RequestImplementation(ctx context.Context) (View, error) {
	ctx, done, err := m.begin(ctx, "request implementation", domain.PhaseRoadmap)
	if err != nil {
		return View{}, err
	}
	defer done()

	ready, err := m.backend.RoadmapToImplementation(ctx, m.sessionID)
	if err != nil {
		return View{}, err
	}
	err = m.commit(func() {
		content := ready.Roadmap
		if content == "" {
			content = m.roadmap
		}
		m.state = domain.PhaseRoadmapToImplementationTransition
		m.transition = &domain.Transition{Kind: domain.TransitionRoadmapToImplementation, RoadmapContent: content}
		m.opts.Observer.TransitionEntered(domain.TransitionRoadmapToImplementation)
	})
	if err != nil {
		return View{}, err
	}
	return m.View(), nil
}

// StartImplementation issues the final start call and loads the first task.
func (m *Machine) StartImplementation(ctx context.Context) (View, error) {
	ctx, done, err := m.begin(ctx, "start implementation", domain.PhaseRoadmapToImplementationTransition)
	if err != nil {
		return View{}, err
	}
	defer done()

	progress, err := m.backend.StartImplementation(ctx, m.sessionID)
	if err != nil {
		return View{}, err
	}
	if err := m.commit(func() {
		m.progress = progress
		m.transition = nil
		m.state = progress.Phase
	}); err != nil {
		return View{}, err
	}

	if progress.Phase == domain.PhaseImplementation {
		task, err := m.backend.CurrentTask(ctx, m.sessionID)
		if err != nil {
			return View{}, err
		}
		if err := m.commit(func() { m.setTask(task) }); err != nil {
			return View{}, err
		}
	}
	return m.View(), nil
}

// CurrentTask refreshes the current implementation task. A nil task means
// implementation is complete.
func (m *Machine) CurrentTask(ctx context.Context) (View, error) {
	ctx, done, err := m.begin(ctx, "current task", domain.PhaseImplementation)
	if err != nil {
		return View{}, err
	}
	defer done()

	task, err := m.backend.CurrentTask(ctx, m.sessionID)
	if err != nil {
		return View{}, err
	}
	if err := m.commit(func() { m.setTask(task) }); err != nil {
		return View{}, err
	}
	return m.View(), nil
}

// CompleteTask marks taskID done and loads the next task.
func (m *Machine) CompleteTask(ctx context.Context, taskID string) (View, error) {
	ctx, done, err := m.begin(ctx, "complete task", domain.PhaseImplementation)
	if err != nil {
		return View{}, err
	}
	defer done()

	if err := m.backend.CompleteTask(ctx, m.sessionID, taskID); err != nil {
		return View{}, err
	}
	task, err := m.backend.CurrentTask(ctx, m.sessionID)
	if err != nil {
		return View{}, err
	}
	if err := m.commit(func() { m.setTask(task) }); err != nil {
		return View{}, err
	}
	return m.View(), nil
}

// applyReply moves the machine according to a chat-shaped reply. exchange
// is false for hydration, which is not a user exchange.
// Callers hold m.mu.
func (m *Machine) applyReply(reply *angel.ChatReply, exchange bool) {
	prev := m.progress.Phase
	m.progress = reply.Progress
	m.webSearch = reply.WebSearch
	m.immediateResponse = reply.ImmediateResponse
	if exchange {
		m.opts.Observer.ExchangeCompleted(reply.Progress.Phase)
	}

	switch out := reply.Outcome.(type) {
	case angel.PlanToRoadmap:
		m.state = domain.PhasePlanToRoadmapTransition
		m.businessPlan = out.Summary
		m.transition = &domain.Transition{Kind: domain.TransitionPlanToRoadmap, BusinessPlanSummary: out.Summary}
		m.opts.Observer.TransitionEntered(domain.TransitionPlanToRoadmap)
	case angel.RoadmapGenerated:
		m.enterRoadmap(out.Roadmap)
	case angel.ImplementationReady:
		content := out.Roadmap
		if content == "" {
			content = m.roadmap
		}
		m.state = domain.PhaseRoadmapToImplementationTransition
		m.transition = &domain.Transition{Kind: domain.TransitionRoadmapToImplementation, RoadmapContent: content}
		m.opts.Observer.TransitionEntered(domain.TransitionRoadmapToImplementation)
	case angel.KYCToBusinessPlan:
		m.enterBusinessPlan()
		m.setQuestion(reply)
	default:
		if exchange && m.implicitKYCTransition(prev, reply.Progress) {
			m.enterBusinessPlan()
		} else {
			m.state = reply.Progress.Phase
			m.restoreTransitionView(reply)
		}
		m.setQuestion(reply)
	}
}

// restoreTransitionView keeps the transition view consistent with a state
// reached without an explicit transition payload, as after hydration.
func (m *Machine) restoreTransitionView(reply *angel.ChatReply) {
	switch m.state {
	case domain.PhasePlanToRoadmapTransition:
		if m.transition == nil || m.transition.Kind != domain.TransitionPlanToRoadmap {
			m.businessPlan = reply.Reply
			m.transition = &domain.Transition{Kind: domain.TransitionPlanToRoadmap, BusinessPlanSummary: reply.Reply}
		}
	case domain.PhaseRoadmap:
		if m.roadmap != "" {
			m.transition = &domain.Transition{Kind: domain.TransitionRoadmapGenerated, RoadmapContent: m.roadmap}
		}
	case domain.PhaseRoadmapToImplementationTransition:
		m.transition = &domain.Transition{Kind: domain.TransitionRoadmapToImplementation, RoadmapContent: m.roadmap}
	default:
		m.transition = nil
	}
}

// implicitKYCTransition is the fallback for backends that do not flag the
// KYC to business plan move. It can only fire on the reply that leaves KYC.
func (m *Machine) implicitKYCTransition(prev domain.Phase, p domain.Progress) bool {
	return m.opts.ImplicitKYCTransition &&
		prev == domain.PhaseKYC &&
		p.Phase == domain.PhaseBusinessPlan &&
		p.Answered == 0
}

func (m *Machine) enterBusinessPlan() {
	m.state = domain.PhaseBusinessPlan
	m.transition = nil
	m.banner = domain.TransitionKYCToBusinessPlan
	m.opts.Observer.TransitionEntered(domain.TransitionKYCToBusinessPlan)
}

func (m *Machine) enterRoadmap(roadmap string) {
	m.state = domain.PhaseRoadmap
	m.roadmap = roadmap
	m.transition = &domain.Transition{Kind: domain.TransitionRoadmapGenerated, RoadmapContent: roadmap}
	m.opts.Observer.TransitionEntered(domain.TransitionRoadmapGenerated)
}

func (m *Machine) setQuestion(reply *angel.ChatReply) {
	m.rawQuestion = reply.Reply
	m.question = normalize.Clean(reply.Reply)
	m.showAcceptModify = normalize.ShowAcceptModify(reply.ShowAcceptModify, reply.Reply)

	m.questionNumber = nil
	if reply.QuestionNumber != nil {
		n := *reply.QuestionNumber
		m.questionNumber = &n
	} else if n, ok := normalize.QuestionNumber(reply.Reply, reply.Progress.Phase, len(m.history)); ok {
		m.questionNumber = &n
	}
}

func (m *Machine) setTask(task *domain.Task) {
	m.task = task
	m.tasksDone = task == nil
}
