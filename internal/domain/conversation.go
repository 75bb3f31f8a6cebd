package domain

import (
	"time"
)

// HistoryEntry is one answered question. History lives only in memory.
type HistoryEntry struct {
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	QuestionNumber *int      `json:"question_number,omitempty"`
	AnsweredAt     time.Time `json:"answered_at"`
}

// TransitionKind names the transition view being shown instead of the chat.
type TransitionKind string

const (
	TransitionKYCToBusinessPlan       TransitionKind = "KYC_TO_BUSINESS_PLAN"
	TransitionPlanToRoadmap           TransitionKind = "PLAN_TO_ROADMAP"
	TransitionRoadmapGenerated        TransitionKind = "ROADMAP_GENERATED"
	TransitionRoadmapToImplementation TransitionKind = "ROADMAP_TO_IMPLEMENTATION"
)

// Transition is the transient payload shown in place of the chat view.
// It is cleared when the user picks an action.
type Transition struct {
	Kind                TransitionKind `json:"transition_phase"`
	BusinessPlanSummary string         `json:"business_plan_summary,omitempty"`
	RoadmapContent      string         `json:"roadmap_content,omitempty"`
}

// VentureSummary describes one venture chat session on the backend.
type VentureSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CurrentPhase Phase     `json:"current_phase,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Task is an implementation-phase task.
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Purpose     string   `json:"purpose,omitempty"`
	Milestone   string   `json:"milestone,omitempty"`
	Options     []string `json:"options,omitempty"`
	Status      string   `json:"status,omitempty"`
}
