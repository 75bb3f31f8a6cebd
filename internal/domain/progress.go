package domain

import (
	"fmt"
)

// Phase is a conversation phase as reported by the backend.
type Phase string

const (
	PhaseKYC                               Phase = "KYC"
	PhaseBusinessPlan                      Phase = "BUSINESS_PLAN"
	PhasePlanToRoadmapTransition           Phase = "PLAN_TO_ROADMAP_TRANSITION"
	PhaseRoadmap                           Phase = "ROADMAP"
	PhaseRoadmapToImplementationTransition Phase = "ROADMAP_TO_IMPLEMENTATION_TRANSITION"
	PhaseImplementation                    Phase = "IMPLEMENTATION"
)

var knownPhases = map[Phase]struct{}{
	PhaseKYC:                               {},
	PhaseBusinessPlan:                      {},
	PhasePlanToRoadmapTransition:           {},
	PhaseRoadmap:                           {},
	PhaseRoadmapToImplementationTransition: {},
	PhaseImplementation:                    {},
}

// ParsePhase validates a phase string against the fixed enumeration.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if _, ok := knownPhases[p]; !ok {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// PhaseBreakdown is the per-phase progress detail some replies carry.
type PhaseBreakdown struct {
	Phase    Phase `json:"phase"`
	Answered int   `json:"answered"`
	Total    int   `json:"total"`
	Percent  int   `json:"percent"`
}

// OverallProgress summarises progress across all phases.
type OverallProgress struct {
	Answered int `json:"answered"`
	Total    int `json:"total"`
	Percent  int `json:"percent"`
}

// Progress is server-authoritative conversation progress. It is replaced
// wholesale on every reply and never computed locally.
type Progress struct {
	Phase          Phase            `json:"phase"`
	Answered       int              `json:"answered"`
	Total          int              `json:"total"`
	Percent        int              `json:"percent"`
	PhaseBreakdown []PhaseBreakdown `json:"phase_breakdown,omitempty"`
	Overall        *OverallProgress `json:"overall_progress,omitempty"`
}

// ClampPercent bounds a percentage to [0, 100].
func ClampPercent(v float64) int {
	switch {
	case v != v: // NaN
		return 0
	case v <= 0:
		return 0
	case v >= 100:
		return 100
	default:
		return int(v + 0.5)
	}
}

// Label renders the progress indicator text, e.g. "42%".
func (p Progress) Label() string {
	return fmt.Sprintf("%d%%", ClampPercent(float64(p.Percent)))
}
