package normalize

import (
	"strings"

	"github.com/ashureev/angel-console/internal/domain"
)

// legacyKYCQuestions maps fragments of the fixed KYC question copy to their
// ordinals, for replies that carry neither a tag nor a "Question N of M"
// marker. Any change to the backend copy silently breaks this table.
//
// TODO: delete once every backend deployment emits [[Q:...]] tags.
var legacyKYCQuestions = []struct {
	fragment string
	ordinal  int
}{
	{"what's your name", 1},
	{"what is your name", 1},
	{"started a business before", 2},
	{"comfortable are you with business planning", 3},
	{"what kind of business", 4},
	{"what type of business", 4},
	{"rate your skills", 5},
	{"where is your business located", 6},
	{"where will your business operate", 6},
	{"how much time can you", 7},
	{"startup budget", 8},
	{"what is your budget", 8},
	{"what motivates you", 9},
	{"biggest challenge", 10},
}

var introductionMarkers = []string{
	"welcome to angel",
	"i'm angel",
	"i am angel",
	"let's get started on your journey",
}

// legacyQuestionNumber is the compatibility lookup for untagged replies.
// Introduction text never has an ordinal.
func legacyQuestionNumber(raw string, phase domain.Phase, historyLen int) (int, bool) {
	lower := strings.ToLower(Clean(raw))
	for _, marker := range introductionMarkers {
		if strings.Contains(lower, marker) {
			return 0, false
		}
	}

	if phase == domain.PhaseKYC {
		for _, q := range legacyKYCQuestions {
			if strings.Contains(lower, q.fragment) {
				return q.ordinal, true
			}
		}
	}

	if (phase == domain.PhaseKYC || phase == domain.PhaseBusinessPlan) && strings.Contains(lower, "?") {
		return historyLen + 1, true
	}
	return 0, false
}
