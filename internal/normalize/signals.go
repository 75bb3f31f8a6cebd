package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/angel-console/internal/domain"
)

var (
	questionOfRe = regexp.MustCompile(`(?i)\bquestion\s+(\d+)\s+of\s+(\d+)\b`)
	listLineRe   = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+•]|\d{1,3}[.)])[ \t]+`)
)

// QuestionNumber extracts the question ordinal from raw reply text. The
// machine tag wins, then a "Question N of M" marker, then the legacy lookup.
func QuestionNumber(raw string, phase domain.Phase, historyLen int) (int, bool) {
	if m := questionTagRe.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil {
			return n, true
		}
	}
	if m := questionOfRe.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
	}
	return legacyQuestionNumber(raw, phase, historyLen)
}

var verificationPhrases = []string{
	"does this look correct",
	"does this look accurate",
	"is this accurate",
	"is this correct",
	"please review",
	"please verify",
	"accept or modify",
	"accept this",
	"would you like to modify",
	"would you like to make any changes",
	"confirm this",
}

var summaryKeywords = []string{
	"summary",
	"draft",
	"here's what",
	"here is what",
	"based on your",
	"recommendation",
}

// ShowAcceptModify decides whether accept/modify controls should be shown.
// An explicit backend value always wins; heuristics apply only without one.
func ShowAcceptModify(explicit *bool, raw string) bool {
	if explicit != nil {
		return *explicit
	}

	lower := strings.ToLower(raw)
	for _, phrase := range verificationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}

	emphasis := strings.Count(raw, "**") / 2
	lists := len(listLineRe.FindAllStringIndex(raw, -1))
	if emphasis >= 3 && lists >= 3 {
		for _, kw := range summaryKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}
