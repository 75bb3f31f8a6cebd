// Package normalize turns raw backend reply text into display text and
// extracts the structured signals the conversation view needs.
//
// Everything here is a pure function of its input.
package normalize

import (
	"regexp"
	"strings"
)

// maxPasses bounds the fixed-point loop in Clean.
const maxPasses = 4

var (
	questionTagRe  = regexp.MustCompile(`\[\[Q:([A-Z_]+)\.(\d+)\]\]`)
	headingRe      = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]*`)
	bulletRe       = regexp.MustCompile(`(?m)^[ \t]*[-*+•][ \t]+`)
	numberedRe     = regexp.MustCompile(`(?m)^[ \t]*(\d{1,3})[.)][ \t]+`)
	emphasisRe     = regexp.MustCompile(`\*+`)
	strandedMarkRe = regexp.MustCompile(`[ \t]*\n[ \t\n]*\?`)
	trailingWSRe   = regexp.MustCompile(`(?m)[ \t]+$`)
	manyNewlinesRe = regexp.MustCompile(`\n{3,}`)
	manySpacesRe   = regexp.MustCompile(` {3,}`)

	ratingPromptRe = regexp.MustCompile(`(?i)\b(?:rate|rating)\b[^\n]*\b(?:1|one)\b[^\n]*\b(?:5|five)\b|on a scale (?:of|from) 1`)
	ratingLineRe   = regexp.MustCompile(`(?m)^[ \t]*(?:•[ \t]*)?[1-5][ \t]*[-–=:][ \t]+\S[^\n]*$`)
	choicePromptRe = regexp.MustCompile(`(?i)\b(?:select|choose|pick)\b[^\n]*\b(?:one|all|option|options|following)\b`)
	choiceLineRe   = regexp.MustCompile(`(?m)^[ \t]*(?:•[ \t]*)?(?:[A-Ha-h][.)]|\[[ xX]?\]|○|◯|☐)[ \t]+\S[^\n]*$`)
)

// Clean converts raw reply text into display text. It strips machine tags and
// markdown markers, removes option blocks that structured controls already
// render, and collapses redundant whitespace. Clean(Clean(s)) == Clean(s).
func Clean(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	// Removing markers can expose a new line prefix (e.g. "*- item"), so run
	// to a fixed point.
	for i := 0; i < maxPasses; i++ {
		next := cleanOnce(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func cleanOnce(s string) string {
	s = questionTagRe.ReplaceAllString(s, "")

	s = headingRe.ReplaceAllString(s, "")
	s = bulletRe.ReplaceAllString(s, "• ")
	s = numberedRe.ReplaceAllString(s, "$1. ")
	s = emphasisRe.ReplaceAllString(s, "")

	s = strandedMarkRe.ReplaceAllString(s, "?")
	s = stripControlBlocks(s)

	s = trailingWSRe.ReplaceAllString(s, "")
	s = manySpacesRe.ReplaceAllString(s, " ")
	s = manyNewlinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// stripControlBlocks removes rating legends and multiple-choice option lists
// when the prompt indicates a structured control will render them.
func stripControlBlocks(s string) string {
	if ratingPromptRe.MatchString(s) {
		s = ratingLineRe.ReplaceAllString(s, "")
	}
	if choicePromptRe.MatchString(s) {
		s = choiceLineRe.ReplaceAllString(s, "")
	}
	return s
}

// StripTags removes only the machine-readable question tags.
func StripTags(raw string) string {
	return strings.TrimSpace(questionTagRe.ReplaceAllString(raw, ""))
}
