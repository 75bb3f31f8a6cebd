package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanStripsTagsAndMarkdown(t *testing.T) {
	raw := "[[Q:KYC.03]] ## Your Background\n\n**How comfortable** are you with *business planning*?"

	got := Clean(raw)

	assert.Equal(t, "Your Background\n\nHow comfortable are you with business planning?", got)
}

func TestCleanNormalizesLists(t *testing.T) {
	raw := "Options:\n- first\n* second\n+ third\n1) one\n2.   two"

	got := Clean(raw)

	assert.Equal(t, "Options:\n• first\n• second\n• third\n1. one\n2. two", got)
}

func TestCleanCollapsesWhitespace(t *testing.T) {
	raw := "Hello     world\n\n\n\n\nNext  part   here   \n"

	got := Clean(raw)

	assert.Equal(t, "Hello world\n\nNext  part here", got)
}

func TestCleanJoinsStrandedQuestionMark(t *testing.T) {
	raw := "What is the main problem your business solves\n\n?"

	assert.Equal(t, "What is the main problem your business solves?", Clean(raw))
}

func TestCleanRemovesRatingLegend(t *testing.T) {
	raw := "Please rate your skills from 1 to 5 in each area:\n1 - Beginner\n2 - Basic\n3 - Intermediate\n4 - Advanced\n5 - Expert\n\nTake your time."

	got := Clean(raw)

	assert.Equal(t, "Please rate your skills from 1 to 5 in each area:\n\nTake your time.", got)
}

func TestCleanRemovesChoiceOptions(t *testing.T) {
	raw := "Which stage is your business in? Select one option:\nA) Idea\nB) Prototype\nC) Revenue"

	got := Clean(raw)

	assert.Equal(t, "Which stage is your business in? Select one option:", got)
}

func TestCleanKeepsNumberedListsOutsideRatingContext(t *testing.T) {
	raw := "Next steps:\n1. Register the company\n2. Open a bank account"

	assert.Equal(t, raw, Clean(raw))
}

func TestCleanIsIdempotent(t *testing.T) {
	inputs := []string{
		"[[Q:BUSINESS_PLAN.12]] **Pricing**\n\n\n\n- tiered\n-  flat   fee\n?",
		"*- nested marker\n# Heading\n## Sub\n",
		"Please rate your comfort on a scale of 1 to 5:\n• 1 - low\n• 5 - high",
		"Choose all that apply:\n[ ] Online\n[x] Retail\nplain text",
		"",
		"   \n\n  ",
		"Question 3 of 20\n\nWhat   is your *target* market\n?",
	}

	for _, in := range inputs {
		once := Clean(in)
		assert.Equal(t, once, Clean(once), "input %q", in)
	}
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "**Keep** markdown", StripTags("[[Q:KYC.01]] **Keep** markdown"))
}
