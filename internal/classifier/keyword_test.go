package classifier

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/sap-ticketing/internal/domain"
)

func TestKeywordClassifierDetectsModule(t *testing.T) {
	c := NewKeywordClassifier()

	verdict, err := c.Classify(context.Background(),
		"Purchase order PO-5001 goods receipt failing",
		"goods receipt is not posting correctly",
		"a@b.com")
	require.NoError(t, err)

	assert.True(t, verdict.IsRelevant)
	assert.Equal(t, relevantConfidence, verdict.Confidence)
	require.NotNil(t, verdict.Category)
	assert.Equal(t, domain.CategoryMM, *verdict.Category)
	assert.Equal(t, ProvenanceKeyword, verdict.Provenance)
	assert.Empty(t, verdict.KeyPoints)
}

func TestKeywordClassifierNotRelevant(t *testing.T) {
	c := NewKeywordClassifier()

	verdict, err := c.Classify(context.Background(),
		"Lunch on Friday?",
		"Shall we grab tacos at noon?",
		"a@b.com")
	require.NoError(t, err)

	assert.False(t, verdict.IsRelevant)
	assert.Equal(t, irrelevantConfidence, verdict.Confidence)
	assert.Nil(t, verdict.Category)
	assert.Equal(t, domain.TicketPriorityMedium, verdict.SuggestedPriority)
}

func TestKeywordClassifierIndicatorWithoutModuleScore(t *testing.T) {
	c := NewKeywordClassifier()

	verdict, err := c.Classify(context.Background(),
		"Question about our ERP rollout", "", "a@b.com")
	require.NoError(t, err)

	assert.True(t, verdict.IsRelevant)
	assert.Equal(t, relevantConfidence, verdict.Confidence)
	assert.Nil(t, verdict.Category)
}

func TestKeywordClassifierPriorityPrecedence(t *testing.T) {
	c := NewKeywordClassifier()

	// Critical outranks High and Low phrases in the same email.
	verdict, err := c.Classify(context.Background(),
		"SAP issue",
		"This is urgent and important but also nice to have",
		"a@b.com")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityCritical, verdict.SuggestedPriority)

	verdict, err = c.Classify(context.Background(),
		"SAP issue", "important, affecting multiple users", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityHigh, verdict.SuggestedPriority)

	verdict, err = c.Classify(context.Background(),
		"SAP issue", "minor cosmetic glitch, no rush", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityLow, verdict.SuggestedPriority)
}

func TestKeywordClassifierEarlierCategoryWinsTies(t *testing.T) {
	c := NewKeywordClassifier()

	// "vendor" scores 1 for MM and "delivery" scores 1 for SD. MM is
	// declared first and must win the tie.
	verdict, err := c.Classify(context.Background(),
		"SAP question", "vendor delivery", "a@b.com")
	require.NoError(t, err)

	require.NotNil(t, verdict.Category)
	assert.Equal(t, domain.CategoryMM, *verdict.Category)
}

func TestKeywordClassifierTitleDefaults(t *testing.T) {
	c := NewKeywordClassifier()

	verdict, err := c.Classify(context.Background(), "", "sap body", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, defaultTitle, verdict.SuggestedTitle)

	long := strings.Repeat("x", 300)
	verdict, err = c.Classify(context.Background(), long, "sap body", "a@b.com")
	require.NoError(t, err)
	assert.Len(t, verdict.SuggestedTitle, maxTitleChars)
}

func TestKeywordClassifierTitleTruncationKeepsValidUTF8(t *testing.T) {
	c := NewKeywordClassifier()

	subject := strings.Repeat("ü", maxTitleChars+50)
	verdict, err := c.Classify(context.Background(), subject, "sap body", "a@b.com")
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(verdict.SuggestedTitle))
	assert.Equal(t, maxTitleChars, utf8.RuneCountInString(verdict.SuggestedTitle))
}

func TestKeywordClassifierEmptyInputIsNotAnError(t *testing.T) {
	c := NewKeywordClassifier()

	verdict, err := c.Classify(context.Background(), "", "", "")
	require.NoError(t, err)
	assert.False(t, verdict.IsRelevant)
	assert.NotZero(t, verdict.Confidence)
}
