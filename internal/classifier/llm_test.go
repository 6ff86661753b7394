package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sap-ticketing/internal/domain"
)

type stubCompleter struct {
	content string
	err     error
}

func (s *stubCompleter) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func newTestLLM(stub *stubCompleter) *LLMClassifier {
	return &LLMClassifier{
		client:    stub,
		model:     "gpt-4o-mini",
		maxTokens: 1000,
		timeout:   time.Second,
		logger:    zap.NewNop(),
	}
}

func TestLLMClassifierParsesDirectJSON(t *testing.T) {
	c := newTestLLM(&stubCompleter{content: `{
		"is_sap_related": true,
		"confidence": 0.92,
		"category": "SD",
		"priority": "High",
		"suggested_title": "Sales order stuck in billing",
		"key_points": ["billing block", "order 4711"]
	}`})

	verdict, err := c.Classify(context.Background(), "subj", "body", "a@b.com")
	require.NoError(t, err)

	assert.True(t, verdict.IsRelevant)
	assert.InDelta(t, 0.92, verdict.Confidence, 1e-9)
	require.NotNil(t, verdict.Category)
	assert.Equal(t, domain.CategorySD, *verdict.Category)
	assert.Equal(t, domain.TicketPriorityHigh, verdict.SuggestedPriority)
	assert.Equal(t, "Sales order stuck in billing", verdict.SuggestedTitle)
	assert.Equal(t, []string{"billing block", "order 4711"}, verdict.KeyPoints)
	assert.Equal(t, ProvenanceModel, verdict.Provenance)
}

func TestLLMClassifierFindsEmbeddedJSON(t *testing.T) {
	c := newTestLLM(&stubCompleter{content: "Here is my analysis:\n" +
		`{"is_sap_related": true, "confidence": 0.7, "category": "MM", "priority": "Medium", "suggested_title": "GR issue", "key_points": []}` +
		"\nLet me know if you need more."})

	verdict, err := c.Classify(context.Background(), "subj", "body", "a@b.com")
	require.NoError(t, err)
	require.NotNil(t, verdict.Category)
	assert.Equal(t, domain.CategoryMM, *verdict.Category)
}

func TestLLMClassifierParseFailure(t *testing.T) {
	c := newTestLLM(&stubCompleter{content: "I cannot classify this email."})

	_, err := c.Classify(context.Background(), "subj", "body", "a@b.com")
	require.Error(t, err)

	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
	assert.True(t, Recoverable(err))
}

func TestLLMClassifierTransportFailure(t *testing.T) {
	c := newTestLLM(&stubCompleter{err: errors.New("connection refused")})

	_, err := c.Classify(context.Background(), "subj", "body", "a@b.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, Recoverable(err))
}

func TestLLMClassifierUnknownCategoryMapsToOther(t *testing.T) {
	c := newTestLLM(&stubCompleter{content: `{"is_sap_related": true, "confidence": 0.8, "category": "NOPE", "priority": "Weird", "suggested_title": "t", "key_points": null}`})

	verdict, err := c.Classify(context.Background(), "subj", "body", "a@b.com")
	require.NoError(t, err)
	require.NotNil(t, verdict.Category)
	assert.Equal(t, domain.CategoryOther, *verdict.Category)
	assert.Equal(t, domain.TicketPriorityMedium, verdict.SuggestedPriority)
	assert.NotNil(t, verdict.KeyPoints)
}

func TestLLMClassifierCategoryNilWhenNotRelevant(t *testing.T) {
	c := newTestLLM(&stubCompleter{content: `{"is_sap_related": false, "confidence": 0.3, "category": "MM", "priority": "Low", "suggested_title": "t", "key_points": []}`})

	verdict, err := c.Classify(context.Background(), "subj", "body", "a@b.com")
	require.NoError(t, err)
	assert.False(t, verdict.IsRelevant)
	assert.Nil(t, verdict.Category)
}

func TestBuildPromptTruncationKeepsValidUTF8(t *testing.T) {
	body := strings.Repeat("é", MaxPromptBodyChars+100)
	prompt := buildPrompt("subj", body, "a@b.com")
	assert.True(t, utf8.ValidString(prompt))
}

func TestBuildPromptTruncatesBody(t *testing.T) {
	body := make([]byte, MaxPromptBodyChars+500)
	for i := range body {
		body[i] = 'a'
	}
	prompt := buildPrompt("subj", string(body), "a@b.com")
	assert.Contains(t, prompt, "...")
	assert.Less(t, len(prompt), MaxPromptBodyChars+300)
}
