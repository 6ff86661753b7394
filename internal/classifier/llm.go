package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/spec-kit/sap-ticketing/internal/config"
	"github.com/spec-kit/sap-ticketing/internal/domain"
	"github.com/spec-kit/sap-ticketing/pkg/util"
)

// MaxPromptBodyChars bounds how much of the email body is sent to the model.
const MaxPromptBodyChars = 3000

const systemPrompt = `You are an SAP support ticket classifier. Analyze emails and determine:
1. If it's related to SAP systems
2. Which SAP module it belongs to (MM, SD, FICO, PP, HCM, PM, QM, WM, PS, BW, ABAP, BASIS, or OTHER)
3. The priority level (Low, Medium, High, Critical)
4. A concise ticket title
5. Key points from the email

Respond ONLY with valid JSON in this exact format:
{
    "is_sap_related": true/false,
    "confidence": 0.0-1.0,
    "category": "MM/SD/FICO/PP/HCM/PM/QM/WM/PS/BW/ABAP/BASIS/OTHER",
    "priority": "Low/Medium/High/Critical",
    "suggested_title": "Brief descriptive title",
    "key_points": ["point 1", "point 2", "point 3"]
}`

// ChatCompleter is the slice of the OpenAI-compatible client the classifier
// needs. *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMClassifier classifies emails through a chat-completion backend. Any
// OpenAI-compatible endpoint works via the configurable base URL.
type LLMClassifier struct {
	client      ChatCompleter
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	logger      *zap.Logger
}

// NewLLMClassifier constructs a classifier from config.
func NewLLMClassifier(cfg config.LLMConfig, logger *zap.Logger) *LLMClassifier {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMClassifier{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		logger:      logger,
	}
}

type llmResult struct {
	IsSAPRelated   bool     `json:"is_sap_related"`
	Confidence     float64  `json:"confidence"`
	Category       string   `json:"category"`
	Priority       string   `json:"priority"`
	SuggestedTitle string   `json:"suggested_title"`
	KeyPoints      []string `json:"key_points"`
}

// Classify sends the email to the model and parses its structured verdict.
// Transport failures surface as ErrUnavailable, undecodable output as
// *ParseError; both are recoverable via the keyword fallback.
func (c *LLMClassifier) Classify(ctx context.Context, subject, body, sender string) (*Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(subject, body, sender)},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		c.logger.Warn("chat completion failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	raw, result, err := parseResponse(content)
	if err != nil {
		c.logger.Warn("unparseable classifier response", zap.String("response", content))
		return nil, err
	}

	return verdictFromResult(raw, result), nil
}

func buildPrompt(subject, body, sender string) string {
	truncated := util.TruncateRunes(body, MaxPromptBodyChars)
	if truncated != body {
		truncated += "..."
	}
	return fmt.Sprintf(`Analyze this email for SAP support ticket creation:

FROM: %s
SUBJECT: %s

BODY:
%s

Determine if this is SAP-related, classify the module, assess priority, and suggest a ticket title.`, sender, subject, truncated)
}

// parseResponse tries a direct decode, then looks for a JSON object embedded
// in surrounding prose. Guessing beyond that is not attempted.
func parseResponse(content string) (json.RawMessage, *llmResult, error) {
	var result llmResult
	if err := json.Unmarshal([]byte(content), &result); err == nil {
		return json.RawMessage(content), &result, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		candidate := content[start : end+1]
		if err := json.Unmarshal([]byte(candidate), &result); err == nil {
			return json.RawMessage(candidate), &result, nil
		}
	}
	return nil, nil, &ParseError{Raw: content, Err: fmt.Errorf("no JSON object in model output")}
}

func verdictFromResult(raw json.RawMessage, result *llmResult) *Verdict {
	var category *domain.TicketCategory
	if result.IsSAPRelated && result.Category != "" {
		cat := domain.TicketCategory(strings.ToUpper(result.Category))
		if !domain.ValidCategory(string(cat)) {
			cat = domain.CategoryOther
		}
		category = &cat
	}

	priority := domain.TicketPriorityMedium
	switch domain.TicketPriority(result.Priority) {
	case domain.TicketPriorityLow, domain.TicketPriorityMedium,
		domain.TicketPriorityHigh, domain.TicketPriorityCritical:
		priority = domain.TicketPriority(result.Priority)
	}

	keyPoints := result.KeyPoints
	if keyPoints == nil {
		keyPoints = []string{}
	}

	return &Verdict{
		IsRelevant:        result.IsSAPRelated,
		Confidence:        result.Confidence,
		Category:          category,
		SuggestedTitle:    result.SuggestedTitle,
		SuggestedPriority: priority,
		KeyPoints:         keyPoints,
		Raw:               raw,
		Provenance:        ProvenanceModel,
	}
}
