package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/sap-ticketing/internal/config"
	"github.com/spec-kit/sap-ticketing/internal/domain"
)

// Provenance identifies which classification path produced a verdict.
type Provenance string

const (
	ProvenanceModel   Provenance = "llm"
	ProvenanceKeyword Provenance = "keyword"
)

// Verdict is the structured outcome of classifying one email. Category is
// nil whenever IsRelevant is false.
type Verdict struct {
	IsRelevant        bool
	Confidence        float64
	Category          *domain.TicketCategory
	SuggestedTitle    string
	SuggestedPriority domain.TicketPriority
	KeyPoints         []string
	Raw               json.RawMessage
	Provenance        Provenance
}

// Classifier turns an email into a Verdict.
type Classifier interface {
	Classify(ctx context.Context, subject, body, sender string) (*Verdict, error)
}

// ErrUnavailable signals that the model backend could not be reached or
// answered with garbage. The orchestrator retries such failures once with
// the keyword fallback.
var ErrUnavailable = errors.New("classification backend unavailable")

// ParseError reports a model response that could not be decoded into the
// verdict schema.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse classifier response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether err should trigger the keyword fallback.
func Recoverable(err error) bool {
	var parseErr *ParseError
	return errors.Is(err, ErrUnavailable) || errors.As(err, &parseErr)
}

// NewFromConfig builds the primary classifier and the keyword fallback the
// orchestrator retries with. Without a configured API key the keyword
// classifier serves as primary as well.
func NewFromConfig(cfg config.LLMConfig, logger *zap.Logger) (Classifier, *KeywordClassifier) {
	fallback := NewKeywordClassifier()
	if !cfg.Configured() {
		logger.Info("llm not configured, using keyword classification")
		return fallback, fallback
	}
	logger.Info("llm classifier initialized",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model))
	return NewLLMClassifier(cfg, logger), fallback
}
