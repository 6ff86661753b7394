package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/sap-ticketing/internal/classifier"
	"github.com/spec-kit/sap-ticketing/internal/config"
	"github.com/spec-kit/sap-ticketing/internal/domain"
	"github.com/spec-kit/sap-ticketing/internal/events"
	"github.com/spec-kit/sap-ticketing/internal/mail"
	"github.com/spec-kit/sap-ticketing/internal/repository"
	"github.com/spec-kit/sap-ticketing/pkg/util"
)

// CreateThreshold is the minimum classifier confidence required before a
// relevant email becomes a ticket. The comparison is inclusive.
const CreateThreshold = 0.6

// MaxExcerptChars bounds the email body excerpt embedded in a ticket
// description.
const MaxExcerptChars = 2000

// ErrRunInProgress is returned when a run is requested while another is
// still active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// ErrAlreadyTicketed is returned when reprocessing is requested for an
// email that already produced a ticket.
var ErrAlreadyTicketed = errors.New("a ticket already exists for this email")

// Ingestor pulls new messages into the store.
type Ingestor interface {
	Ingest(ctx context.Context) (*mail.IngestResult, error)
}

// TicketCreator turns a classified message into a ticket.
type TicketCreator interface {
	CreateFromVerdict(ctx context.Context, msg *domain.EmailMessage, verdict *classifier.Verdict, description string, actorID int64) (*domain.Ticket, error)
}

// Exporter rebuilds the downstream ticket view after a run.
type Exporter interface {
	Export(ctx context.Context) (int, error)
}

// Stats summarizes one pipeline run.
type Stats struct {
	Fetched        int           `json:"fetched"`
	Analyzed       int           `json:"analyzed"`
	Relevant       int           `json:"relevant"`
	TicketsCreated int           `json:"tickets_created"`
	Skipped        int           `json:"skipped"`
	Errors         int           `json:"errors"`
	Duration       time.Duration `json:"duration"`
}

// RunOptions tune a single run.
type RunOptions struct {
	// FetchFirst pulls new mailbox messages before processing the backlog.
	FetchFirst bool
}

// Processor drives the email-to-ticket pipeline: ingest, classify, create,
// export. At most one run is active at a time.
type Processor struct {
	source     Ingestor
	messages   repository.MessageRepository
	primary    classifier.Classifier
	fallback   *classifier.KeywordClassifier
	tickets    TicketCreator
	exporter   Exporter
	dispatcher events.Dispatcher
	cfg        config.PipelineConfig
	actorID    int64
	logger     *zap.Logger
	running    atomic.Bool
}

// NewProcessor builds a processor. actorID is the system user tickets are
// created by.
func NewProcessor(
	source Ingestor,
	messages repository.MessageRepository,
	primary classifier.Classifier,
	fallback *classifier.KeywordClassifier,
	tickets TicketCreator,
	exporter Exporter,
	dispatcher events.Dispatcher,
	cfg config.PipelineConfig,
	actorID int64,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		source:     source,
		messages:   messages,
		primary:    primary,
		fallback:   fallback,
		tickets:    tickets,
		exporter:   exporter,
		dispatcher: dispatcher,
		cfg:        cfg,
		actorID:    actorID,
		logger:     logger,
	}
}

// Run executes one pipeline pass and returns its stats. Overlapping calls
// are rejected with ErrRunInProgress.
func (p *Processor) Run(ctx context.Context, opts RunOptions) (*Stats, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)

	start := time.Now()
	stats := &Stats{}

	if opts.FetchFirst && p.source != nil {
		result, err := p.source.Ingest(ctx)
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		// duplicates skipped by the dedup check do not count as fetched
		stats.Fetched = len(result.Stored)
	}

	backlog, err := p.messages.ListUnprocessed(ctx, p.cfg.MaxMessages)
	if err != nil {
		return nil, fmt.Errorf("list backlog: %w", err)
	}

	p.processBacklog(ctx, backlog, stats)

	// one export per run; an export failure never fails the run
	if p.exporter != nil {
		if _, err := p.exporter.Export(ctx); err != nil {
			p.logger.Error("ticket export failed", zap.Error(err))
		}
	}

	stats.Duration = time.Since(start)
	p.publishRunCompleted(ctx, stats)
	p.logger.Info("pipeline run completed",
		zap.Int("fetched", stats.Fetched),
		zap.Int("analyzed", stats.Analyzed),
		zap.Int("relevant", stats.Relevant),
		zap.Int("tickets_created", stats.TicketsCreated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// Reprocess classifies a single stored email again, whether or not it was
// processed before, and creates a ticket when warranted. Emails that
// already produced a ticket are rejected with ErrAlreadyTicketed.
func (p *Processor) Reprocess(ctx context.Context, messageID int64) (*domain.EmailMessage, error) {
	msg, err := p.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.TicketCreatedID != nil {
		return nil, ErrAlreadyTicketed
	}

	p.processOne(ctx, msg)
	return p.messages.GetByID(ctx, messageID)
}

func (p *Processor) processBacklog(ctx context.Context, backlog []domain.EmailMessage, stats *Stats) {
	parallelism := p.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, parallelism)
	)
	for i := range backlog {
		msg := backlog[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := p.processOne(ctx, &msg)
			mu.Lock()
			stats.Analyzed++
			switch outcome {
			case outcomeCreated:
				stats.Relevant++
				stats.TicketsCreated++
			case outcomeRelevantSkipped:
				stats.Relevant++
				stats.Skipped++
			case outcomeSkipped:
				stats.Skipped++
			case outcomeError:
				stats.Errors++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeRelevantSkipped
	outcomeCreated
	outcomeError
)

// processOne classifies a single message and, when warranted, creates a
// ticket. The message is always marked processed, error paths included.
func (p *Processor) processOne(ctx context.Context, msg *domain.EmailMessage) outcome {
	verdict, err := p.classify(ctx, msg)
	if err != nil {
		errText := err.Error()
		p.markProcessed(ctx, repository.MarkProcessedParams{ID: msg.ID, ErrorMessage: &errText})
		p.logger.Error("message classification failed",
			zap.Int64("message_id", msg.ID),
			zap.Error(err),
		)
		return outcomeError
	}

	params := repository.MarkProcessedParams{
		ID:               msg.ID,
		IsRelevant:       verdict.IsRelevant,
		DetectedCategory: verdict.Category,
		RawVerdict:       verdict.Raw,
	}

	result := outcomeSkipped
	if verdict.IsRelevant {
		result = outcomeRelevantSkipped
		if p.cfg.AutoCreateTickets && verdict.Confidence >= CreateThreshold {
			ticket, err := p.tickets.CreateFromVerdict(ctx, msg, verdict, BuildDescription(msg, verdict), p.actorID)
			if err != nil {
				// a failed create is recorded like any other processing
				// failure: not relevant, error text stored
				errText := err.Error()
				params.IsRelevant = false
				params.DetectedCategory = nil
				params.ErrorMessage = &errText
				p.markProcessed(ctx, params)
				p.logger.Error("ticket creation failed",
					zap.Int64("message_id", msg.ID),
					zap.Error(err),
				)
				return outcomeError
			}
			params.TicketCreatedID = &ticket.ID
			result = outcomeCreated
		}
	}

	p.markProcessed(ctx, params)
	return result
}

// classify runs the primary classifier, falling back to keyword matching
// once when the model is unreachable or returns an undecodable response.
func (p *Processor) classify(ctx context.Context, msg *domain.EmailMessage) (*classifier.Verdict, error) {
	verdict, err := p.primary.Classify(ctx, msg.Subject, msg.BodyText, msg.FromAddress)
	if err == nil {
		return verdict, nil
	}
	if !classifier.Recoverable(err) || p.fallback == nil {
		return nil, err
	}
	p.logger.Warn("primary classification failed, falling back to keywords",
		zap.Int64("message_id", msg.ID),
		zap.Error(err),
	)
	return p.fallback.Classify(ctx, msg.Subject, msg.BodyText, msg.FromAddress)
}

func (p *Processor) markProcessed(ctx context.Context, params repository.MarkProcessedParams) {
	if err := p.messages.MarkProcessed(ctx, params); err != nil {
		p.logger.Error("mark processed failed",
			zap.Int64("message_id", params.ID),
			zap.Error(err),
		)
	}
}

func (p *Processor) publishRunCompleted(ctx context.Context, stats *Stats) {
	if p.dispatcher == nil {
		return
	}
	_ = p.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventPipelineRunCompleted,
		Timestamp: time.Now().UTC(),
		Payload: events.PipelineRunCompletedPayload{
			Fetched:        stats.Fetched,
			Analyzed:       stats.Analyzed,
			Relevant:       stats.Relevant,
			TicketsCreated: stats.TicketsCreated,
			Skipped:        stats.Skipped,
			Errors:         stats.Errors,
		},
	})
}

// BuildDescription renders the ticket description for an auto-created
// ticket: provenance header, bounded body excerpt, key points, confidence
// footer.
func BuildDescription(msg *domain.EmailMessage, verdict *classifier.Verdict) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**Email from:** %s\n", msg.FromAddress)
	fmt.Fprintf(&b, "**Original Subject:** %s\n\n", msg.Subject)

	excerpt := util.TruncateRunes(msg.BodyText, MaxExcerptChars)
	if excerpt != msg.BodyText {
		excerpt += "..."
	}
	fmt.Fprintf(&b, "**Content:**\n%s\n", excerpt)

	if len(verdict.KeyPoints) > 0 {
		b.WriteString("\n**Key Points:**\n")
		for _, point := range verdict.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", point)
		}
	}

	fmt.Fprintf(&b, "\n---\n*Auto-created from email (confidence: %.0f%%)*", verdict.Confidence*100)
	return b.String()
}
