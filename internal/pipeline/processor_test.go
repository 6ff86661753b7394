package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sap-ticketing/internal/classifier"
	"github.com/spec-kit/sap-ticketing/internal/config"
	"github.com/spec-kit/sap-ticketing/internal/domain"
	"github.com/spec-kit/sap-ticketing/internal/events"
	"github.com/spec-kit/sap-ticketing/internal/mail"
	"github.com/spec-kit/sap-ticketing/internal/repository"
)

type memMessageRepo struct {
	mu       sync.Mutex
	messages map[int64]*domain.EmailMessage
	marks    map[int64]repository.MarkProcessedParams
}

func newMemMessageRepo(msgs ...domain.EmailMessage) *memMessageRepo {
	repo := &memMessageRepo{
		messages: make(map[int64]*domain.EmailMessage),
		marks:    make(map[int64]repository.MarkProcessedParams),
	}
	for i := range msgs {
		m := msgs[i]
		repo.messages[m.ID] = &m
	}
	return repo
}

func (r *memMessageRepo) Create(_ context.Context, msg *domain.EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.ID = int64(len(r.messages) + 1)
	m := *msg
	r.messages[msg.ID] = &m
	return nil
}

func (r *memMessageRepo) Exists(_ context.Context, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memMessageRepo) GetByID(_ context.Context, id int64) (*domain.EmailMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *m
	return &copied, nil
}

func (r *memMessageRepo) ListUnprocessed(_ context.Context, limit int) ([]domain.EmailMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EmailMessage
	for _, m := range r.messages {
		if !m.Processed {
			out = append(out, *m)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memMessageRepo) ListRecent(_ context.Context, _ int) ([]domain.EmailMessage, error) {
	return nil, nil
}

func (r *memMessageRepo) MarkProcessed(_ context.Context, params repository.MarkProcessedParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[params.ID]; ok {
		m.Processed = true
	}
	r.marks[params.ID] = params
	return nil
}

func (r *memMessageRepo) Stats(_ context.Context) (repository.MessageStats, error) {
	return repository.MessageStats{}, nil
}

type scriptedClassifier struct {
	verdicts map[string]*classifier.Verdict
	err      error
}

func (c *scriptedClassifier) Classify(_ context.Context, subject, _, _ string) (*classifier.Verdict, error) {
	if c.err != nil {
		return nil, c.err
	}
	if v, ok := c.verdicts[subject]; ok {
		return v, nil
	}
	return &classifier.Verdict{Provenance: classifier.ProvenanceKeyword}, nil
}

type recordingCreator struct {
	mu      sync.Mutex
	created []string
	err     error
}

func (c *recordingCreator) CreateFromVerdict(_ context.Context, msg *domain.EmailMessage, _ *classifier.Verdict, _ string, _ int64) (*domain.Ticket, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, msg.MessageID)
	return &domain.Ticket{ID: int64(len(c.created)), TicketID: "T-001"}, nil
}

type countingExporter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *countingExporter) Export(_ context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return 0, e.err
}

type stubIngestor struct {
	result *mail.IngestResult
}

func (i *stubIngestor) Ingest(_ context.Context) (*mail.IngestResult, error) {
	return i.result, nil
}

func relevantVerdict(confidence float64, category domain.TicketCategory) *classifier.Verdict {
	return &classifier.Verdict{
		IsRelevant:        true,
		Confidence:        confidence,
		Category:          &category,
		SuggestedTitle:    "ticket title",
		SuggestedPriority: domain.TicketPriorityMedium,
		Provenance:        classifier.ProvenanceModel,
	}
}

func pipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{AutoCreateTickets: true, MaxMessages: 100, Parallelism: 2}
}

func newProcessor(repo *memMessageRepo, primary classifier.Classifier, creator TicketCreator, exporter Exporter, cfg config.PipelineConfig) *Processor {
	return NewProcessor(nil, repo, primary, classifier.NewKeywordClassifier(), creator, exporter,
		events.NewInMemoryDispatcher(), cfg, 1, zap.NewNop())
}

func TestRunCreatesTicketAtThreshold(t *testing.T) {
	repo := newMemMessageRepo(
		domain.EmailMessage{ID: 1, MessageID: "at", Subject: "at"},
		domain.EmailMessage{ID: 2, MessageID: "below", Subject: "below"},
	)
	primary := &scriptedClassifier{verdicts: map[string]*classifier.Verdict{
		"at":    relevantVerdict(0.6, domain.CategoryMM),
		"below": relevantVerdict(0.59, domain.CategoryMM),
	}}
	creator := &recordingCreator{}
	proc := newProcessor(repo, primary, creator, &countingExporter{}, pipelineConfig())

	stats, err := proc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Analyzed)
	assert.Equal(t, 2, stats.Relevant)
	assert.Equal(t, 1, stats.TicketsCreated)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, []string{"at"}, creator.created)
}

func TestRunMarksEveryMessageProcessed(t *testing.T) {
	repo := newMemMessageRepo(
		domain.EmailMessage{ID: 1, MessageID: "ok", Subject: "ok"},
		domain.EmailMessage{ID: 2, MessageID: "boom", Subject: "boom"},
	)
	primary := &scriptedClassifier{verdicts: map[string]*classifier.Verdict{
		"ok":   relevantVerdict(0.9, domain.CategorySD),
		"boom": relevantVerdict(0.9, domain.CategorySD),
	}}
	creator := &recordingCreator{err: errors.New("db down")}
	proc := newProcessor(repo, primary, creator, &countingExporter{}, pipelineConfig())

	stats, err := proc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Errors)
	assert.Len(t, repo.marks, 2)
	for id, params := range repo.marks {
		assert.True(t, repo.messages[id].Processed)
		require.NotNil(t, params.ErrorMessage)
		assert.Contains(t, *params.ErrorMessage, "db down")
		// failed creates are recorded as not relevant, category dropped
		assert.False(t, params.IsRelevant)
		assert.Nil(t, params.DetectedCategory)
	}
}

func TestRunFallsBackToKeywordsWhenModelUnavailable(t *testing.T) {
	repo := newMemMessageRepo(domain.EmailMessage{
		ID:          1,
		MessageID:   "m1",
		Subject:     "SAP MM purchase order stuck",
		BodyText:    "The purchase order workflow in SAP is stuck and the vendor is waiting.",
		FromAddress: "buyer@example.com",
	})
	primary := &scriptedClassifier{err: classifier.ErrUnavailable}
	creator := &recordingCreator{}
	proc := newProcessor(repo, primary, creator, &countingExporter{}, pipelineConfig())

	stats, err := proc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Errors)
	assert.Equal(t, 1, stats.Relevant)
	assert.Equal(t, 1, stats.TicketsCreated)
}

func TestRunCountsNonRecoverableFailures(t *testing.T) {
	repo := newMemMessageRepo(domain.EmailMessage{ID: 1, MessageID: "m1", Subject: "s"})
	primary := &scriptedClassifier{err: errors.New("config corrupt")}
	proc := newProcessor(repo, primary, &recordingCreator{}, &countingExporter{}, pipelineConfig())

	stats, err := proc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Errors)
	require.NotNil(t, repo.marks[1].ErrorMessage)
	assert.Contains(t, *repo.marks[1].ErrorMessage, "config corrupt")
}

func TestRunExportsExactlyOnce(t *testing.T) {
	repo := newMemMessageRepo(
		domain.EmailMessage{ID: 1, MessageID: "a", Subject: "a"},
		domain.EmailMessage{ID: 2, MessageID: "b", Subject: "b"},
		domain.EmailMessage{ID: 3, MessageID: "c", Subject: "c"},
	)
	exporter := &countingExporter{}
	proc := newProcessor(repo, &scriptedClassifier{}, &recordingCreator{}, exporter, pipelineConfig())

	_, err := proc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, exporter.calls)
}

func TestRunSurvivesExportFailure(t *testing.T) {
	repo := newMemMessageRepo(domain.EmailMessage{ID: 1, MessageID: "a", Subject: "a"})
	exporter := &countingExporter{err: errors.New("disk full")}
	proc := newProcessor(repo, &scriptedClassifier{}, &recordingCreator{}, exporter, pipelineConfig())

	stats, err := proc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Errors)
}

func TestRunHonorsAutoCreateToggle(t *testing.T) {
	repo := newMemMessageRepo(domain.EmailMessage{ID: 1, MessageID: "m1", Subject: "rel"})
	primary := &scriptedClassifier{verdicts: map[string]*classifier.Verdict{
		"rel": relevantVerdict(0.95, domain.CategoryMM),
	}}
	creator := &recordingCreator{}
	cfg := pipelineConfig()
	cfg.AutoCreateTickets = false
	proc := newProcessor(repo, primary, creator, &countingExporter{}, cfg)

	stats, err := proc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Relevant)
	assert.Equal(t, 0, stats.TicketsCreated)
	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, creator.created)
}

func TestRunFetchCountsOnlyNewlyStoredMessages(t *testing.T) {
	repo := newMemMessageRepo()
	source := &stubIngestor{result: &mail.IngestResult{
		Fetched: 5,
		Stored:  []domain.EmailMessage{{ID: 1}, {ID: 2}, {ID: 3}},
		Skipped: 2,
	}}
	proc := NewProcessor(source, repo, &scriptedClassifier{}, classifier.NewKeywordClassifier(),
		&recordingCreator{}, &countingExporter{}, events.NewInMemoryDispatcher(), pipelineConfig(), 1, zap.NewNop())

	stats, err := proc.Run(context.Background(), RunOptions{FetchFirst: true})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Fetched, "already-seen duplicates are not counted")
}

func TestRunKeywordEndToEnd(t *testing.T) {
	keyword := classifier.NewKeywordClassifier()
	repo := newMemMessageRepo(domain.EmailMessage{
		ID:          1,
		MessageID:   "<mm@x>",
		Subject:     "SAP MM - Purchase Order stuck in approval",
		BodyText:    "Hello team, purchase order 4500001234 is stuck in the approval workflow. We cannot post the goods receipt and the vendor is waiting. This is urgent.",
		FromAddress: "buyer@example.com",
	})
	creator := &recordingCreator{}
	proc := NewProcessor(nil, repo, keyword, keyword, creator, &countingExporter{},
		events.NewInMemoryDispatcher(), pipelineConfig(), 1, zap.NewNop())

	stats, err := proc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Relevant)
	assert.Equal(t, 1, stats.TicketsCreated)
	params := repo.marks[1]
	assert.True(t, params.IsRelevant)
	require.NotNil(t, params.DetectedCategory)
	assert.Equal(t, domain.CategoryMM, *params.DetectedCategory)
}

func TestReprocessSingleMessage(t *testing.T) {
	keyword := classifier.NewKeywordClassifier()
	errText := "llm timeout"
	repo := newMemMessageRepo(domain.EmailMessage{
		ID:           1,
		MessageID:    "<retry@x>",
		Subject:      "SAP MM purchase order stuck",
		BodyText:     "The purchase order workflow in SAP is stuck.",
		FromAddress:  "buyer@example.com",
		Processed:    true,
		ErrorMessage: &errText,
	})
	creator := &recordingCreator{}
	proc := NewProcessor(nil, repo, keyword, keyword, creator, &countingExporter{},
		events.NewInMemoryDispatcher(), pipelineConfig(), 1, zap.NewNop())

	msg, err := proc.Reprocess(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, []string{"<retry@x>"}, creator.created)
	params := repo.marks[1]
	assert.True(t, params.IsRelevant)
	require.NotNil(t, params.DetectedCategory)
	assert.Equal(t, domain.CategoryMM, *params.DetectedCategory)
}

func TestReprocessRejectsTicketedMessage(t *testing.T) {
	ticketID := int64(7)
	repo := newMemMessageRepo(domain.EmailMessage{
		ID:              1,
		MessageID:       "<done@x>",
		Processed:       true,
		TicketCreatedID: &ticketID,
	})
	proc := newProcessor(repo, &scriptedClassifier{}, &recordingCreator{}, &countingExporter{}, pipelineConfig())

	_, err := proc.Reprocess(context.Background(), 1)
	assert.ErrorIs(t, err, ErrAlreadyTicketed)
}

func TestReprocessUnknownMessage(t *testing.T) {
	proc := newProcessor(newMemMessageRepo(), &scriptedClassifier{}, &recordingCreator{}, &countingExporter{}, pipelineConfig())
	_, err := proc.Reprocess(context.Background(), 99)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestBuildDescriptionKeepsValidUTF8(t *testing.T) {
	body := ""
	for len([]rune(body)) < MaxExcerptChars+10 {
		body += "über-wichtig ä"
	}
	msg := &domain.EmailMessage{FromAddress: "a@x", Subject: "Umlaute", BodyText: body}

	desc := BuildDescription(msg, relevantVerdict(0.7, domain.CategoryMM))
	assert.True(t, utf8.ValidString(desc))
	assert.Contains(t, desc, "...")
}

func TestBuildDescriptionTruncatesAndFooters(t *testing.T) {
	long := make([]byte, MaxExcerptChars+500)
	for i := range long {
		long[i] = 'x'
	}
	msg := &domain.EmailMessage{FromAddress: "a@x", Subject: "Subj", BodyText: string(long)}
	verdict := relevantVerdict(0.87, domain.CategoryMM)
	verdict.KeyPoints = []string{"first point", "second point"}

	desc := BuildDescription(msg, verdict)
	assert.Contains(t, desc, "**Email from:** a@x")
	assert.Contains(t, desc, "**Original Subject:** Subj")
	assert.Contains(t, desc, "- first point")
	assert.Contains(t, desc, "confidence: 87%")
	assert.Less(t, len(desc), MaxExcerptChars+700)
	assert.Contains(t, desc, "xxx...")
}

func TestRunRejectsOverlappingRuns(t *testing.T) {
	proc := newProcessor(newMemMessageRepo(), &scriptedClassifier{}, &recordingCreator{}, &countingExporter{}, pipelineConfig())
	proc.running.Store(true)
	_, err := proc.Run(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, ErrRunInProgress)
	proc.running.Store(false)

	_, err = proc.Run(context.Background(), RunOptions{})
	assert.NoError(t, err)
}
