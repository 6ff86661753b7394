package mail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sap-ticketing/internal/config"
	"github.com/spec-kit/sap-ticketing/internal/domain"
	"github.com/spec-kit/sap-ticketing/internal/repository"
)

type fakeMessageRepo struct {
	byMessageID map[string]*domain.EmailMessage
	nextID      int64
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{byMessageID: make(map[string]*domain.EmailMessage)}
}

func (r *fakeMessageRepo) Create(_ context.Context, msg *domain.EmailMessage) error {
	r.nextID++
	msg.ID = r.nextID
	msg.CreatedAt = time.Now().UTC()
	stored := *msg
	r.byMessageID[msg.MessageID] = &stored
	return nil
}

func (r *fakeMessageRepo) Exists(_ context.Context, messageID string) (bool, error) {
	_, ok := r.byMessageID[messageID]
	return ok, nil
}

func (r *fakeMessageRepo) GetByID(_ context.Context, id int64) (*domain.EmailMessage, error) {
	for _, m := range r.byMessageID {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

func (r *fakeMessageRepo) ListUnprocessed(_ context.Context, _ int) ([]domain.EmailMessage, error) {
	var out []domain.EmailMessage
	for _, m := range r.byMessageID {
		if !m.Processed {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) ListRecent(_ context.Context, _ int) ([]domain.EmailMessage, error) {
	var out []domain.EmailMessage
	for _, m := range r.byMessageID {
		out = append(out, *m)
	}
	return out, nil
}

func (r *fakeMessageRepo) MarkProcessed(_ context.Context, params repository.MarkProcessedParams) error {
	for _, m := range r.byMessageID {
		if m.ID == params.ID {
			m.Processed = true
			return nil
		}
	}
	return nil
}

func (r *fakeMessageRepo) Stats(_ context.Context) (repository.MessageStats, error) {
	return repository.MessageStats{Total: int64(len(r.byMessageID))}, nil
}

type fakeFetcher struct {
	messages []FetchedMessage
	calls    int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ FetchOptions) ([]FetchedMessage, error) {
	f.calls++
	return f.messages, nil
}

func testMailConfig() config.MailConfig {
	return config.MailConfig{DefaultFolder: "inbox", FetchDays: 1, MaxFetch: 50}
}

func TestIngestStoresNewMessages(t *testing.T) {
	repo := newFakeMessageRepo()
	fetcher := &fakeFetcher{messages: []FetchedMessage{
		{ProviderID: "p1", InternetMessageID: "<m1@x>", From: "a@x", Subject: "PO issue", BodyContent: "body", BodyContentType: "text"},
		{ProviderID: "p2", InternetMessageID: "<m2@x>", From: "b@x", Subject: "Billing", BodyContent: "body", BodyContentType: "text"},
	}}
	source := NewSource(fetcher, repo, testMailConfig(), zap.NewNop())

	result, err := source.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Fetched)
	assert.Len(t, result.Stored, 2)
	assert.Equal(t, 0, result.Skipped)
}

func TestIngestOverlappingWindowsIsIdempotent(t *testing.T) {
	repo := newFakeMessageRepo()
	fetcher := &fakeFetcher{messages: []FetchedMessage{
		{ProviderID: "p1", InternetMessageID: "<m1@x>", Subject: "PO issue", BodyContent: "body", BodyContentType: "text"},
	}}
	source := NewSource(fetcher, repo, testMailConfig(), zap.NewNop())

	first, err := source.Ingest(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Stored, 1)

	second, err := source.Ingest(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.Stored)
	assert.Equal(t, 1, second.Skipped)
	assert.Len(t, repo.byMessageID, 1)
}

func TestNormalizeDefaultsAndFallbacks(t *testing.T) {
	msg := Normalize(FetchedMessage{
		ProviderID:      "p9",
		Subject:         "   ",
		BodyContentType: "text",
		BodyContent:     "hello",
	})
	assert.Equal(t, "p9", msg.MessageID, "falls back to provider id when internet id is missing")
	assert.Equal(t, "(No Subject)", msg.Subject)
	assert.Equal(t, "hello", msg.BodyText)
	assert.Nil(t, msg.BodyHTML)
}

func TestNormalizeHTMLBodyKeepsPreviewAsText(t *testing.T) {
	msg := Normalize(FetchedMessage{
		InternetMessageID: "<h1@x>",
		Subject:           "HTML mail",
		BodyContentType:   "html",
		BodyContent:       "<p>rich</p>",
		BodyPreview:       "rich",
	})
	require.NotNil(t, msg.BodyHTML)
	assert.Equal(t, "<p>rich</p>", *msg.BodyHTML)
	assert.Equal(t, "rich", msg.BodyText)
}

func TestTimestampFieldPerFolder(t *testing.T) {
	assert.Equal(t, "receivedDateTime", timestampField("inbox"))
	assert.Equal(t, "sentDateTime", timestampField("sentitems"))
}

func TestGraphRequestURLUsesFolderField(t *testing.T) {
	client := NewGraphClient("https://graph.example.com/v1.0", time.Second, nil, zap.NewNop())
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	u := client.requestURL(FetchOptions{Folder: "sentitems", Since: since, MaxCount: 25})
	assert.Contains(t, u, "/me/mailFolders/sentitems/messages")
	assert.Contains(t, u, "sentDateTime+ge+2026-08-01T00%3A00%3A00Z")
	assert.Contains(t, u, "%24top=25")

	u = client.requestURL(FetchOptions{Folder: "inbox", Since: since, MaxCount: 25})
	assert.Contains(t, u, "receivedDateTime+ge+")
}

func TestMockFetcherHonorsMaxCount(t *testing.T) {
	fetcher := NewMockFetcher()
	msgs, err := fetcher.Fetch(context.Background(), FetchOptions{MaxCount: 2})
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}
