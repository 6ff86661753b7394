package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// FetchedMessage is one raw message as returned by the mailbox provider,
// before persistence-level normalization.
type FetchedMessage struct {
	ProviderID        string
	InternetMessageID string
	From              string
	To                string
	Subject           string
	BodyContent       string
	BodyContentType   string // "text" or "html"
	BodyPreview       string
	ReceivedAt        time.Time
	HasAttachments    bool
}

// FetchOptions bound a single mailbox fetch.
type FetchOptions struct {
	Folder   string
	Since    time.Time
	MaxCount int
}

// Fetcher retrieves messages from a mailbox.
type Fetcher interface {
	Fetch(ctx context.Context, opts FetchOptions) ([]FetchedMessage, error)
}

// TokenProvider supplies a bearer token for each outbound request.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken wraps a pre-acquired token in a TokenProvider.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) {
		if token == "" {
			return "", errors.New("no mailbox access token configured")
		}
		return token, nil
	}
}

// FetchError reports a non-success response from the mailbox API.
type FetchError struct {
	StatusCode int
	Body       string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("mailbox fetch failed: status %d: %s", e.StatusCode, e.Body)
}

// GraphClient fetches messages from the Microsoft Graph mail API.
type GraphClient struct {
	baseURL    string
	httpClient *http.Client
	token      TokenProvider
	logger     *zap.Logger
}

// NewGraphClient builds a Graph mail client. timeout bounds each HTTP call.
func NewGraphClient(baseURL string, timeout time.Duration, token TokenProvider, logger *zap.Logger) *GraphClient {
	return &GraphClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		token:      token,
		logger:     logger,
	}
}

type graphMessagePage struct {
	Value []graphMessage `json:"value"`
}

type graphMessage struct {
	ID                string    `json:"id"`
	InternetMessageID string    `json:"internetMessageId"`
	Subject           string    `json:"subject"`
	ReceivedDateTime  time.Time `json:"receivedDateTime"`
	SentDateTime      time.Time `json:"sentDateTime"`
	BodyPreview       string    `json:"bodyPreview"`
	HasAttachments    bool      `json:"hasAttachments"`
	From              struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	ToRecipients []struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"toRecipients"`
	Body struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
}

// timestampField returns the Graph property used for filtering and ordering.
// Sent items carry no meaningful receivedDateTime.
func timestampField(folder string) string {
	if folder == "sentitems" {
		return "sentDateTime"
	}
	return "receivedDateTime"
}

func (c *GraphClient) requestURL(opts FetchOptions) string {
	field := timestampField(opts.Folder)
	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("%s ge %s", field, opts.Since.UTC().Format("2006-01-02T15:04:05Z")))
	q.Set("$orderby", field+" desc")
	q.Set("$top", strconv.Itoa(opts.MaxCount))
	q.Set("$select", "id,internetMessageId,subject,from,toRecipients,receivedDateTime,sentDateTime,bodyPreview,body,hasAttachments")
	return fmt.Sprintf("%s/me/mailFolders/%s/messages?%s", c.baseURL, opts.Folder, q.Encode())
}

// Fetch retrieves up to opts.MaxCount messages newer than opts.Since.
func (c *GraphClient) Fetch(ctx context.Context, opts FetchOptions) ([]FetchedMessage, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(opts), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mailbox request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
	}

	var page graphMessagePage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode mailbox response: %w", err)
	}

	messages := make([]FetchedMessage, 0, len(page.Value))
	for _, m := range page.Value {
		messages = append(messages, convertGraphMessage(m, opts.Folder))
	}
	c.logger.Debug("mailbox fetch completed",
		zap.String("folder", opts.Folder),
		zap.Int("count", len(messages)),
	)
	return messages, nil
}

func convertGraphMessage(m graphMessage, folder string) FetchedMessage {
	received := m.ReceivedDateTime
	if timestampField(folder) == "sentDateTime" {
		received = m.SentDateTime
	}

	to := ""
	if len(m.ToRecipients) > 0 {
		to = m.ToRecipients[0].EmailAddress.Address
	}

	return FetchedMessage{
		ProviderID:        m.ID,
		InternetMessageID: m.InternetMessageID,
		From:              m.From.EmailAddress.Address,
		To:                to,
		Subject:           m.Subject,
		BodyContent:       m.Body.Content,
		BodyContentType:   m.Body.ContentType,
		BodyPreview:       m.BodyPreview,
		ReceivedAt:        received,
		HasAttachments:    m.HasAttachments,
	}
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
