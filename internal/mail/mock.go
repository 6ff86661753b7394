package mail

import (
	"context"
	"fmt"
	"time"
)

// MockFetcher returns a fixed batch of sample messages. Used in development
// when no mailbox credentials are configured.
type MockFetcher struct{}

// NewMockFetcher builds a mock fetcher.
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{}
}

// Fetch returns sample messages stamped relative to now.
func (f *MockFetcher) Fetch(_ context.Context, opts FetchOptions) ([]FetchedMessage, error) {
	now := time.Now().UTC()
	samples := []FetchedMessage{
		{
			Subject:     "SAP MM - Purchase Order stuck in approval",
			From:        "buyer@example.com",
			BodyContent: "Hello team, purchase order 4500001234 is stuck in the approval workflow. We cannot post the goods receipt and the vendor is waiting. This is urgent.",
		},
		{
			Subject:     "Invoice posting error in FICO",
			From:        "accounting@example.com",
			BodyContent: "We get error F5 702 when posting an invoice to the general ledger. Accounts payable run is blocked.",
		},
		{
			Subject:     "Lunch on Friday?",
			From:        "colleague@example.com",
			BodyContent: "Hi! Want to grab lunch on Friday at the new place downtown?",
		},
		{
			Subject:     "",
			From:        "noreply@example.com",
			BodyContent: "SAP HANA system performance degraded on production. Transaction ME21N times out.",
		},
	}

	out := make([]FetchedMessage, 0, len(samples))
	for i, s := range samples {
		s.ProviderID = fmt.Sprintf("mock-%d", i+1)
		s.InternetMessageID = fmt.Sprintf("<mock-%d@sap-ticketing.local>", i+1)
		s.To = "support@example.com"
		s.BodyContentType = "text"
		s.ReceivedAt = now.Add(-time.Duration(i) * time.Hour)
		out = append(out, s)
		if opts.MaxCount > 0 && len(out) >= opts.MaxCount {
			break
		}
	}
	return out, nil
}
