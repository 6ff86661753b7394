package classifier

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spec-kit/sap-ticketing/internal/domain"
	"github.com/spec-kit/sap-ticketing/pkg/util"
)

const (
	// Fallback confidences are fixed constants rather than a function of the
	// keyword score, which keeps the fallback trivially predictable.
	relevantConfidence   = 0.6
	irrelevantConfidence = 0.4

	maxTitleChars = 100
	defaultTitle  = "Email Inquiry"
)

type moduleKeywords struct {
	Category domain.TicketCategory
	Keywords []string
}

// sapModuleKeywords maps each SAP module to its indicator phrases. Slice
// order is the fixed tie-break: a later category must score strictly higher
// to displace an earlier one.
var sapModuleKeywords = []moduleKeywords{
	{domain.CategoryMM, []string{
		"material", "purchase", "procurement", "vendor", "inventory",
		"goods receipt", "purchase order", "po", "material master",
		"stock", "warehouse", "mrp", "purchase requisition", "pr",
		"invoice verification", "source list", "quota arrangement",
	}},
	{domain.CategorySD, []string{
		"sales", "distribution", "customer", "order", "delivery",
		"billing", "invoice", "pricing", "sales order", "so",
		"quotation", "inquiry", "shipment", "shipping", "credit memo",
		"returns", "consignment", "third party",
	}},
	{domain.CategoryFICO, []string{
		"finance", "accounting", "controlling", "cost center", "profit center",
		"general ledger", "gl", "accounts payable", "ap", "accounts receivable", "ar",
		"asset accounting", "fixed asset", "financial statement", "budget",
		"internal order", "cost element", "closing", "reconciliation",
	}},
	{domain.CategoryPP, []string{
		"production", "planning", "manufacturing", "bom", "bill of material",
		"routing", "work center", "capacity", "production order", "shop floor",
		"mrp", "demand management", "sop", "scheduling",
	}},
	{domain.CategoryHCM, []string{
		"human resources", "hr", "payroll", "employee", "personnel",
		"time management", "attendance", "leave", "recruitment", "training",
		"organizational management", "benefits", "compensation",
	}},
	{domain.CategoryPM, []string{
		"plant maintenance", "maintenance", "equipment", "functional location",
		"work order", "notification", "preventive maintenance", "breakdown",
		"calibration", "inspection", "repair",
	}},
	{domain.CategoryQM, []string{
		"quality", "inspection", "quality management", "qm", "quality notification",
		"inspection lot", "quality certificate", "calibration", "audit",
		"control chart", "quality planning",
	}},
	{domain.CategoryWM, []string{
		"warehouse management", "wm", "storage bin", "transfer order",
		"putaway", "picking", "goods movement", "storage type", "warehouse structure",
	}},
	{domain.CategoryPS, []string{
		"project system", "project", "wbs", "work breakdown structure",
		"network", "milestone", "project planning", "project budget",
	}},
	{domain.CategoryBW, []string{
		"business warehouse", "bw", "bi", "business intelligence",
		"data warehouse", "infocube", "report", "query", "data extraction",
	}},
	{domain.CategoryABAP, []string{
		"abap", "programming", "development", "code", "report", "function module",
		"bapi", "rfc", "enhancement", "user exit", "badi", "smartform", "sapscript",
	}},
	{domain.CategoryBASIS, []string{
		"basis", "admin", "system", "transport", "authorization", "role",
		"background job", "performance", "upgrade", "installation", "configuration",
		"user management", "sap*", "client",
	}},
}

// sapIndicators mark an email as SAP-related even when no module scores.
var sapIndicators = []string{"sap", "erp", "transaction", "t-code", "abap", "fiori", "hana"}

type priorityIndicators struct {
	Priority domain.TicketPriority
	Phrases  []string
}

// priorityScanOrder is the fixed precedence: Critical > High > Low. The
// first list with a match wins; Medium is the default when none match.
var priorityScanOrder = []priorityIndicators{
	{domain.TicketPriorityCritical, []string{
		"urgent", "critical", "emergency", "asap", "immediately", "down",
		"not working", "stopped", "blocked", "production issue", "showstopper",
	}},
	{domain.TicketPriorityHigh, []string{
		"important", "high priority", "soon", "affecting", "impact",
		"multiple users", "deadline", "pressing",
	}},
	{domain.TicketPriorityLow, []string{
		"minor", "cosmetic", "enhancement", "nice to have", "when possible",
		"low priority", "no rush",
	}},
}

// KeywordClassifier is the deterministic fallback. It never fails and makes
// no network calls.
type KeywordClassifier struct{}

// NewKeywordClassifier builds the fallback classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify scores subject+body against the SAP module keyword tables.
func (c *KeywordClassifier) Classify(_ context.Context, subject, body, _ string) (*Verdict, error) {
	text := strings.ToLower(subject + " " + body)

	isRelevant := false
	for _, indicator := range sapIndicators {
		if strings.Contains(text, indicator) {
			isRelevant = true
			break
		}
	}

	var category *domain.TicketCategory
	maxScore := 0
	for _, module := range sapModuleKeywords {
		score := 0
		for _, kw := range module.Keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > maxScore {
			maxScore = score
			cat := module.Category
			category = &cat
			isRelevant = true
		}
	}

	priority := domain.TicketPriorityMedium
scan:
	for _, level := range priorityScanOrder {
		for _, phrase := range level.Phrases {
			if strings.Contains(text, phrase) {
				priority = level.Priority
				break scan
			}
		}
	}

	confidence := irrelevantConfidence
	if isRelevant {
		confidence = relevantConfidence
	}
	if !isRelevant {
		category = nil
	}

	title := strings.TrimSpace(subject)
	if title == "" {
		title = defaultTitle
	} else {
		title = util.TruncateRunes(title, maxTitleChars)
	}

	raw, _ := json.Marshal(map[string]any{
		"method":    "keyword_based",
		"max_score": maxScore,
	})

	return &Verdict{
		IsRelevant:        isRelevant,
		Confidence:        confidence,
		Category:          category,
		SuggestedTitle:    title,
		SuggestedPriority: priority,
		KeyPoints:         []string{},
		Raw:               raw,
		Provenance:        ProvenanceKeyword,
	}, nil
}
