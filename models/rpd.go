package models

import "time"

// RPD statuses as reported by the ticketing system. Resolved is terminal.
const (
	RPDStatusPending  = "Pending"
	RPDStatusResolved = "Resolved"
)

// RPDRecord is the local snapshot of one ticket: the last IPO field values
// written to it plus the ticket's identity. Field changes against a fresher
// comparison row decide whether the ticket needs an update comment.
type RPDRecord struct {
	Iconum       *int64     `json:"iconum"`
	CUSIP        string     `json:"cusip"`
	CompanyName  string     `json:"company_name"`
	Ticker       string     `json:"ticker"`
	Exchange     string     `json:"exchange"`
	IPODate      *time.Time `json:"ipo_date"`
	Price        *float64   `json:"price"`
	PriceRange   string     `json:"price_range"`
	Status       string     `json:"status"`
	Notes        string     `json:"notes"`
	LastChecked  *time.Time `json:"last_checked"`
	DealID       string     `json:"ipo_deal_id"`
	FormattedName string    `json:"formatted_company_name"`

	RPDNumber    *int64     `json:"rpd_number"`
	RPDLink      string     `json:"rpd_link"`
	RPDCreated   *time.Time `json:"rpd_creation_date"`
	RPDStatus    string     `json:"rpd_status"`
}

// ScrapeResult records one source fetch attempt for the success-rate log.
type ScrapeResult struct {
	TimeChecked time.Time `json:"time_checked"`
	Source      string    `json:"source"`
	Success     bool      `json:"result"`
}

// SourcePerformance summarizes a source's recent scrape outcomes.
type SourcePerformance struct {
	Source            string     `json:"source"`
	RecentSuccesses   int        `json:"recent_successes"`
	RecentSuccessRate float64    `json:"recent_success_rate"`
	LastFailure       *time.Time `json:"most_recent_failure"`
	LastSuccess       *time.Time `json:"most_recent_success"`
}
