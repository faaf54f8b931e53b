package models

import "time"

// CanonicalColumns is the exact column set every normalized source table
// must carry, in database column order.
var CanonicalColumns = []string{
	"company_name",
	"ticker",
	"exchange",
	"ipo_date",
	"price",
	"price_range",
	"shares_offered",
	"status",
	"notes",
	"time_added",
	"time_removed",
}

// Listing is one normalized observation of an IPO from a single source at a
// single scrape time. A newer observation of the same company supersedes an
// older one; it is never mutated in place.
type Listing struct {
	CompanyName   string     `json:"company_name"`
	Ticker        string     `json:"ticker"`
	Exchange      string     `json:"exchange"`
	IPODate       *time.Time `json:"ipo_date"`
	Price         *float64   `json:"price"`
	PriceRange    string     `json:"price_range"`
	SharesOffered *float64   `json:"shares_offered"`
	Status        string     `json:"status"`
	Notes         string     `json:"notes"`
	TimeAdded     time.Time  `json:"time_added"`
	TimeRemoved   *time.Time `json:"time_removed"`
}

// DedupKey identifies "the same" listing across repeated observations.
// Ticker is preferred; before a ticker is assigned the exchange stands in.
func (l Listing) DedupKey() string {
	if l.Ticker != "" {
		return l.CompanyName + "\x00" + l.Ticker
	}
	return l.CompanyName + "\x00" + l.Exchange
}

// RawTable holds the untyped output of one source fetch: the header row and
// the cell text of every data row, in page order.
type RawTable struct {
	Source      string
	Columns     []string
	Rows        [][]string
	TimeChecked time.Time
}

// Cell returns the value of the named column for the given row, or "" when
// the column is absent or the row is ragged.
func (t *RawTable) Cell(row int, column string) string {
	for i, c := range t.Columns {
		if c == column {
			if row < len(t.Rows) && i < len(t.Rows[row]) {
				return t.Rows[row][i]
			}
			return ""
		}
	}
	return ""
}

// HasColumn reports whether the table carries the named column.
func (t *RawTable) HasColumn(column string) bool {
	for _, c := range t.Columns {
		if c == column {
			return true
		}
	}
	return false
}
