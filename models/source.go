package models

// SourceKind distinguishes how a source's rows are fetched.
type SourceKind string

const (
	// SourceKindHTMLTable is a static page fetched with a plain HTTP client.
	SourceKindHTMLTable SourceKind = "html_table"
	// SourceKindRendered is a JavaScript-rendered page that needs a headless browser.
	SourceKindRendered SourceKind = "rendered_table"
	// SourceKindAPI is a REST endpoint handled by a dedicated client.
	SourceKindAPI SourceKind = "api"
)

// TableSelect locates the listing table within a scraped page.
type TableSelect struct {
	Selector   string // CSS selector for the table; empty falls back to Index
	Index      int    // nth table element on the page when Selector is empty
	TableElem  string // defaults to "table"
	RowElem    string // defaults to "tr"
	CellElem   string // defaults to "td"
	HeaderElem string // defaults to "th"
}

// FieldExtract pulls a structured value out of free text with a regular
// expression. The first capture group becomes the target column's value.
type FieldExtract struct {
	Target  string
	From    string
	Pattern string
}

// TextScrub rewrites matches of Pattern in the column to With.
type TextScrub struct {
	Column  string
	Pattern string
	With    string
}

// RowFilter drops rows whose column contains any of the listed substrings.
// With Invert set, rows NOT containing any of them are dropped instead.
// Used to exclude non-common-equity instruments (ETFs, warrants, rights,
// debt) and transfers; no source provides a uniform instrument-type field,
// so the keyword policy is per source.
type RowFilter struct {
	Column   string
	Contains []string
	Invert   bool
}

// NoteRule composes the notes column from a fixed prefix and, optionally,
// the value of another column.
type NoteRule struct {
	Prefix string
	From   string
	When   string // only applied when this column is non-empty; "" = always
}

// NormalizeSpec is the declarative recipe that turns one source's raw table
// into canonical listings. One generic engine interprets these; adding a
// source is a registry change, not new code.
type NormalizeSpec struct {
	// Rename maps raw header names to canonical column names. Raw columns
	// without a mapping are dropped.
	Rename map[string]string

	Exchange     string // fixed exchange label
	ExchangeFrom string // column whose value is appended to Exchange
	ExchangeSep  string // separator between Exchange and ExchangeFrom, default " - "
	Status       string // fixed status; overrides whatever the source said

	Extracts []FieldExtract
	Scrubs   []TextScrub
	Filters  []RowFilter
	Notes    []NoteRule

	DateLayouts  []string // layouts tried for ipo_date, most specific first
	DayFirst     bool     // ambiguous numeric dates read day-first
	MonthDayOnly bool     // source omits the year; backfill it, correcting ±1y

	// SplitPriceRange moves "12 - 14" style values from the price column
	// into price_range, leaving price null.
	SplitPriceRange bool
	// PriceRangeLow/High name low/high columns that collapse into a single
	// price when equal and a price_range otherwise.
	PriceRangeLow  string
	PriceRangeHigh string

	SharesMultiplier  float64  // e.g. 1e6 when shares are reported in millions
	StripNameSuffixes []string // instrument/share-class text removed from names

	// RowHook runs on the renamed cell map before typed projection, for the
	// handful of shapes the declarative fields cannot express (cell
	// shifting, derived cells). Mutates the map in place.
	RowHook func(cells map[string]string) `json:"-"`
	// PostProcess runs on the typed rows last (date offsets and the like).
	PostProcess func(rows []Listing) []Listing `json:"-"`
}

// SourceConfig is one entry in the source registry: where a source lives,
// how its rows are located, the raw columns it is expected to provide, and
// how those become canonical listings.
type SourceConfig struct {
	Name     string
	Exchange string
	Rank     int
	Location string
	URL      string
	Kind     SourceKind
	Table    TableSelect
	Columns  []string // expected raw header columns, in order
	RawTable string   // postgres table holding the raw scrape history
	Spec     NormalizeSpec
}
