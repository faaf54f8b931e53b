package sources

import (
	"strconv"
	"strings"
	"time"

	"ipomonitor/models"
)

// assetSuffixes is instrument/share-class text stripped from US company
// names so the same issuer matches across sources.
var assetSuffixes = []string{
	" ETF Trust", " ETF", " Units", " Unit",
	" Warrants to purchase ", " Warrants", " Warrant", " Rights",
	" Class A Common Stock", " Class A Ordinary Shares", " Class A Ordinary Share",
	" Subordinate Voting Shares", " American Depository Shares", " American Depositary Shares",
	" Common Stock", " Common Shares", " Ordinary Shares",
}

// usDateLayouts covers the date formats the US sources emit.
var usDateLayouts = []string{"1/2/2006", "01/02/2006", "2006-01-02", "Jan 2, 2006"}

// catalog is the static registry of every external source, in fetch order.
// The Spec on each entry is interpreted by the generic normalization engine
// in services; adding a source is an entry here, not a new parser.
var catalog = []models.SourceConfig{
	{
		Name:     "NYSE",
		Exchange: "NYSE",
		Rank:     1,
		Location: "New York",
		URL:      "https://www.nyse.com/ipo-center/filings",
		Kind:     models.SourceKindRendered,
		Table:    models.TableSelect{Selector: "table.table-data", Index: 0},
		Columns: []string{
			"Expected Date", "Issuer", "Ticker", "Industry", "Bookrunner(S)",
			"Exchange", "Curr. Amt. Filed ($MM)", "Curr. Shrs. Filed ($MM)",
			"Curr. File Price/Range($)",
		},
		RawTable: "source_nyse_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Expected Date":             "ipo_date",
				"Issuer":                    "company_name",
				"Ticker":                    "ticker",
				"Exchange":                  "exchange",
				"Curr. Amt. Filed ($MM)":    "deal_size",
				"Curr. Shrs. Filed ($MM)":   "shares_offered",
				"Curr. File Price/Range($)": "price",
			},
			DateLayouts:      usDateLayouts,
			SplitPriceRange:  true,
			SharesMultiplier: 1e6,
			// NYSE publishes the expected pricing date; listing is the next day.
			PostProcess: shiftIPODates(24 * time.Hour),
		},
	},
	{
		Name:     "NYSE Withdrawn",
		Exchange: "NYSE",
		Rank:     1,
		Location: "New York",
		URL:      "https://www.nyse.com/ipo-center/filings",
		Kind:     models.SourceKindRendered,
		Table:    models.TableSelect{Index: 3},
		Columns: []string{
			"Date W/P", "Issuer", "Ticker", "Industry", "Bookrunner(S)",
			"Amt. Filed ($MM)", "Shrs. Filed ($MM)", "Status",
		},
		RawTable: "source_nyse_wd_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Date W/P":         "postponement_date",
				"Issuer":           "company_name",
				"Ticker":           "ticker",
				"Shrs. Filed ($MM)": "shares_offered",
				"Status":           "status",
			},
			Exchange:         "NYSE",
			Status:           "Withdrawn",
			Notes:            []models.NoteRule{{Prefix: "Withdrawn on ", From: "postponement_date"}},
			SharesMultiplier: 1e6,
		},
	},
	{
		Name:     "Nasdaq",
		Exchange: "NASDAQ",
		Rank:     2,
		Location: "New York",
		URL:      "https://www.nasdaq.com/market-activity/ipos?tab=upcoming",
		Kind:     models.SourceKindRendered,
		Table:    models.TableSelect{TableElem: "tbody", Index: 2, CellElem: "th, td"},
		Columns: []string{
			"Symbol", "Company Name", "Exchange/ Market", "Price", "Shares",
			"Expected IPO Date", "Offer Amount",
		},
		RawTable: "source_nasdaq_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Symbol":            "ticker",
				"Company Name":      "company_name",
				"Exchange/ Market":  "exchange",
				"Price":             "price",
				"Shares":            "shares_offered",
				"Expected IPO Date": "ipo_date",
				"Offer Amount":      "deal_size",
			},
			DateLayouts:     usDateLayouts,
			SplitPriceRange: true,
		},
	},
	{
		Name:     "Nasdaq Priced",
		Exchange: "NASDAQ",
		Rank:     2,
		Location: "New York",
		URL:      "https://www.nasdaq.com/market-activity/ipos?tab=upcoming",
		Kind:     models.SourceKindRendered,
		Table:    models.TableSelect{TableElem: "tbody", Index: 3, CellElem: "th, td"},
		Columns: []string{
			"Symbol", "Company Name", "Exchange/ Market", "Price", "Shares",
			"Date", "Offer Amount", "Actions",
		},
		RawTable: "source_nasdaq_priced_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Symbol":           "ticker",
				"Company Name":     "company_name",
				"Exchange/ Market": "exchange",
				"Price":            "price",
				"Shares":           "shares_offered",
				"Date":             "ipo_date",
			},
			Status:      "Priced",
			DateLayouts: usDateLayouts,
		},
	},
	{
		Name:     "Nasdaq Withdrawn",
		Exchange: "NASDAQ",
		Rank:     2,
		Location: "New York",
		URL:      "https://www.nasdaq.com/market-activity/ipos?tab=upcoming",
		Kind:     models.SourceKindRendered,
		Table:    models.TableSelect{TableElem: "tbody", Index: 5, CellElem: "th, td"},
		Columns: []string{
			"Symbol", "Company Name", "Exchange/ Market", "Shares", "Date Filed",
			"Offer Amount", "Date Withdrawn",
		},
		RawTable: "source_nasdaq_wd_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Symbol":         "ticker",
				"Company Name":   "company_name",
				"Shares":         "shares_offered",
				"Date Withdrawn": "cancellation_date",
			},
			Exchange: "Nasdaq",
			Status:   "Withdrawn",
			Notes:    []models.NoteRule{{Prefix: "Withdrawn on ", From: "cancellation_date"}},
		},
	},
	{
		Name:     "IPOScoop",
		Exchange: "IPOScoop",
		Rank:     12,
		Location: "New York",
		URL:      "https://www.iposcoop.com/ipo-calendar/",
		Kind:     models.SourceKindHTMLTable,
		Table:    models.TableSelect{Selector: "table.ipolist"},
		Columns: []string{
			"Company", "Symbol", "Lead Managers", "Shares (Millions)", "Price Low",
			"Price High", "Est. $ Volume", "Expected to Trade", "Rating",
		},
		RawTable: "source_iposcoop_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Company":           "company_name",
				"Symbol":            "ticker",
				"Shares (Millions)": "shares_offered",
				"Price Low":         "price_range_low",
				"Price High":        "price_range_high",
				"Expected to Trade": "ipo_date",
			},
			Exchange: "IPOScoop",
			// "Week of" dates are not precise enough to act on.
			Filters: []models.RowFilter{{Column: "ipo_date", Contains: []string{"Week of"}}},
			Extracts: []models.FieldExtract{
				{Target: "status", From: "ipo_date", Pattern: `(Priced|Postponed)`},
				{Target: "ipo_date", From: "ipo_date", Pattern: `(\d{1,2}/\d{1,2}/\d{4})`},
			},
			DateLayouts:      usDateLayouts,
			PriceRangeLow:    "price_range_low",
			PriceRangeHigh:   "price_range_high",
			SharesMultiplier: 1e6,
		},
	},
	{
		Name:     "AlphaVantage",
		Exchange: "US Composite",
		Rank:     13,
		Location: "New York",
		URL:      "https://www.alphavantage.co/query?function=IPO_CALENDAR",
		Kind:     models.SourceKindAPI,
		Columns: []string{
			"symbol", "name", "ipoDate", "priceRangeLow", "priceRangeHigh",
			"currency", "exchange",
		},
		RawTable: "source_alphavantage_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"symbol":         "ticker",
				"name":           "company_name",
				"ipoDate":        "ipo_date",
				"priceRangeLow":  "price_range_low",
				"priceRangeHigh": "price_range_high",
				"exchange":       "exchange",
			},
			// Exchange names sometimes arrive wrapped in triple quotes.
			Scrubs:            []models.TextScrub{{Column: "exchange", Pattern: `"`}},
			DateLayouts:       []string{"2006-01-02"},
			PriceRangeLow:     "price_range_low",
			PriceRangeHigh:    "price_range_high",
			StripNameSuffixes: assetSuffixes,
		},
	},
	{
		Name:     "JPX",
		Exchange: "Japan Exchange Group",
		Rank:     3,
		Location: "Tokyo",
		URL:      "https://www.jpx.co.jp/english/listing/stocks/new/",
		Kind:     models.SourceKindHTMLTable,
		Table:    models.TableSelect{Index: 0},
		Columns: []string{
			"Date of Listing", "Date of Listing Approval", "Issue Name", "Code",
			"Market Division", "Outline of Listing Issue",
		},
		RawTable: "source_jpx_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Date of Listing": "ipo_date",
				"Issue Name":      "company_name",
				"Code":            "ticker",
				"Market Division": "market_segment",
			},
			Exchange:     "Japan Exchange Group",
			ExchangeFrom: "market_segment",
			DateLayouts:  []string{"Jan. 2, 2006", "Jan 2, 2006", "2006-01-02", "2006/01/02"},
			RowHook:      jpxTechnicalListing,
		},
	},
	{
		Name:     "TokyoIPO",
		Exchange: "Japan Exchange Group",
		Rank:     3,
		Location: "Tokyo",
		URL:      "https://www.tokyoipo.com/top/iposche/index.php?j_e=E",
		Kind:     models.SourceKindHTMLTable,
		Table:    models.TableSelect{Selector: "table.iposchedulelist"},
		Columns: []string{
			"Company Name", "Code", "Listing Date", "Price Range", "Price",
			"Book Building Period", "Lead Underwriter",
		},
		RawTable: "source_tkipo_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Company Name": "company_name",
				"Code":         "ticker",
				"Listing Date": "ipo_date",
				"Price Range":  "price_range",
				"Price":        "price",
			},
			Exchange:    "Japan Exchange Group",
			DateLayouts: []string{"1/2", "01/02"},
			// The calendar shows month/day only.
			MonthDayOnly: true,
			RowHook:      tokyoIPOExpectedDates,
		},
	},
	{
		Name:     "Shanghai",
		Exchange: "Shanghai Stock Exchange",
		Rank:     4,
		Location: "Shanghai",
		URL:      "http://ipo.sseinfo.com/info/xgfxyl/",
		Kind:     models.SourceKindRendered,
		Table:    models.TableSelect{Selector: "table#ipoDataList_container"},
		Columns: []string{
			"New Share Name", "Subscription Date", "Issue price",
			"Initial total issuance total issuance", "Actual funds raised",
			"Issue price-earnings ratio", "Online circulation offline circulation",
			"Online purchase limit", "Success rate (%)",
			"Announcement Day of Winning Results", "Listing date",
		},
		RawTable: "source_sse_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"New Share Name": "new_share_name",
				"Issue price":    "price",
				"Listing date":   "ipo_date",
			},
			Exchange: "Shanghai Stock Exchange",
			// Share name and numeric code arrive combined in one cell.
			Extracts: []models.FieldExtract{
				{Target: "company_name", From: "new_share_name", Pattern: `^([^0-9]+)`},
				{Target: "ticker", From: "new_share_name", Pattern: `(\d+)$`},
			},
			DateLayouts: []string{"2006-01-02", "2006/01/02"},
		},
	},
	{
		Name:     "CNInfo",
		Exchange: "Shenzhen Stock Exchange",
		Rank:     4,
		Location: "Shenzhen",
		URL:      "http://www.cninfo.com.cn/new/commonUrl?url=data/ipo-newly-data",
		Kind:     models.SourceKindRendered,
		Table:    models.TableSelect{Index: 0},
		Columns: []string{
			"Code", "Abbreviation", "Issue Volume (10k shares)", "Issue Price",
			"Release Date", "Listing Date",
		},
		RawTable: "source_cninfo_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Code":                      "ticker",
				"Abbreviation":              "company_name",
				"Issue Volume (10k shares)": "shares_offered",
				"Issue Price":               "price",
				"Listing Date":              "ipo_date",
			},
			Exchange:         "Shenzhen Stock Exchange",
			DateLayouts:      []string{"2006-01-02"},
			SharesMultiplier: 1e4,
		},
	},
	{
		Name:     "East Money",
		Exchange: "Shanghai and Shenzhen",
		Rank:     4,
		Location: "Shanghai",
		URL:      "https://data.eastmoney.com/xg/xg/calendar.html",
		Kind:     models.SourceKindRendered,
		Table:    models.TableSelect{Index: 0},
		Columns:  []string{"Code", "Name", "Listing Date", "Issue Price"},
		RawTable: "source_eastmoney_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Code":         "ticker",
				"Name":         "company_name",
				"Listing Date": "ipo_date",
				"Issue Price":  "price",
			},
			Exchange: "Shanghai and Shenzhen",
			// Dates come as mm-dd with no year.
			DateLayouts:  []string{"01-02", "1-2"},
			MonthDayOnly: true,
			Scrubs:       []models.TextScrub{{Column: "ipo_date", Pattern: `^-$`}},
		},
	},
	{
		Name:     "Euronext",
		Exchange: "Euronext",
		Rank:     5,
		Location: "Amsterdam, Brussels, Dublin, Lisbon, London, Oslo, Paris",
		URL:      "https://live.euronext.com/en/ipo-showcase",
		Kind:     models.SourceKindHTMLTable,
		Table:    models.TableSelect{Selector: "table.views-table"},
		Columns:  []string{"Date", "Company name", "ISIN code", "Location", "Market"},
		RawTable: "source_euronext_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Date":         "ipo_date",
				"Company name": "company_name",
				"ISIN code":    "ticker",
				"Location":     "location",
				"Market":       "exchange",
			},
			DateLayouts: []string{"02/01/2006", "2/1/2006"},
			DayFirst:    true,
			RowHook:     euronextExchangeLocation,
		},
	},
	{
		Name:     "AAStocks",
		Exchange: "Hong Kong Stock Exchange",
		Rank:     6,
		Location: "Hong Kong",
		URL:      "http://www.aastocks.com/en/stocks/market/ipo/upcomingipo/company-summary",
		Kind:     models.SourceKindHTMLTable,
		Table:    models.TableSelect{Index: 0},
		Columns: []string{
			"Name / Code", "Industry", "Offer Price", "Lot Size", "Entry Fee",
			"Subscription Period", "Listing Date",
		},
		RawTable: "source_aastocks_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Name / Code":  "name_code",
				"Offer Price":  "price",
				"Listing Date": "ipo_date",
			},
			Exchange: "Hong Kong Stock Exchange",
			Extracts: []models.FieldExtract{
				{Target: "company_name", From: "name_code", Pattern: `^(.*?)\s*\d+\.HK`},
				{Target: "ticker", From: "name_code", Pattern: `(\d+)\.HK`},
			},
			DateLayouts:     []string{"2006/01/02", "2006-01-02"},
			SplitPriceRange: true,
		},
	},
	{
		Name:     "LSE",
		Exchange: "London Stock Exchange",
		Rank:     7,
		Location: "London",
		URL:      "https://www.londonstockexchange.com/exchange/prices-and-markets/stocks/new-and-recent-issues/new-issues-further-issues.html",
		Kind:     models.SourceKindHTMLTable,
		Table:    models.TableSelect{Index: 0},
		Columns:  []string{"Company", "Market", "Issue Date", "Issue Price", "Currency"},
		RawTable: "source_lse_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Company":     "company_name",
				"Market":      "market_segment",
				"Issue Date":  "ipo_date",
				"Issue Price": "price",
			},
			Exchange:     "London Stock Exchange",
			ExchangeFrom: "market_segment",
			ExchangeSep:  " ",
			Scrubs:       []models.TextScrub{{Column: "company_name", Pattern: `\s\(.*\)`}},
			DateLayouts:  []string{"02/01/2006", "2 January 2006"},
			DayFirst:     true,
		},
	},
	{
		Name:     "TMX",
		Exchange: "Toronto Stock Exchange",
		Rank:     8,
		Location: "Toronto",
		URL:      "https://www.tsx.com/listings/current-market-statistics/new-listings",
		Kind:     models.SourceKindHTMLTable,
		Table:    models.TableSelect{Index: 0},
		Columns: []string{
			"Effective Date", "Company Name", "List Symbol", "Security Description",
			"Change Type", "Details",
		},
		RawTable: "source_tmx_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Effective Date":       "ipo_date",
				"Company Name":         "company_name",
				"List Symbol":          "ticker",
				"Security Description": "security_description",
				"Change Type":          "change_type",
				"Details":              "notes",
			},
			Exchange: "Toronto Stock Exchange",
			Filters: []models.RowFilter{
				{Column: "change_type", Contains: []string{"New Listing"}, Invert: true},
				{Column: "notes", Contains: []string{"transfer", "Transfer"}},
				{Column: "company_name", Contains: []string{" ETF", " Fund"}},
				{Column: "security_description", Contains: []string{
					"Debentures", "Warrants", "Rights", "Common share purchase warrants",
				}},
			},
			DateLayouts: []string{"2006-01-02", "January 2, 2006"},
			RowHook:     truncateNotes(200),
		},
	},
	{
		Name:     "Frankfurt",
		Exchange: "Frankfurt Stock Exchange",
		Rank:     9,
		Location: "Frankfurt",
		URL:      "https://www.boerse-frankfurt.de/en/equities/ipos",
		Kind:     models.SourceKindRendered,
		Table:    models.TableSelect{Index: 0},
		Columns: []string{
			"Date", "Summary", "Market Segment", "Sub Price and Deal Size",
			"First Price and Market Cap", "Sector",
		},
		RawTable: "source_fra_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Date":                       "ipo_date",
				"Summary":                    "summary",
				"Market Segment":             "market_segment",
				"Sub Price and Deal Size":    "sub_price_and_deal_size",
				"First Price and Market Cap": "first_price_and_market_cap",
				"Sector":                     "sector",
			},
			Exchange: "Frankfurt Stock Exchange",
			RowHook:  frankfurtShiftFirstPrice,
			Extracts: []models.FieldExtract{
				{Target: "company_name", From: "summary", Pattern: `\)([a-zA-Z\s\d\-&\.,]*)Sector`},
				{Target: "offer_type", From: "market_segment", Pattern: `\(([a-zA-Z\s\/]*)\)`},
				{Target: "segment_name", From: "market_segment", Pattern: `^([a-zA-Z\s]*)\s\(`},
				{Target: "price", From: "sub_price_and_deal_size", Pattern: `Volume: €\s(\d{1,3}\.\d{1,3})`},
			},
			ExchangeFrom: "segment_name",
			Filters:      []models.RowFilter{{Column: "offer_type", Contains: []string{"Transfer"}}},
			Notes:        []models.NoteRule{{Prefix: "Offer Type: ", From: "offer_type", When: "offer_type"}},
			DateLayouts:  []string{"02.01.2006", "2006-01-02"},
			DayFirst:     true,
		},
	},
	{
		Name:     "KRX",
		Exchange: "Korea Exchange",
		Rank:     10,
		Location: "Seoul",
		URL:      "https://kind.krx.co.kr/listinvstg/listingcompany.do?method=searchListingTypeMain",
		Kind:     models.SourceKindRendered,
		Table:    models.TableSelect{Index: 0},
		Columns: []string{
			"Company", "Code", "Listing Date", "Shares Outstanding", "Par Value",
			"Offering Price",
		},
		RawTable: "source_krx_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Company":        "company_name",
				"Code":           "ticker",
				"Listing Date":   "ipo_date",
				"Offering Price": "price",
			},
			Exchange:    "Korea Exchange",
			DateLayouts: []string{"2006-01-02", "2006/01/02"},
		},
	},
	{
		Name:     "ASX",
		Exchange: "Australian Securities Exchange",
		Rank:     14,
		Location: "Sydney",
		URL:      "https://www.asx.com.au/listings/upcoming-floats-and-listings",
		Kind:     models.SourceKindHTMLTable,
		Table:    models.TableSelect{Index: 0},
		Columns:  []string{"Company", "Proposed listing date", "Company contact details"},
		RawTable: "source_asx_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Company":               "company_name",
				"Proposed listing date": "ipo_date_text",
			},
			Exchange: "Australian Securities Exchange",
			Extracts: []models.FieldExtract{
				{Target: "ipo_date", From: "ipo_date_text", Pattern: `(\d{1,2} [A-Z][a-z]+ \d{2,4})`},
			},
			DateLayouts: []string{"2 January 2006", "2 January 06"},
			DayFirst:    true,
		},
	},
	{
		Name:     "TWSE",
		Exchange: "Taiwan Stock Exchange",
		Rank:     15,
		Location: "Taipei",
		URL:      "https://www.twse.com.tw/en/listed/company/applylisting.html",
		Kind:     models.SourceKindHTMLTable,
		Table:    models.TableSelect{Index: 0},
		Columns: []string{
			"Application Date", "Code", "Company", "Chairman", "Amount of Capital",
			"Underwriter", "Listing Date",
		},
		RawTable: "source_twse_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Code":         "ticker",
				"Company":      "company_name",
				"Listing Date": "ipo_date",
			},
			Exchange:    "Taiwan Stock Exchange",
			DateLayouts: []string{"2006/01/02", "2006-01-02"},
		},
	},
	{
		Name:     "BME",
		Exchange: "Bolsa de Madrid",
		Rank:     16,
		Location: "Madrid",
		URL:      "https://www.bolsasymercados.es/bme-exchange/en/Markets-and-Indices/New-listings",
		Kind:     models.SourceKindHTMLTable,
		Table:    models.TableSelect{Index: 0},
		Columns: []string{
			"Company", "ISIN", "Listing Type", "Shares", "Turnover", "Date",
		},
		RawTable: "source_bme_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Company":      "company_name",
				"ISIN":         "ticker",
				"Listing Type": "listing_type",
				"Shares":       "shares_offered",
				"Turnover":     "volume",
				"Date":         "ipo_date",
			},
			Exchange:    "Bolsa de Madrid",
			Filters:     []models.RowFilter{{Column: "listing_type", Contains: []string{"Integration"}}},
			DateLayouts: []string{"02/01/2006"},
			DayFirst:    true,
			// No price column; derive it from turnover over shares.
			RowHook: bmePriceFromTurnover,
		},
	},
	{
		Name:     "SGX",
		Exchange: "Singapore Exchange",
		Rank:     17,
		Location: "Singapore",
		URL:      "https://www.sgx.com/securities/ipo-performance",
		Kind:     models.SourceKindRendered,
		Table:    models.TableSelect{Index: 0},
		Columns: []string{
			"Company", "Market Segment", "Offer Price", "Listing Date",
			"Closing Price First Day", "Change From IPO Price",
		},
		RawTable: "source_sgx_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Company":        "company_name",
				"Market Segment": "market_segment",
				"Offer Price":    "price_text",
				"Listing Date":   "ipo_date",
			},
			Exchange:     "Singapore Exchange",
			ExchangeFrom: "market_segment",
			Filters:      []models.RowFilter{{Column: "company_name", Contains: []string{" ETF"}}},
			// Offer price arrives with a currency prefix ("SGD 0.26").
			Extracts:    []models.FieldExtract{{Target: "price", From: "price_text", Pattern: `\s([\d\.]+)$`}},
			DateLayouts: []string{"2 Jan 2006", "02 Jan 2006"},
			DayFirst:    true,
		},
	},
	{
		Name:     "IDX",
		Exchange: "Indonesia Stock Exchange",
		Rank:     18,
		Location: "Jakarta",
		URL:      "https://www.idx.co.id/en-us/listed-companies/listing-activities/",
		Kind:     models.SourceKindRendered,
		Table:    models.TableSelect{Index: 0},
		Columns:  []string{"Code", "Company", "Listing Date", "Listing Board"},
		RawTable: "source_idx_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Code":          "ticker",
				"Company":       "company_name",
				"Listing Date":  "ipo_date",
				"Listing Board": "market_segment",
			},
			Exchange:     "Indonesia Stock Exchange",
			ExchangeFrom: "market_segment",
			DateLayouts:  []string{"02 Jan 2006", "2 Jan 2006"},
			DayFirst:     true,
		},
	},
	{
		Name:     "BM",
		Exchange: "Bursa Malaysia",
		Rank:     19,
		Location: "Kuala Lumpur",
		URL:      "https://www.bursamalaysia.com/listing/listing_resources/ipo/ipo_summary",
		Kind:     models.SourceKindHTMLTable,
		Table:    models.TableSelect{Index: 0},
		Columns: []string{
			"Company Name", "Market", "Issue Price", "Opening of Application",
			"Closing of Application", "Date of Listing",
		},
		RawTable: "source_bm_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Company Name":    "company_name",
				"Market":          "market_segment",
				"Issue Price":     "price_text",
				"Date of Listing": "ipo_date",
			},
			Exchange:     "Bursa Malaysia",
			ExchangeFrom: "market_segment",
			Extracts:     []models.FieldExtract{{Target: "price", From: "price_text", Pattern: `(\d*\.\d+)`}},
			DateLayouts:  []string{"2 Jan 2006", "02 Jan 2006"},
			DayFirst:     true,
		},
	},
	{
		Name:     "NasdaqNordic",
		Exchange: "Nasdaq Nordic",
		Rank:     20,
		Location: "Stockholm",
		URL:      "http://www.nasdaqomxnordic.com/news/listings",
		Kind:     models.SourceKindHTMLTable,
		Table:    models.TableSelect{Index: 0},
		Columns:  []string{"Company", "Symbol", "Market", "Listing Date", "Last Price", "Percent Change"},
		RawTable: "source_nasdaqnordic_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Company":      "company_name",
				"Symbol":       "ticker",
				"Listing Date": "ipo_date",
				// Last price and percent change move every day and are not
				// listing data; leaving them unmapped drops them.
			},
			Exchange:    "Nasdaq Nordic",
			DateLayouts: []string{"Jan 2, 2006", "2006-01-02"},
		},
	},
	{
		Name:     "SpotlightAPI",
		Exchange: "Spotlight",
		Rank:     21,
		Location: "Stockholm",
		URL:      "https://api.spotlightstockmarket.com/v1/listings",
		Kind:     models.SourceKindAPI,
		Columns:  []string{"companyName", "listingDate", "price"},
		RawTable: "source_spotlight_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"companyName": "company_name",
				"listingDate": "ipo_date",
				"price":       "price",
			},
			Exchange:    "Spotlight",
			DateLayouts: []string{"2006-01-02", time.RFC3339},
		},
	},
	{
		Name:     "BIT",
		Exchange: "Borsa Italiana",
		Rank:     22,
		Location: "Milan",
		URL:      "https://www.borsaitaliana.it/azioni/ipo-e-matricole/home-ipo/ipo.en.htm",
		Kind:     models.SourceKindHTMLTable,
		Table:    models.TableSelect{Index: 0},
		Columns:  []string{"Company", "Market", "Listing Type", "Start of Trading"},
		RawTable: "source_bit_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Company":          "company_name",
				"Market":           "market_segment",
				"Listing Type":     "listing_type",
				"Start of Trading": "ipo_date",
			},
			Exchange:     "Borsa Italiana",
			ExchangeFrom: "market_segment",
			Scrubs:       []models.TextScrub{{Column: "market_segment", Pattern: `\*`, With: "Professional Segment"}},
			Filters:      []models.RowFilter{{Column: "listing_type", Contains: []string{"Transition from"}}},
			DateLayouts:  []string{"02/01/2006"},
			DayFirst:     true,
		},
	},
	{
		Name:     "IPOHub",
		Exchange: "IPOHub",
		Rank:     23,
		Location: "Oslo",
		URL:      "https://www.ipohub.io/listings",
		Kind:     models.SourceKindHTMLTable,
		Table:    models.TableSelect{Index: 0},
		Columns:  []string{"Company", "Market", "Subscription Price", "First Trading Date"},
		RawTable: "source_ipohub_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Company":            "company_name",
				"Market":             "exchange",
				"Subscription Price": "price",
				"First Trading Date": "ipo_date",
			},
			DateLayouts: []string{"Jan 2, 2006", "2006-01-02"},
		},
	},
	{
		Name:     "NSE",
		Exchange: "National Stock Exchange of India",
		Rank:     11,
		Location: "Mumbai",
		URL:      "https://www.nseindia.com/market-data/all-upcoming-issues-ipo",
		Kind:     models.SourceKindRendered,
		Table:    models.TableSelect{Selector: "table#publicIssuesCurrent"},
		Columns: []string{
			"Company Name", "Security type", "Issue Start Date", "Issue End Date",
			"Status", "offered/ reserved", "Bids", "Subscription Category",
		},
		RawTable: "source_nse_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Company Name":    "company_name",
				"Security type":   "security_type",
				"Issue Start Date": "ipo_date",
				"Status":          "status",
			},
			Exchange: "National Stock Exchange of India",
			Filters:  []models.RowFilter{{Column: "security_type", Contains: []string{"Debt", "Bond"}}},
			DateLayouts: []string{"02-Jan-2006", "2-Jan-2006"},
			DayFirst:    true,
		},
	},
	{
		Name:     "BSE",
		Exchange: "Bombay Stock Exchange",
		Rank:     11,
		Location: "Mumbai",
		URL:      "https://www.bseindia.com/publicissue.html",
		Kind:     models.SourceKindRendered,
		Table:    models.TableSelect{Index: 3, RowElem: "tr.ng-scope"},
		Columns: []string{
			"Security Name", "Start Date", "End Date", "Offer Price", "Face Value",
			"Type Of Issue", "Issue Status",
		},
		RawTable: "source_bse_raw",
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Security Name": "company_name",
				"Start Date":    "ipo_date",
				"Offer Price":   "price",
				"Type Of Issue": "issue_type",
				"Issue Status":  "status",
			},
			Exchange:        "Bombay Stock Exchange",
			Filters:         []models.RowFilter{{Column: "issue_type", Contains: []string{"Debt", "Buyback", "Rights"}}},
			SplitPriceRange: true,
			DateLayouts:     []string{"02 Jan 2006", "2 Jan 2006"},
			DayFirst:        true,
		},
	},
}

// shiftIPODates offsets every parsed IPO date by the given duration.
func shiftIPODates(d time.Duration) func([]models.Listing) []models.Listing {
	return func(rows []models.Listing) []models.Listing {
		for i := range rows {
			if rows[i].IPODate != nil {
				shifted := rows[i].IPODate.Add(d)
				rows[i].IPODate = &shifted
			}
		}
		return rows
	}
}

// jpxTechnicalListing flags names marked "**" as technical listings and
// strips the marker.
func jpxTechnicalListing(cells map[string]string) {
	name := cells["company_name"]
	if strings.Contains(name, "**") {
		cells["notes"] = "Technical Listing"
		name = strings.ReplaceAll(name, "**", "")
	}
	cells["company_name"] = strings.TrimSpace(strings.ReplaceAll(name, ",", ", "))
}

// tokyoIPOExpectedDates turns placeholder cells ("3/17 announcement") into
// notes instead of bogus prices.
func tokyoIPOExpectedDates(cells map[string]string) {
	if v := cells["price_range"]; strings.Contains(v, "announcement") {
		cells["notes"] = "Price Range expected " + v
		cells["price_range"] = ""
	}
	if v := cells["price"]; strings.Contains(v, "announcement") {
		cells["notes"] = "Price expected " + v
		cells["price"] = ""
	}
}

// euronextExchangeLocation appends the listing location to the market name
// ("Euronext Growth Paris").
func euronextExchangeLocation(cells map[string]string) {
	if loc := cells["location"]; loc != "" {
		cells["exchange"] = strings.TrimSpace(cells["exchange"] + " " + loc)
	}
}

// truncateNotes caps free-text notes; TMX details can run to paragraphs.
// The cut lands on a rune boundary so multibyte text stays valid.
func truncateNotes(max int) func(map[string]string) {
	return func(cells map[string]string) {
		if runes := []rune(cells["notes"]); len(runes) > max {
			cells["notes"] = string(runes[:max])
		}
	}
}

// frankfurtShiftFirstPrice repairs rows where the first-price cell slid into
// the subscription-price column on the source page.
func frankfurtShiftFirstPrice(cells map[string]string) {
	if strings.HasPrefix(cells["sub_price_and_deal_size"], "First Price") {
		cells["first_price_and_market_cap"] = cells["sub_price_and_deal_size"]
		cells["sub_price_and_deal_size"] = ""
	}
}

// bmePriceFromTurnover derives the listing price from turnover and shares.
func bmePriceFromTurnover(cells map[string]string) {
	shares, err1 := strconv.ParseFloat(strings.ReplaceAll(cells["shares_offered"], ",", ""), 64)
	volume, err2 := strconv.ParseFloat(strings.ReplaceAll(cells["volume"], ",", ""), 64)
	if err1 == nil && err2 == nil && shares > 0 {
		cells["price"] = strconv.FormatFloat(volume/shares, 'f', 2, 64)
	}
}
