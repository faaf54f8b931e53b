package services

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipomonitor/models"
)

func testNormalizer(now time.Time) *NormalizerService {
	n := NewNormalizerService(logrus.New())
	n.now = func() time.Time { return now }
	return n
}

func TestNormalizeRenameAndTypedProjection(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	n := testNormalizer(now)

	src := models.SourceConfig{
		Name:    "TestExchange",
		Columns: []string{"Company", "Symbol", "Date", "Price", "Shares"},
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Company": "company_name",
				"Symbol":  "ticker",
				"Date":    "ipo_date",
				"Price":   "price",
				"Shares":  "shares_offered",
			},
			Exchange:         "Test Exchange",
			DateLayouts:      []string{"1/2/2006"},
			SharesMultiplier: 1e6,
		},
	}
	raw := &models.RawTable{
		Source:      "TestExchange",
		Columns:     src.Columns,
		Rows:        [][]string{{"Acme Corp", "ACME", "3/15/2026", "$12.50", "2.5"}},
		TimeChecked: now,
	}

	listings, err := n.Normalize(src, raw)
	require.NoError(t, err)
	require.Len(t, listings, 1)

	l := listings[0]
	assert.Equal(t, "Acme Corp", l.CompanyName)
	assert.Equal(t, "ACME", l.Ticker)
	assert.Equal(t, "Test Exchange", l.Exchange)
	require.NotNil(t, l.IPODate)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), *l.IPODate)
	require.NotNil(t, l.Price)
	assert.InDelta(t, 12.50, *l.Price, 0.001)
	require.NotNil(t, l.SharesOffered)
	assert.InDelta(t, 2.5e6, *l.SharesOffered, 1)
	assert.Equal(t, now, l.TimeAdded)
}

func TestNormalizeSplitsPriceRange(t *testing.T) {
	n := testNormalizer(time.Now())
	src := models.SourceConfig{
		Name:    "TestExchange",
		Columns: []string{"Company", "Price"},
		Spec: models.NormalizeSpec{
			Rename:          map[string]string{"Company": "company_name", "Price": "price"},
			SplitPriceRange: true,
		},
	}
	raw := &models.RawTable{
		Columns: src.Columns,
		Rows: [][]string{
			{"Range Co", "$14.00 - $16.00"},
			{"Fixed Co", "$11.00"},
		},
		TimeChecked: time.Now(),
	}

	listings, err := n.Normalize(src, raw)
	require.NoError(t, err)
	require.Len(t, listings, 2)

	assert.Nil(t, listings[0].Price)
	assert.Equal(t, "14 - 16", listings[0].PriceRange)
	require.NotNil(t, listings[1].Price)
	assert.InDelta(t, 11.0, *listings[1].Price, 0.001)
	assert.Empty(t, listings[1].PriceRange)
}

func TestNormalizeLowHighColumnsCollapse(t *testing.T) {
	n := testNormalizer(time.Now())
	src := models.SourceConfig{
		Name:    "TestExchange",
		Columns: []string{"Company", "Low", "High"},
		Spec: models.NormalizeSpec{
			Rename: map[string]string{
				"Company": "company_name",
				"Low":     "price_range_low",
				"High":    "price_range_high",
			},
			PriceRangeLow:  "price_range_low",
			PriceRangeHigh: "price_range_high",
		},
	}
	raw := &models.RawTable{
		Columns: src.Columns,
		Rows: [][]string{
			{"Equal Co", "10.00", "10.00"},
			{"Spread Co", "10.00", "12.00"},
		},
		TimeChecked: time.Now(),
	}

	listings, err := n.Normalize(src, raw)
	require.NoError(t, err)
	require.Len(t, listings, 2)

	require.NotNil(t, listings[0].Price)
	assert.InDelta(t, 10.0, *listings[0].Price, 0.001)
	assert.Empty(t, listings[0].PriceRange)

	assert.Nil(t, listings[1].Price)
	assert.Equal(t, "10 - 12", listings[1].PriceRange)
}

func TestNormalizeFiltersAndExtracts(t *testing.T) {
	n := testNormalizer(time.Now())
	src := models.SourceConfig{
		Name:    "TestExchange",
		Columns: []string{"Name / Code", "Type"},
		Spec: models.NormalizeSpec{
			Rename: map[string]string{"Name / Code": "name_code", "Type": "issue_type"},
			Extracts: []models.FieldExtract{
				{Target: "company_name", From: "name_code", Pattern: `^(.*?)\s*\d+\.HK`},
				{Target: "ticker", From: "name_code", Pattern: `(\d+)\.HK`},
			},
			Filters: []models.RowFilter{{Column: "issue_type", Contains: []string{"Transfer"}}},
		},
	}
	raw := &models.RawTable{
		Columns: src.Columns,
		Rows: [][]string{
			{"Golden Dragon 01234.HK", "IPO"},
			{"Moved Co 09999.HK", "Transfer Listing"},
		},
		TimeChecked: time.Now(),
	}

	listings, err := n.Normalize(src, raw)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "Golden Dragon", listings[0].CompanyName)
	assert.Equal(t, "01234", listings[0].Ticker)
}

func TestNormalizeInvertedFilterKeepsOnlyMatches(t *testing.T) {
	n := testNormalizer(time.Now())
	src := models.SourceConfig{
		Name:    "TestExchange",
		Columns: []string{"Company", "Change Type"},
		Spec: models.NormalizeSpec{
			Rename: map[string]string{"Company": "company_name", "Change Type": "change_type"},
			Filters: []models.RowFilter{
				{Column: "change_type", Contains: []string{"New Listing"}, Invert: true},
			},
		},
	}
	raw := &models.RawTable{
		Columns: src.Columns,
		Rows: [][]string{
			{"Fresh Co", "New Listing"},
			{"Renamed Co", "Name Change"},
		},
		TimeChecked: time.Now(),
	}

	listings, err := n.Normalize(src, raw)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "Fresh Co", listings[0].CompanyName)
}

func TestNormalizeRowHookAndPostProcess(t *testing.T) {
	n := testNormalizer(time.Now())
	src := models.SourceConfig{
		Name:    "TestExchange",
		Columns: []string{"Company", "Date"},
		Spec: models.NormalizeSpec{
			Rename:      map[string]string{"Company": "company_name", "Date": "ipo_date"},
			DateLayouts: []string{"2006-01-02"},
			RowHook: func(cells map[string]string) {
				cells["notes"] = "hooked"
			},
			PostProcess: func(rows []models.Listing) []models.Listing {
				for i := range rows {
					if rows[i].IPODate != nil {
						shifted := rows[i].IPODate.AddDate(0, 0, 1)
						rows[i].IPODate = &shifted
					}
				}
				return rows
			},
		},
	}
	raw := &models.RawTable{
		Columns:     src.Columns,
		Rows:        [][]string{{"Shift Co", "2026-04-01"}},
		TimeChecked: time.Now(),
	}

	listings, err := n.Normalize(src, raw)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "hooked", listings[0].Notes)
	require.NotNil(t, listings[0].IPODate)
	assert.Equal(t, time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC), *listings[0].IPODate)
}

func TestNormalizeAbortsWhenRenamedColumnVanishes(t *testing.T) {
	n := testNormalizer(time.Now())
	src := models.SourceConfig{
		Name:    "TestExchange",
		Columns: []string{"Company", "Date"},
		Spec: models.NormalizeSpec{
			Rename: map[string]string{"Company": "company_name", "Date": "ipo_date"},
		},
	}
	// The fetched page dropped the date column.
	raw := &models.RawTable{
		Columns:     []string{"Company"},
		Rows:        [][]string{{"Acme Corp"}},
		TimeChecked: time.Now(),
	}

	_, err := n.Normalize(src, raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Date")
}

func TestNormalizeDropsRowsWithoutCompanyName(t *testing.T) {
	n := testNormalizer(time.Now())
	src := models.SourceConfig{
		Name:    "TestExchange",
		Columns: []string{"Company"},
		Spec: models.NormalizeSpec{
			Rename: map[string]string{"Company": "company_name"},
		},
	}
	raw := &models.RawTable{
		Columns:     src.Columns,
		Rows:        [][]string{{"   "}, {"Real Co"}},
		TimeChecked: time.Now(),
	}

	listings, err := n.Normalize(src, raw)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "Real Co", listings[0].CompanyName)
}

func TestBackfillYearKnownCases(t *testing.T) {
	// Fixed "today" in March keeps the arithmetic predictable.
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	n := testNormalizer(now)

	// June is within six months ahead, so it keeps the current year.
	jun := n.backfillYear(time.Date(0, 6, 15, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2026, jun.Year())

	// An October date is more than six months ahead, so it belongs to the
	// previous year.
	oct := n.backfillYear(time.Date(0, 10, 5, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2025, oct.Year())

	// Late December seen in early January belongs to the previous year.
	jan := testNormalizer(time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC))
	prev := jan.backfillYear(time.Date(0, 12, 28, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2025, prev.Year())
}

func TestBackfillYearProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("backfilled dates land within six months of today", prop.ForAll(
		func(month int, day int, nowOffsetDays int) bool {
			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, nowOffsetDays)
			n := testNormalizer(now)

			parsed := time.Date(0, time.Month(month), day, 0, 0, 0, 0, time.UTC)
			// Skip day/month combinations that normalize to another month.
			if int(parsed.Month()) != month {
				return true
			}

			got := n.backfillYear(parsed)
			diff := got.Sub(now)
			if diff < 0 {
				diff = -diff
			}
			return diff <= 184*24*time.Hour
		},
		gen.IntRange(1, 12),
		gen.IntRange(1, 28),
		gen.IntRange(0, 730),
	))

	properties.TestingRun(t)
}

func TestParseMoneyToleratesCurrencyText(t *testing.T) {
	cases := map[string]struct {
		want float64
		ok   bool
	}{
		"$12.50":    {12.50, true},
		"SGD 0.26":  {0.26, true},
		"1,250,000": {1250000, true},
		"TBA":       {0, false},
		"-":         {0, false},
		"":          {0, false},
	}
	for input, expected := range cases {
		got, ok := parseMoney(input)
		assert.Equal(t, expected.ok, ok, "input %q", input)
		if expected.ok {
			assert.InDelta(t, expected.want, got, 0.001, "input %q", input)
		}
	}
}

func TestCleanCompanyNameStripsInstrumentSuffixes(t *testing.T) {
	got := cleanCompanyName("Acme Holdings Class A Ordinary Shares", assetSuffixTestList)
	assert.Equal(t, "Acme Holdings", got)

	got = cleanCompanyName("Plain Name", assetSuffixTestList)
	assert.Equal(t, "Plain Name", got)
}

var assetSuffixTestList = []string{
	" Class A Ordinary Shares", " Common Stock", " ETF",
}
