package services

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipomonitor/models"
)

func testComparator(now time.Time) *ComparisonService {
	c := NewComparisonService(logrus.New())
	c.now = func() time.Time { return now }
	return c
}

func int64P(v int64) *int64 { return &v }

func timeP(t time.Time) *time.Time { return &t }

func TestCompareJoinsThroughEntityMapping(t *testing.T) {
	c := testComparator(time.Now())
	date := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	listings := []models.Listing{{
		CompanyName: "Acme Corp", Ticker: "ACME", Exchange: "NYSE",
		IPODate: &date, Price: floatP(12.0),
	}}
	mappings := []models.EntityMapping{{
		CompanyName: "Acme Corp", Iconum: int64P(31), MapStatus: models.MapStatusMapped,
	}}
	deals := []models.DealRecord{{
		Iconum: 31, CompanyName: "Acme Corporation", MasterDeal: 900,
		CUSIP: "123456789", Ticker: "ACME",
		Price: floatP(12.0), TradingDate: &date,
		LastUpdated: time.Now(),
	}}

	records := c.Compare(listings, mappings, deals)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "Acme Corporation", r.CompanyNameInternal)
	require.NotNil(t, r.MasterDeal)
	assert.Equal(t, int64(900), *r.MasterDeal)
	assert.True(t, r.DatesMatch)
	assert.True(t, r.PricesMatch)
}

func TestCompareFlagsDisagreements(t *testing.T) {
	c := testComparator(time.Now())
	external := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	internal := external.AddDate(0, 0, 3)

	listings := []models.Listing{{
		CompanyName: "Acme Corp", IPODate: &external, Price: floatP(12.0),
	}}
	mappings := []models.EntityMapping{{CompanyName: "Acme Corp", Iconum: int64P(31)}}
	deals := []models.DealRecord{{
		Iconum: 31, TradingDate: &internal, Price: floatP(14.0), LastUpdated: time.Now(),
	}}

	records := c.Compare(listings, mappings, deals)
	require.Len(t, records, 1)
	assert.False(t, records[0].DatesMatch)
	assert.False(t, records[0].PricesMatch)
}

func TestCompareMissingSideNeverFlagsMismatch(t *testing.T) {
	c := testComparator(time.Now())
	date := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	// No mapping, no deal: both flags stay true.
	records := c.Compare(
		[]models.Listing{{CompanyName: "Lonely Co", IPODate: &date, Price: floatP(9.0)}},
		nil, nil)
	require.Len(t, records, 1)
	assert.True(t, records[0].DatesMatch)
	assert.True(t, records[0].PricesMatch)
	assert.Nil(t, records[0].Iconum)

	// Deal joined but with no date or price on the internal side.
	records = c.Compare(
		[]models.Listing{{CompanyName: "Half Co", IPODate: &date, Price: floatP(9.0)}},
		[]models.EntityMapping{{CompanyName: "Half Co", Iconum: int64P(7)}},
		[]models.DealRecord{{Iconum: 7, LastUpdated: time.Now()}})
	require.Len(t, records, 1)
	assert.True(t, records[0].DatesMatch)
	assert.True(t, records[0].PricesMatch)
}

func TestCompareChineseTickerFallback(t *testing.T) {
	c := testComparator(time.Now())

	// No entity mapping resolved, but the numeric code matches a deal.
	listings := []models.Listing{{
		CompanyName: "上海科技", Ticker: "688001", Exchange: "Shanghai Stock Exchange",
	}}
	deals := []models.DealRecord{{
		Iconum: 55, CompanyName: "Shanghai Tech Co", Ticker: "688001", LastUpdated: time.Now(),
	}}

	records := c.Compare(listings, nil, deals)
	require.Len(t, records, 1)
	assert.Equal(t, "Shanghai Tech Co", records[0].CompanyNameInternal)
	require.NotNil(t, records[0].Iconum)
	assert.Equal(t, int64(55), *records[0].Iconum)

	// The fallback is reserved for Chinese venues.
	listings[0].Exchange = "NYSE"
	records = c.Compare(listings, nil, deals)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].CompanyNameInternal)
}

func TestComparePrefersLatestDealPerIconum(t *testing.T) {
	c := testComparator(time.Now())
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	listings := []models.Listing{{CompanyName: "Acme Corp"}}
	mappings := []models.EntityMapping{{CompanyName: "Acme Corp", Iconum: int64P(31)}}
	deals := []models.DealRecord{
		{Iconum: 31, MasterDeal: 1, LastUpdated: old},
		{Iconum: 31, MasterDeal: 2, LastUpdated: recent},
	}

	records := c.Compare(listings, mappings, deals)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].MasterDeal)
	assert.Equal(t, int64(2), *records[0].MasterDeal)
}

func TestNearTermWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	c := testComparator(now)

	records := []models.ComparisonRecord{
		{CompanyNameExternal: "Soon", IPODate: timeP(now.AddDate(0, 0, 5))},
		{CompanyNameExternal: "Today", IPODate: timeP(now.Truncate(24 * time.Hour))},
		{CompanyNameExternal: "Far", IPODate: timeP(now.AddDate(0, 0, 60))},
		{CompanyNameExternal: "Listed Last Year", IPODate: timeP(now.AddDate(-1, 0, 0))},
		{CompanyNameExternal: "Yesterday", IPODate: timeP(now.AddDate(0, 0, -1))},
		{CompanyNameExternal: "Undated"},
		{CompanyNameExternal: "Pulled", Status: "Withdrawn"},
	}

	out := c.NearTerm(records, 14)
	require.Len(t, out, 3)
	assert.Equal(t, "Soon", out[0].CompanyNameExternal)
	assert.Equal(t, "Today", out[1].CompanyNameExternal)
	assert.Equal(t, "Pulled", out[2].CompanyNameExternal)
}
