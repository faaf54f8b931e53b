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

func testAggregator(now time.Time) *AggregatorService {
	a := NewAggregatorService(logrus.New())
	a.now = func() time.Time { return now }
	return a
}

func listing(name, ticker string, added time.Time) models.Listing {
	return models.Listing{CompanyName: name, Ticker: ticker, TimeAdded: added}
}

func TestDeduplicateKeepsLatestObservation(t *testing.T) {
	a := testAggregator(time.Now())
	older := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	stale := listing("Acme Corp", "ACME", older)
	stale.Status = "stale"
	fresh := listing("Acme Corp", "ACME", newer)
	fresh.Status = "fresh"

	out := a.Deduplicate([]models.Listing{stale, fresh})
	require.Len(t, out, 1)
	assert.Equal(t, "fresh", out[0].Status)

	// Order of arrival must not matter.
	out = a.Deduplicate([]models.Listing{fresh, stale})
	require.Len(t, out, 1)
	assert.Equal(t, "fresh", out[0].Status)
}

func TestDeduplicateCollapsesSpellingVariants(t *testing.T) {
	a := testAggregator(time.Now())
	older := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	// Two sources report the same issuer under different legal spellings.
	out := a.Deduplicate([]models.Listing{
		listing("Acme Corp.", "ACME", older),
		listing("ACME Incorporated", "acme", newer),
	})
	require.Len(t, out, 1)
	assert.Equal(t, "ACME Incorporated", out[0].CompanyName)
}

func TestDeduplicateFallsBackToExchangeWithoutTicker(t *testing.T) {
	a := testAggregator(time.Now())
	added := time.Now()

	l1 := models.Listing{CompanyName: "Acme Corp", Exchange: "Euronext Paris", TimeAdded: added}
	l2 := models.Listing{CompanyName: "Acme Corp", Exchange: "Euronext Growth Oslo", TimeAdded: added}

	out := a.Deduplicate([]models.Listing{l1, l2})
	assert.Len(t, out, 2)
}

func TestAggregateDerivesStatus(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	a := testAggregator(now)

	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	future := today.AddDate(0, 0, 5)

	listingToday := listing("Today Co", "TOD", now)
	listingToday.IPODate = &today
	upcoming := listing("Soon Co", "SOON", now)
	upcoming.IPODate = &future
	priced := listing("Priced Co", "PRC", now)
	priced.IPODate = &future
	priced.Status = "Priced"
	withdrawn := listing("Gone Co", "GONE", now)
	withdrawn.Status = "Withdrawn"

	out := a.Aggregate(map[string][]models.Listing{
		"src": {listingToday, upcoming, priced, withdrawn},
	})
	require.Len(t, out, 4)

	byName := make(map[string]models.Listing)
	for _, l := range out {
		byName[l.CompanyName] = l
	}
	assert.Equal(t, "Listing Today", byName["Today Co"].Status)
	assert.Equal(t, "Upcoming", byName["Soon Co"].Status)
	// A future date prefixes the source status instead of replacing it.
	assert.Equal(t, "Upcoming Priced", byName["Priced Co"].Status)
	assert.Equal(t, "Withdrawn", byName["Gone Co"].Status)
}

func TestAggregateIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	a := testAggregator(now)

	nameGen := gen.OneConstOf("Acme Corp", "Beta Ltd", "Gamma Inc", "Delta Co", "Epsilon AG")
	tickerGen := gen.OneConstOf("AAA", "BBB", "CCC", "")

	properties.Property("aggregating an aggregated set changes nothing", prop.ForAll(
		func(names []string, tickers []string, offsets []int) bool {
			n := len(names)
			if len(tickers) < n {
				n = len(tickers)
			}
			if len(offsets) < n {
				n = len(offsets)
			}
			var input []models.Listing
			for i := 0; i < n; i++ {
				input = append(input, listing(names[i], tickers[i], now.AddDate(0, 0, -offsets[i])))
			}

			once := a.Aggregate(map[string][]models.Listing{"src": input})
			twice := a.Aggregate(map[string][]models.Listing{"src": once})
			if len(once) != len(twice) {
				return false
			}
			for i := range once {
				if once[i].DedupKey() != twice[i].DedupKey() || !once[i].TimeAdded.Equal(twice[i].TimeAdded) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(nameGen),
		gen.SliceOf(tickerGen),
		gen.SliceOf(gen.IntRange(0, 30)),
	))

	properties.TestingRun(t)
}

func TestMergeSupplementalOnlyAddsUnknownCompanies(t *testing.T) {
	a := testAggregator(time.Now())
	added := time.Now()

	primary := []models.Listing{listing("Acme Corp", "ACME", added)}
	supplemental := []models.Listing{
		listing("Acme Corp", "ACME2", added),   // same name, different ticker
		listing("Brand New Co", "NEW", added),  // genuinely new
		listing("Other Co", "ACME", added),     // ticker collides with primary
	}

	out := a.MergeSupplemental(primary, supplemental)
	require.Len(t, out, 2)
	assert.Equal(t, "Acme Corp", out[0].CompanyName)
	assert.Equal(t, "Brand New Co", out[1].CompanyName)
}
