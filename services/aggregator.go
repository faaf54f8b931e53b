package services

import (
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ipomonitor/models"
)

// AggregatorService merges per-source listings into the combined IPO set:
// one row per (company, ticker) with the newest observation winning.
type AggregatorService struct {
	logger *logrus.Logger
	now    func() time.Time
}

// NewAggregatorService creates an aggregator service
func NewAggregatorService(logger *logrus.Logger) *AggregatorService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AggregatorService{logger: logger, now: time.Now}
}

// Aggregate unions the per-source listing sets, drops duplicate
// observations keeping the most recently added, derives listing status
// from the IPO date, and returns the result ordered by IPO date then name.
// Aggregating an already aggregated set returns it unchanged.
func (a *AggregatorService) Aggregate(perSource map[string][]models.Listing) []models.Listing {
	var all []models.Listing
	for _, listings := range perSource {
		all = append(all, listings...)
	}

	deduped := a.Deduplicate(all)
	for i := range deduped {
		deduped[i].Status = a.deriveStatus(deduped[i])
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		di, dj := deduped[i].IPODate, deduped[j].IPODate
		switch {
		case di == nil && dj == nil:
			return deduped[i].CompanyName < deduped[j].CompanyName
		case di == nil:
			return false
		case dj == nil:
			return true
		case !di.Equal(*dj):
			return di.Before(*dj)
		}
		return deduped[i].CompanyName < deduped[j].CompanyName
	})

	a.logger.WithFields(logrus.Fields{
		"sources":    len(perSource),
		"rows_in":    len(all),
		"aggregated": len(deduped),
	}).Info("Aggregated source listings")

	return deduped
}

// Deduplicate keeps one row per dedup key, preferring the latest TimeAdded.
// On a tie the row seen later in the input wins, so re-running the pass
// over its own output is a no-op. The key runs through the formatted
// company name, so two sources spelling the same issuer differently
// still collapse when the ticker agrees.
func (a *AggregatorService) Deduplicate(listings []models.Listing) []models.Listing {
	index := make(map[string]int, len(listings))
	out := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		key := aggregateKey(l)
		if at, ok := index[key]; ok {
			if !l.TimeAdded.Before(out[at].TimeAdded) {
				out[at] = l
			}
			continue
		}
		index[key] = len(out)
		out = append(out, l)
	}
	return out
}

// MergeSupplemental adds rows from secondary sources (calendar
// aggregators, REST feeds) only for companies the exchange sources have
// not already reported. Exchange data is authoritative; supplemental data
// only fills gaps.
func (a *AggregatorService) MergeSupplemental(primary, supplemental []models.Listing) []models.Listing {
	seen := make(map[string]bool, len(primary))
	for _, l := range primary {
		seen[normalizeKey(l.CompanyName)] = true
		if l.Ticker != "" {
			seen[normalizeKey(l.Ticker)] = true
		}
	}

	out := primary
	added := 0
	for _, l := range supplemental {
		if seen[normalizeKey(l.CompanyName)] {
			continue
		}
		if l.Ticker != "" && seen[normalizeKey(l.Ticker)] {
			continue
		}
		seen[normalizeKey(l.CompanyName)] = true
		out = append(out, l)
		added++
	}

	a.logger.WithFields(logrus.Fields{
		"primary":      len(primary),
		"supplemental": len(supplemental),
		"added":        added,
	}).Debug("Merged supplemental listings")

	return out
}

// deriveStatus classifies a listing relative to today. A future date
// prefixes the source status with "Upcoming" rather than replacing it,
// so "Upcoming Priced" and plain "Upcoming" both occur.
func (a *AggregatorService) deriveStatus(l models.Listing) string {
	if l.IPODate == nil {
		return l.Status
	}
	today := a.now().Truncate(24 * time.Hour)
	date := l.IPODate.Truncate(24 * time.Hour)
	switch {
	case date.Equal(today):
		return "Listing Today"
	case date.After(today):
		return strings.TrimSpace("Upcoming " + l.Status)
	}
	return l.Status
}

// aggregateKey identifies "the same" listing across sources: the formatted
// company name plus the ticker, falling back to the exchange before a
// ticker is assigned.
func aggregateKey(l models.Listing) string {
	name := FormatCompanyName(l.CompanyName)
	if l.Ticker != "" {
		return name + "\x00" + strings.ToUpper(strings.TrimSpace(l.Ticker))
	}
	return name + "\x00" + normalizeKey(l.Exchange)
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
