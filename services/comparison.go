package services

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ipomonitor/models"
)

// ComparisonService joins the aggregated external listings against the
// internal deal extract and flags date and price disagreements. The join
// runs through the entity mapping; Chinese exchange rows that the mapper
// could not resolve get a second chance on the numeric ticker.
type ComparisonService struct {
	logger *logrus.Logger
	now    func() time.Time
}

// NewComparisonService creates a comparison service
func NewComparisonService(logger *logrus.Logger) *ComparisonService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ComparisonService{logger: logger, now: time.Now}
}

// Compare builds one comparison record per aggregated listing. Listings
// with no mapped entity or no matching deal keep empty internal fields;
// a field missing on either side counts as a match, only a present and
// different value raises a flag.
func (c *ComparisonService) Compare(listings []models.Listing, mappings []models.EntityMapping, deals []models.DealRecord) []models.ComparisonRecord {
	mappingByName := make(map[string]models.EntityMapping, len(mappings))
	for _, m := range mappings {
		mappingByName[strings.ToLower(strings.TrimSpace(m.CompanyName))] = m
	}

	dealsByIconum := make(map[int64][]models.DealRecord, len(deals))
	for _, d := range deals {
		dealsByIconum[d.Iconum] = append(dealsByIconum[d.Iconum], d)
	}

	records := make([]models.ComparisonRecord, 0, len(listings))
	joined := 0
	for _, l := range listings {
		rec := models.ComparisonRecord{
			CompanyNameExternal: l.CompanyName,
			ExchangeExternal:    l.Exchange,
			IPODate:             l.IPODate,
			PriceExternal:       l.Price,
			PriceRange:          l.PriceRange,
			SharesOffered:       l.SharesOffered,
			Ticker:              l.Ticker,
			Status:              l.Status,
			Notes:               l.Notes,
			TimeAdded:           l.TimeAdded,
		}

		if m, ok := mappingByName[strings.ToLower(strings.TrimSpace(l.CompanyName))]; ok && m.Iconum != nil {
			rec.Iconum = m.Iconum
		}

		deal, found := c.findDeal(rec, l, dealsByIconum, deals)
		if found {
			joined++
			rec.CompanyNameInternal = deal.CompanyName
			rec.MasterDeal = &deal.MasterDeal
			rec.ClientDealID = deal.ClientDealID
			rec.CUSIP = deal.CUSIP
			rec.ExchangeInternal = deal.Exchange
			rec.PriceInternal = deal.Price
			rec.TradingDate = deal.TradingDate
			rec.DealStatus = deal.DealStatus
			lu := deal.LastUpdated
			rec.LastUpdated = &lu
			if rec.Iconum == nil {
				ic := deal.Iconum
				rec.Iconum = &ic
			}
		}

		rec.DatesMatch = datesAgree(rec.IPODate, rec.TradingDate)
		rec.PricesMatch = pricesAgree(rec.PriceExternal, rec.PriceInternal)
		records = append(records, rec)
	}

	c.logger.WithFields(logrus.Fields{
		"listings": len(listings),
		"deals":    len(deals),
		"joined":   joined,
	}).Info("Compared external listings against deal records")

	return records
}

// findDeal locates the internal deal for a listing: by iconum when the
// entity mapper resolved one, otherwise by ticker for the Chinese
// exchanges, where numeric codes are stable but transliterated names
// rarely survive the mapper.
func (c *ComparisonService) findDeal(rec models.ComparisonRecord, l models.Listing, byIconum map[int64][]models.DealRecord, deals []models.DealRecord) (models.DealRecord, bool) {
	if rec.Iconum != nil {
		if candidates := byIconum[*rec.Iconum]; len(candidates) > 0 {
			return latestDeal(candidates), true
		}
	}

	if l.Ticker != "" && isChineseExchange(l.Exchange) {
		var candidates []models.DealRecord
		for _, d := range deals {
			if SameTicker(d.Ticker, l.Ticker) {
				candidates = append(candidates, d)
			}
		}
		if len(candidates) > 0 {
			return latestDeal(candidates), true
		}
	}

	return models.DealRecord{}, false
}

// latestDeal prefers the most recently updated record when an iconum has
// several deals in flight.
func latestDeal(candidates []models.DealRecord) models.DealRecord {
	best := candidates[0]
	for _, d := range candidates[1:] {
		if d.LastUpdated.After(best.LastUpdated) {
			best = d
		}
	}
	return best
}

func isChineseExchange(exchange string) bool {
	e := strings.ToLower(exchange)
	return strings.Contains(e, "shanghai") || strings.Contains(e, "shenzhen") ||
		strings.Contains(e, "hong kong")
}

// datesAgree compares calendar days; a side without a date never raises a
// mismatch.
func datesAgree(external, internal *time.Time) bool {
	if external == nil || internal == nil {
		return true
	}
	ey, em, ed := external.Date()
	iy, im, id := internal.Date()
	return ey == iy && em == im && ed == id
}

// pricesAgree compares prices to the cent; a side without a price never
// raises a mismatch.
func pricesAgree(external, internal *float64) bool {
	if external == nil || internal == nil {
		return true
	}
	diff := *external - *internal
	if diff < 0 {
		diff = -diff
	}
	return diff < 0.005
}

// NearTerm filters comparison records to those listing within the window
// worth a ticket: dated records from today out to horizon days, plus
// withdrawn rows. Listings already behind us get no ticket.
func (c *ComparisonService) NearTerm(records []models.ComparisonRecord, horizon int) []models.ComparisonRecord {
	today := c.now().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, horizon)

	var out []models.ComparisonRecord
	for _, r := range records {
		if r.Status == "Withdrawn" {
			out = append(out, r)
			continue
		}
		if r.IPODate == nil {
			continue
		}
		day := r.IPODate.Truncate(24 * time.Hour)
		if day.Before(today) || day.After(cutoff) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Mismatches returns the records where a present value disagrees across
// systems, the subset the daily report highlights.
func (c *ComparisonService) Mismatches(records []models.ComparisonRecord) []models.ComparisonRecord {
	var out []models.ComparisonRecord
	for _, r := range records {
		if !r.DatesMatch || !r.PricesMatch {
			out = append(out, r)
		}
	}
	return out
}
