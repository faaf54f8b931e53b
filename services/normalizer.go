package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ipomonitor/models"
	"ipomonitor/shared"
)

// NormalizerService turns raw scraped tables into canonical listings by
// interpreting each source's NormalizeSpec. It holds no per-source code;
// everything source-specific lives in the registry.
type NormalizerService struct {
	logger *logrus.Logger
	now    func() time.Time
}

// NewNormalizerService creates a normalizer service
func NewNormalizerService(logger *logrus.Logger) *NormalizerService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &NormalizerService{logger: logger, now: time.Now}
}

// Normalize converts one source's raw table into canonical listings.
// Rows with no company name after cleanup are dropped; a row that fails
// date or number parsing keeps the row and nulls the field.
func (n *NormalizerService) Normalize(src models.SourceConfig, raw *models.RawTable) ([]models.Listing, error) {
	if raw == nil || len(raw.Rows) == 0 {
		return nil, nil
	}

	spec := src.Spec
	compiled, err := compileSpec(spec)
	if err != nil {
		return nil, shared.NewServiceError(shared.ErrorCategoryConfiguration, "BAD_SPEC",
			"invalid normalization spec for "+src.Name, "normalizer", "Normalize", false, err)
	}

	// A renamed column vanishing means the page layout changed; silently
	// producing empty listings would mark every live row removed downstream.
	for from := range spec.Rename {
		if !raw.HasColumn(from) {
			return nil, shared.NewServiceError(shared.ErrorCategoryProcessing, "MISSING_COLUMN",
				"source "+src.Name+" no longer provides column "+from, "normalizer", "Normalize", true, nil)
		}
	}

	timeAdded := raw.TimeChecked
	if timeAdded.IsZero() {
		timeAdded = n.now()
	}

	listings := make([]models.Listing, 0, len(raw.Rows))
	dropped := 0

rows:
	for i := range raw.Rows {
		cells := make(map[string]string, len(spec.Rename))
		for from, to := range spec.Rename {
			cells[to] = strings.TrimSpace(raw.Cell(i, from))
		}

		for j, scrub := range spec.Scrubs {
			if v, ok := cells[scrub.Column]; ok && v != "" {
				cells[scrub.Column] = compiled.scrubs[j].ReplaceAllString(v, scrub.With)
			}
		}
		for j, ex := range spec.Extracts {
			if m := compiled.extracts[j].FindStringSubmatch(cells[ex.From]); len(m) > 1 {
				cells[ex.Target] = strings.TrimSpace(m[1])
			}
		}
		if spec.RowHook != nil {
			spec.RowHook(cells)
		}

		for _, f := range spec.Filters {
			if matchesFilter(f, cells[f.Column]) {
				dropped++
				continue rows
			}
		}

		for _, rule := range spec.Notes {
			if rule.When != "" && cells[rule.When] == "" {
				continue
			}
			note := rule.Prefix
			if rule.From != "" {
				note += cells[rule.From]
			}
			cells["notes"] = appendNote(cells["notes"], note)
		}

		listing := n.project(spec, cells, timeAdded)
		if listing.CompanyName == "" {
			dropped++
			continue
		}
		listings = append(listings, listing)
	}

	if spec.PostProcess != nil {
		listings = spec.PostProcess(listings)
	}

	n.logger.WithFields(logrus.Fields{
		"source":  src.Name,
		"rows_in": len(raw.Rows),
		"listings": len(listings),
		"dropped": dropped,
	}).Debug("Normalized source table")

	return listings, nil
}

// project converts the cleaned cell map into a typed listing.
func (n *NormalizerService) project(spec models.NormalizeSpec, cells map[string]string, timeAdded time.Time) models.Listing {
	l := models.Listing{
		CompanyName: cleanCompanyName(cells["company_name"], spec.StripNameSuffixes),
		Ticker:      strings.TrimSpace(cells["ticker"]),
		Notes:       cells["notes"],
		TimeAdded:   timeAdded,
	}

	l.Exchange = spec.Exchange
	if spec.ExchangeFrom != "" {
		if part := cells[spec.ExchangeFrom]; part != "" {
			sep := spec.ExchangeSep
			if sep == "" {
				sep = " - "
			}
			if l.Exchange == "" {
				l.Exchange = part
			} else {
				l.Exchange = l.Exchange + sep + part
			}
		}
	} else if l.Exchange == "" {
		l.Exchange = cells["exchange"]
	}

	if spec.Status != "" {
		l.Status = spec.Status
	} else {
		l.Status = cells["status"]
	}

	if raw := cells["ipo_date"]; raw != "" {
		if t, ok := n.parseDate(spec, raw); ok {
			l.IPODate = &t
		}
	}

	priceText := cells["price"]
	if spec.PriceRangeLow != "" || spec.PriceRangeHigh != "" {
		low, lok := parseMoney(cells[spec.PriceRangeLow])
		high, hok := parseMoney(cells[spec.PriceRangeHigh])
		switch {
		case lok && hok && low == high:
			l.Price = &low
		case lok && hok:
			l.PriceRange = formatMoney(low) + " - " + formatMoney(high)
		case lok:
			l.Price = &low
		case hok:
			l.Price = &high
		}
	} else if spec.SplitPriceRange && strings.Contains(priceText, "-") {
		parts := strings.SplitN(priceText, "-", 2)
		low, lok := parseMoney(parts[0])
		high, hok := parseMoney(parts[1])
		if lok && hok && low != high {
			l.PriceRange = formatMoney(low) + " - " + formatMoney(high)
		} else if lok {
			l.Price = &low
		}
	} else if p, ok := parseMoney(priceText); ok {
		l.Price = &p
	}
	if l.PriceRange == "" {
		l.PriceRange = strings.TrimSpace(cells["price_range"])
	}

	if shares, ok := parseMoney(cells["shares_offered"]); ok {
		if spec.SharesMultiplier != 0 {
			shares *= spec.SharesMultiplier
		}
		l.SharesOffered = &shares
	}

	return l
}

// parseDate tries the spec layouts, then a small generic fallback set.
// Year-less values are backfilled to the nearest plausible year: within
// six months of today in either direction.
func (n *NormalizerService) parseDate(spec models.NormalizeSpec, value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	layouts := spec.DateLayouts
	if len(layouts) == 0 {
		if spec.DayFirst {
			layouts = []string{"02/01/2006", "2/1/2006", "2006-01-02"}
		} else {
			layouts = []string{"1/2/2006", "01/02/2006", "2006-01-02"}
		}
	}

	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		if spec.MonthDayOnly || t.Year() == 0 {
			return n.backfillYear(t), true
		}
		return t, true
	}
	return time.Time{}, false
}

// backfillYear assigns the current year to a year-less date, stepping a
// year either way so the result lands within six months of today.
func (n *NormalizerService) backfillYear(t time.Time) time.Time {
	now := n.now()
	candidate := time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	const sixMonths = 183 * 24 * time.Hour
	if candidate.Sub(now) > sixMonths {
		candidate = candidate.AddDate(-1, 0, 0)
	} else if now.Sub(candidate) > sixMonths {
		candidate = candidate.AddDate(1, 0, 0)
	}
	return candidate
}

type compiledSpec struct {
	scrubs   []*regexp.Regexp
	extracts []*regexp.Regexp
}

func compileSpec(spec models.NormalizeSpec) (compiledSpec, error) {
	var c compiledSpec
	for _, s := range spec.Scrubs {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return c, err
		}
		c.scrubs = append(c.scrubs, re)
	}
	for _, e := range spec.Extracts {
		re, err := regexp.Compile(e.Pattern)
		if err != nil {
			return c, err
		}
		c.extracts = append(c.extracts, re)
	}
	return c, nil
}

func matchesFilter(f models.RowFilter, value string) bool {
	found := false
	for _, sub := range f.Contains {
		if strings.Contains(value, sub) {
			found = true
			break
		}
	}
	if f.Invert {
		return !found
	}
	return found
}

func appendNote(existing, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return existing
	}
	if existing == "" {
		return note
	}
	return existing + "; " + note
}

// cleanCompanyName trims whitespace and strips instrument suffixes, longest
// first so overlapping suffixes resolve deterministically.
func cleanCompanyName(name string, suffixes []string) string {
	name = strings.Join(strings.Fields(name), " ")
	for {
		stripped := false
		for _, suf := range suffixes {
			trimmed := strings.TrimSpace(suf)
			if rest, ok := strings.CutSuffix(name, trimmed); ok {
				name = strings.TrimRight(strings.TrimSpace(rest), ",-")
				name = strings.TrimSpace(name)
				stripped = true
			}
		}
		if !stripped {
			break
		}
	}
	return name
}

var moneyScrub = regexp.MustCompile(`[^\d.\-]`)

// parseMoney parses a numeric cell, tolerating currency symbols, commas and
// thousands separators. Returns false for empty or non-numeric text.
func parseMoney(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" || strings.EqualFold(s, "TBA") || strings.EqualFold(s, "N/A") {
		return 0, false
	}
	s = moneyScrub.ReplaceAllString(s, "")
	if s == "" || s == "-" || s == "." {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
