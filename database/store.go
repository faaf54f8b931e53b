package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"ipomonitor/models"
)

var validTableName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// EnsureSourceTable creates a source's normalized listing table when it
// does not exist yet. Per-source tables keep each source's observation
// history independent; the layout mirrors all_ipos.
func EnsureSourceTable(ctx context.Context, table string) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid source table name %q", table)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id SERIAL PRIMARY KEY,
		company_name TEXT NOT NULL,
		ticker TEXT NOT NULL DEFAULT '',
		exchange TEXT NOT NULL DEFAULT '',
		ipo_date DATE,
		price DOUBLE PRECISION,
		price_range TEXT NOT NULL DEFAULT '',
		shares_offered DOUBLE PRECISION,
		status TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		time_added TIMESTAMPTZ NOT NULL,
		time_removed TIMESTAMPTZ
	)`, table)
	_, err := DB.ExecContext(ctx, ddl)
	return err
}

// SyncSourceListings reconciles a source table with the latest scrape:
// rows no longer on the page get time_removed stamped, rows not seen
// before are inserted with the scrape time as time_added. Existing live
// rows keep their original time_added, so observation age survives.
func SyncSourceListings(ctx context.Context, table string, listings []models.Listing, checked time.Time) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid source table name %q", table)
	}

	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, company_name, ticker, exchange FROM %s WHERE time_removed IS NULL`, table))
	if err != nil {
		return err
	}
	live := make(map[string]int64)
	for rows.Next() {
		var id int64
		var l models.Listing
		if err := rows.Scan(&id, &l.CompanyName, &l.Ticker, &l.Exchange); err != nil {
			rows.Close()
			return err
		}
		live[l.DedupKey()] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	current := make(map[string]bool, len(listings))
	inserted := 0
	for _, l := range listings {
		key := l.DedupKey()
		current[key] = true
		if _, exists := live[key]; exists {
			continue
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (company_name, ticker, exchange, ipo_date, price, price_range,
			                 shares_offered, status, notes, time_added)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, table),
			l.CompanyName, l.Ticker, l.Exchange, nullTime(l.IPODate), nullFloat(l.Price),
			l.PriceRange, nullFloat(l.SharesOffered), l.Status, l.Notes, checked)
		if err != nil {
			return err
		}
		inserted++
	}

	removed := 0
	for key, id := range live {
		if current[key] {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET time_removed = $1 WHERE id = $2`, table), checked, id); err != nil {
			return err
		}
		removed++
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"table":    table,
		"inserted": inserted,
		"removed":  removed,
		"live":     len(current),
	}).Debug("Synced source listings")

	return nil
}

// LoadSourceListings returns a source table's rows that have not been
// marked removed.
func LoadSourceListings(ctx context.Context, table string) ([]models.Listing, error) {
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid source table name %q", table)
	}
	rows, err := DB.QueryContext(ctx, fmt.Sprintf(
		`SELECT company_name, ticker, exchange, ipo_date, price, price_range,
		        shares_offered, status, notes, time_added, time_removed
		 FROM %s WHERE time_removed IS NULL ORDER BY time_added`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanListings(rows)
}

// ReplaceAggregatedListings rebuilds all_ipos from the aggregated set.
func ReplaceAggregatedListings(ctx context.Context, listings []models.Listing) error {
	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM all_ipos`); err != nil {
		return err
	}
	for _, l := range listings {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO all_ipos (company_name, ticker, exchange, ipo_date, price, price_range,
			                       shares_offered, status, notes, time_added, time_removed)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			l.CompanyName, l.Ticker, l.Exchange, nullTime(l.IPODate), nullFloat(l.Price),
			l.PriceRange, nullFloat(l.SharesOffered), l.Status, l.Notes, l.TimeAdded,
			nullTime(l.TimeRemoved))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadAggregatedListings returns the current aggregated set.
func LoadAggregatedListings(ctx context.Context) ([]models.Listing, error) {
	rows, err := DB.QueryContext(ctx,
		`SELECT company_name, ticker, exchange, ipo_date, price, price_range,
		        shares_offered, status, notes, time_added, time_removed
		 FROM all_ipos ORDER BY ipo_date NULLS LAST, company_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanListings(rows)
}

// UpsertEntityMappings writes mappings keyed by company name. A fresh
// mapped decision overwrites an old unmapped one and vice versa.
func UpsertEntityMappings(ctx context.Context, mappings []models.EntityMapping) error {
	for _, m := range mappings {
		_, err := DB.ExecContext(ctx,
			`INSERT INTO entity_mapping (company_name, entity_name, iconum, entity_id, best_candidate,
			                             map_status, similarity_score, confidence_score, country_name,
			                             entity_type, mapped_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (company_name) DO UPDATE SET
			   entity_name = EXCLUDED.entity_name,
			   iconum = EXCLUDED.iconum,
			   entity_id = EXCLUDED.entity_id,
			   best_candidate = EXCLUDED.best_candidate,
			   map_status = EXCLUDED.map_status,
			   similarity_score = EXCLUDED.similarity_score,
			   confidence_score = EXCLUDED.confidence_score,
			   country_name = EXCLUDED.country_name,
			   entity_type = EXCLUDED.entity_type,
			   mapped_at = EXCLUDED.mapped_at`,
			m.CompanyName, m.EntityName, nullInt(m.Iconum), m.EntityID, m.BestCandidate,
			m.MapStatus, nullFloat(m.SimilarityScore), nullFloat(m.ConfidenceScore),
			m.CountryName, m.EntityType, m.MappedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// LoadEntityMappings returns every stored mapping.
func LoadEntityMappings(ctx context.Context) ([]models.EntityMapping, error) {
	rows, err := DB.QueryContext(ctx,
		`SELECT company_name, entity_name, iconum, entity_id, best_candidate, map_status,
		        similarity_score, confidence_score, country_name, entity_type, mapped_at
		 FROM entity_mapping`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EntityMapping
	for rows.Next() {
		var m models.EntityMapping
		var iconum sql.NullInt64
		var sim, conf sql.NullFloat64
		if err := rows.Scan(&m.CompanyName, &m.EntityName, &iconum, &m.EntityID, &m.BestCandidate,
			&m.MapStatus, &sim, &conf, &m.CountryName, &m.EntityType, &m.MappedAt); err != nil {
			return nil, err
		}
		m.Iconum = int64Ptr(iconum)
		m.SimilarityScore = floatPtr(sim)
		m.ConfidenceScore = floatPtr(conf)
		out = append(out, m)
	}
	return out, rows.Err()
}

// LoadDealRecords returns the internal deal extract.
func LoadDealRecords(ctx context.Context) ([]models.DealRecord, error) {
	rows, err := DB.QueryContext(ctx,
		`SELECT iconum, company_name, master_deal, cusip, client_deal_id, ticker, exchange,
		        price, min_offering_price, max_offering_price,
		        announcement_date, pricing_date, trading_date, closing_date,
		        deal_status, last_updated_date_utc
		 FROM peo_pipe`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DealRecord
	for rows.Next() {
		var d models.DealRecord
		var price, minP, maxP sql.NullFloat64
		var ann, pricing, trading, closing sql.NullTime
		if err := rows.Scan(&d.Iconum, &d.CompanyName, &d.MasterDeal, &d.CUSIP, &d.ClientDealID,
			&d.Ticker, &d.Exchange, &price, &minP, &maxP,
			&ann, &pricing, &trading, &closing, &d.DealStatus, &d.LastUpdated); err != nil {
			return nil, err
		}
		d.Price = floatPtr(price)
		d.MinOfferPrice = floatPtr(minP)
		d.MaxOfferPrice = floatPtr(maxP)
		d.AnnouncementDate = timePtr(ann)
		d.PricingDate = timePtr(pricing)
		d.TradingDate = timePtr(trading)
		d.ClosingDate = timePtr(closing)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ReplaceComparisonResults rebuilds the derived comparison table.
func ReplaceComparisonResults(ctx context.Context, records []models.ComparisonRecord) error {
	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM comparison_results`); err != nil {
		return err
	}
	for _, r := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO comparison_results (ipo_dates_match, ipo_prices_match, iconum,
			   company_name_external, exchange_external, ipo_date, price_external, price_range,
			   shares_offered, ticker, status, notes, time_added, company_name_fds, master_deal,
			   client_deal_id, cusip, exchange_fds, price_fds, trading_date, deal_status,
			   last_updated_date_utc)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
			r.DatesMatch, r.PricesMatch, nullInt(r.Iconum),
			r.CompanyNameExternal, r.ExchangeExternal, nullTime(r.IPODate), nullFloat(r.PriceExternal),
			r.PriceRange, nullFloat(r.SharesOffered), r.Ticker, r.Status, r.Notes, r.TimeAdded,
			r.CompanyNameInternal, nullInt(r.MasterDeal), r.ClientDealID,
			r.CUSIP, r.ExchangeInternal, nullFloat(r.PriceInternal),
			nullTime(r.TradingDate), r.DealStatus, nullTime(r.LastUpdated))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadComparisonResults returns the stored comparison output.
func LoadComparisonResults(ctx context.Context) ([]models.ComparisonRecord, error) {
	rows, err := DB.QueryContext(ctx,
		`SELECT ipo_dates_match, ipo_prices_match, iconum, company_name_external,
		        exchange_external, ipo_date, price_external, price_range, shares_offered,
		        ticker, status, notes, time_added, company_name_fds, master_deal,
		        client_deal_id, cusip, exchange_fds, price_fds, trading_date, deal_status,
		        last_updated_date_utc
		 FROM comparison_results`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ComparisonRecord
	for rows.Next() {
		var r models.ComparisonRecord
		var iconum, master sql.NullInt64
		var priceExt, priceInt, shares sql.NullFloat64
		var ipoDate, trading, updated sql.NullTime
		if err := rows.Scan(&r.DatesMatch, &r.PricesMatch, &iconum, &r.CompanyNameExternal,
			&r.ExchangeExternal, &ipoDate, &priceExt, &r.PriceRange, &shares, &r.Ticker,
			&r.Status, &r.Notes, &r.TimeAdded, &r.CompanyNameInternal, &master, &r.ClientDealID,
			&r.CUSIP, &r.ExchangeInternal, &priceInt, &trading, &r.DealStatus, &updated); err != nil {
			return nil, err
		}
		r.Iconum = int64Ptr(iconum)
		r.MasterDeal = int64Ptr(master)
		r.PriceExternal = floatPtr(priceExt)
		r.PriceInternal = floatPtr(priceInt)
		r.SharesOffered = floatPtr(shares)
		r.IPODate = timePtr(ipoDate)
		r.TradingDate = timePtr(trading)
		r.LastUpdated = timePtr(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertRPDRecords writes ticket snapshots keyed by formatted company name.
func UpsertRPDRecords(ctx context.Context, records []models.RPDRecord) error {
	for _, r := range records {
		_, err := DB.ExecContext(ctx,
			`INSERT INTO rpd_ipo_monitoring (formatted_company_name, iconum, cusip, company_name,
			   ticker, exchange, ipo_date, price, price_range, status, notes, last_checked,
			   ipo_deal_id, rpd_number, rpd_link, rpd_creation_date, rpd_status)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
			 ON CONFLICT (formatted_company_name) DO UPDATE SET
			   iconum = EXCLUDED.iconum,
			   cusip = EXCLUDED.cusip,
			   company_name = EXCLUDED.company_name,
			   ticker = EXCLUDED.ticker,
			   exchange = EXCLUDED.exchange,
			   ipo_date = EXCLUDED.ipo_date,
			   price = EXCLUDED.price,
			   price_range = EXCLUDED.price_range,
			   status = EXCLUDED.status,
			   notes = EXCLUDED.notes,
			   last_checked = EXCLUDED.last_checked,
			   ipo_deal_id = EXCLUDED.ipo_deal_id,
			   rpd_number = EXCLUDED.rpd_number,
			   rpd_link = EXCLUDED.rpd_link,
			   rpd_creation_date = EXCLUDED.rpd_creation_date,
			   rpd_status = EXCLUDED.rpd_status`,
			r.FormattedName, nullInt(r.Iconum), r.CUSIP, r.CompanyName,
			r.Ticker, r.Exchange, nullTime(r.IPODate), nullFloat(r.Price), r.PriceRange,
			r.Status, r.Notes, nullTime(r.LastChecked), r.DealID,
			nullInt(r.RPDNumber), r.RPDLink, nullTime(r.RPDCreated), r.RPDStatus)
		if err != nil {
			return err
		}
	}
	return nil
}

// LoadRPDRecords returns every ticket snapshot.
func LoadRPDRecords(ctx context.Context) ([]models.RPDRecord, error) {
	rows, err := DB.QueryContext(ctx,
		`SELECT formatted_company_name, iconum, cusip, company_name, ticker, exchange,
		        ipo_date, price, price_range, status, notes, last_checked, ipo_deal_id,
		        rpd_number, rpd_link, rpd_creation_date, rpd_status
		 FROM rpd_ipo_monitoring`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RPDRecord
	for rows.Next() {
		var r models.RPDRecord
		var iconum, rpdNumber sql.NullInt64
		var price sql.NullFloat64
		var ipoDate, lastChecked, created sql.NullTime
		if err := rows.Scan(&r.FormattedName, &iconum, &r.CUSIP, &r.CompanyName, &r.Ticker,
			&r.Exchange, &ipoDate, &price, &r.PriceRange, &r.Status, &r.Notes, &lastChecked,
			&r.DealID, &rpdNumber, &r.RPDLink, &created, &r.RPDStatus); err != nil {
			return nil, err
		}
		r.Iconum = int64Ptr(iconum)
		r.RPDNumber = int64Ptr(rpdNumber)
		r.Price = floatPtr(price)
		r.IPODate = timePtr(ipoDate)
		r.LastChecked = timePtr(lastChecked)
		r.RPDCreated = timePtr(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertScrapeResults appends fetch outcomes to the scrape log.
func InsertScrapeResults(ctx context.Context, results []models.ScrapeResult) error {
	for _, r := range results {
		if _, err := DB.ExecContext(ctx,
			`INSERT INTO webscraping_results (time_checked, source, result) VALUES ($1, $2, $3)`,
			r.TimeChecked, r.Source, r.Success); err != nil {
			return err
		}
	}
	return nil
}

// LoadSourcePerformance summarizes each source's scrape outcomes over the
// given window.
func LoadSourcePerformance(ctx context.Context, since time.Time) ([]models.SourcePerformance, error) {
	rows, err := DB.QueryContext(ctx,
		`SELECT source,
		        COUNT(*) FILTER (WHERE result),
		        COUNT(*),
		        MAX(time_checked) FILTER (WHERE NOT result),
		        MAX(time_checked) FILTER (WHERE result)
		 FROM webscraping_results
		 WHERE time_checked >= $1
		 GROUP BY source
		 ORDER BY source`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SourcePerformance
	for rows.Next() {
		var p models.SourcePerformance
		var successes, total int
		var lastFailure, lastSuccess sql.NullTime
		if err := rows.Scan(&p.Source, &successes, &total, &lastFailure, &lastSuccess); err != nil {
			return nil, err
		}
		p.RecentSuccesses = successes
		if total > 0 {
			p.RecentSuccessRate = float64(successes) / float64(total)
		}
		p.LastFailure = timePtr(lastFailure)
		p.LastSuccess = timePtr(lastSuccess)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PruneScrapeResults deletes scrape log rows older than the cutoff.
func PruneScrapeResults(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := DB.ExecContext(ctx,
		`DELETE FROM webscraping_results WHERE time_checked < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanListings(rows *sql.Rows) ([]models.Listing, error) {
	var out []models.Listing
	for rows.Next() {
		var l models.Listing
		var ipoDate, removed sql.NullTime
		var price, shares sql.NullFloat64
		if err := rows.Scan(&l.CompanyName, &l.Ticker, &l.Exchange, &ipoDate, &price,
			&l.PriceRange, &shares, &l.Status, &l.Notes, &l.TimeAdded, &removed); err != nil {
			return nil, err
		}
		l.IPODate = timePtr(ipoDate)
		l.TimeRemoved = timePtr(removed)
		l.Price = floatPtr(price)
		l.SharesOffered = floatPtr(shares)
		out = append(out, l)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}
