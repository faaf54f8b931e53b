package models

import "time"

// DealRecord is one row of the internal deal-tracking extract (PEO-PIPE).
// Externally owned reference data; read-only from this pipeline's side.
type DealRecord struct {
	Iconum          int64      `json:"iconum"`
	CompanyName     string     `json:"company_name"`
	MasterDeal      int64      `json:"master_deal"`
	CUSIP           string     `json:"cusip"`
	ClientDealID    string     `json:"client_deal_id"`
	Ticker          string     `json:"ticker"`
	Exchange        string     `json:"exchange"`
	Price           *float64   `json:"price"`
	MinOfferPrice   *float64   `json:"min_offering_price"`
	MaxOfferPrice   *float64   `json:"max_offering_price"`
	AnnouncementDate *time.Time `json:"announcement_date"`
	PricingDate     *time.Time `json:"pricing_date"`
	TradingDate     *time.Time `json:"trading_date"`
	ClosingDate     *time.Time `json:"closing_date"`
	DealStatus      string     `json:"deal_status"`
	LastUpdated     time.Time  `json:"last_updated_date_utc"`
}

// ComparisonRecord joins one aggregated external IPO with its entity mapping
// and the matching internal deal record. Purely derived; rebuilt each run.
type ComparisonRecord struct {
	DatesMatch  bool `json:"ipo_dates_match"`
	PricesMatch bool `json:"ipo_prices_match"`

	Iconum              *int64     `json:"iconum"`
	CompanyNameExternal string     `json:"company_name_external"`
	ExchangeExternal    string     `json:"exchange_external"`
	IPODate             *time.Time `json:"ipo_date"`
	PriceExternal       *float64   `json:"price_external"`
	PriceRange          string     `json:"price_range"`
	SharesOffered       *float64   `json:"shares_offered"`
	Ticker              string     `json:"ticker"`
	Status              string     `json:"status"`
	Notes               string     `json:"notes"`
	TimeAdded           time.Time  `json:"time_added"`

	CompanyNameInternal string     `json:"company_name_fds"`
	MasterDeal          *int64     `json:"master_deal"`
	ClientDealID        string     `json:"client_deal_id"`
	CUSIP               string     `json:"cusip"`
	ExchangeInternal    string     `json:"exchange_fds"`
	PriceInternal       *float64   `json:"price_fds"`
	TradingDate         *time.Time `json:"trading_date"`
	DealStatus          string     `json:"deal_status"`
	LastUpdated         *time.Time `json:"last_updated_date_utc"`
}
