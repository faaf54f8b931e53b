package models

import "time"

// Entity mapping statuses as reported by the concordance service. Anything
// at or below the confidence threshold is forced to unmapped locally.
const (
	MapStatusMapped   = "MAPPED"
	MapStatusUnmapped = "UNMAPPED"
)

// ConfidenceThreshold is the cut below which a returned match is discarded.
// A candidate at exactly the threshold is still rejected.
const ConfidenceThreshold = 0.75

// EntityMapping associates a company name as observed on a source with an
// internal entity identifier. At most one mapping survives per company name.
type EntityMapping struct {
	CompanyName string `json:"company_name"`
	// EntityName and EntityID are only set on confident matches; a
	// rejected candidate's identity is discarded.
	EntityName string `json:"entity_name"`
	Iconum     *int64 `json:"iconum"`
	EntityID   string `json:"entity_id"`
	// BestCandidate keeps the rejected candidate's name for the
	// unmapped review sheet.
	BestCandidate   string     `json:"best_candidate"`
	MapStatus       string     `json:"map_status"`
	SimilarityScore *float64   `json:"similarity_score"`
	ConfidenceScore *float64   `json:"confidence_score"`
	CountryName     string     `json:"country_name"`
	EntityType      string     `json:"entity_type"`
	MappedAt        time.Time  `json:"mapped_at"`
}

// MatchRequestRow is one name submitted to the concordance service. ClientID
// is a synthetic composite key (name|ticker|exchange) so decisions can be
// correlated back to source rows; the service only echoes the id and name.
type MatchRequestRow struct {
	ClientID    string
	CompanyName string
	Ticker      string
	Exchange    string
}

// MatchDecision is one row of the service's decision output.
type MatchDecision struct {
	ClientID        string   `json:"clientId"`
	ClientName      string   `json:"clientName"`
	EntityID        string   `json:"entityId"`
	EntityName      string   `json:"entityName"`
	MatchFlag       bool     `json:"matchFlag"`
	MapStatus       string   `json:"mapStatus"`
	SimilarityScore *float64 `json:"similarityScore"`
	ConfidenceScore *float64 `json:"confidenceScore"`
	CountryName     string   `json:"countryName"`
	EntityTypeDesc  string   `json:"entityTypeDescription"`
}
