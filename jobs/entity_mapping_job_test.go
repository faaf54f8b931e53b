package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipomonitor/models"
)

func TestSelectUnmappedRetriesUnmappedNames(t *testing.T) {
	iconum := int64(42)
	listings := []models.Listing{
		{CompanyName: "Mapped Co"},
		{CompanyName: "Unmapped Co"},
		{CompanyName: "Fresh Co"},
	}
	existing := []models.EntityMapping{
		{CompanyName: "Mapped Co", MapStatus: models.MapStatusMapped, Iconum: &iconum},
		{CompanyName: "Unmapped Co", MapStatus: models.MapStatusUnmapped},
	}

	out := selectUnmapped(listings, existing)
	require.Len(t, out, 2)
	assert.Equal(t, "Unmapped Co", out[0].CompanyName)
	assert.Equal(t, "Fresh Co", out[1].CompanyName)
}

func TestSelectUnmappedMatchesNamesCaseInsensitively(t *testing.T) {
	iconum := int64(7)
	listings := []models.Listing{{CompanyName: "  ACME CORP "}}
	existing := []models.EntityMapping{
		{CompanyName: "Acme Corp", MapStatus: models.MapStatusMapped, Iconum: &iconum},
	}

	assert.Empty(t, selectUnmapped(listings, existing))
}
