package services

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentcomps/models"
	"rentcomps/utils"
)

func sampleComps() []models.ScoredListing {
	mk := func(id, city string, rent float64, sqft, score int, status models.ListingStatus) models.ScoredListing {
		l := models.Listing{ID: id, City: city, Rent: rent, Sqft: sqft, Status: status, Address: id + " Main St"}
		return models.ScoredListing{Listing: l, RentPerSqft: RentPerSqft(&l), Score: score, DistanceKnown: true, DistanceMiles: 1.2}
	}
	return []models.ScoredListing{
		mk("A", "Austin", 2000, 1000, 90, models.StatusLeased),
		mk("B", "Austin", 1800, 900, 60, models.StatusLeased),
		mk("C", "Round Rock", 2500, 0, 50, models.StatusActive),
		mk("D", "Pflugerville", 1500, 1000, 0, models.StatusPending),
	}
}

func TestSummaryGenerate(t *testing.T) {
	svc := NewSummaryService(utils.NewNopLogger())
	r := svc.Generate(sampleComps())

	assert.Equal(t, 4, r.TotalComps)
	assert.Equal(t, 1950.0, r.AverageRent)
	assert.Equal(t, 1900.0, r.MedianRent)
	assert.Equal(t, 1500.0, r.MinRent)
	assert.Equal(t, 2500.0, r.MaxRent)
	// (2.00 + 2.00 + 1.50) / 3
	assert.Equal(t, 1.83, r.AverageRentSqft)
	// (2000*90 + 1800*60 + 2500*50) / 200
	assert.Equal(t, 2065.0, r.IndicatedRent)
	assert.Equal(t, 2, r.ByStatus[models.StatusLeased])
	assert.Equal(t, 1, r.ByStatus[models.StatusPending])
	assert.Equal(t, 2, r.ByCity["Austin"])
	require.NotNil(t, r.TopComp)
	assert.Equal(t, "A", r.TopComp.ID)
}

func TestSummaryGenerateEmpty(t *testing.T) {
	svc := NewSummaryService(utils.NewNopLogger())
	r := svc.Generate(nil)
	assert.Equal(t, 0, r.TotalComps)
	assert.Nil(t, r.TopComp)
	assert.NotNil(t, r.ByStatus)
}

func TestSummaryIndicatedRentFallsBackToAverage(t *testing.T) {
	comps := sampleComps()
	for i := range comps {
		comps[i].Score = 0
	}
	r := NewSummaryService(utils.NewNopLogger()).Generate(comps)
	assert.Equal(t, r.AverageRent, r.IndicatedRent)
}

func TestSummaryPrint(t *testing.T) {
	svc := NewSummaryService(utils.NewNopLogger())
	comps := sampleComps()
	var buf bytes.Buffer

	require.NoError(t, svc.Print(&buf, &models.Subject{City: "Austin", Bedrooms: 2, Bathrooms: 1, Sqft: 950}, comps, svc.Generate(comps)))
	out := buf.String()
	assert.Contains(t, out, "RENTAL COMPS")
	assert.Contains(t, out, "A Main St")
	assert.Contains(t, out, "Round Rock")
	assert.Contains(t, out, "Market Summary")
	assert.Contains(t, out, "$2065.00")

	buf.Reset()
	require.NoError(t, svc.Print(&buf, &models.Subject{}, nil, svc.Generate(nil)))
	assert.Contains(t, buf.String(), "No comparable rentals found")
}
