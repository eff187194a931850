package models

import "time"

// RawRecord is one row of a RETS search response, keyed by the provider's
// field names. It lives only for the duration of a single search.
type RawRecord map[string]string

// PropertyType is the canonical building type of a rental.
type PropertyType string

const (
	SingleFamily PropertyType = "Single Family"
	Condo        PropertyType = "Condo"
	Townhouse    PropertyType = "Townhouse"
	Duplex       PropertyType = "Duplex"
	Triplex      PropertyType = "Triplex"
	Fourplex     PropertyType = "Fourplex"
	Apartment    PropertyType = "Apartment"
)

// PropertyTypes lists every canonical property type.
var PropertyTypes = []PropertyType{SingleFamily, Condo, Townhouse, Duplex, Triplex, Fourplex, Apartment}

// ListingStatus is the three-state lifecycle of a rental listing.
type ListingStatus string

const (
	StatusActive  ListingStatus = "Active"
	StatusPending ListingStatus = "Pending"
	StatusLeased  ListingStatus = "Leased"
)

// LeaseTerm is the advertised lease length.
type LeaseTerm string

const (
	LeaseMonthToMonth LeaseTerm = "Month-to-Month"
	LeaseSixMonths    LeaseTerm = "6 Months"
	LeaseTwelveMonths LeaseTerm = "12 Months"
	LeaseTwoYears     LeaseTerm = "24 Months"
	LeaseOther        LeaseTerm = "Other"
)

// Amenities holds the flags and counts compared during scoring.
type Amenities struct {
	Furnished         bool `json:"furnished"`
	PetsAllowed       bool `json:"petsAllowed"`
	WasherDryer       bool `json:"hasWasherDryer"`
	Pool              bool `json:"hasPool"`
	UtilitiesIncluded bool `json:"utilitiesIncluded"`
	ParkingSpaces     int  `json:"parkingSpaces"`
	GarageSpaces      int  `json:"garageSpaces"`
}

// Listing is the canonical rental record produced from a RawRecord.
// A Listing with an empty ID or a non-positive Rent is never valid.
type Listing struct {
	ID           string        `json:"id"`
	Address      string        `json:"address"`
	City         string        `json:"city"`
	State        string        `json:"state"`
	Zip          string        `json:"zip"`
	Bedrooms     int           `json:"bedrooms"`
	Bathrooms    int           `json:"bathrooms"`
	Sqft         int           `json:"sqft"`
	YearBuilt    int           `json:"yearBuilt"`
	PropertyType PropertyType  `json:"propertyType"`
	Rent         float64       `json:"rentPrice"`
	ListDate     time.Time     `json:"listDate"`
	LeaseDate    time.Time     `json:"leaseDate"`
	Status       ListingStatus `json:"status"`
	DaysOnMarket int           `json:"daysOnMarket"`
	Lat          float64       `json:"lat"`
	Lng          float64       `json:"lng"`
	LeaseTerm    LeaseTerm     `json:"leaseTerm"`
	PhotoCount   int           `json:"photoCount"`
	Amenities
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l *Listing) HasCoordinates() bool {
	return l.Lat != 0 && l.Lng != 0
}

// RelevantDate is the lease date when present, otherwise the list date.
func (l *Listing) RelevantDate() time.Time {
	if !l.LeaseDate.IsZero() {
		return l.LeaseDate
	}
	return l.ListDate
}

// Subject is the property comps are measured against. Every attribute is
// optional; a zero value means "unknown" and disables the matching filter.
type Subject struct {
	Address      string       `json:"address"`
	City         string       `json:"city"`
	State        string       `json:"state"`
	Zip          string       `json:"zip"`
	Bedrooms     int          `json:"bedrooms"`
	Bathrooms    int          `json:"bathrooms"`
	Sqft         int          `json:"sqft"`
	YearBuilt    int          `json:"yearBuilt"`
	PropertyType PropertyType `json:"propertyType"`
	Lat          float64      `json:"lat,omitempty"`
	Lng          float64      `json:"lng,omitempty"`
	Amenities
}

// HasCoordinates reports whether both latitude and longitude are set.
func (s *Subject) HasCoordinates() bool {
	return s.Lat != 0 && s.Lng != 0
}

// SearchCriteria constrains which listings are requested and how many
// ranked comps are returned.
type SearchCriteria struct {
	RadiusMiles         float64 `json:"radiusMiles"`
	DateRangeMonths     int     `json:"dateRangeMonths"`
	BedVariance         int     `json:"bedVariance"`
	BathVariance        int     `json:"bathVariance"`
	SqftVariancePercent float64 `json:"sqftVariancePercent"`
	PropertyTypeMatch   bool    `json:"propertyTypeMatch"`
	IncludeActive       bool    `json:"includeActive"`
	RequireSqft         bool    `json:"requireSqft"`
	RowLimit            int     `json:"rowLimit"`
	TopN                int     `json:"topN"`
}

// DefaultCriteria returns the criteria used when the caller supplies none.
func DefaultCriteria() SearchCriteria {
	return SearchCriteria{
		RadiusMiles:         5,
		DateRangeMonths:     12,
		BedVariance:         1,
		BathVariance:        1,
		SqftVariancePercent: 20,
		IncludeActive:       true,
		RequireSqft:         true,
		RowLimit:            200,
		TopN:                25,
	}
}

// ScoredListing is a Listing with its distance from the subject and its
// similarity score. It is never mutated after ranking.
type ScoredListing struct {
	Listing
	DistanceMiles float64 `json:"distanceMiles"`
	DistanceKnown bool    `json:"distanceKnown"`
	RentPerSqft   float64 `json:"rentPerSqft"`
	Score         int     `json:"similarityScore"`
}

// MarketSummary holds the computed analytics over a ranked comp set.
type MarketSummary struct {
	TotalComps      int                   `json:"totalComps"`
	AverageRent     float64               `json:"averageRent"`
	MedianRent      float64               `json:"medianRent"`
	MinRent         float64               `json:"minRent"`
	MaxRent         float64               `json:"maxRent"`
	AverageRentSqft float64               `json:"averageRentPerSqft"`
	IndicatedRent   float64               `json:"indicatedRent"`
	ByStatus        map[ListingStatus]int `json:"byStatus"`
	ByCity          map[string]int        `json:"byCity"`
	TopComp         *ScoredListing        `json:"topComp,omitempty"`
}

// CompResult is one comp search: the ranked comps and their summary.
type CompResult struct {
	ID         string          `json:"id,omitempty"`
	Subject    Subject         `json:"subject"`
	Criteria   SearchCriteria  `json:"criteria"`
	Query      string          `json:"query"`
	Fetched    int             `json:"fetched"`
	Comps      []ScoredListing `json:"comps"`
	Summary    *MarketSummary  `json:"summary"`
	SearchedAt time.Time       `json:"searchedAt"`

	// Raw holds the rows as returned by the server, for audit capture.
	Raw []RawRecord `json:"-"`
}
