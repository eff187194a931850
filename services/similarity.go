package services

import (
	"math"
	"sort"
	"time"

	"rentcomps/models"
)

// EarthRadiusMiles is the sphere radius used for great-circle distance.
const EarthRadiusMiles = 3959.0

// Score weights.
const (
	sqftPoints      = 25.0
	distancePoints  = 20.0
	bedExactPoints  = 15.0
	bedNearPoints   = 7.0
	bathExactPoints = 10.0
	bathNearPoints  = 5.0
	recencyPoints   = 10.0

	furnishedPoints = 4.0
	petsPoints      = 4.0
	washerPoints    = 4.0
	poolPoints      = 3.0
	parkingPoints   = 3.0
	garagePoints    = 2.0
)

// Distance returns the haversine distance in miles between two
// coordinates, rounded to two decimals.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return round2(EarthRadiusMiles * c)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// ScoreConfig tunes the decaying score terms.
type ScoreConfig struct {
	// SqftTolerance is the fractional size difference at which the size
	// term reaches zero.
	SqftTolerance float64
	// RadiusMiles is the distance at which the distance term reaches zero.
	RadiusMiles float64
	// UnknownDistanceCredit is awarded when either side lacks coordinates.
	UnknownDistanceCredit float64
	// RecencyWindowDays is the age at which the recency term reaches zero.
	RecencyWindowDays float64
}

// DefaultScoreConfig returns the standard scoring parameters.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		SqftTolerance:         0.20,
		RadiusMiles:           5,
		UnknownDistanceCredit: 10,
		RecencyWindowDays:     365,
	}
}

// Scorer computes similarity scores and ranks candidates.
type Scorer struct {
	cfg ScoreConfig
	now func() time.Time
}

// NewScorer returns a Scorer. A nil clock means time.Now.
func NewScorer(cfg ScoreConfig, now func() time.Time) *Scorer {
	if now == nil {
		now = time.Now
	}
	return &Scorer{cfg: cfg, now: now}
}

// Score rates how closely l matches subject on a 0..100 scale. Every term
// is clamped at zero before summing. distanceKnown is false when either
// side has no coordinates, which earns the flat partial credit.
func (s *Scorer) Score(l *models.Listing, subject *models.Subject, distance float64, distanceKnown bool) int {
	var score float64

	if subject.Sqft > 0 {
		diff := math.Abs(float64(l.Sqft-subject.Sqft)) / float64(subject.Sqft)
		score += decay(sqftPoints, diff, s.cfg.SqftTolerance)
	}

	if distanceKnown {
		score += decay(distancePoints, distance, s.cfg.RadiusMiles)
	} else {
		score += math.Max(0, s.cfg.UnknownDistanceCredit)
	}

	switch absInt(l.Bedrooms - subject.Bedrooms) {
	case 0:
		score += bedExactPoints
	case 1:
		score += bedNearPoints
	}

	switch absInt(l.Bathrooms - subject.Bathrooms) {
	case 0:
		score += bathExactPoints
	case 1:
		score += bathNearPoints
	}

	if d := l.RelevantDate(); !d.IsZero() {
		days := math.Floor(s.now().Sub(d).Hours() / 24)
		score += decay(recencyPoints, math.Max(days, 0), s.cfg.RecencyWindowDays)
	}

	score += amenityPoints(&l.Amenities, &subject.Amenities)

	total := int(math.Round(score))
	return min(max(total, 0), 100)
}

func amenityPoints(l, subject *models.Amenities) float64 {
	var p float64
	if l.Furnished == subject.Furnished {
		p += furnishedPoints
	}
	if l.PetsAllowed == subject.PetsAllowed {
		p += petsPoints
	}
	if l.WasherDryer == subject.WasherDryer {
		p += washerPoints
	}
	if l.Pool == subject.Pool {
		p += poolPoints
	}
	if l.ParkingSpaces >= subject.ParkingSpaces {
		p += parkingPoints
	}
	if l.GarageSpaces >= subject.GarageSpaces {
		p += garagePoints
	}
	return p
}

// decay is points scaled linearly from full at zero to nothing at limit.
func decay(points, value, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Max(0, points*(1-value/limit))
}

// Rank scores candidates, drops those farther than maxDistance (only when
// the subject has coordinates and the candidate's distance is known),
// sorts by descending score keeping input order for ties, and keeps at
// most topN. maxDistance or topN <= 0 disables that step.
func (s *Scorer) Rank(candidates []*models.Listing, subject *models.Subject, maxDistance float64, topN int) []models.ScoredListing {
	ranked := make([]models.ScoredListing, 0, len(candidates))
	for _, l := range candidates {
		var d float64
		known := subject.HasCoordinates() && l.HasCoordinates()
		if known {
			d = Distance(subject.Lat, subject.Lng, l.Lat, l.Lng)
			if maxDistance > 0 && d > maxDistance {
				continue
			}
		}
		ranked = append(ranked, models.ScoredListing{
			Listing:       *l,
			DistanceMiles: d,
			DistanceKnown: known,
			RentPerSqft:   RentPerSqft(l),
			Score:         s.Score(l, subject, d, known),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}

// RentPerSqft is monthly rent divided by square footage, or zero without a
// size.
func RentPerSqft(l *models.Listing) float64 {
	if l.Sqft <= 0 {
		return 0
	}
	return round2(l.Rent / float64(l.Sqft))
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
