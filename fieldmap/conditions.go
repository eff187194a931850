package fieldmap

import (
	"math"
	"strings"
	"time"
	"unicode"

	"rentcomps/models"
	"rentcomps/rets"
)

// Conditions builds the query conditions for a subject, in order: status
// category, location, bedroom range, bathroom range, square-footage band,
// recency cutoff, and property type. A condition is emitted only when the
// subject attribute it depends on is known, so partial subjects still
// produce a valid query.
func (m *Mapper) Conditions(subject *models.Subject, c models.SearchCriteria, now time.Time) []rets.Condition {
	s := m.schema
	conds := make([]rets.Condition, 0, 7)

	statuses := []models.ListingStatus{models.StatusLeased}
	if c.IncludeActive {
		statuses = []models.ListingStatus{models.StatusActive, models.StatusLeased, models.StatusPending}
	}
	var codes []string
	for _, st := range statuses {
		codes = append(codes, s.StatusCodes[st]...)
	}
	conds = append(conds, rets.OneOf(s.StatusField, codes...))

	if loc, ok := m.locationCondition(subject.City); ok {
		conds = append(conds, loc)
	}

	if subject.Bedrooms > 0 {
		v := max(c.BedVariance, 0)
		conds = append(conds, rets.Range(s.BedroomsField, max(s.MinBedrooms, subject.Bedrooms-v), subject.Bedrooms+v))
	}

	if subject.Bathrooms > 0 {
		v := max(c.BathVariance, 0)
		conds = append(conds, rets.Range(s.BathroomsField, max(s.MinBathrooms, subject.Bathrooms-v), subject.Bathrooms+v))
	}

	if subject.Sqft > 0 {
		p := math.Max(c.SqftVariancePercent, 0) / 100
		lo := int(math.Round(float64(subject.Sqft) * (1 - p)))
		hi := int(math.Round(float64(subject.Sqft) * (1 + p)))
		conds = append(conds, rets.Range(s.SqftField, max(lo, 0), hi))
	}

	if c.DateRangeMonths > 0 {
		cutoff := now.AddDate(0, -c.DateRangeMonths, 0)
		conds = append(conds, rets.AtLeast(s.RecencyField, cutoff.Format("2006-01-02")))
	}

	if c.PropertyTypeMatch && subject.PropertyType != "" {
		if codes := s.PropertyTypeCodes[subject.PropertyType]; len(codes) > 0 {
			conds = append(conds, rets.OneOf(s.PropertyTypeField, codes...))
		}
	}

	return conds
}

// locationCondition resolves a city to the schema's location filter. A
// city missing from the schema's table spans every known code.
func (m *Mapper) locationCondition(city string) (rets.Condition, bool) {
	city = normaliseText(strings.Map(cityRune, city))
	if city == "" {
		return rets.Condition{}, false
	}
	s := m.schema
	if s.Locations == nil {
		return rets.OneOf(s.LocationField, city), true
	}
	if code, ok := s.Locations[strings.ToLower(city)]; ok {
		return rets.OneOf(s.LocationField, code), true
	}
	m.logger.Debug("[fieldmap] City %q not in %s location table, searching all areas", city, s.System)
	return rets.OneOf(s.LocationField, s.LocationCodes()...), true
}

// cityRune keeps the characters a city name can hold and blanks the rest,
// so DMQL operators like , ) | = + cannot end the location term early.
func cityRune(r rune) rune {
	switch {
	case unicode.IsLetter(r), unicode.IsDigit(r):
		return r
	case r == '.', r == '\'', r == '-':
		return r
	}
	return ' '
}
