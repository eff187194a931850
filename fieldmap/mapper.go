package fieldmap

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"rentcomps/models"
	"rentcomps/utils"
)

// numberRegexp captures the first numeric value in a raw field.
var numberRegexp = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// Options configures a Mapper.
type Options struct {
	// RequireSqft discards records without a positive square footage.
	RequireSqft bool
	Logger      *utils.Logger
}

// Mapper converts raw rows of one MLS schema into canonical listings and
// builds that schema's query conditions.
type Mapper struct {
	schema      *Schema
	requireSqft bool
	logger      *utils.Logger
}

// New validates schema and returns a Mapper for it.
func New(schema *Schema, opts Options) (*Mapper, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewNopLogger()
	}
	return &Mapper{schema: schema, requireSqft: opts.RequireSqft, logger: opts.Logger}, nil
}

// Schema returns the schema in use.
func (m *Mapper) Schema() *Schema {
	return m.schema
}

// WithRequireSqft returns a copy of m with the square-footage rule set.
func (m *Mapper) WithRequireSqft(require bool) *Mapper {
	cp := *m
	cp.requireSqft = require
	return &cp
}

// ToCanonical maps one raw row. It returns nil for rows that cannot be a
// comparable: no identifier, no positive price, or (when required) no
// positive square footage.
func (m *Mapper) ToCanonical(raw models.RawRecord) *models.Listing {
	id := m.value(raw, FieldID)
	if id == "" {
		return nil
	}

	rent := parseNumber(m.value(raw, FieldClosePrice))
	if rent <= 0 {
		rent = parseNumber(m.value(raw, FieldListPrice))
	}
	if rent <= 0 {
		return nil
	}

	sqft := parseInt(m.value(raw, FieldSqft))
	if m.requireSqft && sqft <= 0 {
		return nil
	}

	state := m.value(raw, FieldState)
	if state == "" {
		state = m.schema.DefaultState
	}

	laundry := m.value(raw, FieldLaundry)
	washer := parseBool(laundry) ||
		strings.Contains(strings.ToLower(laundry), "washer") ||
		strings.Contains(strings.ToLower(m.value(raw, FieldAppliances)), "washer")
	utilities := parseBool(m.value(raw, FieldUtilities)) ||
		strings.Contains(strings.ToLower(m.value(raw, FieldRentIncludes)), "utilit")

	return &models.Listing{
		ID:           id,
		Address:      m.address(raw),
		City:         normaliseText(m.value(raw, FieldCity)),
		State:        state,
		Zip:          m.value(raw, FieldZip),
		Bedrooms:     parseInt(m.value(raw, FieldBedrooms)),
		Bathrooms:    parseInt(m.value(raw, FieldBathrooms)),
		Sqft:         sqft,
		YearBuilt:    parseInt(m.value(raw, FieldYearBuilt)),
		PropertyType: DecodePropertyType(m.value(raw, FieldPropertyType)),
		Rent:         rent,
		ListDate:     parseDate(m.value(raw, FieldListDate)),
		LeaseDate:    parseDate(m.value(raw, FieldCloseDate)),
		Status:       m.ClassifyStatus(m.value(raw, FieldStatus)),
		DaysOnMarket: parseInt(m.value(raw, FieldDaysOnMarket)),
		Lat:          parseNumber(m.value(raw, FieldLat)),
		Lng:          parseNumber(m.value(raw, FieldLng)),
		LeaseTerm:    DecodeLeaseTerm(m.value(raw, FieldLeaseTerm)),
		PhotoCount:   parseInt(m.value(raw, FieldPhotoCount)),
		Amenities: models.Amenities{
			Furnished:         parseBool(m.value(raw, FieldFurnished)),
			PetsAllowed:       parseBool(m.value(raw, FieldPets)),
			WasherDryer:       washer,
			Pool:              poolFlag(m.value(raw, FieldPool)),
			UtilitiesIncluded: utilities,
			ParkingSpaces:     parseInt(m.value(raw, FieldParking)),
			GarageSpaces:      parseInt(m.value(raw, FieldGarage)),
		},
	}
}

// MapAll maps a batch of raw rows, dropping invalid rows and duplicate IDs.
func (m *Mapper) MapAll(raws []models.RawRecord) []*models.Listing {
	seen := utils.NewIDSet()
	result := make([]*models.Listing, 0, len(raws))

	for _, raw := range raws {
		l := m.ToCanonical(raw)
		if l == nil {
			continue
		}
		if !seen.Add(l.ID) {
			m.logger.Debug("[fieldmap] Duplicate listing skipped: %s", l.ID)
			continue
		}
		result = append(result, l)
	}

	m.logger.Info("[fieldmap] Mapped %d → %d listings (dropped %d)",
		len(raws), len(result), len(raws)-len(result))
	return result
}

// SelectFields lists every raw field the schema reads, sorted.
func (m *Mapper) SelectFields() []string {
	set := make(map[string]struct{})
	for _, names := range m.schema.Fields {
		for _, n := range names {
			set[n] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ClassifyStatus maps a raw status value to the three-state enum. Exact
// schema codes win; otherwise keywords decide and anything unresolved is
// Active.
func (m *Mapper) ClassifyStatus(raw string) models.ListingStatus {
	v := strings.ToLower(strings.TrimSpace(raw))
	if st, ok := m.schema.StatusValues[v]; ok {
		return st
	}
	switch {
	case containsAny(v, "closed", "leased", "rented", "sold"):
		return models.StatusLeased
	case containsAny(v, "pending", "contract"):
		return models.StatusPending
	default:
		return models.StatusActive
	}
}

// DecodePropertyType maps free-text or coded property types onto the
// canonical enum, defaulting to SingleFamily.
func DecodePropertyType(raw string) models.PropertyType {
	t := strings.ToLower(raw)
	switch {
	case strings.Contains(t, "condo"):
		return models.Condo
	case strings.Contains(t, "town"):
		return models.Townhouse
	case strings.Contains(t, "duplex"):
		return models.Duplex
	case strings.Contains(t, "triplex"):
		return models.Triplex
	case containsAny(t, "fourplex", "quadplex", "quad"):
		return models.Fourplex
	case containsAny(t, "apartment", "apt"):
		return models.Apartment
	default:
		return models.SingleFamily
	}
}

// DecodeLeaseTerm maps a raw lease term onto the canonical set. An empty
// or unrecognised value is a twelve-month lease.
func DecodeLeaseTerm(raw string) models.LeaseTerm {
	t := strings.ToLower(raw)
	switch {
	case containsAny(t, "month-to-month", "month to month", "mtm"):
		return models.LeaseMonthToMonth
	case containsAny(t, "6", "six"):
		return models.LeaseSixMonths
	case containsAny(t, "24", "two year", "2 year"):
		return models.LeaseTwoYears
	case containsAny(t, "12", "annual", "year"):
		return models.LeaseTwelveMonths
	case containsAny(t, "seasonal", "short", "other"):
		return models.LeaseOther
	default:
		return models.LeaseTwelveMonths
	}
}

// value returns the first non-empty raw value among the field's names.
func (m *Mapper) value(raw models.RawRecord, f Field) string {
	for _, name := range m.schema.Fields[f] {
		if v := strings.TrimSpace(raw[name]); v != "" {
			return v
		}
	}
	return ""
}

func (m *Mapper) address(raw models.RawRecord) string {
	if a := m.value(raw, FieldAddress); a != "" {
		return normaliseText(a)
	}
	parts := make([]string, 0, 3)
	for _, f := range []Field{FieldStreetNumber, FieldStreetName, FieldStreetSuffix} {
		if v := m.value(raw, f); v != "" {
			parts = append(parts, v)
		}
	}
	return normaliseText(strings.Join(parts, " "))
}

// parseNumber extracts the first number, ignoring currency symbols and
// thousands separators. Missing or non-numeric values are zero.
func parseNumber(raw string) float64 {
	cleaned := strings.ReplaceAll(raw, ",", "")
	match := numberRegexp.FindString(cleaned)
	if match == "" {
		return 0
	}
	f, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(raw string) int {
	return int(parseNumber(raw))
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "true", "1", "y":
		return true
	}
	return false
}

// poolFlag accepts a Y/N flag or a free-text feature list.
func poolFlag(raw string) bool {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "", "no", "n", "false", "0", "none":
		return false
	}
	return true
}

func parseDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
