package fieldmap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentcomps/models"
	"rentcomps/rets"
)

func newMapper(t *testing.T, schema *Schema, requireSqft bool) *Mapper {
	t.Helper()
	m, err := New(schema, Options{RequireSqft: requireSqft})
	require.NoError(t, err)
	return m
}

func resoRow() models.RawRecord {
	return models.RawRecord{
		"ListingKey":            "R100",
		"StreetNumber":          "12",
		"StreetName":            "Oak",
		"StreetSuffix":          "St",
		"City":                  " Austin ",
		"PostalCode":            "78701",
		"BedroomsTotal":         "3",
		"BathroomsTotalInteger": "2",
		"LivingArea":            "1,450",
		"YearBuilt":             "1998",
		"PropertyType":          "Townhouse Lease",
		"ListPrice":             "$2,300",
		"ClosePrice":            "2250",
		"ListDate":              "2024-03-01",
		"CloseDate":             "2024-03-20T00:00:00",
		"StandardStatus":        "Closed",
		"DaysOnMarket":          "19",
		"Latitude":              "30.2672",
		"Longitude":             "-97.7431",
		"LeaseTerm":             "12 Months",
		"FurnishedYN":           "Y",
		"PetsAllowed":           "No",
		"LaundryFeatures":       "In Unit, Washer Hookup",
		"PoolFeatures":          "None",
		"RentIncludes":          "Water, Utilities",
		"ParkingTotal":          "2",
		"GarageSpaces":          "1",
	}
}

func TestSchemasValidate(t *testing.T) {
	for _, s := range []*Schema{RESO(), Paragon()} {
		assert.NoError(t, s.Validate(), string(s.System))
	}

	broken := RESO()
	delete(broken.Fields, FieldID)
	broken.StatusCodes[models.StatusPending] = nil
	err := broken.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no raw name for id")
	assert.Contains(t, err.Error(), "no status code for Pending")

	_, err = New(broken, Options{})
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	s, err := Lookup("PARAGON")
	require.NoError(t, err)
	assert.Equal(t, SystemParagon, s.System)

	s, err = Lookup("")
	require.NoError(t, err)
	assert.Equal(t, SystemRESO, s.System)

	_, err = Lookup("bridge")
	assert.Error(t, err)
}

func TestToCanonicalRESO(t *testing.T) {
	m := newMapper(t, RESO(), true)
	l := m.ToCanonical(resoRow())
	require.NotNil(t, l)

	assert.Equal(t, "R100", l.ID)
	assert.Equal(t, "12 Oak St", l.Address)
	assert.Equal(t, "Austin", l.City)
	assert.Equal(t, "FL", l.State)
	assert.Equal(t, 3, l.Bedrooms)
	assert.Equal(t, 2, l.Bathrooms)
	assert.Equal(t, 1450, l.Sqft)
	assert.Equal(t, 2250.0, l.Rent, "close price wins over list price")
	assert.Equal(t, models.Townhouse, l.PropertyType)
	assert.Equal(t, models.StatusLeased, l.Status)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), l.ListDate)
	assert.Equal(t, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), l.LeaseDate)
	assert.InDelta(t, 30.2672, l.Lat, 1e-9)
	assert.InDelta(t, -97.7431, l.Lng, 1e-9)
	assert.Equal(t, models.LeaseTwelveMonths, l.LeaseTerm)
	assert.True(t, l.Furnished)
	assert.False(t, l.PetsAllowed)
	assert.True(t, l.WasherDryer)
	assert.False(t, l.Pool)
	assert.True(t, l.UtilitiesIncluded)
	assert.Equal(t, 2, l.ParkingSpaces)
	assert.Equal(t, 1, l.GarageSpaces)
}

func TestToCanonicalParagon(t *testing.T) {
	m := newMapper(t, Paragon(), true)
	l := m.ToCanonical(models.RawRecord{
		"L_ListingID":       "P-77",
		"L_Address":         "4410  NW 39th   Ave",
		"L_City":            "Gainesville",
		"L_State":           "GA",
		"LM_Int1_3":         "2",
		"LM_Int1_4":         "",
		"LM_Dec_3":          "1.5",
		"LM_Int4_1":         "980",
		"L_AskingPrice":     "1475",
		"L_SoldPrice":       "0",
		"L_StatusCatID":     "3",
		"L_Type_":           "CONDO",
		"LMD_MP_Latitude":   "29.6516",
		"LMD_MP_Longitude":  "-82.3248",
		"LFD_Pool_15":       "Community, Heated",
		"LFD_LeaseTerms_10": "Month to Month",
		"L_PictureCount":    "14",
	})
	require.NotNil(t, l)

	assert.Equal(t, "4410 NW 39th Ave", l.Address)
	assert.Equal(t, "GA", l.State)
	assert.Equal(t, 1, l.Bathrooms)
	assert.Equal(t, 1475.0, l.Rent)
	assert.Equal(t, models.StatusPending, l.Status)
	assert.Equal(t, models.Condo, l.PropertyType)
	assert.True(t, l.Pool)
	assert.Equal(t, models.LeaseMonthToMonth, l.LeaseTerm)
	assert.Equal(t, 14, l.PhotoCount)
}

func TestToCanonicalDiscardsInvalid(t *testing.T) {
	m := newMapper(t, RESO(), true)

	noID := resoRow()
	delete(noID, "ListingKey")
	assert.Nil(t, m.ToCanonical(noID))

	noPrice := resoRow()
	noPrice["ListPrice"] = "call agent"
	noPrice["ClosePrice"] = ""
	assert.Nil(t, m.ToCanonical(noPrice))

	noSqft := resoRow()
	noSqft["LivingArea"] = ""
	assert.Nil(t, m.ToCanonical(noSqft))
	assert.NotNil(t, m.WithRequireSqft(false).ToCanonical(noSqft))
}

func TestClassifyStatus(t *testing.T) {
	m := newMapper(t, RESO(), false)
	tests := []struct {
		raw  string
		want models.ListingStatus
	}{
		{"Active", models.StatusActive},
		{"Active Under Contract", models.StatusPending},
		{"Closed", models.StatusLeased},
		{"Rented", models.StatusLeased},
		{"Leased - Lease Signed", models.StatusLeased},
		{"Pending Application", models.StatusPending},
		{"Coming Soon", models.StatusActive},
		{"", models.StatusActive},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.ClassifyStatus(tt.raw), tt.raw)
	}

	p := newMapper(t, Paragon(), false)
	assert.Equal(t, models.StatusLeased, p.ClassifyStatus("2"))
	assert.Equal(t, models.StatusActive, p.ClassifyStatus("9"))
}

func TestDecodePropertyType(t *testing.T) {
	tests := map[string]models.PropertyType{
		"Condominium Lease": models.Condo,
		"TOWNHOUSE":         models.Townhouse,
		"Duplex":            models.Duplex,
		"Triplex":           models.Triplex,
		"Quadplex":          models.Fourplex,
		"APT":               models.Apartment,
		"Residential Lease": models.SingleFamily,
		"":                  models.SingleFamily,
	}
	for raw, want := range tests {
		assert.Equal(t, want, DecodePropertyType(raw), raw)
	}
}

func TestDecodeLeaseTerm(t *testing.T) {
	tests := map[string]models.LeaseTerm{
		"MTM":            models.LeaseMonthToMonth,
		"6 Months":       models.LeaseSixMonths,
		"Two Years":      models.LeaseTwoYears,
		"Annual":         models.LeaseTwelveMonths,
		"Seasonal":       models.LeaseOther,
		"":               models.LeaseTwelveMonths,
		"Month-to-Month": models.LeaseMonthToMonth,
	}
	for raw, want := range tests {
		assert.Equal(t, want, DecodeLeaseTerm(raw), raw)
	}
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, 2300.0, parseNumber("$2,300"))
	assert.Equal(t, 0.0, parseNumber("n/a"))
	assert.Equal(t, 0.0, parseNumber(""))
	assert.Equal(t, 2, parseInt("2.75"))
	for _, v := range []string{"yes", "TRUE", "1", "y", " Y "} {
		assert.True(t, parseBool(v), v)
	}
	for _, v := range []string{"no", "", "0", "maybe"} {
		assert.False(t, parseBool(v), v)
	}
	assert.True(t, parseDate("not a date").IsZero())
}

func TestMapAllDedupesAndDrops(t *testing.T) {
	m := newMapper(t, RESO(), true)
	dup := resoRow()
	bad := resoRow()
	bad["ListingKey"] = ""
	other := resoRow()
	other["ListingKey"] = "R200"

	out := m.MapAll([]models.RawRecord{resoRow(), dup, bad, other})
	require.Len(t, out, 2)
	assert.Equal(t, "R100", out[0].ID)
	assert.Equal(t, "R200", out[1].ID)

	assert.Empty(t, m.MapAll(nil))
}

func TestSelectFieldsSortedAndUnique(t *testing.T) {
	m := newMapper(t, RESO(), false)
	fields := m.SelectFields()
	assert.IsIncreasing(t, fields)
	assert.Contains(t, fields, "ListingKey")
	assert.Contains(t, fields, "LivingArea")
}

func TestConditionsFullSubject(t *testing.T) {
	m := newMapper(t, RESO(), true)
	now := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	subject := &models.Subject{City: "Austin", Bedrooms: 1, Bathrooms: 1, Sqft: 1000, PropertyType: models.Condo}
	c := models.DefaultCriteria()
	c.PropertyTypeMatch = true

	q := rets.BuildQuery(m.Conditions(subject, c, now))
	assert.Equal(t,
		"(StandardStatus=|Active,Closed,Pending),(City=|Austin),(BedroomsTotal=0-2),"+
			"(BathroomsTotalInteger=1-2),(LivingArea=800-1200),(ListDate=2024-06-15+),"+
			"(PropertyType=|Condominium Lease)",
		q)
}

func TestConditionsPartialSubject(t *testing.T) {
	m := newMapper(t, RESO(), true)
	c := models.DefaultCriteria()
	c.IncludeActive = false
	c.DateRangeMonths = 0

	conds := m.Conditions(&models.Subject{Address: "1 Main St"}, c, time.Now())
	require.Len(t, conds, 1)
	assert.Equal(t, "(StandardStatus=|Closed)", conds[0].String())
}

func TestConditionsParagonLocation(t *testing.T) {
	m := newMapper(t, Paragon(), true)
	c := models.DefaultCriteria()
	c.DateRangeMonths = 0

	conds := m.Conditions(&models.Subject{City: "high springs"}, c, time.Now())
	require.Len(t, conds, 2)
	assert.Equal(t, "(L_StatusCatID=|1,2,3)", conds[0].String())
	assert.Equal(t, "(L_Area=|04)", conds[1].String())

	conds = m.Conditions(&models.Subject{City: "Ocala"}, c, time.Now())
	require.Len(t, conds, 2)
	assert.Equal(t, "(L_Area=|01,02,03,04,05,06,07,08)", conds[1].String())
}

func TestConditionsCityCannotInjectTerms(t *testing.T) {
	m := newMapper(t, RESO(), true)
	c := models.DefaultCriteria()
	c.DateRangeMonths = 0

	tests := map[string]struct {
		city string
		want string
	}{
		"closing paren":    {city: "Austin),(ListPrice=0-1", want: "(City=|Austin ListPrice 0-1)"},
		"lookup list":      {city: "Austin,Dallas|Waco", want: "(City=|Austin Dallas Waco)"},
		"plus and star":    {city: "Austin+*", want: "(City=|Austin)"},
		"keeps name marks": {city: "St. Mary's-on-the-Lake", want: "(City=|St. Mary's-on-the-Lake)"},
		"keeps accents":    {city: "Cañon City", want: "(City=|Cañon City)"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			conds := m.Conditions(&models.Subject{City: tt.city}, c, time.Now())
			require.Len(t, conds, 2)
			assert.Equal(t, tt.want, conds[1].String())
		})
	}

	conds := m.Conditions(&models.Subject{City: "(),|"}, c, time.Now())
	assert.Len(t, conds, 1, "a city made only of operators adds no location term")
}
