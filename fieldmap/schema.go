package fieldmap

import (
	"fmt"
	"sort"
	"strings"

	"rentcomps/models"
)

// System names a supported MLS field schema.
type System string

const (
	// SystemRESO uses RESO Data Dictionary standard names.
	SystemRESO System = "reso"
	// SystemParagon uses Paragon system field codes.
	SystemParagon System = "paragon"
)

// Field is a canonical semantic field.
type Field string

const (
	FieldID           Field = "id"
	FieldAddress      Field = "address"
	FieldStreetNumber Field = "street_number"
	FieldStreetName   Field = "street_name"
	FieldStreetSuffix Field = "street_suffix"
	FieldCity         Field = "city"
	FieldState        Field = "state"
	FieldZip          Field = "zip"
	FieldBedrooms     Field = "bedrooms"
	FieldBathrooms    Field = "bathrooms"
	FieldSqft         Field = "sqft"
	FieldYearBuilt    Field = "year_built"
	FieldPropertyType Field = "property_type"
	FieldListPrice    Field = "list_price"
	FieldClosePrice   Field = "close_price"
	FieldListDate     Field = "list_date"
	FieldCloseDate    Field = "close_date"
	FieldStatus       Field = "status"
	FieldDaysOnMarket Field = "days_on_market"
	FieldLat          Field = "lat"
	FieldLng          Field = "lng"
	FieldLeaseTerm    Field = "lease_term"
	FieldPhotoCount   Field = "photo_count"
	FieldFurnished    Field = "furnished"
	FieldPets         Field = "pets"
	FieldLaundry      Field = "laundry"
	FieldAppliances   Field = "appliances"
	FieldPool         Field = "pool"
	FieldUtilities    Field = "utilities"
	FieldRentIncludes Field = "rent_includes"
	FieldParking      Field = "parking"
	FieldGarage       Field = "garage"
)

var requiredFields = []Field{FieldID, FieldListPrice, FieldStatus, FieldBedrooms, FieldBathrooms, FieldSqft}

// Schema describes how one MLS system names its fields and codes.
type Schema struct {
	System        System
	SearchType    string
	Class         string
	StandardNames bool
	UseSelect     bool
	DefaultState  string

	// Fields lists the raw names for each canonical field in lookup
	// order; the first non-empty raw value wins.
	Fields map[Field][]string

	StatusField string
	// StatusCodes are the query values for each status category.
	StatusCodes map[models.ListingStatus][]string
	// StatusValues decodes exact raw status values (lowercased).
	StatusValues map[string]models.ListingStatus

	PropertyTypeField string
	PropertyTypeCodes map[models.PropertyType][]string

	BedroomsField  string
	BathroomsField string
	SqftField      string
	RecencyField   string
	MinBedrooms    int
	MinBathrooms   int

	// LocationField is filtered by city. With a nil Locations table the
	// city name itself is the value; otherwise the city is looked up
	// (case-insensitive) and an unknown city spans every code.
	LocationField string
	Locations     map[string]string
}

// Validate checks that the schema can both decode rows and build queries.
func (s *Schema) Validate() error {
	var problems []string
	if s.SearchType == "" || s.Class == "" {
		problems = append(problems, "search type and class are required")
	}
	for _, f := range requiredFields {
		if len(s.Fields[f]) == 0 {
			problems = append(problems, fmt.Sprintf("no raw name for %s", f))
		}
	}
	for _, st := range []models.ListingStatus{models.StatusActive, models.StatusPending, models.StatusLeased} {
		if len(s.StatusCodes[st]) == 0 {
			problems = append(problems, fmt.Sprintf("no status code for %s", st))
		}
	}
	if s.StatusField == "" || s.BedroomsField == "" || s.BathroomsField == "" || s.SqftField == "" || s.RecencyField == "" {
		problems = append(problems, "query fields are incomplete")
	}
	if s.LocationField == "" {
		problems = append(problems, "no location field")
	}
	if s.Locations != nil && len(s.Locations) == 0 {
		problems = append(problems, "location table is empty")
	}
	for city, code := range s.Locations {
		if code == "" {
			problems = append(problems, fmt.Sprintf("empty location code for %q", city))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("fieldmap: schema %q invalid: %s", s.System, strings.Join(problems, "; "))
	}
	return nil
}

// LocationCodes returns every distinct location code, sorted.
func (s *Schema) LocationCodes() []string {
	seen := make(map[string]struct{}, len(s.Locations))
	codes := make([]string, 0, len(s.Locations))
	for _, code := range s.Locations {
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Lookup returns the schema for a named system.
func Lookup(system string) (*Schema, error) {
	switch System(strings.ToLower(strings.TrimSpace(system))) {
	case SystemRESO, "":
		return RESO(), nil
	case SystemParagon:
		return Paragon(), nil
	default:
		return nil, fmt.Errorf("fieldmap: unknown MLS system %q", system)
	}
}

// RESO returns the schema for servers answering with RESO standard names.
func RESO() *Schema {
	return &Schema{
		System:        SystemRESO,
		SearchType:    "Property",
		Class:         "RL_2",
		StandardNames: true,
		DefaultState:  "FL",
		Fields: map[Field][]string{
			FieldID:           {"ListingKey", "ListingId", "sysid"},
			FieldAddress:      {"UnparsedAddress", "StreetAddress"},
			FieldStreetNumber: {"StreetNumber"},
			FieldStreetName:   {"StreetName"},
			FieldStreetSuffix: {"StreetSuffix"},
			FieldCity:         {"City"},
			FieldState:        {"StateOrProvince"},
			FieldZip:          {"PostalCode"},
			FieldBedrooms:     {"BedroomsTotal"},
			FieldBathrooms:    {"BathroomsTotalInteger", "BathroomsFull"},
			FieldSqft:         {"LivingArea", "BuildingAreaTotal"},
			FieldYearBuilt:    {"YearBuilt"},
			FieldPropertyType: {"PropertyType", "PropertySubType"},
			FieldListPrice:    {"ListPrice"},
			FieldClosePrice:   {"ClosePrice"},
			FieldListDate:     {"ListDate", "ListingContractDate"},
			FieldCloseDate:    {"CloseDate"},
			FieldStatus:       {"StandardStatus", "Status"},
			FieldDaysOnMarket: {"DaysOnMarket", "CumulativeDaysOnMarket"},
			FieldLat:          {"Latitude"},
			FieldLng:          {"Longitude"},
			FieldLeaseTerm:    {"LeaseTerm", "TermsOfLease"},
			FieldPhotoCount:   {"PhotosCount"},
			FieldFurnished:    {"Furnished", "FurnishedYN"},
			FieldPets:         {"PetsAllowed", "PetsAllowedYN"},
			FieldLaundry:      {"LaundryFeatures"},
			FieldAppliances:   {"Appliances"},
			FieldPool:         {"PoolPrivateYN", "PoolFeatures"},
			FieldUtilities:    {"UtilitiesIncluded"},
			FieldRentIncludes: {"RentIncludes"},
			FieldParking:      {"ParkingTotal", "ParkingSpaces"},
			FieldGarage:       {"GarageSpaces"},
		},
		StatusField: "StandardStatus",
		StatusCodes: map[models.ListingStatus][]string{
			models.StatusActive:  {"Active"},
			models.StatusLeased:  {"Closed"},
			models.StatusPending: {"Pending"},
		},
		StatusValues: map[string]models.ListingStatus{
			"active":                models.StatusActive,
			"active under contract": models.StatusPending,
			"pending":               models.StatusPending,
			"closed":                models.StatusLeased,
		},
		PropertyTypeField: "PropertyType",
		PropertyTypeCodes: map[models.PropertyType][]string{
			models.SingleFamily: {"Residential Lease"},
			models.Condo:        {"Condominium Lease"},
			models.Townhouse:    {"Townhouse Lease"},
			models.Duplex:       {"Multi-Family"},
			models.Triplex:      {"Multi-Family"},
			models.Fourplex:     {"Multi-Family"},
			models.Apartment:    {"Residential Lease"},
		},
		BedroomsField:  "BedroomsTotal",
		BathroomsField: "BathroomsTotalInteger",
		SqftField:      "LivingArea",
		RecencyField:   "ListDate",
		MinBedrooms:    0,
		MinBathrooms:   1,
		LocationField:  "City",
	}
}

// Paragon returns the schema for Paragon servers answering with system
// field codes. Location is filtered by MLS area code.
func Paragon() *Schema {
	return &Schema{
		System:       SystemParagon,
		SearchType:   "Property",
		Class:        "RE_1",
		UseSelect:    true,
		DefaultState: "FL",
		Fields: map[Field][]string{
			FieldID:           {"L_ListingID", "L_DisplayId"},
			FieldAddress:      {"L_Address"},
			FieldStreetNumber: {"L_AddressNumber"},
			FieldStreetName:   {"L_AddressStreet"},
			FieldStreetSuffix: {"L_AddressStreetSuffix"},
			FieldCity:         {"L_City"},
			FieldState:        {"L_State"},
			FieldZip:          {"L_Zip"},
			FieldBedrooms:     {"LM_Int1_3"},
			FieldBathrooms:    {"LM_Int1_4", "LM_Dec_3"},
			FieldSqft:         {"LM_Int4_1", "LM_Int2_3"},
			FieldYearBuilt:    {"LM_Int2_1"},
			FieldPropertyType: {"L_Type_", "L_Class"},
			FieldListPrice:    {"L_AskingPrice", "L_SystemPrice"},
			FieldClosePrice:   {"L_SoldPrice"},
			FieldListDate:     {"L_ListingDate"},
			FieldCloseDate:    {"L_ClosingDate"},
			FieldStatus:       {"L_StatusCatID", "L_Status"},
			FieldDaysOnMarket: {"L_DOM"},
			FieldLat:          {"LMD_MP_Latitude"},
			FieldLng:          {"LMD_MP_Longitude"},
			FieldLeaseTerm:    {"LFD_LeaseTerms_10"},
			FieldPhotoCount:   {"L_PictureCount"},
			FieldFurnished:    {"LFD_Furnished_11"},
			FieldPets:         {"LFD_PetsAllowed_12"},
			FieldLaundry:      {"LFD_Laundry_13"},
			FieldAppliances:   {"LFD_Appliances_14"},
			FieldPool:         {"LFD_Pool_15"},
			FieldUtilities:    {"LFD_UtilitiesIncluded_16"},
			FieldRentIncludes: {"LFD_RentIncludes_17"},
			FieldParking:      {"LM_Int1_6"},
			FieldGarage:       {"LM_Int1_7"},
		},
		StatusField: "L_StatusCatID",
		StatusCodes: map[models.ListingStatus][]string{
			models.StatusActive:  {"1"},
			models.StatusLeased:  {"2"},
			models.StatusPending: {"3"},
		},
		StatusValues: map[string]models.ListingStatus{
			"1": models.StatusActive,
			"2": models.StatusLeased,
			"3": models.StatusPending,
		},
		PropertyTypeField: "L_Type_",
		PropertyTypeCodes: map[models.PropertyType][]string{
			models.SingleFamily: {"SFR"},
			models.Condo:        {"CONDO"},
			models.Townhouse:    {"TOWN"},
			models.Duplex:       {"DUPLEX"},
			models.Triplex:      {"TRIPLEX"},
			models.Fourplex:     {"QUAD"},
			models.Apartment:    {"APT"},
		},
		BedroomsField:  "LM_Int1_3",
		BathroomsField: "LM_Int1_4",
		SqftField:      "LM_Int4_1",
		RecencyField:   "L_StatusDate",
		MinBedrooms:    0,
		MinBathrooms:   1,
		LocationField:  "L_Area",
		Locations: map[string]string{
			"gainesville":  "01",
			"alachua":      "02",
			"newberry":     "03",
			"high springs": "04",
			"archer":       "05",
			"micanopy":     "06",
			"hawthorne":    "07",
			"waldo":        "08",
			"jonesville":   "03",
			"la crosse":    "02",
		},
	}
}
