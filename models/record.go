package models

// RawRecord holds one decoded input row exactly as it came out of the
// spreadsheet: field name to number or string.
type RawRecord map[string]any

// Field names understood by the cleaner.
const (
	FieldArea              = "area"
	FieldFloorLevel        = "floor_level"
	FieldTotalFloors       = "total_floors"
	FieldBuildingYear      = "building_year"
	FieldRooms             = "rooms"
	FieldBathrooms         = "bathrooms"
	FieldPropertyType      = "property_type"
	FieldOrientation       = "orientation"
	FieldDecorationStatus  = "decoration_status"
	FieldCity              = "city"
	FieldDistrict          = "district"
	FieldAddress           = "address"
	FieldPlotRatio         = "plot_ratio"
	FieldGreeningRate      = "greening_rate"
	FieldMarketPricePerSqm = "price_per_sqm"
)

type PropertyType string

const (
	PropertyApartment  PropertyType = "apartment"
	PropertyVilla      PropertyType = "villa"
	PropertyTownhouse  PropertyType = "townhouse"
	PropertyCommercial PropertyType = "commercial"
)

type Orientation string

const (
	OrientationNorth Orientation = "north"
	OrientationSouth Orientation = "south"
	OrientationEast  Orientation = "east"
	OrientationWest  Orientation = "west"
)

type DecorationStatus string

const (
	DecorationRough  DecorationStatus = "rough"
	DecorationSimple DecorationStatus = "simple"
	DecorationFine   DecorationStatus = "fine"
	DecorationLuxury DecorationStatus = "luxury"
)

// CleanedRecord is a record with every field present and range-bounded.
// It is produced once by the cleaner and never mutated afterwards.
type CleanedRecord struct {
	Area             float64          `json:"area"`
	FloorLevel       int              `json:"floor_level"`
	TotalFloors      int              `json:"total_floors"`
	BuildingYear     int              `json:"building_year"`
	Age              int              `json:"age"`
	Rooms            int              `json:"rooms"`
	Bathrooms        int              `json:"bathrooms"`
	PropertyType     PropertyType     `json:"property_type"`
	Orientation      Orientation      `json:"orientation"`
	DecorationStatus DecorationStatus `json:"decoration_status"`

	City              string  `json:"city,omitempty"`
	District          string  `json:"district,omitempty"`
	Address           string  `json:"address,omitempty"`
	PlotRatio         float64 `json:"plot_ratio"`
	GreeningRate      float64 `json:"greening_rate"`
	MarketPricePerSqm float64 `json:"price_per_sqm"`
}

// Raw converts the cleaned record back into its raw form. Cleaning the
// result yields the same record.
func (c CleanedRecord) Raw() RawRecord {
	raw := RawRecord{
		FieldArea:              c.Area,
		FieldFloorLevel:        c.FloorLevel,
		FieldTotalFloors:       c.TotalFloors,
		FieldBuildingYear:      c.BuildingYear,
		FieldRooms:             c.Rooms,
		FieldBathrooms:         c.Bathrooms,
		FieldPropertyType:      string(c.PropertyType),
		FieldOrientation:       string(c.Orientation),
		FieldDecorationStatus:  string(c.DecorationStatus),
		FieldPlotRatio:         c.PlotRatio,
		FieldGreeningRate:      c.GreeningRate,
		FieldMarketPricePerSqm: c.MarketPricePerSqm,
	}
	if c.City != "" {
		raw[FieldCity] = c.City
	}
	if c.District != "" {
		raw[FieldDistrict] = c.District
	}
	if c.Address != "" {
		raw[FieldAddress] = c.Address
	}
	return raw
}
