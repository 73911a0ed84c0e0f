package services

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"property-valuation/models"
	"property-valuation/utils"
)

const (
	defaultArea         = 100.0
	defaultFloorLevel   = 5
	defaultYearsOld     = 10
	defaultRooms        = 3
	defaultBathrooms    = 2
	defaultPlotRatio    = 2.5
	defaultGreeningRate = 0.30

	// DefaultMarketPricePerSqm is the reference market price used when a row
	// carries none.
	DefaultMarketPricePerSqm = 10000.0

	minBuildingYear = 1900
	maxRooms        = 10
	maxBathrooms    = 5
)

var (
	// floorRegexp captures the first integer in values like "12层" or "floor 7"
	floorRegexp = regexp.MustCompile(`\d+`)
	// yearRegexp captures a four digit year in values like "2015年"
	yearRegexp = regexp.MustCompile(`\d{4}`)
)

var propertyTypeAliases = map[string]models.PropertyType{
	"apartment":  models.PropertyApartment,
	"flat":       models.PropertyApartment,
	"住宅":         models.PropertyApartment,
	"公寓":         models.PropertyApartment,
	"villa":      models.PropertyVilla,
	"别墅":         models.PropertyVilla,
	"townhouse":  models.PropertyTownhouse,
	"联排":         models.PropertyTownhouse,
	"commercial": models.PropertyCommercial,
	"商铺":         models.PropertyCommercial,
	"商业":         models.PropertyCommercial,
}

var orientationAliases = map[string]models.Orientation{
	"north": models.OrientationNorth,
	"北":     models.OrientationNorth,
	"朝北":    models.OrientationNorth,
	"south": models.OrientationSouth,
	"南":     models.OrientationSouth,
	"朝南":    models.OrientationSouth,
	"east":  models.OrientationEast,
	"东":     models.OrientationEast,
	"朝东":    models.OrientationEast,
	"west":  models.OrientationWest,
	"西":     models.OrientationWest,
	"朝西":    models.OrientationWest,
}

var decorationAliases = map[string]models.DecorationStatus{
	"rough":  models.DecorationRough,
	"毛坯":     models.DecorationRough,
	"simple": models.DecorationSimple,
	"简装":     models.DecorationSimple,
	"fine":   models.DecorationFine,
	"精装":     models.DecorationFine,
	"luxury": models.DecorationLuxury,
	"豪装":     models.DecorationLuxury,
	"豪华装修":   models.DecorationLuxury,
}

// Cleaner normalises raw rows into CleanedRecords. Cleaning never fails:
// every missing or invalid field is replaced by a fixed default.
type Cleaner struct {
	logger            *utils.Logger
	now               func() time.Time
	marketPricePerSqm float64
}

// CleanerOption customises a Cleaner.
type CleanerOption func(*Cleaner)

// WithClock fixes the clock used to derive the current year.
func WithClock(now func() time.Time) CleanerOption {
	return func(c *Cleaner) { c.now = now }
}

// WithMarketPrice sets the fallback market price per square metre.
func WithMarketPrice(pricePerSqm float64) CleanerOption {
	return func(c *Cleaner) {
		if pricePerSqm > 0 {
			c.marketPricePerSqm = pricePerSqm
		}
	}
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		logger:            logger,
		now:               time.Now,
		marketPricePerSqm: DefaultMarketPricePerSqm,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentYear is the year the cleaner validates building years against.
func (c *Cleaner) CurrentYear() int {
	return c.now().Year()
}

// Clean returns the canonical, range-bounded form of raw.
func (c *Cleaner) Clean(raw models.RawRecord) models.CleanedRecord {
	currentYear := c.CurrentYear()
	var defaulted []string

	area, ok := positiveFloat(raw[models.FieldArea])
	if !ok {
		area = defaultArea
		defaulted = append(defaulted, models.FieldArea)
	}

	floor, ok := parseFloor(raw[models.FieldFloorLevel])
	if !ok {
		floor = defaultFloorLevel
		defaulted = append(defaulted, models.FieldFloorLevel)
	}

	totalFloors, ok := parseInt(raw[models.FieldTotalFloors])
	if !ok || totalFloors < 1 {
		totalFloors = floor
	}
	if totalFloors < floor {
		totalFloors = floor
	}

	year, ok := parseYear(raw[models.FieldBuildingYear])
	if !ok || year < minBuildingYear || year > currentYear {
		year = currentYear - defaultYearsOld
		defaulted = append(defaulted, models.FieldBuildingYear)
	}

	rooms, ok := parseInt(raw[models.FieldRooms])
	if !ok || rooms < 1 || rooms > maxRooms {
		rooms = defaultRooms
		defaulted = append(defaulted, models.FieldRooms)
	}

	bathrooms, ok := parseInt(raw[models.FieldBathrooms])
	if !ok || bathrooms < 1 || bathrooms > maxBathrooms {
		bathrooms = defaultBathrooms
		defaulted = append(defaulted, models.FieldBathrooms)
	}

	propertyType, ok := propertyTypeAliases[foldEnum(raw[models.FieldPropertyType])]
	if !ok {
		propertyType = models.PropertyApartment
		defaulted = append(defaulted, models.FieldPropertyType)
	}

	orientation, ok := orientationAliases[foldEnum(raw[models.FieldOrientation])]
	if !ok {
		orientation = models.OrientationSouth
		defaulted = append(defaulted, models.FieldOrientation)
	}

	decoration, ok := decorationAliases[foldEnum(raw[models.FieldDecorationStatus])]
	if !ok {
		decoration = models.DecorationSimple
		defaulted = append(defaulted, models.FieldDecorationStatus)
	}

	plotRatio, ok := positiveFloat(raw[models.FieldPlotRatio])
	if !ok {
		plotRatio = defaultPlotRatio
	}

	greening, ok := toFloat(raw[models.FieldGreeningRate])
	if !ok || greening < 0 || greening > 1 {
		greening = defaultGreeningRate
	}

	marketPrice, ok := positiveFloat(raw[models.FieldMarketPricePerSqm])
	if !ok {
		marketPrice = c.marketPricePerSqm
	}

	if len(defaulted) > 0 && c.logger != nil {
		sort.Strings(defaulted)
		c.logger.Debug("[cleaner] Defaulted %d field(s): %s", len(defaulted), strings.Join(defaulted, ", "))
	}

	return models.CleanedRecord{
		Area:              area,
		FloorLevel:        floor,
		TotalFloors:       totalFloors,
		BuildingYear:      year,
		Age:               currentYear - year,
		Rooms:             rooms,
		Bathrooms:         bathrooms,
		PropertyType:      propertyType,
		Orientation:       orientation,
		DecorationStatus:  decoration,
		City:              normaliseText(toString(raw[models.FieldCity])),
		District:          normaliseText(toString(raw[models.FieldDistrict])),
		Address:           normaliseText(toString(raw[models.FieldAddress])),
		PlotRatio:         plotRatio,
		GreeningRate:      greening,
		MarketPricePerSqm: marketPrice,
	}
}

// Admit is the batch admission check run before cleaning. A row without a
// usable area cannot be priced meaningfully and is rejected as a row failure.
func (c *Cleaner) Admit(raw models.RawRecord) error {
	v, present := raw[models.FieldArea]
	if !present || v == nil {
		return fmt.Errorf("missing required field %q", models.FieldArea)
	}
	if _, ok := positiveFloat(v); !ok {
		return fmt.Errorf("field %q must be a positive number, got %v", models.FieldArea, v)
	}
	return nil
}

// toFloat converts numbers and numeric strings. NaN and infinities are rejected.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func positiveFloat(v any) (float64, bool) {
	f, ok := toFloat(v)
	if !ok || f <= 0 {
		return 0, false
	}
	return f, true
}

// parseInt accepts integral numbers only; 2.5 rooms is invalid.
func parseInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func parseFloor(v any) (int, bool) {
	if s, isString := v.(string); isString {
		match := floorRegexp.FindString(s)
		if match == "" {
			return 0, false
		}
		n, err := strconv.Atoi(match)
		if err != nil || n < 1 {
			return 0, false
		}
		return n, true
	}
	n, ok := parseInt(v)
	if !ok || n < 1 {
		return 0, false
	}
	return n, true
}

func parseYear(v any) (int, bool) {
	if s, isString := v.(string); isString {
		match := yearRegexp.FindString(s)
		if match == "" {
			return 0, false
		}
		n, err := strconv.Atoi(match)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return parseInt(v)
}

func foldEnum(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
