package services

import (
	"math"

	"property-valuation/models"
)

// Model is one pricing function of the ensemble. Implementations are pure:
// no I/O, no randomness, safe for concurrent use.
type Model interface {
	ID() models.ModelID
	Price(rec models.CleanedRecord) models.ModelResult
}

// Comparable is a reference transaction used by the comparable-sales model.
type Comparable struct {
	Area       float64 `json:"area" yaml:"area"`
	Price      float64 `json:"price" yaml:"price"`
	Similarity float64 `json:"similarity" yaml:"similarity"`
}

// DefaultComparables returns the built-in reference sales around 100 sqm.
func DefaultComparables() []Comparable {
	return []Comparable{
		{Area: 100, Price: 1200000, Similarity: 0.95},
		{Area: 95, Price: 1150000, Similarity: 0.92},
		{Area: 105, Price: 1250000, Similarity: 0.88},
		{Area: 98, Price: 1180000, Similarity: 0.85},
		{Area: 102, Price: 1220000, Similarity: 0.83},
	}
}

// BankOptions configures the model bank.
type BankOptions struct {
	Comparables []Comparable
}

// Bank is the closed set of the five pricing models in evaluation order.
type Bank struct {
	models []Model
	byID   map[models.ModelID]Model
}

// NewBank builds the five models.
func NewBank(opts BankOptions) *Bank {
	comps := opts.Comparables
	if len(comps) == 0 {
		comps = DefaultComparables()
	}
	list := []Model{
		linearModel{},
		multiFactorModel{},
		comparableSalesModel{comparables: append([]Comparable(nil), comps...)},
		costModel{},
		incomeModel{},
	}
	byID := make(map[models.ModelID]Model, len(list))
	for _, m := range list {
		byID[m.ID()] = m
	}
	return &Bank{models: list, byID: byID}
}

// Models returns the models in evaluation order.
func (b *Bank) Models() []Model {
	return append([]Model(nil), b.models...)
}

// Model looks up a single model by id.
func (b *Bank) Model(id models.ModelID) (Model, bool) {
	m, ok := b.byID[id]
	return m, ok
}

const baseRatePerSqm = 10000.0

func newResult(id models.ModelID, rec models.CleanedRecord, price, confidence float64, meta map[string]float64) models.ModelResult {
	price = math.Round(price)
	return models.ModelResult{
		Model:       id,
		Price:       price,
		PricePerSqm: math.Round(price / rec.Area),
		Confidence:  confidence,
		Metadata:    meta,
	}
}

// linearModel multiplies area by piecewise-constant factors.
type linearModel struct{}

func (linearModel) ID() models.ModelID { return models.ModelLinear }

func (linearModel) Price(rec models.CleanedRecord) models.ModelResult {
	floorFactor := 1.05
	switch {
	case rec.FloorLevel <= 3:
		floorFactor = 0.95
	case rec.FloorLevel > 15:
		floorFactor = 0.98
	}

	ageFactor := 0.95
	switch {
	case rec.Age < 5:
		ageFactor = 1.10
	case rec.Age < 10:
		ageFactor = 1.05
	case rec.Age < 20:
		ageFactor = 1.00
	}

	roomFactor := 1.0
	switch {
	case rec.Rooms == 2:
		roomFactor = 1.02
	case rec.Rooms == 3:
		roomFactor = 1.05
	case rec.Rooms > 3:
		roomFactor = 1.08
	}

	bathroomFactor := 1.0
	switch {
	case rec.Bathrooms == 2:
		bathroomFactor = 1.03
	case rec.Bathrooms > 2:
		bathroomFactor = 1.06
	}

	price := rec.Area * baseRatePerSqm * floorFactor * ageFactor * roomFactor * bathroomFactor
	return newResult(models.ModelLinear, rec, price, 0.75, map[string]float64{
		"floor_factor":    floorFactor,
		"age_factor":      ageFactor,
		"room_factor":     roomFactor,
		"bathroom_factor": bathroomFactor,
	})
}

var multiFactorTypeFactors = map[models.PropertyType]float64{
	models.PropertyApartment:  1.0,
	models.PropertyVilla:      1.5,
	models.PropertyTownhouse:  1.2,
	models.PropertyCommercial: 1.3,
}

var orientationFactors = map[models.Orientation]float64{
	models.OrientationSouth: 1.05,
	models.OrientationEast:  1.02,
	models.OrientationWest:  1.00,
	models.OrientationNorth: 0.98,
}

var decorationFactors = map[models.DecorationStatus]float64{
	models.DecorationLuxury: 1.15,
	models.DecorationFine:   1.10,
	models.DecorationSimple: 1.00,
	models.DecorationRough:  0.95,
}

// multiFactorModel combines categorical factors with floor/age interactions.
type multiFactorModel struct{}

func (multiFactorModel) ID() models.ModelID { return models.ModelMultiFactor }

func (multiFactorModel) Price(rec models.CleanedRecord) models.ModelResult {
	typeFactor := factorOr(multiFactorTypeFactors[rec.PropertyType])
	orientationFactor := factorOr(orientationFactors[rec.Orientation])
	decorationFactor := factorOr(decorationFactors[rec.DecorationStatus])

	price := rec.Area * baseRatePerSqm * typeFactor * orientationFactor * decorationFactor

	interaction := 1.0
	if rec.Age < 10 && rec.FloorLevel > 5 && rec.FloorLevel <= 15 {
		interaction = 1.10
	} else if rec.Age > 20 && rec.FloorLevel <= 3 {
		interaction = 0.90
	}
	price *= interaction

	layoutBonus := 1.0
	if rec.Rooms >= 3 && rec.Bathrooms >= 2 {
		layoutBonus = 1.05
	}
	price *= layoutBonus

	return newResult(models.ModelMultiFactor, rec, price, 0.82, map[string]float64{
		"type_factor":        typeFactor,
		"orientation_factor": orientationFactor,
		"decoration_factor":  decorationFactor,
		"interaction_factor": interaction,
		"layout_bonus":       layoutBonus,
	})
}

// minAgeFactor keeps very old buildings from depreciating to a non-positive price.
const minAgeFactor = 0.10

// comparableSalesModel scales reference sales by area and similarity.
type comparableSalesModel struct {
	comparables []Comparable
}

func (comparableSalesModel) ID() models.ModelID { return models.ModelComparableSales }

func (m comparableSalesModel) Price(rec models.CleanedRecord) models.ModelResult {
	var weightedSum, similaritySum float64
	for _, comp := range m.comparables {
		if comp.Area <= 0 || comp.Similarity <= 0 {
			continue
		}
		weightedSum += comp.Price * (rec.Area / comp.Area) * comp.Similarity
		similaritySum += comp.Similarity
	}

	var price float64
	if similaritySum > 0 {
		price = weightedSum / similaritySum
	}

	ageFactor := 1.0
	if rec.Age > 10 {
		ageFactor = math.Max(1-float64(rec.Age-10)*0.01, minAgeFactor)
	}
	price *= ageFactor

	floorFactor := 1.0
	switch {
	case rec.FloorLevel <= 3:
		floorFactor = 0.98
	case rec.FloorLevel > 15:
		floorFactor = 1.02
	}
	price *= floorFactor

	return newResult(models.ModelComparableSales, rec, price, 0.85, map[string]float64{
		"comparables":  float64(len(m.comparables)),
		"age_factor":   ageFactor,
		"floor_factor": floorFactor,
	})
}

var costTypeFactors = map[models.PropertyType]float64{
	models.PropertyApartment:  1.0,
	models.PropertyVilla:      1.8,
	models.PropertyTownhouse:  1.4,
	models.PropertyCommercial: 1.6,
}

const (
	baseConstructionRate = 5000.0
	landRatePerSqm       = 4000.0
	developerMargin      = 0.20
	yearlyDepreciation   = 0.02
	maxDepreciation      = 0.50
)

// costModel prices replacement cost plus land, less depreciation.
type costModel struct{}

func (costModel) ID() models.ModelID { return models.ModelCost }

func (costModel) Price(rec models.CleanedRecord) models.ModelResult {
	typeFactor := factorOr(costTypeFactors[rec.PropertyType])

	densityFactor := 1.0
	switch {
	case rec.PlotRatio < 2:
		densityFactor = 1.10
	case rec.PlotRatio > 4:
		densityFactor = 0.90
	}

	greeneryFactor := 1.0
	if rec.GreeningRate > 0.35 {
		greeneryFactor = 1.05
	}

	construction := rec.Area * baseConstructionRate * typeFactor * densityFactor * greeneryFactor
	land := rec.Area * landRatePerSqm
	price := (construction + land) * (1 + developerMargin)

	depreciationRate := math.Min(float64(rec.Age)*yearlyDepreciation, maxDepreciation)
	price -= price * depreciationRate

	return newResult(models.ModelCost, rec, price, 0.78, map[string]float64{
		"construction_cost": math.Round(construction),
		"land_cost":         math.Round(land),
		"depreciation_rate": depreciationRate,
	})
}

const (
	rentalYield       = 0.05
	operatingCostRate = 0.30
	discountRate      = 0.08
	usefulLife        = 40
	minRemainingYears = 10
	salvageShare      = 0.10
)

// incomeModel discounts rental income for commercial property and falls
// back to the market price for everything else.
type incomeModel struct{}

func (incomeModel) ID() models.ModelID { return models.ModelIncome }

func (incomeModel) Price(rec models.CleanedRecord) models.ModelResult {
	marketPrice := rec.Area * rec.MarketPricePerSqm
	if rec.PropertyType != models.PropertyCommercial {
		return newResult(models.ModelIncome, rec, marketPrice, 0.65, map[string]float64{
			"market_price_per_sqm": rec.MarketPricePerSqm,
		})
	}

	years := usefulLife - rec.Age
	if years < minRemainingYears {
		years = minRemainingYears
	}
	netIncome := marketPrice * rentalYield * (1 - operatingCostRate)

	var price float64
	for i := 1; i <= years; i++ {
		price += netIncome / math.Pow(1+discountRate, float64(i))
	}
	price += marketPrice * salvageShare / math.Pow(1+discountRate, float64(years))

	return newResult(models.ModelIncome, rec, price, 0.80, map[string]float64{
		"market_price_per_sqm": rec.MarketPricePerSqm,
		"net_annual_income":    math.Round(netIncome),
		"remaining_years":      float64(years),
	})
}

func factorOr(f float64) float64 {
	if f == 0 {
		return 1.0
	}
	return f
}
