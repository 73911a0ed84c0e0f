package services

import (
	"math"
	"testing"

	"property-valuation/models"
)

func apartmentRecord() models.CleanedRecord {
	return newTestCleaner().Clean(models.RawRecord{
		"area": 100, "building_year": 2015, "rooms": 3, "bathrooms": 2,
		"property_type": "apartment", "orientation": "south", "floor_level": 10,
	})
}

func commercialRecord() models.CleanedRecord {
	return newTestCleaner().Clean(models.RawRecord{
		"area": 200, "property_type": "commercial", "building_year": 2010, "floor_level": 5,
	})
}

func priceOf(t *testing.T, b *Bank, id models.ModelID, rec models.CleanedRecord) models.ModelResult {
	t.Helper()
	m, ok := b.Model(id)
	if !ok {
		t.Fatalf("model %s not in bank", id)
	}
	return m.Price(rec)
}

func TestBankApartmentPrices(t *testing.T) {
	b := NewBank(BankOptions{})
	rec := apartmentRecord()

	tests := []struct {
		id         models.ModelID
		price      float64
		confidence float64
	}{
		{models.ModelLinear, 1135575, 0.75},
		{models.ModelMultiFactor, 1102500, 0.82},
		{models.ModelComparableSales, 1200343, 0.85},
		{models.ModelCost, 864000, 0.78},
		{models.ModelIncome, 1000000, 0.65},
	}

	for _, tt := range tests {
		got := priceOf(t, b, tt.id, rec)
		if got.Price != tt.price {
			t.Errorf("%s price: got %.0f, want %.0f", tt.id, got.Price, tt.price)
		}
		if got.Confidence != tt.confidence {
			t.Errorf("%s confidence: got %.2f, want %.2f", tt.id, got.Confidence, tt.confidence)
		}
		if got.Model != tt.id {
			t.Errorf("%s model id: got %s", tt.id, got.Model)
		}
	}
}

func TestBankCommercialIncomeModel(t *testing.T) {
	b := NewBank(BankOptions{})
	got := priceOf(t, b, models.ModelIncome, commercialRecord())

	if got.Confidence != 0.80 {
		t.Errorf("confidence: got %.2f, want 0.80", got.Confidence)
	}
	if got.Metadata["remaining_years"] != 25 {
		t.Errorf("remaining years: got %v, want 25", got.Metadata["remaining_years"])
	}
	// 70,000/yr over 25 years at 8% plus 200,000 salvage discounted 25 years.
	annuity := 70000 * (1 - math.Pow(1.08, -25)) / 0.08
	want := math.Round(annuity + 200000/math.Pow(1.08, 25))
	if math.Abs(got.Price-want) > 1 {
		t.Errorf("price: got %.0f, want ~%.0f", got.Price, want)
	}
}

func TestBankIncomeRemainingYearsFloor(t *testing.T) {
	b := NewBank(BankOptions{})
	rec := commercialRecord()
	rec.Age = 60
	got := priceOf(t, b, models.ModelIncome, rec)
	if got.Metadata["remaining_years"] != 10 {
		t.Errorf("remaining years: got %v, want 10", got.Metadata["remaining_years"])
	}
}

func TestBankCostDepreciationCap(t *testing.T) {
	b := NewBank(BankOptions{})
	rec := apartmentRecord()
	rec.Age = 80
	got := priceOf(t, b, models.ModelCost, rec)
	// (500,000 + 400,000) * 1.2 * 0.5
	if got.Price != 540000 {
		t.Errorf("price: got %.0f, want 540000", got.Price)
	}
}

func TestBankComparableAgeFloorKeepsPricePositive(t *testing.T) {
	b := NewBank(BankOptions{})
	rec := apartmentRecord()
	rec.Age = 125
	got := priceOf(t, b, models.ModelComparableSales, rec)
	if got.Price <= 0 {
		t.Errorf("price should stay positive, got %.0f", got.Price)
	}
}

func TestBankCustomComparables(t *testing.T) {
	b := NewBank(BankOptions{Comparables: []Comparable{{Area: 50, Price: 500000, Similarity: 1}}})
	got := priceOf(t, b, models.ModelComparableSales, apartmentRecord())
	if got.Price != 1000000 {
		t.Errorf("price: got %.0f, want 1000000", got.Price)
	}
}

func TestBankMultiFactorInteractions(t *testing.T) {
	b := NewBank(BankOptions{})

	newBuildMidFloor := apartmentRecord()
	newBuildMidFloor.Age = 3
	got := priceOf(t, b, models.ModelMultiFactor, newBuildMidFloor)
	if got.Metadata["interaction_factor"] != 1.10 {
		t.Errorf("new mid-floor interaction: got %v, want 1.10", got.Metadata["interaction_factor"])
	}

	oldLowFloor := apartmentRecord()
	oldLowFloor.Age = 30
	oldLowFloor.FloorLevel = 2
	got = priceOf(t, b, models.ModelMultiFactor, oldLowFloor)
	if got.Metadata["interaction_factor"] != 0.90 {
		t.Errorf("old low-floor interaction: got %v, want 0.90", got.Metadata["interaction_factor"])
	}
}

func TestBankModelsOrderAndDeterminism(t *testing.T) {
	b := NewBank(BankOptions{})
	list := b.Models()
	if len(list) != len(models.AllModels) {
		t.Fatalf("model count: got %d, want %d", len(list), len(models.AllModels))
	}
	rec := apartmentRecord()
	for i, m := range list {
		if m.ID() != models.AllModels[i] {
			t.Errorf("model %d: got %s, want %s", i, m.ID(), models.AllModels[i])
		}
		if a, b := m.Price(rec), m.Price(rec); a.Price != b.Price {
			t.Errorf("%s not deterministic: %v vs %v", m.ID(), a.Price, b.Price)
		}
	}
	if _, ok := b.Model("neural_net"); ok {
		t.Error("unknown model should not resolve")
	}
}
