package services

import (
	"context"
	"errors"
	"math"
	"testing"

	"property-valuation/models"
)

type stubModel struct {
	id         models.ModelID
	price      float64
	confidence float64
	panics     bool
}

func (s stubModel) ID() models.ModelID { return s.id }

func (s stubModel) Price(rec models.CleanedRecord) models.ModelResult {
	if s.panics {
		panic("stub failure")
	}
	return models.ModelResult{Model: s.id, Price: s.price, Confidence: s.confidence}
}

func stubEnsemble(prices ...float64) *Ensemble {
	list := make([]Model, len(prices))
	for i, p := range prices {
		list[i] = stubModel{id: models.AllModels[i], price: p, confidence: 0.8}
	}
	return &Ensemble{models: list}
}

func TestEnsembleApartmentBlend(t *testing.T) {
	e := NewEnsemble(NewBank(BankOptions{}))
	res, err := e.Aggregate(context.Background(), apartmentRecord(), nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if res.OutlierCount != 0 || res.ValidCount != 5 {
		t.Errorf("counts: got valid=%d outliers=%d, want 5/0", res.ValidCount, res.OutlierCount)
	}
	if math.Abs(res.EstimatedPrice-1086558) > 1 {
		t.Errorf("estimated price: got %.0f, want ~1086558", res.EstimatedPrice)
	}
	if res.Confidence != 0.78 {
		t.Errorf("confidence: got %.2f, want 0.78", res.Confidence)
	}
	if res.PricePerSqm != math.Round(res.EstimatedPrice/100) {
		t.Errorf("price per sqm: got %.0f", res.PricePerSqm)
	}
	if res.FallbackApplied {
		t.Error("fallback should not apply")
	}
	if len(res.PerModel) != 5 {
		t.Fatalf("per-model details: got %d, want 5", len(res.PerModel))
	}
	if res.PerModel[1].Weight != 0.30 {
		t.Errorf("multi-factor weight: got %v, want 0.30", res.PerModel[1].Weight)
	}
}

func TestEnsembleCommercialOutliers(t *testing.T) {
	e := NewEnsemble(NewBank(BankOptions{}))
	res, err := e.Aggregate(context.Background(), commercialRecord(), nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if res.OutlierCount != 2 || res.ValidCount != 3 {
		t.Errorf("counts: got valid=%d outliers=%d, want 3/2", res.ValidCount, res.OutlierCount)
	}
	flagged := map[models.ModelID]bool{}
	for _, d := range res.PerModel {
		if d.IsOutlier {
			flagged[d.Model] = true
		}
	}
	if !flagged[models.ModelIncome] || !flagged[models.ModelMultiFactor] {
		t.Errorf("expected income and multi_factor flagged, got %v", flagged)
	}
	if res.EstimatedPrice < res.LowerFence || res.EstimatedPrice > res.UpperFence {
		t.Errorf("blend %.0f outside fences [%.0f, %.0f]", res.EstimatedPrice, res.LowerFence, res.UpperFence)
	}
}

func TestEnsembleIdenticalPricesHaveNoOutliers(t *testing.T) {
	e := stubEnsemble(500000, 500000, 500000, 500000, 500000)
	res, err := e.Aggregate(context.Background(), apartmentRecord(), nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.OutlierCount != 0 {
		t.Errorf("outliers: got %d, want 0", res.OutlierCount)
	}
	if res.EstimatedPrice != 500000 {
		t.Errorf("price: got %.0f, want 500000", res.EstimatedPrice)
	}
}

func TestEnsembleFlagsSingleOutlier(t *testing.T) {
	e := stubEnsemble(100, 100, 100, 100, 1000)
	res, err := e.Aggregate(context.Background(), apartmentRecord(), nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.OutlierCount != 1 || !res.PerModel[4].IsOutlier {
		t.Errorf("expected last model flagged, got %+v", res.PerModel)
	}
	if res.EstimatedPrice != 100 {
		t.Errorf("price: got %.0f, want 100", res.EstimatedPrice)
	}
}

func TestEnsembleFallbackWhenNonOutliersCarryNoWeight(t *testing.T) {
	e := stubEnsemble(100, 100, 100, 100, 1000)
	weights := models.Weights{
		models.ModelLinear:          0,
		models.ModelMultiFactor:     0,
		models.ModelComparableSales: 0,
		models.ModelCost:            0,
		models.ModelIncome:          1,
	}
	res, err := e.Aggregate(context.Background(), apartmentRecord(), weights)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !res.FallbackApplied {
		t.Fatal("expected fallback")
	}
	if res.ValidCount != 5 || res.OutlierCount != 0 {
		t.Errorf("counts: got valid=%d outliers=%d, want 5/0", res.ValidCount, res.OutlierCount)
	}
	if res.EstimatedPrice != 1000 {
		t.Errorf("price: got %.0f, want 1000", res.EstimatedPrice)
	}
	if math.IsNaN(res.Confidence) || res.Confidence <= 0 {
		t.Errorf("confidence should be positive, got %v", res.Confidence)
	}
}

func TestEnsembleFallbackWithAllZeroWeights(t *testing.T) {
	e := stubEnsemble(100, 200, 300, 400, 500)
	zero := models.Weights{}
	for _, id := range models.AllModels {
		zero[id] = 0
	}
	res, err := e.Aggregate(context.Background(), apartmentRecord(), zero)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !res.FallbackApplied {
		t.Fatal("expected fallback")
	}
	if res.EstimatedPrice != 300 {
		t.Errorf("price: got %.0f, want 300", res.EstimatedPrice)
	}
}

func TestEnsembleSkipsUnusablePrices(t *testing.T) {
	e := stubEnsemble(100, 100, 0, 100, math.NaN())
	res, err := e.Aggregate(context.Background(), apartmentRecord(), nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.ValidCount+res.OutlierCount != 3 {
		t.Errorf("usable count: got %d, want 3", res.ValidCount+res.OutlierCount)
	}
	if res.PerModel[2].Usable || res.PerModel[4].Usable {
		t.Error("zero and NaN prices must be unusable")
	}
}

func TestEnsembleNoUsableModel(t *testing.T) {
	e := stubEnsemble(0, 0, 0, 0, 0)
	_, err := e.Aggregate(context.Background(), apartmentRecord(), nil)
	if !errors.Is(err, ErrNoUsableModel) {
		t.Errorf("expected ErrNoUsableModel, got %v", err)
	}
}

func TestEnsembleModelPanicBecomesError(t *testing.T) {
	e := &Ensemble{models: []Model{
		stubModel{id: models.ModelLinear, price: 1, confidence: 1},
		stubModel{id: models.ModelCost, panics: true},
	}}
	if _, err := e.Aggregate(context.Background(), apartmentRecord(), nil); err == nil {
		t.Error("expected error from panicking model")
	}
}

func TestEnsembleWeightOverrideDoesNotMutateDefaults(t *testing.T) {
	override := models.Weights{models.ModelIncome: 0.9}
	resolved, err := ResolveWeights(override)
	if err != nil {
		t.Fatalf("ResolveWeights: %v", err)
	}
	resolved[models.ModelLinear] = 42
	if DefaultWeights()[models.ModelLinear] != 0.25 {
		t.Error("default weights were mutated")
	}
	if resolved[models.ModelIncome] != 0.9 {
		t.Errorf("override not applied: %v", resolved[models.ModelIncome])
	}
}

func TestResolveWeightsValidation(t *testing.T) {
	allZero := models.Weights{}
	for _, id := range models.AllModels {
		allZero[id] = 0
	}

	tests := []struct {
		name    string
		weights models.Weights
		wantErr bool
	}{
		{"nil", nil, false},
		{"partial", models.Weights{models.ModelCost: 0.5}, false},
		{"unknown model", models.Weights{"oracle": 1}, true},
		{"negative", models.Weights{models.ModelCost: -0.1}, true},
		{"nan", models.Weights{models.ModelCost: math.NaN()}, true},
		{"zero total", allZero, true},
	}

	for _, tt := range tests {
		_, err := ResolveWeights(tt.weights)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: error = %v; wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidWeights) {
			t.Errorf("%s: expected ErrInvalidWeights, got %v", tt.name, err)
		}
	}
}

func TestIQRFencesUseFloorIndex(t *testing.T) {
	lower, upper := iqrFences([]float64{50, 10, 40, 20, 30})
	// sorted 10 20 30 40 50: q1 = s[1] = 20, q3 = s[3] = 40
	if lower != -10 || upper != 70 {
		t.Errorf("fences: got [%v, %v], want [-10, 70]", lower, upper)
	}
}
