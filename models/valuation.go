package models

import "time"

// ModelID identifies one pricing model of the ensemble.
type ModelID string

const (
	ModelLinear          ModelID = "linear"
	ModelMultiFactor     ModelID = "multi_factor"
	ModelComparableSales ModelID = "comparable_sales"
	ModelCost            ModelID = "cost"
	ModelIncome          ModelID = "income"

	// ModelEnsemble selects the blended five-model estimate.
	ModelEnsemble ModelID = "ensemble"
)

// AllModels lists the model bank in its fixed evaluation order.
var AllModels = []ModelID{ModelLinear, ModelMultiFactor, ModelComparableSales, ModelCost, ModelIncome}

// Weights maps a model to its static blending weight.
type Weights map[ModelID]float64

// ModelResult is the output of a single pricing model.
type ModelResult struct {
	Model       ModelID            `json:"model"`
	Price       float64            `json:"price"`
	PricePerSqm float64            `json:"price_per_sqm"`
	Confidence  float64            `json:"confidence"`
	Metadata    map[string]float64 `json:"metadata,omitempty"`
}

// ModelDetail is a model result annotated with how the ensemble used it.
type ModelDetail struct {
	ModelResult
	Weight    float64 `json:"weight"`
	IsOutlier bool    `json:"is_outlier"`
	Usable    bool    `json:"usable"`
}

// EnsembleResult is the blended estimate with per-model diagnostics.
type EnsembleResult struct {
	EstimatedPrice  float64       `json:"estimated_price"`
	PricePerSqm     float64       `json:"price_per_sqm"`
	Confidence      float64       `json:"confidence"`
	PerModel        []ModelDetail `json:"per_model"`
	OutlierCount    int           `json:"outlier_count"`
	ValidCount      int           `json:"valid_count"`
	FallbackApplied bool          `json:"fallback_applied"`
	LowerFence      float64       `json:"lower_fence"`
	UpperFence      float64       `json:"upper_fence"`
}

// Valuation is what the single-record and batch paths hand back for one
// property: the chosen model's figures plus provenance.
type Valuation struct {
	ID               string          `json:"id"`
	Model            ModelID         `json:"model"`
	EstimatedPrice   float64         `json:"estimated_price"`
	PricePerSqm      float64         `json:"price_per_sqm"`
	Confidence       float64         `json:"confidence"`
	Ensemble         *EnsembleResult `json:"ensemble,omitempty"`
	Single           *ModelResult    `json:"single,omitempty"`
	Features         CleanedRecord   `json:"features"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	ValuedAt         time.Time       `json:"valued_at"`
}

// OutlierCount is zero for single-model valuations.
func (v *Valuation) OutlierCount() int {
	if v == nil || v.Ensemble == nil {
		return 0
	}
	return v.Ensemble.OutlierCount
}
