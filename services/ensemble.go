package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"property-valuation/models"
)

var (
	// ErrInvalidWeights is returned when a weight override is unusable.
	ErrInvalidWeights = errors.New("invalid model weights")
	// ErrNoUsableModel is returned when no model produced a positive price.
	ErrNoUsableModel = errors.New("no model produced a usable price")
)

const fenceMultiplier = 1.5

// DefaultWeights returns a fresh copy of the static model weights.
func DefaultWeights() models.Weights {
	return models.Weights{
		models.ModelLinear:          0.25,
		models.ModelMultiFactor:     0.30,
		models.ModelComparableSales: 0.25,
		models.ModelCost:            0.15,
		models.ModelIncome:          0.20,
	}
}

// ResolveWeights merges override on top of the default weights. Unknown
// models, negative or non-finite values and a non-positive total are rejected.
func ResolveWeights(override models.Weights) (models.Weights, error) {
	resolved := DefaultWeights()
	for id, w := range override {
		if _, known := resolved[id]; !known {
			return nil, fmt.Errorf("%w: unknown model %q", ErrInvalidWeights, id)
		}
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, fmt.Errorf("%w: weight for %q must be a non-negative number, got %v", ErrInvalidWeights, id, w)
		}
		resolved[id] = w
	}

	var total float64
	for _, w := range resolved {
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: weights sum to %v", ErrInvalidWeights, total)
	}
	return resolved, nil
}

// Ensemble runs every model, rejects IQR outliers and blends the rest by
// weight times confidence.
type Ensemble struct {
	models []Model
}

// NewEnsemble creates an ensemble over the bank's models.
func NewEnsemble(bank *Bank) *Ensemble {
	return &Ensemble{models: bank.Models()}
}

// Aggregate prices rec with every model. A nil weights map means the
// default weights; the map is never modified.
func (e *Ensemble) Aggregate(ctx context.Context, rec models.CleanedRecord, weights models.Weights) (*models.EnsembleResult, error) {
	if weights == nil {
		weights = DefaultWeights()
	}

	results, err := e.runModels(ctx, rec)
	if err != nil {
		return nil, err
	}

	details := make([]models.ModelDetail, len(results))
	var usable []float64
	for i, r := range results {
		w := weights[r.Model]
		if w < 0 || math.IsNaN(w) {
			w = 0
		}
		ok := r.Price > 0 && !math.IsInf(r.Price, 0) && !math.IsNaN(r.Price) &&
			r.Confidence > 0 && !math.IsNaN(r.Confidence)
		details[i] = models.ModelDetail{ModelResult: r, Weight: w, Usable: ok}
		if ok {
			usable = append(usable, r.Price)
		}
	}
	if len(usable) == 0 {
		return nil, ErrNoUsableModel
	}

	lower, upper := iqrFences(usable)
	for i := range details {
		if details[i].Usable && (details[i].Price < lower || details[i].Price > upper) {
			details[i].IsOutlier = true
		}
	}

	result := &models.EnsembleResult{
		PerModel:   details,
		LowerFence: lower,
		UpperFence: upper,
	}

	included := func(d models.ModelDetail) bool { return d.Usable && !d.IsOutlier }
	price, confidence, count, ok := blend(details, included, true)
	if !ok {
		// Every non-outlier carries zero weight: blend all usable models instead.
		result.FallbackApplied = true
		included = func(d models.ModelDetail) bool { return d.Usable }
		price, confidence, count, ok = blend(details, included, true)
		if !ok {
			price, confidence, count, _ = blend(details, included, false)
		}
	}

	result.EstimatedPrice = math.Round(price)
	result.PricePerSqm = math.Round(result.EstimatedPrice / rec.Area)
	result.Confidence = math.Round(confidence*100) / 100
	result.ValidCount = count
	result.OutlierCount = len(usable) - count
	return result, nil
}

func (e *Ensemble) runModels(ctx context.Context, rec models.CleanedRecord) ([]models.ModelResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]models.ModelResult, len(e.models))
	var g errgroup.Group
	for i, m := range e.models {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("model %s panicked: %v", m.ID(), r)
				}
			}()
			results[i] = m.Price(rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// blend computes the weighted price and confidence over the included
// details. With useWeight false each model is weighted by its confidence
// alone. ok is false when the weight sum is not positive.
func blend(details []models.ModelDetail, include func(models.ModelDetail) bool, useWeight bool) (price, confidence float64, count int, ok bool) {
	var priceSum, confSum, weightSum float64
	for _, d := range details {
		if !include(d) {
			continue
		}
		count++
		w := d.Confidence
		if useWeight {
			w *= d.Weight
		}
		priceSum += d.Price * w
		confSum += d.Confidence * w
		weightSum += w
	}
	if weightSum <= 0 {
		return 0, 0, count, false
	}
	return priceSum / weightSum, confSum / weightSum, count, true
}

// iqrFences returns Tukey's fences. Quartiles are taken at index
// floor(n*q) of the sorted sample, without interpolation.
func iqrFences(prices []float64) (lower, upper float64) {
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)
	n := len(sorted)
	q1 := sorted[int(math.Floor(float64(n)*0.25))]
	q3 := sorted[int(math.Floor(float64(n)*0.75))]
	iqr := q3 - q1
	return q1 - fenceMultiplier*iqr, q3 + fenceMultiplier*iqr
}
