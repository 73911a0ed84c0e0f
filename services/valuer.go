package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"property-valuation/models"
)

// ErrUnknownModel is returned when a caller asks for a model outside the bank.
var ErrUnknownModel = errors.New("unknown valuation model")

// Valuer is the single-record valuation entry point: clean, then price with
// the ensemble or with one named model.
type Valuer struct {
	cleaner  *Cleaner
	bank     *Bank
	ensemble *Ensemble
	now      func() time.Time
}

// NewValuer wires a cleaner and a model bank together.
func NewValuer(cleaner *Cleaner, bank *Bank) *Valuer {
	return &Valuer{
		cleaner:  cleaner,
		bank:     bank,
		ensemble: NewEnsemble(bank),
		now:      time.Now,
	}
}

// Cleaner exposes the valuer's cleaner.
func (v *Valuer) Cleaner() *Cleaner { return v.cleaner }

// Estimate values one raw record. An empty modelType selects the ensemble.
func (v *Valuer) Estimate(ctx context.Context, raw models.RawRecord, modelType models.ModelID, weights models.Weights) (*models.Valuation, error) {
	resolved, err := ResolveWeights(weights)
	if err != nil {
		return nil, err
	}
	return v.Value(ctx, v.cleaner.Clean(raw), modelType, resolved)
}

// Value prices an already cleaned record. weights must already be resolved;
// nil means the defaults.
func (v *Valuer) Value(ctx context.Context, rec models.CleanedRecord, modelType models.ModelID, weights models.Weights) (*models.Valuation, error) {
	start := v.now()
	val := &models.Valuation{
		ID:       uuid.NewString(),
		Features: rec,
	}

	switch modelType {
	case "", models.ModelEnsemble:
		res, err := v.ensemble.Aggregate(ctx, rec, weights)
		if err != nil {
			return nil, fmt.Errorf("ensemble: %w", err)
		}
		val.Model = models.ModelEnsemble
		val.EstimatedPrice = res.EstimatedPrice
		val.PricePerSqm = res.PricePerSqm
		val.Confidence = res.Confidence
		val.Ensemble = res
	default:
		m, ok := v.bank.Model(modelType)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownModel, modelType)
		}
		res := m.Price(rec)
		val.Model = modelType
		val.EstimatedPrice = res.Price
		val.PricePerSqm = res.PricePerSqm
		val.Confidence = res.Confidence
		val.Single = &res
	}

	end := v.now()
	val.ValuedAt = end.UTC()
	val.ProcessingTimeMs = end.Sub(start).Milliseconds()
	return val, nil
}
