package services

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"property-valuation/models"
	"property-valuation/utils"
)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(a *models.ResultArtifact) *models.InsightReport {
	report := &models.InsightReport{
		AvgPricePerSqmType: make(map[models.PropertyType]float64),
		RowsByType:         make(map[models.PropertyType]int),
		RowsByCity:         make(map[string]int),
	}
	if a == nil {
		return report
	}

	report.TaskID = a.TaskID
	report.Filename = a.Filename
	report.TotalRows = a.Total
	report.SucceededRows = a.Succeeded
	report.FailedRows = a.Failed

	var valued []*models.RowResult
	for i := range a.Results {
		r := &a.Results[i]
		if r.Status == models.RowSuccess && r.Valuation != nil && r.Valuation.EstimatedPrice > 0 {
			valued = append(valued, r)
		}
	}
	if len(valued) == 0 {
		return report
	}

	sqmTotals := make(map[models.PropertyType]float64)
	report.MinPrice = valued[0].Valuation.EstimatedPrice
	report.MaxPrice = valued[0].Valuation.EstimatedPrice
	report.MostExpensive = valued[0]

	var total, confidence float64
	for _, r := range valued {
		v := r.Valuation
		total += v.EstimatedPrice
		confidence += v.Confidence
		if v.EstimatedPrice < report.MinPrice {
			report.MinPrice = v.EstimatedPrice
		}
		if v.EstimatedPrice > report.MaxPrice {
			report.MaxPrice = v.EstimatedPrice
			report.MostExpensive = r
		}
		report.OutlierTotal += v.OutlierCount()

		pt := v.Features.PropertyType
		report.RowsByType[pt]++
		sqmTotals[pt] += v.PricePerSqm
		if v.Features.City != "" {
			report.RowsByCity[v.Features.City]++
		}
	}
	report.AveragePrice = round2(total / float64(len(valued)))
	report.AverageConfidence = round2(confidence / float64(len(valued)))
	for pt, sum := range sqmTotals {
		report.AvgPricePerSqmType[pt] = round2(sum / float64(report.RowsByType[pt]))
	}

	// Top 5 by estimated price
	sort.SliceStable(valued, func(i, j int) bool {
		return valued[i].Valuation.EstimatedPrice > valued[j].Valuation.EstimatedPrice
	})
	if len(valued) > 5 {
		report.TopValued = valued[:5]
	} else {
		report.TopValued = valued
	}

	s.logger.Debug("[insights] task %s: %d valued rows, average %.2f", a.TaskID, len(valued), report.AveragePrice)
	return report
}

func (s *InsightService) Print(r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  📊 BATCH VALUATION INSIGHTS\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Printf("\033[1;33m  Overview\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Task           : %s (%s)\n", r.TaskID, r.Filename)
	fmt.Printf("  Rows submitted : \033[1m%d\033[0m\n", r.TotalRows)
	fmt.Printf("  Rows valued    : \033[1;32m%d\033[0m\n", r.SucceededRows)
	fmt.Printf("  Rows failed    : \033[1;31m%d\033[0m\n", r.FailedRows)
	fmt.Printf("  Outlier models : %d\n", r.OutlierTotal)
	fmt.Println()

	// Price Stats
	fmt.Printf("\033[1;33m  Estimated Prices\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if r.AveragePrice > 0 {
		fmt.Printf("  Average price      : \033[1;32m%.2f\033[0m\n", r.AveragePrice)
		fmt.Printf("  Minimum price      : \033[1;32m%.2f\033[0m\n", r.MinPrice)
		fmt.Printf("  Maximum price      : \033[1;32m%.2f\033[0m\n", r.MaxPrice)
		fmt.Printf("  Average confidence : %.2f\n", r.AverageConfidence)
	} else {
		fmt.Printf("  No valued rows\n")
	}
	fmt.Println()

	// Most Expensive
	if r.MostExpensive != nil && r.MostExpensive.Valuation != nil {
		v := r.MostExpensive.Valuation
		fmt.Printf("\033[1;33m  Most Expensive Property\033[0m\n")
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  %s\n", truncate(describe(v.Features), 50))
		fmt.Printf("  Area  : %.1f sqm\n", v.Features.Area)
		fmt.Printf("  Price : \033[1;31m%.0f\033[0m (%.0f/sqm)\n", v.EstimatedPrice, v.PricePerSqm)
		fmt.Println()
	}

	// ── TOP 5 HIGHEST VALUED ─────────────────────────────────────────────
	fmt.Printf("\033[1;33m  Top 5 Highest Valued Properties\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.TopValued) == 0 {
		fmt.Printf("  No valued rows\n")
	} else {
		for i, row := range r.TopValued {
			fmt.Printf("  \033[1m%d.\033[0m %-36s \033[1;32m%12.0f\033[0m\n",
				i+1, truncate(describe(row.Valuation.Features), 34), row.Valuation.EstimatedPrice)
		}
	}
	fmt.Println()

	// Price per sqm by type
	fmt.Printf("\033[1;33m  Average Price per sqm by Type\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.AvgPricePerSqmType) == 0 {
		fmt.Printf("  No type data\n")
	} else {
		types := make([]models.PropertyType, 0, len(r.AvgPricePerSqmType))
		for pt := range r.AvgPricePerSqmType {
			types = append(types, pt)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		for _, pt := range types {
			fmt.Printf("  %-12s %10.2f  (%d rows)\n", pt, r.AvgPricePerSqmType[pt], r.RowsByType[pt])
		}
	}
	fmt.Println()

	// Rows by City
	if len(r.RowsByCity) > 0 {
		fmt.Printf("\033[1;33m  Rows by City\033[0m\n")
		fmt.Printf("  %s\n", thin)
		type cityCount struct {
			city  string
			count int
		}
		var cities []cityCount
		for city, cnt := range r.RowsByCity {
			cities = append(cities, cityCount{city, cnt})
		}
		sort.Slice(cities, func(i, j int) bool {
			if cities[i].count == cities[j].count {
				return cities[i].city < cities[j].city
			}
			return cities[i].count > cities[j].count
		})
		for _, cc := range cities {
			bar := strings.Repeat("█", int(math.Min(float64(cc.count), 40)))
			fmt.Printf("  %-30s %s (%d)\n", truncate(cc.city, 28), bar, cc.count)
		}
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func describe(rec models.CleanedRecord) string {
	parts := []string{string(rec.PropertyType)}
	if rec.City != "" {
		parts = append(parts, rec.City)
	}
	if rec.District != "" {
		parts = append(parts, rec.District)
	}
	if rec.Address != "" {
		parts = append(parts, rec.Address)
	}
	return strings.Join(parts, ", ")
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
