package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"

	"property-valuation/models"
	"property-valuation/storage"
)

const (
	msgRowValued = "valued"
	resultSheet  = "Results"
)

// summaryColumns follow the original row fields in every tabular view.
var summaryColumns = []string{"status", "message", "estimated_price", "price_per_sqm", "confidence", "outlier_count"}

// BuildArtifact assembles the result artifact of a task from its row
// outcomes. Outcomes must be in row order.
func BuildArtifact(task models.Task, outcomes []models.RowOutcome) *models.ResultArtifact {
	a := &models.ResultArtifact{
		TaskID:    task.ID,
		Filename:  task.Filename,
		Status:    task.Status,
		Total:     task.Total,
		Processed: task.Processed,
		Succeeded: task.Succeeded,
		Failed:    task.Failed,
		Results:   make([]models.RowResult, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		r := models.RowResult{Row: o.Row, Status: o.Status, Valuation: o.Valuation}
		if o.Status == models.RowSuccess {
			r.Message = msgRowValued
		} else {
			r.Message = o.Error
		}
		a.Results = append(a.Results, r)
	}
	return a
}

// WriteJSON renders the record-oriented view of the artifact.
func WriteJSON(w io.Writer, a *models.ResultArtifact) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		return fmt.Errorf("emit json: %w", err)
	}
	return nil
}

// WriteCSV renders the tabular view of the artifact as CSV.
func WriteCSV(w io.Writer, a *models.ResultArtifact) error {
	header, rows := tabulate(a)
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("emit csv: write header: %w", err)
	}
	for _, row := range rows {
		record := make([]string, len(row))
		for i, cell := range row {
			record[i] = cellString(cell)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("emit csv: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX renders the tabular view of the artifact as a spreadsheet.
func WriteXLSX(w io.Writer, a *models.ResultArtifact) error {
	header, rows := tabulate(a)

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), resultSheet); err != nil {
		return fmt.Errorf("emit xlsx: %w", err)
	}

	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(resultSheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("emit xlsx: write header: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("emit xlsx: %w", err)
		}
		values := append([]interface{}(nil), row...)
		if err := f.SetSheetRow(resultSheet, cell, &values); err != nil {
			return fmt.Errorf("emit xlsx: write row %d: %w", i+1, err)
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("emit xlsx: %w", err)
	}
	return nil
}

// tabulate flattens the artifact into a header and rows. Columns are the
// sorted union of the original row keys followed by summaryColumns.
func tabulate(a *models.ResultArtifact) ([]string, [][]interface{}) {
	keySet := make(map[string]struct{})
	for _, r := range a.Results {
		for k := range r.Row {
			keySet[k] = struct{}{}
		}
	}
	for _, c := range summaryColumns {
		delete(keySet, c)
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	header := append(keys, summaryColumns...)
	rows := make([][]interface{}, 0, len(a.Results))
	for _, r := range a.Results {
		row := make([]interface{}, 0, len(header))
		for _, k := range keys {
			row = append(row, r.Row[k])
		}
		row = append(row, string(r.Status), r.Message)
		if r.Valuation != nil {
			row = append(row, r.Valuation.EstimatedPrice, r.Valuation.PricePerSqm,
				r.Valuation.Confidence, r.Valuation.OutlierCount())
		} else {
			row = append(row, nil, nil, nil, nil)
		}
		rows = append(rows, row)
	}
	return header, rows
}

func cellString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Emitter renders every view of an artifact and stores them.
type Emitter struct {
	store storage.ArtifactStore
}

func NewEmitter(store storage.ArtifactStore) *Emitter {
	return &Emitter{store: store}
}

type artifactView struct {
	suffix      string
	contentType string
	write       func(io.Writer, *models.ResultArtifact) error
}

var artifactViews = []artifactView{
	{"_result.json", "application/json", WriteJSON},
	{"_result.csv", "text/csv", WriteCSV},
	{"_result.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", WriteXLSX},
}

// Persist writes <task id>_result.json/.csv/.xlsx through the artifact store.
// It returns the reference of the JSON document along with its bytes.
func (e *Emitter) Persist(ctx context.Context, a *models.ResultArtifact) (string, []byte, error) {
	var (
		jsonRef string
		jsonDoc []byte
	)
	for _, view := range artifactViews {
		var buf bytes.Buffer
		if err := view.write(&buf, a); err != nil {
			return "", nil, err
		}
		ref, err := e.store.Put(ctx, a.TaskID+view.suffix, view.contentType, buf.Bytes())
		if err != nil {
			return "", nil, fmt.Errorf("store %s: %w", view.suffix, err)
		}
		if jsonRef == "" {
			jsonRef, jsonDoc = ref, buf.Bytes()
		}
	}
	return jsonRef, jsonDoc, nil
}
