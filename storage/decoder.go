package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"property-valuation/models"
)

// ErrUnsupportedFormat is returned for input files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported input format")

// FileSource is a lazily decoded input file. Rows are read on demand so a
// submission never blocks on parsing.
type FileSource struct {
	Path string
}

// Name returns the base file name.
func (f FileSource) Name() string {
	return filepath.Base(f.Path)
}

// Rows decodes the whole file.
func (f FileSource) Rows(ctx context.Context) ([]models.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return DecodeFile(f.Path)
}

// DecodeFile reads path and decodes it by extension: .csv, .xlsx or .json.
func DecodeFile(path string) ([]models.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("decode: read %q: %w", path, err)
	}
	return Decode(filepath.Ext(path), bytes.NewReader(data))
}

// Decode parses r in the format named by ext (with or without the dot).
func Decode(ext string, r io.Reader) ([]models.RawRecord, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "csv":
		return decodeCSV(r)
	case "xlsx", "xlsm":
		return decodeXLSX(r)
	case "json":
		return decodeJSON(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func decodeCSV(r io.Reader) ([]models.RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	table, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}
	return tableToRecords(table)
}

func decodeXLSX(r io.Reader) ([]models.RawRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("decode xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("decode xlsx: workbook has no sheets")
	}
	table, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("decode xlsx: read sheet %q: %w", sheets[0], err)
	}
	return tableToRecords(table)
}

// tableToRecords maps each data row onto the header row. Blank cells are
// left out of the record and fully blank rows are skipped.
func tableToRecords(table [][]string) ([]models.RawRecord, error) {
	if len(table) == 0 {
		return nil, nil
	}

	header := make([]string, len(table[0]))
	for i, h := range table[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var records []models.RawRecord
	for _, row := range table[1:] {
		rec := models.RawRecord{}
		for i, cell := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			rec[header[i]] = cellValue(cell)
		}
		if len(rec) > 0 {
			records = append(records, rec)
		}
	}
	return records, nil
}

func cellValue(cell string) any {
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	return cell
}

func decodeJSON(r io.Reader) ([]models.RawRecord, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc json.RawMessage
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapper struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		if len(wrapper.Data) == 0 {
			return nil, errors.New("decode json: object has no data array")
		}
		trimmed = wrapper.Data
	}

	inner := json.NewDecoder(bytes.NewReader(trimmed))
	inner.UseNumber()
	var records []models.RawRecord
	if err := inner.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return records, nil
}
