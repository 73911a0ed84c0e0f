package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"property-valuation/models"
)

func exampleOutcomes(t *testing.T) (models.Task, []models.RowOutcome) {
	t.Helper()
	v := newTestValuer()
	val, err := v.Value(context.Background(), v.Cleaner().Clean(exampleApartment), models.ModelEnsemble, nil)
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	task := models.Task{
		ID: "task-1", Filename: "example.csv", Status: models.TaskCompleted,
		Total: 2, Processed: 2, Succeeded: 1, Failed: 1,
	}
	outcomes := []models.RowOutcome{
		{Index: 0, Row: exampleApartment, Status: models.RowSuccess, Valuation: val},
		{Index: 1, Row: models.RawRecord{"area": "bad", "city": "Hangzhou"}, Status: models.RowFailed, Error: "area must be a positive number"},
	}
	return task, outcomes
}

type memoryArtifacts struct {
	files map[string][]byte
	fail  string
}

func (m *memoryArtifacts) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if name == m.fail {
		return "", errors.New("bucket unavailable")
	}
	m.files[name] = append([]byte(nil), data...)
	return "mem://" + name, nil
}

func TestBuildArtifact(t *testing.T) {
	task, outcomes := exampleOutcomes(t)
	a := BuildArtifact(task, outcomes)

	if a.TaskID != "task-1" || a.Succeeded != 1 || a.Failed != 1 {
		t.Errorf("header: got %+v", a)
	}
	if len(a.Results) != 2 {
		t.Fatalf("results: got %d, want 2", len(a.Results))
	}
	if a.Results[0].Message != msgRowValued {
		t.Errorf("success message: got %q, want %q", a.Results[0].Message, msgRowValued)
	}
	if a.Results[1].Message != "area must be a positive number" || a.Results[1].Valuation != nil {
		t.Errorf("failed row: got %+v", a.Results[1])
	}
}

func TestWriteCSV(t *testing.T) {
	task, outcomes := exampleOutcomes(t)
	var buf bytes.Buffer
	if err := WriteCSV(&buf, BuildArtifact(task, outcomes)); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records: got %d, want 3", len(records))
	}

	header := records[0]
	wantHeader := []string{"area", "bathrooms", "building_year", "city", "floor_level", "orientation",
		"property_type", "rooms", "status", "message", "estimated_price", "price_per_sqm", "confidence", "outlier_count"}
	if strings.Join(header, ",") != strings.Join(wantHeader, ",") {
		t.Errorf("header:\n got %v\nwant %v", header, wantHeader)
	}

	col := make(map[string]int)
	for i, h := range header {
		col[h] = i
	}
	if got := records[1][col["status"]]; got != "success" {
		t.Errorf("row 1 status: got %q", got)
	}
	if got := records[1][col["estimated_price"]]; got == "" {
		t.Error("row 1 should carry an estimated price")
	}
	if got := records[2][col["estimated_price"]]; got != "" {
		t.Errorf("failed row price: got %q, want empty", got)
	}
	if got := records[2][col["area"]]; got != "bad" {
		t.Errorf("original value should be kept, got %q", got)
	}
	if got := records[1][col["city"]]; got != "" {
		t.Errorf("missing key should be blank, got %q", got)
	}
}

func TestWriteJSONMatchesArtifact(t *testing.T) {
	task, outcomes := exampleOutcomes(t)
	a := BuildArtifact(task, outcomes)

	var buf bytes.Buffer
	if err := WriteJSON(&buf, a); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var decoded models.ResultArtifact
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.TaskID != a.TaskID || len(decoded.Results) != 2 {
		t.Errorf("decoded: got %+v", decoded)
	}
	if decoded.Results[0].Valuation == nil || decoded.Results[0].Valuation.EstimatedPrice != a.Results[0].Valuation.EstimatedPrice {
		t.Error("valuation should survive the JSON view")
	}
}

func TestWriteXLSX(t *testing.T) {
	task, outcomes := exampleOutcomes(t)
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, BuildArtifact(task, outcomes)); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(resultSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows: got %d, want 3", len(rows))
	}
	if rows[0][0] != "area" {
		t.Errorf("first header: got %q, want area", rows[0][0])
	}
	statusCol := -1
	for i, h := range rows[0] {
		if h == "status" {
			statusCol = i
		}
	}
	if statusCol < 0 || rows[2][statusCol] != "failed" {
		t.Errorf("failed row status not found in %v", rows[2])
	}
}

func TestEmitterPersist(t *testing.T) {
	task, outcomes := exampleOutcomes(t)
	store := &memoryArtifacts{files: make(map[string][]byte)}
	ref, doc, err := NewEmitter(store).Persist(context.Background(), BuildArtifact(task, outcomes))
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}

	if ref != "mem://task-1_result.json" {
		t.Errorf("ref: got %q", ref)
	}
	for _, name := range []string{"task-1_result.json", "task-1_result.csv", "task-1_result.xlsx"} {
		if len(store.files[name]) == 0 {
			t.Errorf("%s was not stored", name)
		}
	}
	if !bytes.Equal(doc, store.files["task-1_result.json"]) {
		t.Error("returned document should be the stored JSON")
	}
}

func TestEmitterPersistFailure(t *testing.T) {
	task, outcomes := exampleOutcomes(t)
	store := &memoryArtifacts{files: make(map[string][]byte), fail: "task-1_result.xlsx"}
	if _, _, err := NewEmitter(store).Persist(context.Background(), BuildArtifact(task, outcomes)); err == nil {
		t.Fatal("expected an error when a view cannot be stored")
	}
}
