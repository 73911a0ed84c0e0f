package models

// ResultArtifact is the downloadable result of a finished task. The JSON,
// CSV and XLSX files are all rendered from one instance.
type ResultArtifact struct {
	TaskID    string      `json:"task_id"`
	Filename  string      `json:"filename"`
	Status    TaskStatus  `json:"status"`
	Total     int         `json:"total"`
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Results   []RowResult `json:"results"`
}

// RowResult is one row of the artifact.
type RowResult struct {
	Row       RawRecord  `json:"row"`
	Status    RowStatus  `json:"status"`
	Message   string     `json:"message"`
	Valuation *Valuation `json:"valuation,omitempty"`
}

// InsightReport holds the computed analytics over a finished batch.
type InsightReport struct {
	TaskID             string
	Filename           string
	TotalRows          int
	SucceededRows      int
	FailedRows         int
	AveragePrice       float64
	MinPrice           float64
	MaxPrice           float64
	AverageConfidence  float64
	MostExpensive      *RowResult
	TopValued          []*RowResult
	OutlierTotal       int
	AvgPricePerSqmType map[PropertyType]float64
	RowsByType         map[PropertyType]int
	RowsByCity         map[string]int
}
