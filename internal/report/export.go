package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Alias1177/Correlator/internal/database"
)

// Export sources and formats
const (
	SourceAlerts       = "alerts"
	SourceReports      = "reports"
	SourceCorrelations = "correlations"

	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ExportRequest selects stored data to write to a file
type ExportRequest struct {
	Source string    `json:"data_source" validate:"required,oneof=alerts reports correlations"`
	Format string    `json:"export_type" validate:"omitempty,oneof=json csv xlsx"`
	Since  time.Time `json:"since"`
	Limit  int       `json:"limit" validate:"omitempty,min=1,max=100000"`
}

// ExportResult describes a written export
type ExportResult struct {
	Path      string    `json:"filename"`
	Source    string    `json:"data_source"`
	Format    string    `json:"export_type"`
	Records   int       `json:"records"`
	Timestamp time.Time `json:"timestamp"`
}

// table is export data in both structured and tabular form
type table struct {
	records any
	header  []string
	rows    [][]any
}

// Export writes the selected data as json, csv or xlsx into the report directory
func (g *Generator) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if req.Format == "" {
		req.Format = FormatCSV
	}
	if req.Limit <= 0 {
		req.Limit = 1000
	}
	t, err := g.exportData(ctx, req)
	if err != nil {
		return nil, err
	}

	now := g.now().UTC()
	if err := os.MkdirAll(g.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating report dir: %w", err)
	}
	path := filepath.Join(g.cfg.Dir, fmt.Sprintf("export_%s_%s.%s", req.Source, now.Format("20060102_150405"), req.Format))

	switch req.Format {
	case FormatJSON:
		err = writeJSON(path, t.records)
	case FormatCSV:
		err = writeCSV(path, t)
	case FormatXLSX:
		err = writeXLSX(path, req.Source, t)
	default:
		return nil, fmt.Errorf("unsupported export format %q", req.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("exporting %s: %w", req.Source, err)
	}
	g.logger.Info().Str("source", req.Source).Str("format", req.Format).Int("records", len(t.rows)).Str("path", path).Msg("Data exported")
	return &ExportResult{Path: path, Source: req.Source, Format: req.Format, Records: len(t.rows), Timestamp: now}, nil
}

func (g *Generator) exportData(ctx context.Context, req ExportRequest) (*table, error) {
	switch req.Source {
	case SourceAlerts:
		alerts, err := g.store.Alerts(ctx, req.Since, req.Limit)
		if err != nil {
			return nil, err
		}
		t := &table{records: alerts, header: []string{"id", "type", "severity", "subject", "message", "value", "threshold", "created_at"}}
		for _, a := range alerts {
			t.rows = append(t.rows, []any{a.ID, a.Type, a.Severity, a.Subject, a.Message, a.Value, a.Threshold, a.CreatedAt})
		}
		return t, nil
	case SourceReports:
		reports, err := g.store.Reports(ctx, req.Limit)
		if err != nil {
			return nil, err
		}
		t := &table{records: reports, header: []string{"id", "type", "title", "path", "symbols", "created_at"}}
		for _, r := range reports {
			t.rows = append(t.rows, []any{r.ID, r.Type, r.Title, r.Path, r.Symbols, r.CreatedAt})
		}
		return t, nil
	case SourceCorrelations:
		recs, err := g.store.Correlations(ctx, database.CorrelationFilter{Since: req.Since, Limit: req.Limit})
		if err != nil {
			return nil, err
		}
		t := &table{records: recs, header: []string{"symbol1", "symbol2", "method", "value", "p_value", "confidence_low", "confidence_high", "sample_size", "start_date", "end_date", "calculation_date"}}
		for _, c := range recs {
			t.rows = append(t.rows, []any{c.Symbol1, c.Symbol2, c.Method, c.Value, c.PValue, c.ConfidenceLow, c.ConfidenceHigh, c.SampleSize, c.StartDate, c.EndDate, c.CalculationDate})
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown export source %q", req.Source)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func writeCSV(path string, t *table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.header); err != nil {
		return err
	}
	for _, row := range t.rows {
		rec := make([]string, len(row))
		for i, v := range row {
			rec[i] = cell(v)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func cell(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}

func writeXLSX(path, sheet string, t *table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	header := make([]any, len(t.header))
	for i, h := range t.header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, row := range t.rows {
		addr, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		for j, v := range row {
			if ts, ok := v.(time.Time); ok {
				values[j] = ts.UTC().Format(time.RFC3339)
				continue
			}
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, addr, &values); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
