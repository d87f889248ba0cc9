package reporting

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"tranchor/observability"
)

// ValuationsCSV builds a CSV export for the snapshot rows and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func ValuationsCSV(snapshot *PortfolioSnapshot) ([]byte, string, error) {
	if snapshot == nil {
		return nil, "", errors.New("reporting: snapshot required")
	}
	buffer := &bytes.Buffer{}
	w := csv.NewWriter(buffer)
	header := []string{"snapshot_id", "pool", "valued_at", "loan_id", "debt", "value", "expected_loss", "write_off_pct", "penalty_rate"}
	if err := w.Write(header); err != nil {
		return nil, "", err
	}
	for _, row := range sortedRows(snapshot) {
		record := []string{
			snapshot.ID.String(),
			row.Pool,
			fmt.Sprintf("%d", snapshot.ValuedAt),
			fmt.Sprintf("%d", row.LoanID),
			row.Debt,
			row.Value,
			row.ExpectedLoss,
			row.WriteOffPct,
			row.PenaltyRate,
		}
		if err := w.Write(record); err != nil {
			return nil, "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

// ValuationsJSONL builds a JSON Lines export for the snapshot rows and
// returns the serialised payload alongside a checksum.
func ValuationsJSONL(snapshot *PortfolioSnapshot) ([]byte, string, error) {
	if snapshot == nil {
		return nil, "", errors.New("reporting: snapshot required")
	}
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range sortedRows(snapshot) {
		payload := map[string]interface{}{
			"snapshot_id":   snapshot.ID.String(),
			"pool":          row.Pool,
			"valued_at":     snapshot.ValuedAt,
			"loan_id":       row.LoanID,
			"debt":          row.Debt,
			"value":         row.Value,
			"expected_loss": row.ExpectedLoss,
			"write_off_pct": row.WriteOffPct,
			"penalty_rate":  row.PenaltyRate,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

type valuationParquetRow struct {
	SnapshotID   string `parquet:"name=snapshot_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Pool         string `parquet:"name=pool, type=BYTE_ARRAY, convertedtype=UTF8"`
	ValuedAt     int64  `parquet:"name=valued_at, type=INT64"`
	LoanID       int64  `parquet:"name=loan_id, type=INT64"`
	Debt         string `parquet:"name=debt, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value        string `parquet:"name=value, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExpectedLoss string `parquet:"name=expected_loss, type=BYTE_ARRAY, convertedtype=UTF8"`
	WriteOffPct  string `parquet:"name=write_off_pct, type=BYTE_ARRAY, convertedtype=UTF8"`
	PenaltyRate  string `parquet:"name=penalty_rate, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, snapshot *PortfolioSnapshot) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reporting: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(valuationParquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("reporting: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range sortedRows(snapshot) {
		record := &valuationParquetRow{
			SnapshotID:   snapshot.ID.String(),
			Pool:         row.Pool,
			ValuedAt:     snapshot.ValuedAt,
			LoanID:       int64(row.LoanID),
			Debt:         row.Debt,
			Value:        row.Value,
			ExpectedLoss: row.ExpectedLoss,
			WriteOffPct:  row.WriteOffPct,
			PenaltyRate:  row.PenaltyRate,
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("reporting: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("reporting: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("reporting: close parquet file: %w", err)
	}
	return nil
}

// Exporter materialises snapshot exports on disk.
type Exporter struct {
	dir string
}

// NewExporter builds an exporter rooted at the supplied directory.
func NewExporter(dir string) (*Exporter, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, errors.New("reporting: export dir required")
	}
	return &Exporter{dir: trimmed}, nil
}

// ExportFiles references the artefacts generated for one snapshot.
type ExportFiles struct {
	CSVPath       string
	CSVChecksum   string
	JSONLPath     string
	JSONLChecksum string
	ParquetPath   string
	Count         int
}

// Write renders CSV, JSONL and parquet artefacts for the snapshot under
// a per-run directory keyed by pool and valuation time.
func (e *Exporter) Write(snapshot *PortfolioSnapshot) (*ExportFiles, error) {
	if e == nil {
		return nil, errors.New("reporting: exporter not configured")
	}
	if snapshot == nil {
		return nil, errors.New("reporting: snapshot required")
	}
	runDir := filepath.Join(e.dir, fmt.Sprintf("%s_%d", poolSlug(snapshot.Pool), snapshot.ValuedAt))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("reporting: ensure export dir: %w", err)
	}
	files := &ExportFiles{Count: len(snapshot.Rows)}

	started := time.Now()
	data, checksum, err := ValuationsCSV(snapshot)
	if err == nil {
		files.CSVPath = filepath.Join(runDir, "valuations.csv")
		err = os.WriteFile(files.CSVPath, data, 0o644)
	}
	observability.Reporting().ObserveExport("csv", time.Since(started), err)
	if err != nil {
		return nil, fmt.Errorf("reporting: write csv: %w", err)
	}
	files.CSVChecksum = checksum

	started = time.Now()
	data, checksum, err = ValuationsJSONL(snapshot)
	if err == nil {
		files.JSONLPath = filepath.Join(runDir, "valuations.jsonl")
		err = os.WriteFile(files.JSONLPath, data, 0o644)
	}
	observability.Reporting().ObserveExport("jsonl", time.Since(started), err)
	if err != nil {
		return nil, fmt.Errorf("reporting: write jsonl: %w", err)
	}
	files.JSONLChecksum = checksum

	started = time.Now()
	files.ParquetPath = filepath.Join(runDir, "valuations.parquet")
	err = writeParquet(files.ParquetPath, snapshot)
	observability.Reporting().ObserveExport("parquet", time.Since(started), err)
	if err != nil {
		return nil, err
	}
	return files, nil
}

func sortedRows(snapshot *PortfolioSnapshot) []LoanValuationRow {
	rows := make([]LoanValuationRow, len(snapshot.Rows))
	copy(rows, snapshot.Rows)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Pool != rows[j].Pool {
			return rows[i].Pool < rows[j].Pool
		}
		return rows[i].LoanID < rows[j].LoanID
	})
	return rows
}

func poolSlug(pool string) string {
	trimmed := strings.TrimSpace(strings.ToLower(pool))
	cleaned := make([]rune, 0, len(trimmed))
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			cleaned = append(cleaned, r)
		}
	}
	if len(cleaned) == 0 {
		return "portfolio"
	}
	return string(cleaned)
}
