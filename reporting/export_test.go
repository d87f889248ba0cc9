package reporting

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func sampleSnapshot(t *testing.T) *PortfolioSnapshot {
	t.Helper()
	id := uuid.MustParse("3d7f5e0a-9f2b-4a47-8f63-2f4f5f9b1c11")
	return &PortfolioSnapshot{
		ID:        id,
		Pool:      "alpha",
		ValuedAt:  1_700_000_000,
		Total:     "153797268",
		LoanCount: 2,
		Rows: []LoanValuationRow{
			{
				ID:           uuid.MustParse("91f5a1f2-64cd-4f7d-9f1d-64a7c3f2b6a2"),
				SnapshotID:   id,
				Pool:         "alpha",
				LoanID:       2,
				Debt:         "51265756",
				Value:        "38449317",
				ExpectedLoss: "2000",
				WriteOffPct:  "250000000000000000000000000",
				PenaltyRate:  "20000000000000000000000000",
			},
			{
				ID:           uuid.MustParse("f0f0b7b3-15ab-4f95-9c4f-08f1d5f4d301"),
				SnapshotID:   id,
				Pool:         "alpha",
				LoanID:       1,
				Debt:         "102531512",
				Value:        "102531512",
				ExpectedLoss: "0",
				WriteOffPct:  "0",
				PenaltyRate:  "0",
			},
		},
	}
}

func TestValuationsCSVOrdersRows(t *testing.T) {
	snapshot := sampleSnapshot(t)

	data, checksum, err := ValuationsCSV(snapshot)
	if err != nil {
		t.Fatalf("build csv: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus two rows, got %d records", len(records))
	}
	if records[0][0] != "snapshot_id" || records[0][3] != "loan_id" {
		t.Fatalf("unexpected header %v", records[0])
	}
	if records[1][3] != "1" || records[2][3] != "2" {
		t.Fatalf("rows must sort by loan id: %v / %v", records[1], records[2])
	}
	if records[1][4] != "102531512" {
		t.Fatalf("unexpected loan 1 debt %q", records[1][4])
	}
	if records[2][7] != "250000000000000000000000000" {
		t.Fatalf("unexpected loan 2 write-off %q", records[2][7])
	}
	for _, record := range records[1:] {
		if record[0] != snapshot.ID.String() {
			t.Fatalf("row missing snapshot id: %v", record)
		}
		if record[2] != "1700000000" {
			t.Fatalf("row missing valuation time: %v", record)
		}
	}

	digest := sha256.Sum256(data)
	if checksum != hex.EncodeToString(digest[:]) {
		t.Fatalf("checksum mismatch: %s", checksum)
	}
}

func TestValuationsJSONLRoundTrip(t *testing.T) {
	snapshot := sampleSnapshot(t)

	data, checksum, err := ValuationsJSONL(snapshot)
	if err != nil {
		t.Fatalf("build jsonl: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %d", len(lines))
	}
	var first map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("parse first line: %v", err)
	}
	if first["snapshot_id"] != snapshot.ID.String() {
		t.Fatalf("unexpected snapshot id %v", first["snapshot_id"])
	}
	if first["loan_id"] != float64(1) {
		t.Fatalf("lines must sort by loan id, got %v", first["loan_id"])
	}
	if first["debt"] != "102531512" {
		t.Fatalf("unexpected debt %v", first["debt"])
	}
	var second map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("parse second line: %v", err)
	}
	if second["expected_loss"] != "2000" {
		t.Fatalf("unexpected expected loss %v", second["expected_loss"])
	}
	if second["penalty_rate"] != "20000000000000000000000000" {
		t.Fatalf("unexpected penalty rate %v", second["penalty_rate"])
	}

	digest := sha256.Sum256(data)
	if checksum != hex.EncodeToString(digest[:]) {
		t.Fatalf("checksum mismatch: %s", checksum)
	}
}

func TestExporterWritesArtefacts(t *testing.T) {
	dir := t.TempDir()
	exporter, err := NewExporter(dir)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	snapshot := sampleSnapshot(t)

	files, err := exporter.Write(snapshot)
	if err != nil {
		t.Fatalf("write exports: %v", err)
	}
	if files.Count != 2 {
		t.Fatalf("unexpected row count %d", files.Count)
	}
	runDir := filepath.Join(dir, "alpha_1700000000")
	if files.CSVPath != filepath.Join(runDir, "valuations.csv") {
		t.Fatalf("unexpected csv path %s", files.CSVPath)
	}

	csvData, err := os.ReadFile(files.CSVPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	digest := sha256.Sum256(csvData)
	if files.CSVChecksum != hex.EncodeToString(digest[:]) {
		t.Fatalf("csv checksum does not match file contents")
	}

	jsonlData, err := os.ReadFile(files.JSONLPath)
	if err != nil {
		t.Fatalf("read jsonl: %v", err)
	}
	digest = sha256.Sum256(jsonlData)
	if files.JSONLChecksum != hex.EncodeToString(digest[:]) {
		t.Fatalf("jsonl checksum does not match file contents")
	}

	info, err := os.Stat(files.ParquetPath)
	if err != nil {
		t.Fatalf("stat parquet: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("parquet file is empty")
	}
}

func TestNewExporterRequiresDir(t *testing.T) {
	if _, err := NewExporter(""); err == nil {
		t.Fatalf("expected error for empty dir")
	}
	if _, err := NewExporter("   "); err == nil {
		t.Fatalf("expected error for blank dir")
	}
}

func TestPoolSlug(t *testing.T) {
	cases := map[string]string{
		"alpha":        "alpha",
		"Alpha Pool#1": "alphapool1",
		"usd-senior_2": "usd-senior_2",
		"":             "portfolio",
		"***":          "portfolio",
	}
	for input, want := range cases {
		if got := poolSlug(input); got != want {
			t.Fatalf("poolSlug(%q) = %q, want %q", input, got, want)
		}
	}
}
