package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"settlement-reconciliation-service/pkg/errors"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

func newTestCSVParser(t *testing.T, config *CSVConfig) *CSVParser {
	t.Helper()
	parser, err := NewCSVParser(config)
	if err != nil {
		t.Fatalf("failed to create CSV parser: %v", err)
	}
	return parser
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestCSVParserParseFile(t *testing.T) {
	content := "订单编号,费用项目,结算金额\n" +
		"A001,货款,10.50\n" +
		"\n" +
		"A002,代运营服务费,-2.00\n" +
		"A003,货款\n" // short row, padded

	path := writeTempFile(t, "bill.csv", []byte(content))
	parser := newTestCSVParser(t, nil)

	rows, stats, err := parser.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	if len(rows) != 3 {
		t.Fatalf("parsed %d rows, want 3", len(rows))
	}
	if stats.SkippedEmpty != 1 {
		t.Errorf("skipped %d empty rows, want 1", stats.SkippedEmpty)
	}

	if got := rows[0].Get("订单编号"); got != "A001" {
		t.Errorf("rows[0] order number = %q, want A001", got)
	}
	if got := rows[1].Get("费用项目"); got != "代运营服务费" {
		t.Errorf("rows[1] fee item = %q, want 代运营服务费", got)
	}

	// Short rows are padded so every row carries the full column set.
	if !rows[2].Has("结算金额") {
		t.Error("short row missing padded column 结算金额")
	}
	if got := rows[2].Get("结算金额"); got != "" {
		t.Errorf("padded cell = %q, want empty", got)
	}
}

func TestCSVParserGBK(t *testing.T) {
	content := "订单编号,费用项目\nA001,货款\n"
	encoded, _, err := transform.Bytes(simplifiedchinese.GBK.NewEncoder(), []byte(content))
	if err != nil {
		t.Fatalf("failed to encode GBK fixture: %v", err)
	}
	path := writeTempFile(t, "bill_gbk.csv", encoded)

	config := DefaultCSVConfig()
	config.Encoding = EncodingGBK
	parser := newTestCSVParser(t, config)

	rows, _, err := parser.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if got := rows[0].Get("费用项目"); got != "货款" {
		t.Errorf("decoded fee item = %q, want 货款", got)
	}
}

func TestCSVParserRejectsInvalidUTF8(t *testing.T) {
	content := "订单编号,费用项目\nA001,货款\n"
	encoded, _, err := transform.Bytes(simplifiedchinese.GBK.NewEncoder(), []byte(content))
	if err != nil {
		t.Fatalf("failed to encode GBK fixture: %v", err)
	}
	path := writeTempFile(t, "bill_gbk.csv", encoded)

	parser := newTestCSVParser(t, nil)

	_, _, err = parser.ParseFile(path)
	if err == nil {
		t.Fatal("expected encoding error for GBK bytes read as UTF-8")
	}
	if !errors.IsCode(err, errors.CodeEncodingError) {
		t.Errorf("expected encoding error, got %v", err)
	}
}

func TestCSVParserFileNotFound(t *testing.T) {
	parser := newTestCSVParser(t, nil)

	_, _, err := parser.ParseFile(filepath.Join(t.TempDir(), "missing.csv"))
	if !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Errorf("expected file-not-found error, got %v", err)
	}
}

func TestCSVParserHeaderOnly(t *testing.T) {
	path := writeTempFile(t, "empty.csv", []byte("订单编号,费用项目\n"))
	parser := newTestCSVParser(t, nil)

	_, _, err := parser.ParseFile(path)
	if !errors.IsEmptyDataset(err) {
		t.Errorf("expected empty-dataset error, got %v", err)
	}
}

func TestCSVConfigValidate(t *testing.T) {
	config := DefaultCSVConfig()
	config.Encoding = "latin-1"
	if err := config.Validate(); err == nil {
		t.Error("expected error for unsupported encoding")
	}

	config = DefaultCSVConfig()
	config.Delimiter = 0
	if err := config.Validate(); err == nil {
		t.Error("expected error for missing delimiter")
	}
}
