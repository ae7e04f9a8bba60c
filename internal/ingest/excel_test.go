package ingest

import (
	"path/filepath"
	"testing"

	"settlement-reconciliation-service/pkg/errors"

	"github.com/xuri/excelize/v2"
)

func writeTestWorkbook(t *testing.T, sheet string, rows [][]interface{}) string {
	t.Helper()

	file := excelize.NewFile()
	defer file.Close()

	if sheet != "Sheet1" {
		if err := file.SetSheetName("Sheet1", sheet); err != nil {
			t.Fatalf("failed to rename sheet: %v", err)
		}
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("failed to build cell name: %v", err)
		}
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("failed to set sheet row: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "bill.xlsx")
	if err := file.SaveAs(path); err != nil {
		t.Fatalf("failed to save workbook: %v", err)
	}
	return path
}

func TestExcelParserParseFile(t *testing.T) {
	path := writeTestWorkbook(t, "对账单", [][]interface{}{
		{"订单编号", "费用项目", "结算金额"},
		{"A001", "货款", 10.5},
		{"A002", "代运营服务费", -2},
	})

	parser, err := NewExcelParser(nil)
	if err != nil {
		t.Fatalf("failed to create parser: %v", err)
	}

	rows, stats, err := parser.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("parsed %d rows, want 2", len(rows))
	}
	if stats.RowsParsed != 2 {
		t.Errorf("stats counted %d rows, want 2", stats.RowsParsed)
	}
	if got := rows[0].Get("订单编号"); got != "A001" {
		t.Errorf("rows[0] order number = %q, want A001", got)
	}
	if got := rows[1].Amount("结算金额"); got.String() != "-2" {
		t.Errorf("rows[1] amount = %s, want -2", got)
	}
}

func TestExcelParserNamedSheet(t *testing.T) {
	path := writeTestWorkbook(t, "结算单", [][]interface{}{
		{"商品编码", "金额"},
		{"SKU-1", 42},
	})

	config := DefaultExcelConfig()
	config.Sheet = "结算单"
	parser, err := NewExcelParser(config)
	if err != nil {
		t.Fatalf("failed to create parser: %v", err)
	}

	rows, _, err := parser.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if got := rows[0].Get("商品编码"); got != "SKU-1" {
		t.Errorf("product code = %q, want SKU-1", got)
	}
}

func TestExcelParserMissingSheet(t *testing.T) {
	path := writeTestWorkbook(t, "Sheet1", [][]interface{}{
		{"商品编码"},
		{"SKU-1"},
	})

	config := DefaultExcelConfig()
	config.Sheet = "不存在"
	parser, err := NewExcelParser(config)
	if err != nil {
		t.Fatalf("failed to create parser: %v", err)
	}

	_, _, err = parser.ParseFile(path)
	if !errors.IsCode(err, errors.CodeMissingSheet) {
		t.Errorf("expected missing-sheet error, got %v", err)
	}
}

func TestExcelParserFileNotFound(t *testing.T) {
	parser, err := NewExcelParser(nil)
	if err != nil {
		t.Fatalf("failed to create parser: %v", err)
	}

	_, _, err = parser.ParseFile(filepath.Join(t.TempDir(), "missing.xlsx"))
	if !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Errorf("expected file-not-found error, got %v", err)
	}
}

func TestParseFileDispatch(t *testing.T) {
	xlsxPath := writeTestWorkbook(t, "Sheet1", [][]interface{}{
		{"商品编码", "金额"},
		{"SKU-1", 1},
	})
	csvPath := writeTempFile(t, "bill.csv", []byte("商品编码,金额\nSKU-2,2\n"))

	xlsxRows, _, err := ParseFile(xlsxPath, Options{})
	if err != nil {
		t.Fatalf("xlsx dispatch failed: %v", err)
	}
	if xlsxRows[0].Get("商品编码") != "SKU-1" {
		t.Error("xlsx dispatch returned wrong data")
	}

	csvRows, _, err := ParseFile(csvPath, Options{})
	if err != nil {
		t.Fatalf("csv dispatch failed: %v", err)
	}
	if csvRows[0].Get("商品编码") != "SKU-2" {
		t.Error("csv dispatch returned wrong data")
	}
}
