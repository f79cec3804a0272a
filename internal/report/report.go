// Package report renders the kelola-obat batch list for download.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"apotek/backend/internal/domain"
)

const sheetName = "Stok Obat"

var header = []string{"Nomor Batch", "ID Obat", "Nama Obat", "Kategori", "Kadaluarsa", "Stok", "Satuan", "Harga Jual"}

func row(b domain.BatchView) []any {
	return []any{
		b.NomorBatch,
		b.IDObat,
		b.NamaObat,
		b.Kategori,
		b.Kadaluarsa.UTC().Format(time.DateOnly),
		b.Stok,
		b.Satuan,
		b.HargaJual,
	}
}

func WriteXLSX(w io.Writer, batches []domain.BatchView, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	for i, h := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}
	for r, b := range batches {
		for c, value := range row(b) {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return err
			}
		}
	}

	footer := len(batches) + 3
	if err := f.SetCellValue(sheetName, fmt.Sprintf("A%d", footer), "Dibuat pada"); err != nil {
		return err
	}
	if err := f.SetCellValue(sheetName, fmt.Sprintf("B%d", footer), generatedAt.UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "A", "C", 22); err != nil {
		return err
	}

	return f.Write(w)
}

func WriteCSV(w io.Writer, batches []domain.BatchView) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, b := range batches {
		values := row(b)
		record := make([]string, len(values))
		for i, v := range values {
			switch t := v.(type) {
			case string:
				record[i] = t
			case int:
				record[i] = strconv.Itoa(t)
			case int64:
				record[i] = strconv.FormatInt(t, 10)
			default:
				record[i] = fmt.Sprint(t)
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
