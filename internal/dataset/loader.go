package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Column headers expected in the raw transaction log. Matching is
// case-insensitive and ignores surrounding whitespace.
const (
	colInvoiceNo   = "invoiceno"
	colStockCode   = "stockcode"
	colDescription = "description"
	colQuantity    = "quantity"
	colInvoiceDate = "invoicedate"
	colUnitPrice   = "unitprice"
	colCustomerID  = "customerid"
	colCountry     = "country"
)

// dateLayouts are the invoice date formats seen across dataset exports.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"1/2/2006 15:04",
	"1/2/06 15:04",
	"2006-01-02",
	time.RFC3339,
}

// Load reads a transaction log, dispatching on the file extension.
// Both the CSV export and the original .xlsx workbook are supported.
func Load(path string, logger *slog.Logger) ([]Transaction, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadCSV(path, logger)
	case ".xlsx":
		return LoadXLSX(path, logger)
	default:
		return nil, fmt.Errorf("unsupported input format %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// LoadCSV reads raw transactions from a comma-delimited file.
func LoadCSV(path string, logger *slog.Logger) ([]Transaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transaction log: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}

	columns, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var transactions []Transaction
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV row %d: %w", line, err)
		}
		line++

		tx, ok := parseRow(record, columns)
		if ok {
			transactions = append(transactions, tx)
		}
	}

	logger.Info("loaded transaction log",
		slog.String("path", path),
		slog.String("format", "csv"),
		slog.Int("rows", len(transactions)))

	return transactions, nil
}

// LoadXLSX reads raw transactions from the first sheet of an Excel workbook.
func LoadXLSX(path string, logger *slog.Logger) ([]Transaction, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("sheet %q has no data rows", sheets[0])
	}

	columns, err := mapColumns(rows[0])
	if err != nil {
		return nil, err
	}

	var transactions []Transaction
	for _, row := range rows[1:] {
		tx, ok := parseRow(row, columns)
		if ok {
			transactions = append(transactions, tx)
		}
	}

	logger.Info("loaded transaction log",
		slog.String("path", path),
		slog.String("format", "xlsx"),
		slog.String("sheet", sheets[0]),
		slog.Int("rows", len(transactions)))

	return transactions, nil
}

// Clean applies the cleaning rules and reports what each rule removed.
// The rules are independent of row order and applying Clean twice yields
// the same result as applying it once.
func Clean(transactions []Transaction, logger *slog.Logger) ([]Transaction, CleanStats) {
	stats := CleanStats{TotalRows: len(transactions)}
	kept := make([]Transaction, 0, len(transactions))

	for _, tx := range transactions {
		switch {
		case tx.CustomerID == "":
			stats.MissingCustomer++
		case tx.IsCancellation():
			stats.CancelledInvoices++
		case tx.Quantity <= 0:
			stats.NonPositiveQty++
		case tx.UnitPrice <= 0:
			stats.NonPositivePrice++
		case tx.InvoiceDate.IsZero():
			stats.UnparseableDates++
		default:
			kept = append(kept, tx)
		}
	}
	stats.KeptRows = len(kept)

	logger.Info("cleaned transactions",
		slog.Int("total", stats.TotalRows),
		slog.Int("kept", stats.KeptRows),
		slog.Int("missing_customer", stats.MissingCustomer),
		slog.Int("cancelled", stats.CancelledInvoices),
		slog.Int("non_positive_quantity", stats.NonPositiveQty),
		slog.Int("non_positive_price", stats.NonPositivePrice),
		slog.Int("unparseable_dates", stats.UnparseableDates))

	return kept, stats
}

// LoadClean is the common entry point for both training stages: load the
// raw log and clean it in one call.
func LoadClean(path string, logger *slog.Logger) ([]Transaction, CleanStats, error) {
	raw, err := Load(path, logger)
	if err != nil {
		return nil, CleanStats{}, err
	}
	cleaned, stats := Clean(raw, logger)
	if len(cleaned) == 0 {
		return nil, stats, fmt.Errorf("no usable transactions in %s after cleaning", path)
	}
	return cleaned, stats, nil
}

// mapColumns resolves header names to column indices.
func mapColumns(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.ReplaceAll(key, " ", "")
		key = strings.ReplaceAll(key, "_", "")
		columns[key] = i
	}

	for _, required := range []string{colInvoiceNo, colQuantity, colInvoiceDate, colUnitPrice, colCustomerID} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("transaction log is missing required column %q", required)
		}
	}
	return columns, nil
}

// parseRow converts one record into a Transaction. Rows whose numeric
// fields do not parse are returned with ok=false and skipped by the caller;
// the cleaning stage accounts for missing dates separately.
func parseRow(record []string, columns map[string]int) (Transaction, bool) {
	cell := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	quantity, qtyErr := strconv.ParseFloat(cell(colQuantity), 64)
	unitPrice, priceErr := strconv.ParseFloat(cell(colUnitPrice), 64)
	if qtyErr != nil || priceErr != nil {
		return Transaction{}, false
	}

	tx := Transaction{
		InvoiceNo:   cell(colInvoiceNo),
		StockCode:   cell(colStockCode),
		Description: cell(colDescription),
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		CustomerID:  normalizeCustomerID(cell(colCustomerID)),
		Country:     cell(colCountry),
	}
	if tx.InvoiceNo == "" {
		return Transaction{}, false
	}

	tx.InvoiceDate = parseInvoiceDate(cell(colInvoiceDate))
	return tx, true
}

// normalizeCustomerID strips the ".0" suffix some exports add when the
// numeric customer column passes through a float representation.
func normalizeCustomerID(id string) string {
	return strings.TrimSuffix(id, ".0")
}

// parseInvoiceDate tries the known layouts; a zero time means unparseable
// and the row is dropped during cleaning.
func parseInvoiceDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}
