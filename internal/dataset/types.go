package dataset

import (
	"strings"
	"time"
)

// Transaction represents a single line item from the raw transaction log.
// One invoice usually spans several transactions, one per product.
type Transaction struct {
	InvoiceNo   string    `json:"invoice_no"`
	StockCode   string    `json:"stock_code"`
	Description string    `json:"description"`
	Quantity    float64   `json:"quantity"`
	InvoiceDate time.Time `json:"invoice_date"`
	UnitPrice   float64   `json:"unit_price"`
	CustomerID  string    `json:"customer_id"`
	Country     string    `json:"country"`
}

// LineTotal returns the monetary value of the line item.
func (t Transaction) LineTotal() float64 {
	return t.Quantity * t.UnitPrice
}

// IsCancellation reports whether the row belongs to a cancelled invoice.
// Cancelled invoices carry a "C" prefix in the source system.
func (t Transaction) IsCancellation() bool {
	return strings.HasPrefix(t.InvoiceNo, "C")
}

// IsValid checks if the transaction can take part in feature aggregation.
func (t Transaction) IsValid() bool {
	return t.CustomerID != "" && t.Quantity > 0 && t.UnitPrice > 0 &&
		!t.InvoiceDate.IsZero() && !t.IsCancellation()
}

// CleanStats records how many rows each cleaning rule removed.
type CleanStats struct {
	TotalRows         int `json:"total_rows"`
	KeptRows          int `json:"kept_rows"`
	MissingCustomer   int `json:"missing_customer"`
	NonPositiveQty    int `json:"non_positive_quantity"`
	NonPositivePrice  int `json:"non_positive_price"`
	CancelledInvoices int `json:"cancelled_invoices"`
	UnparseableDates  int `json:"unparseable_dates"`
}

// Dropped returns the total number of rows removed by cleaning.
func (s CleanStats) Dropped() int {
	return s.TotalRows - s.KeptRows
}
