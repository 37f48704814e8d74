package rfm

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segcli/internal/dataset"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func day(d int, hour int) time.Time {
	return time.Date(2011, 11, d, hour, 0, 0, 0, time.UTC)
}

func TestBuildAggregation(t *testing.T) {
	transactions := []dataset.Transaction{
		// Customer A: two invoices, three line items.
		{InvoiceNo: "1001", CustomerID: "A", Quantity: 2, UnitPrice: 10, InvoiceDate: day(1, 9)},
		{InvoiceNo: "1001", CustomerID: "A", Quantity: 1, UnitPrice: 5, InvoiceDate: day(1, 9)},
		{InvoiceNo: "1002", CustomerID: "A", Quantity: 4, UnitPrice: 2.5, InvoiceDate: day(5, 14)},
		// Customer B: single invoice.
		{InvoiceNo: "1003", CustomerID: "B", Quantity: 1, UnitPrice: 100, InvoiceDate: day(8, 11)},
	}

	table, err := Build(transactions, time.Time{}, testLogger())
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())

	// Snapshot = latest invoice + 24h.
	assert.Equal(t, day(9, 11), table.SnapshotDate)

	// Sorted by customer ID.
	a := table.Customers[0]
	b := table.Customers[1]
	assert.Equal(t, "A", a.CustomerID)
	assert.Equal(t, "B", b.CustomerID)

	assert.InDelta(t, 2.0, a.Frequency, 1e-9)  // distinct invoices, not line items
	assert.InDelta(t, 35.0, a.Monetary, 1e-9)  // 20 + 5 + 10
	assert.InDelta(t, 17.5, a.AvgOrder, 1e-9)  // 35 / 2
	assert.InDelta(t, 3.0, a.Recency, 1e-9)    // Nov 5 14:00 -> Nov 9 11:00 floors to 3
	assert.InDelta(t, 4.0, a.TenureDays, 1e-9) // Nov 1 09:00 -> Nov 5 14:00
	assert.Equal(t, day(1, 9), a.FirstSeen)
	assert.Equal(t, day(5, 14), a.LastSeen)

	assert.InDelta(t, 1.0, b.Frequency, 1e-9)
	assert.InDelta(t, 100.0, b.Monetary, 1e-9)
	assert.InDelta(t, 1.0, b.Recency, 1e-9)
	assert.InDelta(t, 0.0, b.TenureDays, 1e-9)

	for _, c := range table.Customers {
		assert.True(t, c.IsValid())
	}
}

func TestBuildPinnedSnapshot(t *testing.T) {
	transactions := []dataset.Transaction{
		{InvoiceNo: "1001", CustomerID: "A", Quantity: 1, UnitPrice: 10, InvoiceDate: day(1, 9)},
	}
	snapshot := day(11, 9)

	table, err := Build(transactions, snapshot, testLogger())
	require.NoError(t, err)
	assert.Equal(t, snapshot, table.SnapshotDate)
	assert.InDelta(t, 10.0, table.Customers[0].Recency, 1e-9)
}

func TestBuildRecencyFloorIsOne(t *testing.T) {
	transactions := []dataset.Transaction{
		{InvoiceNo: "1001", CustomerID: "A", Quantity: 1, UnitPrice: 10, InvoiceDate: day(1, 9)},
	}
	// Snapshot under a day after the purchase still yields Recency 1.
	table, err := Build(transactions, day(1, 15), testLogger())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, table.Customers[0].Recency, 1e-9)
}

func TestBuildRejectsSnapshotBeforeLastPurchase(t *testing.T) {
	transactions := []dataset.Transaction{
		{InvoiceNo: "1001", CustomerID: "A", Quantity: 1, UnitPrice: 10, InvoiceDate: day(20, 9)},
	}

	tests := []struct {
		name     string
		snapshot time.Time
	}{
		{"snapshot before last purchase", day(1, 9)},
		{"snapshot equal to last purchase", day(20, 9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(transactions, tt.snapshot, testLogger())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not after")
		})
	}
}

func TestBuildRejectsUncleanedInput(t *testing.T) {
	transactions := []dataset.Transaction{
		{InvoiceNo: "C1001", CustomerID: "A", Quantity: -1, UnitPrice: 10, InvoiceDate: day(1, 9)},
	}
	_, err := Build(transactions, time.Time{}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed validation")
}

func TestBuildEmptyInput(t *testing.T) {
	_, err := Build(nil, time.Time{}, testLogger())
	require.Error(t, err)
}

func TestTableMatrix(t *testing.T) {
	table := &Table{Customers: []CustomerFeatures{
		{CustomerID: "A", Recency: 3, Frequency: 2, Monetary: 35},
		{CustomerID: "B", Recency: 1, Frequency: 1, Monetary: 100},
	}}

	matrix := table.Matrix()
	require.Len(t, matrix, 2)
	assert.Equal(t, []float64{3, 2, 35}, matrix[0])
	assert.Equal(t, []float64{1, 1, 100}, matrix[1])
}
