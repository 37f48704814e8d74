package rfm

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"segcli/internal/dataset"
)

// SnapshotOffset is added to the latest invoice date to form the reference
// date for Recency. Using the day after the last observed purchase keeps
// Recency strictly positive.
const SnapshotOffset = 24 * time.Hour

// Build aggregates cleaned transactions into the RFM feature table.
// The snapshot date defaults to max(InvoiceDate) + SnapshotOffset; pass a
// non-zero snapshot to pin it (used by tests and incremental reruns).
func Build(transactions []dataset.Transaction, snapshot time.Time, logger *slog.Logger) (*Table, error) {
	if len(transactions) == 0 {
		return nil, fmt.Errorf("no transactions to aggregate")
	}

	if snapshot.IsZero() {
		latest := transactions[0].InvoiceDate
		for _, tx := range transactions[1:] {
			if tx.InvoiceDate.After(latest) {
				latest = tx.InvoiceDate
			}
		}
		snapshot = latest.Add(SnapshotOffset)
	}

	type accumulator struct {
		invoices  map[string]struct{}
		monetary  float64
		firstSeen time.Time
		lastSeen  time.Time
	}

	byCustomer := make(map[string]*accumulator)
	for _, tx := range transactions {
		if !tx.IsValid() {
			return nil, fmt.Errorf("transaction %s for customer %q failed validation; run cleaning first", tx.InvoiceNo, tx.CustomerID)
		}

		acc, ok := byCustomer[tx.CustomerID]
		if !ok {
			acc = &accumulator{
				invoices:  make(map[string]struct{}),
				firstSeen: tx.InvoiceDate,
				lastSeen:  tx.InvoiceDate,
			}
			byCustomer[tx.CustomerID] = acc
		}

		acc.invoices[tx.InvoiceNo] = struct{}{}
		acc.monetary += tx.LineTotal()
		if tx.InvoiceDate.Before(acc.firstSeen) {
			acc.firstSeen = tx.InvoiceDate
		}
		if tx.InvoiceDate.After(acc.lastSeen) {
			acc.lastSeen = tx.InvoiceDate
		}
	}

	customers := make([]CustomerFeatures, 0, len(byCustomer))
	for id, acc := range byCustomer {
		frequency := float64(len(acc.invoices))
		if !snapshot.After(acc.lastSeen) {
			return nil, fmt.Errorf("snapshot %s is not after customer %s last purchase %s",
				snapshot.Format(time.RFC3339), id, acc.lastSeen.Format(time.RFC3339))
		}
		recency := daysBetween(acc.lastSeen, snapshot)
		if recency == 0 {
			// Snapshot pinned to under a day after the last purchase.
			recency = 1
		}
		features := CustomerFeatures{
			CustomerID: id,
			Recency:    recency,
			Frequency:  frequency,
			Monetary:   acc.monetary,
			AvgOrder:   acc.monetary / frequency,
			TenureDays: daysBetween(acc.firstSeen, acc.lastSeen),
			FirstSeen:  acc.firstSeen,
			LastSeen:   acc.lastSeen,
		}
		if !features.IsValid() {
			return nil, fmt.Errorf("invalid feature row for customer %s (snapshot not after last purchase?)", id)
		}
		customers = append(customers, features)
	}

	sort.Slice(customers, func(i, j int) bool {
		return customers[i].CustomerID < customers[j].CustomerID
	})

	logger.Info("built RFM feature table",
		slog.Int("customers", len(customers)),
		slog.Time("snapshot_date", snapshot))

	return &Table{SnapshotDate: snapshot, Customers: customers}, nil
}

// daysBetween returns whole days from a to b, rounded down, minimum zero.
func daysBetween(a, b time.Time) float64 {
	if !b.After(a) {
		return 0
	}
	return float64(int(b.Sub(a).Hours() / 24))
}
