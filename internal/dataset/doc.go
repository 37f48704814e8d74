// Package dataset loads raw e-commerce transaction logs from CSV or Excel
// files and applies the cleaning rules the downstream feature pipeline
// depends on: rows without a customer identifier, rows with non-positive
// quantities or unit prices, and cancelled invoices are dropped before any
// aggregation happens.
package dataset
