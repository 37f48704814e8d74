// Package rfm turns cleaned transaction logs into per-customer behavioral
// features and prepares them for clustering.
//
// The feature set follows the standard RFM model: Recency (days since the
// last purchase relative to a snapshot date), Frequency (distinct invoice
// count) and Monetary (total spend), extended with average order value and
// tenure. Preparation for clustering is a three step chain: winsorization
// of extreme values, a log1p transform, and z-score standardization whose
// fitted parameters are persisted so serve-time vectors go through the
// exact transform the models were trained on.
package rfm
