// Package artifacts persists the fitted pipeline outputs: the feature
// scaler, both clustering models, the cluster-to-segment name mapping and
// the augmented per-customer table. Models are stored as versioned JSON
// envelopes so serve-time loads can reject artifacts written by an
// incompatible pipeline; the customer table is a plain CSV for easy
// inspection downstream.
package artifacts
