// Package operations orchestrates the training pipelines as ordered
// steps with tracked runtime state. Each step validates its inputs,
// executes against a shared pipeline state and reports progress; the
// manager runs them sequentially, failing fast and recording timing for
// every step.
package operations
