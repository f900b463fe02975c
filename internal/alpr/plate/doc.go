// Package plate resolves noisy OCR plate readings into a single
// trustworthy label per track. Candidates are normalized, validated
// against a fixed-position grammar, repaired for single confusable
// characters, and voted over a bounded per-track window with
// confidence-weighted, deterministically tie-broken scoring. A label is
// only published once its cumulative support clears a configurable
// threshold.
package plate
