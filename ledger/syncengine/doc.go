// Package syncengine reconciles the local ledger state with the shared
// key-value backend. It polls on a fixed interval, merges each group section
// with last-writer-wins semantics at record granularity, pushes the merged
// result back, and notifies subscribers when the local view changed.
package syncengine
