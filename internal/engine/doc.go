// Package engine adapts captured or fetched HTTP responses to the matcher and
// finding builder. It applies scope filters, pins one rule snapshot per run,
// and returns findings in input order. External consumers should use the
// stable facade in pkg/core.
package engine
