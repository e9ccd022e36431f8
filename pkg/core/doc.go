// Package core provides a small, stable facade over emcheck's internal
// packages for external integrations such as proxy plugins and CI tools. It
// re-exports a narrow API surface so callers can depend on a stable import
// path without importing internal implementation packages.
//
// Example:
//
//	sc, err := core.NewScanner(context.Background(), core.Config{})
//	if err != nil { /* handle */ }
//	f, err := sc.ScanTransaction(ctx, core.Transaction{URL: u, Body: body})
//	if f != nil { _ = core.MarshalFindings(os.Stdout, []core.Finding{*f}) }
package core
