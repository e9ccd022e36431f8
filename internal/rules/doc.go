// Package rules loads the tab-separated error message rule table into
// immutable, versioned snapshots. A reload publishes a new snapshot; scans
// that already hold a snapshot keep using it.
//
// Table format, one rule per line:
//
//	pattern<TAB>ruleType<TAB>severity<TAB>confidence
//
// Blank lines and lines starting with '#' are ignored. Severity and
// confidence may be empty; unknown values are treated as absent and reported
// as warnings.
package rules
