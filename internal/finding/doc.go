// Package finding reduces the matches found in one HTTP response to a single
// reportable finding. It is pure: no I/O, no logging and no shared mutable
// state, so every function may be called concurrently.
package finding
