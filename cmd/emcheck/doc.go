// Package emcheck provides the command-line interface for emcheck, a passive
// scanner for detailed error messages in HTTP responses. It wires the rule
// store, scanner and reporters behind cobra subcommands (scan, rules, serve,
// baseline, config, history).
//
// Typical usage from a main package:
//
//	package main
//	import "github.com/redactyl/emcheck/cmd/emcheck"
//	func main() { emcheck.Execute() }
package emcheck
