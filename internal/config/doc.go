// Package config loads emcheck configuration from local and global YAML files
// with precedence rules, and carries the per-run Session settings that replace
// the single global settings namespace of a host plugin.
package config
