package main

import "github.com/redactyl/emcheck/cmd/emcheck"

func main() { emcheck.Execute() }
