// Package main is the single-binary entrypoint for wattd.
package main

import "github.com/wattbound/wattd/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
