// Package main is the single-binary entrypoint for sentinel.
package main

import "github.com/tutu-network/sentinel/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
