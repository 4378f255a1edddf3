// Package main is the single-binary entrypoint for abshub.
package main

import "github.com/imperfect-abs/abshub/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
