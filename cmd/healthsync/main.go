// Package main provides the entry point for the healthsync CLI.
package main

import (
	"github.com/colthorp/healthsync-go/internal/cli"
)

func main() {
	cli.Execute()
}
