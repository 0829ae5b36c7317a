// Package main is the entry point for the sentembed embedding process.
package main

import (
	"github.com/hargabyte/sentembed/internal/cmd"
)

func main() {
	cmd.Execute()
}
