// Command kestrel is the entry point for the Kestrel notes answer engine.
// It ranks a local cache of personal notes against natural language
// questions and augments the results with answers from a rotating pool of
// generation backends.
package main

import (
	"fmt"
	"os"

	"github.com/kestrelnotes/kestrel-go/cmd/kestrel/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
