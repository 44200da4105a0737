// Package main is the entry point for sipzamine, the SIP dialog examiner.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/sipzamine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
