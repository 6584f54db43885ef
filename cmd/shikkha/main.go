// Command shikkha is a bilingual study tutor for the terminal.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr, deps{}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "shikkha: %v\n", err)
		os.Exit(1)
	}
}
