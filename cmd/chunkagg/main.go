// Command chunkagg loads tabular data into a chunked store and runs cached
// aggregations over it.
package main

import (
	"fmt"
	"os"

	"github.com/eunmann/chunkagg/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
