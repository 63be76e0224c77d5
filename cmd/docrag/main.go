// Command docrag is the entry point for the PDF question answering tool.
// It provides a CLI interface (via Cobra), an interactive terminal chat and
// an optional HTTP server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/54b3r/docrag-go/cmd/docrag/commands"
)

func main() {
	if err := commands.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
