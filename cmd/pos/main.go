package main

import (
	"context"
	"fmt"
	"os"

	"github.com/odyssey-erp/odyssey-pos/cmd/pos/cli"
)

func main() {
	root := cli.NewRootCommand(cli.Options{Stdout: os.Stdout, Stderr: os.Stderr})
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
