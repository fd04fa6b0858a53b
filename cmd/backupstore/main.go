package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nimburion/backupstore/pkg/cli"
)

func main() {
	if err := cli.NewRootCommand(cli.Options{}).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
