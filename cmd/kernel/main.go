package main

import (
	"fmt"
	"os"

	"github.com/AltairaLabs/notebook-exec/internal/cli"
)

func main() {
	if err := cli.NewKernelRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
