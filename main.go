package main

import (
	"fmt"
	"os"

	"github.com/arctir/zb/cmd"
)

func main() {
	zbCmd := cmd.SetupCLI()
	if err := zbCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
