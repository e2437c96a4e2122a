// Command conductor runs the real-time voice conversation orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "conductor",
		Short: "conductor is a real-time voice conversation orchestrator",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newTopCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
