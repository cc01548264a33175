package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lambdalocal",
		Short: "Run AWS Lambda functions locally with hot reload",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a lambdalocal.json config file")

	root.AddCommand(newStartCmd())
	root.AddCommand(newBuildCmd())
	root.AddCommand(newDeployCmd())

	return root
}
