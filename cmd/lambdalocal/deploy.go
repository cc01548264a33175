package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newDeployCmd() *cobra.Command {
	var functionName, zipPath string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Upload a built function package to AWS Lambda",
		RunE: func(cmd *cobra.Command, args []string) error {
			if functionName == "" || zipPath == "" {
				return errors.New("--function and --zip are required")
			}
			// A real deploy.RemoteClient implementation (aws-sdk-go-v2
			// based) is out of this repo's scope; see internal/deploy's
			// package doc for the interface a production build would
			// satisfy here.
			return errors.New("deploy is not implemented: no deploy.RemoteClient is wired up in this build")
		},
	}

	cmd.Flags().StringVar(&functionName, "function", "", "function name")
	cmd.Flags().StringVar(&zipPath, "zip", "", "path to the built deployment package")

	return cmd
}
