package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oriys/lambdalocal/internal/archive"
	"github.com/oriys/lambdalocal/internal/builder"
	"github.com/oriys/lambdalocal/internal/telemetrystub"
)

// localGoCompiler is the concrete Compiler the CLI wires up by default:
// a plain `go build` invocation targeting linux/<arch>, the same way a
// developer would cross-compile a Go Lambda handler by hand. It stands
// in for the production cross-compilation driver internal/builder's
// doc comment describes as out of scope.
type localGoCompiler struct {
	outputDir string
}

func (c *localGoCompiler) Compile(ctx context.Context, spec builder.Spec) (string, error) {
	// Mirrors archive.BinaryData's expected layout for a Function kind:
	// <outputDir>/<functionName>/bootstrap.
	destDir := filepath.Join(c.outputDir, spec.FunctionName)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}

	goarch := "arm64"
	if spec.Architecture == "x86_64" {
		goarch = "amd64"
	}

	binaryPath := filepath.Join(destDir, "bootstrap")
	cmd := exec.CommandContext(ctx, "go", "build", "-o", binaryPath, ".")
	cmd.Dir = spec.SourceDir
	cmd.Env = append(os.Environ(), "GOOS=linux", "GOARCH="+goarch, "CGO_ENABLED=0")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("go build failed for %s: %w", spec.FunctionName, err)
	}

	return binaryPath, nil
}

func newBuildCmd() *cobra.Command {
	var functionName, sourceDir, outputDir, arch string
	var includes []string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile a function and package it as a deployable zip",
		RunE: func(cmd *cobra.Command, args []string) error {
			if functionName == "" {
				return errors.New("--function is required")
			}
			if sourceDir == "" {
				var err error
				sourceDir, err = os.Getwd()
				if err != nil {
					return err
				}
			}
			if outputDir == "" {
				outputDir = filepath.Join(sourceDir, "target", "lambda")
			}

			compiler := &localGoCompiler{outputDir: outputDir}
			binaryPath, err := compiler.Compile(cmd.Context(), builder.Spec{
				FunctionName: functionName,
				SourceDir:    sourceDir,
				Architecture: arch,
			})
			if err != nil {
				return err
			}

			var includeSpecs []archive.Include
			for _, raw := range includes {
				includeSpecs = append(includeSpecs, archive.ParseInclude(raw))
			}

			data := archive.NewBinaryData(functionName, false, false)
			zipped, err := archive.CreateBinaryArchive(outputDir, data, includeSpecs)
			if err != nil {
				return err
			}

			if telemetrystub.Enabled() {
				telemetrystub.Default().Event("build", map[string]string{"arch": arch})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "built %s -> %s\n", binaryPath, zipped.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&functionName, "function", "", "function name")
	cmd.Flags().StringVar(&sourceDir, "source", "", "function source directory (defaults to the current directory)")
	cmd.Flags().StringVar(&outputDir, "output", "", "output directory (defaults to <source>/target/lambda)")
	cmd.Flags().StringVar(&arch, "arch", "arm64", "target architecture: arm64 or x86_64")
	cmd.Flags().StringArrayVar(&includes, "include", nil, "extra files to include, as alias:path pairs")

	return cmd
}
