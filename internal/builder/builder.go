// Package builder defines the seam between the supervisor and whatever
// turns a function's source into a runnable binary. A real
// implementation would drive a Go cross-compile (GOOS/GOARCH-targeted,
// optionally inside a container for glibc parity with the Lambda
// execution environment), but that driver is out of this repo's scope:
// the supervisor only ever talks to the Compiler interface.
package builder

import "context"

// Spec describes what to build: which function, where its source
// lives, and which architecture the resulting binary must target.
type Spec struct {
	FunctionName string
	SourceDir    string
	Architecture string // "arm64" or "x86_64", the names archive's ELF detection reports
}

// Compiler turns a Spec into a path to an executable binary. Compile is
// called once when a function is first managed and again every time
// the supervisor detects a source change.
type Compiler interface {
	Compile(ctx context.Context, spec Spec) (binaryPath string, err error)
}

// Adapter satisfies the supervisor's narrower Builder seam
// (Build(ctx, functionName)) by looking up each function's registered
// Spec and delegating to a Compiler. It exists only to keep the
// supervisor from knowing about Spec's build-configuration fields it
// has no use for.
type Adapter struct {
	Compiler Compiler
	Specs    map[string]Spec
}

func (a *Adapter) Build(ctx context.Context, functionName string) (string, error) {
	spec, ok := a.Specs[functionName]
	if !ok {
		spec = Spec{FunctionName: functionName}
	}
	return a.Compiler.Compile(ctx, spec)
}
