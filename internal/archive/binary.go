// Package archive packages compiled Lambda binaries into deployment-ready
// zip files and reads back the ones that already exist on disk.
//
// A Lambda deployment archive always contains exactly one executable,
// named "bootstrap" for a function and by its own name for an extension
// (nested under an "extensions/" directory for an external extension, at
// the archive root for an internal one). ZipBinary in this package
// mirrors that layout, plus an optional set of additional files carried
// alongside the binary.
package archive

import (
	"fmt"
	"path"
)

// Kind discriminates the three things this package knows how to zip.
type Kind int

const (
	Function Kind = iota
	ExternalExtension
	InternalExtension
)

// BinaryData describes the binary a caller wants packaged: its kind and
// its name. Functions are always named "bootstrap" inside the archive
// regardless of the name passed in; extensions keep their given name.
type BinaryData struct {
	Kind Kind
	Name string
}

// NewBinaryData mirrors the CLI argument shape of the original tool:
// a name plus two booleans selecting which of the three kinds applies.
func NewBinaryData(name string, extension, internal bool) BinaryData {
	switch {
	case extension && internal:
		return BinaryData{Kind: InternalExtension, Name: name}
	case extension:
		return BinaryData{Kind: ExternalExtension, Name: name}
	default:
		return BinaryData{Kind: Function, Name: name}
	}
}

// BinaryName is the name the executable is given inside the archive.
func (b BinaryData) BinaryName() string {
	if b.Kind == Function {
		return "bootstrap"
	}
	return b.Name
}

// ZipName is the name of the archive file itself.
func (b BinaryData) ZipName() string {
	return b.BinaryName() + ".zip"
}

// BinaryLocation is the directory, relative to the build output root,
// that the compiler is expected to have placed the binary in.
func (b BinaryData) BinaryLocation() string {
	if b.Kind == Function {
		return b.Name
	}
	return "extensions"
}

// ParentDir is the directory the binary is nested under inside the
// archive. Only external extensions get one; internal extensions and
// functions are stored at the archive root.
func (b BinaryData) ParentDir() (string, bool) {
	if b.Kind == ExternalExtension {
		return "extensions", true
	}
	return "", false
}

// BuildHelp names the build invocation a user should have run to
// produce this kind of binary, for use in error messages.
func (b BinaryData) BuildHelp() string {
	switch b.Kind {
	case ExternalExtension:
		return "build --extension"
	case InternalExtension:
		return "build --extension --internal"
	default:
		return "build"
	}
}

// BinaryPathInZip is the forward-slash path the binary is written to
// inside the archive: always unix-style regardless of host OS, since
// zip archives are platform-independent and Lambda only ever runs on
// Linux.
func (b BinaryData) BinaryPathInZip() string {
	if parent, ok := b.ParentDir(); ok {
		return path.Join(parent, b.BinaryName())
	}
	return b.BinaryName()
}

func (k Kind) String() string {
	switch k {
	case Function:
		return "function"
	case ExternalExtension:
		return "external extension"
	case InternalExtension:
		return "internal extension"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}
