package archive

import "errors"

var (
	// ErrBinaryMissing is returned when neither a built binary nor an
	// existing zip archive can be found for the requested BinaryData.
	ErrBinaryMissing = errors.New("binary not found; build it first")

	// ErrInvalidBinaryArchitecture is returned when the binary's ELF
	// machine type is neither arm64 nor x86_64.
	ErrInvalidBinaryArchitecture = errors.New("binary architecture is not supported by Lambda")

	// ErrInvalidUnixFileName is returned when a path cannot be
	// represented as a forward-slash zip entry name.
	ErrInvalidUnixFileName = errors.New("path cannot be converted to a unix-style zip entry name")

	// ErrNotELF is returned when the binary does not parse as ELF at all.
	ErrNotELF = errors.New("file is not a valid Linux ELF binary")
)
