package archive

import (
	"bytes"
	"debug/elf"
	"fmt"
)

// readBinaryArch sniffs the target architecture out of an ELF binary's
// e_machine field, mapping it onto the two architecture names Lambda's
// deployment API accepts.
func readBinaryArch(data []byte) (string, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotELF, err)
	}
	defer f.Close()

	switch f.Machine {
	case elf.EM_AARCH64:
		return "arm64", nil
	case elf.EM_X86_64:
		return "x86_64", nil
	default:
		return "", fmt.Errorf("%w: e_machine=%s", ErrInvalidBinaryArchitecture, f.Machine)
	}
}
