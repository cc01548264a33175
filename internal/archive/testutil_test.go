package archive

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// fakeELF builds a minimal, section-less ELF64 executable with the given
// machine type. It is enough for debug/elf (and therefore readBinaryArch)
// to parse the architecture without needing a real compiled program.
func fakeELF(t *testing.T, machine elf.Machine) []byte {
	t.Helper()

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	hdr := elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     0,
		Phoff:     0,
		Shoff:     0,
		Flags:     0,
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     0,
		Shentsize: 64,
		Shnum:     0,
		Shstrndx:  0,
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		t.Fatalf("encode fake elf header: %v", err)
	}
	// pad out a little so it looks more like a real executable than a
	// bare header.
	buf.Write(bytes.Repeat([]byte{0}, 64))
	return buf.Bytes()
}

func writeFakeBinary(t *testing.T, dir, name string, machine elf.Machine) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %q: %v", dir, err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, fakeELF(t, machine), 0o755); err != nil {
		t.Fatalf("write fake binary %q: %v", p, err)
	}
	return p
}
