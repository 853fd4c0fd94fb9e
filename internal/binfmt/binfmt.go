// Package binfmt identifies executable file formats by their leading magic
// bytes.
package binfmt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Format is the detected binary format of a file.
type Format int

const (
	Other Format = iota
	ELF
	MachO
)

func (f Format) String() string {
	switch f {
	case ELF:
		return "elf"
	case MachO:
		return "macho"
	}
	return "other"
}

var (
	elfMagic = []byte("\x7fELF")
	// 64-bit little-endian Mach-O (MH_MAGIC_64 read from disk).
	machoMagic = []byte{0xcf, 0xfa, 0xed, 0xfe}
)

// Detect classifies the first bytes of a file.
func Detect(head []byte) Format {
	if len(head) < 4 {
		return Other
	}
	switch {
	case bytes.Equal(head[:4], elfMagic):
		return ELF
	case bytes.Equal(head[:4], machoMagic):
		return MachO
	}
	return Other
}

// Classify reads the first four bytes of path. Files shorter than four
// bytes are Other.
func Classify(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Other, err
	}
	defer f.Close()

	var buf [4]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Other, nil
		}
		return Other, fmt.Errorf("reading %s: %w", path, err)
	}
	return Detect(buf[:]), nil
}
