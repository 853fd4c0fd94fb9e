package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// ELFHeader and MachOHeader are enough of a file for magic classification.
var (
	ELFHeader   = []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	MachOHeader = []byte{0xcf, 0xfa, 0xed, 0xfe, 7, 0, 0, 1, 3, 0, 0, 0, 2, 0, 0, 0}
)

// WriteFile writes content to root/rel with the given mode, creating parent
// directories, and returns the full path.
func WriteFile(t *testing.T, root, rel string, content []byte, mode os.FileMode) string {
	t.Helper()
	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, content, mode))
	require.NoError(t, os.Chmod(p, mode))
	return p
}

// WriteELF writes a fake ELF file.
func WriteELF(t *testing.T, root, rel string, mode os.FileMode) string {
	t.Helper()
	return WriteFile(t, root, rel, ELFHeader, mode)
}

// WriteMachO writes a fake 64-bit Mach-O file.
func WriteMachO(t *testing.T, root, rel string, mode os.FileMode) string {
	t.Helper()
	return WriteFile(t, root, rel, MachOHeader, mode)
}
