package shim

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

const linuxTrampoline = `#!/bin/sh
"true" ''''
"exec" "$(dirname "$(readlink -f "$0")")%s" "$0" "$@"
'''`

const darwinTrampoline = `#!/bin/sh
"true" ''''
TARGET_FILE=$0
cd "$(dirname "$TARGET_FILE")" || return
TARGET_FILE=$(basename "$TARGET_FILE")
# Iterate down a (possible) chain of symlinks
while [ -L "$TARGET_FILE" ]
do
    TARGET_FILE=$(readlink "$TARGET_FILE")
    cd "$(dirname "$TARGET_FILE")" || return
    TARGET_FILE=$(basename "$TARGET_FILE")
done
PHYS_DIR=$(pwd -P)
REALPATH=$PHYS_DIR/$TARGET_FILE
"exec" "$(dirname "$REALPATH")"%s "$REALPATH" "$@"
'''`

// Trampoline returns a shebang block that runs the interpreter at rel,
// relative to the directory of the script, e.g. "/python3".
func Trampoline(goos, rel string) string {
	if goos == "darwin" {
		return fmt.Sprintf(darwinTrampoline, rel)
	}
	return fmt.Sprintf(linuxTrampoline, rel)
}

// PatchShebang replaces the leading old shebang of the file at path with
// repl. It reports false when the file does not start with old.
func PatchShebang(path, old, repl string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	head := make([]byte, len(old))
	_, err = io.ReadFull(f, head)
	if err != nil || string(head) != old {
		f.Close()
		return false, nil
	}
	rest, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return false, err
	}
	// "#!/prefix/bin/python3" must not match "#!/prefix/bin/python3.10".
	if len(rest) > 0 && !isSpace(rest[0]) {
		return false, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	var buf bytes.Buffer
	buf.WriteString(repl)
	buf.Write(rest)
	if err := atomic.WriteFile(path, &buf); err != nil {
		return false, err
	}
	return true, os.Chmod(path, info.Mode().Perm())
}

// PatchShebangs applies PatchShebang to every regular file below dir and
// returns how many were changed.
func PatchShebangs(dir, old, repl string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ok, err := PatchShebang(path, old, repl)
		if err != nil {
			return fmt.Errorf("patching %s: %w", path, err)
		}
		if ok {
			count++
		}
		return nil
	})
	return count, err
}

func isSpace(b byte) bool {
	return strings.IndexByte(" \t\r\n", b) >= 0
}
