package introspect

import (
	"path"
	"strings"
)

// SystemLibraries are provided by the target system's C runtime and are
// never copied into a distribution. libgcc_s is not glibc but carries the
// same backwards compatibility guarantees.
var SystemLibraries = map[string]struct{}{
	"linux-vdso.so.1":    {},
	"libc.so.6":          {},
	"librt.so.1":         {},
	"libm.so.6":          {},
	"libmd.so.0":         {},
	"libpthread.so.0":    {},
	"libdl.so.2":         {},
	"libmemusage.so":     {},
	"libnsl.so.1":        {},
	"libnss_compat.so.2": {},
	"libnss_db.so.2":     {},
	"libnss_dns.so.2":    {},
	"libnss_files.so.2":  {},
	"libnss_hesiod.so.2": {},
	"libpcprofile.so.2":  {},
	"libresolv.so.2":     {},
	"libthread_db.so.1":  {},
	"libutil.so.1":       {},
	"libutil.so.2":       {},
	"libgcc_s.so.2":      {},
	"libgcc_s.so.1":      {},
}

// IsSystemLibrary reports whether a library name, or the base name of a
// path, belongs to the skip list. Every ld-linux loader variant counts.
func IsSystemLibrary(name string) bool {
	base := path.Base(name)
	if strings.HasPrefix(base, "ld-linux") || strings.HasPrefix(base, "ld64.so") {
		return true
	}
	_, ok := SystemLibraries[base]
	return ok
}

// IsSystemPath reports whether a Mach-O install name points into the
// operating system's own library locations.
func IsSystemPath(p string) bool {
	return strings.HasPrefix(p, "/usr/lib/") || strings.HasPrefix(p, "/System/")
}
