package introspect

import "strings"

// ParseReadelfRPath extracts the RPATH or RUNPATH entries from the output of
// readelf -d. When both are present RPATH wins, matching the loader's own
// precedence when RUNPATH is absent.
func ParseReadelfRPath(out string) []string {
	var rpath, runpath []string
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.Contains(line, "(RPATH)"):
			rpath = append(rpath, bracketed(line)...)
		case strings.Contains(line, "(RUNPATH)"):
			runpath = append(runpath, bracketed(line)...)
		}
	}
	if len(rpath) > 0 {
		return rpath
	}
	return runpath
}

// bracketed splits the "[a:b:c]" value that readelf prints after the tag.
func bracketed(line string) []string {
	start := strings.IndexByte(line, '[')
	end := strings.LastIndexByte(line, ']')
	if start < 0 || end <= start {
		return nil
	}
	var entries []string
	for _, e := range strings.Split(line[start+1:end], ":") {
		if e = strings.TrimSpace(e); e != "" {
			entries = append(entries, e)
		}
	}
	return entries
}
