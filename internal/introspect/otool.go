package introspect

import "strings"

// Load command names understood by ParseOtool.
const (
	LCIDDylib   = "LC_ID_DYLIB"
	LCLoadDylib = "LC_LOAD_DYLIB"
	LCRPath     = "LC_RPATH"
)

// LoadCommands is the subset of a Mach-O load command table relevant to
// relocation.
type LoadCommands struct {
	ID     string
	Dylibs []string
	RPaths []string
}

// ParseOtool parses the output of otool -l. Each "cmd" line starts a new
// load command; for the three tracked kinds the following "name" or "path"
// line carries the value. Everything else is skipped.
func ParseOtool(out string) LoadCommands {
	var lc LoadCommands
	current := ""
	for _, raw := range strings.Split(out, "\n") {
		fields := strings.Fields(raw)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "cmd":
			current = ""
			switch fields[len(fields)-1] {
			case LCIDDylib, LCLoadDylib, LCRPath:
				current = fields[len(fields)-1]
			}
		case "name", "path":
			if current == "" {
				continue
			}
			value := fields[1]
			switch current {
			case LCIDDylib:
				lc.ID = value
			case LCLoadDylib:
				lc.Dylibs = append(lc.Dylibs, value)
			case LCRPath:
				lc.RPaths = append(lc.RPaths, value)
			}
			current = ""
		}
	}
	return lc
}

// notObjectFile reports otool's complaint about a non-Mach-O input.
func notObjectFile(out string) bool {
	return strings.Contains(out, "is not an object file")
}
