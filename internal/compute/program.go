package compute

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var entryDecl = regexp.MustCompile(`(?m)^\s*fn\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// CleanProgramPath resolves a program path against the workspace root.
// Leading slashes and ".." segments never escape it.
func CleanProgramPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// CheckEntryPoint looks for a function declaration named entry in a WGSL
// program. The error lists the functions that are declared.
func CheckEntryPoint(src, entry string) error {
	var declared []string
	for _, m := range entryDecl.FindAllStringSubmatch(src, -1) {
		if m[1] == entry {
			return nil
		}
		declared = append(declared, m[1])
	}
	return fmt.Errorf("error: entry point '%s' not found in program; declared functions: [%s]",
		entry, strings.Join(declared, ", "))
}
