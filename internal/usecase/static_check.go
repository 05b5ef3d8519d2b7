package usecase

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
)

// StaticCheck scans files without calling a model and returns human-readable defects,
// ordered by path then by check. It is pure and safe to re-run.
func StaticCheck(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var defects []string
	for _, p := range paths {
		content := files[p]
		if strings.TrimSpace(content) == "" {
			defects = append(defects, fmt.Sprintf("empty file: %s", p))
		}
		if strings.Contains(content, "require(") && usesModuleSyntax(p) {
			defects = append(defects, fmt.Sprintf("%s: use import instead of require()", p))
		}
		if strings.Contains(content, "TODO") || strings.Contains(content, "FIXME") {
			defects = append(defects, fmt.Sprintf("%s: unfinished TODO/FIXME marker", p))
		}
		if strings.Contains(content, "console.log") && !isTestPath(p) {
			defects = append(defects, fmt.Sprintf("%s: remove console.log", p))
		}
		if strings.HasSuffix(p, ".json") && !json.Valid([]byte(content)) {
			defects = append(defects, fmt.Sprintf("%s: invalid JSON", p))
		}
	}
	return defects
}

// usesModuleSyntax reports whether the extension implies ES modules. .cjs and .cts opt out.
func usesModuleSyntax(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".js", ".mjs", ".jsx", ".ts", ".tsx", ".mts":
		return true
	}
	return false
}

func isTestPath(p string) bool {
	return strings.Contains(p, ".test.") || strings.Contains(p, "__test__")
}
