package tool

import (
	"os"
	"path/filepath"
	"strings"
)

// PathAliases is the fixed table of informal location names resolved
// against the user home directory. The table is deliberately small and
// documented rather than inferred; it is also injected into the query
// context so the model can reference the real paths directly.
func PathAliases() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil {
		return map[string]string{}
	}
	return map[string]string{
		"home":      home,
		"desktop":   filepath.Join(home, "Desktop"),
		"documents": filepath.Join(home, "Documents"),
		"downloads": filepath.Join(home, "Downloads"),
	}
}

// ResolvePath canonicalizes a path parameter: alias names and a leading
// tilde resolve against the home directory, and the result is absolute.
func ResolvePath(s string) (string, error) {
	s = strings.TrimSpace(s)
	if alias, ok := PathAliases()[strings.ToLower(s)]; ok {
		return alias, nil
	}
	if s == "~" || strings.HasPrefix(s, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		s = filepath.Join(home, strings.TrimPrefix(s[1:], "/"))
	}
	return filepath.Abs(s)
}
