package capture

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// macroRegex matches every $(...) reference.
var macroRegex = regexp.MustCompile(`\$\(.*?\)`)

// SubstituteMacros replaces each $(KEY) in txt with macros[KEY].
func SubstituteMacros(txt string, macros map[string]string) string {
	if len(macros) == 0 || !strings.Contains(txt, "$(") {
		return txt
	}
	for _, key := range sortedKeys(macros) {
		txt = strings.ReplaceAll(txt, "$("+key+")", macros[key])
	}
	return txt
}

// UnresolvedMacros returns the macro names still referenced in txt.
func UnresolvedMacros(txt string) []string {
	var names []string
	for _, m := range macroRegex.FindAllString(txt, -1) {
		names = append(names, m[2:len(m)-1])
	}
	return names
}

// ParseMacros converts "A=B,C=D" into a map. An empty string yields an empty map.
func ParseMacros(s string) (map[string]string, error) {
	macros := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return macros, nil
	}
	for _, part := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || key == "" || strings.Contains(value, "=") {
			return nil, fmt.Errorf("cannot parse macros: %s", s)
		}
		macros[key] = value
	}
	return macros, nil
}

// FormatMacros is the inverse of ParseMacros, with keys sorted.
func FormatMacros(macros map[string]string) string {
	parts := make([]string, 0, len(macros))
	for _, key := range sortedKeys(macros) {
		parts = append(parts, key+"="+macros[key])
	}
	return strings.Join(parts, ",")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
