package ops

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/snapkeep/internal/errors"
)

// captureStamp is the timestamp layout of generated capture names (YYMMDD_HHMMSS).
const captureStamp = "060102_150405"

// CaptureName returns the generated name of a capture of requestName taken at t:
// {stem}_{YYMMDD_HHMMSS}{suffix}.
func CaptureName(requestName string, t time.Time, suffix string) string {
	stem := strings.TrimSuffix(requestName, filepath.Ext(requestName))
	if stem == "" {
		stem = "capture"
	}
	return fmt.Sprintf("%s_%s%s", SanitizeForFilename(stem), t.Format(captureStamp), suffix)
}

// ValidateCaptureName checks a caller-chosen capture name and appends suffix when it
// is missing. Names must stay directly in the save directory.
func ValidateCaptureName(name, suffix string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.NewInvalidRequest("name must not be empty")
	}

	// Reject anything that could leave the save directory
	if strings.ContainsAny(name, `/\`) || containsTraversal(name) {
		return "", errors.NewInvalidRequest("name must not contain path separators or ..")
	}
	if strings.HasPrefix(name, ".") {
		return "", errors.NewInvalidRequest("name must not start with a dot")
	}
	for _, r := range name {
		if r < 32 || r == 127 {
			return "", errors.NewInvalidRequest("name must not contain control characters")
		}
	}

	if !strings.HasSuffix(name, suffix) {
		name += suffix
	}
	return name, nil
}

// containsTraversal checks if name contains a ".." sequence.
func containsTraversal(name string) bool {
	return strings.Contains(name, "..")
}

// SanitizeForFilename sanitizes a string for safe use in a filename.
// Removes/replaces characters that could be used for path traversal or injection.
func SanitizeForFilename(s string) string {
	// Replace path separators with dashes
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")

	// Replace ".." sequences (could be embedded)
	s = strings.ReplaceAll(s, "..", "-")

	// Remove control characters and spaces
	var result strings.Builder
	for _, r := range s {
		switch {
		case r < 32 || r == 127:
		case r == ' ':
			result.WriteRune('-')
		default:
			result.WriteRune(r)
		}
	}
	s = result.String()

	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")

	if s == "" {
		s = "unnamed"
	}
	return s
}
