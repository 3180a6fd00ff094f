package session

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// DefaultMaxInputSize is 4KB (conservative default)
	DefaultMaxInputSize = 4096
	// EnvMaxInputSize is the environment variable to override the default
	EnvMaxInputSize = "SCRIPTHOST_MAX_INPUT_SIZE"
)

var (
	ErrInputTooLarge     = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8       = errors.New("input contains invalid UTF-8 sequences")
	ErrInvalidScriptName = errors.New("invalid script name")
)

// SanitizeInput cleans remote input (string variable values) by enforcing size limits,
// validating UTF-8, and stripping dangerous control characters.
func SanitizeInput(input string) (string, error) {
	limit := getMaxInputSize()
	if len(input) > limit {
		// Rejected rather than truncated so the script never sees a partial value.
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, len(input), limit)
	}

	if !utf8.ValidString(input) {
		return "", ErrInvalidUTF8
	}

	// Newline, tab and carriage return survive. ESC, NULL, BEL and friends do not:
	// values end up in session logs and terminals.
	clean := true
	for _, r := range input {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return input, nil
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

// SanitizeScriptName accepts a relative, slash-separated path that stays inside the
// session's script directory.
func SanitizeScriptName(name string) (string, error) {
	if name == "" || len(name) > 255 || !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidScriptName, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) || r == '\\' || r == ':' {
			return "", fmt.Errorf("%w: %q", ErrInvalidScriptName, name)
		}
	}
	clean := path.Clean(name)
	if path.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q escapes the script directory", ErrInvalidScriptName, name)
	}
	return clean, nil
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}

func getMaxInputSize() int {
	if val := os.Getenv(EnvMaxInputSize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			return size
		}
	}
	return DefaultMaxInputSize
}
