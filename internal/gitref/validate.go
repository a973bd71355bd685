// Package gitref validates git branch and tag names against the
// check-ref-format rules spec.md §4.2 requires the git helper to enforce
// before any ref reaches a git subprocess.
package gitref

import (
	"errors"
	"strings"
)

// ErrInvalidRef is returned when a candidate ref name fails validation. It
// maps to the "invalid-ref" error kind in spec.md §7.
var ErrInvalidRef = errors.New("invalid-ref")

var controlChars = func() [256]bool {
	var t [256]bool
	for i := 0; i < 0x20; i++ {
		t[i] = true
	}
	t[0x7f] = true
	return t
}()

// Validate reports whether name is a legal git ref component: non-empty;
// no spaces or control characters; no "..", "//", "@{", "~", "^", ":",
// "?", "*", "[", "\\"; no leading or trailing dot; not ending in ".lock";
// no path component starting with a dot ("/."). It never attempts to
// interpret or sanitize the name — a violation is rejected, not repaired.
func Validate(name string) error {
	if name == "" {
		return errInvalid("empty ref name")
	}
	if strings.Contains(name, "..") {
		return errInvalid("contains '..'")
	}
	if strings.Contains(name, "//") {
		return errInvalid("contains '//'")
	}
	if strings.Contains(name, "@{") {
		return errInvalid("contains '@{'")
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return errInvalid("leading or trailing dot")
	}
	if strings.HasSuffix(name, ".lock") {
		return errInvalid("trailing .lock")
	}
	if strings.Contains(name, "/.") {
		return errInvalid("path component starts with '.'")
	}
	if strings.HasSuffix(name, "/") || strings.HasPrefix(name, "/") {
		return errInvalid("leading or trailing slash")
	}
	for _, r := range name {
		if r > 0xff {
			continue
		}
		if controlChars[r] {
			return errInvalid("contains a control character")
		}
	}
	for _, forbidden := range []string{" ", "~", "^", ":", "?", "*", "[", "\\"} {
		if strings.Contains(name, forbidden) {
			return errInvalid("contains forbidden character " + forbidden)
		}
	}
	return nil
}

func errInvalid(reason string) error {
	return errors.New(ErrInvalidRef.Error() + ": " + reason)
}
