package pathutil

import (
	"errors"
	"path"
	"strings"
)

var (
	ErrEmptyName    = errors.New("empty entry name")
	ErrAbsolutePath = errors.New("absolute entry path")
	ErrDotSegment   = errors.New("entry path contains . or .. segment")
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// CheckEntryName rejects archive entry names that could escape the tree they
// are joined onto: empty names, absolute paths (including drive letters and
// backslash roots), and dot segments. Backslashes are treated as separators.
func CheckEntryName(name string) error {
	n := strings.ReplaceAll(name, `\`, "/")
	switch {
	case strings.Trim(n, "/") == "":
		return ErrEmptyName
	case strings.HasPrefix(n, "/"):
		return ErrAbsolutePath
	case len(n) >= 2 && n[1] == ':':
		return ErrAbsolutePath
	case HasDotSegments(strings.TrimSuffix(n, "/")):
		return ErrDotSegment
	}
	return nil
}

// BaseName returns the last segment of an entry name, ignoring a trailing
// slash, so "docs/" and "a/b/docs/" both yield "docs".
func BaseName(name string) string {
	n := strings.TrimSuffix(strings.ReplaceAll(name, `\`, "/"), "/")
	return path.Base(n)
}

// Join appends an entry name to a level path with a single separator.
func Join(levelPath, name string) string {
	name = strings.TrimPrefix(name, "/")
	if levelPath == "" {
		return name
	}
	return strings.TrimSuffix(levelPath, "/") + "/" + name
}
