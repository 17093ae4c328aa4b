package pathutil

import (
	"errors"
	"strings"
	"testing"
)

func TestHasDotSegments(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"docs/report.pdf", false},
		{"docs/./report.pdf", true},
		{"docs/../../etc/passwd", true},
		{".", true},
		{"..", true},
		{"...", false},
		{".hidden", false},
		{"inner.zip/.config/x", false},
		{"a/b/.", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := HasDotSegments(tt.path); got != tt.want {
				t.Errorf("HasDotSegments(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestCheckEntryName(t *testing.T) {
	tests := []struct {
		name string
		want error
	}{
		{"report.pdf", nil},
		{"docs/", nil},
		{"docs/nested/inner.zip", nil},
		{"..hidden/file", nil},
		{"", ErrEmptyName},
		{"/", ErrEmptyName},
		{"/etc/passwd", ErrAbsolutePath},
		{`\windows\system32`, ErrAbsolutePath},
		{"C:/boot.ini", ErrAbsolutePath},
		{"../escape.txt", ErrDotSegment},
		{`docs\..\..\escape.txt`, ErrDotSegment},
		{"docs/./x", ErrDotSegment},
		{"../", ErrDotSegment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckEntryName(tt.name); !errors.Is(got, tt.want) {
				t.Errorf("CheckEntryName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":         "report.pdf",
		"docs/":              "docs",
		"a/b/docs/":          "docs",
		"a/b/inner.zip":      "inner.zip",
		`win\style\path.txt`: "path.txt",
	}
	for in, want := range tests {
		if got := BaseName(in); got != want {
			t.Errorf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		level, name, want string
	}{
		{"a.zip", "x.txt", "a.zip/x.txt"},
		{"a.zip/", "docs/", "a.zip/docs/"},
		{"a.zip/inner.zip", "/y.txt", "a.zip/inner.zip/y.txt"},
		{"", "x.txt", "x.txt"},
	}
	for _, tt := range tests {
		if got := Join(tt.level, tt.name); got != tt.want {
			t.Errorf("Join(%q, %q) = %q, want %q", tt.level, tt.name, got, tt.want)
		}
	}
}

func FuzzCheckEntryName(f *testing.F) {
	f.Add("foo/./bar")
	f.Add("../foo")
	f.Add("/abs")
	f.Add("ok/name.txt")

	f.Fuzz(func(t *testing.T, name string) {
		if CheckEntryName(name) != nil {
			return
		}
		// an accepted name never climbs out of the level it is joined to
		n := strings.ReplaceAll(name, `\`, "/")
		if strings.HasPrefix(n, "/") {
			t.Errorf("accepted absolute name %q", name)
		}
		for _, seg := range strings.Split(strings.TrimSuffix(n, "/"), "/") {
			if seg == ".." {
				t.Errorf("accepted dot-dot segment in %q", name)
			}
		}
	})
}
