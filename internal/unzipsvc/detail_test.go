package unzipsvc

import (
	"reflect"
	"testing"

	"github.com/keithlinneman/ziprehome/internal/extract"
)

func TestNewUnzipDetail(t *testing.T) {
	root := &extract.Node{Name: "a.zip", Path: "a.zip", IsNestedArchive: true, Children: []*extract.Node{
		{Name: "docs", Path: "a.zip/docs/", IsDirectory: true, Children: []*extract.Node{}},
		{Name: "big.bin", Path: "a.zip/big.bin", ExtractedSize: 2048, StorageID: "id-1"},
		{Name: "in.zip", Path: "a.zip/in.zip", IsNestedArchive: true, Children: []*extract.Node{
			{Name: "half.txt", Path: "a.zip/in.zip/half.txt", ExtractedSize: 1536, StorageID: "id-2"},
		}},
	}}

	d := NewUnzipDetail("link", "client", 5000, root)

	if d.DocumentLinkID != "link" || d.ClientID != "client" || d.FileName != "a.zip" {
		t.Errorf("ids = %+v", d)
	}
	if d.ZippedSize != "4.0" {
		t.Errorf("zipped_size = %q, want 4.0", d.ZippedSize)
	}
	if d.UnzippedSize != "3.0" {
		t.Errorf("unzipped_size = %q, want 3.0", d.UnzippedSize)
	}

	wantFiles := map[string]FileDetail{
		"a.zip/big.bin":         {FileName: "big.bin", DocumentLinkID: "id-1", FileSize: "2.0"},
		"a.zip/in.zip/half.txt": {FileName: "half.txt", DocumentLinkID: "id-2", FileSize: "1.5"},
	}
	if !reflect.DeepEqual(d.FilesUnzipped, wantFiles) {
		t.Errorf("files_unzipped = %+v", d.FilesUnzipped)
	}

	wantTree := map[string]any{
		"a.zip": map[string]any{
			"docs":    map[string]any{},
			"big.bin": map[string]any{},
			"in.zip":  map[string]any{"half.txt": map[string]any{}},
		},
	}
	if !reflect.DeepEqual(d.TreeStruct, wantTree) {
		t.Errorf("tree_struct = %#v", d.TreeStruct)
	}
}

func TestCleanName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"a.zip", "a.zip"},
		{"dir/a.zip", "a.zip"},
		{`C:\uploads\a.zip`, "a.zip"},
		{"", "fallback.zip"},
		{"/", "fallback.zip"},
		{"..", "fallback.zip"},
	}
	for _, tt := range tests {
		if got := cleanName(tt.in, "fallback.zip"); got != tt.want {
			t.Errorf("cleanName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatKB(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.0"},
		{2, "2.0"},
		{1.5, "1.5"},
		{0.0009765625, "9.765625E-4"},
		{0.5, "0.5"},
		{1234567, "1234567.0"},
		{1e7, "1.0E7"},
		{12345678.5, "1.23456785E7"},
	}
	for _, tt := range tests {
		if got := formatKB(tt.in); got != tt.want {
			t.Errorf("formatKB(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
