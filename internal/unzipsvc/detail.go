package unzipsvc

import (
	"strconv"
	"strings"

	"github.com/keithlinneman/ziprehome/internal/extract"
)

// UnzipDetail is the per-document response of the save-doc endpoints.
// Sizes are kilobytes as decimal strings that always carry a fraction
// ("2.0", "1.5"), the form existing consumers parse.
type UnzipDetail struct {
	DocumentLinkID string                `json:"document_link_id"`
	ClientID       string                `json:"client_id"`
	FileName       string                `json:"file_name"`
	ZippedSize     string                `json:"zipped_size"`
	UnzippedSize   string                `json:"unzipped_size"`
	TreeStruct     map[string]any        `json:"tree_struct"`
	FilesUnzipped  map[string]FileDetail `json:"files_unzipped"`
}

// FileDetail describes one stored leaf, keyed by its path.
type FileDetail struct {
	FileName       string `json:"file_name"`
	DocumentLinkID string `json:"document_link_id"`
	FileSize       string `json:"file_size"`
}

// NewUnzipDetail shapes an extracted tree. zipped is the archive's size in
// bytes. zipped_size and unzipped_size are truncated to whole KB; file_size
// is exact.
func NewUnzipDetail(linkID, clientID string, zipped int64, root *extract.Node) UnzipDetail {
	files := make(map[string]FileDetail)
	var total int64
	root.Walk(func(n *extract.Node) bool {
		if n.StorageID != "" {
			total += n.ExtractedSize
			files[n.Path] = FileDetail{
				FileName:       n.Name,
				DocumentLinkID: n.StorageID,
				FileSize:       formatKB(float64(n.ExtractedSize) / 1024),
			}
		}
		return true
	})

	return UnzipDetail{
		DocumentLinkID: linkID,
		ClientID:       clientID,
		FileName:       root.Name,
		ZippedSize:     formatKB(float64(zipped / 1024)),
		UnzippedSize:   formatKB(float64(total / 1024)),
		TreeStruct:     map[string]any{root.Name: childrenMap(root)},
		FilesUnzipped:  files,
	}
}

// childrenMap nests child names. Siblings with the same name collapse into
// one key.
func childrenMap(n *extract.Node) map[string]any {
	m := make(map[string]any, len(n.Children))
	for _, c := range n.Children {
		m[c.Name] = childrenMap(c)
	}
	return m
}

// formatKB renders v as the shortest decimal that round-trips, with at least
// one fractional digit. Outside [1e-3, 1e7) it switches to "1.0E7" notation.
func formatKB(v float64) string {
	if v >= 1e7 || (v > 0 && v < 1e-3) {
		s := strconv.FormatFloat(v, 'E', -1, 64)
		mant, exp, _ := strings.Cut(s, "E")
		if !strings.Contains(mant, ".") {
			mant += ".0"
		}
		n, _ := strconv.Atoi(exp)
		return mant + "E" + strconv.Itoa(n)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
