package extract

// Node is one entry of the archive tree: a directory, a nested archive, or a
// leaf file that was rehomed to the content store.
type Node struct {
	Name            string  `json:"name"`
	Path            string  `json:"path"`
	CompressedSize  int64   `json:"compressed_size"`
	ExtractedSize   int64   `json:"extracted_size"`
	IsDirectory     bool    `json:"is_directory"`
	IsNestedArchive bool    `json:"is_nested_archive"`
	StorageID       string  `json:"storage_id,omitempty"`
	SHA256          string  `json:"sha256,omitempty"`
	Children        []*Node `json:"children"`
}

// IsLeaf reports whether n is a stored file.
func (n *Node) IsLeaf() bool { return !n.IsDirectory && !n.IsNestedArchive }

// Walk visits n and its descendants depth first. Returning false from fn
// skips that node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Count tallies the subtree rooted at n, including n itself.
func (n *Node) Count() (leaves, nested, dirs int) {
	n.Walk(func(c *Node) bool {
		switch {
		case c.IsDirectory:
			dirs++
		case c.IsNestedArchive:
			nested++
		default:
			leaves++
		}
		return true
	})
	return leaves, nested, dirs
}

// Find returns the node at path, or nil.
func (n *Node) Find(path string) *Node {
	var found *Node
	n.Walk(func(c *Node) bool {
		if found != nil {
			return false
		}
		if c.Path == path {
			found = c
			return false
		}
		return true
	})
	return found
}

// LevelResult is the finished tree and storage ids for one archive level.
// It is not modified after the level returns it.
type LevelResult struct {
	Root *Node
	IDs  []string
}

// Result is what a top-level Extract call returns.
type Result struct {
	IDs  []string `json:"ids"`
	Root *Node    `json:"root"`
}
