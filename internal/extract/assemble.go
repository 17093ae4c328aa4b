package extract

import "sync"

// assembler collects one level's children and storage ids as they finish.
// Both lists only grow; order is completion order.
type assembler struct {
	mu       sync.Mutex
	children []*Node
	ids      []string
	seen     map[string]struct{}
}

func newAssembler() *assembler {
	return &assembler{seen: make(map[string]struct{})}
}

// add appends a finished child and the ids produced under it. Ids already
// seen at this level are dropped.
func (a *assembler) add(child *Node, ids ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.children = append(a.children, child)
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := a.seen[id]; dup {
			continue
		}
		a.seen[id] = struct{}{}
		a.ids = append(a.ids, id)
	}
}

// finish attaches the children to root and rolls ExtractedSize up as the sum
// of the children's extracted sizes. It must only run after every child of
// the level has been added.
func (a *assembler) finish(root *Node) LevelResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	root.Children = make([]*Node, len(a.children))
	copy(root.Children, a.children)

	var size int64
	for _, c := range root.Children {
		if !c.IsDirectory {
			size += c.ExtractedSize
		}
	}
	root.ExtractedSize = size

	ids := make([]string, len(a.ids))
	copy(ids, a.ids)
	return LevelResult{Root: root, IDs: ids}
}
