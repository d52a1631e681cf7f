package acebase

import "sort"

// treeNodeOffsetNone marks an absent child/next-leaf pointer within an
// embedded tree blob.
const treeNodeOffsetNone uint32 = 0xFFFFFFFF

// treeNode is the decoded form of one B+tree node within an embedded tree
// blob. Leaves carry child entries directly and chain to their right
// sibling for ordered iteration; internal nodes carry separator keys and
// child offsets. Offsets are relative to the start of the tree blob, echoing
// the teacher's serializeINode/DeserializeINode byte-offset discipline
// (Serialize.go) applied to a B+tree instead of a HAMT.
type treeNode struct {
	IsLeaf   bool
	Keys     []string
	Entries  []childEntry   // leaf only, parallel to Keys
	Children []uint32       // internal only, len(Keys)+1
	Next     uint32         // leaf only, treeNodeOffsetNone if rightmost
}

// embeddedTree is a decoded B+tree together with the blob it was parsed
// from, so find/iterate can lazily decode nodes from their offsets.
type embeddedTree struct {
	blob []byte
	root uint32
	kit  *keyIndexTable
}

// treeBlobHeaderSize is the fixed 4-byte root-offset prefix on every
// embedded tree blob.
const treeBlobHeaderSize = 4

func decodeEmbeddedTree(blob []byte, kit *keyIndexTable) (*embeddedTree, error) {
	if len(blob) < treeBlobHeaderSize {
		return nil, &CorruptError{Reason: "tree blob shorter than root pointer"}
	}
	root := getUint32(blob[:treeBlobHeaderSize])
	return &embeddedTree{blob: blob, root: root, kit: kit}, nil
}

func (t *embeddedTree) nodeAt(offset uint32) (treeNode, error) {
	if int(offset) >= len(t.blob) {
		return treeNode{}, &CorruptError{Reason: "tree node offset beyond blob"}
	}
	data := t.blob[offset:]
	if len(data) < 3 {
		return treeNode{}, &CorruptError{Reason: "truncated tree node header"}
	}

	isLeaf := data[0] == 1
	count := int(getUint16(data[1:3]))
	cursor := 3

	node := treeNode{IsLeaf: isLeaf}

	if isLeaf {
		node.Keys = make([]string, count)
		node.Entries = make([]childEntry, count)
		for i := 0; i < count; i++ {
			entry, n, err := decodeChildEntry(data[cursor:], t.kit)
			if err != nil {
				return treeNode{}, err
			}
			node.Keys[i] = entry.Key
			node.Entries[i] = entry
			cursor += n
		}
		if cursor+4 > len(data) {
			return treeNode{}, &CorruptError{Reason: "truncated tree leaf next-pointer"}
		}
		node.Next = getUint32(data[cursor : cursor+4])
		return node, nil
	}

	node.Keys = make([]string, count)
	for i := 0; i < count; i++ {
		key, n, err := decodeKeyInfo(data[cursor:], t.kit)
		if err != nil {
			return treeNode{}, err
		}
		node.Keys[i] = key
		cursor += n
	}
	node.Children = make([]uint32, count+1)
	for i := 0; i <= count; i++ {
		if cursor+4 > len(data) {
			return treeNode{}, &CorruptError{Reason: "truncated tree internal child pointer"}
		}
		node.Children[i] = getUint32(data[cursor : cursor+4])
		cursor += 4
	}
	return node, nil
}

// find returns the child entry for key, if present.
func (t *embeddedTree) find(key string) (childEntry, bool, error) {
	offset := t.root
	for {
		node, err := t.nodeAt(offset)
		if err != nil {
			return childEntry{}, false, err
		}
		if node.IsLeaf {
			i := sort.SearchStrings(node.Keys, key)
			if i < len(node.Keys) && node.Keys[i] == key {
				return node.Entries[i], true, nil
			}
			return childEntry{}, false, nil
		}

		i := sort.Search(len(node.Keys), func(i int) bool { return node.Keys[i] > key })
		offset = node.Children[i]
	}
}

// getFirstLeaf descends to the leftmost leaf.
func (t *embeddedTree) getFirstLeaf() (treeNode, error) {
	offset := t.root
	for {
		node, err := t.nodeAt(offset)
		if err != nil {
			return treeNode{}, err
		}
		if node.IsLeaf {
			return node, nil
		}
		offset = node.Children[0]
	}
}

// getNext returns the leaf to the right of leaf, or ok=false if leaf was
// rightmost.
func (t *embeddedTree) getNext(leaf treeNode) (treeNode, bool, error) {
	if leaf.Next == treeNodeOffsetNone {
		return treeNode{}, false, nil
	}
	next, err := t.nodeAt(leaf.Next)
	if err != nil {
		return treeNode{}, false, err
	}
	return next, true, nil
}

// all walks every leaf in key order, invoking fn for each entry until fn
// returns false or the tree is exhausted.
func (t *embeddedTree) all(fn func(childEntry) bool) error {
	leaf, err := t.getFirstLeaf()
	if err != nil {
		return err
	}
	for {
		for _, e := range leaf.Entries {
			if !fn(e) {
				return nil
			}
		}
		next, ok, err := t.getNext(leaf)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		leaf = next
	}
}

// treeOp is one pending mutation applied by transaction.
type treeOp struct {
	Key    string
	Delete bool
	Entry  childEntry
}

// transaction applies ops to the tree and returns a freshly rebuilt blob.
// An embedded tree lives entirely inside one record body that the Node
// Writer rewrites wholesale on every update, so "transactional batch
// operation with rebuild fallback" collapses to a single decode-patch-
// rebuild pass here: there is no partial-write state to roll back, since the
// old blob remains valid storage until the new one replaces it.
func (t *embeddedTree) transaction(ops []treeOp, fillFactor float64) ([]byte, error) {
	entries := make(map[string]childEntry)
	if err := t.all(func(e childEntry) bool {
		entries[e.Key] = e
		return true
	}); err != nil {
		return nil, err
	}

	for _, op := range ops {
		if op.Delete {
			delete(entries, op.Key)
		} else {
			entries[op.Key] = op.Entry
		}
	}

	sorted := make([]childEntry, 0, len(entries))
	for _, e := range entries {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	return buildEmbeddedTree(sorted, fillFactor, t.kit)
}
