package acebase

// treeBuilder accumulates serialized nodes for a bulk-loaded tree build,
// tracking byte offsets so parent nodes can reference children once they've
// been written.
type treeBuilder struct {
	buf []byte
}

func newTreeBuilder() *treeBuilder {
	b := &treeBuilder{buf: make([]byte, treeBlobHeaderSize)}
	return b
}

func (b *treeBuilder) write(node []byte) uint32 {
	offset := uint32(len(b.buf))
	b.buf = append(b.buf, node...)
	return offset
}

func (b *treeBuilder) finish(root uint32) []byte {
	putUint32(b.buf[:treeBlobHeaderSize], root)
	return b.buf
}

// numericFillFactor and nonNumericFillFactor bound bulk-load, matching
// SPEC_FULL.md's resolved fill-factor policy: numeric-looking keys (array
// indices, expected to keep growing monotonically) use a lower fill factor
// to leave room for append-heavy growth, anything else packs tighter.
const (
	numericFillFactor    = 0.50
	nonNumericFillFactor = 0.95
)

// fillFactorFor chooses the rebuild fill factor for a set of sibling keys:
// numeric-looking (array-index style) siblings get room to grow, everything
// else packs tight.
func fillFactorFor(entries []childEntry) float64 {
	if len(entries) == 0 {
		return nonNumericFillFactor
	}
	numeric := 0
	for _, e := range entries {
		if looksNumeric(e.Key) {
			numeric++
		}
	}
	if numeric*2 > len(entries) {
		return numericFillFactor
	}
	return nonNumericFillFactor
}

// leafCapacity is the nominal maximum entries per leaf node before a bulk
// load starts a new leaf; fillFactor scales how full each leaf is packed.
const leafCapacity = 64

// internalCapacity is the nominal maximum children per internal node.
const internalCapacity = 64

func encodeLeafNode(entries []childEntry, next uint32, kit *keyIndexTable) []byte {
	buf := make([]byte, 3)
	buf[0] = 1
	putUint16(buf[1:3], uint16(len(entries)))
	for _, e := range entries {
		buf = append(buf, e.encode(kit)...)
	}
	nextBuf := make([]byte, 4)
	putUint32(nextBuf, next)
	return append(buf, nextBuf...)
}

func encodeInternalNode(keys []string, children []uint32, kit *keyIndexTable) []byte {
	buf := make([]byte, 3)
	buf[0] = 0
	putUint16(buf[1:3], uint16(len(keys)))
	for _, k := range keys {
		kbuf := make([]byte, 2+len(k))
		n := encodeKeyInfo(kbuf, k, kit)
		buf = append(buf, kbuf[:n]...)
	}
	for _, c := range children {
		cbuf := make([]byte, 4)
		putUint32(cbuf, c)
		buf = append(buf, cbuf...)
	}
	return buf
}

// buildEmbeddedTree bulk-loads sorted entries into a fresh embedded tree
// blob at the given fill factor, returning the serialized blob (root
// pointer prefix included).
func buildEmbeddedTree(sorted []childEntry, fillFactor float64, kit *keyIndexTable) ([]byte, error) {
	b := newTreeBuilder()

	if len(sorted) == 0 {
		leaf := encodeLeafNode(nil, treeNodeOffsetNone, kit)
		root := b.write(leaf)
		return b.finish(root), nil
	}

	perLeaf := int(float64(leafCapacity) * fillFactor)
	if perLeaf < 1 {
		perLeaf = 1
	}

	type levelEntry struct {
		firstKey string
		offset   uint32
	}

	var leaves []levelEntry
	leafSlices := make([][]childEntry, 0)
	for start := 0; start < len(sorted); start += perLeaf {
		end := start + perLeaf
		if end > len(sorted) {
			end = len(sorted)
		}
		leafSlices = append(leafSlices, sorted[start:end])
	}

	// encode every leaf with an empty Next pointer, then write them left
	// to right, patching each leaf's Next pointer once its right sibling's
	// offset is known.
	nextPtrs := make([]uint32, len(leafSlices))
	for i := range nextPtrs {
		nextPtrs[i] = treeNodeOffsetNone
	}
	leafBytes := make([][]byte, len(leafSlices))
	offsets := make([]uint32, len(leafSlices))
	for i := len(leafSlices) - 1; i >= 0; i-- {
		leafBytes[i] = encodeLeafNode(leafSlices[i], nextPtrs[i], kit)
	}
	for i := 0; i < len(leafSlices); i++ {
		offsets[i] = b.write(leafBytes[i])
		if i > 0 {
			// patch previous leaf's next pointer now that this leaf's
			// offset is known; next pointer lives in the last 4 bytes.
			patchUint32(b.buf, offsets[i-1]+uint32(len(leafBytes[i-1]))-4, offsets[i])
		}
	}
	for i := range leafSlices {
		leaves = append(leaves, levelEntry{firstKey: leafSlices[i][0].Key, offset: offsets[i]})
	}

	level := leaves
	perInternal := int(float64(internalCapacity) * fillFactor)
	if perInternal < 2 {
		perInternal = 2
	}

	for len(level) > 1 {
		var next []levelEntry
		for start := 0; start < len(level); start += perInternal {
			end := start + perInternal
			if end > len(level) {
				end = len(level)
			}
			group := level[start:end]

			keys := make([]string, 0, len(group)-1)
			children := make([]uint32, 0, len(group))
			for i, g := range group {
				children = append(children, g.offset)
				if i > 0 {
					keys = append(keys, g.firstKey)
				}
			}
			node := encodeInternalNode(keys, children, kit)
			offset := b.write(node)
			next = append(next, levelEntry{firstKey: group[0].firstKey, offset: offset})
		}
		level = next
	}

	return b.finish(level[0].offset), nil
}

func patchUint32(buf []byte, offset uint32, v uint32) {
	putUint32(buf[offset:offset+4], v)
}
