package acebase

import "sync"

// maxInlineKeyBytes bounds the keys the key-index table will intern:
// non-empty ASCII keys of up to 128 bytes. Other keys are written inline in
// the child entry.
const maxInlineKeyBytes = 128

// kitMaxIndex is the largest index the 15-bit KIT index field can address.
const kitMaxIndex = (1 << 15) - 1

// keyIndexTable maps frequently reused keys to a small integer so child
// entries can reference a key by 15-bit index instead of inlining its bytes
// every time it repeats across siblings. Grounded on the teacher's constant-
// offset serialize/deserialize discipline (Serialize.go), applied here to an
// append-only string table instead of trie-node bytes.
type keyIndexTable struct {
	mu sync.RWMutex

	keys    []string
	byKey   map[string]int
}

func newKeyIndexTable() *keyIndexTable {
	return &keyIndexTable{byKey: make(map[string]int)}
}

// get returns the key stored at index, or ok=false if index is out of range.
func (t *keyIndexTable) get(index int) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.keys) {
		return "", false
	}
	return t.keys[index], true
}

// indexOf returns the existing index for key, or -1 if key isn't registered.
func (t *keyIndexTable) indexOf(key string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx, ok := t.byKey[key]; ok {
		return idx
	}
	return -1
}

// getOrAdd returns key's index, registering it if this is its first use.
// Returns -1 if the table is full (kitMaxIndex reached) or key doesn't
// qualify for indexing (too long or non-ASCII), leaving the caller to fall
// back to inlining the key bytes in the child entry.
func (t *keyIndexTable) getOrAdd(key string) int {
	if !isIndexableKey(key) {
		return -1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, ok := t.byKey[key]; ok {
		return idx
	}
	if len(t.keys) > kitMaxIndex {
		return -1
	}

	idx := len(t.keys)
	t.keys = append(t.keys, key)
	t.byKey[key] = idx
	return idx
}

func isIndexableKey(key string) bool {
	if key == "" || len(key) > maxInlineKeyBytes {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] > 127 {
			return false
		}
	}
	return true
}

// encode serializes the table as a sequence of length-prefixed ASCII keys,
// in index order, for persistence in the KIT's own record allocation.
func (t *keyIndexTable) encode() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()

	buf := make([]byte, 0, 64)
	tmp := make([]byte, 2)
	for _, k := range t.keys {
		putUint16(tmp, uint16(len(k)))
		buf = append(buf, tmp...)
		buf = append(buf, k...)
	}
	return buf
}

// decodeKeyIndexTable reconstructs a table from its encoded form.
func decodeKeyIndexTable(data []byte) (*keyIndexTable, error) {
	t := newKeyIndexTable()
	offset := 0
	for offset < len(data) {
		if offset+2 > len(data) {
			return nil, &CorruptError{Reason: "truncated key-index table length prefix"}
		}
		length := int(getUint16(data[offset : offset+2]))
		offset += 2
		if offset+length > len(data) {
			return nil, &CorruptError{Reason: "truncated key-index table entry"}
		}
		key := string(data[offset : offset+length])
		offset += length

		t.byKey[key] = len(t.keys)
		t.keys = append(t.keys, key)
	}
	return t, nil
}
