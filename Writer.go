package acebase

import "sort"

// nodeWriter builds and persists the record(s) backing a value tree,
// allocating space through the Free-Space Table, encoding bodies through
// the record/child codec, and recursively patching every ancestor up to the
// file's root pointer so a single update stays consistent top to bottom.
// Grounded on the teacher's `_write`-style internal allocation helper
// (IOUtils.go's writeItemToNode + Operation.go's put path), generalized
// from trie-node writes to paged/chunked record writes.
type nodeWriter struct {
	pf     *PagedFile
	kit    *keyIndexTable
	fst    *freeSpaceTable
	cache  *nodeAddressCache
	locks  *lockManager
	reader *nodeReader
	bufs   *bufferPool

	maxInline              int
	treePromotionThreshold int

	notifier Notifier
}

func newNodeWriter(pf *PagedFile, kit *keyIndexTable, fst *freeSpaceTable, cache *nodeAddressCache, locks *lockManager, reader *nodeReader, opts Options, notifier Notifier) *nodeWriter {
	return &nodeWriter{
		pf: pf, kit: kit, fst: fst, cache: cache, locks: locks, reader: reader,
		bufs:                   newBufferPool(opts.BufferPoolMaxSize),
		maxInline:              opts.MaxInlineValueSize,
		treePromotionThreshold: opts.TreePromotionThreshold,
		notifier:               notifier,
	}
}

// updateOptions shapes one update() call.
type updateOptions struct {
	Merge bool
	Tid   string
}

// update writes value at path, merging into or overwriting any existing
// object/array there per opts.Merge, then recursively patches every
// ancestor's child entry up to the root so the whole path stays consistent.
// Matches spec.md's eight-step update algorithm: lock, read old value,
// classify/write the new value (merge or overwrite), patch the parent,
// migrate the lock up one level for each ancestor patched (the lock is
// released once the root pointer is updated), deallocate superseded
// storage, notify.
func (w *nodeWriter) update(path string, value any, opts updateOptions) error {
	lock, err := w.locks.lock(path, opts.Tid, true, lockOptions{})
	if err != nil {
		return err
	}

	oldValue, oldAddr, _ := w.readExistingForNotify(path, opts.Tid)

	entry, freed, err := w.classifyAndWrite(value, opts.Merge, oldAddr, opts.Tid)
	if err != nil {
		w.locks.release(lock)
		return err
	}

	if err := w.patchParentChain(path, entry, opts.Tid, lock); err != nil {
		return err
	}

	w.fst.release(freed)
	w.cache.invalidate(path, false)

	if w.notifier != nil {
		w.notifier.Notify(path, oldValue, value)
	}
	return nil
}

// readExistingForNotify best-effort reads the prior value at path (for the
// notifier) and its address (so classifyAndWrite can reuse/merge storage).
// A NodeNotFoundError is swallowed: creating a new path has no old value.
func (w *nodeWriter) readExistingForNotify(path string, tid string) (any, RecordAddress, ValueType) {
	addr, vt, err := w.reader.locate(path, tid)
	if err != nil {
		return nil, RecordAddress{}, 0
	}
	if vt != ValueTypeObject && vt != ValueTypeArray {
		return nil, addr, vt
	}
	old, err := w.reader.getValue(path, addr, vt, tid, GetValueOptions{ChildObjects: true}, 0)
	if err != nil {
		return nil, addr, vt
	}
	return old, addr, vt
}

// classifyAndWrite converts value into the childEntry that should represent
// it at its parent, recursively writing any nested object/array as its own
// record first. When merge is true and an existing container lived at
// oldAddr, its untouched children are preserved and only the keys present
// in value (a map) are changed, with a nil value deleting that key.
func (w *nodeWriter) classifyAndWrite(value any, merge bool, oldAddr RecordAddress, tid string) (childEntry, []AddressRange, error) {
	switch v := value.(type) {
	case nil:
		return childEntry{Location: valueLocationDeleted}, nil, nil

	case map[string]any:
		return w.writeObject(v, merge, oldAddr, tid)

	case []any:
		return w.writeArray(v, merge, oldAddr, tid)

	default:
		vt, val, err := classifyScalarType(value)
		if err != nil {
			return childEntry{}, nil, err
		}
		loc, tiny, inline := valueFitsInline(vt, val, w.maxInline)
		if loc != valueLocationRecord {
			entry := childEntry{ValueType: vt, Location: loc, TinyPayload: tiny, InlinePayload: inline}
			return entry, nil, nil
		}
		addr, freed, err := w.writeScalarRecord(vt, val, oldAddr)
		if err != nil {
			return childEntry{}, nil, err
		}
		return childEntry{ValueType: vt, Location: valueLocationRecord, Address: addr}, freed, nil
	}
}

func classifyScalarType(value any) (ValueType, any, error) {
	switch v := value.(type) {
	case bool:
		return ValueTypeBoolean, v, nil
	case float64:
		return ValueTypeNumber, v, nil
	case int:
		return ValueTypeNumber, float64(v), nil
	case string:
		return ValueTypeString, v, nil
	case []byte:
		return ValueTypeBinary, v, nil
	case Reference:
		return ValueTypeReference, v, nil
	default:
		return 0, nil, &UnsupportedValueError{Reason: "value of unsupported Go type"}
	}
}

// writeObject builds the child-entry list for a map value (merging with any
// existing children when merge is true), writes the resulting body as a new
// record, and returns the entry pointing at it plus storage freed by
// superseded children.
func (w *nodeWriter) writeObject(v map[string]any, merge bool, oldAddr RecordAddress, tid string) (childEntry, []AddressRange, error) {
	children := map[string]childEntry{}
	var freed []AddressRange

	if merge && !oldAddr.IsZero() {
		err := w.reader.getChildren(oldAddr, ValueTypeObject, getChildrenOptions{}, func(info NodeInfo) bool {
			children[info.Key] = entryFromInfo(info)
			return true
		})
		if err != nil {
			return childEntry{}, nil, err
		}
	}

	for key, val := range v {
		old := children[key]
		entry, childFreed, err := w.classifyAndWrite(val, merge, old.Address, tid)
		if err != nil {
			return childEntry{}, nil, err
		}
		if entry.Location == valueLocationRecord && !oldAddr.IsZero() && entry.Address.Equal(oldAddr) {
			return childEntry{}, nil, &CorruptError{Reason: "circular parent/child address"}
		}
		freed = append(freed, childFreed...)
		if old.Location == valueLocationRecord && !old.Address.Equal(entry.Address) {
			freed = append(freed, AddressRange{Page: old.Address.Page, Start: old.Address.Record, Length: 1})
		}
		if entry.Location == valueLocationDeleted {
			delete(children, key)
		} else {
			entry.Key = key
			children[key] = entry
		}
	}

	if len(children) == 0 {
		return childEntry{ValueType: ValueTypeObject, Location: valueLocationTiny}, freed, nil
	}

	addr, writeFreed, err := w.writeContainerBody(children, oldAddr, false)
	if err != nil {
		return childEntry{}, nil, err
	}
	freed = append(freed, writeFreed...)
	return childEntry{ValueType: ValueTypeObject, Location: valueLocationRecord, Address: addr}, freed, nil
}

// writeArray builds the child-entry list for a slice value. Arrays are
// always overwritten wholesale (merge has no meaning for positional array
// semantics beyond what the caller already resolved into v).
func (w *nodeWriter) writeArray(v []any, merge bool, oldAddr RecordAddress, tid string) (childEntry, []AddressRange, error) {
	var freed []AddressRange
	children := map[string]childEntry{}

	for i, val := range v {
		entry, childFreed, err := w.classifyAndWrite(val, false, RecordAddress{}, tid)
		if err != nil {
			return childEntry{}, nil, err
		}
		if entry.Location == valueLocationRecord && !oldAddr.IsZero() && entry.Address.Equal(oldAddr) {
			return childEntry{}, nil, &CorruptError{Reason: "circular parent/child address"}
		}
		freed = append(freed, childFreed...)
		if entry.Location != valueLocationDeleted {
			entry.Key = pathChildIndex("", i)
			children[entry.Key] = entry
		}
	}

	if !oldAddr.IsZero() {
		freed = append(freed, AddressRange{Page: oldAddr.Page, Start: oldAddr.Record, Length: 1})
	}

	if len(children) == 0 {
		return childEntry{ValueType: ValueTypeArray, Location: valueLocationTiny}, freed, nil
	}

	addr, writeFreed, err := w.writeContainerBody(children, RecordAddress{}, true)
	if err != nil {
		return childEntry{}, nil, err
	}
	freed = append(freed, writeFreed...)
	return childEntry{ValueType: ValueTypeArray, Location: valueLocationRecord, Address: addr}, freed, nil
}

func entryFromInfo(info NodeInfo) childEntry {
	if info.Address.IsZero() && (info.Type == ValueTypeObject || info.Type == ValueTypeArray) {
		return childEntry{Key: info.Key, ValueType: info.Type, Location: valueLocationTiny}
	}
	if !info.Address.IsZero() {
		return childEntry{Key: info.Key, ValueType: info.Type, Location: valueLocationRecord, Address: info.Address}
	}
	loc, tiny, inline := valueFitsInline(info.Type, info.Value, 1<<30)
	return childEntry{Key: info.Key, ValueType: info.Type, Location: loc, TinyPayload: tiny, InlinePayload: inline}
}

// writeContainerBody encodes children as a linear list or an embedded tree
// (above treePromotionThreshold entries), and persists the body via _write,
// returning its address.
func (w *nodeWriter) writeContainerBody(children map[string]childEntry, oldAddr RecordAddress, isArray bool) (RecordAddress, []AddressRange, error) {
	sorted := make([]childEntry, 0, len(children))
	for _, e := range children {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	useTree := len(sorted) > w.treePromotionThreshold

	var body []byte
	if useTree {
		blob, err := buildEmbeddedTree(sorted, fillFactorFor(sorted), w.kit)
		if err != nil {
			return RecordAddress{}, nil, err
		}
		body = blob
	} else {
		for _, e := range sorted {
			body = append(body, e.encode(w.kit)...)
		}
	}

	return w._write(oldAddr, recordHeader{KeyTree: useTree}, body)
}

// writeScalarRecord persists a scalar value too large to inline in a newly
// allocated record; oldAddr is handed to _write, which does not reuse it.
func (w *nodeWriter) writeScalarRecord(vt ValueType, value any, oldAddr RecordAddress) (RecordAddress, []AddressRange, error) {
	var body []byte
	switch vt {
	case ValueTypeString:
		body = []byte(value.(string))
	case ValueTypeBinary:
		body = value.([]byte)
	case ValueTypeReference:
		body = []byte(value.(Reference).Path)
	default:
		return RecordAddress{}, nil, &UnsupportedValueError{Reason: "scalar record for type " + vt.String()}
	}

	addr, freed, err := w._write(oldAddr, recordHeader{ValueType: vt}, body)
	return addr, freed, err
}

// _write allocates storage for body, writes the header, chunk table, and
// body across one or more records, and returns the address plus any storage
// it superseded. It always requests a fresh allocation from the Free-Space
// Table; oldAddr's allocation is never written into, even when its size
// matches. Grounded on the teacher's internal `_write` allocation/trim
// logic (IOUtils.go), adapted from single-node trie writes to multi-record
// chunked writes.
func (w *nodeWriter) _write(oldAddr RecordAddress, hdr recordHeader, body []byte) (RecordAddress, []AddressRange, error) {
	recordSize := int(w.pf.recordSize)
	pageSize := int(w.pf.pageSize)

	// reserve room in the first record for header + worst-case chunk table
	// (one type-1 entry, up to a handful of type-2 entries, terminator +
	// its 2-byte last-chunk-length field).
	const maxChunkTableBytes = 3 + 9*8 + 3
	firstCapacity := recordSize - recordHeaderSize - maxChunkTableBytes
	if firstCapacity < 0 {
		firstCapacity = 0
	}

	totalNeeded := 1
	remaining := len(body) - firstCapacity
	if remaining > 0 {
		totalNeeded += (remaining + recordSize - 1) / recordSize
	}

	var freed []AddressRange
	if !oldAddr.IsZero() {
		freed = append(freed, AddressRange{Page: oldAddr.Page, Start: oldAddr.Record, Length: 1})
	}

	// the header record's own range can hold at most pageSize records
	// (one page); any remainder is allocated as further explicit ranges,
	// each itself capped to one page, via the chunk table's type-2 entries.
	firstRangeLen := totalNeeded
	if firstRangeLen > pageSize {
		firstRangeLen = pageSize
	}
	headerAddr := w.fst.allocate(uint16(firstRangeLen), w.pf.allocatePage)

	var explicit []AddressRange
	left := totalNeeded - firstRangeLen
	for left > 0 {
		chunk := left
		if chunk > pageSize {
			chunk = pageSize
		}
		r := w.fst.allocate(uint16(chunk), w.pf.allocatePage)
		explicit = append(explicit, r)
		left -= chunk
	}

	// Encode the table once (with a placeholder last-chunk-length, which
	// never changes the table's own byte size) against the worst-case
	// ExtraFirstRange/Explicit this call produced, to learn its true size.
	table := chunkTable{ExtraFirstRange: uint16(firstRangeLen - 1), Explicit: explicit}
	tableBytes := table.encode()
	if recordHeaderSize+len(tableBytes) > recordSize {
		return RecordAddress{}, freed, &CorruptError{Reason: "chunk table larger than one record"}
	}

	// The worst-case reservation used to size totalNeeded above is usually
	// far more pessimistic than the table this call actually produced
	// (explicit ranges are rare), so totalNeeded may have over-allocated.
	// Per §4.2/§4.9, trim any unneeded trailing records and release them
	// back to the FST before writing, rather than leaving padding records
	// whose "last chunk" length would otherwise have to describe more than
	// one trailing record.
	allRanges := append([]AddressRange{headerAddr}, explicit...)
	actualFirstCapacity := recordSize - recordHeaderSize - len(tableBytes)
	realNeeded := 1
	if over := len(body) - actualFirstCapacity; over > 0 {
		realNeeded += (over + recordSize - 1) / recordSize
	}
	if surplus := totalNeeded - realNeeded; surplus > 0 {
		for idx := len(allRanges) - 1; idx >= 0 && surplus > 0; idx-- {
			r := allRanges[idx]
			if surplus >= int(r.Length) {
				w.fst.release([]AddressRange{r})
				surplus -= int(r.Length)
				allRanges = allRanges[:idx]
			} else {
				keep := int(r.Length) - surplus
				w.fst.release([]AddressRange{{Page: r.Page, Start: r.Start + uint16(keep), Length: uint16(surplus)}})
				allRanges[idx] = AddressRange{Page: r.Page, Start: r.Start, Length: uint16(keep)}
				surplus = 0
			}
		}
		headerAddr = allRanges[0]
		explicit = allRanges[1:]
		totalNeeded = realNeeded
		table = chunkTable{ExtraFirstRange: uint16(headerAddr.Length - 1), Explicit: explicit}
		tableBytes = table.encode()
		actualFirstCapacity = recordSize - recordHeaderSize - len(tableBytes)
	}

	var lastChunkSize uint16
	if totalNeeded == 1 {
		lastChunkSize = uint16(recordHeaderSize + len(tableBytes) + min(len(body), actualFirstCapacity))
	} else {
		consumedByFirst := actualFirstCapacity
		if consumedByFirst > len(body) {
			consumedByFirst = len(body)
		}
		remainder := len(body) - consumedByFirst
		lastChunkSize = uint16(remainder - (totalNeeded-2)*recordSize)
	}
	putUint16(tableBytes[len(tableBytes)-2:], lastChunkSize)

	headerAddress := RecordAddress{Page: headerAddr.Page, Record: headerAddr.Start}

	written := 0
	for i, r := range allRanges {
		for rec := uint16(0); rec < r.Length; rec++ {
			buf := w.bufs.get(recordSize)[:recordSize]
			start := 0
			if i == 0 && rec == 0 {
				buf[0] = encodeRecordHeader(hdr)
				copy(buf[1:], tableBytes)
				start = recordHeaderSize + len(tableBytes)
				n := copy(buf[start:], body[written:min(len(body), written+actualFirstCapacity)])
				written += n
				for j := start + n; j < recordSize; j++ {
					buf[j] = 0
				}
			} else {
				n := copy(buf, body[written:min(len(body), written+recordSize)])
				written += n
				for j := n; j < recordSize; j++ {
					buf[j] = 0
				}
			}
			addr := RecordAddress{Page: r.Page, Record: r.Start + rec}
			err := w.pf.writeRecord(addr, buf)
			w.bufs.put(buf)
			if err != nil {
				return RecordAddress{}, freed, err
			}
		}
	}

	return headerAddress, freed, nil
}

// patchParentChain updates the child entry for path's final segment within
// its parent's record, then recursively repeats for the parent's parent, all
// the way to the file's root, migrating the held write lock up one level at
// a time via moveToParent so the whole chain stays locked continuously.
func (w *nodeWriter) patchParentChain(path string, entry childEntry, tid string, lock *lockRequest) error {
	if path == "" {
		if entry.Location == valueLocationRecord {
			w.pf.setRoot(entry.Address)
		}
		w.locks.release(lock)
		return nil
	}

	parentPath := pathParent(path)
	key := pathKey(path)

	nextLock, err := w.locks.moveToParent(lock)
	if err != nil {
		return err
	}

	parentAddr, parentVt, err := w.reader.locate(parentPath, tid)
	if _, notFound := err.(*NodeNotFoundError); notFound {
		if entry.Location == valueLocationDeleted {
			// nothing to remove under a parent that does not exist
			w.locks.release(nextLock)
			return nil
		}
		// a missing parent is created as an object holding only this child
		parentAddr, parentVt, err = RecordAddress{}, ValueTypeObject, nil
	}
	if err != nil {
		w.locks.release(nextLock)
		return err
	}
	oldParentAddr := parentAddr

	children := map[string]childEntry{}
	if !parentAddr.IsZero() {
		readErr := w.reader.getChildren(parentAddr, parentVt, getChildrenOptions{}, func(info NodeInfo) bool {
			children[info.Key] = entryFromInfo(info)
			return true
		})
		if readErr != nil {
			w.locks.release(nextLock)
			return readErr
		}
	}

	entry.Key = key
	if entry.Location == valueLocationDeleted {
		delete(children, key)
	} else {
		children[key] = entry
	}

	newAddr, freed, err := w.writeContainerBody(children, oldParentAddr, parentVt == ValueTypeArray)
	if err != nil {
		w.locks.release(nextLock)
		return err
	}
	if entry.Location == valueLocationRecord && entry.Address.Equal(newAddr) {
		w.fst.release(freed)
		w.locks.release(nextLock)
		return &CorruptError{Reason: "circular parent/child address"}
	}
	w.fst.release(freed)
	w.cache.update(parentPath, newAddr, parentVt)

	parentEntry := childEntry{ValueType: parentVt, Location: valueLocationRecord, Address: newAddr}
	return w.patchParentChain(parentPath, parentEntry, tid, nextLock)
}
