package acebase

// recordHeaderSize is the number of bytes occupied by the record header: one
// byte of flag bits (top nibble) and value-type (bottom nibble), per
// SPEC_FULL.md's unchanged header-byte layout.
const recordHeaderSize = 1

// recordHeader is the decoded form of a record's leading byte.
type recordHeader struct {
	KeyTree    bool
	ReadLock   bool
	WriteLock  bool
	ValueType  ValueType
}

func encodeRecordHeader(h recordHeader) byte {
	var b byte
	if h.KeyTree {
		b |= recordFlagKeyTree
	}
	if h.ReadLock {
		b |= recordFlagReadLock
	}
	if h.WriteLock {
		b |= recordFlagWriteLock
	}
	b |= byte(h.ValueType) & 0x0F
	return b
}

func decodeRecordHeader(b byte) recordHeader {
	return recordHeader{
		KeyTree:   b&recordFlagKeyTree != 0,
		ReadLock:  b&recordFlagReadLock != 0,
		WriteLock: b&recordFlagWriteLock != 0,
		ValueType: ValueType(b & 0x0F),
	}
}

// chunkTable describes the physical ranges (beyond the implicit first
// record) that together hold one logical record's bytes.
type chunkTable struct {
	// ExtraFirstRange is how many additional records, contiguous with and
	// immediately following the header record on the same page, extend the
	// first range (type 1 entry).
	ExtraFirstRange uint16
	// Explicit is zero or more further ranges living elsewhere (type 2
	// entries).
	Explicit []AddressRange
	// LastChunkSize is the number of meaningful bytes within the
	// allocation's final physical record (header+table+body when the whole
	// allocation is one record, body bytes only otherwise), per the
	// terminator entry's trailing 2-byte field.
	LastChunkSize uint16
}

// encode serializes t as a sequence of typed entries terminated by a type-0
// entry plus its 2-byte last-chunk length.
func (t chunkTable) encode() []byte {
	buf := make([]byte, 0, 16)

	if t.ExtraFirstRange > 0 {
		entry := make([]byte, 3)
		entry[0] = byte(chunkEntryFirstRangeExtra)
		putUint16(entry[1:3], t.ExtraFirstRange)
		buf = append(buf, entry...)
	}

	for _, r := range t.Explicit {
		entry := make([]byte, 9)
		entry[0] = byte(chunkEntryExplicitRange)
		putUint32(entry[1:5], r.Page)
		putUint16(entry[5:7], r.Start)
		putUint16(entry[7:9], r.Length)
		buf = append(buf, entry...)
	}

	term := make([]byte, 3)
	term[0] = byte(chunkEntryTerminator)
	putUint16(term[1:3], t.LastChunkSize)
	buf = append(buf, term...)
	return buf
}

// maxChunkTableEntries bounds how many entries decodeChunkTable will walk
// before treating the data as corrupt, guarding against a missing
// terminator running off the end of a record.
const maxChunkTableEntries = 4096

// decodeChunkTable parses a chunk table starting at data[0], returning the
// table and the number of bytes it occupied.
func decodeChunkTable(data []byte) (chunkTable, int, error) {
	var t chunkTable
	offset := 0

	for i := 0; i < maxChunkTableEntries; i++ {
		if offset >= len(data) {
			return t, 0, &CorruptError{Reason: "chunk table missing terminator"}
		}
		entryType := chunkEntryType(data[offset])

		switch entryType {
		case chunkEntryTerminator:
			if offset+3 > len(data) {
				return t, 0, &CorruptError{Reason: "truncated chunk table terminator"}
			}
			t.LastChunkSize = getUint16(data[offset+1 : offset+3])
			return t, offset + 3, nil

		case chunkEntryFirstRangeExtra:
			if offset+3 > len(data) {
				return t, 0, &CorruptError{Reason: "truncated chunk table entry (type 1)"}
			}
			t.ExtraFirstRange = getUint16(data[offset+1 : offset+3])
			offset += 3

		case chunkEntryExplicitRange:
			if offset+9 > len(data) {
				return t, 0, &CorruptError{Reason: "truncated chunk table entry (type 2)"}
			}
			r := AddressRange{
				Page:   getUint32(data[offset+1 : offset+5]),
				Start:  getUint16(data[offset+5 : offset+7]),
				Length: getUint16(data[offset+7 : offset+9]),
			}
			t.Explicit = append(t.Explicit, r)
			offset += 9

		case chunkEntryContiguousPagesRun:
			return t, 0, &CorruptError{Reason: "reserved chunk table entry type 3"}

		default:
			return t, 0, &CorruptError{Reason: "unknown chunk table entry type"}
		}
	}

	return t, 0, &CorruptError{Reason: "chunk table exceeds maximum entry count"}
}

// ranges converts t plus the header record's own (page, record) into the
// full Allocation.
func (t chunkTable) ranges(headerAddr RecordAddress) []AddressRange {
	first := AddressRange{Page: headerAddr.Page, Start: headerAddr.Record, Length: 1 + t.ExtraFirstRange}
	out := make([]AddressRange, 0, 1+len(t.Explicit))
	out = append(out, first)
	out = append(out, t.Explicit...)
	return out
}

// decodedRecord is the materialized form of one logical record: its header,
// full allocation, and the body bytes following the header and chunk table
// in the first physical record.
type decodedRecord struct {
	Header     recordHeader
	Allocation Allocation
	Body       []byte
}

// readRecord reads and fully materializes the logical record whose header
// lives at addr. The mmap is already fully resident, so "chunked" here means
// the body is reassembled from its ranges rather than read incrementally
// from disk; callers that want to cap how much of Body they inspect per
// pass should use streamBody instead of indexing the full slice directly.
func readRecord(pf *PagedFile, addr RecordAddress) (*decodedRecord, error) {
	first, err := pf.readRecord(addr)
	if err != nil {
		return nil, err
	}
	if len(first) < recordHeaderSize {
		return nil, &CorruptError{Path: "", Reason: "record shorter than header"}
	}

	hdr := decodeRecordHeader(first[0])
	table, consumed, err := decodeChunkTable(first[1:])
	if err != nil {
		return nil, err
	}
	bodyOffsetInFirst := recordHeaderSize + consumed

	ranges := table.ranges(addr)
	alloc := Allocation{Ranges: ranges}

	body := make([]byte, 0, int(pf.recordSize)*alloc.TotalRecords())
	for i, r := range ranges {
		raw, err := pf.readRange(r)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			body = append(body, raw[bodyOffsetInFirst:]...)
		} else {
			body = append(body, raw...)
		}
	}

	// Per the chunk table's terminator field, only LastChunkSize bytes of
	// the allocation's final physical record are meaningful; everything
	// read above assumed full-record-length ranges, so trim the tail here.
	// bodyLen = totalByteLength - bodyOffsetInFirst, where totalByteLength =
	// (totalRecords-1)*recordSize + lastChunkSize, per SPEC_FULL.md's
	// unchanged formula.
	recordSize := int(pf.recordSize)
	bodyLen := (alloc.TotalRecords()-1)*recordSize - bodyOffsetInFirst + int(table.LastChunkSize)
	if bodyLen < 0 {
		bodyLen = 0
	}
	if bodyLen > len(body) {
		bodyLen = len(body)
	}
	body = body[:bodyLen]

	return &decodedRecord{Header: hdr, Allocation: alloc, Body: body}, nil
}

// maxStreamChunkRecords bounds how many records' worth of body bytes
// streamBody hands to its callback at a time, matching SPEC_FULL.md's
// chunked-streaming design even though the backing store is fully mapped.
const maxStreamChunkRecords = 200

// streamBody invokes fn with successive slices of body, each drawn from up
// to maxStreamChunkRecords records' worth of bytes, until the body is
// exhausted or fn returns false.
func streamBody(recordSize int, body []byte, fn func(chunk []byte) bool) {
	step := recordSize * maxStreamChunkRecords
	if step <= 0 {
		step = len(body)
	}
	for offset := 0; offset < len(body); offset += step {
		end := offset + step
		if end > len(body) {
			end = len(body)
		}
		if !fn(body[offset:end]) {
			return
		}
	}
}
