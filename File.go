package acebase

import (
	"errors"
	"os"
)

// fileMagic identifies an acebase storage file; checked on Open.
var fileMagic = [4]byte{'A', 'c', 'B', '1'}

// fileVersion is the on-disk format version written by this implementation.
const fileVersion uint16 = 1

// headerSize is the fixed number of bytes reserved for the file header,
// ahead of page 0. Kept well clear of the largest header layout below so the
// header never needs its own resize.
const headerSize = 64

// header is the fixed-offset block at the start of the file: magic, version,
// page/record geometry, and pointers to the root record and the key-index
// table's own storage. Grounded on the teacher's metadata block in Meta.go
// (fixed byte offsets for version/root-pointer), widened with the
// page/record geometry and KIT pointer this format needs.
type header struct {
	magic      [4]byte
	version    uint16
	pageSize   uint16 // records per page
	recordSize uint16 // bytes per record
	rootPage   uint32
	rootRecord uint16
	kitPage    uint32
	kitRecord  uint16
	pageCount  uint32
	// nextFreePage is the next page index never before handed out by
	// allocatePage, tracked separately from pageCount (the mmap's current
	// mapped capacity) since a page can be logically assigned before the
	// file has actually been grown to cover it.
	nextFreePage uint32
}

func (h *header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], h.magic[:])
	putUint16(buf[4:6], h.version)
	putUint16(buf[6:8], h.pageSize)
	putUint16(buf[8:10], h.recordSize)
	putUint32(buf[10:14], h.rootPage)
	putUint16(buf[14:16], h.rootRecord)
	putUint32(buf[16:20], h.kitPage)
	putUint16(buf[20:22], h.kitRecord)
	putUint32(buf[22:26], h.pageCount)
	putUint32(buf[26:30], h.nextFreePage)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	var h header
	if len(buf) < headerSize {
		return h, &CorruptError{Path: "", Reason: "file shorter than header"}
	}
	copy(h.magic[:], buf[0:4])
	if h.magic != fileMagic {
		return h, &CorruptError{Path: "", Reason: "bad magic"}
	}
	h.version = getUint16(buf[4:6])
	h.pageSize = getUint16(buf[6:8])
	h.recordSize = getUint16(buf[8:10])
	h.rootPage = getUint32(buf[10:14])
	h.rootRecord = getUint16(buf[14:16])
	h.kitPage = getUint32(buf[16:20])
	h.kitRecord = getUint16(buf[20:22])
	h.pageCount = getUint32(buf[22:26])
	h.nextFreePage = getUint32(buf[26:30])
	return h, nil
}

// growthIncrementPages is how many pages the file grows by at minimum each
// time it needs to extend, mirroring the teacher's resizeMmap doubling
// strategy but expressed in pages instead of raw byte doubling of the
// whole map, since AceBase's unit of allocation is the page.
const growthIncrementPages = 16

// maxGrowthIncrementPages caps a single growth step so a single huge
// allocation request doesn't balloon the file far past what's needed.
const maxGrowthIncrementPages = 4096

// PagedFile is the memory-mapped, page/record-addressed storage file backing
// a Storage instance. Grounded on the teacher's mmap lifecycle (Mari.go's
// open/close/resize sequence) adapted from a single flat byte space to an
// explicit page/record grid.
type PagedFile struct {
	file *os.File
	mmap MMap

	hdr header

	pageSize   uint16
	recordSize uint16
}

// openPagedFile opens (creating if absent) the storage file at path, mapping
// it and reading or initializing its header.
func openPagedFile(path string, pageSize, recordSize uint16) (*PagedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &IoError{Op: "open", Cause: err}
	}

	pf := &PagedFile{file: f, pageSize: pageSize, recordSize: recordSize}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &IoError{Op: "stat", Cause: err}
	}

	if info.Size() == 0 {
		if err := pf.initialize(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := pf.mapExisting(info.Size()); err != nil {
			f.Close()
			return nil, err
		}
	}

	return pf, nil
}

func (pf *PagedFile) initialize() error {
	pf.hdr = header{
		magic:      fileMagic,
		version:    fileVersion,
		pageSize:   pf.pageSize,
		recordSize: pf.recordSize,
	}

	initialSize := int64(headerSize) + int64(growthIncrementPages)*int64(pf.pageSize)*int64(pf.recordSize)
	if err := pf.file.Truncate(initialSize); err != nil {
		return &IoError{Op: "truncate", Cause: err}
	}

	m, err := Map(pf.file, RDWR, 0)
	if err != nil {
		return &IoError{Op: "mmap", Cause: err}
	}
	pf.mmap = m
	pf.hdr.pageCount = growthIncrementPages
	// page 0 is never handed out, so no record is ever stored at (0,0),
	// the address RecordAddress.IsZero treats as "no address"
	pf.hdr.nextFreePage = 1
	pf.writeHeader()
	return pf.mmap.Flush()
}

func (pf *PagedFile) mapExisting(size int64) error {
	m, err := Map(pf.file, RDWR, 0)
	if err != nil {
		return &IoError{Op: "mmap", Cause: err}
	}
	pf.mmap = m

	if len(pf.mmap) < headerSize {
		return &CorruptError{Reason: "file shorter than header"}
	}
	hdr, err := decodeHeader(pf.mmap[:headerSize])
	if err != nil {
		return err
	}
	pf.hdr = hdr
	pf.pageSize = hdr.pageSize
	pf.recordSize = hdr.recordSize
	return nil
}

func (pf *PagedFile) writeHeader() {
	copy(pf.mmap[:headerSize], pf.hdr.encode())
}

// Close flushes and unmaps the file, then closes the descriptor.
func (pf *PagedFile) Close() error {
	var errs []error
	if pf.mmap != nil {
		if err := pf.mmap.Flush(); err != nil {
			errs = append(errs, err)
		}
		if err := pf.mmap.Unmap(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := pf.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &IoError{Op: "close", Cause: errors.Join(errs...)}
	}
	return nil
}

// pageByteSize returns the number of bytes occupied by one page.
func (pf *PagedFile) pageByteSize() int64 {
	return int64(pf.pageSize) * int64(pf.recordSize)
}

// fileOffset computes the absolute byte offset of (page, record).
func (pf *PagedFile) fileOffset(page uint32, record uint16) int64 {
	return int64(headerSize) + int64(page)*pf.pageByteSize() + int64(record)*int64(pf.recordSize)
}

// ensureCapacity grows the mapped file until page is addressable.
func (pf *PagedFile) ensureCapacity(page uint32) error {
	if page < pf.hdr.pageCount {
		return nil
	}

	needed := page + 1 - pf.hdr.pageCount
	grow := uint32(growthIncrementPages)
	for grow < needed {
		grow *= 2
		if grow > maxGrowthIncrementPages {
			grow = needed
			break
		}
	}
	if grow < needed {
		grow = needed
	}

	newPageCount := pf.hdr.pageCount + grow
	newSize := int64(headerSize) + int64(newPageCount)*pf.pageByteSize()

	if err := pf.file.Truncate(newSize); err != nil {
		return &IoError{Op: "truncate", Cause: err}
	}

	if err := pf.mmap.Unmap(); err != nil {
		return &IoError{Op: "munmap", Cause: err}
	}
	m, err := Map(pf.file, RDWR, 0)
	if err != nil {
		return &IoError{Op: "mmap", Cause: err}
	}
	pf.mmap = m
	pf.hdr.pageCount = newPageCount
	pf.writeHeader()
	return nil
}

// readRecord returns a view of one record's raw bytes. The returned slice
// aliases the mmap and must not be retained past the next resize.
func (pf *PagedFile) readRecord(addr RecordAddress) ([]byte, error) {
	if addr.Page >= pf.hdr.pageCount {
		return nil, &CorruptError{Reason: "record address beyond file"}
	}
	off := pf.fileOffset(addr.Page, addr.Record)
	end := off + int64(pf.recordSize)
	if end > int64(len(pf.mmap)) {
		return nil, &CorruptError{Reason: "record address beyond mapping"}
	}
	return pf.mmap[off:end], nil
}

// writeRecord copies data (must be exactly one record's length) into place,
// growing the file first if needed.
func (pf *PagedFile) writeRecord(addr RecordAddress, data []byte) error {
	if len(data) != int(pf.recordSize) {
		return &UnsupportedValueError{Reason: "record payload must equal recordSize"}
	}
	if err := pf.ensureCapacity(addr.Page); err != nil {
		return err
	}
	off := pf.fileOffset(addr.Page, addr.Record)
	copy(pf.mmap[off:off+int64(pf.recordSize)], data)
	return nil
}

// readRange returns a view of a contiguous run of records within one page.
func (pf *PagedFile) readRange(r AddressRange) ([]byte, error) {
	if r.Page >= pf.hdr.pageCount {
		return nil, &CorruptError{Reason: "range beyond file"}
	}
	off := pf.fileOffset(r.Page, r.Start)
	length := int64(r.Length) * int64(pf.recordSize)
	end := off + length
	if end > int64(len(pf.mmap)) {
		return nil, &CorruptError{Reason: "range beyond mapping"}
	}
	return pf.mmap[off:end], nil
}

// setRoot updates the header's root record pointer and persists it.
func (pf *PagedFile) setRoot(addr RecordAddress) {
	pf.hdr.rootPage = addr.Page
	pf.hdr.rootRecord = addr.Record
	pf.writeHeader()
}

func (pf *PagedFile) root() RecordAddress {
	return RecordAddress{Page: pf.hdr.rootPage, Record: pf.hdr.rootRecord}
}

func (pf *PagedFile) setKit(addr RecordAddress) {
	pf.hdr.kitPage = addr.Page
	pf.hdr.kitRecord = addr.Record
	pf.writeHeader()
}

func (pf *PagedFile) kit() RecordAddress {
	return RecordAddress{Page: pf.hdr.kitPage, Record: pf.hdr.kitRecord}
}

// allocatePage hands out the next never-before-used page index. The mmap
// itself is grown lazily by ensureCapacity the first time a record on that
// page is actually written.
func (pf *PagedFile) allocatePage() uint32 {
	page := pf.hdr.nextFreePage
	pf.hdr.nextFreePage++
	pf.writeHeader()
	return page
}

// flush forces mapped bytes back to disk.
func (pf *PagedFile) flush() error {
	if err := pf.mmap.Flush(); err != nil {
		return &IoError{Op: "flush", Cause: err}
	}
	return nil
}
