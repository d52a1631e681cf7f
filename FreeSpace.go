package acebase

import "sync"

// freeRange is one run of free records within a page, kept in a page's
// free-list sorted by Start.
type freeRange struct {
	Start  uint16
	Length uint16
}

// freeSpaceTable tracks, per page, the runs of records available for reuse.
// Single-writer, so a plain mutex guards it rather than the teacher's
// lock-free CAS retry loop (grounded on SPEC_FULL.md's concurrency model,
// which is explicit that AceBase's book-keeping structures are coarse-mutex
// guarded, not lock-free, unlike the teacher's trie).
type freeSpaceTable struct {
	mu sync.Mutex

	byPage map[uint32][]freeRange

	pageSize uint16

	releases  uint64
	allocated uint64
}

func newFreeSpaceTable(pageSize uint16) *freeSpaceTable {
	return &freeSpaceTable{
		byPage:   make(map[uint32][]freeRange),
		pageSize: pageSize,
	}
}

// FreeSpaceStats is a read-only snapshot of the free-space table, echoing the
// teacher's PrintChildren debug utility but returning structured data.
type FreeSpaceStats struct {
	Pages           int
	FreeRecords     int
	TotalAllocated  uint64
	TotalReleased   uint64
}

func (t *freeSpaceTable) stats() FreeSpaceStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	free := 0
	for _, ranges := range t.byPage {
		for _, r := range ranges {
			free += int(r.Length)
		}
	}
	return FreeSpaceStats{
		Pages:          len(t.byPage),
		FreeRecords:    free,
		TotalAllocated: t.allocated,
		TotalReleased:  t.releases,
	}
}

// allocate finds nRecords contiguous records, preferring the best (smallest
// sufficient) existing free run; the caller supplies nextPage to append a
// fresh page when no free run fits.
func (t *freeSpaceTable) allocate(nRecords uint16, nextPage func() uint32) AddressRange {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.allocated += uint64(nRecords)

	bestPage := uint32(0)
	bestIdx := -1
	bestLen := uint16(0)
	found := false

	for page, ranges := range t.byPage {
		for i, r := range ranges {
			if r.Length < nRecords {
				continue
			}
			if !found || r.Length < bestLen {
				found = true
				bestPage = page
				bestIdx = i
				bestLen = r.Length
			}
		}
	}

	if !found {
		page := nextPage()
		result := AddressRange{Page: page, Start: 0, Length: nRecords}
		if nRecords < t.pageSize {
			t.byPage[page] = []freeRange{{Start: nRecords, Length: t.pageSize - nRecords}}
		}
		return result
	}

	ranges := t.byPage[bestPage]
	chosen := ranges[bestIdx]
	result := AddressRange{Page: bestPage, Start: chosen.Start, Length: nRecords}

	remaining := chosen.Length - nRecords
	if remaining == 0 {
		ranges = append(ranges[:bestIdx], ranges[bestIdx+1:]...)
	} else {
		ranges[bestIdx] = freeRange{Start: chosen.Start + nRecords, Length: remaining}
	}
	if len(ranges) == 0 {
		delete(t.byPage, bestPage)
	} else {
		t.byPage[bestPage] = ranges
	}

	return result
}

// release returns ranges to the free-space table, coalescing with adjacent
// free runs on the same page.
func (t *freeSpaceTable) release(ranges []AddressRange) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range ranges {
		t.releases += uint64(r.Length)
		t.releaseOne(r)
	}
}

func (t *freeSpaceTable) releaseOne(r AddressRange) {
	list := t.byPage[r.Page]
	list = append(list, freeRange{Start: r.Start, Length: r.Length})

	// sort by Start (insertion sort; lists are short in practice)
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j-1].Start > list[j].Start; j-- {
			list[j-1], list[j] = list[j], list[j-1]
		}
	}

	merged := list[:0]
	for _, cur := range list {
		if len(merged) > 0 {
			last := merged[len(merged)-1]
			if last.Start+last.Length == cur.Start {
				merged[len(merged)-1] = freeRange{Start: last.Start, Length: last.Length + cur.Length}
				continue
			}
		}
		merged = append(merged, cur)
	}

	t.byPage[r.Page] = merged
}
