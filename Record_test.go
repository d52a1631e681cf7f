package acebase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkTableRoundTripSingleRange(t *testing.T) {
	table := chunkTable{ExtraFirstRange: 0, LastChunkSize: 42}
	encoded := table.encode()

	decoded, n, err := decodeChunkTable(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, table.ExtraFirstRange, decoded.ExtraFirstRange)
	require.Equal(t, table.LastChunkSize, decoded.LastChunkSize)
	require.Empty(t, decoded.Explicit)
}

func TestChunkTableRoundTripWithExplicitRanges(t *testing.T) {
	table := chunkTable{
		ExtraFirstRange: 3,
		Explicit: []AddressRange{
			{Page: 1, Start: 0, Length: 10},
			{Page: 2, Start: 5, Length: 2},
		},
		LastChunkSize: 17,
	}
	encoded := table.encode()

	decoded, n, err := decodeChunkTable(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, table.ExtraFirstRange, decoded.ExtraFirstRange)
	require.Equal(t, table.Explicit, decoded.Explicit)
	require.Equal(t, table.LastChunkSize, decoded.LastChunkSize)
}

func TestChunkTableTruncatedTerminatorIsCorrupt(t *testing.T) {
	table := chunkTable{LastChunkSize: 5}
	encoded := table.encode()

	_, _, err := decodeChunkTable(encoded[:len(encoded)-1])
	require.Error(t, err)
	require.IsType(t, &CorruptError{}, err)
}

func TestRecordHeaderRoundTrip(t *testing.T) {
	hdr := recordHeader{KeyTree: true, ReadLock: false, WriteLock: true, ValueType: ValueTypeObject}
	b := encodeRecordHeader(hdr)
	got := decodeRecordHeader(b)
	require.Equal(t, hdr, got)
}

func TestRecordRangesIncludesHeaderAndExplicit(t *testing.T) {
	table := chunkTable{
		ExtraFirstRange: 1,
		Explicit:        []AddressRange{{Page: 9, Start: 0, Length: 4}},
	}
	ranges := table.ranges(RecordAddress{Page: 1, Record: 5})
	require.Equal(t, []AddressRange{
		{Page: 1, Start: 5, Length: 2},
		{Page: 9, Start: 0, Length: 4},
	}, ranges)
}
