package acebase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "acebase.db")
	opts := NewDefaultOptions(path)
	s, err := Open(opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorageSetGetRoundTrip(t *testing.T) {
	s := newTestStorage(t)
	tid := s.NewTransactionID()

	require.NoError(t, s.Set("users/alice", map[string]any{
		"name": "Alice",
		"age":  float64(30),
	}, tid))

	got, err := s.GetValue("users/alice", tid, GetValueOptions{ChildObjects: true})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "Alice", "age": float64(30)}, got)
}

func TestStorageMergeUpdate(t *testing.T) {
	s := newTestStorage(t)
	tid := s.NewTransactionID()

	require.NoError(t, s.Set("users/bob", map[string]any{"name": "Bob", "age": float64(20)}, tid))
	require.NoError(t, s.Update("users/bob", map[string]any{"age": float64(21)}, tid))

	got, err := s.GetValue("users/bob", tid, GetValueOptions{ChildObjects: true})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "Bob", "age": float64(21)}, got)
}

func TestStorageRemove(t *testing.T) {
	s := newTestStorage(t)
	tid := s.NewTransactionID()

	require.NoError(t, s.Set("users/carl", map[string]any{"name": "Carl"}, tid))
	require.NoError(t, s.Remove("users/carl", tid))

	exists, err := s.Exists("users/carl", tid)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestStorageLargeValuePromotesToExternalRecord(t *testing.T) {
	s := newTestStorage(t)
	tid := s.NewTransactionID()

	big := make([]byte, 1024)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, s.Set("blobs/big", big, tid))

	got, err := s.GetValue("blobs/big", tid, GetValueOptions{})
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestStorageTreePromotionAboveThreshold(t *testing.T) {
	s := newTestStorage(t)
	tid := s.NewTransactionID()

	obj := map[string]any{}
	for i := 0; i < DefaultTreePromotionThreshold+5; i++ {
		obj[pathChildIndex("k", i)] = float64(i)
	}
	require.NoError(t, s.Set("many", obj, tid))

	for i := 0; i < DefaultTreePromotionThreshold+5; i++ {
		info, err := s.GetChildInfo("many", pathChildIndex("k", i), tid)
		require.NoError(t, err)
		require.True(t, info.Exists)
		require.Equal(t, float64(i), info.Value)
	}
}

func TestStoragePushGeneratesOrderedKeys(t *testing.T) {
	s := newTestStorage(t)
	tid := s.NewTransactionID()

	k1, err := s.Push("events", map[string]any{"n": float64(1)}, tid)
	require.NoError(t, err)
	k2, err := s.Push("events", map[string]any{"n": float64(2)}, tid)
	require.NoError(t, err)

	require.Len(t, k1, 24)
	require.Len(t, k2, 24)
	require.NotEqual(t, k1, k2)
	require.LessOrEqual(t, k1[:8], k2[:8])
}

func TestStorageTransactionAppliesReturnedValue(t *testing.T) {
	s := newTestStorage(t)
	tid := s.NewTransactionID()
	require.NoError(t, s.Set("counters/hits", float64(1), tid))

	err := s.Transaction("counters/hits", func(current any) (any, bool, error) {
		n, _ := current.(float64)
		return n + 1, true, nil
	})
	require.NoError(t, err)

	got, err := s.GetValue("counters/hits", tid, GetValueOptions{})
	require.NoError(t, err)
	require.Equal(t, float64(2), got)
}

func TestStorageTransactionCancelLeavesValueUnchanged(t *testing.T) {
	s := newTestStorage(t)
	tid := s.NewTransactionID()
	require.NoError(t, s.Set("counters/cancelled", float64(5), tid))

	err := s.Transaction("counters/cancelled", func(current any) (any, bool, error) {
		return nil, false, nil
	})
	require.NoError(t, err)

	got, err := s.GetValue("counters/cancelled", tid, GetValueOptions{})
	require.NoError(t, err)
	require.Equal(t, float64(5), got)
}

func TestStorageMatchesFiltersChildren(t *testing.T) {
	s := newTestStorage(t)
	tid := s.NewTransactionID()

	require.NoError(t, s.Set("people/a", map[string]any{"age": float64(30)}, tid))
	require.NoError(t, s.Set("people/b", map[string]any{"age": float64(12)}, tid))

	var matched []string
	err := s.Matches("people", tid, []Criterion{{Key: "age", Op: ">=", Value: float64(18)}}, func(info NodeInfo) bool {
		matched = append(matched, info.Key)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, matched)
}

func TestStorageReopenPersistsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acebase.db")
	opts := NewDefaultOptions(path)

	s, err := Open(opts, nil)
	require.NoError(t, err)
	tid := s.NewTransactionID()
	require.NoError(t, s.Set("persisted/value", "hello", tid))
	require.NoError(t, s.Close())

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	s2, err := Open(opts, nil)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetValue("persisted/value", s2.NewTransactionID(), GetValueOptions{})
	require.NoError(t, err)
	require.Equal(t, "hello", got)
}
