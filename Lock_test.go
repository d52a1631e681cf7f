package acebase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockManagerSamePathExclusion(t *testing.T) {
	m := newLockManager(0)

	writer, err := m.lock("a/b", "tid1", true, lockOptions{})
	require.NoError(t, err)

	grantedCh := make(chan struct{})
	go func() {
		_, err := m.lock("a/b", "tid2", true, lockOptions{})
		require.NoError(t, err)
		close(grantedCh)
	}()

	select {
	case <-grantedCh:
		t.Fatal("second writer should not have been granted while the first holds the lock")
	case <-time.After(50 * time.Millisecond):
	}

	m.release(writer)
	select {
	case <-grantedCh:
	case <-time.After(time.Second):
		t.Fatal("second writer was never granted after release")
	}
}

func TestLockManagerDescendantConflictsWithAncestorWriter(t *testing.T) {
	m := newLockManager(0)

	parent, err := m.lock("a", "tid1", true, lockOptions{})
	require.NoError(t, err)

	grantedCh := make(chan struct{})
	go func() {
		_, err := m.lock("a/b/c", "tid2", false, lockOptions{})
		require.NoError(t, err)
		close(grantedCh)
	}()

	select {
	case <-grantedCh:
		t.Fatal("a descendant read lock must wait behind an ancestor's write lock")
	case <-time.After(50 * time.Millisecond):
	}

	m.release(parent)
	select {
	case <-grantedCh:
	case <-time.After(time.Second):
		t.Fatal("descendant lock was never granted after the ancestor released")
	}
}

func TestLockManagerDisjointPathsDoNotConflict(t *testing.T) {
	m := newLockManager(0)

	a, err := m.lock("one", "tid1", true, lockOptions{})
	require.NoError(t, err)
	defer m.release(a)

	b, err := m.lock("two", "tid2", true, lockOptions{})
	require.NoError(t, err)
	defer m.release(b)
}

func TestLockManagerSameTidReentrant(t *testing.T) {
	m := newLockManager(0)

	outer, err := m.lock("x", "tid1", true, lockOptions{})
	require.NoError(t, err)
	defer m.release(outer)

	inner, err := m.lock("x/y", "tid1", true, lockOptions{})
	require.NoError(t, err)
	m.release(inner)
}

func TestLockManagerExpiryPoisonsTid(t *testing.T) {
	m := newLockManager(10 * time.Millisecond)

	_, err := m.lock("p", "tid1", true, lockOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := m.lock("p", "tid1", true, lockOptions{})
		_, expired := err.(*LockExpiredError)
		return expired
	}, time.Second, 5*time.Millisecond)
}
