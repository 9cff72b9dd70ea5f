package btree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mgtoolkit/mgstore/bucket"
	"github.com/mgtoolkit/mgstore/fileset"
	"github.com/mgtoolkit/mgstore/freemap"
)

const testPageSize = 4096

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	fs, err := fileset.Open(t.TempDir())
	require.NoError(t, err)
	fm := freemap.New(int64(testPageSize), int64(testPageSize)*1024)

	tr, err := New(fs, fm, "vocab", testPageSize, bucket.LeafStrategy)
	require.NoError(t, err)
	return tr
}

func TestPutGetRoundTrip(t *testing.T) {
	tr := newTestTree(t)

	require.NoError(t, tr.Put([]byte("banana"), []byte("v1")))
	require.NoError(t, tr.Put([]byte("apple"), []byte("v2")))
	require.NoError(t, tr.Put([]byte("cherry"), []byte("v3")))

	v, ok, err := tr.Get([]byte("apple"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", string(v))

	_, ok, err = tr.Get([]byte("durian"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPutTriggersLeafSplit(t *testing.T) {
	tr := newTestTree(t)

	n := 400
	for i := 0; i < n; i++ {
		term := fmt.Sprintf("term-%05d", i)
		require.NoError(t, tr.Put([]byte(term), []byte(term)))
	}
	require.Greater(t, tr.Levels(), 1)
	require.Equal(t, n, tr.Size())

	for i := 0; i < n; i++ {
		term := fmt.Sprintf("term-%05d", i)
		v, ok, err := tr.Get([]byte(term))
		require.NoError(t, err)
		require.True(t, ok, "missing %s", term)
		require.Equal(t, term, string(v))
	}
}

func TestAppendRequiresSortedOrder(t *testing.T) {
	tr := newTestTree(t)

	n := 300
	for i := 0; i < n; i++ {
		term := fmt.Sprintf("k%05d", i)
		require.NoError(t, tr.Append([]byte(term), []byte(term)))
	}
	require.Equal(t, n, tr.Size())

	it, err := tr.IterAll()
	require.NoError(t, err)
	count := 0
	for {
		term, value, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.Equal(t, string(term), string(value))
		count++
	}
	require.Equal(t, n, count)
}

func TestRemove(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.Put([]byte("a"), []byte("1")))
	require.NoError(t, tr.Put([]byte("b"), []byte("2")))

	ok, err := tr.Remove([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = tr.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = tr.Remove([]byte("a"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUpdateGrowsPayload(t *testing.T) {
	tr := newTestTree(t)
	require.NoError(t, tr.Put([]byte("key"), []byte("short")))
	require.NoError(t, tr.Update([]byte("key"), []byte("a much longer replacement value")))

	v, ok, err := tr.Get([]byte("key"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a much longer replacement value", string(v))
}

func TestIterFromPositionsAtOrAfterTerm(t *testing.T) {
	tr := newTestTree(t)
	for _, term := range []string{"a", "c", "e", "g"} {
		require.NoError(t, tr.Put([]byte(term), []byte(term)))
	}

	it, err := tr.IterFrom([]byte("d"))
	require.NoError(t, err)
	term, _, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "e", string(term))
}

func TestLoadQuickReopensTree(t *testing.T) {
	dir := t.TempDir()
	fs, err := fileset.Open(dir)
	require.NoError(t, err)
	fm := freemap.New(int64(testPageSize), int64(testPageSize)*1024)

	tr, err := New(fs, fm, "vocab", testPageSize, bucket.LeafStrategy)
	require.NoError(t, err)

	n := 300
	for i := 0; i < n; i++ {
		term := fmt.Sprintf("t%05d", i)
		require.NoError(t, tr.Put([]byte(term), []byte(term)))
	}
	require.NoError(t, tr.Flush())
	root := tr.Root()

	// Fresh freemap, as a reopening process actually constructs: it has
	// no record of anything fm above ever allocated.
	reopenFm := freemap.New(int64(testPageSize), int64(testPageSize)*1024)
	reopened, err := LoadQuick(fs, reopenFm, "vocab", testPageSize, bucket.LeafStrategy, root, n)
	require.NoError(t, err)
	require.Equal(t, tr.Levels(), reopened.Levels())
	require.Equal(t, n, reopened.Size())

	v, ok, err := reopened.Get([]byte("t00042"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "t00042", string(v))
}

func TestLoadVerifiesIntegrity(t *testing.T) {
	dir := t.TempDir()
	fs, err := fileset.Open(dir)
	require.NoError(t, err)
	fm := freemap.New(int64(testPageSize), int64(testPageSize)*1024)

	tr, err := New(fs, fm, "vocab", testPageSize, bucket.LeafStrategy)
	require.NoError(t, err)
	for i := 0; i < 250; i++ {
		term := fmt.Sprintf("v%05d", i)
		require.NoError(t, tr.Put([]byte(term), []byte(term)))
	}
	require.NoError(t, tr.Flush())
	root := tr.Root()

	reopenFm := freemap.New(int64(testPageSize), int64(testPageSize)*1024)
	reopened, err := Load(fs, reopenFm, "vocab", testPageSize, bucket.LeafStrategy, root)
	require.NoError(t, err)
	require.Equal(t, 250, reopened.Size())
}

// TestReopenWithFreshFreemapSurvivesSubsequentSplit mirrors the real CLI
// pattern (mgstore-impact and mgstore-verify both construct a
// brand-new freemap.New before reopening an on-disk tree): it
// reopens with a freemap that has never seen any of the
// tree's existing pages, then keeps writing past the point of forcing
// new splits. If Load failed to reserve every on-disk page location,
// splitImage's unhinted Allocate call would eventually hand back an
// address already occupied by one of them, and one of the original
// terms below would come back corrupted or missing.
func TestReopenWithFreshFreemapSurvivesSubsequentSplit(t *testing.T) {
	dir := t.TempDir()
	fs, err := fileset.Open(dir)
	require.NoError(t, err)
	fm := freemap.New(int64(testPageSize), int64(testPageSize)*1024)

	tr, err := New(fs, fm, "vocab", testPageSize, bucket.LeafStrategy)
	require.NoError(t, err)

	n := 300
	for i := 0; i < n; i++ {
		term := fmt.Sprintf("o%05d", i)
		require.NoError(t, tr.Put([]byte(term), []byte(term)))
	}
	require.NoError(t, tr.Flush())
	root := tr.Root()
	originalPages := tr.Pages()

	reopenFm := freemap.New(int64(testPageSize), int64(testPageSize)*1024)
	reopened, err := Load(fs, reopenFm, "vocab", testPageSize, bucket.LeafStrategy, root)
	require.NoError(t, err)
	require.Equal(t, n, reopened.Size())
	require.Equal(t, originalPages, reopened.Pages(), "Load must reserve every on-disk page, not just discover new ones on next alloc")

	more := 300
	for i := 0; i < more; i++ {
		term := fmt.Sprintf("p%05d", i)
		require.NoError(t, reopened.Put([]byte(term), []byte(term)))
	}
	require.Greater(t, reopened.Pages(), originalPages, "the additional puts must have triggered at least one split")
	require.NoError(t, reopened.Flush())

	for i := 0; i < n; i++ {
		term := fmt.Sprintf("o%05d", i)
		v, ok, err := reopened.Get([]byte(term))
		require.NoError(t, err)
		require.True(t, ok, "pre-reopen term %s lost or overwritten by a colliding page", term)
		require.Equal(t, term, string(v))
	}
	for i := 0; i < more; i++ {
		term := fmt.Sprintf("p%05d", i)
		v, ok, err := reopened.Get([]byte(term))
		require.NoError(t, err)
		require.True(t, ok, "post-reopen term %s missing", term)
		require.Equal(t, term, string(v))
	}
}
