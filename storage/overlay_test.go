package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverlayBuffersWritesUntilFlush(t *testing.T) {
	base := NewMemDB()
	require.NoError(t, base.Put([]byte("a"), []byte("1")))

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("b"), []byte("2")))

	// Reads through the overlay see both layers.
	got, err := overlay.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	got, err = overlay.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)

	// The base is untouched until Flush.
	_, err = base.Get([]byte("b"))
	require.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, overlay.Flush())
	got, err = base.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
}

func TestOverlayDiscardDropsEverything(t *testing.T) {
	base := NewMemDB()
	require.NoError(t, base.Put([]byte("a"), []byte("1")))

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("b"), []byte("2")))
	require.NoError(t, overlay.Delete([]byte("a")))
	overlay.Discard()
	require.NoError(t, overlay.Flush())

	got, err := base.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	_, err = base.Get([]byte("b"))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestOverlayShadowsDeletes(t *testing.T) {
	base := NewMemDB()
	require.NoError(t, base.Put([]byte("a"), []byte("1")))

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Delete([]byte("a")))

	_, err := overlay.Get([]byte("a"))
	require.True(t, errors.Is(err, ErrNotFound))
	has, err := overlay.Has([]byte("a"))
	require.NoError(t, err)
	require.False(t, has)

	// Re-writing after a delete resurrects the key.
	require.NoError(t, overlay.Put([]byte("a"), []byte("3")))
	got, err := overlay.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), got)

	require.NoError(t, overlay.Flush())
	got, err = base.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), got)
}

// faultDB refuses batched writes, standing in for a storage fault at commit
// time.
type faultDB struct {
	*MemDB
}

func (db *faultDB) Write(*Batch) error {
	return errors.New("disk fault")
}

func TestOverlayFlushIsAllOrNothing(t *testing.T) {
	base := &faultDB{MemDB: NewMemDB()}
	require.NoError(t, base.Put([]byte("a"), []byte("1")))

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("b"), []byte("2")))
	require.NoError(t, overlay.Put([]byte("c"), []byte("3")))
	require.NoError(t, overlay.Delete([]byte("a")))

	require.Error(t, overlay.Flush())

	// The failed commit left the base exactly as it was.
	got, err := base.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	for _, key := range []string{"b", "c"} {
		_, err := base.Get([]byte(key))
		require.True(t, errors.Is(err, ErrNotFound))
	}

	// The buffer survives the failed flush, so a caller can still discard.
	got, err = overlay.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
	overlay.Discard()
}

// batchCountDB counts how many batched writes reach the base.
type batchCountDB struct {
	*MemDB
	writes int
}

func (db *batchCountDB) Write(batch *Batch) error {
	db.writes++
	return db.MemDB.Write(batch)
}

func TestOverlayFlushCommitsInOneBatch(t *testing.T) {
	base := &batchCountDB{MemDB: NewMemDB()}
	require.NoError(t, base.Put([]byte("a"), []byte("1")))

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("b"), []byte("2")))
	require.NoError(t, overlay.Delete([]byte("a")))
	require.NoError(t, overlay.Flush())

	require.Equal(t, 1, base.writes)
	_, err := base.Get([]byte("a"))
	require.True(t, errors.Is(err, ErrNotFound))
	got, err := base.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("mutable")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'X'

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), got)

	// Mutating the returned slice must not corrupt the stored copy.
	got[0] = 'Y'
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), again)
}
