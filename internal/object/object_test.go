package object

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mediaserver/internal/mediaerr"
	"mediaserver/internal/store"
)

// fakeStore is a minimal in-memory stand-in for store.DB, scoped to what
// the object service touches. Kept in the test file rather than a shared
// testutil package since each service's fake only needs its own slice of
// the schema.
type fakeStore struct {
	byHash map[string]*store.Object
	nextID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{byHash: map[string]*store.Object{}, nextID: 1}
}

func (f *fakeStore) FindObjectByHash(_ context.Context, hash string) (*store.Object, error) {
	if o, ok := f.byHash[hash]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, mediaerr.NotFoundf("object not found")
}

func (f *fakeStore) FindObjectByID(_ context.Context, id int64) (*store.Object, error) {
	for _, o := range f.byHash {
		if o.ID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, mediaerr.NotFoundf("object not found")
}

func (f *fakeStore) FindObjectByFilePath(_ context.Context, path string) (*store.Object, error) {
	for _, o := range f.byHash {
		if o.FilePath == path {
			cp := *o
			return &cp, nil
		}
	}
	return nil, mediaerr.NotFoundf("object not found")
}

func (f *fakeStore) InsertObject(_ context.Context, n store.NewObject) (*store.Object, error) {
	if _, ok := f.byHash[n.ContentHash]; ok {
		return nil, mediaerr.Conflictf("object with content_hash %q already exists", n.ContentHash)
	}
	o := &store.Object{
		ID:              f.nextID,
		ContentHash:     n.ContentHash,
		ContentType:     n.ContentType,
		ContentEncoding: n.ContentEncoding,
		Length:          n.Length,
		FilePath:        n.FilePath,
		Created:         1,
		Modified:        1,
		Width:           n.Width,
		Height:          n.Height,
		ContentHeaders:  n.ContentHeaders,
	}
	f.nextID++
	f.byHash[n.ContentHash] = o
	return o, nil
}

func (f *fakeStore) UpdateObject(_ context.Context, id int64, u store.ObjectUpdate) (*store.Object, error) {
	for _, o := range f.byHash {
		if o.ID == id {
			o.ContentType = u.ContentType
			o.ContentEncoding = u.ContentEncoding
			o.Modified = 2
			if u.Width != nil {
				o.Width.Int32, o.Width.Valid = *u.Width, true
			}
			if u.Height != nil {
				o.Height.Int32, o.Height.Valid = *u.Height, true
			}
			cp := *o
			return &cp, nil
		}
	}
	return nil, mediaerr.NotFoundf("object not found")
}

func i32(v int32) *int32 { return &v }

func TestUpsertObjectInsertsNewRow(t *testing.T) {
	fs := newFakeStore()
	svc := NewWithStore(fs)

	o, tag, err := svc.UpsertObject(context.Background(), Command{
		ContentHash:     "abc123",
		ContentType:     "image/png",
		ContentEncoding: "identity",
		Length:          10,
		FilePath:        "/blobs/abc123",
		Width:           i32(100),
		Height:          i32(200),
	})
	require.NoError(t, err)
	require.Equal(t, TagInserted, tag)
	require.Equal(t, int64(1), o.ID)
	require.EqualValues(t, 100, o.Width.Int32)
}

func TestUpsertObjectTwiceSameHashReturnsSameIDAndUpdated(t *testing.T) {
	fs := newFakeStore()
	svc := NewWithStore(fs)
	ctx := context.Background()

	first, tag1, err := svc.UpsertObject(ctx, Command{
		ContentHash: "h1", ContentType: "image/png", ContentEncoding: "identity",
		Length: 5, FilePath: "/blobs/h1", Width: i32(10), Height: i32(20),
	})
	require.NoError(t, err)
	require.Equal(t, TagInserted, tag1)

	second, tag2, err := svc.UpsertObject(ctx, Command{
		ContentHash: "h1", ContentType: "image/jpeg", ContentEncoding: "gzip",
		Length: 5, FilePath: "/blobs/h1",
	})
	require.NoError(t, err)
	require.Equal(t, TagUpdated, tag2)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "image/jpeg", second.ContentType)
	// Dimensions omitted on the second call must not be cleared.
	require.EqualValues(t, 10, second.Width.Int32)
	require.EqualValues(t, 20, second.Height.Int32)
}

func TestUpsertObjectDimensionsOverwriteWhenSupplied(t *testing.T) {
	fs := newFakeStore()
	svc := NewWithStore(fs)
	ctx := context.Background()

	_, _, err := svc.UpsertObject(ctx, Command{
		ContentHash: "h2", ContentType: "image/png", ContentEncoding: "identity",
		Length: 5, FilePath: "/blobs/h2", Width: i32(10), Height: i32(20),
	})
	require.NoError(t, err)

	updated, _, err := svc.UpsertObject(ctx, Command{
		ContentHash: "h2", ContentType: "image/png", ContentEncoding: "identity",
		Length: 5, FilePath: "/blobs/h2", Width: i32(99), Height: i32(88),
	})
	require.NoError(t, err)
	require.EqualValues(t, 99, updated.Width.Int32)
	require.EqualValues(t, 88, updated.Height.Int32)
}
