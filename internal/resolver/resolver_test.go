package resolver

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"mediaserver/internal/mediaerr"
	"mediaserver/internal/store"
)

type fakeVO struct {
	vo      *store.VirtualObject
	objects []*store.Object
}

func (f *fakeVO) FindByPaths(_ context.Context, _ []string) (*store.VirtualObject, error) {
	if f.vo == nil {
		return nil, mediaerr.NotFoundf("no vo")
	}
	return f.vo, nil
}

func (f *fakeVO) RelatedObjects(_ context.Context, _ *store.VirtualObject) ([]*store.Object, error) {
	return f.objects, nil
}

func dims(w, h int32) (sql.NullInt32, sql.NullInt32) {
	return sql.NullInt32{Int32: w, Valid: true}, sql.NullInt32{Int32: h, Valid: true}
}

func i32p(v int32) *int32 { return &v }

func TestResolveNoVirtualObjectReturnsNilNoError(t *testing.T) {
	r := New(&fakeVO{})
	obj, err := r.Resolve(context.Background(), Query{Paths: []string{"x"}})
	require.NoError(t, err)
	require.Nil(t, obj)
}

func TestResolveNoRelatedObjectsReturnsNil(t *testing.T) {
	r := New(&fakeVO{vo: &store.VirtualObject{ID: 1}})
	obj, err := r.Resolve(context.Background(), Query{Paths: []string{"x"}})
	require.NoError(t, err)
	require.Nil(t, obj)
}

func TestResolveFiltersByContentType(t *testing.T) {
	o1 := &store.Object{ID: 1, ContentType: "image/png"}
	o2 := &store.Object{ID: 2, ContentType: "image/jpeg"}
	r := New(&fakeVO{vo: &store.VirtualObject{ID: 1}, objects: []*store.Object{o1, o2}})
	obj, err := r.Resolve(context.Background(), Query{Paths: []string{"x"}, ContentType: "image/jpeg"})
	require.NoError(t, err)
	require.Equal(t, int64(2), obj.ID)
}

func TestResolveExactDimensionMatchWins(t *testing.T) {
	o1 := &store.Object{ID: 1}
	o1.Width, o1.Height = dims(100, 100)
	o2 := &store.Object{ID: 2}
	o2.Width, o2.Height = dims(256, 256)
	o3 := &store.Object{ID: 3}
	o3.Width, o3.Height = dims(512, 512)

	r := New(&fakeVO{vo: &store.VirtualObject{ID: 1}, objects: []*store.Object{o1, o2, o3}})
	obj, err := r.Resolve(context.Background(), Query{Paths: []string{"x"}, Width: i32p(256), Height: i32p(256)})
	require.NoError(t, err)
	require.Equal(t, int64(2), obj.ID)
}

func TestResolvePrefersSmallestCandidateAtLeastAsBigAsRequested(t *testing.T) {
	small := &store.Object{ID: 1}
	small.Width, small.Height = dims(100, 100)
	medium := &store.Object{ID: 2}
	medium.Width, medium.Height = dims(300, 300)
	large := &store.Object{ID: 3}
	large.Width, large.Height = dims(1000, 1000)

	r := New(&fakeVO{vo: &store.VirtualObject{ID: 1}, objects: []*store.Object{small, large, medium}})
	obj, err := r.Resolve(context.Background(), Query{Paths: []string{"x"}, Width: i32p(256), Height: i32p(256)})
	require.NoError(t, err)
	require.Equal(t, int64(2), obj.ID, "expected the 300x300 candidate: smallest one still >= requested size")
}

// No candidate reaches the requested size, so no arm of closer fires and
// the incumbent (the first object in fold order) is kept.
func TestResolveKeepsIncumbentWhenNoneBigEnough(t *testing.T) {
	o1 := &store.Object{ID: 1}
	o1.Width, o1.Height = dims(50, 50)
	o2 := &store.Object{ID: 2}
	o2.Width, o2.Height = dims(100, 100)

	r := New(&fakeVO{vo: &store.VirtualObject{ID: 1}, objects: []*store.Object{o1, o2}})
	obj, err := r.Resolve(context.Background(), Query{Paths: []string{"x"}, Width: i32p(256), Height: i32p(256)})
	require.NoError(t, err)
	require.Equal(t, int64(1), obj.ID)
}

// P6: when exactly one candidate has (w, h) == (req_w, req_h), it is
// selected regardless of fold order — the relation is not total, but this
// one case is, since every other arm's guard excludes the exact match.
func TestResolveExactMatchWinsRegardlessOfFoldOrder(t *testing.T) {
	exact := &store.Object{ID: 1}
	exact.Width, exact.Height = dims(256, 256)
	small := &store.Object{ID: 2}
	small.Width, small.Height = dims(100, 100)
	large := &store.Object{ID: 3}
	large.Width, large.Height = dims(1000, 1000)

	orders := [][]*store.Object{
		{exact, small, large},
		{small, exact, large},
		{large, small, exact},
		{small, large, exact},
	}
	for _, order := range orders {
		r := New(&fakeVO{vo: &store.VirtualObject{ID: 1}, objects: order})
		obj, err := r.Resolve(context.Background(), Query{Paths: []string{"x"}, Width: i32p(256), Height: i32p(256)})
		require.NoError(t, err)
		require.Equal(t, int64(1), obj.ID)
	}
}
