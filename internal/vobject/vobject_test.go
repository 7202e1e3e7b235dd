package vobject

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"mediaserver/internal/mediaerr"
	"mediaserver/internal/store"
)

type fakeStore struct {
	vos       map[string]*store.VirtualObject
	relations map[int64]map[int64]bool // voID -> set of objectID
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		vos:       map[string]*store.VirtualObject{},
		relations: map[int64]map[int64]bool{},
		nextID:    1,
	}
}

func (f *fakeStore) FindVirtualObjectByPath(_ context.Context, path string) (*store.VirtualObject, error) {
	if vo, ok := f.vos[path]; ok {
		cp := *vo
		return &cp, nil
	}
	return nil, mediaerr.NotFoundf("virtual object not found")
}

func (f *fakeStore) FindVirtualObjectByPaths(ctx context.Context, paths []string) (*store.VirtualObject, error) {
	var best *store.VirtualObject
	for _, p := range paths {
		if vo, ok := f.vos[p]; ok {
			if best == nil || len(vo.ObjectPath) > len(best.ObjectPath) {
				cp := *vo
				best = &cp
			}
		}
	}
	if best == nil {
		return nil, mediaerr.NotFoundf("no candidate path matched")
	}
	return best, nil
}

func (f *fakeStore) FindOrCreateVirtualObject(_ context.Context, path string) (*store.VirtualObject, error) {
	if vo, ok := f.vos[path]; ok {
		cp := *vo
		return &cp, nil
	}
	vo := &store.VirtualObject{ID: f.nextID, ObjectPath: path}
	f.nextID++
	f.vos[path] = vo
	cp := *vo
	return &cp, nil
}

func (f *fakeStore) UpdateVirtualObject(_ context.Context, id int64, u store.VirtualObjectUpdate) (*store.VirtualObject, error) {
	for _, vo := range f.vos {
		if vo.ID == id {
			if u.DefaultJPEGBackground != nil {
				vo.DefaultJPEGBackground = sql.NullString{String: *u.DefaultJPEGBackground, Valid: true}
			}
			if u.DerivedVirtualObjectID != nil {
				vo.DerivedVirtualObjectID = sql.NullInt64{Int64: *u.DerivedVirtualObjectID, Valid: true}
			}
			if u.PrimaryObjectID != nil {
				vo.PrimaryObjectID = sql.NullInt64{Int64: *u.PrimaryObjectID, Valid: true}
			}
			if u.Transforms != nil {
				vo.Transforms = sql.NullString{String: *u.Transforms, Valid: true}
			}
			if u.TransformsHash != nil {
				vo.TransformsHash = sql.NullString{String: *u.TransformsHash, Valid: true}
			}
			cp := *vo
			return &cp, nil
		}
	}
	return nil, mediaerr.NotFoundf("virtual object not found")
}

func (f *fakeStore) SetPrimaryObjectIfNone(_ context.Context, voID, objectID int64) error {
	for _, vo := range f.vos {
		if vo.ID == voID && !vo.PrimaryObjectID.Valid {
			vo.PrimaryObjectID = sql.NullInt64{Int64: objectID, Valid: true}
		}
	}
	return nil
}

func (f *fakeStore) RelatedObjects(_ context.Context, voID int64) ([]*store.Object, error) {
	var out []*store.Object
	for oid := range f.relations[voID] {
		out = append(out, &store.Object{ID: oid})
	}
	return out, nil
}

func (f *fakeStore) AddRelations(_ context.Context, voID int64, objectIDs []int64) error {
	set, ok := f.relations[voID]
	if !ok {
		set = map[int64]bool{}
		f.relations[voID] = set
	}
	for _, id := range objectIDs {
		set[id] = true
	}
	return nil
}

func (f *fakeStore) RemoveRelations(_ context.Context, voID int64, objectIDs []int64) error {
	set := f.relations[voID]
	for _, id := range objectIDs {
		delete(set, id)
	}
	return nil
}

func (f *fakeStore) ReplaceRelations(ctx context.Context, voID int64, wantIDs []int64) error {
	want := map[int64]bool{}
	for _, id := range wantIDs {
		want[id] = true
	}
	set, ok := f.relations[voID]
	if !ok {
		set = map[int64]bool{}
		f.relations[voID] = set
	}
	for id := range set {
		if !want[id] {
			delete(set, id)
		}
	}
	for id := range want {
		set[id] = true
	}
	return nil
}

func TestFindOrCreateIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	svc := NewWithStore(fs)
	ctx := context.Background()

	first, err := svc.FindOrCreate(ctx, "abc12345678901234567")
	require.NoError(t, err)
	second, err := svc.FindOrCreate(ctx, "abc12345678901234567")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestReplaceRelationsIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	svc := NewWithStore(fs)
	ctx := context.Background()

	vo, err := svc.FindOrCreate(ctx, "some-path")
	require.NoError(t, err)

	require.NoError(t, svc.ReplaceRelations(ctx, vo, []int64{1, 2, 3}))
	objs, err := svc.RelatedObjects(ctx, vo)
	require.NoError(t, err)
	require.Len(t, objs, 3)

	// Calling again with the same set must leave membership unchanged.
	require.NoError(t, svc.ReplaceRelations(ctx, vo, []int64{1, 2, 3}))
	objs, err = svc.RelatedObjects(ctx, vo)
	require.NoError(t, err)
	require.Len(t, objs, 3)

	// A narrower set drops the extras.
	require.NoError(t, svc.ReplaceRelations(ctx, vo, []int64{2}))
	objs, err = svc.RelatedObjects(ctx, vo)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	require.Equal(t, int64(2), objs[0].ID)
}

func TestSetPrimaryIfNoneOnlySetsOnce(t *testing.T) {
	fs := newFakeStore()
	svc := NewWithStore(fs)
	ctx := context.Background()

	vo, err := svc.FindOrCreate(ctx, "p")
	require.NoError(t, err)

	require.NoError(t, svc.SetPrimaryIfNone(ctx, vo, 10))
	require.NoError(t, svc.SetPrimaryIfNone(ctx, vo, 20))

	got, err := svc.db.FindVirtualObjectByPath(ctx, "p")
	require.NoError(t, err)
	require.True(t, got.PrimaryObjectID.Valid)
	require.Equal(t, int64(10), got.PrimaryObjectID.Int64)
}

func TestEnsureRootLinkUsesFirst20Chars(t *testing.T) {
	fs := newFakeStore()
	svc := NewWithStore(fs)
	ctx := context.Background()

	hash := "0123456789abcdef0123456789"
	vo, err := EnsureRootLink(ctx, svc, hash, 42)
	require.NoError(t, err)
	require.Equal(t, hash[:20], vo.ObjectPath)

	objs, err := svc.RelatedObjects(ctx, vo)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	require.Equal(t, int64(42), objs[0].ID)
}

func TestEnsureRootLinkRejectsShortHash(t *testing.T) {
	fs := newFakeStore()
	svc := NewWithStore(fs)
	_, err := EnsureRootLink(context.Background(), svc, "short", 1)
	require.Error(t, err)
	require.True(t, mediaerr.Is(err, mediaerr.Validation))
}
