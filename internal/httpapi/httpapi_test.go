package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"mediaserver/internal/blurhash"
	"mediaserver/internal/digest"
	"mediaserver/internal/logging"
	"mediaserver/internal/mediaerr"
	"mediaserver/internal/object"
	"mediaserver/internal/resolver"
	"mediaserver/internal/store"
	"mediaserver/internal/vobject"
)

// fakeBackend is a single in-memory stand-in satisfying the object,
// vobject, and blurhash service packages' store interfaces, scoped to
// what the HTTP layer exercises in these tests. The derivation
// coordinator (POST /derive-object, the on-the-fly branch of GET
// /<anything>) needs a live Postgres connection the same way
// internal/derive's own tests do, so those routes aren't covered here.
type fakeBackend struct {
	byHash    map[string]*store.Object
	byID      map[int64]*store.Object
	vos       map[string]*store.VirtualObject
	relations map[int64]map[int64]bool
	blurs     map[string]string
	nextObjID int64
	nextVOID  int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		byHash:    map[string]*store.Object{},
		byID:      map[int64]*store.Object{},
		vos:       map[string]*store.VirtualObject{},
		relations: map[int64]map[int64]bool{},
		blurs:     map[string]string{},
		nextObjID: 1,
		nextVOID:  1,
	}
}

func (f *fakeBackend) FindObjectByHash(_ context.Context, hash string) (*store.Object, error) {
	if o, ok := f.byHash[hash]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, mediaerr.NotFoundf("object not found")
}

func (f *fakeBackend) FindObjectByID(_ context.Context, id int64) (*store.Object, error) {
	if o, ok := f.byID[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, mediaerr.NotFoundf("object not found")
}

func (f *fakeBackend) FindObjectByFilePath(_ context.Context, path string) (*store.Object, error) {
	for _, o := range f.byHash {
		if o.FilePath == path {
			cp := *o
			return &cp, nil
		}
	}
	return nil, mediaerr.NotFoundf("object not found")
}

func (f *fakeBackend) InsertObject(_ context.Context, n store.NewObject) (*store.Object, error) {
	if _, ok := f.byHash[n.ContentHash]; ok {
		return nil, mediaerr.Conflictf("object with content_hash %q already exists", n.ContentHash)
	}
	o := &store.Object{
		ID:              f.nextObjID,
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
	f.nextObjID++
	f.byHash[n.ContentHash] = o
	f.byID[o.ID] = o
	return o, nil
}

func (f *fakeBackend) UpdateObject(_ context.Context, id int64, u store.ObjectUpdate) (*store.Object, error) {
	o, ok := f.byID[id]
	if !ok {
		return nil, mediaerr.NotFoundf("object not found")
	}
	o.ContentType = u.ContentType
	o.ContentEncoding = u.ContentEncoding
	o.Modified = 2
	if u.Width != nil {
		o.Width = sql.NullInt32{Int32: *u.Width, Valid: true}
	}
	if u.Height != nil {
		o.Height = sql.NullInt32{Int32: *u.Height, Valid: true}
	}
	if u.ContentHeaders != nil {
		o.ContentHeaders = sql.NullString{String: *u.ContentHeaders, Valid: true}
	}
	cp := *o
	return &cp, nil
}

func (f *fakeBackend) FindVirtualObjectByPath(_ context.Context, path string) (*store.VirtualObject, error) {
	if vo, ok := f.vos[path]; ok {
		cp := *vo
		return &cp, nil
	}
	return nil, mediaerr.NotFoundf("virtual object not found")
}

func (f *fakeBackend) FindVirtualObjectByPaths(_ context.Context, paths []string) (*store.VirtualObject, error) {
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

func (f *fakeBackend) FindOrCreateVirtualObject(_ context.Context, path string) (*store.VirtualObject, error) {
	if vo, ok := f.vos[path]; ok {
		cp := *vo
		return &cp, nil
	}
	vo := &store.VirtualObject{ID: f.nextVOID, ObjectPath: path}
	f.nextVOID++
	f.vos[path] = vo
	cp := *vo
	return &cp, nil
}

func (f *fakeBackend) UpdateVirtualObject(_ context.Context, id int64, u store.VirtualObjectUpdate) (*store.VirtualObject, error) {
	for _, vo := range f.vos {
		if vo.ID == id {
			if u.PrimaryObjectID != nil {
				vo.PrimaryObjectID = sql.NullInt64{Int64: *u.PrimaryObjectID, Valid: true}
			}
			cp := *vo
			return &cp, nil
		}
	}
	return nil, mediaerr.NotFoundf("virtual object not found")
}

func (f *fakeBackend) SetPrimaryObjectIfNone(_ context.Context, voID, objectID int64) error {
	for _, vo := range f.vos {
		if vo.ID == voID && !vo.PrimaryObjectID.Valid {
			vo.PrimaryObjectID = sql.NullInt64{Int64: objectID, Valid: true}
		}
	}
	return nil
}

func (f *fakeBackend) RelatedObjects(_ context.Context, voID int64) ([]*store.Object, error) {
	var out []*store.Object
	for oid := range f.relations[voID] {
		if o, ok := f.byID[oid]; ok {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeBackend) AddRelations(_ context.Context, voID int64, objectIDs []int64) error {
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

func (f *fakeBackend) RemoveRelations(_ context.Context, voID int64, objectIDs []int64) error {
	set := f.relations[voID]
	for _, id := range objectIDs {
		delete(set, id)
	}
	return nil
}

func (f *fakeBackend) ReplaceRelations(_ context.Context, voID int64, wantIDs []int64) error {
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

func (f *fakeBackend) FindBlurHash(_ context.Context, objectID int64, x, y int32, background string) (string, bool, error) {
	h, ok := f.blurs[blurKey(objectID, x, y, background)]
	return h, ok, nil
}

func (f *fakeBackend) UpsertBlurHash(_ context.Context, objectID int64, x, y int32, background, hash string) error {
	f.blurs[blurKey(objectID, x, y, background)] = hash
	return nil
}

func blurKey(objectID int64, x, y int32, bg string) string {
	return fmt.Sprintf("%d|%d|%d|%s", objectID, x, y, bg)
}

func newTestHandler(t *testing.T) (*Handler, *fakeBackend) {
	t.Helper()
	if _, err := digest.InitKey("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"); err != nil {
		t.Fatalf("InitKey: %v", err)
	}
	fb := newFakeBackend()
	objSvc := object.NewWithStore(fb)
	voSvc := vobject.NewWithStore(fb)
	blurSvc := blurhash.NewWithCache(fb, nil, "")
	h := &Handler{
		Objects:        objSvc,
		VirtualObjects: voSvc,
		Resolver:       resolver.New(voSvc),
		BlurHash:       blurSvc,
		Log:            logging.New(io.Discard),
		BlobDir:        t.TempDir(),
		MaxUploadBytes: 10 << 20,
		ETagKey:        bytes.Repeat([]byte{7}, 32),
	}
	return h, fb
}

func TestPutObjectInsertsAndEnsuresRootLink(t *testing.T) {
	h, _ := newTestHandler(t)
	body := []byte("hello world")
	req := httptest.NewRequest(http.MethodPut, "/object/greeting.txt", bytes.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp objectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "text/plain", resp.ContentType)
	require.Equal(t, int64(len(body)), resp.ContentLength)
}

func TestPutObjectThenGetObjectMeta(t *testing.T) {
	h, _ := newTestHandler(t)
	body := []byte("metadata target")
	putReq := httptest.NewRequest(http.MethodPut, "/object/named.txt", bytes.NewReader(body))
	putReq.Header.Set("Content-Type", "text/plain")
	putRec := httptest.NewRecorder()
	h.ServeHTTP(putRec, putReq)
	require.Equal(t, http.StatusOK, putRec.Code)
	var put objectResponse
	require.NoError(t, json.Unmarshal(putRec.Body.Bytes(), &put))

	metaReq := httptest.NewRequest(http.MethodGet, "/object/"+put.Path+"/meta", nil)
	metaRec := httptest.NewRecorder()
	h.ServeHTTP(metaRec, metaReq)

	require.Equal(t, http.StatusOK, metaRec.Code)
	var meta objectResponse
	require.NoError(t, json.Unmarshal(metaRec.Body.Bytes(), &meta))
	require.Equal(t, put.Path, meta.Path)
}

func TestGetObjectMetaMissingReturns404(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/object/does-not-exist/meta", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutAndGetVirtualObject(t *testing.T) {
	h, fb := newTestHandler(t)
	obj, err := fb.InsertObject(context.Background(), store.NewObject{
		ContentHash: "hash-a", ContentType: "image/png", ContentEncoding: "identity",
		Length: 5, FilePath: "hash-a.png",
	})
	require.NoError(t, err)

	putBody, err := json.Marshal(putVirtualObjectRequest{Objects: []vobjectObjectRef{{Path: obj.FilePath}}})
	require.NoError(t, err)
	putReq := httptest.NewRequest(http.MethodPut, "/virtual-object/gallery/cover", bytes.NewReader(putBody))
	putRec := httptest.NewRecorder()
	h.ServeHTTP(putRec, putReq)
	require.Equal(t, http.StatusOK, putRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/virtual-object/gallery/cover", nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var resp virtualObjectResponse
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &resp))
	require.Len(t, resp.Objects, 1)
	require.Equal(t, obj.FilePath, resp.Objects[0].Path)
}

func TestPutVirtualObjectUnresolvedReferenceErrors(t *testing.T) {
	h, _ := newTestHandler(t)
	putBody, err := json.Marshal(putVirtualObjectRequest{Objects: []vobjectObjectRef{{Path: "no-such-object"}}})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPut, "/virtual-object/gallery/missing", bytes.NewReader(putBody))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBlurHashReturnsCachedValue(t *testing.T) {
	h, fb := newTestHandler(t)
	obj, err := fb.InsertObject(context.Background(), store.NewObject{
		ContentHash: "hash-b", ContentType: "image/png", ContentEncoding: "identity",
		Length: 5, FilePath: "hash-b.png",
	})
	require.NoError(t, err)
	vo, err := fb.FindOrCreateVirtualObject(context.Background(), "blurpath")
	require.NoError(t, err)
	require.NoError(t, fb.SetPrimaryObjectIfNone(context.Background(), vo.ID, obj.ID))
	require.NoError(t, fb.UpsertBlurHash(context.Background(), obj.ID, 4, 3, "abcdef", "LKO2?U%2Tw=w"))

	req := httptest.NewRequest(http.MethodGet, "/blur-hash/blurpath?x=4&y=3&bg=abcdef", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "LKO2?U%2Tw=w", rec.Body.String())
}

func TestGetBlurHashMissingQueryParamsRejected(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/blur-hash/blurpath", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatchAllServesStoredBlobWithHeaders(t *testing.T) {
	h, fb := newTestHandler(t)
	obj, err := fb.InsertObject(context.Background(), store.NewObject{
		ContentHash: "hash-c", ContentType: "image/png", ContentEncoding: "identity",
		Length: 5, FilePath: "served.png",
	})
	require.NoError(t, err)
	require.NoError(t, digest.WriteBytes(h.BlobDir+"/served.png", []byte("89PNG")))
	vo, err := fb.FindOrCreateVirtualObject(context.Background(), "served")
	require.NoError(t, err)
	require.NoError(t, fb.AddRelations(context.Background(), vo.ID, []int64{obj.ID}))

	req := httptest.NewRequest(http.MethodGet, "/served", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Header().Get("ETag"))
	require.NotEmpty(t, rec.Header().Get("Last-Modified"))
	require.Equal(t, "public, max-age=86400, stale-while-revalidate=3600", rec.Header().Get("Cache-Control"))
}

func TestCatchAllReturnsNotModifiedOnMatchingIfNoneMatch(t *testing.T) {
	h, fb := newTestHandler(t)
	obj, err := fb.InsertObject(context.Background(), store.NewObject{
		ContentHash: "hash-d", ContentType: "image/png", ContentEncoding: "identity",
		Length: 5, FilePath: "cond.png",
	})
	require.NoError(t, err)
	require.NoError(t, digest.WriteBytes(h.BlobDir+"/cond.png", []byte("89PNG")))
	vo, err := fb.FindOrCreateVirtualObject(context.Background(), "cond")
	require.NoError(t, err)
	require.NoError(t, fb.AddRelations(context.Background(), vo.ID, []int64{obj.ID}))

	firstReq := httptest.NewRequest(http.MethodGet, "/cond", nil)
	firstRec := httptest.NewRecorder()
	h.ServeHTTP(firstRec, firstReq)
	require.Equal(t, http.StatusOK, firstRec.Code)
	tag := firstRec.Header().Get("ETag")
	require.NotEmpty(t, tag)

	secondReq := httptest.NewRequest(http.MethodGet, "/cond", nil)
	secondReq.Header.Set("If-None-Match", tag)
	secondRec := httptest.NewRecorder()
	h.ServeHTTP(secondRec, secondReq)
	require.Equal(t, http.StatusNotModified, secondRec.Code)
	require.Empty(t, secondRec.Body.Bytes())
}

func TestMethodNotAllowedOnUnknownVerb(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodDelete, "/object/whatever", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
