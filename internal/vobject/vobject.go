// Package vobject implements the virtual-object service (§4.7, C7): the
// name-to-objects graph, its primary-object selection, and derived-VO
// bookkeeping. Grounded on the original implementation's virtual_object.rs
// find-or-create/replace-relations pair, re-expressed over the store
// adapter's typed methods.
package vobject

import (
	"context"

	"mediaserver/internal/mediaerr"
	"mediaserver/internal/store"
)

// backingStore is the slice of store.DB the virtual-object service needs.
type backingStore interface {
	FindVirtualObjectByPath(ctx context.Context, path string) (*store.VirtualObject, error)
	FindVirtualObjectByPaths(ctx context.Context, paths []string) (*store.VirtualObject, error)
	FindOrCreateVirtualObject(ctx context.Context, path string) (*store.VirtualObject, error)
	UpdateVirtualObject(ctx context.Context, id int64, u store.VirtualObjectUpdate) (*store.VirtualObject, error)
	SetPrimaryObjectIfNone(ctx context.Context, voID, objectID int64) error
	RelatedObjects(ctx context.Context, voID int64) ([]*store.Object, error)
	AddRelations(ctx context.Context, voID int64, objectIDs []int64) error
	RemoveRelations(ctx context.Context, voID int64, objectIDs []int64) error
	ReplaceRelations(ctx context.Context, voID int64, wantIDs []int64) error
}

type Service struct {
	db backingStore
}

func New(db *store.DB) *Service              { return &Service{db: db} }
func NewWithStore(db backingStore) *Service { return &Service{db: db} }

func (s *Service) FindByPath(ctx context.Context, path string) (*store.VirtualObject, error) {
	return s.db.FindVirtualObjectByPath(ctx, path)
}

// FindByPaths resolves the candidate path (§4.7's find_by_paths) that
// names an existing VO. §9's open question on tie-break order is
// resolved in the store layer (longest/most-specific path wins); this
// method is a pass-through so the resolver (C8) can call it directly.
func (s *Service) FindByPaths(ctx context.Context, paths []string) (*store.VirtualObject, error) {
	return s.db.FindVirtualObjectByPaths(ctx, paths)
}

func (s *Service) FindOrCreate(ctx context.Context, path string) (*store.VirtualObject, error) {
	return s.db.FindOrCreateVirtualObject(ctx, path)
}

func (s *Service) RelatedObjects(ctx context.Context, vo *store.VirtualObject) ([]*store.Object, error) {
	return s.db.RelatedObjects(ctx, vo.ID)
}

func (s *Service) AddRelations(ctx context.Context, vo *store.VirtualObject, objectIDs []int64) error {
	return s.db.AddRelations(ctx, vo.ID, objectIDs)
}

func (s *Service) RemoveRelations(ctx context.Context, vo *store.VirtualObject, objectIDs []int64) error {
	return s.db.RemoveRelations(ctx, vo.ID, objectIDs)
}

// ReplaceRelations implements §4.7's replace_relations / §8's P3: calling
// it twice in a row with the same set leaves the relation set unchanged,
// because the delta against current membership is empty the second time.
func (s *Service) ReplaceRelations(ctx context.Context, vo *store.VirtualObject, objectIDs []int64) error {
	return s.db.ReplaceRelations(ctx, vo.ID, objectIDs)
}

func (s *Service) SetPrimary(ctx context.Context, vo *store.VirtualObject, objectID int64) (*store.VirtualObject, error) {
	oid := objectID
	return s.db.UpdateVirtualObject(ctx, vo.ID, store.VirtualObjectUpdate{PrimaryObjectID: &oid})
}

func (s *Service) SetPrimaryIfNone(ctx context.Context, vo *store.VirtualObject, objectID int64) error {
	return s.db.SetPrimaryObjectIfNone(ctx, vo.ID, objectID)
}

// UpdateDerived implements §4.7's update_derived: it stamps the derived
// VO's default background, parent linkage, chosen primary object, and the
// transform list + its hash (the identity pair from invariant V3). The
// derivation coordinator (C10) does not call it; it writes the same fields
// through store.Tx.UpdateVirtualObject inside its own transaction.
type DerivedUpdate struct {
	DefaultJPEGBackground  *string
	DerivedVirtualObjectID *int64
	PrimaryObjectID        *int64
	Transforms             *string
	TransformsHash         *string
}

func (s *Service) UpdateDerived(ctx context.Context, vo *store.VirtualObject, u DerivedUpdate) (*store.VirtualObject, error) {
	return s.db.UpdateVirtualObject(ctx, vo.ID, store.VirtualObjectUpdate{
		DefaultJPEGBackground:  u.DefaultJPEGBackground,
		DerivedVirtualObjectID: u.DerivedVirtualObjectID,
		PrimaryObjectID:        u.PrimaryObjectID,
		Transforms:             u.Transforms,
		TransformsHash:         u.TransformsHash,
	})
}

// EnsureRootLink implements invariant V1: every uploaded Object must have
// at least one VirtualObject whose object_path equals the first 20
// characters of its content hash, related to that object. Called by the
// upload handler right after object.UpsertObject.
func EnsureRootLink(ctx context.Context, svc *Service, contentHash string, objectID int64) (*store.VirtualObject, error) {
	if len(contentHash) < 20 {
		return nil, mediaerr.Validationf("content hash %q shorter than 20 characters", contentHash)
	}
	path := contentHash[:20]
	vo, err := svc.FindOrCreate(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := svc.AddRelations(ctx, vo, []int64{objectID}); err != nil {
		return nil, err
	}
	if err := svc.SetPrimaryIfNone(ctx, vo, objectID); err != nil {
		return nil, err
	}
	return vo, nil
}
