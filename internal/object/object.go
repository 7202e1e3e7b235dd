// Package object implements the object service (§4.6, C6): the thin
// business-rule layer above store.DB for the content-addressed Object
// entity. Grounded on the store layer's InsertObject/UpdateObject split,
// itself grounded on the original implementation's update_object, which
// never clears width/height on a re-upload that omits them.
package object

import (
	"context"
	"database/sql"

	"mediaserver/internal/mediaerr"
	"mediaserver/internal/store"
)

// Command is the input to UpsertObject, mirroring the upsert_object cmd
// shape from §4.6 exactly.
type Command struct {
	ContentHash     string
	ContentType     string
	ContentEncoding string
	Length          int64
	FilePath        string
	Width           *int32
	Height          *int32
	// ContentHeaders carries the passthrough Content-Disposition header
	// (if any) captured at upload time, replayed verbatim on GET.
	ContentHeaders *string
}

// Tag reports whether UpsertObject inserted a fresh row or updated an
// existing one, so callers (the upload handler) can decide whether the
// blob bytes still need to be written to disk.
type Tag int

const (
	TagInserted Tag = iota
	TagUpdated
)

// backingStore is the slice of store.DB that the object service needs.
// Accepting the interface rather than *store.DB lets tests substitute an
// in-memory fake without a live Postgres connection.
type backingStore interface {
	FindObjectByHash(ctx context.Context, hash string) (*store.Object, error)
	FindObjectByID(ctx context.Context, id int64) (*store.Object, error)
	FindObjectByFilePath(ctx context.Context, path string) (*store.Object, error)
	InsertObject(ctx context.Context, n store.NewObject) (*store.Object, error)
	UpdateObject(ctx context.Context, id int64, u store.ObjectUpdate) (*store.Object, error)
}

type Service struct {
	db backingStore
}

func New(db *store.DB) *Service { return &Service{db: db} }

// NewWithStore accepts any backingStore implementation, primarily for
// tests wiring in a fake.
func NewWithStore(db backingStore) *Service { return &Service{db: db} }

func (s *Service) FindByHash(ctx context.Context, hash string) (*store.Object, error) {
	return s.db.FindObjectByHash(ctx, hash)
}

func (s *Service) FindByID(ctx context.Context, id int64) (*store.Object, error) {
	return s.db.FindObjectByID(ctx, id)
}

func (s *Service) FindByFilePath(ctx context.Context, path string) (*store.Object, error) {
	return s.db.FindObjectByFilePath(ctx, path)
}

// UpsertObject implements §4.6's upsert_object: look up by content hash
// first: if the row exists, update content_type/content_encoding/modified
// unconditionally and width/height only when the caller supplied a value
// (the resolved §9 open question — a dimension-less re-upload never wipes
// a previously recorded dimension). If absent, insert fresh with
// created == modified and every derivation field left null.
func (s *Service) UpsertObject(ctx context.Context, cmd Command) (*store.Object, Tag, error) {
	existing, err := s.db.FindObjectByHash(ctx, cmd.ContentHash)
	switch {
	case err == nil:
		updated, err := s.db.UpdateObject(ctx, existing.ID, store.ObjectUpdate{
			ContentType:     cmd.ContentType,
			ContentEncoding: cmd.ContentEncoding,
			Width:           cmd.Width,
			Height:          cmd.Height,
			ContentHeaders:  cmd.ContentHeaders,
		})
		if err != nil {
			return nil, TagUpdated, err
		}
		return updated, TagUpdated, nil

	case mediaerr.Is(err, mediaerr.NotFound):
		inserted, err := s.db.InsertObject(ctx, store.NewObject{
			ContentHash:     cmd.ContentHash,
			ContentType:     cmd.ContentType,
			ContentEncoding: cmd.ContentEncoding,
			Length:          cmd.Length,
			FilePath:        cmd.FilePath,
			Width:           nullInt32(cmd.Width),
			Height:          nullInt32(cmd.Height),
			ContentHeaders:  nullString(cmd.ContentHeaders),
		})
		if mediaerr.Is(err, mediaerr.Conflict) {
			// Lost a race with a concurrent uploader of the same bytes;
			// the row now exists, fall through to the update path.
			existing, lookupErr := s.db.FindObjectByHash(ctx, cmd.ContentHash)
			if lookupErr != nil {
				return nil, TagInserted, lookupErr
			}
			updated, updateErr := s.db.UpdateObject(ctx, existing.ID, store.ObjectUpdate{
				ContentType:     cmd.ContentType,
				ContentEncoding: cmd.ContentEncoding,
				Width:           cmd.Width,
				Height:          cmd.Height,
				ContentHeaders:  cmd.ContentHeaders,
			})
			return updated, TagUpdated, updateErr
		}
		if err != nil {
			return nil, TagInserted, err
		}
		return inserted, TagInserted, nil

	default:
		return nil, TagInserted, err
	}
}

func nullInt32(p *int32) sql.NullInt32 {
	if p == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: *p, Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
