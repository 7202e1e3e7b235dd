// Package derive implements the derivation coordinator (§4.10, C10): take
// a source Object and a transformation list, run the image pipeline, and
// record the result as a new derived Object + VirtualObject pair. Steps
// 6-7 of §4.10 are transactional, per §5. Grounded on the original
// implementation's derive-and-cache flow spread across find_object.rs and
// object.rs's upsert/update pairing, consolidated here into one
// coordinator the way the teacher's ingest muxer centralizes a multi-step
// commit sequence in one function.
package derive

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"mediaserver/internal/digest"
	"mediaserver/internal/imaging"
	"mediaserver/internal/mediaerr"
	"mediaserver/internal/mediatype"
	"mediaserver/internal/store"
	"mediaserver/internal/transform"
)

// Request mirrors §4.10's input: a source Object, its VO (required — carries
// default_jpeg_bg forward and anchors derived_virtual_object_id), a transform
// list, optional quality, optional target format.
type Request struct {
	Source       *store.Object
	SourceVO     *store.VirtualObject
	Transforms   transform.List
	Quality      *int32
	TargetFormat string // "" means "use source's format"
}

// Result is what callers (the HTTP layer) need to build a response.
type Result struct {
	Object        *store.Object
	VirtualObject *store.VirtualObject
}

type Coordinator struct {
	db      *store.DB
	permits *imaging.Permits
	blobDir string
}

func New(db *store.DB, permits *imaging.Permits, blobDir string) *Coordinator {
	return &Coordinator{db: db, permits: permits, blobDir: blobDir}
}

// Derive runs the full §4.10 procedure. The pipeline always runs; no lookup
// by (derived_virtual_object_id, transforms_hash) happens first. A repeat
// derivation that encodes to identical bytes reuses the existing Object and
// the VO named after its content hash instead of inserting new rows.
func (c *Coordinator) Derive(ctx context.Context, req Request) (*Result, error) {
	if mediatype.FromDatabase(req.Source.ContentEncoding).String() != "identity" {
		return nil, mediaerr.Validationf("source object has non-identity content encoding %q", req.Source.ContentEncoding)
	}
	if !mediatype.IsImage(req.Source.ContentType) {
		return nil, mediaerr.Validationf("source object content type %q is not a supported image", req.Source.ContentType)
	}
	if req.SourceVO == nil {
		return nil, mediaerr.Validationf("derive request requires a source virtual object")
	}

	format := req.TargetFormat
	if format == "" {
		f, ok := mediatype.ImageFormatFromContentType(req.Source.ContentType)
		if !ok {
			return nil, mediaerr.Validationf("could not determine image format from content type %q", req.Source.ContentType)
		}
		format = f
	}

	transformString := transform.Format(req.Transforms)
	transformsHash := digest.DigestBytes([]byte(transformString))

	if err := c.permits.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.permits.Release()

	srcFormat, ok := mediatype.ImageFormatFromContentType(req.Source.ContentType)
	if !ok {
		return nil, mediaerr.Validationf("unsupported source content type %q", req.Source.ContentType)
	}
	srcBytes, err := os.ReadFile(filepath.Join(c.blobDir, filepath.Base(req.Source.FilePath)))
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.IO, err, "reading source blob %s", req.Source.FilePath)
	}
	img, err := imaging.OpenImage(srcBytes, srcFormat)
	if err != nil {
		return nil, err
	}
	transformed, err := imaging.ApplyTransformations(img, req.Transforms)
	if err != nil {
		return nil, err
	}

	var quality int
	if req.Quality != nil {
		quality = int(*req.Quality)
	}
	encoded, err := imaging.Encode(transformed, format, quality)
	if err != nil {
		return nil, err
	}
	bounds := transformed.Bounds()
	outW, outH := int32(bounds.Dx()), int32(bounds.Dy())

	contentHash := digest.DigestBytes(encoded)
	ext := mediatype.SafeExtForFormat(format)
	rootPath := contentHash[:20]
	filePath := rootPath + "." + ext

	if err := stageAndPublish(c.blobDir, filePath, encoded); err != nil {
		return nil, err
	}

	var result Result
	err = c.db.WithTx(ctx, func(tx *store.Tx) error {
		// Look up first: a failed INSERT aborts the Postgres transaction,
		// so a unique violation cannot be followed by a lookup in it.
		newObj, err := tx.FindObjectByHash(ctx, contentHash)
		if mediaerr.Is(err, mediaerr.NotFound) {
			newObj, err = tx.InsertObject(ctx, store.NewObject{
				ContentHash:     contentHash,
				ContentType:     req.Source.ContentType,
				ContentEncoding: "identity",
				Length:          int64(len(encoded)),
				FilePath:        filePath,
				DerivedObjectID: sql.NullInt64{Int64: req.Source.ID, Valid: true},
				Transforms:      sql.NullString{String: transformString, Valid: true},
				TransformsHash:  sql.NullString{String: transformsHash, Valid: true},
				Width:           sql.NullInt32{Int32: outW, Valid: true},
				Height:          sql.NullInt32{Int32: outH, Valid: true},
				Quality:         nullInt32FromPtr(req.Quality),
			})
		}
		if err != nil {
			return err
		}

		vo, err := tx.FindOrCreateVirtualObject(ctx, rootPath)
		if err != nil {
			return err
		}

		var defaultBg *string
		if req.SourceVO.DefaultJPEGBackground.Valid {
			v := req.SourceVO.DefaultJPEGBackground.String
			defaultBg = &v
		}
		parentID := req.SourceVO.ID
		if err := tx.UpdateVirtualObject(ctx, vo.ID, store.VirtualObjectUpdate{
			DefaultJPEGBackground:  defaultBg,
			DerivedVirtualObjectID: &parentID,
			PrimaryObjectID:        &newObj.ID,
			Transforms:             &transformString,
			TransformsHash:         &transformsHash,
		}); err != nil {
			return err
		}
		if err := tx.ReplaceRelations(ctx, vo.ID, []int64{newObj.ID}); err != nil {
			return err
		}

		result = Result{Object: newObj, VirtualObject: vo}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func nullInt32FromPtr(p *int32) sql.NullInt32 {
	if p == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: *p, Valid: true}
}
