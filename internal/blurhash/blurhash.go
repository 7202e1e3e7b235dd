// Package blurhash implements the BlurHash service (§4.11, C11): compute
// and cache a BlurHash placeholder string for an Object at a given
// component resolution and background. Grounded on the original
// implementation's create_blur_hash — same background parsing (empty
// string means black/0, a missing bg never touches the Background
// transform with a real color), same Resize(32,32)+Background pipeline,
// same find-or-replace cache semantics as object_blur_hash.rs's
// save_blur_hash.
package blurhash

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	gobh "github.com/bbrks/go-blurhash"

	"mediaserver/internal/imaging"
	"mediaserver/internal/mediaerr"
	"mediaserver/internal/mediatype"
	"mediaserver/internal/store"
	"mediaserver/internal/transform"
)

type cache interface {
	FindBlurHash(ctx context.Context, objectID int64, x, y int32, background string) (string, bool, error)
	UpsertBlurHash(ctx context.Context, objectID int64, x, y int32, background, hash string) error
}

type Service struct {
	db      cache
	permits *imaging.Permits
	blobDir string
}

func New(db *store.DB, permits *imaging.Permits, blobDir string) *Service {
	return &Service{db: db, permits: permits, blobDir: blobDir}
}

func NewWithCache(db cache, permits *imaging.Permits, blobDir string) *Service {
	return &Service{db: db, permits: permits, blobDir: blobDir}
}

// Compute implements §4.11: parse bg (empty means 0/black), reject
// non-identity encoding or non-image objects, run [Resize(32,32),
// Background(color)], hash the result, and upsert the cache row. Returns
// the cached hash immediately when one already exists for this exact
// (object, x, y, bg) tuple — P8's idempotent-cache property.
func (s *Service) Compute(ctx context.Context, obj *store.Object, x, y int32, bg string) (string, error) {
	if cached, ok, err := s.db.FindBlurHash(ctx, obj.ID, x, y, bg); err != nil {
		return "", err
	} else if ok {
		return cached, nil
	}

	var color uint32
	if bg != "" {
		v, err := strconv.ParseUint(bg, 16, 32)
		if err != nil {
			return "", mediaerr.Validationf("could not decode background %q: %v", bg, err)
		}
		color = uint32(v)
	}

	if mediatype.FromDatabase(obj.ContentEncoding).String() != "identity" {
		return "", mediaerr.Validationf("object has content encoding %q which is not supported", obj.ContentEncoding)
	}
	if !mediatype.IsImage(obj.ContentType) {
		return "", mediaerr.Validationf("content type %q is not supported", obj.ContentType)
	}
	format, ok := mediatype.ImageFormatFromContentType(obj.ContentType)
	if !ok {
		return "", mediaerr.Validationf("content type %q has no known image format", obj.ContentType)
	}

	if err := s.permits.Acquire(ctx); err != nil {
		return "", err
	}
	defer s.permits.Release()

	data, err := os.ReadFile(filepath.Join(s.blobDir, filepath.Base(obj.FilePath)))
	if err != nil {
		return "", mediaerr.Wrap(mediaerr.IO, err, "reading blob %s", obj.FilePath)
	}
	img, err := imaging.OpenImage(data, format)
	if err != nil {
		return "", err
	}
	transformed, err := imaging.ApplyTransformations(img, transform.List{
		transform.Resize(32, 32),
		transform.Background(color),
	})
	if err != nil {
		return "", err
	}

	hash, err := gobh.Encode(int(x), int(y), transformed)
	if err != nil {
		return "", mediaerr.Wrap(mediaerr.Encode, err, "computing blur hash")
	}

	if err := s.db.UpsertBlurHash(ctx, obj.ID, x, y, bg, hash); err != nil {
		return "", err
	}
	return hash, nil
}
