// Package resolver implements the variant resolver (§4.8, C8): given a
// candidate path list and optional dimension/type/encoding hints, find the
// VirtualObject's best-matching related Object. The closeness fold below
// is a direct line-by-line port of find_object.rs's reduce closure —
// every match arm and its guard is preserved in the same order, since the
// order of the arms is the specification (first matching arm wins).
package resolver

import (
	"context"

	"mediaserver/internal/mediatype"
	"mediaserver/internal/store"
)

// Query is the input to Resolve, mirroring find_object_by_parameters's
// argument list.
type Query struct {
	Paths           []string
	Width           *int32
	Height          *int32
	ContentType     string // "" means unconstrained
	ContentEncoding string // "" means unconstrained; already normalized
}

type vobjectLookup interface {
	FindByPaths(ctx context.Context, paths []string) (*store.VirtualObject, error)
	RelatedObjects(ctx context.Context, vo *store.VirtualObject) ([]*store.Object, error)
}

type Resolver struct {
	vo vobjectLookup
}

func New(vo vobjectLookup) *Resolver { return &Resolver{vo: vo} }

// Resolve returns the best match, or (nil, nil) when no VO, no related
// objects, or no objects pass the type/encoding filter — "not found" is
// not an error here, matching §4.8: callers turn a nil result into a 404.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*store.Object, error) {
	vo, err := r.vo.FindByPaths(ctx, q.Paths)
	if err != nil {
		return nil, nil
	}

	objects, err := r.vo.RelatedObjects(ctx, vo)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, nil
	}

	filtered := objects[:0:0]
	for _, o := range objects {
		if q.ContentType != "" && o.ContentType != q.ContentType {
			continue
		}
		if q.ContentEncoding != "" {
			enc := mediatype.FromDatabase(o.ContentEncoding)
			if enc.String() != q.ContentEncoding {
				continue
			}
		}
		filtered = append(filtered, o)
	}
	if len(filtered) == 0 {
		return nil, nil
	}

	best := filtered[0]
	for _, candidate := range filtered[1:] {
		best = closer(best, candidate, q.Width, q.Height)
	}
	return best, nil
}

// closer implements the reduce closure: given the running choice (left)
// and the next candidate (right), decide which one is the better match
// for the desired (width, height). Ported arm-for-arm from find_object.rs;
// the final wildcard arm keeps left, same as the Rust `_ => left`.
func closer(left, right *store.Object, width, height *int32) *store.Object {
	wl, hl := left.Width, left.Height
	wr, hr := right.Width, right.Height

	switch {
	// ---------EXACT MATCHES--------------------
	case wl.Valid && hl.Valid && width != nil && height != nil && wl.Int32 == *width && hl.Int32 == *height:
		return left
	case wr.Valid && hr.Valid && width != nil && height != nil && wr.Int32 == *width && hr.Int32 == *height:
		return right
	case wl.Valid && width != nil && height != nil && wl.Int32 == *width && *height <= *width:
		return left
	case hl.Valid && width != nil && height != nil && hl.Int32 == *height && *width <= *height:
		return left
	case wr.Valid && width != nil && height != nil && wr.Int32 == *width && *height <= *width:
		return right
	case hr.Valid && width != nil && height != nil && hr.Int32 == *height && *width <= *height:
		return right
	case wr.Valid && width != nil && height == nil && wr.Int32 == *width:
		return right
	case hr.Valid && width == nil && height != nil && hr.Int32 == *height:
		return right

	// -------------------------------------------
	// Bias right if smaller than left but still >= the desired width.
	case wl.Valid && wr.Valid && width != nil && height != nil &&
		wr.Int32 >= *width && (wr.Int32 < wl.Int32 || wl.Int32 < *width) && *height <= *width:
		return right
	case wl.Valid && wr.Valid && width != nil && height == nil &&
		wr.Int32 >= *width && (wr.Int32 < wl.Int32 || wl.Int32 < *width):
		return right
	// Bias right if smaller than left but still >= the desired height.
	case hl.Valid && hr.Valid && width != nil && height != nil &&
		hr.Int32 >= *height && (hr.Int32 < hl.Int32 || hl.Int32 < *height) && *width <= *height:
		return right
	case hl.Valid && hr.Valid && width == nil && height != nil &&
		hr.Int32 >= *height && (hr.Int32 < hl.Int32 || hl.Int32 < *height):
		return right
	// Bias right if its width is simply a larger size than desired and left has none.
	case !wl.Valid && wr.Valid && width != nil && height != nil && wr.Int32 >= *width && *height <= *width:
		return right
	case !wl.Valid && wr.Valid && width != nil && height == nil && wr.Int32 >= *width:
		return right
	// Bias right if its height is simply a larger size than desired and left has none.
	case !hl.Valid && hr.Valid && width != nil && height != nil && hr.Int32 >= *height && *width <= *height:
		return right
	case !hl.Valid && hr.Valid && width == nil && height != nil && hr.Int32 >= *height:
		return right

	default:
		return left
	}
}
