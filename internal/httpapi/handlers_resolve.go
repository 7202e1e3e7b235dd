package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"mediaserver/internal/derive"
	"mediaserver/internal/digest"
	"mediaserver/internal/mediaerr"
	"mediaserver/internal/mediatype"
	"mediaserver/internal/pathparse"
	"mediaserver/internal/resolver"
	"mediaserver/internal/store"
	"mediaserver/internal/transform"
)

// handleResolve implements §6's `GET /<anything>`: run the variant
// resolver and serve either a stored blob or an on-the-fly derivation.
func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request, path string) {
	effectivePath := path
	dp, rest, hasDims := pathparse.ParseDimensionPrefix(path)
	if hasDims {
		effectivePath = rest
	}
	candidates := pathparse.CandidatePaths(effectivePath)
	basename := pathparse.GrabBasename(effectivePath)

	var ctHint string
	if basename.HasContentTypeExt() {
		if top, sub, ok := mediatype.ExtensionMIME(basename.ContentTypeExt); ok {
			ctHint = top + "/" + sub
		}
	}
	var encHint string
	if basename.HasContentEncodingExt() {
		encHint = mediatype.ParseContentEncodingFromExtension(basename.ContentEncodingExt).String()
	}

	q := r.URL.Query()
	width, err := queryInt32(r, "w")
	if err != nil {
		h.writeError(w, err)
		return
	}
	height, err := queryInt32(r, "h")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if width == nil && dp.HasWidth {
		wv := int32(dp.Width)
		width = &wv
	}
	if height == nil && dp.HasHeight {
		hv := int32(dp.Height)
		height = &hv
	}

	obj, err := h.Resolver.Resolve(r.Context(), resolver.Query{
		Paths:           candidates,
		Width:           width,
		Height:          height,
		ContentType:     ctHint,
		ContentEncoding: encHint,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if obj != nil {
		h.serveBlob(w, r, obj, true)
		return
	}

	h.deriveOnTheFly(w, r, candidates, width, height, q)
}

// deriveOnTheFly handles the case where the resolver found no stored
// variant matching the request: it requires the named VO to have a
// primary object, parses the transformation/quality/format query
// parameters, and runs the derivation coordinator.
func (h *Handler) deriveOnTheFly(w http.ResponseWriter, r *http.Request, candidates []string, width, height *int32, q map[string][]string) {
	vo, err := h.VirtualObjects.FindByPaths(r.Context(), candidates)
	if err != nil {
		h.writeError(w, mediaerr.NotFoundf("no stored or derivable object matches the requested path"))
		return
	}
	if !vo.PrimaryObjectID.Valid {
		h.writeError(w, mediaerr.NotFoundf("virtual object has no primary object to derive from"))
		return
	}
	source, err := h.Objects.FindByID(r.Context(), vo.PrimaryObjectID.Int64)
	if err != nil {
		h.writeError(w, err)
		return
	}

	list, err := transform.Parse(first(q["t"]))
	if err != nil {
		h.writeError(w, err)
		return
	}
	var quality *int32
	if qs := first(q["q"]); qs != "" {
		quality, err = queryInt32ValueOf(qs)
		if err != nil {
			h.writeError(w, err)
			return
		}
	}
	targetFormat := first(q["ty"])

	result, err := h.Derive.Derive(r.Context(), derive.Request{
		Source:       source,
		SourceVO:     vo,
		Transforms:   list,
		Quality:      quality,
		TargetFormat: targetFormat,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	if asPath := first(q["as"]); asPath != "" {
		namedVO, err := h.VirtualObjects.FindOrCreate(r.Context(), pathparse.SlugifyPath(asPath))
		if err != nil {
			h.writeError(w, err)
			return
		}
		if err := h.VirtualObjects.AddRelations(r.Context(), namedVO, []int64{result.Object.ID}); err != nil {
			h.writeError(w, err)
			return
		}
		if err := h.VirtualObjects.SetPrimaryIfNone(r.Context(), namedVO, result.Object.ID); err != nil {
			h.writeError(w, err)
			return
		}
	}

	h.serveBlob(w, r, result.Object, false)
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func queryInt32ValueOf(s string) (*int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return nil, mediaerr.Validationf("invalid integer %q: %v", s, err)
	}
	v := int32(n)
	return &v, nil
}

// serveBlob writes §6's response headers and the blob bytes. Static
// resolver hits (full=true) get Last-Modified and ETag, and an
// If-None-Match match short-circuits to 304; freshly derived buffers
// (full=false) omit both, per §6.
func (h *Handler) serveBlob(w http.ResponseWriter, r *http.Request, obj *store.Object, full bool) {
	hdr := w.Header()
	hdr.Set("Content-Type", obj.ContentType)
	if obj.ContentEncoding != "" && obj.ContentEncoding != "identity" {
		hdr.Set("Content-Encoding", obj.ContentEncoding)
	}
	if obj.ContentType != "application/octet-stream" {
		hdr.Set("x-content-type-options", "nosniff")
	}
	if obj.ContentHeaders.Valid {
		hdr.Set("Content-Disposition", obj.ContentHeaders.String)
	}
	hdr.Set("Age", "0")
	hdr.Set("Cache-Control", "public, max-age=86400, stale-while-revalidate=3600")

	var tag string
	if full {
		hdr.Set("Last-Modified", time.Unix(obj.Modified, 0).UTC().Format(http.TimeFormat))
		if t, err := etagFor(h.ETagKey, obj.ContentHash); err == nil {
			tag = t
			hdr.Set("ETag", tag)
		}
	}
	if tag != "" {
		if inm := r.Header.Get("If-None-Match"); inm != "" && digest.ConstantTimeEqual(inm, tag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	data, err := os.ReadFile(filepath.Join(h.BlobDir, filepath.Base(obj.FilePath)))
	if err != nil {
		h.writeError(w, mediaerr.Wrap(mediaerr.IO, err, "reading blob %s", obj.FilePath))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
