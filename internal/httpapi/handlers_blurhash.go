package httpapi

import (
	"fmt"
	"net/http"

	"mediaserver/internal/mediaerr"
)

// handleGetBlurHash implements §6's `GET /blur-hash/<path>?x&y&bg`: resolve
// the named VO's primary object and return its BlurHash string, taken from
// the cache or, on a miss, computed and cached.
func (h *Handler) handleGetBlurHash(w http.ResponseWriter, r *http.Request, path string) {
	x, err := queryInt32(r, "x")
	if err != nil || x == nil {
		h.writeError(w, mediaerr.Validationf("missing or invalid required query parameter x"))
		return
	}
	y, err := queryInt32(r, "y")
	if err != nil || y == nil {
		h.writeError(w, mediaerr.Validationf("missing or invalid required query parameter y"))
		return
	}
	bg := r.URL.Query().Get("bg")

	vo, err := h.VirtualObjects.FindByPath(r.Context(), path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !vo.PrimaryObjectID.Valid {
		h.writeError(w, mediaerr.Validationf("virtual object %q has no primary object", path))
		return
	}
	obj, err := h.Objects.FindByID(r.Context(), vo.PrimaryObjectID.Int64)
	if err != nil {
		h.writeError(w, err)
		return
	}

	hash, err := h.BlurHash.Compute(r.Context(), obj, *x, *y, bg)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, hash)
}
