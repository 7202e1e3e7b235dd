package httpapi

import (
	"encoding/json"
	"net/http"

	"mediaserver/internal/mediaerr"
)

type vobjectObjectRef struct {
	Path string `json:"path"`
}

type putVirtualObjectRequest struct {
	Objects []vobjectObjectRef `json:"objects"`
}

// handlePutVirtualObject implements §6's `PUT /virtual-object/<path>`:
// replaces the VO's relation set with the referenced objects, looked up by
// file_path. Any unresolved reference is an error.
func (h *Handler) handlePutVirtualObject(w http.ResponseWriter, r *http.Request, path string) {
	var req putVirtualObjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, mediaerr.Validationf("malformed request body: %v", err))
		return
	}

	ids := make([]int64, 0, len(req.Objects))
	for _, ref := range req.Objects {
		obj, err := h.Objects.FindByFilePath(r.Context(), ref.Path)
		if err != nil {
			h.writeError(w, mediaerr.Wrap(mediaerr.NotFound, err, "resolving referenced object %q", ref.Path))
			return
		}
		ids = append(ids, obj.ID)
	}

	vo, err := h.VirtualObjects.FindOrCreate(r.Context(), path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.VirtualObjects.ReplaceRelations(r.Context(), vo, ids); err != nil {
		h.writeError(w, err)
		return
	}

	objects, err := h.VirtualObjects.RelatedObjects(r.Context(), vo)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toVirtualObjectResponse(vo, objects))
}

// handleGetVirtualObject implements §6's `GET /virtual-object/<path>`.
func (h *Handler) handleGetVirtualObject(w http.ResponseWriter, r *http.Request, path string) {
	vo, err := h.VirtualObjects.FindByPath(r.Context(), path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	objects, err := h.VirtualObjects.RelatedObjects(r.Context(), vo)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toVirtualObjectResponse(vo, objects))
}
