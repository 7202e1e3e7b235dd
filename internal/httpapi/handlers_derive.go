package httpapi

import (
	"encoding/json"
	"net/http"

	"mediaserver/internal/derive"
	"mediaserver/internal/mediaerr"
	"mediaserver/internal/pathparse"
	"mediaserver/internal/transform"
)

type deriveVariantRequest struct {
	Transforms string `json:"transforms"`
	Quality    *int32 `json:"quality,omitempty"`
	Format     string `json:"format,omitempty"`
	As         string `json:"as,omitempty"`
}

type deriveBlurHashRequest struct {
	X  int32  `json:"x"`
	Y  int32  `json:"y"`
	Bg string `json:"bg,omitempty"`
}

type deriveObjectRequest struct {
	Variants   []deriveVariantRequest  `json:"variants,omitempty"`
	BlurHashes []deriveBlurHashRequest `json:"blur_hashes,omitempty"`
}

type deriveBlurHashResponse struct {
	X    int32  `json:"x"`
	Y    int32  `json:"y"`
	Bg   string `json:"bg,omitempty"`
	Hash string `json:"hash"`
}

type deriveObjectResponse struct {
	Variants   []objectResponse         `json:"variants,omitempty"`
	BlurHashes []deriveBlurHashResponse `json:"blur_hashes,omitempty"`
}

// handleDeriveObject implements §6's `POST /derive-object/<path>`: the
// request describes derived variants and BlurHash requests against the
// named VO's primary object; the response carries the resulting paths and
// hashes.
func (h *Handler) handleDeriveObject(w http.ResponseWriter, r *http.Request, path string) {
	var req deriveObjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, mediaerr.Validationf("malformed request body: %v", err))
		return
	}

	vo, err := h.VirtualObjects.FindByPath(r.Context(), path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !vo.PrimaryObjectID.Valid {
		h.writeError(w, mediaerr.Validationf("virtual object %q has no primary object", path))
		return
	}
	source, err := h.Objects.FindByID(r.Context(), vo.PrimaryObjectID.Int64)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := deriveObjectResponse{}

	for _, v := range req.Variants {
		list, err := transform.Parse(v.Transforms)
		if err != nil {
			h.writeError(w, err)
			return
		}
		result, err := h.Derive.Derive(r.Context(), derive.Request{
			Source:       source,
			SourceVO:     vo,
			Transforms:   list,
			Quality:      v.Quality,
			TargetFormat: v.Format,
		})
		if err != nil {
			h.writeError(w, err)
			return
		}
		if v.As != "" {
			namedVO, err := h.VirtualObjects.FindOrCreate(r.Context(), pathparse.SlugifyPath(v.As))
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
		resp.Variants = append(resp.Variants, toObjectResponse(result.Object))
	}

	for _, b := range req.BlurHashes {
		hash, err := h.BlurHash.Compute(r.Context(), source, b.X, b.Y, b.Bg)
		if err != nil {
			h.writeError(w, err)
			return
		}
		resp.BlurHashes = append(resp.BlurHashes, deriveBlurHashResponse{X: b.X, Y: b.Y, Bg: b.Bg, Hash: hash})
	}

	h.writeJSON(w, http.StatusOK, resp)
}
