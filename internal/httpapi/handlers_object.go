package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"mediaserver/internal/digest"
	"mediaserver/internal/imaging"
	"mediaserver/internal/mediaerr"
	"mediaserver/internal/mediatype"
	"mediaserver/internal/object"
	"mediaserver/internal/vobject"
)

// handlePutObject implements §6's `PUT /object/<path>?width&height&enc&ext`:
// always writes the blob, upserts by content hash, ensures a digest-named
// VO and (if path is non-empty) a user-named VO both contain the object.
func (h *Handler) handlePutObject(w http.ResponseWriter, r *http.Request, userPath string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.MaxUploadBytes+1))
	if err != nil {
		h.writeError(w, mediaerr.Wrap(mediaerr.IO, err, "reading upload body"))
		return
	}
	if int64(len(body)) > h.MaxUploadBytes {
		h.writeError(w, mediaerr.Validationf("upload exceeds maximum size of %d bytes", h.MaxUploadBytes))
		return
	}
	if len(body) == 0 {
		h.writeError(w, mediaerr.Validationf("empty upload body"))
		return
	}

	q := r.URL.Query()
	userExt := q.Get("ext")

	top, sub, ok := mediatype.SplitContentType(r.Header.Get("Content-Type"))
	if !ok {
		top, sub = "application", "octet-stream"
	}
	top, sub = mediatype.ContentTypeOrFromSafeExt(top, sub, userExt)
	if top == "application" && sub == "octet-stream" {
		if sniffTop, sniffSub, sniffed := mediatype.SniffContentType(body); sniffed {
			top, sub = sniffTop, sniffSub
		}
	}
	contentType := top + "/" + sub
	ext := mediatype.ContentTypeToExtension(top, sub, userExt)

	encoding := mediatype.ParseContentEncoding(q.Get("enc"))

	width, err := queryInt32(r, "width")
	if err != nil {
		h.writeError(w, err)
		return
	}
	height, err := queryInt32(r, "height")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if width == nil && height == nil && mediatype.IsImage(contentType) {
		if format, ok := mediatype.ImageFormatFromContentType(contentType); ok {
			probeBody := body
			if encoding == mediatype.Gzip {
				if decoded, derr := decompressGzip(body); derr == nil {
					probeBody = decoded
				}
			}
			if wpx, hpx, derr := imaging.DimensionsOnly(probeBody, format); derr == nil {
				w32, h32 := int32(wpx), int32(hpx)
				width, height = &w32, &h32
			}
		}
	}

	contentHash := digest.DigestBytes(body)
	filePath := contentHash[:20] + "." + ext + encoding.FSExtension()

	if err := digest.WriteBytes(filepath.Join(h.BlobDir, filePath), body); err != nil {
		h.writeError(w, err)
		return
	}

	var contentHeaders *string
	if cd := r.Header.Get("Content-Disposition"); cd != "" {
		contentHeaders = &cd
	}

	obj, _, err := h.Objects.UpsertObject(r.Context(), object.Command{
		ContentHash:     contentHash,
		ContentType:     contentType,
		ContentEncoding: encoding.String(),
		Length:          int64(len(body)),
		FilePath:        filePath,
		Width:           width,
		Height:          height,
		ContentHeaders:  contentHeaders,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	if _, err := vobject.EnsureRootLink(r.Context(), h.VirtualObjects, contentHash, obj.ID); err != nil {
		h.writeError(w, err)
		return
	}

	if userPath != "" {
		namedVO, err := h.VirtualObjects.FindOrCreate(r.Context(), userPath)
		if err != nil {
			h.writeError(w, err)
			return
		}
		if err := h.VirtualObjects.AddRelations(r.Context(), namedVO, []int64{obj.ID}); err != nil {
			h.writeError(w, err)
			return
		}
		if err := h.VirtualObjects.SetPrimaryIfNone(r.Context(), namedVO, obj.ID); err != nil {
			h.writeError(w, err)
			return
		}
	}

	h.writeJSON(w, http.StatusOK, toObjectResponse(obj))
}

// decompressGzip is used only to probe dimensions of a gzip-encoded image
// upload in flight; the stored blob keeps the original gzip bytes exactly
// as uploaded. klauspost's reader is a drop-in for stdlib compress/gzip,
// the same package the teacher uses for its own gzip decompression stage.
func decompressGzip(body []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.Decode, err, "opening gzip upload for dimension probe")
	}
	defer zr.Close()
	decoded, err := io.ReadAll(zr)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.Decode, err, "decompressing gzip upload for dimension probe")
	}
	return decoded, nil
}

// handleGetObjectMeta is the supplemented read-only metadata endpoint: a
// thin echo of an Object by its digest-VO path.
func (h *Handler) handleGetObjectMeta(w http.ResponseWriter, r *http.Request, path string) {
	obj, err := h.Objects.FindByFilePath(r.Context(), path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toObjectResponse(obj))
}
