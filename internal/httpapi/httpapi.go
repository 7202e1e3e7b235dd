// Package httpapi is the HTTP boundary (§6): a thin http.Handler wired to
// the service layer built in internal/{object,vobject,resolver,derive,blurhash}.
// Grounded on HttpIngester/handlers.go's single ServeHTTP dispatch over a
// hand-built table rather than a third-party router — the same shape,
// generalized from an exact-path lookup to a small ordered set of prefix
// matchers since this surface's routes carry variable path suffixes.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"mediaserver/internal/blurhash"
	"mediaserver/internal/derive"
	"mediaserver/internal/logging"
	"mediaserver/internal/mediaerr"
	"mediaserver/internal/object"
	"mediaserver/internal/resolver"
	"mediaserver/internal/vobject"
)

// Handler serves the six canonical routes of §6 plus the supplemented
// object-meta convenience endpoint.
type Handler struct {
	Objects        *object.Service
	VirtualObjects *vobject.Service
	Resolver       *resolver.Resolver
	Derive         *derive.Coordinator
	BlurHash       *blurhash.Service
	Log            *logging.Logger
	BlobDir        string
	MaxUploadBytes int64
	ETagKey        []byte
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")

	switch {
	case r.Method == http.MethodPut && strings.HasPrefix(path, "object/"):
		h.handlePutObject(w, r, strings.TrimPrefix(path, "object/"))
	case r.Method == http.MethodGet && strings.HasPrefix(path, "object/") && strings.HasSuffix(path, "/meta"):
		sub := strings.TrimSuffix(strings.TrimPrefix(path, "object/"), "/meta")
		h.handleGetObjectMeta(w, r, sub)
	case r.Method == http.MethodPut && strings.HasPrefix(path, "virtual-object/"):
		h.handlePutVirtualObject(w, r, strings.TrimPrefix(path, "virtual-object/"))
	case r.Method == http.MethodGet && strings.HasPrefix(path, "virtual-object/"):
		h.handleGetVirtualObject(w, r, strings.TrimPrefix(path, "virtual-object/"))
	case r.Method == http.MethodPost && strings.HasPrefix(path, "derive-object/"):
		h.handleDeriveObject(w, r, strings.TrimPrefix(path, "derive-object/"))
	case r.Method == http.MethodGet && strings.HasPrefix(path, "blur-hash/"):
		h.handleGetBlurHash(w, r, strings.TrimPrefix(path, "blur-hash/"))
	case r.Method == http.MethodGet:
		h.handleResolve(w, r, path)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// --- shared plumbing --------------------------------------------------

func statusForKind(k mediaerr.Kind) int {
	switch k {
	case mediaerr.Validation:
		return http.StatusBadRequest
	case mediaerr.NotFound:
		return http.StatusNotFound
	case mediaerr.Conflict:
		return http.StatusConflict
	case mediaerr.Decode:
		return http.StatusUnprocessableEntity
	case mediaerr.Concurrency:
		return http.StatusServiceUnavailable
	case mediaerr.IO, mediaerr.Encode, mediaerr.Config:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "unknown"
	if me, ok := err.(*mediaerr.Error); ok {
		status = statusForKind(me.Kind)
		kind = me.Kind.String()
	}
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed: %v", err)
	} else {
		h.Log.Info("request rejected (%s): %v", kind, err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.Warn("failed to encode json response: %v", err)
	}
}

func queryInt32(r *http.Request, name string) (*int32, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return nil, mediaerr.Validationf("invalid %s %q: %v", name, s, err)
	}
	v := int32(n)
	return &v, nil
}
