package httpapi

import "mediaserver/internal/store"

// objectResponse mirrors §6's PUT /object and the objects embedded in a
// virtual-object response.
type objectResponse struct {
	Path            string `json:"path"`
	ContentType     string `json:"content_type"`
	ContentEncoding string `json:"content_encoding"`
	ContentLength   int64  `json:"content_length"`
	Width           *int32 `json:"width,omitempty"`
	Height          *int32 `json:"height,omitempty"`
}

func toObjectResponse(o *store.Object) objectResponse {
	resp := objectResponse{
		Path:            o.FilePath,
		ContentType:     o.ContentType,
		ContentEncoding: o.ContentEncoding,
		ContentLength:   o.Length,
	}
	if o.Width.Valid {
		w := o.Width.Int32
		resp.Width = &w
	}
	if o.Height.Valid {
		hgt := o.Height.Int32
		resp.Height = &hgt
	}
	return resp
}

// virtualObjectResponse mirrors §6's GET /virtual-object.
type virtualObjectResponse struct {
	Path    string           `json:"path"`
	Objects []objectResponse `json:"objects"`
}

func toVirtualObjectResponse(vo *store.VirtualObject, objects []*store.Object) virtualObjectResponse {
	resp := virtualObjectResponse{Path: vo.ObjectPath, Objects: make([]objectResponse, len(objects))}
	for i, o := range objects {
		resp.Objects[i] = toObjectResponse(o)
	}
	return resp
}
