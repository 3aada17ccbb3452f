package security

import (
	"mime"
	"net/http"

	"github.com/noah-isme/backend-billing/internal/common"
)

// BodyLimit guards request bodies on the API routes.
type BodyLimit struct {
	// Max caps the body size in bytes; zero disables the cap.
	Max int64
	// JSONOnly rejects bodies that are not declared as application/json.
	JSONOnly bool
}

// Middleware answers 413 when the declared length exceeds Max and wraps the
// body in http.MaxBytesReader for streamed uploads, whose overflow then
// surfaces from the decoder as *http.MaxBytesError. With JSONOnly, a body of
// any other media type gets 415.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
			next.ServeHTTP(w, r)
			return
		}
		if b.JSONOnly && !isJSON(r.Header.Get("Content-Type")) {
			common.JSONError(w, http.StatusUnsupportedMediaType, common.CodeUnsupportedMedia,
				"request body must be application/json", nil)
			return
		}
		if b.Max > 0 {
			if r.ContentLength > b.Max {
				common.JSONError(w, http.StatusRequestEntityTooLarge, common.CodePayloadTooLarge,
					"request body too large", map[string]int64{"maxBytes": b.Max})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		}
		next.ServeHTTP(w, r)
	})
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}
