package http

import (
	"mime"
	"net/http"

	"github.com/Usmaexe/artisanal-moroccan-market/pkg/httputil"
)

// ContentTypeJSON rejects POST and PUT bodies declared as anything other than
// application/json with 415. A missing Content-Type is accepted.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			if ct := r.Header.Get("Content-Type"); ct != "" {
				mediaType, _, err := mime.ParseMediaType(ct)
				if err != nil || mediaType != "application/json" {
					httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
						Error: &httputil.ErrorResponse{
							Code:    "UNSUPPORTED_MEDIA_TYPE",
							Message: "Content-Type must be application/json",
						},
					})
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
