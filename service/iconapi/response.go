package iconapi

import "net/http"

// loggedResponse records the response status for request logging.
type loggedResponse struct {
	http.ResponseWriter
	Request *http.Request
	Status  int
}

func newLoggedResponse(w http.ResponseWriter, r *http.Request) *loggedResponse {
	return &loggedResponse{
		ResponseWriter: w,
		Request:        r,
	}
}

// WriteHeader records the status code before passing it on.
func (lr *loggedResponse) WriteHeader(code int) {
	lr.Status = code
	lr.ResponseWriter.WriteHeader(code)
}

// Flush passes the flush on when the underlying writer supports it.
func (lr *loggedResponse) Flush() {
	if flusher, ok := lr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
