package gate

import (
	"bytes"
	"net/http"
)

// responseRecorder buffers the feature handler's response so credit
// headers can be attached after the charge, which happens only once the
// handler has finished. Headers must be written before the body reaches
// the wire, hence the buffer.
type responseRecorder struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{
		header: make(http.Header),
		status: http.StatusOK,
	}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	return r.body.Write(p)
}

// success reports whether the buffered response is a 2xx.
func (r *responseRecorder) success() bool {
	return r.status >= 200 && r.status < 300
}

// flush copies the buffered response to the real writer.
func (r *responseRecorder) flush(w http.ResponseWriter) {
	for key, values := range r.header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(r.status)
	w.Write(r.body.Bytes())
}
