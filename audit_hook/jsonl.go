package audithook

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// JSONLRecorder writes one JSON object per line to w.
type JSONLRecorder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLRecorder returns a recorder appending to w.
func NewJSONLRecorder(w io.Writer) *JSONLRecorder {
	return &JSONLRecorder{enc: json.NewEncoder(w)}
}

// Record implements Recorder.
func (r *JSONLRecorder) Record(_ context.Context, evt *AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(evt)
}
