// Package debug implements the optional request/response dump hooks
// named by spec §6 ("Debug dumps"): request_body.json,
// kiro_request_body.json, and the appended raw/modified stream logs,
// gated by DEBUG_LAST_REQUEST/DEBUG_DIR. Writes from one request are
// serialized; writes from different requests never interleave (spec
// §5, "Debug log directory"), the same discipline the credentials
// Store uses around its own file (internal/credentials/store.go).
package debug

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const (
	requestBodyFile     = "request_body.json"
	kiroRequestBodyFile = "kiro_request_body.json"
	rawStreamFile       = "response_stream_raw.txt"
	modifiedStreamFile  = "response_stream_modified.txt"
)

// Dumper writes debug artifacts to DebugDir when enabled. A disabled
// Dumper (enabled == false) makes every method a no-op, so call sites
// never need to branch on whether debugging is on.
type Dumper struct {
	mu      sync.Mutex
	enabled bool
	dir     string
	logger  *zap.Logger
}

// New builds a Dumper. enabled and dir come from DEBUG_LAST_REQUEST
// and DEBUG_DIR (spec §6).
func New(enabled bool, dir string, logger *zap.Logger) *Dumper {
	return &Dumper{enabled: enabled, dir: dir, logger: logger}
}

// PrepareNewRequest clears the previous request's dump files, holding
// the mutex for the duration so no other request's writes can land in
// between the clear and this request's first append.
func (d *Dumper) PrepareNewRequest() func() {
	if !d.enabled {
		return func() {}
	}
	d.mu.Lock()

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.logger.Warn("debug: failed to create debug dir", zap.Error(err))
	}
	for _, name := range []string{requestBodyFile, kiroRequestBodyFile, rawStreamFile, modifiedStreamFile} {
		_ = os.Remove(filepath.Join(d.dir, name))
	}

	return d.mu.Unlock
}

// LogRequestBody dumps the inbound OpenAI request body verbatim.
func (d *Dumper) LogRequestBody(body interface{}) {
	d.writeJSON(requestBodyFile, body)
}

// LogKiroRequestBody dumps the transformed upstream payload (C5's output).
func (d *Dumper) LogKiroRequestBody(body interface{}) {
	d.writeJSON(kiroRequestBodyFile, body)
}

// LogRawChunk appends one raw upstream byte chunk, before parsing.
func (d *Dumper) LogRawChunk(chunk []byte) {
	d.appendBytes(rawStreamFile, chunk)
}

// LogModifiedChunk appends one rendered SSE line, after transcoding.
func (d *Dumper) LogModifiedChunk(line string) {
	d.appendBytes(modifiedStreamFile, []byte(line))
}

func (d *Dumper) writeJSON(name string, v interface{}) {
	if !d.enabled {
		return
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		d.logger.Warn("debug: failed to marshal dump", zap.String("file", name), zap.Error(err))
		return
	}
	if err := os.WriteFile(filepath.Join(d.dir, name), data, 0o644); err != nil {
		d.logger.Warn("debug: failed to write dump", zap.String("file", name), zap.Error(err))
	}
}

func (d *Dumper) appendBytes(name string, b []byte) {
	if !d.enabled {
		return
	}
	f, err := os.OpenFile(filepath.Join(d.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		d.logger.Warn("debug: failed to open dump for append", zap.String("file", name), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		d.logger.Warn("debug: failed to append dump", zap.String("file", name), zap.Error(err))
	}
}
