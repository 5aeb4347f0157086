package batchio

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kataster/internal/model"
)

// Record statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Record is one batch outcome. Failed lookups are records, not fatal errors.
type Record struct {
	ID     string          `json:"id"`
	Kind   model.Kind      `json:"kind"`
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Cached bool            `json:"cached,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Writer persists records. Implementations are safe for concurrent use.
type Writer interface {
	Write(rec Record) error
	Close() error
}

// Counter is implemented by writers that drop records they cannot represent.
type Counter interface {
	Counts() (written, skipped int)
}

// NewWriter picks the format from the path extension: .shp writes a polygon
// shapefile, anything else JSON lines.
func NewWriter(path string) (Writer, error) {
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		return NewShapeWriter(path)
	}
	return NewJSONLWriter(path)
}

// JSONLWriter writes one JSON object per line.
type JSONLWriter struct {
	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

// NewJSONLWriter creates or truncates path.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "batchio: create %s", path)
	}
	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{f: f, buf: buf, enc: enc}, nil
}

func (w *JSONLWriter) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return eris.Wrapf(w.enc.Encode(rec), "batchio: write record %s", rec.ID)
}

func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		_ = w.f.Close()
		return eris.Wrap(err, "batchio: flush jsonl")
	}
	return eris.Wrap(w.f.Close(), "batchio: close jsonl")
}
