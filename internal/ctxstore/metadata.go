package ctxstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/strongdm/cxdb/internal/cxerr"
)

// metadataRecord is one line of metadata.log, which lives in the
// directory passed to Open (turns/ under the store's data dir).
type metadataRecord struct {
	ContextID   uint64   `json:"context_id"`
	CreatedAtMS int64    `json:"created_at_ms"`
	Metadata    Metadata `json:"metadata"`
}

// metadataLog is an append-only NDJSON file of context creation
// records, written once per context and never rewritten (spec C3:
// "A context is never destroyed"). headTable.metadataOffset points
// into it so a context's full Metadata can be recovered without
// keeping every field in the compact heads.tbl row.
type metadataLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

func openMetadataLog(dir string) (*metadataLog, error) {
	path := filepath.Join(dir, "metadata.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open metadata.log: %w: %v", cxerr.ErrIO, err)
	}
	return &metadataLog{file: f, path: path}, nil
}

func (ml *metadataLog) close() error { return ml.file.Close() }

// append writes rec as one JSON line, fsyncs, and returns the byte
// offset it was written at.
func (ml *metadataLog) append(rec metadataRecord) (uint64, error) {
	line, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encode metadata record: %w", err)
	}
	line = append(line, '\n')

	ml.mu.Lock()
	defer ml.mu.Unlock()

	info, err := ml.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat metadata.log: %w: %v", cxerr.ErrIO, err)
	}
	offset := uint64(info.Size())
	if _, err := ml.file.Write(line); err != nil {
		return 0, fmt.Errorf("append metadata.log: %w: %v", cxerr.ErrIO, err)
	}
	if err := ml.file.Sync(); err != nil {
		return 0, fmt.Errorf("sync metadata.log: %w: %v", cxerr.ErrIO, err)
	}
	return offset, nil
}

// readAt reads and decodes the single JSON line starting at offset.
func (ml *metadataLog) readAt(offset uint64) (metadataRecord, error) {
	r := io.NewSectionReader(ml.file, int64(offset), 1<<20)
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return metadataRecord{}, fmt.Errorf("metadata.log at %d: %w: %v", offset, cxerr.ErrCorrupt, err)
	}
	var rec metadataRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return metadataRecord{}, fmt.Errorf("metadata.log at %d: %w: %v", offset, cxerr.ErrCorrupt, err)
	}
	return rec, nil
}
