package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/strongdm/cxdb/internal/cxerr"
)

// idempotencyRecord is one line of idempotency.log: the mapping from a
// caller-supplied key on a context to the turn it produced.
type idempotencyRecord struct {
	ContextID   uint64 `json:"context_id"`
	Key         string `json:"key"`
	TurnID      uint64 `json:"turn_id"`
	ContentHash string `json:"content_hash_hex"`
}

func idempotencyMapKey(contextID uint64, key string) string {
	return fmt.Sprintf("%d\x00%s", contextID, key)
}

// idempotencyLog is an append-only NDJSON log of idempotency key
// bindings, replayed into memory on Open so a replayed append (spec
// §8: "append with the same idempotency key on the same context
// returns the same turn record byte-for-byte") survives a restart.
type idempotencyLog struct {
	mu    sync.Mutex
	file  *os.File
	index map[string]idempotencyRecord
}

func openIdempotencyLog(dir string) (*idempotencyLog, error) {
	path := filepath.Join(dir, "idempotency.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open idempotency.log: %w: %v", cxerr.ErrIO, err)
	}

	l := &idempotencyLog{file: f, index: make(map[string]idempotencyRecord)}

	if _, err := f.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("seek idempotency.log: %w: %v", cxerr.ErrIO, err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec idempotencyRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			break // truncated trailing record; stop replay silently
		}
		l.index[idempotencyMapKey(rec.ContextID, rec.Key)] = rec
	}
	if _, err := f.Seek(0, 2); err != nil {
		return nil, fmt.Errorf("seek idempotency.log: %w: %v", cxerr.ErrIO, err)
	}
	return l, nil
}

func (l *idempotencyLog) close() error { return l.file.Close() }

func (l *idempotencyLog) lookup(contextID uint64, key string) (idempotencyRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.index[idempotencyMapKey(contextID, key)]
	return rec, ok
}

func (l *idempotencyLog) record(rec idempotencyRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	line = append(line, '\n')
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("append idempotency.log: %w: %v", cxerr.ErrIO, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync idempotency.log: %w: %v", cxerr.ErrIO, err)
	}
	l.index[idempotencyMapKey(rec.ContextID, rec.Key)] = rec
	return nil
}
