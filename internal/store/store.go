// Package store is CXDB's facade: it composes the blob CAS, turn DAG
// store, context manager, and type registry into the append and read
// operations described in spec §2 and enforces the §5 durability
// barrier across them.
package store

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/strongdm/cxdb/internal/blob"
	"github.com/strongdm/cxdb/internal/ctxstore"
	"github.com/strongdm/cxdb/internal/cxerr"
	"github.com/strongdm/cxdb/internal/registry"
	"github.com/strongdm/cxdb/internal/turn"
)

// Store is CXDB's single entry point for every durable operation.
type Store struct {
	blobs *blob.Store
	turns *turn.Log
	ctx   *ctxstore.Manager
	reg   *registry.Registry

	turnAlloc *turn.Allocator
	idemp     *idempotencyLog
}

// Open opens (or initializes) every subsystem under dir's "blobs",
// "turns", and "registry" subdirectories.
func Open(dir string, blobPolicy blob.Policy) (*Store, error) {
	for _, sub := range []string{"blobs", "turns", "registry"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w: %v", sub, cxerr.ErrIO, err)
		}
	}

	blobs, err := blob.Open(filepath.Join(dir, "blobs"), blobPolicy)
	if err != nil {
		return nil, err
	}
	turns, err := turn.Open(filepath.Join(dir, "turns"))
	if err != nil {
		_ = blobs.Close()
		return nil, err
	}
	ctxMgr, err := ctxstore.Open(filepath.Join(dir, "turns"), turns)
	if err != nil {
		_ = blobs.Close()
		_ = turns.Close()
		return nil, err
	}
	reg, err := registry.Open(filepath.Join(dir, "registry"))
	if err != nil {
		_ = blobs.Close()
		_ = turns.Close()
		_ = ctxMgr.Close()
		return nil, err
	}
	turnAlloc, err := ctxMgr.TurnAllocator()
	if err != nil {
		_ = blobs.Close()
		_ = turns.Close()
		_ = ctxMgr.Close()
		return nil, err
	}
	idemp, err := openIdempotencyLog(dir)
	if err != nil {
		_ = blobs.Close()
		_ = turns.Close()
		_ = ctxMgr.Close()
		return nil, err
	}

	return &Store{
		blobs:     blobs,
		turns:     turns,
		ctx:       ctxMgr,
		reg:       reg,
		turnAlloc: turnAlloc,
		idemp:     idemp,
	}, nil
}

func (s *Store) Close() error {
	_ = s.idemp.close()
	_ = s.ctx.Close()
	_ = s.turns.Close()
	return s.blobs.Close()
}

// Registry exposes the type registry for publish_bundle/get_bundle
// callers (wire and gateway layers).
func (s *Store) Registry() *registry.Registry { return s.reg }

// Contexts exposes the context manager for create_context/fork/
// list_contexts/get_children callers.
func (s *Store) Contexts() *ctxstore.Manager { return s.ctx }

// Blobs exposes the blob CAS for get_blob callers.
func (s *Store) Blobs() *blob.Store { return s.blobs }

// AppendTurn runs the full durability barrier for one append (spec §5):
// blob put, turn_id allocation (which durably advances the allocator's
// high-water mark when its reserved batch runs out), turn-log append,
// head update, then the idempotency record. Appends on the same
// context are serialized by Contexts().Lock.
func (s *Store) AppendTurn(req AppendRequest) (Turn, error) {
	lock := s.ctx.Lock(req.ContextID)
	lock.Lock()
	defer lock.Unlock()

	headTurnID, _, err := s.ctx.GetHead(req.ContextID)
	if err != nil {
		return Turn{}, err
	}

	if req.IdempotencyKey != "" {
		if rec, ok := s.idemp.lookup(req.ContextID, req.IdempotencyKey); ok {
			existing, err := s.turns.Get(rec.TurnID)
			if err != nil {
				return Turn{}, err
			}
			wantHash := hex.EncodeToString(blobHashOf(req.Payload)[:])
			if wantHash != rec.ContentHash {
				return Turn{}, fmt.Errorf("idempotency key %q on context %d: %w", req.IdempotencyKey, req.ContextID, cxerr.ErrConflict)
			}
			return toStoreTurn(existing), nil
		}
	}

	// §4.2 step 1: an omitted parent_turn_id continues from the
	// context's current head, not a fresh root.
	effectiveParent := req.ParentTurnID
	if effectiveParent == 0 {
		effectiveParent = headTurnID
	}

	var depth uint32
	if effectiveParent != 0 {
		parent, err := s.turns.Get(effectiveParent)
		if err != nil {
			return Turn{}, fmt.Errorf("append: parent %d: %w", effectiveParent, cxerr.ErrParentNotFound)
		}
		depth = parent.Depth + 1
	}

	hash, err := s.blobs.Put(req.Payload)
	if err != nil {
		return Turn{}, err
	}
	info, _ := s.blobs.Info(hash)

	turnID, err := s.turnAlloc.Next()
	if err != nil {
		return Turn{}, err
	}

	t := turn.Turn{
		TurnID:              turnID,
		ParentTurnID:        effectiveParent,
		Depth:               depth,
		ContentHash:         hash,
		DeclaredTypeID:      req.TypeID,
		DeclaredTypeVersion: req.TypeVersion,
		Encoding:            turn.EncodingMsgpack,
		Compression:         turn.Compression(info.Compression),
		UncompressedLen:     info.UncompressedLen,
		CreatedAtMS:         time.Now().UTC().UnixNano() / int64(time.Millisecond),
	}
	if err := s.turns.Append(t); err != nil {
		return Turn{}, err
	}

	if err := s.ctx.UpdateHead(req.ContextID, t); err != nil {
		return Turn{}, err
	}

	if req.IdempotencyKey != "" {
		if err := s.idemp.record(idempotencyRecord{
			ContextID:   req.ContextID,
			Key:         req.IdempotencyKey,
			TurnID:      t.TurnID,
			ContentHash: hex.EncodeToString(hash[:]),
		}); err != nil {
			return Turn{}, err
		}
	}

	return toStoreTurn(t), nil
}

func toStoreTurn(t turn.Turn) Turn {
	return Turn{
		TurnID:              t.TurnID,
		ParentTurnID:        t.ParentTurnID,
		Depth:               t.Depth,
		ContentHash:         blob.Hash(t.ContentHash),
		DeclaredTypeID:      t.DeclaredTypeID,
		DeclaredTypeVersion: t.DeclaredTypeVersion,
		Compression:         compressionName(t.Compression),
		UncompressedLen:     t.UncompressedLen,
		CreatedAtMS:         t.CreatedAtMS,
	}
}

func compressionName(c turn.Compression) string {
	switch c {
	case turn.CompressionZstd:
		return "zstd"
	default:
		return "none"
	}
}

func blobHashOf(payload []byte) blob.Hash {
	// Mirrors blob.Store.Put's hash computation so an idempotency replay
	// can compare a resubmitted payload without touching the blob CAS.
	return blob.Hash(blake3.Sum256(payload))
}
