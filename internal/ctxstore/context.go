// Package ctxstore implements CXDB's context manager (spec §4.3): the
// mutable head-pointer table, context creation/fork, and the
// head-movement rules (C1-C3) that give a context its "single linear
// chain, branch via a new context" semantics.
package ctxstore

import "time"

// Provenance records how a context came to exist, when it was created
// by fork rather than a bare create_context call.
type Provenance struct {
	ParentContextID uint64 `json:"parent_context_id,omitempty"`
	RootContextID   uint64 `json:"root_context_id,omitempty"`
	SpawnReason     string `json:"spawn_reason,omitempty"`
}

// Metadata is the caller-supplied, immutable-after-creation portion of
// a Context (spec §3 "Context").
type Metadata struct {
	ClientTag  string            `json:"client_tag,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Title      string            `json:"title,omitempty"`
	Labels     []string          `json:"labels,omitempty"`
	Provenance Provenance        `json:"provenance,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Context is a mutable branch pointer (spec §3 "Context"). Only
// HeadTurnID/HeadDepth ever change after creation (C3).
type Context struct {
	ContextID   uint64
	HeadTurnID  uint64
	HeadDepth   uint32
	CreatedAtMS int64
	Metadata    Metadata
}

func nowMS() int64 { return time.Now().UTC().UnixNano() / int64(time.Millisecond) }
