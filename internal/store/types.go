package store

import (
	"github.com/strongdm/cxdb/internal/blob"
	"github.com/strongdm/cxdb/internal/projection"
)

// AppendRequest is the decoded form of the append contract (spec §6.2).
type AppendRequest struct {
	ContextID       uint64
	ParentTurnID    uint64
	TypeID          string
	TypeVersion     uint32
	Payload         []byte
	IdempotencyKey  string
}

// Turn is the domain-level view of a committed turn returned to callers:
// turn.Turn plus the resolved content hash rendered as a fixed array,
// kept separate from internal/turn.Turn so store's public surface does
// not leak the on-disk record layout.
type Turn struct {
	TurnID              uint64
	ParentTurnID        uint64
	Depth               uint32
	ContentHash         blob.Hash
	DeclaredTypeID      string
	DeclaredTypeVersion uint32
	Compression         string
	UncompressedLen     uint32
	CreatedAtMS         int64
}

// TypeHintMode selects which descriptor projection applies to a turn
// (spec §4.4).
type TypeHintMode string

const (
	HintInherit  TypeHintMode = "inherit"
	HintLatest   TypeHintMode = "latest"
	HintExplicit TypeHintMode = "explicit"
)

// ReadOptions bundles the read contract's options (spec §6.3) into one
// immutable value threaded through get_turns.
type ReadOptions struct {
	View                projection.View
	TypeHintMode        TypeHintMode
	ExplicitTypeID      string
	ExplicitTypeVersion uint32
	Render              projection.Options
}

// DefaultReadOptions mirrors the conservative defaults used by the
// boundary-behavior examples in spec §8.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{
		View:         projection.ViewTyped,
		TypeHintMode: HintInherit,
		Render:       projection.DefaultOptions(),
	}
}

// TurnView is one rendered turn in a get_turns response.
type TurnView struct {
	Turn              Turn
	Typed             map[string]any
	TypedUnknown      map[string]any
	Raw               []byte
	TypedUnavailable  bool
	TypedError        error
}

// TurnBatch is get_turns' response shape.
type TurnBatch struct {
	ContextID        uint64
	HeadTurnID       uint64
	HeadDepth        uint32
	Turns            []TurnView
	NextBeforeTurnID uint64
	HasMore          bool
}
