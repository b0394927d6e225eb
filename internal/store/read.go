package store

import (
	"fmt"

	"github.com/strongdm/cxdb/internal/blob"
	"github.com/strongdm/cxdb/internal/cxerr"
	"github.com/strongdm/cxdb/internal/projection"
	"github.com/strongdm/cxdb/internal/registry"
	"github.com/strongdm/cxdb/internal/turn"
)

// GetTurns implements get_turns (spec §6.3): walk contextID's head
// chain backward from beforeTurnID (or the head, if beforeTurnID is 0)
// collecting up to limit turns, oldest-first in the returned batch.
func (s *Store) GetTurns(contextID uint64, limit int, beforeTurnID uint64, opts ReadOptions) (TurnBatch, error) {
	headTurnID, headDepth, err := s.ctx.GetHead(contextID)
	if err != nil {
		return TurnBatch{}, err
	}

	batch := TurnBatch{ContextID: contextID, HeadTurnID: headTurnID, HeadDepth: headDepth}
	if limit <= 0 {
		return batch, nil
	}

	cursor := headTurnID
	if beforeTurnID != 0 {
		before, err := s.turns.Get(beforeTurnID)
		if err != nil {
			return TurnBatch{}, err
		}
		cursor = before.ParentTurnID
	}

	var newestFirst []turn.Turn
	for len(newestFirst) < limit && cursor != 0 {
		t, err := s.turns.Get(cursor)
		if err != nil {
			return TurnBatch{}, err
		}
		newestFirst = append(newestFirst, t)
		cursor = t.ParentTurnID
	}

	batch.HasMore = cursor != 0
	if batch.HasMore && len(newestFirst) > 0 {
		batch.NextBeforeTurnID = newestFirst[len(newestFirst)-1].TurnID
	}

	views := make([]TurnView, len(newestFirst))
	for i, t := range newestFirst {
		oldestFirstIdx := len(newestFirst) - 1 - i
		view, err := s.renderTurn(t, opts)
		if err != nil {
			return TurnBatch{}, err
		}
		views[oldestFirstIdx] = view
	}
	batch.Turns = views
	return batch, nil
}

// renderTurn applies the view/type_hint_mode/rendering options to one
// turn, fetching its payload from the blob CAS as needed.
func (s *Store) renderTurn(t turn.Turn, opts ReadOptions) (TurnView, error) {
	view := TurnView{Turn: toStoreTurn(t)}

	needsRaw := opts.View == projection.ViewRaw || opts.View == projection.ViewBoth
	needsTyped := opts.View == projection.ViewTyped || opts.View == projection.ViewBoth

	var payload []byte
	if needsRaw || needsTyped {
		p, err := s.blobs.Get(blobHashFromTurn(t))
		if err != nil {
			return TurnView{}, err
		}
		payload = p
	}
	if needsRaw {
		view.Raw = payload
	}
	if !needsTyped {
		return view, nil
	}

	desc, descErr := s.resolveDescriptor(t, opts)
	if descErr != nil {
		if opts.View == projection.ViewTyped {
			return TurnView{}, descErr
		}
		// view=both: degrade to raw-only, no hard failure.
		view.TypedUnavailable = true
		view.TypedError = descErr
		return view, nil
	}

	res, err := projection.Project(payload, desc, s.reg, opts.Render)
	if err != nil {
		if opts.View == projection.ViewTyped {
			return TurnView{}, err
		}
		view.TypedUnavailable = true
		view.TypedError = err
		return view, nil
	}
	view.Typed = res.Data
	view.TypedUnknown = res.Unknown
	return view, nil
}

func (s *Store) resolveDescriptor(t turn.Turn, opts ReadOptions) (registry.Descriptor, error) {
	switch opts.TypeHintMode {
	case HintExplicit:
		d, ok := s.reg.LookupDescriptor(opts.ExplicitTypeID, opts.ExplicitTypeVersion)
		if !ok {
			return nil, fmt.Errorf("%w: %s@%d", cxerr.ErrDescriptorMissing, opts.ExplicitTypeID, opts.ExplicitTypeVersion)
		}
		return d, nil
	case HintLatest:
		v, ok := s.reg.LatestVersion(t.DeclaredTypeID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", cxerr.ErrDescriptorMissing, t.DeclaredTypeID)
		}
		if t.DeclaredTypeVersion > v {
			// declared version newer than anything registered: it is
			// looked up as-is, which is DescriptorMissing.
			return nil, fmt.Errorf("%w: %s@%d", cxerr.ErrDescriptorMissing, t.DeclaredTypeID, t.DeclaredTypeVersion)
		}
		d, ok := s.reg.LookupDescriptor(t.DeclaredTypeID, v)
		if !ok {
			return nil, fmt.Errorf("%w: %s@%d", cxerr.ErrDescriptorMissing, t.DeclaredTypeID, v)
		}
		return d, nil
	default: // HintInherit
		d, ok := s.reg.LookupDescriptor(t.DeclaredTypeID, t.DeclaredTypeVersion)
		if !ok {
			// declared_type_version newer than anything registered, or
			// the type was never published: DescriptorMissing (spec §9
			// open-question resolution: use the declared version as-is).
			return nil, fmt.Errorf("%w: %s@%d", cxerr.ErrDescriptorMissing, t.DeclaredTypeID, t.DeclaredTypeVersion)
		}
		return d, nil
	}
}

func blobHashFromTurn(t turn.Turn) blob.Hash {
	return blob.Hash(t.ContentHash)
}
