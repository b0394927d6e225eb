package ctxstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/strongdm/cxdb/internal/cxerr"
	"github.com/strongdm/cxdb/internal/turn"
)

// TurnLookup is the slice of the turn store Manager needs: enough to
// validate a base_turn_id on create/fork and to resolve a turn's
// depth. internal/store's Store satisfies this via its *turn.Log.
type TurnLookup interface {
	Exists(turnID uint64) bool
	Get(turnID uint64) (turn.Turn, error)
}

// Manager is CXDB's context manager (spec §4.3).
type Manager struct {
	heads        *headTable
	metadata     *metadataLog
	turns        TurnLookup
	ctxAllocator *turn.Allocator

	locksMu sync.Mutex
	locks   map[uint64]*sync.Mutex
}

// Open opens (or creates) the context manager's on-disk state under
// dir ("<dir>/heads.tbl", "<dir>/metadata.log"). turns resolves base
// turn IDs for create_context/fork.
func Open(dir string, turns TurnLookup) (*Manager, error) {
	ht, err := openHeadTable(dir)
	if err != nil {
		return nil, err
	}
	ml, err := openMetadataLog(dir)
	if err != nil {
		return nil, err
	}
	alloc, err := turn.NewAllocator(contextHWMStore{ht: ht}, turn.DefaultBatchSize)
	if err != nil {
		_ = ml.close()
		return nil, err
	}
	return &Manager{
		heads:        ht,
		metadata:     ml,
		turns:        turns,
		ctxAllocator: alloc,
		locks:        make(map[uint64]*sync.Mutex),
	}, nil
}

func (m *Manager) Close() error { return m.metadata.close() }

// TurnAllocator exposes the turn_id allocator, which shares the same
// heads.tbl high-water-mark header as the context_id allocator (spec
// §4.2: the allocator's durable counter lives in the head table).
func (m *Manager) TurnAllocator() (*turn.Allocator, error) {
	return turn.NewAllocator(m.heads, turn.DefaultBatchSize)
}

// Lock returns the per-context mutex used to serialize appends on
// contextID (spec §5: "Appends on the same context are serialized by
// a per-context lock").
func (m *Manager) Lock(contextID uint64) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[contextID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[contextID] = l
	}
	return l
}

// CreateContext allocates a new context_id with the given base turn
// (0 for empty) and metadata.
func (m *Manager) CreateContext(baseTurnID uint64, md Metadata) (Context, error) {
	var depth uint32
	if baseTurnID != 0 {
		base, err := m.turns.Get(baseTurnID)
		if err != nil {
			return Context{}, fmt.Errorf("create_context: base turn %d: %w", baseTurnID, err)
		}
		depth = base.Depth
	}

	id, err := m.ctxAllocator.Next()
	if err != nil {
		return Context{}, err
	}

	now := nowMS()
	offset, err := m.metadata.append(metadataRecord{ContextID: id, CreatedAtMS: now, Metadata: md})
	if err != nil {
		return Context{}, err
	}
	if err := m.heads.set(headEntry{
		contextID:      id,
		headTurnID:     baseTurnID,
		headDepth:      depth,
		metadataOffset: offset,
	}); err != nil {
		return Context{}, err
	}

	return Context{ContextID: id, HeadTurnID: baseTurnID, HeadDepth: depth, CreatedAtMS: now, Metadata: md}, nil
}

// Fork creates a new context whose head is baseTurnID. The parent
// recorded in its provenance is the caller-supplied owningContextID;
// the owning context is not looked up from baseTurnID, so with
// owningContextID 0 only spawnReason is recorded. Root is the parent's
// recorded root, or the parent itself when it has none. Forking is
// O(1): no payload is copied.
func (m *Manager) Fork(baseTurnID uint64, owningContextID uint64, spawnReason string) (Context, error) {
	if baseTurnID == 0 {
		return Context{}, fmt.Errorf("fork: %w: base_turn_id must be nonzero", cxerr.ErrParentNotFound)
	}
	if !m.turns.Exists(baseTurnID) {
		return Context{}, fmt.Errorf("fork: base turn %d: %w", baseTurnID, cxerr.ErrNotFound)
	}

	prov := Provenance{SpawnReason: spawnReason}
	if owningContextID != 0 {
		prov.ParentContextID = owningContextID
		if parent, ok := m.heads.get(owningContextID); ok {
			rec, err := m.metadata.readAt(parent.metadataOffset)
			if err == nil && rec.Metadata.Provenance.RootContextID != 0 {
				prov.RootContextID = rec.Metadata.Provenance.RootContextID
			} else {
				prov.RootContextID = owningContextID
			}
		} else {
			prov.RootContextID = owningContextID
		}
	}

	return m.CreateContext(baseTurnID, Metadata{Provenance: prov})
}

// UpdateHead advances contextID's head to newTurn if newTurn.Depth
// strictly exceeds the current head's depth (linear advance, C2).
// If newTurn's parent is not the current head, this is a branch: the
// call is a no-op (the context's head does not move) per spec §4.3.
func (m *Manager) UpdateHead(contextID uint64, newTurn turn.Turn) error {
	current, ok := m.heads.get(contextID)
	if !ok {
		return fmt.Errorf("update_head: context %d: %w", contextID, cxerr.ErrContextNotFound)
	}

	if newTurn.ParentTurnID != current.headTurnID {
		return nil // branch: head stays put
	}
	if current.headTurnID != 0 && newTurn.Depth <= current.headDepth {
		return cxerr.NewParentMismatch(newTurn.ParentTurnID, "new head depth does not strictly exceed current head depth")
	}

	current.headTurnID = newTurn.TurnID
	current.headDepth = newTurn.Depth
	return m.heads.set(current)
}

// GetContext returns the current state of contextID.
func (m *Manager) GetContext(contextID uint64) (Context, error) {
	e, ok := m.heads.get(contextID)
	if !ok {
		return Context{}, fmt.Errorf("context %d: %w", contextID, cxerr.ErrContextNotFound)
	}
	rec, err := m.metadata.readAt(e.metadataOffset)
	if err != nil {
		return Context{}, err
	}
	return Context{
		ContextID:   contextID,
		HeadTurnID:  e.headTurnID,
		HeadDepth:   e.headDepth,
		CreatedAtMS: rec.CreatedAtMS,
		Metadata:    rec.Metadata,
	}, nil
}

// GetHead returns just the head pointer, O(1), without touching the
// metadata log.
func (m *Manager) GetHead(contextID uint64) (headTurnID uint64, headDepth uint32, err error) {
	e, ok := m.heads.get(contextID)
	if !ok {
		return 0, 0, fmt.Errorf("context %d: %w", contextID, cxerr.ErrContextNotFound)
	}
	return e.headTurnID, e.headDepth, nil
}

// ListFilter narrows List's results.
type ListFilter struct {
	ClientTag string
	SessionID string
	Label     string
}

func (f ListFilter) matches(md Metadata) bool {
	if f.ClientTag != "" && f.ClientTag != md.ClientTag {
		return false
	}
	if f.SessionID != "" && f.SessionID != md.SessionID {
		return false
	}
	if f.Label != "" {
		found := false
		for _, l := range md.Labels {
			if l == f.Label {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// List returns up to limit contexts (in context_id order) matching
// filter. limit <= 0 means unlimited.
func (m *Manager) List(filter ListFilter, limit int) ([]Context, error) {
	m.heads.mu.RLock()
	ids := make([]uint64, 0, len(m.heads.entries))
	for id := range m.heads.entries {
		ids = append(ids, id)
	}
	m.heads.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Context, 0, len(ids))
	for _, id := range ids {
		c, err := m.GetContext(id)
		if err != nil {
			return nil, err
		}
		if !filter.matches(c.Metadata) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Children returns contexts whose provenance names contextID as
// parent. If recursive, descendants of descendants are included too.
func (m *Manager) Children(contextID uint64, recursive bool) ([]Context, error) {
	all, err := m.List(ListFilter{}, 0)
	if err != nil {
		return nil, err
	}

	childrenOf := make(map[uint64][]Context)
	for _, c := range all {
		p := c.Metadata.Provenance.ParentContextID
		childrenOf[p] = append(childrenOf[p], c)
	}

	var collect func(id uint64) []Context
	collect = func(id uint64) []Context {
		direct := childrenOf[id]
		if !recursive {
			return direct
		}
		out := make([]Context, 0, len(direct))
		out = append(out, direct...)
		for _, c := range direct {
			out = append(out, collect(c.ContextID)...)
		}
		return out
	}
	return collect(contextID), nil
}
