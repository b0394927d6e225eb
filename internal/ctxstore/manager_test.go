package ctxstore

import (
	"errors"
	"testing"

	"github.com/strongdm/cxdb/internal/cxerr"
	"github.com/strongdm/cxdb/internal/turn"
)

// fakeTurns is a minimal in-memory TurnLookup for exercising Manager
// without a real turn.Log.
type fakeTurns struct {
	turns map[uint64]turn.Turn
}

func newFakeTurns() *fakeTurns { return &fakeTurns{turns: map[uint64]turn.Turn{}} }

func (f *fakeTurns) Exists(id uint64) bool { _, ok := f.turns[id]; return ok }
func (f *fakeTurns) Get(id uint64) (turn.Turn, error) {
	t, ok := f.turns[id]
	if !ok {
		return turn.Turn{}, cxerr.ErrNotFound
	}
	return t, nil
}
func (f *fakeTurns) put(id uint64, parent uint64, depth uint32) {
	f.turns[id] = turn.Turn{TurnID: id, ParentTurnID: parent, Depth: depth}
}

func TestCreateEmptyContext(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTurns()
	m, err := Open(dir, ft)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	c, err := m.CreateContext(0, Metadata{ClientTag: "test"})
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	if c.ContextID == 0 {
		t.Fatalf("ContextID = 0, want nonzero")
	}
	if c.HeadTurnID != 0 || c.HeadDepth != 0 {
		t.Fatalf("new empty context head = (%d, %d), want (0, 0)", c.HeadTurnID, c.HeadDepth)
	}

	head, depth, err := m.GetHead(c.ContextID)
	if err != nil {
		t.Fatalf("GetHead: %v", err)
	}
	if head != 0 || depth != 0 {
		t.Fatalf("GetHead = (%d, %d), want (0, 0)", head, depth)
	}
}

func TestUpdateHeadLinearAdvance(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTurns()
	m, err := Open(dir, ft)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	c, err := m.CreateContext(0, Metadata{})
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}

	ft.put(1, 0, 0)
	if err := m.UpdateHead(c.ContextID, ft.turns[1]); err != nil {
		t.Fatalf("UpdateHead 1: %v", err)
	}
	head, depth, _ := m.GetHead(c.ContextID)
	if head != 1 || depth != 0 {
		t.Fatalf("head after turn 1 = (%d, %d), want (1, 0)", head, depth)
	}

	ft.put(2, 1, 1)
	if err := m.UpdateHead(c.ContextID, ft.turns[2]); err != nil {
		t.Fatalf("UpdateHead 2: %v", err)
	}
	head, depth, _ = m.GetHead(c.ContextID)
	if head != 2 || depth != 1 {
		t.Fatalf("head after turn 2 = (%d, %d), want (2, 1)", head, depth)
	}
}

func TestUpdateHeadBranchIsNoOp(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTurns()
	m, err := Open(dir, ft)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	c, _ := m.CreateContext(0, Metadata{})
	ft.put(1, 0, 0)
	_ = m.UpdateHead(c.ContextID, ft.turns[1])
	ft.put(2, 1, 1)
	_ = m.UpdateHead(c.ContextID, ft.turns[2])

	// H2's head is turn 2 (parent 1). An append with explicit parent 1
	// again (a branch, since current head is 2) must not move the head.
	ft.put(3, 1, 2)
	if err := m.UpdateHead(c.ContextID, ft.turns[3]); err != nil {
		t.Fatalf("UpdateHead branch: %v", err)
	}
	head, depth, _ := m.GetHead(c.ContextID)
	if head != 2 || depth != 1 {
		t.Fatalf("head after branch append = (%d, %d), want (2, 1) unchanged", head, depth)
	}
}

func TestForkProvenance(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTurns()
	m, err := Open(dir, ft)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	a, _ := m.CreateContext(0, Metadata{})
	ft.put(10, 0, 0)
	_ = m.UpdateHead(a.ContextID, ft.turns[10])

	b, err := m.Fork(10, a.ContextID, "branch-experiment")
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if b.HeadTurnID != 10 {
		t.Fatalf("forked context head = %d, want 10", b.HeadTurnID)
	}
	if b.Metadata.Provenance.ParentContextID != a.ContextID {
		t.Fatalf("provenance parent = %d, want %d", b.Metadata.Provenance.ParentContextID, a.ContextID)
	}
	if b.Metadata.Provenance.RootContextID != a.ContextID {
		t.Fatalf("provenance root = %d, want %d", b.Metadata.Provenance.RootContextID, a.ContextID)
	}
}

func TestForkMissingBaseTurn(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTurns()
	m, err := Open(dir, ft)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	_, err = m.Fork(999, 0, "")
	if !errors.Is(err, cxerr.ErrNotFound) {
		t.Fatalf("Fork(missing base) err = %v, want ErrNotFound", err)
	}
}

func TestListAndChildren(t *testing.T) {
	dir := t.TempDir()
	ft := newFakeTurns()
	m, err := Open(dir, ft)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	a, _ := m.CreateContext(0, Metadata{ClientTag: "agent-1"})
	ft.put(1, 0, 0)
	_ = m.UpdateHead(a.ContextID, ft.turns[1])
	b, err := m.Fork(1, a.ContextID, "fork")
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}

	kids, err := m.Children(a.ContextID, false)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(kids) != 1 || kids[0].ContextID != b.ContextID {
		t.Fatalf("Children(a) = %+v, want [%d]", kids, b.ContextID)
	}

	all, err := m.List(ListFilter{ClientTag: "agent-1"}, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 || all[0].ContextID != a.ContextID {
		t.Fatalf("List(ClientTag=agent-1) = %+v, want [%d]", all, a.ContextID)
	}
}
