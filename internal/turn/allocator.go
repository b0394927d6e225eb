package turn

import "sync"

// HighWaterMarkStore persists the ID allocator's durable high-water
// mark. The heads.tbl file (see internal/ctxstore) implements this,
// since spec §4.2 places the allocator's durable counter "in the head
// table's metadata header".
type HighWaterMarkStore interface {
	LoadHighWaterMark() (uint64, error)
	SaveHighWaterMark(uint64) error
}

// DefaultBatchSize is the number of IDs reserved per durable
// high-water-mark advance (spec §4.2 "batch-commit").
const DefaultBatchSize = 256

// Allocator hands out turn_id values in [1, ∞), unique and
// monotonically increasing, by reserving batches of BatchSize IDs at
// a time and persisting only the batch's high-water mark. On crash,
// the next process starts from the persisted mark: IDs already handed
// out from the lost in-memory batch are never reused, leaving gaps,
// which spec T1 explicitly permits ("uniqueness, not density").
type Allocator struct {
	mu sync.Mutex

	store     HighWaterMarkStore
	batchSize uint64

	next         uint64 // next ID to hand out
	reservedThru uint64 // durably reserved up to (inclusive)
}

// NewAllocator loads the current high-water mark from store and
// prepares to hand out IDs starting just after it.
func NewAllocator(store HighWaterMarkStore, batchSize uint64) (*Allocator, error) {
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	hwm, err := store.LoadHighWaterMark()
	if err != nil {
		return nil, err
	}
	return &Allocator{
		store:        store,
		batchSize:    batchSize,
		next:         hwm + 1,
		reservedThru: hwm,
	}, nil
}

// Next reserves and returns the next turn_id, advancing the durable
// high-water mark by a full batch whenever the current reservation is
// exhausted.
func (a *Allocator) Next() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next > a.reservedThru {
		newMark := a.reservedThru + a.batchSize
		if err := a.store.SaveHighWaterMark(newMark); err != nil {
			return 0, err
		}
		a.reservedThru = newMark
	}

	id := a.next
	a.next++
	return id, nil
}
