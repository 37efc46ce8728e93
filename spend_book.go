package xordrive

import (
	"sync"

	"go.uber.org/zap"
)

// SpendBook is the concurrency boundary around a SpendDag. The DAG itself
// is lock-free by design; the book serializes mutation so that the
// check-then-insert in TryAdd is atomic across callers.
type SpendBook struct {
	mu  sync.RWMutex
	dag *SpendDag
}

// NewSpendBook wraps a fresh DAG.
func NewSpendBook(logger *zap.Logger) *SpendBook {
	return &SpendBook{dag: NewSpendDagWithHooks(nil, logger)}
}

// NewSpendBookWithHooks wraps a fresh DAG with observability hooks.
func NewSpendBookWithHooks(hooks *Hooks, logger *zap.Logger) *SpendBook {
	return &SpendBook{dag: NewSpendDagWithHooks(hooks, logger)}
}

// NewSpendBookFromDag wraps an existing DAG, e.g. one loaded from disk.
func NewSpendBookFromDag(dag *SpendDag) *SpendBook {
	return &SpendBook{dag: dag}
}

// TryAdd records a spend unless an identical one is already known.
// Returns true for a first insert, false for a duplicate, and
// DoubleSpendError when a conflicting spend already holds the address.
func (b *SpendBook) TryAdd(spend *SignedSpend) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dag.CheckAndInsert(spend.Address(), spend)
}

// Get classifies an address and returns its recorded spends.
func (b *SpendBook) Get(addr SpendAddress) SpendGet {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dag.GetSpend(addr)
}

// Utxos returns the current unspent leaves of the DAG.
func (b *SpendBook) Utxos() []SpendAddress {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dag.GetUtxos()
}

// Verify audits the DAG from a trusted source under the read lock.
func (b *SpendBook) Verify(source SpendAddress) []DagError {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dag.Verify(source)
}

// MergeFrom folds every spend of another DAG into the book.
func (b *SpendBook) MergeFrom(other *SpendDag) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dag.Merge(other)
}

// Dump writes the current DAG to disk under the read lock.
func (b *SpendBook) Dump(path string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dag.DumpToFile(path)
}
