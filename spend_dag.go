package xordrive

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
)

// SpendStatus classifies what the DAG knows about an address.
type SpendStatus uint8

const (
	// SpendStatusNotFound - the address is unknown to the DAG.
	SpendStatusNotFound SpendStatus = iota
	// SpendStatusUtxo - the address was referenced by another spend but no
	// spend of its own has been seen.
	SpendStatusUtxo
	// SpendStatusSpend - exactly one spend is recorded at the address.
	SpendStatusSpend
	// SpendStatusDoubleSpend - two or more distinct spends are recorded.
	SpendStatusDoubleSpend
)

// String returns a human-readable name for the status.
func (s SpendStatus) String() string {
	switch s {
	case SpendStatusNotFound:
		return "NOT_FOUND"
	case SpendStatusUtxo:
		return "UTXO"
	case SpendStatusSpend:
		return "SPEND"
	case SpendStatusDoubleSpend:
		return "DOUBLE_SPEND"
	default:
		return "UNKNOWN"
	}
}

// SpendGet is the result of looking up an address in the DAG.
type SpendGet struct {
	Status SpendStatus
	// Spends holds every recorded spend at the address: empty for NotFound
	// and Utxo, one for Spend, all conflicting ones for DoubleSpend.
	Spends []*SignedSpend
}

// DoubleSpendError reports an attempt to record a second, distinct spend
// at an already-spent address. The conflicting spend is retained in the
// DAG as evidence before this error is returned.
type DoubleSpendError struct {
	Addr SpendAddress
}

func (e *DoubleSpendError) Error() string {
	return fmt.Sprintf("double spend detected at %s", e.Addr.Name)
}

// DagErrorKind enumerates the integrity violations a DAG audit can find.
type DagErrorKind uint8

const (
	// DagErrMissingSource - the audit's source address does not resolve to
	// exactly one unambiguous spend; nothing else can be trusted.
	DagErrMissingSource DagErrorKind = iota
	// DagErrIncoherentDag - a node's graph-derived descendants disagree
	// with its transaction-declared descendants.
	DagErrIncoherentDag
	// DagErrOrphanSpend - a spend not reachable from the audit source.
	DagErrOrphanSpend
	// DagErrMissingAncestry - a spend whose direct ancestor is unknown or
	// still an unspent placeholder.
	DagErrMissingAncestry
	// DagErrInvalidTransaction - a spend failing signature or arithmetic
	// verification against its ancestors.
	DagErrInvalidTransaction
	// DagErrPoisonedAncestry - a spend descending from an invalid one.
	DagErrPoisonedAncestry
)

// String returns a human-readable name for the error kind.
func (k DagErrorKind) String() string {
	switch k {
	case DagErrMissingSource:
		return "MISSING_SOURCE"
	case DagErrIncoherentDag:
		return "INCOHERENT_DAG"
	case DagErrOrphanSpend:
		return "ORPHAN_SPEND"
	case DagErrMissingAncestry:
		return "MISSING_ANCESTRY"
	case DagErrInvalidTransaction:
		return "INVALID_TRANSACTION"
	case DagErrPoisonedAncestry:
		return "POISONED_ANCESTRY"
	default:
		return "UNKNOWN"
	}
}

// DagError is one integrity violation found by Verify.
type DagError struct {
	Kind DagErrorKind
	Addr SpendAddress
	Err  error // optional underlying detail
}

func (e DagError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at %s: %v", e.Kind, e.Addr.Name, e.Err)
	}
	return fmt.Sprintf("%s at %s", e.Kind, e.Addr.Name)
}

// Unwrap returns the underlying detail error, if any.
func (e DagError) Unwrap() error { return e.Err }

// dagEntry pairs one recorded spend (or a nil UTXO placeholder) with its
// node index in the graph arena.
type dagEntry struct {
	spend *SignedSpend
	node  int
}

// SpendDag is an append-only directed graph of spends, grown by ingesting
// spends from arbitrary peers in arbitrary order. Nodes referenced before
// their own spend arrives are held as UTXO placeholders and upgraded in
// place; conflicting spends at one address are all retained as double-spend
// evidence, never overwritten.
//
// Node identity lives in an integer-indexed arena; the address map is a
// secondary lookup index over it. SpendDag has no internal locking - wrap
// it in a SpendBook for concurrent use.
type SpendDag struct {
	// Arena: node index -> address. Edges are keyed by node index and
	// carry the transferred amount.
	nodes    []SpendAddress
	outgoing []map[int]uint64
	incoming []map[int]uint64

	// Secondary index: address -> entries at that address. More than one
	// populated entry means a double spend.
	spends map[SpendAddress][]dagEntry

	hooks  *Hooks
	logger *zap.Logger
}

// NewSpendDag creates an empty DAG.
func NewSpendDag(logger *zap.Logger) *SpendDag {
	return NewSpendDagWithHooks(nil, logger)
}

// NewSpendDagWithHooks creates an empty DAG with observability hooks.
func NewSpendDagWithHooks(hooks *Hooks, logger *zap.Logger) *SpendDag {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpendDag{
		spends: make(map[SpendAddress][]dagEntry),
		hooks:  hooks,
		logger: logger,
	}
}

// SetHooks attaches observability hooks, replacing any existing ones.
// A DAG reloaded from a snapshot carries none and needs them re-attached.
func (d *SpendDag) SetHooks(hooks *Hooks) { d.hooks = hooks }

// addNode allocates an arena node for an address.
func (d *SpendDag) addNode(addr SpendAddress) int {
	idx := len(d.nodes)
	d.nodes = append(d.nodes, addr)
	d.outgoing = append(d.outgoing, make(map[int]uint64))
	d.incoming = append(d.incoming, make(map[int]uint64))
	return idx
}

// addEdge upserts a directed edge annotated with the transferred amount.
func (d *SpendDag) addEdge(from, to int, amount uint64) {
	d.outgoing[from][to] = amount
	d.incoming[to][from] = amount
}

// ensureAddr returns the entries at an address, creating a UTXO
// placeholder node if the address was never seen.
func (d *SpendDag) ensureAddr(addr SpendAddress) []dagEntry {
	if entries, ok := d.spends[addr]; ok {
		return entries
	}
	entries := []dagEntry{{spend: nil, node: d.addNode(addr)}}
	d.spends[addr] = entries
	return entries
}

// Insert records a spend at an address, creating edges from its ancestors
// and to its descendants. Idempotent: re-inserting an identical spend only
// refreshes edges. A UTXO placeholder at the address is upgraded in place,
// keeping its node index. A distinct spend at an already-spent address is
// appended alongside the existing one.
func (d *SpendDag) Insert(addr SpendAddress, spend *SignedSpend) {
	entries := d.spends[addr]

	node := -1
	for i := range entries {
		if entries[i].spend == nil || entries[i].spend.Equal(spend) {
			entries[i].spend = spend
			node = entries[i].node
			break
		}
	}
	if node == -1 {
		node = d.addNode(addr)
		entries = append(entries, dagEntry{spend: spend, node: node})
	}
	d.spends[addr] = entries

	// Link from ancestors.
	for _, in := range spend.Spend.ParentTx.Inputs {
		ancestorAddr := SpendAddressFromPubkey(in.UniquePubkey)
		for _, entry := range d.ensureAddr(ancestorAddr) {
			d.addEdge(entry.node, node, in.Amount)
		}
	}

	// Link to descendants.
	for _, out := range spend.Spend.SpentTx.Outputs {
		descendantAddr := SpendAddressFromPubkey(out.UniquePubkey)
		for _, entry := range d.ensureAddr(descendantAddr) {
			d.addEdge(node, entry.node, out.Amount)
		}
	}
}

// CheckAndInsert records a spend unless an identical one is already known.
// Returns true for a first-ever insert and false for a pure duplicate. A
// distinct spend at an already-spent address is still inserted - double
// spends are evidence, not garbage - and DoubleSpendError is returned.
func (d *SpendDag) CheckAndInsert(addr SpendAddress, spend *SignedSpend) (bool, error) {
	existing := d.GetSpend(addr)
	for _, known := range existing.Spends {
		if known.Equal(spend) {
			return false, nil
		}
	}

	d.Insert(addr, spend)

	if len(existing.Spends) > 0 {
		d.logger.Warn("double spend recorded",
			zap.Stringer("addr", addr.Name),
			zap.Int("conflicting", len(existing.Spends)+1))
		if d.hooks != nil && d.hooks.OnDoubleSpendDetected != nil {
			d.hooks.OnDoubleSpendDetected(DoubleSpendDetectedEvent{
				Addr:       addr,
				Spends:     d.GetSpend(addr).Spends,
				DetectedAt: time.Now(),
			})
		}
		return false, &DoubleSpendError{Addr: addr}
	}
	return true, nil
}

// GetSpend classifies an address and returns every spend recorded at it.
func (d *SpendDag) GetSpend(addr SpendAddress) SpendGet {
	entries, ok := d.spends[addr]
	if !ok {
		return SpendGet{Status: SpendStatusNotFound}
	}
	var spends []*SignedSpend
	for _, entry := range entries {
		if entry.spend != nil {
			spends = append(spends, entry.spend)
		}
	}
	switch len(spends) {
	case 0:
		return SpendGet{Status: SpendStatusUtxo}
	case 1:
		return SpendGet{Status: SpendStatusSpend, Spends: spends}
	default:
		return SpendGet{Status: SpendStatusDoubleSpend, Spends: spends}
	}
}

// GetUtxos returns the addresses of all graph leaves: nodes with no
// outgoing edges, meaning tokens not yet spent onward. Sorted for
// deterministic output.
func (d *SpendDag) GetUtxos() []SpendAddress {
	seen := make(map[SpendAddress]struct{})
	var leaves []SpendAddress
	for node, out := range d.outgoing {
		if len(out) != 0 {
			continue
		}
		addr := d.nodes[node]
		if _, dup := seen[addr]; !dup {
			seen[addr] = struct{}{}
			leaves = append(leaves, addr)
		}
	}
	slices.SortFunc(leaves, func(a, b SpendAddress) int {
		return bytes.Compare(a.Name[:], b.Name[:])
	})
	return leaves
}

// AllSpends returns every recorded spend, double-spend evidence included.
func (d *SpendDag) AllSpends() []*SignedSpend {
	var spends []*SignedSpend
	for _, entries := range d.spends {
		for _, entry := range entries {
			if entry.spend != nil {
				spends = append(spends, entry.spend)
			}
		}
	}
	return spends
}

// AddressCount returns the number of distinct addresses in the graph,
// UTXO placeholders included.
func (d *SpendDag) AddressCount() int { return len(d.spends) }

// Merge folds every spend from other into this DAG. UTXO placeholders are
// skipped; they are reconstructed as a side effect of inserting the spends
// that reference them. Nothing is ever removed.
func (d *SpendDag) Merge(other *SpendDag) {
	for addr, entries := range other.spends {
		for _, entry := range entries {
			if entry.spend != nil {
				d.Insert(addr, entry.spend)
			}
		}
	}
}

// Verify audits the whole DAG from a trusted source spend, usually
// genesis. It never stops early on a single bad branch: the full list of
// violations is accumulated and returned, empty meaning a clean DAG.
//
// A failing transaction taints forward only: its own address gets
// InvalidTransaction and every transitive descendant gets
// PoisonedAncestry. Missing ancestry aborts verification of the affected
// transaction alone.
func (d *SpendDag) Verify(source SpendAddress) []DagError {
	sourceGet := d.GetSpend(source)
	if sourceGet.Status != SpendStatusSpend {
		d.logger.Warn("dag audit has no usable source",
			zap.Stringer("addr", source.Name),
			zap.Stringer("status", sourceGet.Status))
		return []DagError{{Kind: DagErrMissingSource, Addr: source}}
	}

	var errs []DagError

	reachable := d.descendantAddrs(source, &errs)
	reachable[source] = struct{}{}

	// Orphans: spends outside the source's descendant tree. Placeholders
	// are not spends and are never flagged.
	var orphans []SpendAddress
	for addr := range d.spends {
		if _, ok := reachable[addr]; ok {
			continue
		}
		if len(d.GetSpend(addr).Spends) > 0 {
			orphans = append(orphans, addr)
		}
	}
	slices.SortFunc(orphans, func(a, b SpendAddress) int {
		return bytes.Compare(a.Name[:], b.Name[:])
	})
	for _, addr := range orphans {
		errs = append(errs, DagError{Kind: DagErrOrphanSpend, Addr: addr})
	}

	// Per-transaction verification of every unambiguous, non-genesis
	// spend against its direct ancestors.
	for addr := range d.spends {
		get := d.GetSpend(addr)
		if get.Status != SpendStatusSpend {
			continue
		}
		spend := get.Spends[0]
		if spend.IsGenesis() {
			continue
		}

		ancestors, missing := d.collectAncestors(spend)
		if missing {
			errs = append(errs, DagError{Kind: DagErrMissingAncestry, Addr: addr})
			continue
		}

		if err := spend.VerifyAgainstAncestors(ancestors); err != nil {
			errs = append(errs, DagError{Kind: DagErrInvalidTransaction, Addr: addr, Err: err})
			for _, tainted := range d.transitiveSpendDescendants(addr) {
				errs = append(errs, DagError{Kind: DagErrPoisonedAncestry, Addr: tainted})
			}
		}
	}

	d.logger.Info("dag audit completed",
		zap.Stringer("source", source.Name),
		zap.Int("addresses", len(d.spends)),
		zap.Int("violations", len(errs)))
	if d.hooks != nil && d.hooks.OnDagVerified != nil {
		d.hooks.OnDagVerified(DagVerifiedEvent{
			Source:     source,
			SpendCount: len(d.AllSpends()),
			ErrorCount: len(errs),
			VerifiedAt: time.Now(),
		})
	}
	return errs
}

// descendantAddrs walks the graph edges from source, collecting every
// reachable address and checking along the way that each unambiguous
// spend's graph-derived descendants agree with its declared ones.
func (d *SpendDag) descendantAddrs(source SpendAddress, errs *[]DagError) map[SpendAddress]struct{} {
	reachable := make(map[SpendAddress]struct{})
	visited := make(map[int]struct{})

	var queue []int
	for _, entry := range d.spends[source] {
		queue = append(queue, entry.node)
		visited[entry.node] = struct{}{}
	}

	checked := make(map[SpendAddress]struct{})
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		addr := d.nodes[node]
		reachable[addr] = struct{}{}

		if _, done := checked[addr]; !done {
			checked[addr] = struct{}{}
			d.checkCoherence(addr, node, errs)
		}

		for next := range d.outgoing[node] {
			if _, seen := visited[next]; !seen {
				visited[next] = struct{}{}
				queue = append(queue, next)
			}
		}
	}
	return reachable
}

// checkCoherence verifies that the DAG's edges for a spend agree with the
// descendants its transaction declares. The genesis spend is exempt: its
// outputs bootstrap the graph.
func (d *SpendDag) checkCoherence(addr SpendAddress, node int, errs *[]DagError) {
	get := d.GetSpend(addr)
	if get.Status != SpendStatusSpend {
		return
	}
	spend := get.Spends[0]
	if spend.IsGenesis() {
		return
	}

	declared := make(map[SpendAddress]struct{})
	for _, desc := range spend.Spend.DescendantAddresses() {
		declared[desc] = struct{}{}
	}
	derived := make(map[SpendAddress]struct{})
	for next := range d.outgoing[node] {
		derived[d.nodes[next]] = struct{}{}
	}

	coherent := len(declared) == len(derived)
	if coherent {
		for desc := range derived {
			if _, ok := declared[desc]; !ok {
				coherent = false
				break
			}
		}
	}
	if !coherent {
		*errs = append(*errs, DagError{
			Kind: DagErrIncoherentDag,
			Addr: addr,
			Err:  fmt.Errorf("graph derives %d descendants, transaction declares %d", len(derived), len(declared)),
		})
	}
}

// collectAncestors gathers the direct ancestor spends of a spend. missing
// is true when any ancestor is unknown or still an unspent placeholder.
// At a double-spent ancestor the entry naming this spend as an output is
// preferred.
func (d *SpendDag) collectAncestors(spend *SignedSpend) (ancestors []*SignedSpend, missing bool) {
	for _, ancestorAddr := range spend.Spend.AncestorAddresses() {
		get := d.GetSpend(ancestorAddr)
		switch get.Status {
		case SpendStatusNotFound, SpendStatusUtxo:
			return nil, true
		case SpendStatusSpend:
			ancestors = append(ancestors, get.Spends[0])
		case SpendStatusDoubleSpend:
			chosen := get.Spends[0]
			for _, candidate := range get.Spends {
				if _, ok := candidate.Spend.SpentTx.OutputAmount(spend.Spend.UniquePubkey); ok {
					chosen = candidate
					break
				}
			}
			ancestors = append(ancestors, chosen)
		}
	}
	return ancestors, false
}

// transitiveSpendDescendants returns the addresses of every spend
// reachable strictly below addr, sorted for deterministic output.
func (d *SpendDag) transitiveSpendDescendants(addr SpendAddress) []SpendAddress {
	visited := make(map[int]struct{})
	var queue []int
	for _, entry := range d.spends[addr] {
		visited[entry.node] = struct{}{}
		for next := range d.outgoing[entry.node] {
			if _, seen := visited[next]; !seen {
				visited[next] = struct{}{}
				queue = append(queue, next)
			}
		}
	}

	found := make(map[SpendAddress]struct{})
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		nodeAddr := d.nodes[node]
		if len(d.GetSpend(nodeAddr).Spends) > 0 {
			found[nodeAddr] = struct{}{}
		}
		for next := range d.outgoing[node] {
			if _, seen := visited[next]; !seen {
				visited[next] = struct{}{}
				queue = append(queue, next)
			}
		}
	}

	addrs := make([]SpendAddress, 0, len(found))
	for a := range found {
		addrs = append(addrs, a)
	}
	slices.SortFunc(addrs, func(a, b SpendAddress) int {
		return bytes.Compare(a.Name[:], b.Name[:])
	})
	return addrs
}
