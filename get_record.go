package xordrive

import (
	"bytes"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// QueryID identifies one outstanding fan-out query in the network layer.
type QueryID uint64

// quorumKind enumerates the quorum policies.
type quorumKind uint8

const (
	quorumUnset quorumKind = iota
	quorumOne
	quorumMajority
	quorumAll
	quorumN
)

// Quorum is the policy deciding how many matching answers make a
// distributed read authoritative.
type Quorum struct {
	kind quorumKind
	n    int
}

// QuorumOne accepts the first answer.
func QuorumOne() Quorum { return Quorum{kind: quorumOne} }

// QuorumMajority requires a majority of the close group.
func QuorumMajority() Quorum { return Quorum{kind: quorumMajority} }

// QuorumAll requires the whole close group.
func QuorumAll() Quorum { return Quorum{kind: quorumAll} }

// QuorumN requires exactly n matching answers.
func QuorumN(n int) Quorum { return Quorum{kind: quorumN, n: n} }

// IsZero reports whether the policy was left unset. An unset policy counts
// as QuorumOne when used directly; Node substitutes its configured default
// first.
func (q Quorum) IsZero() bool { return q.kind == quorumUnset }

// ExpectedAnswers returns the number of matching answers this policy needs.
func (q Quorum) ExpectedAnswers() int {
	switch q.kind {
	case quorumMajority:
		return CloseGroupMajority()
	case quorumAll:
		return CloseGroupSize
	case quorumN:
		return q.n
	default:
		return 1
	}
}

// GetRecordConfig configures one get-record query.
type GetRecordConfig struct {
	// Quorum is the answer-count policy for this query. The zero value
	// defers to the node's configured DefaultQuorum.
	Quorum Quorum

	// TargetRecord, when set, is compared against the resolved record; a
	// mismatch resolves as RecordDoesNotMatchError instead of success.
	TargetRecord *Record

	// ExpectedHolders is an optional diagnostic allow-list. Responders are
	// removed from it as they answer; it never affects resolution.
	ExpectedHolders map[PeerID]struct{}
}

// RecordVersion is one observed content version of a record and the peers
// that served it.
type RecordVersion struct {
	Record     Record
	Responders map[PeerID]struct{}
}

// GetRecordResultMap indexes observed versions by content hash. More than
// one entry for the same key means a split record.
type GetRecordResultMap map[XorName]*RecordVersion

// GetRecordResult is the terminal outcome of a query. Exactly one of
// Record or Err is meaningful.
type GetRecordResult struct {
	Record Record
	Err    error
}

// ErrRecordNotFound indicates no peer returned any copy of the record.
var ErrRecordNotFound = fmt.Errorf("record not found on the network")

// ErrQueryTimeout indicates the query timed out before it could resolve.
var ErrQueryTimeout = fmt.Errorf("get record query timed out")

// NotEnoughCopiesError indicates a single consistent version was found but
// with fewer responders than the quorum requires. The record is carried so
// callers may still use it at their own risk.
type NotEnoughCopiesError struct {
	Record     Record
	Expected   int
	Responders int
}

func (e *NotEnoughCopiesError) Error() string {
	return fmt.Sprintf("not enough copies of record %s: got %d, quorum needs %d",
		e.Record.Key, e.Responders, e.Expected)
}

// SplitRecordError indicates peers returned divergent content for the same
// key. The full result map is carried so the caller can arbitrate between
// versions (for example last-write-wins at a higher layer).
type SplitRecordError struct {
	ResultMap GetRecordResultMap
}

func (e *SplitRecordError) Error() string {
	return fmt.Sprintf("split record: %d divergent versions observed", len(e.ResultMap))
}

// RecordDoesNotMatchError indicates the resolved record differs from the
// caller-supplied target.
type RecordDoesNotMatchError struct {
	Record Record
}

func (e *RecordDoesNotMatchError) Error() string {
	return fmt.Sprintf("record %s does not match the caller-supplied target", e.Record.Key)
}

// QueryFailure classifies errors reported by the underlying query layer.
type QueryFailure uint8

const (
	// QueryFailureNotFound - the query layer found no holders at all.
	QueryFailureNotFound QueryFailure = iota
	// QueryFailureQuorumFailed - the query layer's own quorum was not met.
	QueryFailureQuorumFailed
	// QueryFailureTimeout - the query exceeded the layer's deadline.
	QueryFailureTimeout
)

// pendingQuery is the accumulator state for one query id.
type pendingQuery struct {
	resultCh  chan GetRecordResult
	resultMap GetRecordResultMap
	cfg       GetRecordConfig
	stop      func()
}

// GetRecordAccumulator reconciles the divergent copies of a record returned
// by fan-out queries, deciding when enough consistent answers have arrived
// to trust a result.
//
// It is not safe for concurrent use: the network driver task owns it and
// serializes all calls. Timeouts are driven by the query layer, not here.
type GetRecordAccumulator struct {
	pending map[QueryID]*pendingQuery
	hooks   *Hooks
	logger  *zap.Logger
}

// NewGetRecordAccumulator creates an accumulator.
func NewGetRecordAccumulator(logger *zap.Logger) *GetRecordAccumulator {
	return NewGetRecordAccumulatorWithHooks(nil, logger)
}

// NewGetRecordAccumulatorWithHooks creates an accumulator with
// observability hooks.
func NewGetRecordAccumulatorWithHooks(hooks *Hooks, logger *zap.Logger) *GetRecordAccumulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GetRecordAccumulator{
		pending: make(map[QueryID]*pendingQuery),
		hooks:   hooks,
		logger:  logger,
	}
}

// Register starts accumulating for a query. stop is invoked once when the
// query resolves early so the layer can cease contacting further peers; it
// may be nil. The returned channel delivers exactly one terminal result.
func (a *GetRecordAccumulator) Register(id QueryID, cfg GetRecordConfig, stop func()) <-chan GetRecordResult {
	pq := &pendingQuery{
		resultCh:  make(chan GetRecordResult, 1),
		resultMap: make(GetRecordResultMap),
		cfg:       cfg,
		stop:      stop,
	}
	a.pending[id] = pq
	return pq.resultCh
}

// PendingCount returns the number of queries still accumulating.
func (a *GetRecordAccumulator) PendingCount() int { return len(a.pending) }

// AccumulateFound feeds one peer's copy of the record into the query's
// result map and resolves the query if the quorum is now satisfied.
func (a *GetRecordAccumulator) AccumulateFound(id QueryID, pr PeerRecord) {
	pq, ok := a.pending[id]
	if !ok {
		a.logger.Debug("response for unknown or completed query",
			zap.Uint64("query", uint64(id)),
			zap.String("peer", string(pr.Peer)))
		return
	}

	if len(pq.cfg.ExpectedHolders) > 0 {
		if _, expected := pq.cfg.ExpectedHolders[pr.Peer]; expected {
			delete(pq.cfg.ExpectedHolders, pr.Peer)
		} else {
			a.logger.Debug("copy received from unexpected holder",
				zap.Uint64("query", uint64(id)),
				zap.String("peer", string(pr.Peer)))
		}
	}

	hash := pr.Record.ContentHash()
	version, seen := pq.resultMap[hash]
	if !seen {
		version = &RecordVersion{
			Record:     pr.Record,
			Responders: make(map[PeerID]struct{}),
		}
		pq.resultMap[hash] = version
	}
	version.Responders[pr.Peer] = struct{}{}

	expected := pq.cfg.Quorum.ExpectedAnswers()
	a.logger.Debug("accumulated get-record answer",
		zap.Uint64("query", uint64(id)),
		zap.Stringer("key", pr.Record.Key),
		zap.Int("responders", len(version.Responders)),
		zap.Int("expected", expected))

	if len(version.Responders) < expected {
		return
	}

	// Quorum reached on this hash; resolve and stop querying more peers.
	delete(a.pending, id)
	if len(pq.resultMap) == 1 {
		a.resolveChecked(id, pq, pr.Record)
	} else {
		a.resolveSplit(id, pq, pr.Record.Key)
	}
	if pq.stop != nil {
		pq.stop()
	}
}

// HandleFinished completes a query whose peer set was exhausted without
// reaching quorum.
func (a *GetRecordAccumulator) HandleFinished(id QueryID) {
	pq, ok := a.pending[id]
	if !ok {
		// The accumulator resolved early and stopped the query; the
		// layer's finished notice still arrives afterwards.
		a.logger.Debug("finished notice for completed query", zap.Uint64("query", uint64(id)))
		return
	}
	delete(a.pending, id)

	switch {
	case len(pq.resultMap) == 0:
		pq.resultCh <- GetRecordResult{Err: ErrRecordNotFound}
	case len(pq.resultMap) == 1:
		var only *RecordVersion
		for _, v := range pq.resultMap {
			only = v
		}
		pq.resultCh <- GetRecordResult{Err: &NotEnoughCopiesError{
			Record:     only.Record,
			Expected:   pq.cfg.Quorum.ExpectedAnswers(),
			Responders: len(only.Responders),
		}}
	default:
		a.resolveSplit(id, pq, firstVersion(pq.resultMap).Record.Key)
	}
}

// HandleError completes a query the underlying layer reported as failed.
//
// A timeout is not an error of first resort: if the collected data already
// satisfies the quorum on a single version, the query resolves from it, as
// one slow final response should not invalidate an otherwise-valid quorum.
// A timed-out query with a split result map reports the timeout instead of
// the split so the caller retries through a fresh, non-timed-out query.
func (a *GetRecordAccumulator) HandleError(id QueryID, failure QueryFailure) {
	pq, ok := a.pending[id]
	if !ok {
		a.logger.Debug("error notice for completed query", zap.Uint64("query", uint64(id)))
		return
	}
	delete(a.pending, id)

	switch failure {
	case QueryFailureNotFound, QueryFailureQuorumFailed:
		a.logger.Info("get record query found no holders",
			zap.Uint64("query", uint64(id)))
		pq.resultCh <- GetRecordResult{Err: ErrRecordNotFound}

	case QueryFailureTimeout:
		if len(pq.resultMap) > 1 {
			a.logger.Warn("query timed out with split result map",
				zap.Uint64("query", uint64(id)),
				zap.Int("versions", len(pq.resultMap)))
			pq.resultCh <- GetRecordResult{Err: ErrQueryTimeout}
			return
		}
		if len(pq.resultMap) == 1 {
			version := firstVersion(pq.resultMap)
			if len(version.Responders) >= pq.cfg.Quorum.ExpectedAnswers() {
				a.resolveChecked(id, pq, version.Record)
				return
			}
		}
		a.logger.Warn("query timed out with insufficient responses",
			zap.Uint64("query", uint64(id)))
		pq.resultCh <- GetRecordResult{Err: ErrQueryTimeout}
	}
}

// resolveChecked delivers a quorum-satisfying record after comparing it
// against the caller-supplied target, if any.
func (a *GetRecordAccumulator) resolveChecked(id QueryID, pq *pendingQuery, record Record) {
	if pq.cfg.TargetRecord != nil && !recordMatches(pq.cfg.TargetRecord, record) {
		pq.resultCh <- GetRecordResult{Err: &RecordDoesNotMatchError{Record: record}}
		return
	}
	responders := 0
	for _, v := range pq.resultMap {
		responders += len(v.Responders)
	}
	if a.hooks != nil && a.hooks.OnRecordResolved != nil {
		a.hooks.OnRecordResolved(RecordResolvedEvent{
			QueryID:    id,
			Key:        record.Key,
			Responders: responders,
			ResolvedAt: time.Now(),
		})
	}
	pq.resultCh <- GetRecordResult{Record: record}
}

// resolveSplit delivers the full result map for caller arbitration.
func (a *GetRecordAccumulator) resolveSplit(id QueryID, pq *pendingQuery, key NetworkAddress) {
	a.logger.Debug("resolving query as split record",
		zap.Uint64("query", uint64(id)),
		zap.Stringer("key", key),
		zap.Int("versions", len(pq.resultMap)))
	if a.hooks != nil && a.hooks.OnSplitRecordDetected != nil {
		a.hooks.OnSplitRecordDetected(SplitRecordDetectedEvent{
			QueryID:    id,
			Key:        key,
			Versions:   len(pq.resultMap),
			DetectedAt: time.Now(),
		})
	}
	pq.resultCh <- GetRecordResult{Err: &SplitRecordError{ResultMap: pq.resultMap}}
}

// recordMatches reports whether a resolved record equals the target.
func recordMatches(target *Record, got Record) bool {
	return target.Key.Equal(got.Key) && bytes.Equal(target.Value, got.Value)
}

// firstVersion returns an arbitrary version from the map; callers only use
// it when the map is known to be non-empty.
func firstVersion(m GetRecordResultMap) *RecordVersion {
	for _, v := range m {
		return v
	}
	return nil
}
