package tune

import (
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DigestKey identifies a digest row across snapshots.
type DigestKey struct {
	Schema string
	Digest string
}

// Snapshot is one timestamped capture of digest statistics and global status.
type Snapshot struct {
	TakenAt    time.Time
	Statements map[DigestKey]StatementDigest
	Status     *GlobalStatus
}

// NewSnapshot builds a snapshot from collected rows.
func NewSnapshot(takenAt time.Time, statements []StatementDigest, status *GlobalStatus) *Snapshot {
	s := &Snapshot{
		TakenAt:    takenAt,
		Statements: make(map[DigestKey]StatementDigest, len(statements)),
		Status:     status,
	}
	for _, d := range statements {
		s.Statements[DigestKey{Schema: d.Schema, Digest: d.Digest}] = d
	}
	return s
}

// StatementDelta is the per-digest growth between two snapshots.
type StatementDelta struct {
	Schema     string
	Digest     string
	DigestText string

	Calls        uint64
	TotalTime    time.Duration
	RowsSent     uint64
	RowsExamined uint64
}

// Delta is the workload change between two snapshots, most active digests
// first.
type Delta struct {
	From       time.Time
	To         time.Time
	Statements []StatementDelta
}

// Duration is the interval the delta covers.
func (d *Delta) Duration() time.Duration {
	return d.To.Sub(d.From)
}

// DeltaSince computes per-digest counter growth from prev to s. Digests
// absent from prev (new statements, or a digest table truncation) count from
// zero; counters that went backwards (server restart) are clamped to the
// later snapshot's values.
func (s *Snapshot) DeltaSince(prev *Snapshot) *Delta {
	delta := &Delta{From: prev.TakenAt, To: s.TakenAt}

	for key, curr := range s.Statements {
		base, ok := prev.Statements[key]
		if !ok || curr.Calls < base.Calls {
			base = StatementDigest{}
		}

		d := StatementDelta{
			Schema:       key.Schema,
			Digest:       key.Digest,
			DigestText:   curr.DigestText,
			Calls:        curr.Calls - base.Calls,
			TotalTime:    curr.TotalTime - base.TotalTime,
			RowsSent:     curr.RowsSent - base.RowsSent,
			RowsExamined: curr.RowsExamined - base.RowsExamined,
		}
		if d.Calls == 0 {
			continue
		}
		delta.Statements = append(delta.Statements, d)
	}

	sort.Slice(delta.Statements, func(i, j int) bool {
		if delta.Statements[i].TotalTime != delta.Statements[j].TotalTime {
			return delta.Statements[i].TotalTime > delta.Statements[j].TotalTime
		}
		return delta.Statements[i].Digest < delta.Statements[j].Digest
	})
	return delta
}

// SnapshotStore retains recent snapshots for the daemon, expiring them after
// the configured retention.
type SnapshotStore struct {
	cache *ttlcache.Cache[int64, *Snapshot]

	mu     sync.RWMutex
	latest *Snapshot
	prev   *Snapshot
}

// NewSnapshotStore creates a store that keeps snapshots for the given
// retention window. Stop must be called when the store is no longer needed.
func NewSnapshotStore(retention time.Duration) *SnapshotStore {
	cache := ttlcache.New[int64, *Snapshot](
		ttlcache.WithTTL[int64, *Snapshot](retention),
	)
	go cache.Start()
	return &SnapshotStore{cache: cache}
}

// Add stores a snapshot and makes it the latest.
func (st *SnapshotStore) Add(s *Snapshot) {
	st.cache.Set(s.TakenAt.UnixNano(), s, ttlcache.DefaultTTL)

	st.mu.Lock()
	st.prev = st.latest
	st.latest = s
	st.mu.Unlock()
}

// Latest returns the most recent snapshot, or nil before the first sample.
func (st *SnapshotStore) Latest() *Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.latest
}

// At returns the most recent retained snapshot taken at or before t, or nil
// when nothing that old is retained.
func (st *SnapshotStore) At(t time.Time) *Snapshot {
	limit := t.UnixNano()
	var best *Snapshot
	for _, key := range st.cache.Keys() {
		if key > limit {
			continue
		}
		item := st.cache.Get(key, ttlcache.WithDisableTouchOnHit[int64, *Snapshot]())
		if item == nil {
			continue
		}
		if s := item.Value(); best == nil || s.TakenAt.After(best.TakenAt) {
			best = s
		}
	}
	return best
}

// LatestDelta returns the delta between the two most recent snapshots, or
// nil before the second sample.
func (st *SnapshotStore) LatestDelta() *Delta {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.latest == nil || st.prev == nil {
		return nil
	}
	return st.latest.DeltaSince(st.prev)
}

// Len returns how many snapshots are retained.
func (st *SnapshotStore) Len() int {
	return st.cache.Len()
}

// Stop shuts down the store's expiry loop.
func (st *SnapshotStore) Stop() {
	st.cache.Stop()
}
