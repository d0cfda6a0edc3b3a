package triage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
)

const queueDegree = 16

// less orders active entries: waiting and in-treatment before completed,
// then by priority score, then first come first served, then by id so the
// order is total.
func less(a, b Entry) bool {
	if ca, cb := statusClass(a.Status), statusClass(b.Status); ca != cb {
		return ca < cb
	}
	if a.Result.PriorityScore != b.Result.PriorityScore {
		return a.Result.PriorityScore < b.Result.PriorityScore
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.PatientID < b.PatientID
}

func statusClass(s Status) int {
	if s == StatusCompleted {
		return 1
	}
	return 0
}

// committed is an immutable published queue state. tree is a copy-on-write
// clone that no writer touches after publication.
type committed struct {
	version uint64
	at      time.Time
	tree    *btree.BTreeG[Entry]

	once    sync.Once
	entries []Entry
}

func (c *committed) list() []Entry {
	c.once.Do(func() {
		c.entries = make([]Entry, 0, c.tree.Len())
		c.tree.Ascend(func(e Entry) bool {
			c.entries = append(c.entries, e)
			return true
		})
	})
	return c.entries
}

// Queue is the ordered set of active patients for one department.
//
// All mutations serialize on mu and publish a new committed state before
// returning. Snapshot and Len read the last published state without taking
// the lock. Nothing in here performs I/O.
type Queue struct {
	mu      sync.RWMutex
	tree    *btree.BTreeG[Entry]
	byID    map[string]Entry
	version uint64
	now     func() time.Time

	view atomic.Pointer[committed]
}

// NewQueue returns an empty queue. now stamps committed states; nil means time.Now.
func NewQueue(now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	q := &Queue{
		tree: btree.NewG[Entry](queueDegree, less),
		byID: make(map[string]Entry),
		now:  now,
	}
	q.publish()
	return q
}

// publish must be called with mu held for writing.
func (q *Queue) publish() {
	q.view.Store(&committed{
		version: q.version,
		at:      q.now(),
		tree:    q.tree.Clone(),
	})
}

func (q *Queue) commit() {
	q.version++
	q.publish()
}

// Insert adds a new entry. An entry without a status enters as waiting.
func (q *Queue) Insert(e Entry) error {
	if e.Status == "" {
		e.Status = StatusWaiting
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.byID[e.PatientID]; ok {
		return &DuplicateEntryError{PatientID: e.PatientID}
	}
	q.tree.ReplaceOrInsert(e)
	q.byID[e.PatientID] = e
	q.commit()
	return nil
}

// UpdateScore replaces the entry's TriageResult and repositions it. The level
// may change. A non-nil a replaces the stored assessment. Only waiting and
// in-treatment entries can be re-assessed.
func (q *Queue) UpdateScore(id string, r Result, a *Assessment) (before, after Entry, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur, ok := q.byID[id]
	if !ok {
		return Entry{}, Entry{}, &NotFoundError{PatientID: id}
	}
	if !CanReassess(cur.Status) {
		return Entry{}, Entry{}, &InvalidTransitionError{PatientID: id, From: cur.Status}
	}

	next := cur
	next.Result = r
	if a != nil {
		next.Assessment = a
	}
	q.replace(cur, next)
	q.commit()
	return cur, next, nil
}

// Reprioritize applies an aging re-score to a waiting entry. rescore is
// evaluated under the write lock against the stored entry, so a re-assessment
// committed since the caller last read the queue is the one scored. It must
// not block. A score that would leave the entry's level is refused, as is an
// entry that is no longer waiting. It reports whether the entry moved.
func (q *Queue) Reprioritize(id string, at time.Time, rescore func(Entry) float64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur, ok := q.byID[id]
	if !ok || cur.Status != StatusWaiting {
		return false
	}
	score := rescore(cur)
	if LevelOf(score) != cur.Result.Level || score == cur.Result.PriorityScore {
		return false
	}

	next := cur
	next.Result.PriorityScore = score
	next.Result.ScoredAt = at
	q.replace(cur, next)
	q.commit()
	return true
}

// Transition moves an entry to status to, checking the move against the
// current status inside the exclusive section. discharged evicts the entry.
func (q *Queue) Transition(id string, to Status, at time.Time) (before, after Entry, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur, ok := q.byID[id]
	if !ok {
		return Entry{}, Entry{}, &NotFoundError{PatientID: id}
	}
	if err := validateTransition(id, cur.Status, to); err != nil {
		return Entry{}, Entry{}, err
	}

	next := cur
	next.Status = to
	switch to {
	case StatusInTreatment:
		next.TreatmentStartAt = at
	case StatusCompleted:
		next.CompletedAt = at
	case StatusDischarged:
		q.tree.Delete(cur)
		delete(q.byID, id)
		q.commit()
		return cur, next, nil
	}

	q.replace(cur, next)
	q.commit()
	return cur, next, nil
}

// Remove evicts an entry regardless of status.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur, ok := q.byID[id]
	if !ok {
		return &NotFoundError{PatientID: id}
	}
	q.tree.Delete(cur)
	delete(q.byID, id)
	q.commit()
	return nil
}

// replace must be called with mu held. old must be the stored entry so the
// tree can find it by its ordering key.
func (q *Queue) replace(old, next Entry) {
	q.tree.Delete(old)
	q.tree.ReplaceOrInsert(next)
	q.byID[next.PatientID] = next
}

// Get returns the current entry for id.
func (q *Queue) Get(id string) (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.byID[id]
	return e, ok
}

// Len returns the number of entries in the last committed state.
func (q *Queue) Len() int {
	return q.view.Load().tree.Len()
}

// Version returns the version of the last committed state. It increases by
// one with every successful mutation.
func (q *Queue) Version() uint64 {
	return q.view.Load().version
}

// Entries returns the last committed entries in queue order.
func (q *Queue) Entries() []Entry {
	src := q.view.Load().list()
	out := make([]Entry, len(src))
	copy(out, src)
	return out
}

// Snapshot returns an ordered, immutable view of the last committed state
// with wait times evaluated at now.
func (q *Queue) Snapshot(now time.Time) *Snapshot {
	c := q.view.Load()
	entries := c.list()

	views := make([]EntryView, len(entries))
	for i := range entries {
		views[i] = entries[i].View(i+1, now)
	}
	return &Snapshot{
		Version:     c.version,
		CommittedAt: c.at,
		TakenAt:     now,
		Entries:     views,
	}
}
