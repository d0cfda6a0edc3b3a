package triage

import (
	"sync/atomic"
	"time"
)

// DefaultSnapshotStaleness bounds how old a cached snapshot may be.
const DefaultSnapshotStaleness = 250 * time.Millisecond

// perPatientWait is the extra estimated wait per patient of equal or higher
// acuity already waiting.
const perPatientWait = 5.0

// Snapshot is an ordered, immutable view of one committed queue state.
// Positions are 1..len(Entries).
type Snapshot struct {
	Version     uint64      `json:"version"`
	CommittedAt time.Time   `json:"committed_at"`
	TakenAt     time.Time   `json:"taken_at"`
	Entries     []EntryView `json:"entries"`
}

// Find returns the view of one patient.
func (s *Snapshot) Find(id string) (EntryView, bool) {
	for _, e := range s.Entries {
		if e.PatientID == id {
			return e, true
		}
	}
	return EntryView{}, false
}

// Statistics summarizes a snapshot. Wait figures cover waiting patients only.
type Statistics struct {
	Total          int            `json:"total_patients"`
	CountByESI     map[Level]int  `json:"count_by_esi"`
	CountByStatus  map[Status]int `json:"count_by_status"`
	Waiting        int            `json:"waiting"`
	AvgWaitMinutes float64        `json:"average_wait_minutes"`
	MaxWaitMinutes float64        `json:"max_wait_minutes"`
	CriticalCount  int            `json:"critical_patients"`
	Version        uint64         `json:"version"`
	TakenAt        time.Time      `json:"taken_at"`
}

// Statistics computes summary counts over the snapshot.
func (s *Snapshot) Statistics() Statistics {
	st := Statistics{
		Total:         len(s.Entries),
		CountByESI:    make(map[Level]int, 5),
		CountByStatus: make(map[Status]int, 3),
		Version:       s.Version,
		TakenAt:       s.TakenAt,
	}
	for l := LevelResuscitation; l <= LevelNonUrgent; l++ {
		st.CountByESI[l] = 0
	}
	for _, status := range []Status{StatusWaiting, StatusInTreatment, StatusCompleted} {
		st.CountByStatus[status] = 0
	}

	var sum float64
	for _, e := range s.Entries {
		st.CountByESI[e.Level]++
		st.CountByStatus[e.Status]++
		if e.Level.Critical() && e.Status != StatusCompleted {
			st.CriticalCount++
		}
		if e.Status != StatusWaiting {
			continue
		}
		st.Waiting++
		sum += e.WaitMinutes
		if e.WaitMinutes > st.MaxWaitMinutes {
			st.MaxWaitMinutes = e.WaitMinutes
		}
	}
	if st.Waiting > 0 {
		st.AvgWaitMinutes = sum / float64(st.Waiting)
	}
	return st
}

// EstimatedWait returns the expected minutes until a patient at level is
// seen: the level's target wait plus a fixed amount per waiting patient of
// equal or higher acuity. excludeID leaves the patient itself out.
func (s *Snapshot) EstimatedWait(level Level, excludeID string) float64 {
	ahead := 0
	for _, e := range s.Entries {
		if e.Status == StatusWaiting && e.Level <= level && e.PatientID != excludeID {
			ahead++
		}
	}
	return TargetWait(level).Minutes() + float64(ahead)*perPatientWait
}

// Snapshots serves queue views to readers. Views may be reused for up to
// staleness before a fresh one is materialized; reads never take the queue
// lock.
type Snapshots struct {
	queue     *Queue
	staleness time.Duration
	now       func() time.Time

	cached atomic.Pointer[Snapshot]
}

// NewSnapshots returns a snapshot service over q. A non-positive staleness
// disables caching.
func NewSnapshots(q *Queue, staleness time.Duration, now func() time.Time) *Snapshots {
	if now == nil {
		now = time.Now
	}
	return &Snapshots{queue: q, staleness: staleness, now: now}
}

// Latest returns a snapshot no older than the configured staleness.
func (s *Snapshots) Latest() *Snapshot {
	now := s.now()
	if c := s.cached.Load(); c != nil && s.staleness > 0 && now.Sub(c.TakenAt) < s.staleness && c.Version == s.queue.Version() {
		return c
	}
	snap := s.queue.Snapshot(now)
	s.cached.Store(snap)
	return snap
}

// Fresh materializes the current committed state, bypassing the cache.
func (s *Snapshots) Fresh() *Snapshot {
	snap := s.queue.Snapshot(s.now())
	s.cached.Store(snap)
	return snap
}
