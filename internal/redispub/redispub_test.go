package redispub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/acuity/internal/triage"
)

var baseTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func entry(id string, level triage.Level, score float64) triage.Entry {
	return triage.Entry{
		PatientID:  id,
		Name:       "Patient " + id,
		Result:     triage.Result{Decision: triage.Decision{Level: level, Source: triage.SourceRules}, PriorityScore: score},
		EnqueuedAt: baseTime,
	}
}

type fixture struct {
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	queue *triage.Queue
	clock *clock
	pub   *Publisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := &clock{t: baseTime}
	q := triage.NewQueue(c.Now)
	snaps := triage.NewSnapshots(q, 0, c.Now)
	return &fixture{
		mr:    mr,
		rdb:   rdb,
		queue: q,
		clock: c,
		pub:   New(rdb, snaps, Options{Department: "ed-north", TTL: time.Minute, Now: c.Now}),
	}
}

func TestPublish_WritesSnapshotAndStatistics(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if err := f.queue.Insert(entry("p-1", triage.LevelUrgent, 2950)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := f.queue.Insert(entry("p-2", triage.LevelResuscitation, 990)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	wrote, err := f.pub.Publish(context.Background())
	if err != nil || !wrote {
		t.Fatalf("Publish = %v, %v; want true, nil", wrote, err)
	}

	queueKey, statsKey, _ := f.pub.Keys()
	if queueKey != "acuity:ed-north:queue" || statsKey != "acuity:ed-north:statistics" {
		t.Errorf("keys = %q %q", queueKey, statsKey)
	}

	raw, err := f.mr.Get(queueKey)
	if err != nil {
		t.Fatalf("Get queue: %v", err)
	}
	var snap triage.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Version != 2 || len(snap.Entries) != 2 || snap.Entries[0].PatientID != "p-2" {
		t.Errorf("snapshot = %+v", snap)
	}

	raw, err = f.mr.Get(statsKey)
	if err != nil {
		t.Fatalf("Get statistics: %v", err)
	}
	var st triage.Statistics
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		t.Fatalf("decode statistics: %v", err)
	}
	if st.Total != 2 || st.CriticalCount != 1 {
		t.Errorf("statistics = %+v", st)
	}

	if ttl := f.mr.TTL(queueKey); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}
}

func TestPublish_OnlyOnChangeOrMaxAge(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if wrote, _ := f.pub.Publish(ctx); !wrote {
		t.Fatal("first publish should write")
	}
	if wrote, _ := f.pub.Publish(ctx); wrote {
		t.Error("unchanged queue was republished")
	}

	if err := f.queue.Insert(entry("p-1", triage.LevelLessUrgent, 3980)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if wrote, _ := f.pub.Publish(ctx); !wrote {
		t.Error("new version was not published")
	}

	f.clock.Advance(DefaultMaxAge)
	if wrote, _ := f.pub.Publish(ctx); !wrote {
		t.Error("stale mirror was not refreshed after MaxAge")
	}
}

func TestPublish_AnnouncesVersion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, _, channel := f.pub.Keys()

	sub := f.rdb.Subscribe(ctx, channel)
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := f.queue.Insert(entry("p-1", triage.LevelUrgent, 2900)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := f.pub.Publish(ctx); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var u update
		if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
			t.Fatalf("decode update: %v", err)
		}
		if u.Version != 1 || u.Total != 1 {
			t.Errorf("update = %+v, want version 1 with 1 patient", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}
}

func TestPublish_RedisDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mr.Close()

	if _, err := f.pub.Publish(context.Background()); err == nil {
		t.Fatal("Publish succeeded with redis down")
	}
	// a failed publish must not count as published
	if f.pub.published {
		t.Error("failed publish marked as published")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.pub.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for !f.mr.Exists("acuity:ed-north:queue") {
		select {
		case <-deadline:
			t.Fatal("Run never published")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
