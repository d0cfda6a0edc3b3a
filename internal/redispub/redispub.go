// Package redispub mirrors the committed queue into Redis for read-only
// consumers such as waiting-room displays. The queue itself is never read
// back from Redis.
package redispub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/acuity/internal/triage"
)

// DefaultMaxAge forces a republish so wait times in the mirror keep moving
// while the queue itself is unchanged.
const DefaultMaxAge = 30 * time.Second

// SnapshotSource yields the latest committed queue view.
type SnapshotSource interface {
	Latest() *triage.Snapshot
}

// Publisher writes the queue and its statistics under per-department keys
// and announces each new version on a channel.
type Publisher struct {
	rdb    redis.Cmdable
	src    SnapshotSource
	logger log.Logger
	maxAge time.Duration
	now    func() time.Time

	queueKey string
	statsKey string
	channel  string
	ttl      time.Duration

	lastVersion uint64
	lastAt      time.Time
	published   bool
}

// Options configures a Publisher.
type Options struct {
	Department string
	// TTL expires the mirrored keys if the publisher stops; 0 keeps them.
	TTL    time.Duration
	MaxAge time.Duration
	Logger log.Logger
	Now    func() time.Time
}

// New returns a Publisher for src.
func New(rdb redis.Cmdable, src SnapshotSource, o Options) *Publisher {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	dept := o.Department
	if dept == "" {
		dept = "default"
	}
	prefix := "acuity:" + dept
	return &Publisher{
		rdb:      rdb,
		src:      src,
		logger:   o.Logger,
		maxAge:   o.MaxAge,
		now:      o.Now,
		queueKey: prefix + ":queue",
		statsKey: prefix + ":statistics",
		channel:  prefix + ":queue:updates",
		ttl:      o.TTL,
	}
}

// Keys returns the queue key, statistics key and update channel.
func (p *Publisher) Keys() (queueKey, statsKey, channel string) {
	return p.queueKey, p.statsKey, p.channel
}

type update struct {
	Version uint64    `json:"version"`
	TakenAt time.Time `json:"taken_at"`
	Total   int       `json:"total_patients"`
}

// Publish mirrors the latest snapshot when its version differs from the last
// one published or the last publish is older than MaxAge. It reports whether
// anything was written. Publish is not safe for concurrent use; Run owns it.
func (p *Publisher) Publish(ctx context.Context) (bool, error) {
	snap := p.src.Latest()
	now := p.now()
	if p.published && snap.Version == p.lastVersion && now.Sub(p.lastAt) < p.maxAge {
		return false, nil
	}

	queue, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}
	stats, err := json.Marshal(snap.Statistics())
	if err != nil {
		return false, fmt.Errorf("marshal statistics: %w", err)
	}
	note, err := json.Marshal(update{Version: snap.Version, TakenAt: snap.TakenAt, Total: len(snap.Entries)})
	if err != nil {
		return false, fmt.Errorf("marshal update: %w", err)
	}

	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.queueKey, queue, p.ttl)
		pipe.Set(ctx, p.statsKey, stats, p.ttl)
		pipe.Publish(ctx, p.channel, note)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis publish %s: %w", p.queueKey, err)
	}

	p.lastVersion = snap.Version
	p.lastAt = now
	p.published = true
	return true, nil
}

// Run publishes every interval until ctx is done. Failures are logged and
// retried on the next tick.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.Publish(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error(ctx, err, "queue mirror publish failed", "key", p.queueKey)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
