package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/defistate/defistate-stableswap-go/engine"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	// SnapshotSubscriptionMethod is the subscription name replicas use.
	SnapshotSubscriptionMethod = "subscribeSnapshots"

	EventFull = "full"
	EventDiff = "diff"

	defaultSubscriberBuffer = 64
)

// SubscriptionEvent is the wrapper object sent to subscribers.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// FullSnapshot is the payload of a "full" event.
type FullSnapshot struct {
	Seq   uint64            `json:"seq"`
	Pools []stableswap.Pool `json:"pools"`
}

// SnapshotDiff is the payload of a "diff" event. It applies on top of the
// state identified by FromSeq.
type SnapshotDiff struct {
	FromSeq uint64                          `json:"fromSeq"`
	Seq     uint64                          `json:"seq"`
	Diff    stableswap.StableSwapSystemDiff `json:"diff"`
}

// StreamerConfig holds the configuration for the streamer.
type StreamerConfig struct {
	Engines  []*engine.Engine
	Interval time.Duration
	Logger   Logger
	// SubscriberBuffer bounds the events queued per subscriber. A subscriber
	// that falls behind is sent a full snapshot once it catches up.
	SubscriberBuffer int
}

func (c *StreamerConfig) validate() error {
	if len(c.Engines) == 0 {
		return errors.New("config: at least one engine is required")
	}
	if c.Interval <= 0 {
		return errors.New("config: Interval must be positive")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

type subscriber struct {
	ch    chan *SubscriptionEvent
	stale bool
}

// Streamer polls engine snapshots and fans out the changes to subscribers
// as a full snapshot followed by sequenced diffs.
type Streamer struct {
	engines  []*engine.Engine
	interval time.Duration
	buffer   int
	logger   Logger

	mu     sync.Mutex
	seq    uint64
	pools  []stableswap.Pool
	subs   map[uint64]*subscriber
	nextID uint64
}

// NewStreamer takes the initial snapshot of every engine.
func NewStreamer(cfg StreamerConfig) (*Streamer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	s := &Streamer{
		engines:  cfg.Engines,
		interval: cfg.Interval,
		buffer:   cfg.SubscriberBuffer,
		logger:   cfg.Logger,
		subs:     make(map[uint64]*subscriber),
	}
	s.pools = s.snapshots()
	return s, nil
}

func (s *Streamer) snapshots() []stableswap.Pool {
	pools := make([]stableswap.Pool, len(s.engines))
	for k, e := range s.engines {
		pools[k] = e.Snapshot()
	}
	sort.Slice(pools, func(a, b int) bool { return pools[a].ID < pools[b].ID })
	return pools
}

// Run publishes on every tick until ctx is done.
func (s *Streamer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Publish(); err != nil {
				s.logger.Error("Failed to publish snapshot diff", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Publish diffs the current snapshots against the last published ones and
// sends the diff to every subscriber. Nothing is sent when no pool changed.
func (s *Streamer) Publish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.snapshots()
	diff := stableswap.Differ(s.pools, current)
	if diff.IsEmpty() {
		return nil
	}

	from := s.seq
	s.seq++
	s.pools = current

	event, err := newEvent(EventDiff, SnapshotDiff{FromSeq: from, Seq: s.seq, Diff: diff})
	if err != nil {
		return err
	}
	var full *SubscriptionEvent
	for id, sub := range s.subs {
		ev := event
		if sub.stale {
			if full == nil {
				if full, err = s.fullEvent(); err != nil {
					return err
				}
			}
			ev = full
		}
		select {
		case sub.ch <- ev:
			sub.stale = false
		default:
			if !sub.stale {
				s.logger.Warn("Subscriber is falling behind; will resend full snapshot", "subscriber", id, "seq", s.seq)
			}
			sub.stale = true
		}
	}
	s.logger.Debug("Published snapshot diff",
		"seq", s.seq,
		"additions", len(diff.Additions),
		"updates", len(diff.Updates),
		"deletions", len(diff.Deletions),
		"subscribers", len(s.subs),
	)
	return nil
}

// fullEvent must be called with s.mu held.
func (s *Streamer) fullEvent() (*SubscriptionEvent, error) {
	return newEvent(EventFull, FullSnapshot{Seq: s.seq, Pools: s.pools})
}

func newEvent(kind string, payload any) (*SubscriptionEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return &SubscriptionEvent{Type: kind, Payload: data, SentAt: time.Now().UnixNano()}, nil
}

// subscribe registers a subscriber whose first event is a full snapshot.
func (s *Streamer) subscribe() (uint64, <-chan *SubscriptionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	full, err := s.fullEvent()
	if err != nil {
		return 0, nil, err
	}
	sub := &subscriber{ch: make(chan *SubscriptionEvent, s.buffer)}
	sub.ch <- full

	s.nextID++
	s.subs[s.nextID] = sub
	return s.nextID, sub.ch, nil
}

func (s *Streamer) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// Subscribers returns the number of live subscriptions.
func (s *Streamer) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// streamAPI is the RPC receiver of the streamer, kept apart so that only the
// subscription is exposed.
type streamAPI struct {
	streamer *Streamer
}

// SubscribeSnapshots streams a full snapshot followed by diffs.
func (api *streamAPI) SubscribeSnapshots(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}

	id, events, err := api.streamer.subscribe()
	if err != nil {
		return nil, err
	}
	rpcSub := notifier.CreateSubscription()
	api.streamer.logger.Info("Snapshot subscriber connected", "subscriber", id)

	go func() {
		defer api.streamer.unsubscribe(id)
		for {
			select {
			case ev := <-events:
				if err := notifier.Notify(rpcSub.ID, ev); err != nil {
					api.streamer.logger.Warn("Error notifying subscriber", "subscriber", id, "error", err)
					return
				}
			case <-rpcSub.Err():
				api.streamer.logger.Info("Snapshot subscriber disconnected", "subscriber", id)
				return
			}
		}
	}()
	return rpcSub, nil
}
