// Package client replicates the pool snapshots published by a stableswapd
// node over a JSON-RPC subscription.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/defistate/defistate-stableswap-go/api"
	"github.com/defistate/defistate-stableswap-go/protocols/stableswap"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second
)

// ErrSequenceGap is returned when a diff does not apply to the replicated
// state. The client resubscribes to receive a fresh full snapshot.
var ErrSequenceGap = errors.New("snapshot sequence gap")

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the configuration for the client.
type Config struct {
	URL        string
	Logger     Logger
	BufferSize uint
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Replica is the replicated set of pool snapshots at sequence Seq.
type Replica struct {
	Seq   uint64
	Pools []stableswap.Pool
}

// Pool returns the snapshot of pool id.
func (r *Replica) Pool(id uint64) (stableswap.Pool, bool) {
	for _, p := range r.Pools {
		if p.ID == id {
			return p, true
		}
	}
	return stableswap.Pool{}, false
}

// StreamProcessor parses events, applies diffs to the last replica and
// broadcasts every new replica. It is decoupled from the networking layer.
type StreamProcessor struct {
	last    *Replica
	stateCh chan *Replica
	logger  Logger
}

// NewStreamProcessor returns a processor that buffers up to bufferSize
// replicas.
func NewStreamProcessor(logger Logger, bufferSize uint) *StreamProcessor {
	return &StreamProcessor{
		logger:  logger,
		stateCh: make(chan *Replica, bufferSize),
	}
}

// State returns a read-only channel for receiving new replicas.
func (sp *StreamProcessor) State() <-chan *Replica {
	return sp.stateCh
}

// ProcessMessage accepts a raw JSON event, applies it and publishes the
// resulting replica.
func (sp *StreamProcessor) ProcessMessage(rawData json.RawMessage) error {
	start := time.Now()
	var event api.SubscriptionEvent
	if err := json.Unmarshal(rawData, &event); err != nil {
		return fmt.Errorf("decode snapshot event: %w", err)
	}

	switch event.Type {
	case api.EventFull:
		return sp.handleFull(event, start)
	case api.EventDiff:
		return sp.handleDiff(event, start)
	default:
		return fmt.Errorf("unknown snapshot event type %q", event.Type)
	}
}

func (sp *StreamProcessor) handleFull(event api.SubscriptionEvent, start time.Time) error {
	var full api.FullSnapshot
	if err := json.Unmarshal(event.Payload, &full); err != nil {
		return fmt.Errorf("decode full snapshot: %w", err)
	}

	replica := &Replica{Seq: full.Seq, Pools: full.Pools}
	sp.logApplied(replica, start, event.SentAt, api.EventFull)
	sp.publish(replica)
	return nil
}

func (sp *StreamProcessor) handleDiff(event api.SubscriptionEvent, start time.Time) error {
	var diff api.SnapshotDiff
	if err := json.Unmarshal(event.Payload, &diff); err != nil {
		return fmt.Errorf("decode snapshot diff: %w", err)
	}

	if sp.last == nil {
		return fmt.Errorf("received diff before full snapshot; from_seq: %d, seq: %d", diff.FromSeq, diff.Seq)
	}

	if diff.FromSeq != sp.last.Seq {
		sp.logger.Warn(
			"Received out-of-order diff; discarding replica.",
			"last_known_seq", sp.last.Seq,
			"diff_from_seq", diff.FromSeq,
			"diff_seq", diff.Seq,
		)
		lastSeq := sp.last.Seq
		sp.last = nil
		return fmt.Errorf("%w: have %d, diff from %d", ErrSequenceGap, lastSeq, diff.FromSeq)
	}

	pools, err := stableswap.Patcher(sp.last.Pools, diff.Diff)
	if err != nil {
		return fmt.Errorf("patch replica: %w", err)
	}

	replica := &Replica{Seq: diff.Seq, Pools: pools}
	sp.logApplied(replica, start, event.SentAt, api.EventDiff)
	sp.publish(replica)
	return nil
}

func (sp *StreamProcessor) publish(replica *Replica) {
	sp.last = replica
	sp.stateCh <- replica
}

// logApplied logs how long an event spent on the wire and in the processor.
func (sp *StreamProcessor) logApplied(replica *Replica, start time.Time, sentAt int64, eventType string) {
	sp.logger.Debug("Snapshot applied",
		"seq", replica.Seq,
		"type", eventType,
		"pools", len(replica.Pools),
		"transport", start.Sub(time.Unix(0, sentAt)),
		"apply", time.Since(start),
	)
}

// backoff doubles the reconnect delay after every failed attempt, up to
// maxReconnectDelay.
type backoff struct {
	delay time.Duration
}

func (b *backoff) reset() { b.delay = initialReconnectDelay }

// wait sleeps for the current delay, then doubles it. It reports false when
// ctx ended first.
func (b *backoff) wait(ctx context.Context) bool {
	if b.delay == 0 {
		b.reset()
	}
	t := time.NewTimer(b.delay)
	defer t.Stop()
	b.delay = min(b.delay*2, maxReconnectDelay)
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Client keeps a replica of a stableswapd node, reconnecting and
// resubscribing as needed.
type Client struct {
	processor *StreamProcessor
	errCh     chan error
	logger    Logger
}

// NewClient validates cfg and starts replicating in the background until
// ctx ends.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &Client{
		processor: NewStreamProcessor(cfg.Logger, cfg.BufferSize),
		errCh:     make(chan error, 1),
		logger:    cfg.Logger,
	}
	go c.run(ctx, cfg.URL)
	return c, nil
}

// State returns the channel every new replica is sent on.
func (c *Client) State() <-chan *Replica {
	return c.processor.State()
}

// Err returns a channel for unrecoverable errors. It is closed when the
// client stops.
func (c *Client) Err() <-chan error {
	return c.errCh
}

func (c *Client) run(ctx context.Context, url string) {
	defer close(c.errCh)
	var retry backoff
	retry.reset()

	for ctx.Err() == nil {
		c.logger.Info("Dialing stableswapd node", "url", url)
		conn, err := rpc.DialContext(ctx, url)
		if err != nil {
			c.logger.Error("Dial failed", "url", url, "error", err, "retry_in", retry.delay)
			retry.wait(ctx)
			continue
		}
		retry.reset()

		err = c.replicate(ctx, conn)
		switch {
		case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		case errors.Is(err, ErrSequenceGap):
			c.logger.Warn("Replica lost sync, requesting a full snapshot", "error", err)
		default:
			c.logger.Error("Snapshot subscription ended", "error", err, "retry_in", retry.delay)
			retry.wait(ctx)
		}
	}
	c.logger.Info("Replica client stopped")
}

// replicate subscribes to snapshots over conn and feeds the processor until
// the subscription fails, the replica loses sync or ctx ends.
func (c *Client) replicate(ctx context.Context, conn *rpc.Client) error {
	defer conn.Close()

	events := make(chan json.RawMessage)
	sub, err := conn.Subscribe(ctx, api.Namespace, events, api.SnapshotSubscriptionMethod)
	if err != nil {
		return fmt.Errorf("subscribe to snapshots: %w", err)
	}
	defer sub.Unsubscribe()
	c.logger.Info("Subscribed to snapshots")

	for {
		select {
		case raw := <-events:
			err := c.processor.ProcessMessage(raw)
			if errors.Is(err, ErrSequenceGap) {
				return err
			}
			if err != nil {
				c.logger.Error("Dropping snapshot event", "error", err)
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
