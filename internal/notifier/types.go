package notifier

import (
	"context"
	"errors"
	"time"

	"bidwatch/internal/bid"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Config for Service. Zero values fall back to the defaults noted per field.
type Config struct {
	Enabled    bool
	QueueSize  int           // default 256
	RatePerSec int           // per sender; default 1 (Slack webhooks allow ~1 msg/s)
	Timeout    time.Duration // per send; default 10s
}

// Sender delivers one notice to one destination.
type Sender interface {
	Name() string
	Send(ctx context.Context, r bid.Record) error
}

// Stats counts records since the last Start. After Stop,
// Queued == Sent + Failed + Dropped.
type Stats struct {
	Queued  int
	Sent    int // delivered by every sender
	Failed  int // at least one sender failed or was not reached
	Dropped int // reached no sender before Stop gave up

	DroppedIDs []string
}
