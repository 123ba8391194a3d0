package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher delivers billing events to clients over Redis pub/sub channels.
//
// Delivery is strictly best-effort and fire-and-forget: a notification-channel
// outage must never roll back or delay a financial commit. Failures are
// logged and swallowed, never retried.
type Publisher struct {
	rdb *redis.Client
	log *slog.Logger

	// publishTimeout bounds the round-trip so a stalled broker cannot stall
	// a billing caller.
	publishTimeout time.Duration
}

func NewPublisher(rdb *redis.Client, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{rdb: rdb, log: log, publishTimeout: 2 * time.Second}
}

// Envelope is the wire shape published on a channel.
type Envelope struct {
	Event string    `json:"event"`
	Data  any       `json:"data"`
	Ts    time.Time `json:"ts"`
}

// Publish sends one event on a channel. Safe to call with a nil receiver or
// nil client (degrades to a debug log).
func (p *Publisher) Publish(ctx context.Context, channel, event string, payload any) {
	if p == nil || p.rdb == nil {
		slog.Debug("notify: no publisher configured", "event", event)
		return
	}
	if channel == "" || event == "" {
		p.log.Warn("notify: dropping event without channel or name", "event", event)
		return
	}

	b, err := json.Marshal(Envelope{Event: event, Data: payload, Ts: time.Now().UTC()})
	if err != nil {
		p.log.Warn("notify: marshal failed", "event", event, "err", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.publishTimeout)
	defer cancel()
	if err := p.rdb.Publish(pubCtx, channel, b).Err(); err != nil {
		p.log.Warn("notify: publish failed", "channel", channel, "event", event, "err", err)
	}
}
