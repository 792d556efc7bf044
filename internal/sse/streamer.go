// Package sse streams workspace events as Server-Sent Events frames.
// The core loop is transport-agnostic: the HTTP handler and the
// WebSocket bridge both feed frames through a send callback.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/jordanhubbard/beadhub/internal/events"
)

// KeepaliveFrame is the comment sent to hold idle connections open.
const KeepaliveFrame = ": keepalive\n\n"

// DefaultKeepalive is the interval between keepalive comments.
const DefaultKeepalive = 30 * time.Second

// emptyStreamMaxDuration bounds streams opened with no workspaces, so
// a project with no members cannot hold a connection forever.
const emptyStreamMaxDuration = 5 * time.Minute

// receiveTimeout is how long one pub/sub poll blocks before the loop
// re-checks keepalives and cancellation.
const receiveTimeout = 1 * time.Second

// Options configures one stream.
type Options struct {
	// WorkspaceIDs are the channels to subscribe to. Empty means a
	// keepalive-only stream with a bounded lifetime.
	WorkspaceIDs []string
	// Categories filters events by dotted-type prefix. Nil streams
	// everything.
	Categories map[events.Category]bool
	// Keepalive overrides DefaultKeepalive when positive.
	Keepalive time.Duration
}

// SendFunc delivers one SSE-formatted frame to the client. Returning
// an error ends the stream.
type SendFunc func(frame string) error

func newReconnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	return b
}

// Stream subscribes to the workspaces' event channels and forwards
// matching events as SSE frames until ctx is cancelled or send fails.
// Redis outages are survived by reconnecting with exponential backoff
// while keepalives continue to flow.
func Stream(ctx context.Context, rdb *redis.Client, opts Options, send SendFunc) error {
	keepalive := opts.Keepalive
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}

	if len(opts.WorkspaceIDs) == 0 {
		return streamEmpty(ctx, keepalive, send)
	}

	channels := make([]string, len(opts.WorkspaceIDs))
	for i, wid := range opts.WorkspaceIDs {
		channels[i] = events.ChannelName(wid)
	}

	var pubsub *redis.PubSub
	closePubsub := func() {
		if pubsub != nil {
			_ = pubsub.Close()
			pubsub = nil
		}
	}
	defer closePubsub()

	connect := func() error {
		ps := rdb.Subscribe(ctx, channels...)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return err
		}
		pubsub = ps
		return nil
	}

	retry := newReconnectBackoff()
	var nextReconnect time.Time

	if err := connect(); err != nil {
		log.Printf("[SSE] initial subscribe failed: %v", err)
		nextReconnect = time.Now().Add(retry.NextBackOff())
	}

	lastKeepalive := time.Now()
	lastPing := lastKeepalive

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		now := time.Now()

		if pubsub == nil {
			if now.After(nextReconnect) {
				if err := connect(); err != nil {
					log.Printf("[SSE] pubsub reconnect failed, will retry: %v", err)
					nextReconnect = now.Add(retry.NextBackOff())
				} else {
					retry.Reset()
					lastKeepalive = now
					lastPing = now
					continue
				}
			}
			if now.Sub(lastKeepalive) >= keepalive {
				if err := send(KeepaliveFrame); err != nil {
					return nil
				}
				lastKeepalive = now
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(minDuration(receiveTimeout, keepalive)):
			}
			continue
		}

		msg, err := pubsub.ReceiveTimeout(ctx, receiveTimeout)
		if err != nil {
			if !isTimeout(err) {
				if ctx.Err() != nil {
					return nil
				}
				log.Printf("[SSE] pubsub receive error, reconnecting: %v", err)
				closePubsub()
				nextReconnect = time.Now().Add(retry.NextBackOff())
			}
			msg = nil
		}

		now = time.Now()
		if m, ok := msg.(*redis.Message); ok {
			if frame, ok := frameFor(m.Payload, opts.Categories); ok {
				if err := send(frame); err != nil {
					return nil
				}
				lastKeepalive = now
			}
		}

		if now.Sub(lastKeepalive) >= keepalive {
			if pubsub != nil && now.Sub(lastPing) >= keepalive {
				if err := pubsub.Ping(ctx); err != nil {
					log.Printf("[SSE] pubsub ping failed, reconnecting: %v", err)
					closePubsub()
					nextReconnect = now.Add(retry.NextBackOff())
				} else {
					lastPing = now
				}
			}
			if err := send(KeepaliveFrame); err != nil {
				return nil
			}
			lastKeepalive = now
		}
	}
}

// streamEmpty sends keepalives for a bounded window. New projects have
// no workspaces yet but clients still expect the stream to open.
func streamEmpty(ctx context.Context, keepalive time.Duration, send SendFunc) error {
	deadline := time.Now().Add(emptyStreamMaxDuration)
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if time.Now().After(deadline) {
				log.Printf("[SSE] empty workspace stream reached max duration, closing")
				return nil
			}
			if err := send(KeepaliveFrame); err != nil {
				return nil
			}
		}
	}
}

// frameFor applies the category filter and wraps the payload as an
// SSE data frame. Unparseable payloads are dropped.
func frameFor(payload string, categories map[events.Category]bool) (string, bool) {
	if categories != nil {
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(payload), &probe); err != nil {
			log.Printf("[SSE] dropping invalid event payload: %v", err)
			return "", false
		}
		if !categories[events.CategoryOf(probe.Type)] {
			return "", false
		}
	}
	return "data: " + payload + "\n\n", true
}

// ParseCategories turns a comma-separated filter string into a
// category set. Empty input means no filter.
func ParseCategories(raw string) map[events.Category]bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	set := make(map[events.Category]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			set[events.Category(part)] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
