// Package events defines the typed fan-out events published on Redis
// pub/sub, one channel per recipient workspace. Delivery is fire and
// forget; clients that need history read it back over HTTP.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordanhubbard/beadhub/internal/telemetry"
)

// Category is the dotted-type prefix used for stream filtering, e.g.
// "bead" for "bead.status_changed".
type Category string

const (
	CategoryReservation Category = "reservation"
	CategoryMessage     Category = "message"
	CategoryEscalation  Category = "escalation"
	CategoryBead        Category = "bead"
	CategoryChat        Category = "chat"
)

// ChannelName returns the Redis pub/sub channel for a workspace.
func ChannelName(workspaceID string) string {
	return "events:" + workspaceID
}

// Event is anything publishable on a workspace channel.
type Event interface {
	EventType() string
	EventWorkspace() string
}

// Base carries the fields every event shares. Constructors stamp Type
// and Timestamp; callers never set them directly.
type Base struct {
	WorkspaceID string `json:"workspace_id"`
	Type        string `json:"type"`
	Timestamp   string `json:"timestamp"`
	ProjectSlug string `json:"project_slug,omitempty"`
}

func (b Base) EventType() string      { return b.Type }
func (b Base) EventWorkspace() string { return b.WorkspaceID }

// CategoryOf extracts the category from a dotted event type.
func CategoryOf(eventType string) Category {
	if i := strings.Index(eventType, "."); i > 0 {
		return Category(eventType[:i])
	}
	return Category(eventType)
}

func newBase(eventType, workspaceID, projectSlug string) Base {
	return Base{
		WorkspaceID: workspaceID,
		Type:        eventType,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		ProjectSlug: projectSlug,
	}
}

// ReservationAcquired is emitted when path reservations are taken.
type ReservationAcquired struct {
	Base
	Paths      []string `json:"paths"`
	Alias      string   `json:"alias"`
	TTLSeconds int      `json:"ttl_seconds"`
	BeadID     string   `json:"bead_id,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Exclusive  bool     `json:"exclusive"`
}

// NewReservationAcquired builds a reservation.acquired event.
func NewReservationAcquired(workspaceID, projectSlug string) *ReservationAcquired {
	return &ReservationAcquired{Base: newBase("reservation.acquired", workspaceID, projectSlug), Exclusive: true}
}

// ReservationReleased is emitted when path reservations are dropped.
type ReservationReleased struct {
	Base
	Paths []string `json:"paths"`
	Alias string   `json:"alias"`
}

// NewReservationReleased builds a reservation.released event.
func NewReservationReleased(workspaceID, projectSlug string) *ReservationReleased {
	return &ReservationReleased{Base: newBase("reservation.released", workspaceID, projectSlug)}
}

// ReservationRenewed is emitted when reservation TTLs are extended.
type ReservationRenewed struct {
	Base
	Paths      []string `json:"paths"`
	Alias      string   `json:"alias"`
	TTLSeconds int      `json:"ttl_seconds"`
}

// NewReservationRenewed builds a reservation.renewed event.
func NewReservationRenewed(workspaceID, projectSlug string) *ReservationRenewed {
	return &ReservationRenewed{Base: newBase("reservation.renewed", workspaceID, projectSlug)}
}

// MessageDelivered is emitted when mail lands in a workspace inbox.
type MessageDelivered struct {
	Base
	MessageID     string `json:"message_id"`
	FromWorkspace string `json:"from_workspace"`
	FromAlias     string `json:"from_alias"`
	ToAlias       string `json:"to_alias"`
	Subject       string `json:"subject"`
	Priority      string `json:"priority"`
}

// NewMessageDelivered builds a message.delivered event.
func NewMessageDelivered(workspaceID, projectSlug string) *MessageDelivered {
	return &MessageDelivered{Base: newBase("message.delivered", workspaceID, projectSlug), Priority: "normal"}
}

// MessageAcknowledged is emitted when mail is acknowledged.
type MessageAcknowledged struct {
	Base
	MessageID string `json:"message_id"`
	FromAlias string `json:"from_alias"`
	Subject   string `json:"subject"`
}

// NewMessageAcknowledged builds a message.acknowledged event.
func NewMessageAcknowledged(workspaceID, projectSlug string) *MessageAcknowledged {
	return &MessageAcknowledged{Base: newBase("message.acknowledged", workspaceID, projectSlug)}
}

// EscalationCreated is emitted when a workspace raises an escalation.
type EscalationCreated struct {
	Base
	EscalationID string `json:"escalation_id"`
	Alias        string `json:"alias"`
	Subject      string `json:"subject"`
}

// NewEscalationCreated builds an escalation.created event.
func NewEscalationCreated(workspaceID, projectSlug string) *EscalationCreated {
	return &EscalationCreated{Base: newBase("escalation.created", workspaceID, projectSlug)}
}

// EscalationResponded is emitted when a human answers an escalation.
type EscalationResponded struct {
	Base
	EscalationID string `json:"escalation_id"`
	Response     string `json:"response"`
}

// NewEscalationResponded builds an escalation.responded event.
func NewEscalationResponded(workspaceID, projectSlug string) *EscalationResponded {
	return &EscalationResponded{Base: newBase("escalation.responded", workspaceID, projectSlug)}
}

// ChatMessageSent is emitted to each chat session participant.
type ChatMessageSent struct {
	Base
	SessionID string   `json:"session_id"`
	MessageID string   `json:"message_id"`
	FromAlias string   `json:"from_alias"`
	ToAliases []string `json:"to_aliases"`
	Preview   string   `json:"preview"`
}

// NewChatMessageSent builds a chat.message_sent event.
func NewChatMessageSent(workspaceID, projectSlug string) *ChatMessageSent {
	return &ChatMessageSent{Base: newBase("chat.message_sent", workspaceID, projectSlug)}
}

// BeadStatusChanged is emitted once per subscriber per detected
// status transition during issue sync.
type BeadStatusChanged struct {
	Base
	ProjectID string `json:"project_id"`
	BeadID    string `json:"bead_id"`
	Repo      string `json:"repo"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Title     string `json:"title,omitempty"`
	Alias     string `json:"alias"`
}

// NewBeadStatusChanged builds a bead.status_changed event.
func NewBeadStatusChanged(workspaceID, projectSlug string) *BeadStatusChanged {
	return &BeadStatusChanged{Base: newBase("bead.status_changed", workspaceID, projectSlug)}
}

// BeadClaimed is emitted when a workspace claims a bead.
type BeadClaimed struct {
	Base
	BeadID string `json:"bead_id"`
	Alias  string `json:"alias"`
	Title  string `json:"title,omitempty"`
}

// NewBeadClaimed builds a bead.claimed event.
func NewBeadClaimed(workspaceID, projectSlug string) *BeadClaimed {
	return &BeadClaimed{Base: newBase("bead.claimed", workspaceID, projectSlug)}
}

// BeadUnclaimed is emitted when a workspace releases a bead claim.
type BeadUnclaimed struct {
	Base
	BeadID string `json:"bead_id"`
	Alias  string `json:"alias"`
	Title  string `json:"title,omitempty"`
}

// NewBeadUnclaimed builds a bead.unclaimed event.
func NewBeadUnclaimed(workspaceID, projectSlug string) *BeadUnclaimed {
	return &BeadUnclaimed{Base: newBase("bead.unclaimed", workspaceID, projectSlug)}
}

// Bus publishes events to Redis pub/sub and, when configured, mirrors
// them onto a JetStream subject for external consumers.
type Bus struct {
	rdb    *redis.Client
	mirror *Mirror
}

// NewBus creates an event bus. mirror may be nil.
func NewBus(rdb *redis.Client, mirror *Mirror) *Bus {
	return &Bus{rdb: rdb, mirror: mirror}
}

// Redis exposes the underlying client for subscribers.
func (b *Bus) Redis() *redis.Client { return b.rdb }

// MirrorHealth reports whether a JetStream mirror is configured and,
// if so, whether its connection is healthy.
func (b *Bus) MirrorHealth() (configured bool, err error) {
	if b.mirror == nil {
		return false, nil
	}
	return true, b.mirror.Health()
}

// Publish sends one event to its workspace channel and returns the
// subscriber count. Mirror failures are logged, never surfaced.
func (b *Bus) Publish(ctx context.Context, e Event) (int64, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("failed to encode event %s: %w", e.EventType(), err)
	}

	count, err := b.rdb.Publish(ctx, ChannelName(e.EventWorkspace()), payload).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish event %s: %w", e.EventType(), err)
	}
	telemetry.RecordEventPublished(ctx)

	if b.mirror != nil {
		if err := b.mirror.Publish(e.EventWorkspace(), payload); err != nil {
			log.Printf("[Events] JetStream mirror failed for %s: %v", e.EventType(), err)
		}
	}
	return count, nil
}

// PublishAll publishes events in order, logging per-event failures and
// returning the first error encountered.
func (b *Bus) PublishAll(ctx context.Context, events ...Event) error {
	var first error
	for _, e := range events {
		if _, err := b.Publish(ctx, e); err != nil {
			log.Printf("[Events] publish %s failed: %v", e.EventType(), err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
