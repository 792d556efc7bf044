// Package hooks bridges collaborator mutations (mail, chat,
// reservations, agent lifecycle) onto the event bus. The hook is
// advisory: business correctness lives in the SQL transaction that
// already committed, so nothing here may fail the caller.
package hooks

import (
	"context"
	"fmt"
	"log"

	"github.com/jordanhubbard/beadhub/internal/events"
	"github.com/jordanhubbard/beadhub/internal/presence"
	"github.com/jordanhubbard/beadhub/internal/registry"
)

// Hook translates mutation callbacks into published events.
type Hook struct {
	bus  *events.Bus
	reg  *registry.Registry
	pres *presence.Store
}

// New creates a mutation hook.
func New(bus *events.Bus, reg *registry.Registry, pres *presence.Store) *Hook {
	return &Hook{bus: bus, reg: reg, pres: pres}
}

// OnMutation runs side effects, translates the mutation to a typed
// event, enriches it best-effort, and publishes it. It never returns
// an error; every failure is logged and swallowed.
func (h *Hook) OnMutation(ctx context.Context, eventType string, data map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Hooks] panic in %s hook: %v", eventType, r)
		}
	}()

	if eventType == "agent.deregistered" {
		h.deregisterCascade(ctx, data)
		return
	}

	ev := h.translate(ctx, eventType, data)
	if ev == nil {
		return
	}
	if _, err := h.bus.Publish(ctx, ev); err != nil {
		log.Printf("[Hooks] publish %s failed: %v", eventType, err)
	}
}

// deregisterCascade soft-deletes the workspace matching the agent,
// which also removes its claims and clears its presence. An agent
// without a workspace is not an error.
func (h *Hook) deregisterCascade(ctx context.Context, data map[string]any) {
	agentID := str(data, "agent_id")
	projectID := str(data, "project_id")
	if agentID == "" || projectID == "" {
		log.Printf("[Hooks] agent.deregistered without agent_id/project_id, skipping cascade")
		return
	}
	if _, err := h.reg.SoftDelete(ctx, projectID, agentID); err != nil {
		log.Printf("[Hooks] deregister cascade for agent %s: %v", agentID, err)
	}
}

func (h *Hook) translate(ctx context.Context, eventType string, data map[string]any) events.Event {
	workspaceID := str(data, "workspace_id")
	if workspaceID == "" {
		workspaceID = str(data, "recipient_workspace_id")
	}
	if workspaceID == "" {
		return nil
	}
	projectSlug := h.slugFor(ctx, workspaceID, data)

	switch eventType {
	case "reservation.acquired":
		ev := events.NewReservationAcquired(workspaceID, projectSlug)
		ev.Paths = strs(data, "paths")
		ev.Alias = h.aliasFor(ctx, workspaceID, data)
		ev.TTLSeconds = num(data, "ttl_seconds")
		ev.BeadID = str(data, "bead_id")
		ev.Reason = str(data, "reason")
		ev.Exclusive = boolean(data, "exclusive")
		return ev
	case "reservation.released":
		ev := events.NewReservationReleased(workspaceID, projectSlug)
		ev.Paths = strs(data, "paths")
		ev.Alias = h.aliasFor(ctx, workspaceID, data)
		return ev
	case "reservation.renewed":
		ev := events.NewReservationRenewed(workspaceID, projectSlug)
		ev.Paths = strs(data, "paths")
		ev.Alias = h.aliasFor(ctx, workspaceID, data)
		ev.TTLSeconds = num(data, "ttl_seconds")
		return ev
	case "message.delivered":
		ev := events.NewMessageDelivered(workspaceID, projectSlug)
		ev.MessageID = str(data, "message_id")
		ev.FromWorkspace = str(data, "sender_workspace_id")
		ev.FromAlias = str(data, "sender_alias")
		ev.ToAlias = str(data, "recipient_alias")
		ev.Subject = str(data, "subject")
		if p := str(data, "priority"); p != "" {
			ev.Priority = p
		}
		return ev
	case "message.acknowledged":
		ev := events.NewMessageAcknowledged(workspaceID, projectSlug)
		ev.MessageID = str(data, "message_id")
		ev.FromAlias = str(data, "sender_alias")
		ev.Subject = str(data, "subject")
		return ev
	case "escalation.created":
		ev := events.NewEscalationCreated(workspaceID, projectSlug)
		ev.EscalationID = str(data, "escalation_id")
		ev.Alias = h.aliasFor(ctx, workspaceID, data)
		ev.Subject = str(data, "subject")
		return ev
	case "escalation.responded":
		ev := events.NewEscalationResponded(workspaceID, projectSlug)
		ev.EscalationID = str(data, "escalation_id")
		ev.Response = str(data, "response")
		return ev
	case "chat.message_sent":
		ev := events.NewChatMessageSent(workspaceID, projectSlug)
		ev.SessionID = str(data, "session_id")
		ev.MessageID = str(data, "message_id")
		ev.FromAlias = h.aliasFor(ctx, str(data, "sender_workspace_id"), data)
		ev.ToAliases = strs(data, "to_aliases")
		ev.Preview = str(data, "preview")
		return ev
	default:
		// Unknown mutation types are ignored on purpose.
		return nil
	}
}

// aliasFor prefers the alias supplied by the caller, then falls back
// to the presence hash. Enrichment failure yields an empty alias.
func (h *Hook) aliasFor(ctx context.Context, workspaceID string, data map[string]any) string {
	if alias := str(data, "alias"); alias != "" {
		return alias
	}
	if workspaceID == "" {
		return ""
	}
	fields, err := h.pres.Get(ctx, workspaceID)
	if err != nil {
		log.Printf("[Hooks] presence lookup for %s failed: %v", workspaceID, err)
		return ""
	}
	return fields["alias"]
}

func (h *Hook) slugFor(ctx context.Context, workspaceID string, data map[string]any) string {
	if slug := str(data, "project_slug"); slug != "" {
		return slug
	}
	return h.pres.GetWorkspaceProjectSlug(ctx, workspaceID)
}

func str(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	if v, ok := data[key].(fmt.Stringer); ok {
		return v.String()
	}
	return ""
}

func strs(data map[string]any, key string) []string {
	switch v := data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func num(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func boolean(data map[string]any, key string) bool {
	v, _ := data[key].(bool)
	return v
}
