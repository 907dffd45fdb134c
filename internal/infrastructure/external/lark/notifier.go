package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/domain/event"
)

// Notifier turns domain events into Lark text messages
type Notifier struct {
	sender        MessageSender
	receiveIDType string
	receiveID     string
	types         map[event.Type]bool
	logger        *zap.Logger
}

// NotifierOption configures a Notifier
type NotifierOption func(*Notifier)

// WithEventTypes restricts the notifier to the given event types
func WithEventTypes(types ...event.Type) NotifierOption {
	return func(n *Notifier) {
		n.types = make(map[event.Type]bool, len(types))
		for _, t := range types {
			n.types[t] = true
		}
	}
}

// NewNotifier creates a notifier posting to the configured receiver
func NewNotifier(sender MessageSender, cfg Config, logger *zap.Logger, opts ...NotifierOption) *Notifier {
	receiveIDType := cfg.ReceiveIDType
	if receiveIDType == "" {
		receiveIDType = "chat_id"
	}
	n := &Notifier{
		sender:        sender,
		receiveIDType: receiveIDType,
		receiveID:     cfg.ReceiveID,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Handle sends one message for evt. Filtered event types are skipped silently.
func (n *Notifier) Handle(ctx context.Context, evt *event.Event) error {
	if n.types != nil && !n.types[evt.Type] {
		return nil
	}

	content, err := json.Marshal(map[string]string{"text": FormatText(evt)})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	messageID, err := n.sender.SendMessage(ctx, n.receiveIDType, n.receiveID, "text", string(content))
	if err != nil {
		return fmt.Errorf("failed to notify lark for event %s: %w", evt.ID, err)
	}

	n.logger.Info("Lark notification sent",
		zap.String("event_id", evt.ID),
		zap.String("message_id", messageID))
	return nil
}

// FormatText renders an event as a short human readable message
func FormatText(evt *event.Event) string {
	var b strings.Builder
	switch evt.Type {
	case event.TypeEntityTransitioned:
		fmt.Fprintf(&b, "%s %s: %s -> %s (%s)", evt.EntityType, evt.EntityID, evt.FromStatus, evt.ToStatus, evt.Transition)
	case event.TypeEntityDerived:
		fmt.Fprintf(&b, "%s %s created as %s", evt.EntityType, evt.EntityID, evt.ToStatus)
		if parent := evt.GetPayloadString("parent_id"); parent != "" {
			fmt.Fprintf(&b, " from %s", parent)
		}
	case event.TypeBudgetDebited, event.TypeBudgetCredited:
		fmt.Fprintf(&b, "Budget %s %s %s %s for %s", evt.EntityID, strings.TrimPrefix(evt.Type.String(), "budget."),
			evt.GetPayloadString("delta"), evt.GetPayloadString("currency"), evt.GetPayloadString("entity_id"))
		if avail := evt.GetPayloadString("available_amount"); avail != "" {
			fmt.Fprintf(&b, ", available %s", avail)
		}
	default:
		fmt.Fprintf(&b, "%s %s", evt.Type, evt.EntityID)
	}
	if evt.ActorID != "" {
		fmt.Fprintf(&b, " by %s", evt.ActorID)
		if evt.ActorRole != "" {
			fmt.Fprintf(&b, " [%s]", evt.ActorRole)
		}
	}
	return b.String()
}
