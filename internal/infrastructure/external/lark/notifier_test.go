package lark

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/domain/event"
)

type sentMessage struct {
	receiveIDType, receiveID, msgType, content string
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMessage{receiveIDType, receiveID, msgType, content})
	return "om_1", nil
}

func transitioned() *event.Event {
	return event.NewEvent(event.TypeEntityTransitioned, "PO-1", "PURCHASE_ORDER", nil).
		WithTransition("APPROVE", "PENDING_APPROVAL", "APPROVED").
		WithActor("u-7", "MANAGER")
}

func TestNotifier_Handle(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, Config{ReceiveID: "oc_team"}, zap.NewNop())

	require.NoError(t, n.Handle(context.Background(), transitioned()))
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "chat_id", msg.receiveIDType)
	assert.Equal(t, "oc_team", msg.receiveID)
	assert.Equal(t, "text", msg.msgType)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(msg.content), &body))
	assert.Equal(t, "PURCHASE_ORDER PO-1: PENDING_APPROVAL -> APPROVED (APPROVE) by u-7 [MANAGER]", body["text"])
}

func TestNotifier_EventTypeFilter(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, Config{ReceiveIDType: "open_id", ReceiveID: "ou_1"}, zap.NewNop(),
		WithEventTypes(event.TypeBudgetDebited))

	require.NoError(t, n.Handle(context.Background(), transitioned()))
	assert.Empty(t, sender.sent)

	debit := event.NewEvent(event.TypeBudgetDebited, "B1", "BUDGET", map[string]interface{}{
		"entity_id": "PO-1",
		"delta":     "-400",
		"currency":  "USD",
	})
	require.NoError(t, n.Handle(context.Background(), debit))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "open_id", sender.sent[0].receiveIDType)
}

func TestNotifier_SenderError(t *testing.T) {
	boom := errors.New("API error: code=99991663, msg=token invalid")
	n := NewNotifier(&fakeSender{err: boom}, Config{ReceiveID: "oc_team"}, zap.NewNop())

	err := n.Handle(context.Background(), transitioned())
	assert.ErrorIs(t, err, boom)
}

func TestFormatText(t *testing.T) {
	tests := []struct {
		name string
		evt  *event.Event
		want string
	}{
		{
			name: "derived",
			evt: event.NewEvent(event.TypeEntityDerived, "INV-9", "INVOICE", map[string]interface{}{"parent_id": "GR-1"}).
				WithTransition("DERIVE", "", "DRAFT"),
			want: "INVOICE INV-9 created as DRAFT from GR-1",
		},
		{
			name: "credited",
			evt: event.NewEvent(event.TypeBudgetCredited, "B1", "BUDGET", map[string]interface{}{
				"entity_id": "PO-1", "delta": "400", "currency": "USD",
			}).WithActor("u-1", "BUYER"),
			want: "Budget B1 credited 400 USD for PO-1 by u-1 [BUYER]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatText(tt.evt))
		})
	}
}
