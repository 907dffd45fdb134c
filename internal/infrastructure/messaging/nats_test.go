package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/domain/event"
)

type fakeConn struct {
	msgs       []*nats.Msg
	publishErr error
	flushes    int
}

func (f *fakeConn) PublishMsg(msg *nats.Msg) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeConn) FlushWithContext(ctx context.Context) error {
	f.flushes++
	return nil
}

func TestPublisher_Subject(t *testing.T) {
	assert.Equal(t, "procurement.entity.transitioned", NewPublisher(&fakeConn{}, "procurement.", zap.NewNop()).Subject(event.TypeEntityTransitioned))
	assert.Equal(t, "budget.debited", NewPublisher(&fakeConn{}, "", zap.NewNop()).Subject(event.TypeBudgetDebited))
}

func TestPublisher_Handle(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "procurement", zap.NewNop())

	evt := event.NewEventWithCorrelation(event.TypeEntityTransitioned, "PO-1", "PURCHASE_ORDER",
		map[string]interface{}{"budget_id": "B1"}, "attempt-7").
		WithTransition("APPROVE", "PENDING_APPROVAL", "APPROVED")

	require.NoError(t, p.Handle(context.Background(), evt))
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, 1, conn.flushes)

	msg := conn.msgs[0]
	assert.Equal(t, "procurement.entity.transitioned", msg.Subject)
	assert.Equal(t, evt.ID, msg.Header.Get(nats.MsgIdHdr))
	assert.Equal(t, "attempt-7", msg.Header.Get("Correlation-Id"))

	var decoded event.Event
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, "PO-1", decoded.EntityID)
	assert.Equal(t, "APPROVED", decoded.ToStatus)
}

func TestPublisher_HandlePublishError(t *testing.T) {
	down := errors.New("nats: connection closed")
	p := NewPublisher(&fakeConn{publishErr: down}, "procurement", zap.NewNop())

	err := p.Handle(context.Background(), event.NewEvent(event.TypeBudgetCredited, "B1", "BUDGET", nil))
	assert.ErrorIs(t, err, down)
}
