package export

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
	"github.com/garyjia/procurement-lifecycle/internal/domain/workflow"
)

func fixture() (*entity.Entity, []*entity.TransitionRecord) {
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	po := &entity.Entity{
		ID:        "PO-1",
		Type:      entity.TypePurchaseOrder,
		Status:    workflow.StateApproved,
		Amount:    entity.MustMoney("400", "USD"),
		Links:     []entity.Link{{Type: entity.TypePurchaseRequisition, ID: "PR-1"}},
		BudgetID:  "B1",
		Version:   3,
		CreatedAt: at,
		UpdatedAt: at.Add(time.Hour),
	}
	records := []*entity.TransitionRecord{
		{ID: 1, EntityID: "PO-1", EntityType: po.Type, Transition: workflow.TriggerSubmit,
			FromStatus: workflow.StateDraft, ToStatus: workflow.StatePendingApproval,
			ActorID: "u-1", ActorRole: "BUYER", AttemptID: "a-1", BudgetDelta: decimal.Zero, Timestamp: at},
		{ID: 2, EntityID: "PO-1", EntityType: po.Type, Transition: workflow.TriggerApprove,
			FromStatus: workflow.StatePendingApproval, ToStatus: workflow.StateApproved,
			ActorID: "u-2", ActorRole: "MANAGER", AttemptID: "a-2", BudgetID: "B1",
			BudgetDelta: decimal.RequireFromString("-400"), Timestamp: at.Add(time.Hour)},
	}
	return po, records
}

func TestHistoryExporter_Write(t *testing.T) {
	po, records := fixture()
	var buf bytes.Buffer
	require.NoError(t, NewHistoryExporter(zap.NewNop()).Write(&buf, po, records))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{HistorySheet, DocumentSheet}, f.GetSheetList())

	rows, err := f.GetRows(HistorySheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Transition", rows[0][2])
	assert.Equal(t, []string{"SUBMIT", "DRAFT", "PENDING_APPROVAL"}, rows[1][2:5])
	assert.Equal(t, "2026-04-01 10:00:00", rows[2][1])
	assert.Equal(t, "a-2", rows[2][7])

	delta, err := f.GetCellValue(HistorySheet, "J3", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "-400", delta)

	status, err := f.GetCellValue(DocumentSheet, "B3")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", status)

	link, err := f.GetCellValue(DocumentSheet, "B11")
	require.NoError(t, err)
	assert.Equal(t, "PR-1", link)
}

func TestHistoryExporter_EmptyHistory(t *testing.T) {
	po, _ := fixture()
	var buf bytes.Buffer
	require.NoError(t, NewHistoryExporter(zap.NewNop()).Write(&buf, po, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(HistorySheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestHistoryExporter_SaveAs(t *testing.T) {
	po, records := fixture()
	path := filepath.Join(t.TempDir(), Filename(po))
	require.NoError(t, NewHistoryExporter(zap.NewNop()).SaveAs(path, po, records))
	assert.Equal(t, "PURCHASE_ORDER-PO-1-history.xlsx", filepath.Base(path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(HistorySheet)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}
