// Package export renders transition history as spreadsheets.
package export

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/domain/entity"
)

const (
	// ContentType is the MIME type of the produced workbook
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	HistorySheet  = "History"
	DocumentSheet = "Document"

	timeLayout = "2006-01-02 15:04:05"
)

var historyHeader = []interface{}{
	"#", "Timestamp", "Transition", "From", "To", "Actor", "Role", "Attempt", "Budget", "Budget Delta",
}

// HistoryExporter writes a document snapshot and its transition records to an xlsx workbook
type HistoryExporter struct {
	logger *zap.Logger
}

// NewHistoryExporter creates a new exporter
func NewHistoryExporter(logger *zap.Logger) *HistoryExporter {
	return &HistoryExporter{logger: logger}
}

// Filename suggests a download name for the document's history
func Filename(e *entity.Entity) string {
	return fmt.Sprintf("%s-%s-history.xlsx", e.Type, e.ID)
}

// Write renders the workbook to w
func (x *HistoryExporter) Write(w io.Writer, e *entity.Entity, records []*entity.TransitionRecord) error {
	f, err := x.build(e, records)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// SaveAs renders the workbook to a file
func (x *HistoryExporter) SaveAs(path string, e *entity.Entity, records []*entity.TransitionRecord) error {
	f, err := x.build(e, records)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	x.logger.Info("History exported",
		zap.String("entity_id", e.ID),
		zap.Int("records", len(records)),
		zap.String("output_path", path))
	return nil
}

func (x *HistoryExporter) build(e *entity.Entity, records []*entity.TransitionRecord) (*excelize.File, error) {
	f := excelize.NewFile()

	// the default sheet becomes the history sheet so it opens first
	if err := f.SetSheetName("Sheet1", HistorySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(DocumentSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	if err := x.writeHistory(f, records); err != nil {
		f.Close()
		return nil, err
	}
	if err := x.writeDocument(f, e); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (x *HistoryExporter) writeHistory(f *excelize.File, records []*entity.TransitionRecord) error {
	if err := f.SetSheetRow(HistorySheet, "A1", &historyHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(historyHeader))
	if err := f.SetCellStyle(HistorySheet, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	amount, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return fmt.Errorf("failed to create amount style: %w", err)
	}

	for i, r := range records {
		row := i + 2
		cell := "A" + strconv.Itoa(row)
		values := []interface{}{
			i + 1,
			r.Timestamp.UTC().Format(timeLayout),
			r.Transition.String(),
			r.FromStatus.String(),
			r.ToStatus.String(),
			r.ActorID,
			r.ActorRole,
			r.AttemptID,
			r.BudgetID,
			r.BudgetDelta.InexactFloat64(),
		}
		if err := f.SetSheetRow(HistorySheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write record %d: %w", r.ID, err)
		}
		deltaCell := "J" + strconv.Itoa(row)
		if err := f.SetCellStyle(HistorySheet, deltaCell, deltaCell, amount); err != nil {
			x.logger.Warn("Failed to style amount cell", zap.String("cell", deltaCell), zap.Error(err))
		}
	}

	if err := f.SetColWidth(HistorySheet, "B", "I", 20); err != nil {
		x.logger.Warn("Failed to set column width", zap.Error(err))
	}
	if len(records) > 0 {
		if err := f.AutoFilter(HistorySheet, "A1:"+lastCol+strconv.Itoa(len(records)+1), nil); err != nil {
			x.logger.Warn("Failed to add auto filter", zap.Error(err))
		}
	}
	return nil
}

func (x *HistoryExporter) writeDocument(f *excelize.File, e *entity.Entity) error {
	rows := [][]interface{}{
		{"ID", e.ID},
		{"Type", e.Type.String()},
		{"Status", e.Status.String()},
		{"Amount", e.Amount.Amount.String()},
		{"Currency", e.Amount.Currency},
		{"Org Unit", e.OwnerOrgUnitID},
		{"Budget", e.BudgetID},
		{"Version", e.Version},
		{"Created", e.CreatedAt.UTC().Format(timeLayout)},
		{"Updated", e.UpdatedAt.UTC().Format(timeLayout)},
	}
	if e.DueDate != nil {
		rows = append(rows, []interface{}{"Due", e.DueDate.UTC().Format(timeLayout)})
	}
	for _, l := range e.Links {
		rows = append(rows, []interface{}{"Linked " + l.Type.String(), l.ID})
	}

	for i := range rows {
		if err := f.SetSheetRow(DocumentSheet, "A"+strconv.Itoa(i+1), &rows[i]); err != nil {
			return fmt.Errorf("failed to write document row: %w", err)
		}
	}
	return nil
}
