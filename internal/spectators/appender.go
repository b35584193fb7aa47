// Package spectators turns a completed checkout session into spectator rows:
// one row per line item, written to the tab named after the purchased product.
//
// Tabs are created on first use with a header row derived from the session
// that triggered them. Rows are appended one at a time in line-item order and
// the first failure aborts the rest; rows already written stay written, and a
// redelivered event appends them again.
package spectators

import (
	"context"
	"fmt"
	"log/slog"

	"spectatorsheet/internal/external"
	"spectatorsheet/internal/types"
)

// PipelineMetrics receives per-row and per-tab counts. Optional.
type PipelineMetrics interface {
	RecordRowAppended(eventType string)
	RecordSheetCreated()
}

// Appender writes the spectators of a checkout session to a spreadsheet.
type Appender struct {
	Sheets    external.SpreadsheetService
	LineItems external.LineItemLister
	Metrics   PipelineMetrics
	Logger    *slog.Logger
}

// Result summarizes one Append call.
type Result struct {
	RowsAppended  int
	SheetsCreated []string
}

// Append opens the spreadsheet, lists every line item of the session and
// appends one row per item. The spreadsheet directory is loaded before the
// line items are fetched, so an unreachable spreadsheet never costs a Stripe
// call.
func (a *Appender) Append(ctx context.Context, spreadsheetID string, session *types.CheckoutSession) (Result, error) {
	var res Result
	logger := types.LoggerFromContext(ctx, a.logger())

	doc, err := a.Sheets.Open(ctx, spreadsheetID)
	if err != nil {
		return res, fmt.Errorf("opening spreadsheet: %w", err)
	}

	items, err := a.LineItems.ListLineItems(ctx, session.ID)
	if err != nil {
		return res, fmt.Errorf("listing line items: %w", err)
	}

	for i, item := range items {
		sh, created, err := sheetFor(ctx, doc, item.Description, session)
		if err != nil {
			return res, fmt.Errorf("line item %d (%q): %w", i, item.Description, err)
		}
		if created {
			res.SheetsCreated = append(res.SheetsCreated, sh.Title())
			if a.Metrics != nil {
				a.Metrics.RecordSheetCreated()
			}
			logger.InfoContext(ctx, "created spectator sheet",
				"sheet", sh.Title(),
				"session_id", session.ID,
			)
		}

		row, err := types.NewSheetRow(session, item)
		if err != nil {
			return res, types.NewAppError(types.ErrCodeInternalCheckoutEvent, err.Error(), err)
		}
		if err := sh.AppendRow(ctx, row); err != nil {
			return res, fmt.Errorf("line item %d (%q): %w", i, item.Description, err)
		}

		res.RowsAppended++
		if a.Metrics != nil {
			a.Metrics.RecordRowAppended(types.EventCheckoutSessionCompleted)
		}
	}

	logger.InfoContext(ctx, "appended spectator rows",
		"session_id", session.ID,
		"rows", res.RowsAppended,
		"sheets_created", len(res.SheetsCreated),
	)
	return res, nil
}

// sheetFor returns the tab titled after a product, creating it with the
// session's header row when it does not exist yet.
func sheetFor(ctx context.Context, doc external.Spreadsheet, title string, session *types.CheckoutSession) (external.Sheet, bool, error) {
	if sh, ok := doc.SheetByTitle(title); ok {
		return sh, false, nil
	}
	sh, err := doc.AddSheet(ctx, title, session.HeaderValues())
	if err != nil {
		return nil, false, err
	}
	return sh, true, nil
}

func (a *Appender) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}
