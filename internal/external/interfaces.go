package external

import (
	"context"

	"spectatorsheet/internal/types"
)

// ---------------------------------------------------------------------------
// Payment provider (Stripe)
// ---------------------------------------------------------------------------

// EventVerifier checks a webhook signature over the exact request bytes and
// returns the decoded event. Errors carry the vendor's message text.
type EventVerifier interface {
	Verify(payload []byte, signatureHeader string) (*types.WebhookEvent, error)
}

// LineItemLister returns every line item of a checkout session, in the order
// the provider lists them, draining all pages.
type LineItemLister interface {
	ListLineItems(ctx context.Context, sessionID string) ([]types.LineItem, error)
}

// ---------------------------------------------------------------------------
// Spreadsheet (Google Sheets)
// ---------------------------------------------------------------------------

// SpreadsheetService opens a spreadsheet by ID. Open authenticates and loads
// the sheet directory; the returned handle lives for one webhook delivery.
type SpreadsheetService interface {
	Open(ctx context.Context, spreadsheetID string) (Spreadsheet, error)
}

// Spreadsheet is a request-scoped handle on one spreadsheet's sheet directory.
// Sheets added through AddSheet are visible to later SheetByTitle calls.
type Spreadsheet interface {
	SheetByTitle(title string) (Sheet, bool)
	AddSheet(ctx context.Context, title string, headers []string) (Sheet, error)
}

// Sheet is one tab of a spreadsheet.
type Sheet interface {
	Title() string
	// AppendRow writes row below the last data row, laid out along the
	// sheet's header row.
	AppendRow(ctx context.Context, row types.SheetRow) error
}
