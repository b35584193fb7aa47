package external

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"spectatorsheet/internal/types"
)

// Value input modes of the Sheets values API. Cells are written RAW so that
// customer-entered text starting with "=" is never evaluated as a formula.
const (
	valueInputRaw     = "RAW"
	insertDataRows    = "INSERT_ROWS"
	googleSheetsProbe = "google_credentials"
)

// GoogleSheetsConfig configures GoogleSheets.
type GoogleSheetsConfig struct {
	ServiceAccountEmail string
	// PrivateKey is the PEM-encoded service account key with real newlines.
	PrivateKey string
	// Endpoint and TokenURL override Google's defaults for tests and emulators.
	Endpoint string
	TokenURL string
	// HTTPClient carries both token exchanges and Sheets API calls.
	HTTPClient *http.Client
}

// GoogleSheets implements SpreadsheetService with a service account and the
// Sheets v4 REST API.
type GoogleSheets struct {
	cfg GoogleSheetsConfig
}

// NewGoogleSheets creates the service. Credentials are checked lazily by
// Open and by the health probe, so a bad key never blocks startup.
func NewGoogleSheets(cfg GoogleSheetsConfig) *GoogleSheets {
	if cfg.TokenURL == "" {
		cfg.TokenURL = google.JWTTokenURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &GoogleSheets{cfg: cfg}
}

// Open authenticates as the service account, then loads the sheet directory
// of spreadsheetID.
func (g *GoogleSheets) Open(ctx context.Context, spreadsheetID string) (Spreadsheet, error) {
	if err := parsePrivateKey(g.cfg.PrivateKey); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamAuth, "invalid service account key", err)
	}

	jwtCfg := &jwt.Config{
		Email:      g.cfg.ServiceAccountEmail,
		PrivateKey: []byte(g.cfg.PrivateKey),
		Scopes:     []string{sheets.SpreadsheetsScope},
		TokenURL:   g.cfg.TokenURL,
	}

	// The token exchange goes through the same breaker-wrapped client.
	authCtx := context.WithValue(ctx, oauth2.HTTPClient, g.cfg.HTTPClient)
	ts := jwtCfg.TokenSource(authCtx)
	if _, err := ts.Token(); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamAuth, "service account authentication failed", err)
	}

	client := oauth2.NewClient(authCtx, ts)
	client.Timeout = g.cfg.HTTPClient.Timeout

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.cfg.Endpoint))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "creating sheets client", err)
	}

	doc, err := svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, sheetsError("loading spreadsheet", err)
	}

	ss := &spreadsheet{
		svc:     svc,
		id:      spreadsheetID,
		byTitle: make(map[string]*sheet, len(doc.Sheets)),
	}
	for _, s := range doc.Sheets {
		if s.Properties == nil {
			continue
		}
		ss.byTitle[s.Properties.Title] = &sheet{doc: ss, title: s.Properties.Title}
	}
	return ss, nil
}

// Name implements core.HealthProbe.
func (g *GoogleSheets) Name() string {
	return googleSheetsProbe
}

// Check implements core.HealthProbe by parsing the service account key.
func (g *GoogleSheets) Check(_ context.Context) error {
	if g.cfg.ServiceAccountEmail == "" {
		return errors.New("service account email is empty")
	}
	return parsePrivateKey(g.cfg.PrivateKey)
}

// spreadsheet is the request-scoped directory of one spreadsheet.
type spreadsheet struct {
	svc     *sheets.Service
	id      string
	byTitle map[string]*sheet
}

func (s *spreadsheet) SheetByTitle(title string) (Sheet, bool) {
	sh, ok := s.byTitle[title]
	if !ok {
		return nil, false
	}
	return sh, true
}

// AddSheet creates a tab and writes its header row.
func (s *spreadsheet) AddSheet(ctx context.Context, title string, headers []string) (Sheet, error) {
	props := &sheets.SheetProperties{Title: title}
	// New tabs default to 26 columns; the header row must fit.
	if len(headers) > 26 {
		props.GridProperties = &sheets.GridProperties{ColumnCount: int64(len(headers)), RowCount: 1000}
	}

	_, err := s.svc.Spreadsheets.BatchUpdate(s.id, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{AddSheet: &sheets.AddSheetRequest{Properties: props}}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, sheetsError(fmt.Sprintf("adding sheet %q", title), err)
	}

	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	_, err = s.svc.Spreadsheets.Values.Update(s.id, a1Range(title, "1:1"), &sheets.ValueRange{
		Values: [][]interface{}{header},
	}).ValueInputOption(valueInputRaw).Context(ctx).Do()
	if err != nil {
		return nil, sheetsError(fmt.Sprintf("writing header row of %q", title), err)
	}

	sh := &sheet{doc: s, title: title, headers: append([]string(nil), headers...)}
	s.byTitle[title] = sh
	return sh, nil
}

type sheet struct {
	doc     *spreadsheet
	title   string
	headers []string // nil until loaded
}

func (s *sheet) Title() string { return s.title }

// AppendRow lays row out along the sheet's header row and appends it.
func (s *sheet) AppendRow(ctx context.Context, row types.SheetRow) error {
	if s.headers == nil {
		if err := s.loadHeaders(ctx); err != nil {
			return err
		}
	}

	_, err := s.doc.svc.Spreadsheets.Values.Append(s.doc.id, a1Range(s.title, "A1"), &sheets.ValueRange{
		Values: [][]interface{}{row.Project(s.headers)},
	}).ValueInputOption(valueInputRaw).InsertDataOption(insertDataRows).Context(ctx).Do()
	if err != nil {
		return sheetsError(fmt.Sprintf("appending row to %q", s.title), err)
	}
	return nil
}

func (s *sheet) loadHeaders(ctx context.Context) error {
	resp, err := s.doc.svc.Spreadsheets.Values.Get(s.doc.id, a1Range(s.title, "1:1")).Context(ctx).Do()
	if err != nil {
		return sheetsError(fmt.Sprintf("reading header row of %q", s.title), err)
	}
	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		return types.NewAppError(
			types.ErrCodeInternalSheetHeader,
			fmt.Sprintf("sheet %q has no header row", s.title),
			nil,
		)
	}

	headers := make([]string, len(resp.Values[0]))
	for i, v := range resp.Values[0] {
		headers[i] = fmt.Sprint(v)
	}
	s.headers = headers
	return nil
}

// a1Range quotes a sheet title for A1 notation.
func a1Range(title, cells string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!" + cells
}

// sheetsError wraps a Sheets API failure, keeping the HTTP status in details.
// Quota exhaustion (429) gets its own code so it stands out in logs.
func sheetsError(op string, err error) error {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return types.NewAppError(types.ErrCodeUpstreamSheets, op, err)
	}

	code := types.ErrCodeUpstreamSheets
	if gErr.Code == http.StatusTooManyRequests {
		code = types.ErrCodeUpstreamRateLimited
	}
	return types.NewAppError(code, op, err).WithDetails(map[string]any{"status": gErr.Code})
}

// parsePrivateKey checks that key is a PEM block holding an RSA key in
// PKCS#8 or PKCS#1 form, which is what the JWT flow signs with.
func parsePrivateKey(key string) error {
	block, _ := pem.Decode([]byte(key))
	if block == nil {
		return errors.New("private key is not PEM encoded")
	}
	if _, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return nil
	}
	if _, err := x509.ParsePKCS1PrivateKey(block.Bytes); err != nil {
		return fmt.Errorf("parsing private key: %w", err)
	}
	return nil
}

var (
	_ SpreadsheetService = (*GoogleSheets)(nil)
	_ Spreadsheet        = (*spreadsheet)(nil)
	_ Sheet              = (*sheet)(nil)
)
