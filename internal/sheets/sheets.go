// Package sheets implements sink.Sink on top of a Google spreadsheet, one
// worksheet per table.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"guild-bridge/internal/config"
	"guild-bridge/internal/constants"
	"guild-bridge/internal/sink"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

const (
	valueInputUserEntered = "USER_ENTERED"
	spreadsheetMimeType   = "application/vnd.google-apps.spreadsheet"
)

var ErrSpreadsheetNotFound = errors.New("spreadsheet not found")

type Sink struct {
	svc           *gsheets.Service
	spreadsheetID string
	limiter       *rate.Limiter
	logger        zerolog.Logger

	mu       sync.Mutex
	sheetIDs map[string]int64
	gridRows map[string]int64
}

var _ sink.Sink = (*Sink)(nil)

// New authenticates with the service account key at cfg.CredentialsPath and
// resolves the spreadsheet by id, or by name through Drive when no id is set.
// ctx must outlive the Sink: token refreshes run under it.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Sink, error) {
	if _, err := os.Stat(cfg.CredentialsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("service account key not found at path: %s", cfg.CredentialsPath)
	}

	opts := []option.ClientOption{
		option.WithCredentialsFile(cfg.CredentialsPath),
		option.WithScopes(gsheets.SpreadsheetsScope, drive.DriveMetadataReadonlyScope),
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}

	id := cfg.SpreadsheetID
	if id == "" {
		driveSvc, err := drive.NewService(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create drive client: %w", err)
		}
		lookupCtx, cancel := context.WithTimeout(ctx, constants.SinkTimeout)
		id, err = FindSpreadsheet(lookupCtx, driveSvc, cfg.SheetName)
		cancel()
		if err != nil {
			return nil, err
		}
	}

	logger.Info().Str("spreadsheet_id", id).Str("name", cfg.SheetName).Msg("spreadsheet resolved")
	limiter := rate.NewLimiter(rate.Every(constants.SheetsCallInterval), constants.SheetsCallBurst)
	return NewWithService(svc, id, limiter, logger), nil
}

func NewWithService(svc *gsheets.Service, spreadsheetID string, limiter *rate.Limiter, logger zerolog.Logger) *Sink {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Sink{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		limiter:       limiter,
		logger:        logger.With().Str("component", "sheets").Logger(),
	}
}

// FindSpreadsheet returns the id of the first non-trashed spreadsheet
// visible to the service account with exactly this name.
func FindSpreadsheet(ctx context.Context, svc *drive.Service, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		escapeQuery(name), spreadsheetMimeType)
	list, err := svc.Files.List().Q(q).Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to search spreadsheet %q: %w", name, err)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("%w: %s", ErrSpreadsheetNotFound, name)
	}
	return list.Files[0].Id, nil
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func (s *Sink) EnsureTable(ctx context.Context, table sink.Table) error {
	sheetID, ok, err := s.sheetID(ctx, table.Name)
	if err != nil {
		return err
	}
	if !ok {
		sheetID, err = s.addSheet(ctx, table)
		if err != nil {
			return err
		}
	}
	if len(table.Header) == 0 {
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	first, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, QuoteTitle(table.Name)+"!1:1").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read header of %q: %w", table.Name, err)
	}
	if len(first.Values) > 0 {
		return nil
	}

	header := make([]any, len(table.Header))
	for i, h := range table.Header {
		header[i] = h
	}
	if err := s.BulkWrite(ctx, table.Name, []sink.Update{{Range: sink.Range{Row: 1}, Values: [][]any{header}}}); err != nil {
		return err
	}
	return s.boldHeader(ctx, sheetID, len(header))
}

func (s *Sink) addSheet(ctx context.Context, table sink.Table) (int64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	props := &gsheets.SheetProperties{Title: table.Name}
	if table.Rows > 0 && table.Cols > 0 {
		props.GridProperties = &gsheets.GridProperties{
			RowCount:    int64(table.Rows),
			ColumnCount: int64(table.Cols),
		}
	}
	resp, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{AddSheet: &gsheets.AddSheetRequest{Properties: props}}},
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to add worksheet %q: %w", table.Name, err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil {
		return 0, fmt.Errorf("add worksheet %q: empty reply", table.Name)
	}

	added := resp.Replies[0].AddSheet.Properties
	id := added.SheetId
	s.mu.Lock()
	if s.sheetIDs == nil {
		s.sheetIDs = make(map[string]int64)
		s.gridRows = make(map[string]int64)
	}
	s.sheetIDs[table.Name] = id
	s.gridRows[table.Name] = gridRowCount(added, int64(table.Rows))
	s.mu.Unlock()

	s.logger.Info().Str("table", table.Name).Int64("sheet_id", id).Msg("worksheet created")
	return id, nil
}

func (s *Sink) boldHeader(ctx context.Context, sheetID int64, cols int) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{RepeatCell: &gsheets.RepeatCellRequest{
			Range: &gsheets.GridRange{
				SheetId:          sheetID,
				StartRowIndex:    0,
				EndRowIndex:      1,
				StartColumnIndex: 0,
				EndColumnIndex:   int64(cols),
				ForceSendFields:  []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
			},
			Cell: &gsheets.CellData{UserEnteredFormat: &gsheets.CellFormat{
				TextFormat: &gsheets.TextFormat{Bold: true},
			}},
			Fields: "userEnteredFormat.textFormat.bold",
		}}},
	}).Context(ctx).Do()
	if err != nil {
		s.logger.Warn().Err(err).Int64("sheet_id", sheetID).Msg("failed to format header")
	}
	return nil
}

func (s *Sink) ListRows(ctx context.Context, table string) ([]sink.Row, error) {
	if _, ok, err := s.sheetID(ctx, table); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", sink.ErrTableNotFound, table)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, QuoteTitle(table)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", table, err)
	}

	rows := make([]sink.Row, len(resp.Values))
	for i, vals := range resp.Values {
		row := make(sink.Row, len(vals))
		for j, v := range vals {
			row[j] = sink.CellText(v)
		}
		rows[i] = row
	}
	return rows, nil
}

func (s *Sink) Upsert(ctx context.Context, table sink.Table, key string, values []any) error {
	rows, err := s.ListRows(ctx, table.Name)
	if err != nil {
		return err
	}
	if idx, ok := sink.KeyIndex(rows, table.KeyColumn)[key]; ok {
		return s.BulkWrite(ctx, table.Name, []sink.Update{{Range: sink.Range{Row: idx}, Values: [][]any{values}}})
	}
	return s.AppendRow(ctx, table.Name, values)
}

func (s *Sink) DeleteRow(ctx context.Context, table string, rowIndex int) error {
	if rowIndex < 1 {
		return fmt.Errorf("invalid row index %d", rowIndex)
	}
	sheetID, ok, err := s.sheetID(ctx, table)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", sink.ErrTableNotFound, table)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{DeleteDimension: &gsheets.DeleteDimensionRequest{
			Range: &gsheets.DimensionRange{
				SheetId:         sheetID,
				Dimension:       "ROWS",
				StartIndex:      int64(rowIndex - 1),
				EndIndex:        int64(rowIndex),
				ForceSendFields: []string{"SheetId", "StartIndex"},
			},
		}}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to delete row %d of %q: %w", rowIndex, table, err)
	}
	return nil
}

// AppendRow inserts rows after the last filled one; INSERT_ROWS grows the
// tab instead of overwriting whatever follows.
func (s *Sink) AppendRow(ctx context.Context, table string, rows ...[]any) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, QuoteTitle(table)+"!A1",
		&gsheets.ValueRange{Values: rows}).
		ValueInputOption(valueInputUserEntered).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append to %q: %w", table, err)
	}

	s.mu.Lock()
	if _, ok := s.gridRows[table]; ok {
		s.gridRows[table] += int64(len(rows))
	}
	s.mu.Unlock()
	return nil
}

// BulkWrite sends every update in one values.batchUpdate call.
func (s *Sink) BulkWrite(ctx context.Context, table string, updates []sink.Update) error {
	if len(updates) == 0 {
		return nil
	}

	data := make([]*gsheets.ValueRange, 0, len(updates))
	lastRow := 0
	for _, u := range updates {
		if u.Range.Row < 1 || u.Range.Col < 0 {
			return fmt.Errorf("invalid range row=%d col=%d", u.Range.Row, u.Range.Col)
		}
		data = append(data, &gsheets.ValueRange{
			Range:  BlockRange(table, u.Range, u.Values),
			Values: u.Values,
		})
		lastRow = max(lastRow, u.Range.Row+len(u.Values)-1)
	}

	if err := s.ensureRows(ctx, table, int64(lastRow)); err != nil {
		return err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.svc.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, &gsheets.BatchUpdateValuesRequest{
		ValueInputOption: valueInputUserEntered,
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write %d ranges to %q: %w", len(data), table, err)
	}
	return nil
}

// ensureRows grows the tab so that row lastRow exists. The values API
// rejects ranges past the grid, so rows are added in chunks of at least
// constants.SheetsGrowRows before the write.
func (s *Sink) ensureRows(ctx context.Context, table string, lastRow int64) error {
	sheetID, ok, err := s.sheetID(ctx, table)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", sink.ErrTableNotFound, table)
	}

	s.mu.Lock()
	have := s.gridRows[table]
	s.mu.Unlock()
	if lastRow <= have {
		return nil
	}

	grow := max(lastRow-have, constants.SheetsGrowRows)
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err = s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{AppendDimension: &gsheets.AppendDimensionRequest{
			SheetId:         sheetID,
			Dimension:       "ROWS",
			Length:          grow,
			ForceSendFields: []string{"SheetId"},
		}}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to grow %q by %d rows: %w", table, grow, err)
	}

	s.mu.Lock()
	s.gridRows[table] = have + grow
	s.mu.Unlock()
	s.logger.Debug().Str("table", table).Int64("rows", have+grow).Msg("worksheet grown")
	return nil
}

func gridRowCount(props *gsheets.SheetProperties, fallback int64) int64 {
	if props != nil && props.GridProperties != nil && props.GridProperties.RowCount > 0 {
		return props.GridProperties.RowCount
	}
	return fallback
}

// sheetID resolves a worksheet title, refreshing the cached metadata once
// on a miss so tabs created by hand are picked up.
func (s *Sink) sheetID(ctx context.Context, title string) (int64, bool, error) {
	s.mu.Lock()
	id, ok := s.sheetIDs[title]
	s.mu.Unlock()
	if ok {
		return id, true, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return 0, false, err
	}
	meta, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, false, fmt.Errorf("failed to load spreadsheet metadata: %w", err)
	}

	ids := make(map[string]int64, len(meta.Sheets))
	rows := make(map[string]int64, len(meta.Sheets))
	for _, sh := range meta.Sheets {
		if sh.Properties != nil {
			ids[sh.Properties.Title] = sh.Properties.SheetId
			rows[sh.Properties.Title] = gridRowCount(sh.Properties, 0)
		}
	}
	s.mu.Lock()
	s.sheetIDs = ids
	s.gridRows = rows
	s.mu.Unlock()

	id, ok = ids[title]
	return id, ok, nil
}
