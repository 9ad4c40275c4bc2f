package tracker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/content-engine/internal/config"
	"github.com/content-engine/internal/metrics"
	"github.com/content-engine/internal/models"
	"github.com/content-engine/pkg/logger"
)

// PostColumns defines the column headers for the publication sheet
var PostColumns = []string{
	"Post ID",
	"Title",
	"Kind",
	"Topic",
	"Access",
	"Tier",
	"Aggregation ID",
	"Featured Image",
	"Published At",
	"Tracked At",
}

// AggregationColumns defines the column headers for the aggregations sheet
var AggregationColumns = []string{
	"ID",
	"Topic",
	"Confidence",
	"Articles",
	"Sources",
	"Curated",
	"Post ID",
	"Created At",
}

const aggregationsSheetName = "Aggregations"

// SheetsTracker keeps a spreadsheet report of publications and aggregations
type SheetsTracker struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	log           *logger.Logger
}

// NewSheetsTracker creates a tracker from config; it returns nil when disabled
func NewSheetsTracker(ctx context.Context, cfg config.TrackerConfig, log *logger.Logger) (*SheetsTracker, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var opt option.ClientOption
	switch {
	case cfg.ServiceAccountJSON != "":
		opt = option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON))
	case cfg.CredentialsFile != "":
		opt = option.WithCredentialsFile(cfg.CredentialsFile)
	default:
		return nil, fmt.Errorf("no Google credentials provided: set credentials_file or service_account_json")
	}

	srv, err := sheets.NewService(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return NewWithService(srv, cfg.SpreadsheetID, cfg.SheetName, log), nil
}

// NewWithService creates a tracker on an existing sheets service
func NewWithService(srv *sheets.Service, spreadsheetID, sheetName string, log *logger.Logger) *SheetsTracker {
	if sheetName == "" {
		sheetName = "Posts"
	}
	return &SheetsTracker{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		log:           log.WithComponent("sheets-tracker"),
	}
}

// InitializeSheet creates both sheets and their headers if they don't exist
func (t *SheetsTracker) InitializeSheet(ctx context.Context) error {
	if err := t.ensureSheet(ctx, t.sheetName, PostColumns); err != nil {
		return err
	}
	return t.ensureSheet(ctx, aggregationsSheetName, AggregationColumns)
}

// ensureSheet creates the named sheet and writes headers into an empty one
func (t *SheetsTracker) ensureSheet(ctx context.Context, name string, columns []string) error {
	spreadsheet, err := t.service.Spreadsheets.Get(t.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	exists := false
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == name {
			exists = true
			break
		}
	}

	if !exists {
		t.log.Info().Str("sheet", name).Msg("Creating new sheet")
		req := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: name}}},
			},
		}
		if _, err := t.service.Spreadsheets.BatchUpdate(t.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	resp, err := t.service.Spreadsheets.Values.Get(t.spreadsheetID, name+"!A1:A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to read sheet %s: %w", name, err)
	}
	if len(resp.Values) > 0 {
		return nil
	}

	header := make([]interface{}, len(columns))
	for i, col := range columns {
		header[i] = col
	}
	_, err = t.service.Spreadsheets.Values.Update(t.spreadsheetID, name+"!A1", &sheets.ValueRange{
		Values: [][]interface{}{header},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write headers for %s: %w", name, err)
	}

	t.log.Info().Str("sheet", name).Msg("Sheet headers initialized")
	return nil
}

// postRow renders a published post as a sheet row
func postRow(post *models.Post, trackedAt time.Time) []interface{} {
	kind := "original"
	if post.IsCurated {
		kind = "curated"
	}
	aggregationID := ""
	if post.AggregationID != nil {
		aggregationID = strconv.FormatUint(uint64(*post.AggregationID), 10)
	}
	publishedAt := ""
	if post.PublishedAt != nil {
		publishedAt = post.PublishedAt.Format(time.RFC3339)
	}

	return []interface{}{
		post.ID,
		post.Title,
		kind,
		post.Topic,
		metrics.AccessLabel(post.IsPremium),
		post.Tier(),
		aggregationID,
		post.FeaturedImageURL,
		publishedAt,
		trackedAt.Format(time.RFC3339),
	}
}

// TrackPublished appends a published post to the report
func (t *SheetsTracker) TrackPublished(ctx context.Context, post *models.Post) error {
	_, err := t.service.Spreadsheets.Values.Append(t.spreadsheetID, t.sheetName+"!A:J", &sheets.ValueRange{
		Values: [][]interface{}{postRow(post, time.Now())},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to append post row: %w", err)
	}

	t.log.Debug().Uint("post_id", post.ID).Msg("Published post tracked")
	return nil
}

func aggregationRow(agg *models.ContentAggregation) []interface{} {
	postID := ""
	if agg.CuratedPostID != nil {
		postID = strconv.FormatUint(uint64(*agg.CuratedPostID), 10)
	}
	return []interface{}{
		agg.ID,
		agg.Topic,
		strconv.FormatFloat(agg.ConfidenceScore, 'f', 2, 64),
		agg.ArticleCount,
		agg.SourceCount,
		strconv.FormatBool(agg.IsCurated),
		postID,
		agg.CreatedAt.Format(time.RFC3339),
	}
}

// SyncAggregations writes aggregations to their sheet, appending new ones in one call
// and rewriting rows that already exist.
func (t *SheetsTracker) SyncAggregations(ctx context.Context, aggregations []*models.ContentAggregation) (int, int, error) {
	if err := t.ensureSheet(ctx, aggregationsSheetName, AggregationColumns); err != nil {
		return 0, 0, err
	}

	existing, err := t.existingIDs(ctx, aggregationsSheetName)
	if err != nil {
		return 0, 0, err
	}

	var newRows [][]interface{}
	var updates []*sheets.ValueRange
	for _, agg := range aggregations {
		row := aggregationRow(agg)
		if rowNum, ok := existing[agg.ID]; ok {
			updates = append(updates, &sheets.ValueRange{
				Range:  fmt.Sprintf("%s!A%d:H%d", aggregationsSheetName, rowNum, rowNum),
				Values: [][]interface{}{row},
			})
			continue
		}
		newRows = append(newRows, row)
	}

	if len(newRows) > 0 {
		_, err := t.service.Spreadsheets.Values.Append(t.spreadsheetID, aggregationsSheetName+"!A:H", &sheets.ValueRange{
			Values: newRows,
		}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		if err != nil {
			return 0, 0, fmt.Errorf("failed to batch append aggregations: %w", err)
		}
	}

	if len(updates) > 0 {
		_, err := t.service.Spreadsheets.Values.BatchUpdate(t.spreadsheetID, &sheets.BatchUpdateValuesRequest{
			ValueInputOption: "RAW",
			Data:             updates,
		}).Context(ctx).Do()
		if err != nil {
			return len(newRows), 0, fmt.Errorf("failed to update aggregations: %w", err)
		}
	}

	t.log.Info().Int("added", len(newRows)).Int("updated", len(updates)).Msg("Aggregations synced to sheet")
	return len(newRows), len(updates), nil
}

// existingIDs maps the ids in column A to their 1-indexed row numbers
func (t *SheetsTracker) existingIDs(ctx context.Context, sheetName string) (map[uint]int, error) {
	resp, err := t.service.Spreadsheets.Values.Get(t.spreadsheetID, sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read ids: %w", err)
	}

	ids := make(map[uint]int)
	for i, row := range resp.Values {
		if i == 0 || len(row) == 0 {
			continue // header
		}
		id, err := strconv.ParseUint(fmt.Sprintf("%v", row[0]), 10, 64)
		if err != nil || id == 0 {
			continue
		}
		ids[uint(id)] = i + 1
	}
	return ids, nil
}
