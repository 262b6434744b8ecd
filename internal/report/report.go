// Package report exports a user's progress and the catalog rating
// summaries as an XLSX workbook.
package report

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-academy/internal/catalog"
	"github.com/p-n-ai/pai-academy/internal/progress"
)

// Sheet names.
const (
	SheetProgress = "Progress"
	SheetRatings  = "Ratings"
)

var (
	progressHeader = []any{"Item ID", "Title", "Kind", "Status", "Percentage", "Completed Units", "Enrolled", "Bookmarked", "Favorite", "Your Rating", "Last Accessed", "Completed At"}
	ratingsHeader  = []any{"Item ID", "Title", "Average", "Count"}
)

// Data is everything a workbook is built from.
type Data struct {
	UserID  string
	Records []progress.Record
	Ratings []progress.RatingSummary
	Catalog *catalog.Catalog
}

// Write renders data as an XLSX workbook to w.
func Write(w io.Writer, data Data) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetProgress); err != nil {
		return fmt.Errorf("renaming sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetRatings); err != nil {
		return fmt.Errorf("creating ratings sheet: %w", err)
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   "Progress report for " + data.UserID,
		Creator: "pai-academy",
	}); err != nil {
		return fmt.Errorf("setting document properties: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	progressRows := make([][]any, 0, len(data.Records))
	for _, r := range data.Records {
		item, _ := lookup(data.Catalog, r.ItemID)
		progressRows = append(progressRows, []any{
			r.ItemID,
			item.Title,
			string(item.Kind),
			string(r.Status),
			r.Percentage,
			strings.Join(r.CompletedUnits, ", "),
			yesNo(r.Enrolled),
			yesNo(r.Bookmarked),
			yesNo(r.Favorite),
			r.UserRating,
			timestamp(&r.LastAccessedAt),
			timestamp(r.CompletedAt),
		})
	}
	if err := writeSheet(f, SheetProgress, bold, progressHeader, progressRows); err != nil {
		return err
	}

	ratingRows := make([][]any, 0, len(data.Ratings))
	for _, s := range data.Ratings {
		item, _ := lookup(data.Catalog, s.ItemID)
		ratingRows = append(ratingRows, []any{
			s.ItemID,
			item.Title,
			math.Round(s.Average*100) / 100,
			s.Count,
		})
	}
	if err := writeSheet(f, SheetRatings, bold, ratingsHeader, ratingRows); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, headerStyle int, header []any, rows [][]any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("writing %s header: %w", sheet, err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("styling %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+2, err)
		}
	}
	last, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", last, 18); err != nil {
		return fmt.Errorf("sizing %s columns: %w", sheet, err)
	}
	return nil
}

func lookup(cat *catalog.Catalog, id string) (catalog.Item, bool) {
	if cat == nil {
		return catalog.Item{}, false
	}
	return cat.Get(id)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func timestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
