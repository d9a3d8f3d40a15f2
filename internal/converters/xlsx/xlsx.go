// Package xlsx converts Excel workbooks to Markdown tables.
package xlsx

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sammcj/mcp-markdownify/internal/converters/htmlmd"
	"github.com/sammcj/mcp-markdownify/internal/markdownify"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// DefaultMaxRows caps the rows rendered per sheet
const DefaultMaxRows = 10000

// Converter converts .xlsx files, one "## <sheet>" section per worksheet
type Converter struct {
	logger *logrus.Logger
}

// New creates an xlsx converter
func New(logger *logrus.Logger) *Converter {
	return &Converter{logger: logger}
}

// Convert implements markdownify.Converter.
// Params: "sheet" limits output to one worksheet, "max_rows" caps rows per sheet.
func (c *Converter) Convert(ctx context.Context, src *markdownify.Source) (string, error) {
	f, err := excelize.OpenFile(src.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			c.logger.WithError(err).Warn("Failed to close workbook")
		}
	}()

	sheets := f.GetSheetList()
	if only := src.String("sheet", ""); only != "" {
		if !slices.Contains(sheets, only) {
			return "", fmt.Errorf("sheet %q not found, available sheets: %s", only, strings.Join(sheets, ", "))
		}
		sheets = []string{only}
	}

	maxRows := src.Int("max_rows", DefaultMaxRows)
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	var sb strings.Builder
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		rows = trimEmptyRows(rows)

		c.logger.WithFields(logrus.Fields{
			"sheet": sheet,
			"rows":  len(rows),
		}).Debug("Reading worksheet")

		fmt.Fprintf(&sb, "## %s\n\n", sheet)
		if len(rows) == 0 {
			sb.WriteString("_Empty sheet_\n\n")
			continue
		}

		truncated := false
		if len(rows) > maxRows+1 {
			rows = rows[:maxRows+1]
			truncated = true
		}
		sb.WriteString(htmlmd.Table(rows))
		if truncated {
			fmt.Fprintf(&sb, "\n_Showing the first %d rows._\n", maxRows)
		}
		sb.WriteString("\n")
	}

	return htmlmd.Clean(sb.String()), nil
}

// trimEmptyRows drops trailing rows that have no non-blank cells
func trimEmptyRows(rows [][]string) [][]string {
	end := len(rows)
	for end > 0 && blankRow(rows[end-1]) {
		end--
	}
	return rows[:end]
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
