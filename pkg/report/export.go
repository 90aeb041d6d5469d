package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"p9e.in/takweed/pkg/intersect"
)

// Table is a report flattened for file exports.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]any
}

const sheetName = "Report"

// WriteXLSX writes t as a styled single-sheet workbook: title on row 1,
// generation time on row 2 and headers on row 4.
func WriteXLSX(w io.Writer, t Table, generated time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)

	titleStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 16},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	})
	if err != nil {
		return err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    border("000000"),
	})
	if err != nil {
		return err
	}
	dataStyle, err := f.NewStyle(&excelize.Style{Border: border("CCCCCC")})
	if err != nil {
		return err
	}

	f.SetCellValue(sheetName, "A1", t.Title)
	f.SetCellStyle(sheetName, "A1", "A1", titleStyle)
	f.SetRowHeight(sheetName, 1, 30)
	f.SetCellValue(sheetName, "A2", "Generated: "+generated.Format("2006-01-02 15:04:05"))

	for col, header := range t.Headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 4)
		if err != nil {
			return err
		}
		colName, _ := excelize.ColumnNumberToName(col + 1)
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
		f.SetColWidth(sheetName, colName, colName, 20)
	}

	for r, row := range t.Rows {
		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, r+5)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, cellValue(value)); err != nil {
				return err
			}
			f.SetCellStyle(sheetName, cell, cell, dataStyle)
		}
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}
	_, err = f.WriteTo(w)
	return err
}

func border(color string) []excelize.Border {
	return []excelize.Border{
		{Type: "left", Color: color, Style: 1},
		{Type: "right", Color: color, Style: 1},
		{Type: "top", Color: color, Style: 1},
		{Type: "bottom", Color: color, Style: 1},
	}
}

// cellValue formats times and nil pointers the same way in both writers.
func cellValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format("2006-01-02 15:04:05")
	case *time.Time:
		if x == nil || x.IsZero() {
			return ""
		}
		return x.Format("2006-01-02 15:04:05")
	case nil:
		return ""
	}
	return v
}

// WriteCSV writes the headers and rows of t.
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Headers); err != nil {
		return err
	}
	record := make([]string, len(t.Headers))
	for _, row := range t.Rows {
		record = record[:0]
		for _, v := range row {
			record = append(record, fmt.Sprint(cellValue(v)))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_", " ", "_",
)

// Filename builds a download name such as activity_20240301_080000.xlsx.
func Filename(name, ext string, at time.Time) string {
	return fmt.Sprintf("%s_%s.%s", filenameReplacer.Replace(name), at.Format("20060102_150405"), ext)
}

// ActivityTable flattens activity rows.
func ActivityTable(rows []ActivityRow) Table {
	t := Table{
		Title: "Activity report",
		Headers: []string{
			"Code", "Farm", "Owner", "Phone", "Crop", "Governorate", "Season",
			"Survey date", "Registered", "Plots", "Plot area", "Conflicts",
			"Conflict area", "Charged", "Remaining", "Transactions",
			"Last transaction", "Last transaction type",
		},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []any{
			r.Code, r.FarmName, r.OwnerName, r.OwnerPhone, r.CropName, r.Governorate, r.Season,
			r.SurveyDate, r.RegisteredAt, r.Plots, r.PlotArea, r.Conflicts,
			r.ConflictArea, r.Charged, r.Remaining, r.Transactions,
			r.LastTransaction, r.LastTransactionType,
		})
	}
	return t
}

// GeoTable flattens plot rows.
func GeoTable(rows []GeoRow) Table {
	t := Table{
		Title:   "Plots",
		Headers: []string{"Code", "Point", "Owner", "Crop", "Season", "Area", "Intersections", "Conflicts", "Conflict area", "Net area", "Conflicting lands"},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []any{
			r.Code, r.Point, r.OwnerName, r.CropName, r.Season, r.Area,
			r.Intersections, r.Conflicts, r.ConflictArea, r.NetArea, describeLands(r.Lands),
		})
	}
	return t
}

// describeLands flattens conflict descriptors into one cell, e.g.
// "R2/P2 overlap 3.00 net 7.00; R4/P1 overlap 1.50 net 8.50".
func describeLands(lands []intersect.Land) string {
	parts := make([]string, len(lands))
	for i, l := range lands {
		parts[i] = fmt.Sprintf("%s/%s overlap %.2f net %.2f", l.LandIntersectsWith, l.PieceIntersected, l.AreaOfIntersection, l.NetArea)
	}
	return strings.Join(parts, "; ")
}

// TransactionTable flattens the history rows of code.
func TransactionTable(code string, rows []TransactionRow) Table {
	t := Table{
		Title:   "Transactions of " + code,
		Headers: []string{"Seq", "Date", "Type", "From", "From tier", "To", "To tier", "Variety", "Amount", "User"},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []any{
			r.Seq, r.Date, r.TransactionType, r.FromName, r.FromTier,
			r.ToName, r.ToTier, r.Variety, r.Amount, r.User,
		})
	}
	return t
}
