// Package export writes booking lists to spreadsheets.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"slotbook/internal/models"

	"github.com/xuri/excelize/v2"
)

// Columns is the header row of a bookings sheet.
var Columns = []string{"ID", "Client", "Provider", "Services", "Start", "End", "Status", "Total", "Notes"}

const timeLayout = "2006-01-02 15:04"

// Writer builds an xlsx workbook sheet by sheet.
type Writer struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func NewWriter() *Writer {
	return &Writer{file: excelize.NewFile()}
}

// AddSheet adds a sheet and makes it current.
func (w *Writer) AddSheet(name string) error {
	// Excel limit
	if len(name) > 31 {
		name = name[:31]
	}

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

// WriteHeader writes a bold header row.
func (w *Writer) WriteHeader(columns []string) error {
	values := make([]any, len(columns))
	for i, c := range columns {
		values[i] = c
	}
	if err := w.WriteRow(values); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		row := w.currentRow - 1
		startCell, _ := excelize.CoordinatesToCellName(1, row)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), row)
		_ = w.file.SetCellStyle(w.currentSheet, startCell, endCell, style)
	}
	return nil
}

func (w *Writer) WriteRow(row []any) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}

	for i, val := range row {
		cell, err := excelize.CoordinatesToCellName(i+1, w.currentRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.currentSheet, cell, val); err != nil {
			return err
		}
	}

	w.currentRow++
	return nil
}

// WriteBookings writes one sheet per status, ordered by start time.
func (w *Writer) WriteBookings(bookings []models.Booking) error {
	byStatus := make(map[models.BookingStatus][]models.Booking)
	for _, b := range bookings {
		byStatus[b.Status] = append(byStatus[b.Status], b)
	}

	order := []models.BookingStatus{
		models.StatusPending,
		models.StatusConfirmed,
		models.StatusCompleted,
		models.StatusCancelled,
	}
	if len(bookings) == 0 {
		return w.writeSheet("bookings", nil)
	}
	for _, status := range order {
		list := byStatus[status]
		if len(list) == 0 {
			continue
		}
		if err := w.writeSheet(string(status), list); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeSheet(name string, list []models.Booking) error {
	sort.Slice(list, func(i, j int) bool { return list[i].Start.Before(list[j].Start) })

	if err := w.AddSheet(name); err != nil {
		return err
	}
	if err := w.WriteHeader(Columns); err != nil {
		return err
	}
	for _, b := range list {
		row := []any{
			b.ID,
			b.ClientID,
			b.ProviderID,
			strings.Join(b.ServiceIDs, ", "),
			b.Start.Format(timeLayout),
			b.End.Format(timeLayout),
			string(b.Status),
			b.TotalPrice,
			b.Notes,
		}
		if err := w.WriteRow(row); err != nil {
			return fmt.Errorf("booking %s: %w", b.ID, err)
		}
	}
	return nil
}

// Save writes the workbook to wr.
func (w *Writer) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

// SaveToFile writes the workbook to disk.
func (w *Writer) SaveToFile(path string) error {
	return w.file.SaveAs(path)
}

func (w *Writer) Close() error {
	return w.file.Close()
}

// Bookings writes bookings to an xlsx file at path.
func Bookings(path string, bookings []models.Booking) error {
	w := NewWriter()
	defer w.Close()

	if err := w.WriteBookings(bookings); err != nil {
		return err
	}
	return w.SaveToFile(path)
}
