package appointment

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Appointments"

var exportColumns = []string{
	"ID", "Date", "Time", "End", "Duration (min)", "Status",
	"Customer", "Email", "Services", "Total price", "Notes", "Cancellation reason",
}

// ExportAppointments writes the reservations matching filter as an XLSX workbook.
func (s *Service) ExportAppointments(ctx context.Context, actor Actor, filter ListFilter, w io.Writer) error {
	list, err := s.ListAppointments(ctx, actor, filter)
	if err != nil {
		return err
	}
	views, err := s.Views(ctx, list, true)
	if err != nil {
		return err
	}
	return WriteXLSX(views, w)
}

// WriteXLSX renders views to a single sheet workbook.
func WriteXLSX(views []View, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	if err := writeRow(f, 1, toAny(exportColumns)); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		end, _ := excelize.CoordinatesToCellName(len(exportColumns), 1)
		_ = f.SetCellStyle(exportSheet, "A1", end, style)
	}

	for i, v := range views {
		var customer, email string
		if v.Customer != nil {
			customer, email = v.Customer.Name, v.Customer.Email
		}
		names := make([]string, 0, len(v.Services))
		for _, svc := range v.Services {
			names = append(names, svc.Name)
		}
		row := []any{
			v.ID.String(), v.Date, v.Time, v.EndTime, v.Duration, string(v.Status),
			customer, email, strings.Join(names, ", "), v.TotalPrice, v.Notes, v.CancellationReason,
		}
		if err := writeRow(f, i+2, row); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, rowNum int, values []any) error {
	for i, val := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(exportSheet, cell, val); err != nil {
			return fmt.Errorf("set %s: %w", cell, err)
		}
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
