// Package report exports computed yields for students to keep.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-portal/internal/curriculum"
	"github.com/p-n-ai/pai-portal/internal/yield"
)

const sheetName = "Yield"

var headers = []string{
	"Unit", "Subject", "Coefficient",
	"CA weight", "Practical weight", "Exam weight",
	"CA", "Practical", "Exam", "Average",
}

// Sheet describes one exported semester.
type Sheet struct {
	Structure curriculum.Structure
	Result    yield.Result
	Scores    yield.Scores
	Format    Formatter
}

// WriteXLSX writes a workbook with one row per subject, a row per unit
// average and a closing semester summary. Scores and averages are stored
// as numbers with a two-decimal display format.
func WriteXLSX(w io.Writer, sh Sheet) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	styles, err := newStyles(f)
	if err != nil {
		return err
	}

	title := sh.Structure.Name
	if title == "" {
		title = sh.Structure.Key().String()
	}
	if err := f.SetCellValue(sheetName, "A1", title); err != nil {
		return fmt.Errorf("writing title: %w", err)
	}
	if err := f.SetCellStyle(sheetName, "A1", "A1", styles.bold); err != nil {
		return fmt.Errorf("styling title: %w", err)
	}

	if err := setRow(f, 3, toAny(headers)); err != nil {
		return err
	}
	if err := styleRow(f, 3, len(headers), styles.bold); err != nil {
		return err
	}

	row := 4
	for _, u := range sh.Structure.Units {
		for _, sub := range u.Subjects {
			in := sh.Scores[sub.ID]
			values := []any{
				u.Name, sub.Name, sub.Coefficient,
				sub.Weights.ContinuousAssessment, sub.Weights.Practical, sub.Weights.Exam,
				cellScore(in.ContinuousAssessment), cellScore(in.Practical), cellScore(in.Exam),
				sh.Result.SubjectAverages[sub.ID],
			}
			if err := setRow(f, row, values); err != nil {
				return err
			}
			if err := styleRange(f, row, 7, 10, styles.decimal); err != nil {
				return err
			}
			row++
		}

		if err := setRow(f, row, []any{u.Name, "Unit average", nil, nil, nil, nil, nil, nil, nil, sh.Result.UnitAverages[u.ID]}); err != nil {
			return err
		}
		if err := styleRow(f, row, len(headers), styles.unit); err != nil {
			return err
		}
		if err := styleRange(f, row, 10, 10, styles.unitDecimal); err != nil {
			return err
		}
		row += 2
	}

	summary := [][]any{
		{"Semester average", sh.Result.SemesterAverage},
		{"Total coefficient", sh.Result.TotalCoefficient},
		{"Result", sh.Format.OutOf(sh.Result.SemesterAverage)},
	}
	for i, values := range summary {
		if err := setRow(f, row+i, values); err != nil {
			return err
		}
		if err := styleRange(f, row+i, 1, 1, styles.bold); err != nil {
			return err
		}
	}
	if err := styleRange(f, row, 2, 2, styles.decimal); err != nil {
		return err
	}

	if err := f.SetColWidth(sheetName, "A", "B", 34); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}
	if err := f.SetColWidth(sheetName, "C", "J", 14); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

type styles struct {
	bold, decimal, unit, unitDecimal int
}

func newStyles(f *excelize.File) (styles, error) {
	decimalFmt := "0.00"
	var s styles
	var err error

	if s.bold, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		return s, fmt.Errorf("creating style: %w", err)
	}
	if s.decimal, err = f.NewStyle(&excelize.Style{CustomNumFmt: &decimalFmt}); err != nil {
		return s, fmt.Errorf("creating style: %w", err)
	}
	unitFill := excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"EDEDED"}}
	if s.unit, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Italic: true}, Fill: unitFill}); err != nil {
		return s, fmt.Errorf("creating style: %w", err)
	}
	if s.unitDecimal, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Italic: true}, Fill: unitFill, CustomNumFmt: &decimalFmt}); err != nil {
		return s, fmt.Errorf("creating style: %w", err)
	}
	return s, nil
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
		return fmt.Errorf("writing row %d: %w", row, err)
	}
	return nil
}

func styleRow(f *excelize.File, row, cols, style int) error {
	return styleRange(f, row, 1, cols, style)
}

func styleRange(f *excelize.File, row, fromCol, toCol, style int) error {
	from, err := excelize.CoordinatesToCellName(fromCol, row)
	if err != nil {
		return err
	}
	to, err := excelize.CoordinatesToCellName(toCol, row)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, from, to, style); err != nil {
		return fmt.Errorf("styling row %d: %w", row, err)
	}
	return nil
}

// cellScore leaves absent components blank instead of writing 0.
func cellScore(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
