// Package report renders a study tree as an XLSX workbook.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/study-tracker/internal/progress"
)

const (
	summarySheet = "Summary"
	detailSheet  = "Sections"
)

var (
	summaryHeader = []any{"Subject", "Chapter", "Completed", "Total", "Progress %"}
	detailHeader  = []any{"Subject", "Chapter", "Section", "Type", "Sub-exercise", "Completed", "Total"}
)

// WriteWorkbook writes a workbook with one row per chapter on the Summary
// sheet and one row per question list on the Sections sheet.
func WriteWorkbook(w io.Writer, tree progress.Tree) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(detailSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	summary := [][]any{summaryHeader}
	detail := [][]any{detailHeader}
	for _, s := range tree {
		for _, ch := range s.Chapters {
			completed, total := progress.Tally(ch)
			summary = append(summary, []any{s.Name, ch.Name, completed, total, ch.Progress})
			detail = append(detail, sectionRows(s, ch)...)
		}
		completed, total := subjectTally(s)
		summary = append(summary, []any{s.Name, "(all chapters)", completed, total, progress.SubjectProgress(s)})
	}

	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}
	if err := writeRows(f, detailSheet, detail); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func sectionRows(s progress.Subject, ch progress.Chapter) [][]any {
	ids := make([]string, 0, len(ch.Sections))
	for id := range ch.Sections {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ch.Sections[ids[i]], ch.Sections[ids[j]]
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.ID < b.ID
	})

	var rows [][]any
	for _, id := range ids {
		sec := ch.Sections[id]
		switch b := sec.Body.(type) {
		case progress.Questions:
			done, total := count(b)
			rows = append(rows, []any{s.Name, ch.Name, sec.Label, sec.Kind, "", done, total})
		case progress.SubExercises:
			subs := make([]progress.SubExercise, 0, len(b))
			for _, sub := range b {
				subs = append(subs, sub)
			}
			sort.Slice(subs, func(i, j int) bool { return subs[i].Name < subs[j].Name })
			for _, sub := range subs {
				done, total := count(sub.Questions)
				rows = append(rows, []any{s.Name, ch.Name, sec.Label, sec.Kind, sub.Name, done, total})
			}
		}
	}
	return rows
}

func subjectTally(s progress.Subject) (completed, total int) {
	for _, ch := range s.Chapters {
		done, n := progress.Tally(ch)
		completed += done
		total += n
	}
	return completed, total
}

func count(q progress.Questions) (completed, total int) {
	for _, question := range q {
		if question.Completed {
			completed++
		}
	}
	return completed, len(q)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
