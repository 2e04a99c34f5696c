// CLAUDE:SUMMARY Spreadsheet extractors (xlsx, xls, ods, csv): one "[Sheet: name]" block of CSV per sheet.
package docpipe

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shakinm/xlsReader/xls"
	"github.com/xuri/excelize/v2"
)

// maxRepeat caps table:number-columns-repeated / rows-repeated expansion in
// ODS; trailing filler cells routinely declare repeats in the thousands.
const maxRepeat = 1024

// renderSheets joins "[Sheet: name]" headers with the CSV of each sheet.
func renderSheets(names []string, rows [][][]string) (string, error) {
	parts := make([]string, 0, 2*len(names))
	for i, name := range names {
		body, err := toCSV(rows[i])
		if err != nil {
			return "", err
		}
		parts = append(parts, "[Sheet: "+name+"]", body)
	}
	return strings.Join(parts, "\n\n"), nil
}

func toCSV(rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("write csv: %w", err)
	}
	return buf.String(), nil
}

func extractXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	names := f.GetSheetList()
	all := make([][][]string, 0, len(names))
	for _, name := range names {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", fmt.Errorf("sheet %q: %w", name, err)
		}
		all = append(all, rows)
	}
	return renderSheets(names, all)
}

func extractXLS(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("xls reader panic: %v", r)
		}
	}()
	wb, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open xls: %w", err)
	}
	var (
		names []string
		all   [][][]string
	)
	for i := 0; i < wb.GetNumberSheets(); i++ {
		sheet, err := wb.GetSheet(i)
		if err != nil {
			return "", fmt.Errorf("sheet %d: %w", i, err)
		}
		var rows [][]string
		for r := 0; r < sheet.GetNumberRows(); r++ {
			row, err := sheet.GetRow(r)
			if err != nil || row == nil {
				rows = append(rows, nil)
				continue
			}
			cols := row.GetCols()
			line := make([]string, len(cols))
			for c, cell := range cols {
				line[c] = cell.GetString()
			}
			rows = append(rows, trimRow(line))
		}
		names = append(names, sheet.GetName())
		all = append(all, trimRows(rows))
	}
	return renderSheets(names, all)
}

func (p *Pipeline) extractODS(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	content, err := readZipMember(zr, "content.xml", p.cfg.MaxExtractedSize)
	if err != nil {
		return "", err
	}
	names, all, err := parseODSTables(content, p.cfg.MaxExtractedSize)
	if err != nil {
		return "", err
	}
	return renderSheets(names, all)
}

// odsBudget counts the bytes produced by repeat expansion. Row and column
// repeats multiply, so the expanded sheet is bounded as a whole.
type odsBudget struct {
	used, limit int64
}

func (b *odsBudget) spend(n int64) error {
	b.used += n
	if b.used > b.limit {
		return fmt.Errorf("%w: ods sheets expand past %d bytes", ErrTooLarge, b.limit)
	}
	return nil
}

// parseODSTables walks table:table / table-row / table-cell, expanding
// repeat attributes and joining the text:p of a cell with newlines. Empty
// cells and rows are only materialized when content follows them, so
// trailing filler never expands. The expanded output is capped at limit.
func parseODSTables(data []byte, limit int64) ([]string, [][][]string, error) {
	s := newXMLStream(data)
	budget := &odsBudget{limit: limit}
	var (
		names     []string
		all       [][][]string
		rows      [][]string
		row       []string
		rowBytes  int64
		cell      []string
		para      strings.Builder
		inCell    bool
		inPara    bool
		rowRep    int
		cellRep   int
		emptyRows int
		emptyCols int
	)
	for {
		tok, err := s.Token()
		if errors.Is(err, io.EOF) {
			return names, all, nil
		}
		if err != nil {
			return nil, nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "table":
				names = append(names, attr(t, "name"))
				rows, emptyRows = nil, 0
			case "table-row":
				row, rowBytes, emptyCols = nil, 0, 0
				rowRep = repeatCount(attr(t, "number-rows-repeated"))
			case "table-cell", "covered-table-cell":
				inCell = true
				cell = nil
				cellRep = repeatCount(attr(t, "number-columns-repeated"))
			case "p":
				if inCell {
					inPara = true
					para.Reset()
				}
			case "s":
				if inPara {
					para.WriteString(strings.Repeat(" ", repeatCount(attr(t, "c"))))
				}
			case "tab":
				if inPara {
					para.WriteByte('\t')
				}
			}
			if inPara && int64(para.Len()) > limit {
				return nil, nil, fmt.Errorf("%w: ods cell longer than %d bytes", ErrTooLarge, limit)
			}
		case xml.CharData:
			if inPara {
				para.Write(t)
				if int64(para.Len()) > limit {
					return nil, nil, fmt.Errorf("%w: ods cell longer than %d bytes", ErrTooLarge, limit)
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if inPara {
					cell = append(cell, para.String())
					inPara = false
				}
			case "table-cell", "covered-table-cell":
				inCell = false
				v := strings.Join(cell, "\n")
				if v == "" {
					emptyCols += cellRep
					continue
				}
				n := int64(emptyCols) + int64(cellRep)*int64(len(v)+1)
				if err := budget.spend(n); err != nil {
					return nil, nil, err
				}
				rowBytes += n
				for ; emptyCols > 0; emptyCols-- {
					row = append(row, "")
				}
				for i := 0; i < cellRep; i++ {
					row = append(row, v)
				}
			case "table-row":
				if len(row) == 0 {
					emptyRows += rowRep
					continue
				}
				// The first copy was paid for cell by cell.
				if err := budget.spend(int64(emptyRows) + int64(rowRep-1)*(rowBytes+1) + 1); err != nil {
					return nil, nil, err
				}
				for ; emptyRows > 0; emptyRows-- {
					rows = append(rows, nil)
				}
				for i := 0; i < rowRep; i++ {
					rows = append(rows, row)
				}
			case "table":
				all = append(all, rows)
			}
		}
	}
}

func repeatCount(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 1
	}
	return min(n, maxRepeat)
}

// trimRow drops trailing empty cells.
func trimRow(row []string) []string {
	n := len(row)
	for n > 0 && row[n-1] == "" {
		n--
	}
	return row[:n]
}

// trimRows drops trailing empty rows.
func trimRows(rows [][]string) [][]string {
	n := len(rows)
	for n > 0 && len(rows[n-1]) == 0 {
		n--
	}
	return rows[:n]
}

// extractCSV parses and re-serializes CSV, normalizing quoting and line
// endings. Rows may have differing field counts.
func extractCSV(data []byte) (string, error) {
	r := csv.NewReader(strings.NewReader(decodeText(data)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}
	return toCSV(rows)
}
