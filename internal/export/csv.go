// Package export renders recorded rows for delivery: delimited text, a zip
// archive of several recordings, and EDF for biosignal tooling.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/mtiwari1/exgstream/internal/sample"
)

// CSVResult reports what WriteCSV emitted.
type CSVResult struct {
	Rows    int
	Skipped int
}

// NormalizeChannels returns the selected channels sorted ascending with
// duplicates and non-positive entries removed.
func NormalizeChannels(selected []int) []int {
	out := make([]int, 0, len(selected))
	for _, c := range selected {
		if c > 0 {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Header returns the column names for the selected channels.
func Header(selected []int) []string {
	selected = NormalizeChannels(selected)
	h := make([]string, 0, len(selected)+1)
	h = append(h, "Counter")
	for _, c := range selected {
		h = append(h, "Channel"+strconv.Itoa(c))
	}
	return h
}

// WriteCSV writes the header and one line per row. Column c of a row holds
// channel c; a channel the row does not carry is left empty. Empty rows are
// skipped and counted rather than written as malformed lines.
func WriteCSV(w io.Writer, rows []sample.Row, selected []int) (CSVResult, error) {
	selected = NormalizeChannels(selected)

	cw := csv.NewWriter(w)
	if err := cw.Write(Header(selected)); err != nil {
		return CSVResult{}, fmt.Errorf("write csv header: %w", err)
	}

	var (
		res    CSVResult
		record = make([]string, len(selected)+1)
	)
	for _, row := range rows {
		if len(row) == 0 {
			res.Skipped++
			continue
		}
		record[0] = strconv.FormatInt(int64(row.Counter()), 10)
		for i, c := range selected {
			if v, ok := row.Channel(c); ok {
				record[i+1] = strconv.FormatInt(int64(v), 10)
			} else {
				record[i+1] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return res, fmt.Errorf("write csv row %d: %w", res.Rows, err)
		}
		res.Rows++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return res, fmt.Errorf("flush csv: %w", err)
	}
	return res, nil
}
