package calib

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// ExportHeader is the comment line written at the top of calibration exports
	ExportHeader = "#CALIB rms,label"
	// LogRMSColumn is the zero-based column holding RMS in sample log rows
	LogRMSColumn = 6
)

func parseValue(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// parseRecord splits one line into fields. Quoting never spans lines, so a
// stray quote only costs the row it appears on.
func parseRecord(line string) ([]string, error) {
	cr := csv.NewReader(strings.NewReader(line))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr.Read()
}

// eachRecord calls fn for every parseable line. Blank and '#' lines are
// ignored, malformed lines are counted and skipped; only reader failures
// are returned.
func eachRecord(r io.Reader, fn func(rec []string)) (skipped int, err error) {
	br := bufio.NewReader(r)
	for {
		line, rerr := br.ReadString('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return skipped, fmt.Errorf("read csv: %w", rerr)
		}
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			rec, perr := parseRecord(line)
			if perr != nil {
				skipped++
			} else {
				fn(rec)
			}
		}
		if rerr != nil {
			return skipped, nil
		}
	}
}

// ImportCSV reads calibration rows of the form "rms,label" into b. A row with
// a single value goes into the active class. Bad rows are skipped and counted.
func ImportCSV(r io.Reader, b *Buffer) (Report, error) {
	var rep Report
	skipped, err := eachRecord(r, func(rec []string) {
		if len(rec) >= 2 {
			sub := b.ImportRawPairs([]RawPair{{Value: rec[0], Label: rec[1]}})
			rep.Added += sub.Added
			rep.Skipped += sub.Skipped
			return
		}
		v, perr := parseValue(rec[0])
		if perr != nil || !b.Add(b.ActiveClass(), v) {
			rep.Skipped++
			return
		}
		rep.Added++
	})
	rep.Skipped += skipped
	return rep, err
}

// ExportCSV writes every buffered value as "rms,label" with six decimals,
// preceded by ExportHeader and, when known, the capture session id.
func ExportCSV(w io.Writer, b *Buffer) error {
	if _, err := fmt.Fprintln(w, ExportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if s := b.Session(); s != "" {
		if _, err := fmt.Fprintf(w, "#SESSION %s\n", s); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	cw := csv.NewWriter(w)
	for _, p := range b.Pairs() {
		if err := cw.Write([]string{strconv.FormatFloat(p.Value, 'f', 6, 64), p.Class.String()}); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ReadLogColumn extracts the RMS column from sample log rows. Rows that are
// too short or whose RMS field does not parse are skipped and counted.
func ReadLogColumn(r io.Reader, column int) (values []float64, skipped int, err error) {
	bad, err := eachRecord(r, func(rec []string) {
		if len(rec) <= column {
			skipped++
			return
		}
		v, perr := parseValue(rec[column])
		if perr != nil {
			skipped++
			return
		}
		values = append(values, v)
	})
	return values, skipped + bad, err
}

// ImportLog appends the RMS column of sample log rows into the active class.
func ImportLog(r io.Reader, b *Buffer) (Report, error) {
	values, skipped, err := ReadLogColumn(r, LogRMSColumn)
	rep := b.ImportBulkIntoActive(values)
	rep.Skipped += skipped
	return rep, err
}
