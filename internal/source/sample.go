// Package source provides decoded vibration samples to the ingestion
// pipeline: the sample record and its log row format, a deterministic
// synthetic signal and a rate-controlled replay producer.
package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ColonelBlimp/vibemon/internal/severity"
)

// LogHeader is the comment line written at the top of sample logs.
const LogHeader = "#HDR ms,ax,ay,az,mag,hp_abs,rms,label"

// minRowFields is the number of fields a log row needs (label is optional)
const minRowFields = 7

var (
	// ErrShortRow indicates a log row has fewer than seven fields
	ErrShortRow = errors.New("log row has fewer than 7 fields")
	// ErrCommentRow indicates a blank or comment line
	ErrCommentRow = errors.New("log row is blank or a comment")
)

// Sample is one accelerometer observation as decoded from the device.
type Sample struct {
	DeviceMS uint64  // device clock, ms
	AX       float64 // g
	AY       float64
	AZ       float64
	Mag      float64 // |a|
	HPAbs    float64 // high-pass filtered magnitude
	RMS      float64 // RMS of HPAbs over the device window

	// Label is the device-side classification. HasLabel is false when the
	// row carried no label, in which case Label holds CALM.
	Label    severity.Class
	HasLabel bool
}

// Frame wraps a sample with its delivery metadata.
type Frame struct {
	Sample     Sample
	Source     string    // producer name, e.g. "replay" or "synthetic"
	ReceivedAt time.Time // local time the producer handed the sample over
}

// ParseRow decodes "ms,ax,ay,az,mag,hp_abs,rms[,label]". A missing or empty
// label leaves HasLabel false and Label at CALM.
func ParseRow(line string) (Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Sample{}, ErrCommentRow
	}
	p := strings.Split(line, ",")
	if len(p) < minRowFields {
		return Sample{}, ErrShortRow
	}
	for i := range p {
		p[i] = strings.TrimSpace(p[i])
	}

	ms, err := strconv.ParseFloat(p[0], 64)
	if err != nil || ms < 0 {
		return Sample{}, fmt.Errorf("parse device ms %q: invalid", p[0])
	}

	var f [6]float64
	for i := range f {
		f[i], err = strconv.ParseFloat(p[i+1], 64)
		if err != nil {
			return Sample{}, fmt.Errorf("parse field %d: %w", i+2, err)
		}
	}

	s := Sample{
		DeviceMS: uint64(ms),
		AX:       f[0],
		AY:       f[1],
		AZ:       f[2],
		Mag:      f[3],
		HPAbs:    f[4],
		RMS:      f[5],
		Label:    severity.Calm,
	}
	if len(p) > minRowFields && p[minRowFields] != "" {
		c, err := severity.Parse(p[minRowFields])
		if err != nil {
			return Sample{}, fmt.Errorf("parse label: %w", err)
		}
		s.Label = c
		s.HasLabel = true
	}
	return s, nil
}

// FormatRow encodes s in the log row format with four decimals. The label
// field is left empty when s has no label.
func FormatRow(s Sample) string {
	var label string
	if s.HasLabel {
		label = s.Label.String()
	}
	return fmt.Sprintf("%d,%.4f,%.4f,%.4f,%.4f,%.4f,%.4f,%s",
		s.DeviceMS, s.AX, s.AY, s.AZ, s.Mag, s.HPAbs, s.RMS, label)
}

// ParseRows decodes every data row of lines, skipping comments silently and
// counting rows that fail to parse.
func ParseRows(lines []string) (samples []Sample, skipped int) {
	for _, ln := range lines {
		s, err := ParseRow(ln)
		if errors.Is(err, ErrCommentRow) {
			continue
		}
		if err != nil {
			skipped++
			continue
		}
		samples = append(samples, s)
	}
	return samples, skipped
}

// ReadLines returns every line of r without its line ending. Lines of any
// length are returned whole.
func ReadLines(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	var lines []string
	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return lines, fmt.Errorf("read lines: %w", err)
		}
		if line != "" {
			lines = append(lines, strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return lines, nil
		}
	}
}
