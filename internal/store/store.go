// Package store reads and writes threshold sets as flat KEY=VALUE text.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ColonelBlimp/vibemon/internal/severity"
)

// File keys
const (
	KeyStruct = "TH_STRUCT"
	KeyFoot   = "TH_FOOT"
	KeyKid    = "TH_KID"
	KeyJump   = "TH_JUMP"
)

// Header is the comment written above the values.
const Header = "# thresholds (g)"

// Precision is the number of decimals written per value.
const Precision = 6

// Report describes what a load applied and skipped.
type Report struct {
	Applied []string // keys found and parsed, in file order
	Skipped int      // non-blank, non-comment lines that were ignored
}

// Has reports whether key was applied.
func (r Report) Has(key string) bool {
	for _, k := range r.Applied {
		if k == key {
			return true
		}
	}
	return false
}

// Encode writes th as KEY=VALUE lines preceded by Header.
func Encode(w io.Writer, th severity.Thresholds) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, Header)
	fmt.Fprintf(bw, "%s=%.*f\n", KeyStruct, Precision, th.Struct)
	fmt.Fprintf(bw, "%s=%.*f\n", KeyFoot, Precision, th.Foot)
	fmt.Fprintf(bw, "%s=%.*f\n", KeyKid, Precision, th.Kid)
	fmt.Fprintf(bw, "%s=%.*f\n", KeyJump, Precision, th.Jump)
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write thresholds: %w", err)
	}
	return nil
}

// Save renders th in the file format.
func Save(th severity.Thresholds) string {
	var sb strings.Builder
	_ = Encode(&sb, th)
	return sb.String()
}

// Decode reads KEY=VALUE lines on top of prior. Blank lines, comment lines,
// lines without '=', unknown keys and unparseable or non-finite values are
// skipped. Keys that are not present keep their prior value. The merged set
// is then normalized with limits so it is always ordered. Only read failures
// are returned as errors; the set parsed up to that point is still returned.
func Decode(r io.Reader, prior severity.Thresholds, limits severity.Limits) (severity.Thresholds, Report, error) {
	th := prior
	var rep Report

	br := bufio.NewReader(r)
	for {
		raw, rerr := br.ReadString('\n')
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return th.Normalize(limits), rep, fmt.Errorf("read thresholds: %w", rerr)
		}
		if key, f, ok := parseLine(raw, &rep); ok {
			switch key {
			case KeyStruct:
				th.Struct = f
			case KeyFoot:
				th.Foot = f
			case KeyKid:
				th.Kid = f
			case KeyJump:
				th.Jump = f
			}
		}
		if rerr != nil {
			break
		}
	}
	return th.Normalize(limits), rep, nil
}

// parseLine decodes one KEY=VALUE line. Lines that are blank or comments are
// ignored; anything else that does not yield a known key and a finite value
// is counted as skipped in rep.
func parseLine(raw string, rep *Report) (string, float64, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", 0, false
	}
	k, v, ok := strings.Cut(line, "=")
	if !ok {
		rep.Skipped++
		return "", 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		rep.Skipped++
		return "", 0, false
	}
	key := strings.ToUpper(strings.TrimSpace(k))
	switch key {
	case KeyStruct, KeyFoot, KeyKid, KeyJump:
	default:
		rep.Skipped++
		return "", 0, false
	}
	rep.Applied = append(rep.Applied, key)
	return key, f, true
}

// Load parses text on top of prior using the default limits.
func Load(text string, prior severity.Thresholds) (severity.Thresholds, Report) {
	th, rep, _ := Decode(strings.NewReader(text), prior, severity.DefaultLimits())
	return th, rep
}

// LoadFile reads the thresholds file at path on top of prior. The returned
// set is normalized even when an error is returned.
func LoadFile(path string, prior severity.Thresholds, limits severity.Limits) (severity.Thresholds, Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return prior.Normalize(limits), Report{}, fmt.Errorf("open thresholds: %w", err)
	}
	defer f.Close()
	return Decode(f, prior, limits)
}

// SaveFile writes th to path atomically: the data goes to a temporary file in
// the same directory which is then renamed over path.
func SaveFile(path string, th severity.Thresholds) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create thresholds dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".thresholds-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := Encode(tmp, th); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod thresholds: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename thresholds: %w", err)
	}
	return nil
}
