/*Package records reads and writes the files exchanged with the operator.

The layouts match the files the bench has always produced, so existing gray
tables, spec tables, and register files keep working:

	graylevels.csv    Gray,Brightness            plan, written back after a sweep
	measurements.csv  Index,Lv,x,y,T,duv         single channel sweep, Lv has an f suffix
	measured_rgbw.csv Index,Channel,Gray,Lv,...  multi channel sweep
	gamma_curve.csv   --- Summary --- block      fit and verdict summary
	targetxy.csv      SKU,...,x_min,x_max,...    white point windows, columns found by name
	vcom.csv          VCM,VRH                    hex register values
	gamma.csv         Index,Value                hex gamma taps
	gamma_out.csv     Index,Value                hex register output

All readers accept io.Reader and all writers io.Writer; WriteFile adapts a
writer to a path.
*/
package records

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/labdisplay/gammacal/gamma"
)

// ErrFormat is generated when a file does not have the expected layout
var ErrFormat = errors.New("unexpected record format")

// GrayLevel is one row of the operator's gray table.  Brightness is kept as
// text so a table round trips unchanged apart from the measured rows.
type GrayLevel struct {
	Gray       int    `json:"gray"`
	Brightness string `json:"brightness,omitempty"`
}

// Plan is a gray table together with the header line it was read with
type Plan struct {
	Header string      `json:"header"`
	Levels []GrayLevel `json:"levels"`
}

// DefaultPlanHeader is used when writing a plan that was not read from a file
const DefaultPlanHeader = "Gray,Brightness"

// Grays returns the gray levels of the plan, in order
func (p Plan) Grays() []int {
	out := make([]int, len(p.Levels))
	for i, l := range p.Levels {
		out[i] = l.Gray
	}
	return out
}

// Measured returns a copy of the plan with the Brightness of level i replaced
// by the luminance of samples[i].  Levels without a sample are kept as is.
func (p Plan) Measured(samples []gamma.Sample) Plan {
	out := Plan{Header: p.Header, Levels: append([]GrayLevel(nil), p.Levels...)}
	for i, s := range samples {
		if i >= len(out.Levels) {
			break
		}
		out.Levels[i].Brightness = FormatLv(s.Luminance)
	}
	return out
}

// FormatLv formats a luminance the way the gray and measurement tables store it
func FormatLv(lv float64) string {
	return strconv.FormatFloat(lv, 'f', 2, 64) + "f"
}

// ParseLv parses a luminance with or without the f suffix
func ParseLv(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "f"), "F")
	return strconv.ParseFloat(s, 64)
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	return cr
}

func readAll(r io.Reader) ([][]string, error) {
	rows, err := newReader(r).ReadAll()
	if err != nil {
		return nil, errors.Wrap(ErrFormat, err.Error())
	}
	return rows, nil
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func ftoa(f float64, prec int) string {
	return strconv.FormatFloat(f, 'f', prec, 64)
}

// ReadPlan reads a gray table.  The first line is the header and is kept
// verbatim; the Brightness column is optional.
func ReadPlan(r io.Reader) (Plan, error) {
	rows, err := readAll(r)
	if err != nil {
		return Plan{}, err
	}
	if len(rows) == 0 {
		return Plan{}, errors.Wrap(ErrFormat, "gray table is empty")
	}
	p := Plan{Header: strings.Join(rows[0], ",")}
	for i, row := range rows[1:] {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		g, err := atoi(row[0])
		if err != nil {
			return Plan{}, errors.Wrapf(ErrFormat, "gray table row %d: %s", i+2, err)
		}
		lvl := GrayLevel{Gray: g}
		if len(row) > 1 {
			lvl.Brightness = strings.TrimSpace(row[1])
		}
		p.Levels = append(p.Levels, lvl)
	}
	return p, nil
}

// WritePlan writes a gray table, header first
func WritePlan(w io.Writer, p Plan) error {
	header := p.Header
	if header == "" {
		header = DefaultPlanHeader
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(strings.Split(header, ",")); err != nil {
		return err
	}
	for _, l := range p.Levels {
		if err := cw.Write([]string{strconv.Itoa(l.Gray), l.Brightness}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var measurementHeader = []string{"Index", "Lv", "x", "y", "T", "duv"}

// WriteMeasurements writes a single channel sweep
func WriteMeasurements(w io.Writer, samples []gamma.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(measurementHeader); err != nil {
		return err
	}
	for i, s := range samples {
		row := []string{strconv.Itoa(i), FormatLv(s.Luminance), ftoa(s.X, 4), ftoa(s.Y, 4), ftoa(s.T, 0), ftoa(s.Duv, 4)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadLuminance reads the Lv column of a single channel sweep, in row order
func ReadLuminance(r io.Reader) ([]float64, error) {
	rows, err := readAll(r)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Wrap(ErrFormat, "measurement table is empty")
	}
	out := make([]float64, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) < 2 {
			return nil, errors.Wrapf(ErrFormat, "measurement row %d has no Lv column", i+2)
		}
		lv, err := ParseLv(row[1])
		if err != nil {
			return nil, errors.Wrapf(ErrFormat, "measurement row %d: %s", i+2, err)
		}
		out = append(out, lv)
	}
	return out, nil
}

var sampleHeader = []string{"Index", "Channel", "Gray", "Lv", "x", "y", "T", "duv"}

// WriteSamples writes a multi channel sweep
func WriteSamples(w io.Writer, samples []gamma.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sampleHeader); err != nil {
		return err
	}
	for _, s := range samples {
		row := []string{
			strconv.Itoa(s.Index), string(s.Channel), strconv.Itoa(s.Gray),
			ftoa(s.Luminance, 2), ftoa(s.X, 4), ftoa(s.Y, 4), ftoa(s.T, 0), ftoa(s.Duv, 4)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadSamples reads a multi channel sweep.  Rows whose Lv does not parse are
// skipped, as are rows with fewer than four columns; any other bad field is an error.
func ReadSamples(r io.Reader) ([]gamma.Sample, error) {
	rows, err := readAll(r)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var out []gamma.Sample
	for i, row := range rows[1:] {
		line := i + 2
		if len(row) < 4 {
			continue
		}
		lv, err := ParseLv(row[3])
		if err != nil {
			continue
		}
		s := gamma.Sample{Luminance: lv}
		if s.Index, err = atoi(row[0]); err != nil {
			s.Index = len(out)
		}
		if s.Channel, err = gamma.ParseChannel(row[1]); err != nil {
			return nil, errors.Wrapf(ErrFormat, "sample row %d: %s", line, err)
		}
		if s.Gray, err = atoi(row[2]); err != nil {
			return nil, errors.Wrapf(ErrFormat, "sample row %d: %s", line, err)
		}
		opt := []*float64{&s.X, &s.Y, &s.T, &s.Duv}
		for j, dst := range opt {
			if 4+j >= len(row) {
				break
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(row[4+j]), 64)
			if err != nil {
				return nil, errors.Wrapf(ErrFormat, "sample row %d column %s: %s", line, sampleHeader[4+j], err)
			}
			*dst = f
		}
		out = append(out, s)
	}
	return out, nil
}

// WriteFile creates path (and its directory) and hands it to fn.
// The file is closed on every path and a close error is reported.
func WriteFile(path string, fn func(io.Writer) error) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return errors.Wrapf(fn(f), "writing %s", path)
}

// ReadFile opens path and hands it to fn
func ReadFile(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return errors.Wrapf(fn(f), "reading %s", path)
}
