package records

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Taps is the number of gamma taps of the panel driver
const Taps = 16

// VCOM holds the common voltage register values
type VCOM struct {
	VCM int `json:"vcm"`
	VRH int `json:"vrh"`
}

func parseHex(s string) (int, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseInt(s, 16, 32)
	return int(v), err
}

// ReadVCOM reads VCM and VRH, in hex, from the first row after the header
func ReadVCOM(r io.Reader) (VCOM, error) {
	rows, err := readAll(r)
	if err != nil {
		return VCOM{}, err
	}
	if len(rows) < 2 || len(rows[1]) < 2 {
		return VCOM{}, errors.Wrap(ErrFormat, "vcom table needs a header and a VCM,VRH row")
	}
	var v VCOM
	if v.VCM, err = parseHex(rows[1][0]); err != nil {
		return VCOM{}, errors.Wrapf(ErrFormat, "VCM: %s", err)
	}
	if v.VRH, err = parseHex(rows[1][1]); err != nil {
		return VCOM{}, errors.Wrapf(ErrFormat, "VRH: %s", err)
	}
	return v, nil
}

// ReadGammaParams reads the hex values of the second column.  At least Taps
// values are required.
func ReadGammaParams(r io.Reader) ([]int, error) {
	rows, err := readAll(r)
	if err != nil {
		return nil, err
	}
	var out []int
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) < 2 {
			return nil, errors.Wrapf(ErrFormat, "gamma table row %d has no value column", i+1)
		}
		v, err := parseHex(row[1])
		if err != nil {
			return nil, errors.Wrapf(ErrFormat, "gamma table row %d: %s", i+1, err)
		}
		out = append(out, v)
	}
	if len(out) < Taps {
		return nil, errors.Wrapf(ErrFormat, "gamma table needs at least %d values, got %d", Taps, len(out))
	}
	return out, nil
}

// WriteRegisters writes register values as Index,Value with upper case hex values
func WriteRegisters(w io.Writer, vals []int) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Index", "Value"}); err != nil {
		return err
	}
	for i, v := range vals {
		if err := cw.Write([]string{strconv.Itoa(i), strings.ToUpper(strconv.FormatInt(int64(v), 16))}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
