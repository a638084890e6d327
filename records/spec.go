package records

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/labdisplay/gammacal/validate"
)

var specColumns = []string{"SKU", "x_min", "x_max", "y_min", "y_max"}

// ReadSpecTable reads white point windows from a CSV table.  Columns are
// located by header name so extra columns and any column order are accepted.
// When a SKU appears twice the first row wins.
func ReadSpecTable(r io.Reader) (validate.SpecTable, error) {
	rows, err := readAll(r)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Wrap(ErrFormat, "spec table is empty")
	}
	idx := make([]int, len(specColumns))
	for i, name := range specColumns {
		idx[i] = -1
		for j, h := range rows[0] {
			if strings.TrimSpace(h) == name {
				idx[i] = j
				break
			}
		}
		if idx[i] < 0 {
			return nil, errors.Wrapf(ErrFormat, "spec table has no %s column", name)
		}
	}

	st := validate.SpecTable{}
	for n, row := range rows[1:] {
		var vals [4]float64
		short := false
		for i, j := range idx {
			if j >= len(row) {
				short = true
				break
			}
			if i == 0 {
				continue
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(row[j]), 64)
			if err != nil {
				return nil, errors.Wrapf(ErrFormat, "spec table row %d column %s: %s", n+2, specColumns[i], err)
			}
			vals[i-1] = f
		}
		if short {
			continue
		}
		sku := strings.TrimSpace(row[idx[0]])
		if sku == "" {
			continue
		}
		if _, dup := st.Lookup(sku); dup {
			continue
		}
		st[sku] = validate.Window{XMin: vals[0], XMax: vals[1], YMin: vals[2], YMax: vals[3]}
	}
	return st, nil
}

// ReadSpecYAML reads white point windows from a YAML mapping of
// SKU to {x_min, x_max, y_min, y_max}.  SKUs are trimmed, and two SKUs that
// differ only by case are an error.
func ReadSpecYAML(r io.Reader) (validate.SpecTable, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw := map[string]validate.Window{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrap(ErrFormat, err.Error())
	}
	st := validate.SpecTable{}
	seen := map[string]string{}
	for k, w := range raw {
		sku := strings.TrimSpace(k)
		if sku == "" {
			continue
		}
		fold := strings.ToLower(sku)
		if prev, dup := seen[fold]; dup {
			return nil, errors.Wrapf(ErrFormat, "spec table lists %q and %q", prev, sku)
		}
		seen[fold] = sku
		st[sku] = w
	}
	return st, nil
}

// ReadSpec reads a spec table in CSV or YAML depending on the file extension
func ReadSpec(path string) (validate.SpecTable, error) {
	var (
		st  validate.SpecTable
		err error
	)
	read := ReadSpecTable
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml") {
		read = ReadSpecYAML
	}
	err = ReadFile(path, func(r io.Reader) error {
		st, err = read(r)
		return err
	})
	return st, err
}
