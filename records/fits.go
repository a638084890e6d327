package records

import (
	"io"

	"github.com/astrogo/fitsio"
	"github.com/google/uuid"

	"github.com/labdisplay/gammacal/gamma"
)

// RunInfo is written as header cards next to the sample table
type RunInfo struct {
	ID        uuid.UUID
	SKU       string
	Target    float64
	Tolerance float64
}

var sampleColumns = []fitsio.Column{
	{Name: "INDEX", Format: "J"},
	{Name: "CHANNEL", Format: "4A"},
	{Name: "GRAY", Format: "J"},
	{Name: "LV", Format: "D", Unit: "cd/m2"},
	{Name: "X", Format: "D"},
	{Name: "Y", Format: "D"},
	{Name: "CCT", Format: "D", Unit: "K"},
	{Name: "DUV", Format: "D"},
}

// WriteFITS streams the sample table to w as a FITS binary table
func WriteFITS(w io.Writer, info RunInfo, samples []gamma.Sample) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer f.Close()

	// fitsio requires a primary HDU before any extension
	phdu, err := fitsio.NewPrimaryHDU(nil)
	if err != nil {
		return err
	}
	if err = f.Write(phdu); err != nil {
		return err
	}

	tbl, err := fitsio.NewTable("SAMPLES", sampleColumns, fitsio.BINARY_TBL)
	if err != nil {
		return err
	}
	defer tbl.Close()
	err = tbl.Header().Append(
		fitsio.Card{Name: "RUNID", Value: info.ID.String(), Comment: "calibration run"},
		fitsio.Card{Name: "SKU", Value: info.SKU},
		fitsio.Card{Name: "TARGET", Value: info.Target, Comment: "target gamma"},
		fitsio.Card{Name: "TOL", Value: info.Tolerance, Comment: "gamma tolerance"},
	)
	if err != nil {
		return err
	}
	for _, s := range samples {
		var (
			idx  = int32(s.Index)
			ch   = string(s.Channel)
			gray = int32(s.Gray)
		)
		if err := tbl.Write(&idx, &ch, &gray, &s.Luminance, &s.X, &s.Y, &s.T, &s.Duv); err != nil {
			return err
		}
	}
	return f.Write(tbl)
}
