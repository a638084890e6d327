package records

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/labdisplay/gammacal/gamma"
	"github.com/labdisplay/gammacal/validate"
)

const (
	summaryBegin = "--- Summary ---"
	summaryEnd   = "--- End Summary ---"
)

func fmtOrNA(f float64, prec int) string {
	if math.IsNaN(f) {
		return "N/A"
	}
	return ftoa(f, prec)
}

// WriteSummary writes the per channel verdicts of a report between the
// summary markers.  Unfittable channels are listed with N/A for gamma and RMS.
func WriteSummary(w io.Writer, rep validate.Report) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{summaryBegin},
		{"TargetGamma", strconv.FormatFloat(rep.Target, 'g', -1, 64)},
		{"Tolerance", strconv.FormatFloat(rep.Tolerance, 'g', -1, 64)},
		{"Channel", "ActualGamma", "RmsError", "Result", "Y_black", "Y_white"},
	}
	for _, gv := range rep.Gamma {
		rows = append(rows, []string{
			string(gv.Channel), fmtOrNA(gv.Gamma, 3), fmtOrNA(gv.RMSError, 6), gv.Result(),
			ftoa(gv.YBlack, 4), ftoa(gv.YWhite, 4)})
	}
	rows = append(rows, []string{summaryEnd})
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteCurve writes measured against fitted luminance for every channel
func WriteCurve(w io.Writer, pts []gamma.CurvePoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Channel", "GrayLevel", "Measured", "Fitted"}); err != nil {
		return err
	}
	for _, p := range pts {
		row := []string{string(p.Channel), strconv.Itoa(p.Gray), ftoa(p.Measured, 4), ftoa(p.Fitted, 4)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteIdealCurve writes the single channel comparison against the ideal
// curve, for plotting
func WriteIdealCurve(w io.Writer, c validate.IdealComparison) error {
	cw := csv.NewWriter(w)
	hdr := []string{"GrayLevel", "Measured", "IdealGamma" + strconv.FormatFloat(c.Target, 'g', -1, 64)}
	if err := cw.Write(hdr); err != nil {
		return err
	}
	for _, p := range c.Points {
		row := []string{
			strconv.Itoa(p.Gray),
			strconv.FormatFloat(p.Measured, 'g', -1, 64),
			strconv.FormatFloat(p.Ideal, 'g', -1, 64)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteWhitePoint writes the white point verdict as a one row table.
// A verdict that was not applicable has empty measurement and window columns.
func WriteWhitePoint(w io.Writer, wp validate.WhitePointVerdict) error {
	cw := csv.NewWriter(w)
	rows := [][]string{{"SKU", "Gray", "Lv", "x", "y", "x_min", "x_max", "y_min", "y_max", "Result"}}
	if wp.Applicable {
		s, win := wp.Sample, wp.Window
		rows = append(rows, []string{
			wp.SKU, strconv.Itoa(s.Gray), ftoa(s.Luminance, 4), ftoa(s.X, 4), ftoa(s.Y, 4),
			ftoa(win.XMin, 4), ftoa(win.XMax, 4), ftoa(win.YMin, 4), ftoa(win.YMax, 4), wp.Result()})
	} else {
		rows = append(rows, []string{wp.SKU, "", "", "", "", "", "", "", "", wp.Result()})
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}
