/*Package calib runs calibrations on a bench: one panel and one photometer.

A Bench owns its devices for the length of a run, and runs one thing at a
time: a second run, an offline fit, or a settings change attempted while a
run is in progress fails with ErrBusy.  The photometer is opened when a run
starts and, with the panel's console, closed on every exit path; in single
channel runs the backlight is started before the sweep and stopped after it.  Results are
persisted with package records and reported to an Observer.
*/
package calib

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/labdisplay/gammacal/gamma"
	"github.com/labdisplay/gammacal/gammavolt"
	"github.com/labdisplay/gammacal/photometer"
	"github.com/labdisplay/gammacal/records"
	"github.com/labdisplay/gammacal/sequencer"
	"github.com/labdisplay/gammacal/stimulus"
	"github.com/labdisplay/gammacal/util"
	"github.com/labdisplay/gammacal/validate"
)

// Kind names a type of run
type Kind string

const (
	// Single is a gray sweep with R=G=B
	Single Kind = "single"
	// Multi is an R, G, B, W sweep with a white point check
	Multi Kind = "rgbw"
	// Offline is a fit of samples read from a file or request
	Offline Kind = "fit"
)

// ErrBusy is returned when the bench is already running
var ErrBusy = errors.New("bench is busy")

// Files names the records of a bench, relative to Dir
type Files struct {
	Dir          string `koanf:"dir" yaml:"dir"`
	Plan         string `koanf:"plan" yaml:"plan"`
	Measurements string `koanf:"measurements" yaml:"measurements"`
	RGBW         string `koanf:"rgbw" yaml:"rgbw"`
	IdealCurve   string `koanf:"idealCurve" yaml:"idealCurve"`
	Curve        string `koanf:"curve" yaml:"curve"`
	Summary      string `koanf:"summary" yaml:"summary"`
	SpecTable    string `koanf:"specTable" yaml:"specTable"`
	WhitePoint   string `koanf:"whitePoint" yaml:"whitePoint"`
	VCOM         string `koanf:"vcom" yaml:"vcom"`
	GammaParams  string `koanf:"gammaParams" yaml:"gammaParams"`
	GammaOut     string `koanf:"gammaOut" yaml:"gammaOut"`
	FITS         string `koanf:"fits" yaml:"fits"`
}

// DefaultFiles are the names operators already use
var DefaultFiles = Files{
	Dir:          ".",
	Plan:         "graylevels.csv",
	Measurements: "measurements.csv",
	RGBW:         "measured_rgbw.csv",
	IdealCurve:   "gamma_compare.csv",
	Curve:        "gamma_fit_curve.csv",
	Summary:      "gamma_curve.csv",
	SpecTable:    "targetxy.csv",
	WhitePoint:   "targetxy_result.csv",
	VCOM:         "vcom.csv",
	GammaParams:  "gamma.csv",
	GammaOut:     "gamma_out.csv",
	FITS:         "measured_rgbw.fits",
}

// Path joins name to Dir.  An empty name yields an empty path, which
// disables that record.
func (f Files) Path(name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(f.Dir, name)
}

// Bench is a panel and a photometer with the settings of a calibration
type Bench struct {
	Panel stimulus.Panel
	Meter photometer.Meter

	// Brightness is the backlight level of single channel sweeps
	Brightness int

	Fitter      gamma.Fitter
	SingleCheck validate.Validator
	MultiCheck  validate.Validator

	// SKU selects the white point window of multi channel runs
	SKU string

	Files Files

	// Sequencer options, such as settle times and retries
	Options []sequencer.Option

	Observer Observer
	Log      log.FieldLogger

	// run is held for the length of a run; mu guards the fields Settings
	// exposes against readers outside a run
	run sync.Mutex
	mu  sync.RWMutex
}

// NewBench returns a bench with default checks and file names
func NewBench(p stimulus.Panel, m photometer.Meter) *Bench {
	return &Bench{
		Panel:       p,
		Meter:       m,
		Brightness:  255,
		SingleCheck: validate.DefaultSingle,
		MultiCheck:  validate.DefaultMulti,
		Files:       DefaultFiles,
		Observer:    nopObserver{},
		Log:         log.StandardLogger(),
	}
}

// acquire takes the run guard without waiting
func (b *Bench) acquire() (func(), error) {
	if !b.run.TryLock() {
		return nil, ErrBusy
	}
	return b.run.Unlock, nil
}

// Settings are the bench fields an operator may change between runs
type Settings struct {
	SKU        string  `json:"sku"`
	Target     float64 `json:"target"`
	Brightness int     `json:"brightness"`
}

// Settings returns the current settings.  It does not wait for a run.
func (b *Bench) Settings() Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Settings{SKU: b.SKU, Target: b.SingleCheck.Target, Brightness: b.Brightness}
}

// Configure applies fn to the current settings and stores the result, which
// sets the target gamma of both checks.  It fails with ErrBusy during a run
// and with validate.ErrMalformedInput for a non-positive target or a
// brightness outside [0, 255].
func (b *Bench) Configure(fn func(*Settings)) error {
	done, err := b.acquire()
	if err != nil {
		return err
	}
	defer done()
	s := b.Settings()
	fn(&s)
	if s.Target <= 0 {
		return errors.Wrapf(validate.ErrMalformedInput, "target gamma %v must be positive", s.Target)
	}
	if s.Brightness < 0 || s.Brightness > gamma.MaxGray {
		return errors.Wrapf(validate.ErrMalformedInput, "brightness %d outside [0,%d]", s.Brightness, gamma.MaxGray)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SKU = s.SKU
	b.SingleCheck.Target = s.Target
	b.MultiCheck.Target = s.Target
	b.Brightness = s.Brightness
	return nil
}

// Close waits for a run in progress and releases both devices
func (b *Bench) Close() error {
	b.run.Lock()
	defer b.run.Unlock()
	var err error
	if b.Panel != nil {
		err = b.Panel.Close()
	}
	if b.Meter != nil {
		if merr := b.Meter.Close(); err == nil {
			err = merr
		}
	}
	return err
}

func (b *Bench) observer() Observer {
	if b.Observer == nil {
		return nopObserver{}
	}
	return b.Observer
}

func (b *Bench) logger() log.FieldLogger {
	if b.Log == nil {
		return log.StandardLogger()
	}
	return b.Log
}

func (b *Bench) newSequencer(kind Kind, extra ...sequencer.Option) *sequencer.Sequencer {
	obs := b.observer()
	opts := append([]sequencer.Option{
		sequencer.WithLogger(b.logger()),
		sequencer.WithProgress(func(p sequencer.Progress) { obs.SampleCaptured(kind, p.Sample) }),
	}, b.Options...)
	return sequencer.New(b.Panel, b.Meter, append(opts, extra...)...)
}

func (b *Bench) write(name string, fn func(io.Writer) error) error {
	path := b.Files.Path(name)
	if path == "" {
		return nil
	}
	if err := records.WriteFile(path, fn); err != nil {
		return err
	}
	b.logger().WithField("file", path).Info("wrote record")
	return nil
}

// release runs cleanup with a fresh context, so that devices are released
// even when the run was cancelled
func release(l log.FieldLogger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		l.WithError(err).Warnf("releasing %s", what)
	}
}

// SingleResult is the outcome of a single channel run
type SingleResult struct {
	ID      uuid.UUID                 `json:"id"`
	Samples []gamma.Sample            `json:"samples"`
	Plan    records.Plan              `json:"plan"`
	Ideal   *validate.IdealComparison `json:"ideal,omitempty"`
	Fits    []gamma.FitResult         `json:"fits"`
	Report  validate.Report           `json:"report"`
}

// RunSingle sweeps the gray plan with the backlight on, writes the
// measurements and the updated plan, compares the sweep to the ideal curve
// when it has enough levels, and fits it.  A nil plan is read from the plan file.
func (b *Bench) RunSingle(ctx context.Context, plan *records.Plan) (res SingleResult, err error) {
	done, err := b.acquire()
	if err != nil {
		return res, err
	}
	defer done()
	res.ID = uuid.New()
	l := b.logger().WithFields(log.Fields{"run": res.ID, "kind": Single})
	defer func() { b.finish(Single, &res.Report, err) }()

	if plan == nil {
		var p records.Plan
		err = records.ReadFile(b.Files.Path(b.Files.Plan), func(r io.Reader) error {
			p, err = records.ReadPlan(r)
			return err
		})
		if err != nil {
			return res, err
		}
		plan = &p
	}
	res.Plan = *plan
	if err = sequencer.CheckLevels(plan.Grays()); err != nil {
		return res, err
	}

	if err = b.Meter.Open(ctx); err != nil {
		return res, errors.Wrap(err, "opening photometer")
	}
	defer release(l, "photometer", func(context.Context) error { return b.Meter.Close() })
	defer release(l, "panel", func(context.Context) error { return b.Panel.Close() })

	if err = b.Panel.Start(ctx); err != nil {
		return res, errors.Wrap(err, "starting backlight")
	}
	defer release(l, "backlight", b.Panel.Stop)
	if err = b.Panel.SetBrightness(ctx, b.Brightness); err != nil {
		return res, errors.Wrap(err, "setting backlight brightness")
	}

	l.WithField("levels", len(plan.Levels)).Info("single channel sweep")
	res.Samples, err = b.newSequencer(Single).RunGray(ctx, plan.Grays())
	if err != nil {
		return res, err
	}
	res.Plan = plan.Measured(res.Samples)

	if err = b.write(b.Files.Measurements, func(w io.Writer) error { return records.WriteMeasurements(w, res.Samples) }); err != nil {
		return res, err
	}
	if err = b.write(b.Files.Plan, func(w io.Writer) error { return records.WritePlan(w, res.Plan) }); err != nil {
		return res, err
	}

	lum := make([]float64, len(res.Samples))
	for i, s := range res.Samples {
		lum[i] = s.Luminance
	}
	if len(lum) >= validate.MinIdealLevels {
		ic, cerr := validate.CompareIdeal(plan.Grays(), lum, b.SingleCheck.Target, b.SingleCheck.Tolerance)
		if cerr != nil {
			return res, cerr
		}
		res.Ideal = &ic
		if err = b.write(b.Files.IdealCurve, func(w io.Writer) error { return records.WriteIdealCurve(w, ic) }); err != nil {
			return res, err
		}
		l.WithField("pass", ic.Pass).Info("ideal curve comparison")
	} else {
		l.WithField("levels", len(lum)).Warnf("ideal curve comparison skipped, it needs %d levels", validate.MinIdealLevels)
	}

	res.Report, res.Fits, err = b.evaluate(b.SingleCheck, res.Samples, false)
	return res, err
}

// MultiResult is the outcome of a multi channel run
type MultiResult struct {
	ID      uuid.UUID         `json:"id"`
	Samples []gamma.Sample    `json:"samples"`
	Fits    []gamma.FitResult `json:"fits"`
	Report  validate.Report   `json:"report"`
}

// RunRGBW sweeps levels on R, G, B, and W, writes the samples, fits every
// channel, and checks the white point against the spec table.  A nil levels
// uses the gray levels of the plan file.
func (b *Bench) RunRGBW(ctx context.Context, levels []int) (res MultiResult, err error) {
	done, err := b.acquire()
	if err != nil {
		return res, err
	}
	defer done()
	res.ID = uuid.New()
	l := b.logger().WithFields(log.Fields{"run": res.ID, "kind": Multi})
	defer func() { b.finish(Multi, &res.Report, err) }()

	if levels == nil {
		var p records.Plan
		err = records.ReadFile(b.Files.Path(b.Files.Plan), func(r io.Reader) error {
			p, err = records.ReadPlan(r)
			return err
		})
		if err != nil {
			return res, err
		}
		levels = p.Grays()
	}
	if err = sequencer.CheckLevels(levels); err != nil {
		return res, err
	}

	if err = b.Meter.Open(ctx); err != nil {
		return res, errors.Wrap(err, "opening photometer")
	}
	defer release(l, "photometer", func(context.Context) error { return b.Meter.Close() })
	defer release(l, "panel", func(context.Context) error { return b.Panel.Close() })

	l.WithField("levels", util.IntSliceToCSV(levels)).Info("multi channel sweep")
	res.Samples, err = b.newSequencer(Multi).RunChannels(ctx, levels, sequencer.RGBW)
	if err != nil {
		return res, err
	}
	if err = b.write(b.Files.RGBW, func(w io.Writer) error { return records.WriteSamples(w, res.Samples) }); err != nil {
		return res, err
	}
	res.Report, res.Fits, err = b.evaluate(b.MultiCheck, res.Samples, true)
	if err != nil {
		return res, err
	}
	err = b.write(b.Files.FITS, func(w io.Writer) error {
		info := records.RunInfo{ID: res.ID, SKU: b.SKU, Target: b.MultiCheck.Target, Tolerance: b.MultiCheck.Tolerance}
		return records.WriteFITS(w, info, res.Samples)
	})
	return res, err
}

// Evaluate fits samples without touching the devices and writes the summary
// records.  The white point is checked when the samples have a W channel.
func (b *Bench) Evaluate(samples []gamma.Sample) (rep validate.Report, fits []gamma.FitResult, err error) {
	done, err := b.acquire()
	if err != nil {
		return rep, nil, err
	}
	defer done()
	defer func() { b.finish(Offline, &rep, err) }()
	hasW := false
	for _, s := range samples {
		hasW = hasW || s.Channel == gamma.W
	}
	v := b.MultiCheck
	if !hasW {
		v = b.SingleCheck
	}
	return b.evaluate(v, samples, hasW)
}

// evaluate fits, validates, and writes the summary, curve, and white point records
func (b *Bench) evaluate(v validate.Validator, samples []gamma.Sample, whitePoint bool) (validate.Report, []gamma.FitResult, error) {
	search := b.Fitter.Search
	if search == (gamma.Search{}) {
		search = gamma.DefaultSearch
	}
	if err := v.CheckResolution(search); err != nil {
		return validate.Report{}, nil, err
	}
	var lookup validate.SpecLookup
	if whitePoint {
		st, err := b.spec()
		if err != nil {
			return validate.Report{}, nil, err
		}
		lookup = st
	}
	rep, fits, err := v.Run(b.Fitter, samples, b.SKU, lookup)
	if err != nil {
		return rep, fits, err
	}

	var curve []gamma.CurvePoint
	for i, cs := range gamma.GroupByChannel(samples) {
		curve = append(curve, fits[i].Curve(cs)...)
		if len(cs.Duplicates) > 0 {
			b.logger().WithFields(log.Fields{"channel": cs.Channel, "grays": cs.Duplicates}).Warn("duplicate gray levels were averaged")
		}
	}
	if err = b.write(b.Files.Summary, func(w io.Writer) error { return records.WriteSummary(w, rep) }); err != nil {
		return rep, fits, err
	}
	if err = b.write(b.Files.Curve, func(w io.Writer) error { return records.WriteCurve(w, curve) }); err != nil {
		return rep, fits, err
	}
	if rep.WhitePoint != nil {
		wp := *rep.WhitePoint
		if err = b.write(b.Files.WhitePoint, func(w io.Writer) error { return records.WriteWhitePoint(w, wp) }); err != nil {
			return rep, fits, err
		}
	}
	for _, gv := range rep.Gamma {
		b.logger().WithField("pass", gv.Pass).Info(gv.String())
	}
	return rep, fits, nil
}

// spec reads the white point table.  A missing table behaves as an empty
// one, so the verdict fails with the SKU not found.
func (b *Bench) spec() (validate.SpecTable, error) {
	path := b.Files.Path(b.Files.SpecTable)
	if path == "" {
		return validate.SpecTable{}, nil
	}
	st, err := records.ReadSpec(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			b.logger().WithField("file", path).Warn("spec table not found")
			return validate.SpecTable{}, nil
		}
		return nil, err
	}
	return st, nil
}

func (b *Bench) finish(kind Kind, rep *validate.Report, err error) {
	if err != nil {
		b.logger().WithError(err).WithField("kind", kind).Error("run failed")
		b.observer().RunFinished(kind, nil, err)
		return
	}
	b.observer().RunFinished(kind, rep, nil)
}

// GammaVoltage feeds the vcom, gamma, and measurement files of the last
// single channel run to the engine and writes the registers it returns
func (b *Bench) GammaVoltage(ctx context.Context, e gammavolt.Engine) ([]int, error) {
	done, err := b.acquire()
	if err != nil {
		return nil, err
	}
	defer done()
	var (
		vcom   records.VCOM
		params []int
		lum    []float64
	)
	err = records.ReadFile(b.Files.Path(b.Files.VCOM), func(r io.Reader) error {
		vcom, err = records.ReadVCOM(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = records.ReadFile(b.Files.Path(b.Files.GammaParams), func(r io.Reader) error {
		params, err = records.ReadGammaParams(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = records.ReadFile(b.Files.Path(b.Files.Measurements), func(r io.Reader) error {
		lum, err = records.ReadLuminance(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	regs, err := gammavolt.Calibrate(ctx, e, vcom, params, lum)
	if err != nil {
		return nil, err
	}
	err = b.write(b.Files.GammaOut, func(w io.Writer) error { return records.WriteRegisters(w, regs) })
	return regs, err
}

// ReadSamples reads the samples of the last multi channel run
func (b *Bench) ReadSamples() ([]gamma.Sample, error) {
	var (
		samples []gamma.Sample
		err     error
	)
	err = records.ReadFile(b.Files.Path(b.Files.RGBW), func(r io.Reader) error {
		samples, err = records.ReadSamples(r)
		return err
	})
	return samples, err
}

// CheckWhitePoint checks the W channel of samples against the spec table
// and writes the white point record
func (b *Bench) CheckWhitePoint(samples []gamma.Sample) (validate.WhitePointVerdict, error) {
	done, err := b.acquire()
	if err != nil {
		return validate.WhitePointVerdict{}, err
	}
	defer done()
	st, err := b.spec()
	if err != nil {
		return validate.WhitePointVerdict{}, err
	}
	wp := validate.WhitePoint(b.SKU, st, samples)
	b.logger().WithFields(log.Fields{"sku": wp.SKU, "pass": wp.Pass, "reason": wp.Reason}).Info("white point")
	return wp, b.write(b.Files.WhitePoint, func(w io.Writer) error { return records.WriteWhitePoint(w, wp) })
}
