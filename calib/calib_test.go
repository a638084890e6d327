package calib_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/labdisplay/gammacal/calib"
	"github.com/labdisplay/gammacal/gamma"
	"github.com/labdisplay/gammacal/gammavolt"
	"github.com/labdisplay/gammacal/generichttp"
	"github.com/labdisplay/gammacal/photometer"
	"github.com/labdisplay/gammacal/sequencer"
	"github.com/labdisplay/gammacal/server/middleware/locker"
	"github.com/labdisplay/gammacal/stimulus"
	"github.com/labdisplay/gammacal/validate"
)

// meter counts Open and Close around an emulator
type meter struct {
	*photometer.Emulator
	opened, closed int
}

func (m *meter) Open(ctx context.Context) error {
	m.opened++
	return m.Emulator.Open(ctx)
}

func (m *meter) Close() error {
	m.closed++
	return m.Emulator.Close()
}

type recorder struct {
	samples int
	runs    []string
}

func (r *recorder) SampleCaptured(calib.Kind, gamma.Sample) { r.samples++ }

func (r *recorder) RunFinished(k calib.Kind, rep *validate.Report, err error) {
	switch {
	case err != nil:
		r.runs = append(r.runs, string(k)+" ERROR")
	case rep.Pass:
		r.runs = append(r.runs, string(k)+" PASS")
	default:
		r.runs = append(r.runs, string(k)+" FAIL")
	}
}

func newBench(t *testing.T) (*calib.Bench, *stimulus.Mock, *meter, *recorder) {
	dir := t.TempDir()
	var plan strings.Builder
	plan.WriteString("Gray,Brightness\n")
	for g := 0; g <= 255; g += 17 {
		fmt.Fprintf(&plan, "%d,\n", g)
	}
	write(t, filepath.Join(dir, "graylevels.csv"), plan.String())
	write(t, filepath.Join(dir, "targetxy.csv"), "SKU,x_min,x_max,y_min,y_max\nPANEL-7,0.28,0.33,0.30,0.35\n")

	panel := stimulus.NewMock()
	m := &meter{Emulator: photometer.NewEmulator(panel, 250, 2.2, 1)}
	rec := &recorder{}
	l := logrus.New()
	l.Out = ioutil.Discard

	b := calib.NewBench(panel, m)
	b.Files.Dir = dir
	b.SKU = "panel-7"
	b.Observer = rec
	b.Log = l
	b.Options = []sequencer.Option{sequencer.WithSettle(0), sequencer.WithChannelSettle(0)}
	return b, panel, m, rec
}

func write(t *testing.T, path, s string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestRunSingle(t *testing.T) {
	b, panel, m, rec := newBench(t)
	res, err := b.RunSingle(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Report.Pass || len(res.Fits) != 1 || math.Abs(res.Fits[0].Gamma-2.2) > 0.001 {
		t.Errorf("expected a gamma 2.2 PASS, got %s", res.Report)
	}
	if res.Ideal == nil || !res.Ideal.Pass {
		t.Error("expected a passing ideal curve comparison")
	}
	if panel.On() || panel.Brightness() != 255 {
		t.Error("expected the backlight to be driven to 255 and stopped afterwards")
	}
	if m.opened != 1 || m.closed != 1 {
		t.Errorf("expected the meter to be opened and closed once, got %d and %d", m.opened, m.closed)
	}
	if panel.Closes() != 1 {
		t.Errorf("expected the panel console to be closed once, got %d", panel.Closes())
	}
	if rec.samples != 16 || len(rec.runs) != 1 || rec.runs[0] != "single PASS" {
		t.Errorf("unexpected observations %d %v", rec.samples, rec.runs)
	}

	plan := read(t, b.Files.Path(b.Files.Plan))
	if !strings.HasPrefix(plan, "Gray,Brightness\n0,0.00f\n") || !strings.Contains(plan, "255,250.00f") {
		t.Errorf("plan not written back:\n%s", plan)
	}
	meas := read(t, b.Files.Path(b.Files.Measurements))
	if !strings.HasPrefix(meas, "Index,Lv,x,y,T,duv\n0,0.00f,") {
		t.Errorf("unexpected measurements:\n%s", meas)
	}
	sum := read(t, b.Files.Path(b.Files.Summary))
	if !strings.Contains(sum, "Gray,2.200,") || !strings.Contains(sum, "--- End Summary ---") {
		t.Errorf("unexpected summary:\n%s", sum)
	}
	for _, f := range []string{b.Files.IdealCurve, b.Files.Curve} {
		if _, err := os.Stat(b.Files.Path(f)); err != nil {
			t.Error(err)
		}
	}
}

func TestRunSingleReleasesDevicesOnFailure(t *testing.T) {
	b, panel, m, rec := newBench(t)
	panel.Err = errors.New("console not answering")
	_, err := b.RunSingle(context.Background(), nil)
	var ae *sequencer.AcquisitionError
	if !errors.As(err, &ae) || ae.Stage != sequencer.StageStimulus {
		t.Fatalf("expected a stimulus AcquisitionError, got %v", err)
	}
	if panel.On() || m.closed != 1 || panel.Closes() != 1 {
		t.Error("expected the backlight stopped and both devices closed after a failure")
	}
	if len(rec.runs) != 1 || rec.runs[0] != "single ERROR" {
		t.Errorf("unexpected observations %v", rec.runs)
	}
	if _, err := os.Stat(b.Files.Path(b.Files.Summary)); !os.IsNotExist(err) {
		t.Error("expected no summary for a failed run")
	}
}

func TestRunRGBW(t *testing.T) {
	b, panel, m, rec := newBench(t)
	res, err := b.RunRGBW(context.Background(), []int{0, 32, 64, 128, 192, 255})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Samples) != 24 || rec.samples != 24 {
		t.Fatalf("expected 24 samples, got %d", len(res.Samples))
	}
	if len(res.Fits) != 4 {
		t.Fatalf("expected 4 channel fits, got %d", len(res.Fits))
	}
	for _, f := range res.Fits {
		if math.Abs(f.Gamma-2.2) > 0.001 {
			t.Errorf("%s: expected gamma 2.2, got %.4f", f.Channel, f.Gamma)
		}
	}
	wp := res.Report.WhitePoint
	if wp == nil || !wp.Pass || wp.Sample.Gray != 255 {
		t.Errorf("expected a passing white point at gray 255, got %+v", wp)
	}
	if !res.Report.Pass || m.closed != 1 || panel.Closes() != 1 {
		t.Error("expected a passing run with both devices released")
	}
	if !strings.Contains(read(t, b.Files.Path(b.Files.WhitePoint)), ",PASS") {
		t.Error("expected a PASS white point record")
	}
	if !strings.HasPrefix(read(t, b.Files.Path(b.Files.FITS)), "SIMPLE") {
		t.Error("expected a FITS sample table")
	}
	if _, err := os.Stat(b.Files.Path(b.Files.RGBW)); err != nil {
		t.Error(err)
	}
}

func TestRunRGBWUnknownSKUFails(t *testing.T) {
	b, _, _, _ := newBench(t)
	b.SKU = "OTHER"
	res, err := b.RunRGBW(context.Background(), []int{0, 128, 255})
	if err != nil {
		t.Fatal(err)
	}
	wp := res.Report.WhitePoint
	if wp == nil || wp.Applicable || wp.Reason != validate.ReasonSpecNotFound || res.Report.Pass {
		t.Errorf("expected a not applicable white point FAIL, got %+v", wp)
	}
}

func TestGammaVoltage(t *testing.T) {
	b, _, _, _ := newBench(t)
	if _, err := b.RunSingle(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	write(t, b.Files.Path(b.Files.VCOM), "VCM,VRH\n3A,1F\n")
	var params strings.Builder
	params.WriteString("Index,Value\n")
	for i := 0; i < gammavolt.Taps; i++ {
		fmt.Fprintf(&params, "%d,%X\n", i, 0x20)
	}
	write(t, b.Files.Path(b.Files.GammaParams), params.String())

	e := &gammavolt.Mock{}
	regs, err := b.GammaVoltage(context.Background(), e)
	if err != nil {
		t.Fatal(err)
	}
	if len(regs) != 2+gammavolt.Taps || regs[0] != 0x3a || regs[len(regs)-1] != 0x20 {
		t.Errorf("unexpected registers %v", regs)
	}
	if !strings.HasPrefix(read(t, b.Files.Path(b.Files.GammaOut)), "Index,Value\n0,3A\n1,1F\n") {
		t.Error("unexpected gamma_out record")
	}
}

func TestHTTPBench(t *testing.T) {
	b, _, _, _ := newBench(t)
	l := locker.New()
	h := calib.NewHTTPBench(b, l, nil)
	rt := h.RT()
	route := func(method, path string) http.HandlerFunc {
		return rt[generichttp.MethodPath{Method: method, Path: path}]
	}

	var samples []gamma.Sample
	for i, g := range []int{0, 64, 128, 192, 255} {
		samples = append(samples, gamma.Sample{Index: i, Channel: gamma.Gray, Gray: g, Luminance: 250 * math.Pow(float64(g)/255, 2.2)})
	}
	body, _ := json.Marshal(samples)
	w := httptest.NewRecorder()
	route("POST", "/fit")(w, httptest.NewRequest("POST", "/fit", bytes.NewReader(body)))
	if w.Code != 200 {
		t.Fatalf("fit: %d %s", w.Code, w.Body.String())
	}
	var fr calib.FitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &fr); err != nil {
		t.Fatal(err)
	}
	if !fr.Report.Pass || len(fr.Fits) != 1 {
		t.Errorf("unexpected fit response %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	route("GET", "/report")(w, httptest.NewRequest("GET", "/report", nil))
	if w.Code != 200 || !strings.HasPrefix(w.Body.String(), "--- Summary ---") {
		t.Errorf("report: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	route("POST", "/fit")(w, httptest.NewRequest("POST", "/fit", strings.NewReader(`[{"gray":300,"lv":1}]`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed sample, got %d", w.Code)
	}

	l.Lock()
	w = httptest.NewRecorder()
	route("POST", "/sweep/gray")(w, httptest.NewRequest("POST", "/sweep/gray", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423 while locked, got %d", w.Code)
	}
	l.Unlock()

	w = httptest.NewRecorder()
	route("POST", "/sweep/rgbw")(w, httptest.NewRequest("POST", "/sweep/rgbw", strings.NewReader(`{"levels":[0,128,255]}`)))
	if w.Code != 200 || l.Locked() {
		t.Errorf("sweep: %d %s, locked=%v", w.Code, w.Body.String(), l.Locked())
	}

	w = httptest.NewRecorder()
	route("POST", "/sku")(w, httptest.NewRequest("POST", "/sku", strings.NewReader(`{"str":"PANEL-9"}`)))
	if w.Code != 200 || b.Settings().SKU != "PANEL-9" {
		t.Errorf("set sku: %d, sku=%q", w.Code, b.Settings().SKU)
	}
	w = httptest.NewRecorder()
	route("POST", "/target")(w, httptest.NewRequest("POST", "/target", strings.NewReader(`{"f64":2.4}`)))
	if w.Code != 200 || b.SingleCheck.Target != 2.4 || b.MultiCheck.Target != 2.4 {
		t.Errorf("set target: %d, %+v %+v", w.Code, b.SingleCheck, b.MultiCheck)
	}
	w = httptest.NewRecorder()
	route("POST", "/brightness")(w, httptest.NewRequest("POST", "/brightness", strings.NewReader(`{"int":300}`)))
	if w.Code == 200 || b.Settings().Brightness != 255 {
		t.Errorf("expected an out of range brightness to be rejected, got %d, brightness=%d", w.Code, b.Settings().Brightness)
	}
	w = httptest.NewRecorder()
	route("GET", "/brightness")(w, httptest.NewRequest("GET", "/brightness", nil))
	if !strings.Contains(w.Body.String(), `"int":255`) {
		t.Errorf("get brightness: %s", w.Body.String())
	}
}

// gate holds every measurement until it is opened
type gate struct {
	*photometer.Emulator
	started chan struct{}
	open    chan struct{}
	once    sync.Once
}

func newGate(e *photometer.Emulator) *gate {
	return &gate{Emulator: e, started: make(chan struct{}), open: make(chan struct{})}
}

func (g *gate) Measure(ctx context.Context) (photometer.Reading, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.open:
	case <-ctx.Done():
		return photometer.Reading{}, ctx.Err()
	}
	return g.Emulator.Measure(ctx)
}

func TestBenchRunsOneThingAtATime(t *testing.T) {
	b, panel, _, rec := newBench(t)
	g := newGate(photometer.NewEmulator(panel, 250, 2.2, 1))
	b.Meter = g

	done := make(chan error, 1)
	go func() {
		_, err := b.RunRGBW(context.Background(), []int{0, 128, 255})
		done <- err
	}()
	<-g.started

	if _, err := b.RunSingle(context.Background(), nil); !errors.Is(err, calib.ErrBusy) {
		t.Errorf("second run: expected ErrBusy, got %v", err)
	}
	if _, _, err := b.Evaluate([]gamma.Sample{{Channel: gamma.Gray, Gray: 255, Luminance: 1}}); !errors.Is(err, calib.ErrBusy) {
		t.Errorf("offline fit: expected ErrBusy, got %v", err)
	}
	if err := b.Configure(func(s *calib.Settings) { s.SKU = "OTHER" }); !errors.Is(err, calib.ErrBusy) {
		t.Errorf("settings: expected ErrBusy, got %v", err)
	}
	if b.Settings().SKU != "panel-7" {
		t.Error("expected the settings to be readable and unchanged during a run")
	}

	close(g.open)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if len(rec.runs) != 1 || rec.runs[0] != "rgbw PASS" {
		t.Errorf("expected refused calls not to be reported as runs, got %v", rec.runs)
	}
	if err := b.Configure(func(s *calib.Settings) { s.SKU = "OTHER" }); err != nil || b.Settings().SKU != "OTHER" {
		t.Errorf("expected settings to apply after the run, got %v", err)
	}
}

func TestConfigureValidates(t *testing.T) {
	b, _, _, _ := newBench(t)
	if err := b.Configure(func(s *calib.Settings) { s.Target = 0 }); !errors.Is(err, validate.ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput for a zero target, got %v", err)
	}
	if err := b.Configure(func(s *calib.Settings) { s.Brightness = -1 }); !errors.Is(err, validate.ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput for a negative brightness, got %v", err)
	}
	if err := b.Configure(func(s *calib.Settings) { s.Target = 2.4 }); err != nil {
		t.Fatal(err)
	}
	if b.SingleCheck.Target != 2.4 || b.MultiCheck.Target != 2.4 || b.MultiCheck.Tolerance != validate.DefaultMulti.Tolerance {
		t.Errorf("expected the target of both checks to change, got %+v %+v", b.SingleCheck, b.MultiCheck)
	}
}

func TestHTTPBenchSecondSweepIsLockedAfterManualUnlock(t *testing.T) {
	b, panel, _, _ := newBench(t)
	g := newGate(photometer.NewEmulator(panel, 250, 2.2, 1))
	b.Meter = g
	l := locker.New()
	rt := calib.NewHTTPBench(b, l, nil).RT()
	sweep := rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/sweep/rgbw"}]

	first := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweep(first, httptest.NewRequest("POST", "/sweep/rgbw", strings.NewReader(`{"levels":[0,255]}`)))
	}()
	<-g.started

	l.Unlock()
	w := httptest.NewRecorder()
	sweep(w, httptest.NewRequest("POST", "/sweep/rgbw", strings.NewReader(`{"levels":[0,255]}`)))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423 for a second sweep, got %d %s", w.Code, w.Body.String())
	}
	w = httptest.NewRecorder()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/fit"}](w, httptest.NewRequest("POST", "/fit", strings.NewReader(`[{"gray":255,"lv":1}]`)))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423 for a fit during a sweep, got %d", w.Code)
	}

	close(g.open)
	<-done
	if first.Code != 200 {
		t.Errorf("first sweep: %d %s", first.Code, first.Body.String())
	}
}

func TestHTTPBenchSettingsAreSafeForConcurrentUse(t *testing.T) {
	b, _, _, _ := newBench(t)
	rt := calib.NewHTTPBench(b, locker.New(), nil).RT()
	route := func(method, path string) http.HandlerFunc {
		return rt[generichttp.MethodPath{Method: method, Path: path}]
	}
	var samples []gamma.Sample
	for i, g := range []int{0, 64, 128, 192, 255} {
		samples = append(samples, gamma.Sample{Index: i, Channel: gamma.Gray, Gray: g, Luminance: 250 * math.Pow(float64(g)/255, 2.2)})
	}
	fit, _ := json.Marshal(samples)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(4)
		go func(i int) {
			defer wg.Done()
			route("POST", "/sku")(httptest.NewRecorder(), httptest.NewRequest("POST", "/sku", strings.NewReader(fmt.Sprintf(`{"str":"PANEL-%d"}`, i))))
		}(i)
		go func() {
			defer wg.Done()
			route("POST", "/target")(httptest.NewRecorder(), httptest.NewRequest("POST", "/target", strings.NewReader(`{"f64":2.2}`)))
		}()
		go func() {
			defer wg.Done()
			route("GET", "/sku")(httptest.NewRecorder(), httptest.NewRequest("GET", "/sku", nil))
		}()
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			route("POST", "/fit")(w, httptest.NewRequest("POST", "/fit", bytes.NewReader(fit)))
			if w.Code != 200 && w.Code != http.StatusLocked {
				t.Errorf("fit: %d %s", w.Code, w.Body.String())
			}
		}()
	}
	wg.Wait()
	if b.Settings().Target != 2.2 {
		t.Errorf("unexpected target %v", b.Settings().Target)
	}
}
