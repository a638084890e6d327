package photometer_test

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/labdisplay/gammacal/generichttp"
	"github.com/labdisplay/gammacal/photometer"
	"github.com/labdisplay/gammacal/stimulus"
)

// scriptLine answers commands from a table and records them
type scriptLine struct {
	replies map[string]string
	sent    []string
	open    bool
}

func (s *scriptLine) Open(ctx context.Context) error { s.open = true; return nil }
func (s *scriptLine) Close() error                   { s.open = false; return nil }
func (s *scriptLine) SendRecv(b []byte) ([]byte, error) {
	cmd := string(b)
	s.sent = append(s.sent, cmd)
	if cmd == "MES" {
		// MDS selects which triple MES returns
		for i := len(s.sent) - 2; i >= 0; i-- {
			if strings.HasPrefix(s.sent[i], "MDS") {
				return []byte(s.replies[s.sent[i]+"/MES"]), nil
			}
		}
	}
	if r, ok := s.replies[cmd]; ok {
		return []byte(r), nil
	}
	return []byte("ER00"), nil
}

func newScript() *scriptLine {
	return &scriptLine{replies: map[string]string{
		"COM,1":     "OK00",
		"COM,0":     "OK00",
		"MDS,0":     "OK00",
		"MDS,1":     "OK00",
		"MDS,0/MES": "OK00,P1,0.3127,0.3290,123.45",
		"MDS,1/MES": "OK00,P1 6504;0.0032;123.45",
	}}
}

func TestCALifecycle(t *testing.T) {
	line := newScript()
	ca := photometer.NewCA(line)
	ctx := context.Background()
	if err := ca.Open(ctx); err != nil {
		t.Fatal(err)
	}
	r, err := ca.Measure(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := photometer.Reading{Lv: 123.45, X: 0.3127, Y: 0.3290, T: 6504, Duv: 0.0032}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("reading mismatch (-want +got):\n%s", diff)
	}
	if err := ca.Close(); err != nil {
		t.Fatal(err)
	}
	wantCmds := []string{"COM,1", "MDS,0", "MES", "MDS,1", "MES", "COM,0"}
	if diff := cmp.Diff(wantCmds, line.sent); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
	if line.open {
		t.Error("expected Close to release the line")
	}
}

func TestCAErrorCodes(t *testing.T) {
	line := newScript()
	line.replies["MDS,0/MES"] = "ER10"
	ca := photometer.NewCA(line)
	ctx := context.Background()
	if err := ca.Open(ctx); err != nil {
		t.Fatal(err)
	}
	defer ca.Close()
	_, err := ca.Measure(ctx)
	var caErr photometer.CAError
	if !errors.As(err, &caErr) || caErr.Code != 10 {
		t.Fatalf("expected CAError 10, got %v", err)
	}
	if !strings.Contains(caErr.Error(), "OVER MEASUREMENT RANGE") {
		t.Errorf("expected the code to be described, got %q", caErr.Error())
	}
}

func TestCAMeasureRequiresRemoteMode(t *testing.T) {
	ca := photometer.NewCA(newScript())
	if _, err := ca.Measure(context.Background()); err == nil {
		t.Error("expected Measure before Open to fail")
	}
}

func TestCARejectsGarbage(t *testing.T) {
	line := newScript()
	line.replies["MDS,0/MES"] = "hello"
	ca := photometer.NewCA(line)
	ctx := context.Background()
	ca.Open(ctx)
	defer ca.Close()
	if _, err := ca.Measure(ctx); errors.Cause(err) != photometer.ErrBadResponse {
		t.Errorf("expected ErrBadResponse, got %v", err)
	}
}

func TestEmulatorFollowsStimulus(t *testing.T) {
	panel := stimulus.NewMock()
	emu := photometer.NewEmulator(panel, 250, 2.4, 7)
	ctx := context.Background()
	for _, gray := range []uint8{0, 64, 128, 255} {
		panel.SetColor(ctx, stimulus.Gray(gray))
		r, err := emu.Measure(ctx)
		if err != nil {
			t.Fatal(err)
		}
		want := 250 * math.Pow(float64(gray)/255, 2.4)
		if math.Abs(r.Lv-want) > 1e-9 {
			t.Errorf("gray %d: expected Lv %v, got %v", gray, want, r.Lv)
		}
		if r.X < 0.30 || r.X > 0.32 || r.Y < 0.32 || r.Y > 0.34 {
			t.Errorf("gray %d: chromaticity (%v, %v) outside the emulated range", gray, r.X, r.Y)
		}
		if r.T < 6300 || r.T > 6700 || r.Duv < 0 || r.Duv > 0.01 {
			t.Errorf("gray %d: T=%v duv=%v outside the emulated range", gray, r.T, r.Duv)
		}
	}
}

func TestEmulatorIsReproducible(t *testing.T) {
	panel := stimulus.NewMock()
	a := photometer.NewEmulator(panel, 0, 0, 42)
	b := photometer.NewEmulator(panel, 0, 0, 42)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ra, _ := a.Measure(ctx)
		rb, _ := b.Measure(ctx)
		if ra != rb {
			t.Fatalf("reading %d differs: %v vs %v", i, ra, rb)
		}
	}
}

func TestEmulatorSingleChannelIsScaledPowerLaw(t *testing.T) {
	emu := photometer.NewEmulator(nil, 250, 2.2, 1)
	red := emu.Luminance(stimulus.RGB{R: 255})
	half := emu.Luminance(stimulus.RGB{R: 128})
	if got := half / red; math.Abs(got-math.Pow(128.0/255, 2.2)) > 1e-12 {
		t.Errorf("expected the red channel to follow the power law, ratio %v", got)
	}
}

func TestDialFallsBackToEmulator(t *testing.T) {
	cfg := photometer.DefaultConfig
	cfg.Transport = "tcp"
	cfg.Addr = "127.0.0.1:1"
	m, err := photometer.Dial(context.Background(), cfg, stimulus.NewMock())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.(*photometer.Emulator); !ok {
		t.Errorf("expected an emulator, got %T", m)
	}

	cfg.Fallback = false
	if _, err := photometer.Dial(context.Background(), cfg, nil); err == nil {
		t.Error("expected an error without fallback")
	}
}

func TestHTTPMeter(t *testing.T) {
	panel := stimulus.NewMock()
	panel.SetColor(context.Background(), stimulus.Gray(255))
	h := photometer.NewHTTPMeter(photometer.NewEmulator(panel, 200, 2.2, 1), nil)
	get := h.RT()[generichttp.MethodPath{Method: http.MethodGet, Path: "/measure"}]
	w := httptest.NewRecorder()
	get(w, httptest.NewRequest(http.MethodGet, "/measure", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"lv":200`) {
		t.Errorf("unexpected response %d %s", w.Code, w.Body.String())
	}

	emu := h.RT()[generichttp.MethodPath{Method: http.MethodGet, Path: "/emulated"}]
	w = httptest.NewRecorder()
	emu(w, httptest.NewRequest(http.MethodGet, "/emulated", nil))
	if !strings.Contains(w.Body.String(), `"bool":true`) {
		t.Errorf("expected the emulator to report itself, got %s", w.Body.String())
	}
}
