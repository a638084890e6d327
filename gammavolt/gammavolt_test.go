package gammavolt_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/labdisplay/gammacal/gammavolt"
	"github.com/labdisplay/gammacal/records"
)

func taps() ([]int, []float64) {
	p := make([]int, gammavolt.Taps)
	l := make([]float64, gammavolt.Taps)
	for i := range p {
		p[i] = 100
		l[i] = float64(i+1) * 10
	}
	return p, l
}

func TestCalibrateCallOrder(t *testing.T) {
	m := &gammavolt.Mock{}
	p, l := taps()
	out, err := gammavolt.Calibrate(context.Background(), m, records.VCOM{VCM: 0x3a, VRH: 0x1f}, p, l)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"LoadVCOM", "LoadGammaParams", "CalcVoltage", "LoadLuminance", "Calculate"}
	if diff := cmp.Diff(want, m.Calls); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
	if len(out) != 2+gammavolt.Taps || out[0] != 0x3a || out[len(out)-1] != 100 || out[2] != 6 {
		t.Errorf("unexpected registers %v", out)
	}
}

func TestCalibrateNeedsSixteen(t *testing.T) {
	m := &gammavolt.Mock{}
	p, l := taps()
	_, err := gammavolt.Calibrate(context.Background(), m, records.VCOM{}, p, l[:15])
	if !errors.Is(err, gammavolt.ErrTaps) {
		t.Errorf("expected ErrTaps, got %v", err)
	}
	_, err = gammavolt.Calibrate(context.Background(), m, records.VCOM{}, p[:3], l)
	if !errors.Is(err, gammavolt.ErrTaps) {
		t.Errorf("expected ErrTaps, got %v", err)
	}
	if len(m.Calls) != 0 {
		t.Error("expected the engine not to be touched")
	}
}

func TestExecEngineOutOfOrder(t *testing.T) {
	e := gammavolt.NewExecEngine("true")
	if _, err := e.Calculate(context.Background()); err == nil {
		t.Error("expected Calculate before loading to fail")
	}
}

func helper(t *testing.T, body string) string {
	if runtime.GOOS == "windows" {
		t.Skip("helper scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "helper.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\ncat > /dev/null\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecEngineRunsHelper(t *testing.T) {
	e := gammavolt.NewExecEngine(helper(t, `echo '{"registers":[58,31,1,2]}'`+"\n"))
	p, l := taps()
	out, err := gammavolt.Calibrate(context.Background(), e, records.VCOM{VCM: 58, VRH: 31}, p, l)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{58, 31, 1, 2}, out); diff != "" {
		t.Error(diff)
	}
}

func TestExecEngineReportsHelperErrors(t *testing.T) {
	p, l := taps()
	e := gammavolt.NewExecEngine(helper(t, `echo '{"error":"tap 3 out of range"}'`+"\n"))
	if _, err := gammavolt.Calibrate(context.Background(), e, records.VCOM{}, p, l); err == nil {
		t.Error("expected the helper's error to be returned")
	}
	e = gammavolt.NewExecEngine(helper(t, "echo broken >&2\nexit 3\n"))
	if _, err := gammavolt.Calibrate(context.Background(), e, records.VCOM{}, p, l); err == nil {
		t.Error("expected a failing helper to return an error")
	}
}
