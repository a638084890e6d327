package gammavolt

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/labdisplay/gammacal/records"
)

// Request is what ExecEngine sends to the helper on stdin
type Request struct {
	VCM       int           `json:"vcm"`
	VRH       int           `json:"vrh"`
	Gamma     [Taps]int     `json:"gamma"`
	Luminance [Taps]float64 `json:"luminance"`
}

// Response is what the helper writes to stdout
type Response struct {
	Registers []int  `json:"registers"`
	Error     string `json:"error,omitempty"`
}

// ExecEngine runs an external helper that wraps the vendor library.  The
// loading calls only accumulate a Request; Calculate starts the helper once,
// writes the request as JSON, and reads a Response from its stdout.
type ExecEngine struct {
	Command string
	Args    []string

	req   Request
	state int
}

// NewExecEngine returns an engine that runs command, which is split on spaces
func NewExecEngine(command string) *ExecEngine {
	f := strings.Fields(command)
	e := &ExecEngine{}
	if len(f) > 0 {
		e.Command, e.Args = f[0], f[1:]
	}
	return e
}

const (
	stInit = iota
	stVCOM
	stParams
	stVoltage
	stLum
)

func (e *ExecEngine) step(from, to int, name string) error {
	if e.state != from {
		return errors.Errorf("gammavolt: %s called out of order", name)
	}
	e.state = to
	return nil
}

// LoadVCOM stores the vcom registers
func (e *ExecEngine) LoadVCOM(ctx context.Context, v records.VCOM) error {
	e.state = stInit
	e.req = Request{VCM: v.VCM, VRH: v.VRH}
	return e.step(stInit, stVCOM, "LoadVCOM")
}

// LoadGammaParams stores the gamma taps
func (e *ExecEngine) LoadGammaParams(ctx context.Context, p [Taps]int) error {
	e.req.Gamma = p
	return e.step(stVCOM, stParams, "LoadGammaParams")
}

// CalcVoltage marks the voltage stage; the helper performs it
func (e *ExecEngine) CalcVoltage(ctx context.Context) error {
	return e.step(stParams, stVoltage, "CalcVoltage")
}

// LoadLuminance stores the measured luminance
func (e *ExecEngine) LoadLuminance(ctx context.Context, l [Taps]float64) error {
	e.req.Luminance = l
	return e.step(stVoltage, stLum, "LoadLuminance")
}

// Calculate runs the helper
func (e *ExecEngine) Calculate(ctx context.Context) ([]int, error) {
	if err := e.step(stLum, stInit, "Calculate"); err != nil {
		return nil, err
	}
	if e.Command == "" {
		return nil, errors.New("gammavolt: no helper command configured")
	}
	in, err := json.Marshal(e.req)
	if err != nil {
		return nil, err
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Stdin = bytes.NewReader(in)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.WithField("command", e.Command).Debug("running gamma voltage helper")
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "gamma voltage helper: %s", strings.TrimSpace(stderr.String()))
	}
	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, errors.Wrap(err, "decoding gamma voltage helper output")
	}
	if resp.Error != "" {
		return nil, errors.Errorf("gamma voltage helper: %s", resp.Error)
	}
	return resp.Registers, nil
}
