package calib

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/labdisplay/gammacal/gamma"
	"github.com/labdisplay/gammacal/gammavolt"
	"github.com/labdisplay/gammacal/generichttp"
	"github.com/labdisplay/gammacal/records"
	"github.com/labdisplay/gammacal/sequencer"
	"github.com/labdisplay/gammacal/server"
	"github.com/labdisplay/gammacal/server/middleware/locker"
	"github.com/labdisplay/gammacal/validate"
)

// SweepRequest is the optional body of the sweep routes.  Without levels the
// plan file is used.
type SweepRequest struct {
	Levels []int `json:"levels"`
}

// FitResponse is the reply of POST /fit
type FitResponse struct {
	Fits   []gamma.FitResult `json:"fits"`
	Report validate.Report   `json:"report"`
}

// HTTPBench wraps a Bench in an HTTP route table.  A sweep holds Lock for
// its whole length, so that the device routes sharing it answer 423.  Lock
// can be cleared by an operator; the bench itself still refuses a second run
// with 423.
type HTTPBench struct {
	Bench  *Bench
	Lock   *locker.Locker
	Engine gammavolt.Engine

	RouteTable generichttp.RouteTable
}

// NewHTTPBench returns a new HTTP wrapper.  engine may be nil, in which case
// there is no /gammavolt route.
func NewHTTPBench(b *Bench, l *locker.Locker, engine gammavolt.Engine) HTTPBench {
	h := HTTPBench{Bench: b, Lock: l, Engine: engine}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/sweep/gray"}: h.SweepGray,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/sweep/rgbw"}: h.SweepRGBW,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/fit"}:        h.Fit,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/report"}:      h.Report,

		generichttp.MethodPath{Method: http.MethodGet, Path: "/sku"}:         generichttp.GetString(func() (string, error) { return b.Settings().SKU, nil }),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/sku"}:        generichttp.SetString(h.setSKU),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/target"}:      generichttp.GetFloat(func() (float64, error) { return b.Settings().Target, nil }),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/target"}:     generichttp.SetFloat(h.setTarget),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/brightness"}:  generichttp.GetInt(func() (int, error) { return b.Settings().Brightness, nil }),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/brightness"}: generichttp.SetInt(h.setBrightness),
	}
	if engine != nil {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/gammavolt"}] = h.GammaVolt
	}
	locker.Inject(rt, l)
	h.RouteTable = rt
	return h
}

func (h HTTPBench) setSKU(sku string) error {
	return h.Bench.Configure(func(s *Settings) { s.SKU = sku })
}

// setTarget changes the target gamma of both checks
func (h HTTPBench) setTarget(g float64) error {
	return h.Bench.Configure(func(s *Settings) { s.Target = g })
}

func (h HTTPBench) setBrightness(level int) error {
	return h.Bench.Configure(func(s *Settings) { s.Brightness = level })
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPBench) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPBench) acquire(w http.ResponseWriter) bool {
	if !h.Lock.TryLock() {
		http.Error(w, "bench is busy", http.StatusLocked)
		return false
	}
	return true
}

func decodeSweep(w http.ResponseWriter, r *http.Request) (SweepRequest, bool) {
	var req SweepRequest
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil && err != io.EOF {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// SweepGray runs a single channel calibration
func (h HTTPBench) SweepGray(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSweep(w, r)
	if !ok || !h.acquire(w) {
		return
	}
	defer h.Lock.Unlock()
	var plan *records.Plan
	if req.Levels != nil {
		p := records.Plan{Header: records.DefaultPlanHeader}
		for _, g := range req.Levels {
			p.Levels = append(p.Levels, records.GrayLevel{Gray: g})
		}
		plan = &p
	}
	res, err := h.Bench.RunSingle(r.Context(), plan)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	server.EncodeJSON(w, res)
}

// SweepRGBW runs a multi channel calibration
func (h HTTPBench) SweepRGBW(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSweep(w, r)
	if !ok || !h.acquire(w) {
		return
	}
	defer h.Lock.Unlock()
	res, err := h.Bench.RunRGBW(r.Context(), req.Levels)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	server.EncodeJSON(w, res)
}

// Fit evaluates a JSON array of samples
func (h HTTPBench) Fit(w http.ResponseWriter, r *http.Request) {
	var samples []gamma.Sample
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&samples); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rep, fits, err := h.Bench.Evaluate(samples)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	server.EncodeJSON(w, FitResponse{Fits: fits, Report: rep})
}

// Report serves the summary record of the most recent run
func (h HTTPBench) Report(w http.ResponseWriter, r *http.Request) {
	f := h.Bench.Files
	server.ReplyWithFile(w, r, f.Summary, f.Dir)
}

// GammaVolt runs the gamma voltage engine over the last measurements
func (h HTTPBench) GammaVolt(w http.ResponseWriter, r *http.Request) {
	if !h.acquire(w) {
		return
	}
	defer h.Lock.Unlock()
	regs, err := h.Bench.GammaVoltage(r.Context(), h.Engine)
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	server.EncodeJSON(w, regs)
}

// statusOf maps run errors to HTTP status codes
func statusOf(err error) int {
	var ae *sequencer.AcquisitionError
	switch {
	case errors.Is(err, ErrBusy):
		return http.StatusLocked
	case errors.Is(err, validate.ErrMalformedInput),
		errors.Is(err, gamma.ErrMalformedSample),
		errors.Is(err, gammavolt.ErrTaps),
		errors.Is(err, records.ErrFormat):
		return http.StatusBadRequest
	case errors.As(err, &ae):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
