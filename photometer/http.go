package photometer

import (
	"net/http"

	"github.com/labdisplay/gammacal/generichttp"
	"github.com/labdisplay/gammacal/generichttp/ascii"
	"github.com/labdisplay/gammacal/server"
)

// HTTPMeter wraps a Meter in an HTTP route table
type HTTPMeter struct {
	// Meter is the underlying photometer
	Meter Meter

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPMeter returns a new HTTP wrapper around a meter.  mw, if not nil,
// wraps GET /measure; the bench uses it for rate limiting.
func NewHTTPMeter(m Meter, mw func(http.Handler) http.Handler) HTTPMeter {
	h := HTTPMeter{Meter: m}
	var measure http.Handler = http.HandlerFunc(h.Measure)
	if mw != nil {
		measure = mw(measure)
	}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/measure"}:  measure.ServeHTTP,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/emulated"}: generichttp.GetBool(h.emulated),
	}
	if raw, ok := m.(ascii.RawCommunicator); ok {
		ascii.InjectRawComm(rt, raw)
	}
	h.RouteTable = rt
	return h
}

// emulated reports if the meter is the emulator, e.g. after a fallback
func (h HTTPMeter) emulated() (bool, error) {
	_, ok := h.Meter.(*Emulator)
	return ok, nil
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPMeter) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Measure takes a reading and returns it as JSON.  The meter is opened
// first, since a calibration run releases it when it finishes.
func (h HTTPMeter) Measure(w http.ResponseWriter, r *http.Request) {
	if err := h.Meter.Open(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	rd, err := h.Meter.Measure(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	server.EncodeJSON(w, rd)
}
