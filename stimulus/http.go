package stimulus

import (
	"context"
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/labdisplay/gammacal/generichttp"
	"github.com/labdisplay/gammacal/generichttp/ascii"
	"github.com/labdisplay/gammacal/server"
)

// HTTPPanel wraps a Panel in an HTTP route table
type HTTPPanel struct {
	// Panel is the underlying display
	Panel Panel

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPPanel returns a new HTTP wrapper around a panel.  If the panel
// can report its color, GET /color is served; if it speaks a raw
// console, POST /raw is served.
func NewHTTPPanel(p Panel) HTTPPanel {
	h := HTTPPanel{Panel: p}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodPost, Path: "/color"}:      h.SetColor,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/brightness"}: generichttp.SetInt(func(i int) error { return p.SetBrightness(context.Background(), i) }),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/backlight"}:  generichttp.SetBool(h.setBacklight),
	}
	if cs, ok := p.(ColorSource); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/color"}] = generichttp.GetString(func() (string, error) { return cs.Current().Hex(), nil })
	}
	if raw, ok := p.(ascii.RawCommunicator); ok {
		ascii.InjectRawComm(rt, raw)
	}
	h.RouteTable = rt
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPPanel) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPPanel) setBacklight(on bool) error {
	if on {
		return h.Panel.Start(context.Background())
	}
	return h.Panel.Stop(context.Background())
}

// SetColor accepts {"str": "0xRRGGBB"} or {"r": .., "g": .., "b": ..}
func (h HTTPPanel) SetColor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		server.StrT
		RGB
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c := body.RGB
	if body.Str != "" {
		c, err = ParseHex(body.Str)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err = h.Panel.SetColor(r.Context(), c); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := server.HumanPayload{T: types.String, String: c.Hex()}
	hp.EncodeAndRespond(w, r)
}
