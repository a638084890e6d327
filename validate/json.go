package validate

import (
	"encoding/json"

	"github.com/labdisplay/gammacal/gamma"
)

type gammaVerdict GammaVerdict

// MarshalJSON writes the gamma, RMS error, and deviation of an unfittable
// channel as null
func (gv GammaVerdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		gammaVerdict
		Gamma     gamma.NullFloat `json:"gamma"`
		RMSError  gamma.NullFloat `json:"rmsError"`
		Deviation gamma.NullFloat `json:"deviation"`
	}{gammaVerdict(gv), gamma.NullFloat(gv.Gamma), gamma.NullFloat(gv.RMSError), gamma.NullFloat(gv.Deviation)})
}
