package gamma

import (
	"encoding/json"
	"math"
	"strconv"
)

// NullFloat encodes NaN and infinities as JSON null, which encoding/json
// otherwise refuses to encode.  null decodes to NaN.
type NullFloat float64

// MarshalJSON satisfies json.Marshaler
func (f NullFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

// UnmarshalJSON satisfies json.Unmarshaler
func (f *NullFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = NullFloat(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = NullFloat(v)
	return nil
}

type fitResultJSON struct {
	fitResult
	Gamma    NullFloat `json:"gamma"`
	RMSError NullFloat `json:"rmsError"`
}

type fitResult FitResult

// MarshalJSON writes an unfittable gamma and RMS error as null
func (r FitResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(fitResultJSON{fitResult(r), NullFloat(r.Gamma), NullFloat(r.RMSError)})
}

// UnmarshalJSON reads null gamma and RMS error as NaN
func (r *FitResult) UnmarshalJSON(b []byte) error {
	var aux fitResultJSON
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*r = FitResult(aux.fitResult)
	r.Gamma, r.RMSError = float64(aux.Gamma), float64(aux.RMSError)
	return nil
}
